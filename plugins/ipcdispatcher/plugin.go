// Package ipcdispatcher implements Amadeus's IPC Dispatcher plugin: the
// bridge between the internal message bus and an external zero-copy
// shared-memory transport. It is grounded in the teacher's eventbus
// Stats() counters and observer wiring (modules/eventbus), adapted to a
// two-directional forwarder instead of an in-process-only event bus.
package ipcdispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	amadeus "github.com/amadeus-bus/amadeus"
	"github.com/amadeus-bus/amadeus/internal/shmipc"
)

// Identity is the fixed plugin identity IpcDispatcherPlugin registers
// under.
const Identity = "ipc-dispatcher"

// Topics reserved by the dispatcher, per §6.
const (
	TopicStatus = "system.dispatcher.status"
	TopicStats  = "system.dispatcher.stats"
)

// defaultRetries is the default retry budget for a single outbound send,
// per §4.7.
const defaultRetries = 3

// Config bundles IpcDispatcherPlugin's tunables.
type Config struct {
	// ShmPath is the base backing file for the shared-memory transport.
	// The dispatcher opens two distinct ring segments derived from it
	// (ShmPath+".out" for outbound, ShmPath+".in" for inbound) so the
	// outbound and inbound halves of the bridge never read back each
	// other's writes — see the outTrans/inTrans split below.
	ShmPath string

	// TopicFilter restricts which broadcast topics are forwarded
	// outbound. An empty filter matches every topic.
	TopicFilter []string

	// Retries overrides defaultRetries when > 0.
	Retries int

	// PollInterval controls how often the inbound side polls the
	// transport for new records.
	PollInterval time.Duration
}

// IpcDispatcherPlugin is Amadeus's Privileged bus↔shared-memory bridge.
// outTrans and inTrans are deliberately separate ring segments: using one
// shared ring for both directions would mean the inbound loop reads back
// records the outbound loop just wrote, re-injecting the dispatcher's own
// forwarded traffic onto the bus in an unbounded feedback loop.
type IpcDispatcherPlugin struct {
	cfg      Config
	log      amadeus.Logger
	mc       *amadeus.MessageContext
	outTrans *shmipc.Transport
	inTrans  *shmipc.Transport

	filter map[string]bool

	sent, retried, dropped atomic.Uint64
	degraded               atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an unstarted IpcDispatcherPlugin.
func New(cfg Config, log amadeus.Logger) *IpcDispatcherPlugin {
	if log == nil {
		log = amadeus.NewNoopLogger()
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.ShmPath == "" {
		cfg.ShmPath = "amadeus.shm"
	}

	filter := make(map[string]bool, len(cfg.TopicFilter))
	for _, t := range cfg.TopicFilter {
		filter[t] = true
	}

	return &IpcDispatcherPlugin{cfg: cfg, log: log, filter: filter}
}

func (p *IpcDispatcherPlugin) Identity() string { return Identity }

func (p *IpcDispatcherPlugin) Metadata() amadeus.PluginMetadata {
	return amadeus.PluginMetadata{
		Name:             "IPC Dispatcher",
		Description:      "Bridges the internal bus to the external zero-copy IPC transport",
		Version:          "1.0.0",
		EnabledByDefault: true,
		Priority:         90,
		PluginType:       amadeus.Privileged,
	}
}

func (p *IpcDispatcherPlugin) SetupMessaging(mc *amadeus.MessageContext) error {
	p.mc = mc
	return nil
}

func (p *IpcDispatcherPlugin) Init(ctx context.Context) error {
	outTrans, err := shmipc.OpenFile(p.cfg.ShmPath + ".out")
	if err != nil {
		return err
	}
	inTrans, err := shmipc.OpenFile(p.cfg.ShmPath + ".in")
	if err != nil {
		_ = outTrans.Close()
		return err
	}
	p.outTrans = outTrans
	p.inTrans = inTrans
	return nil
}

func (p *IpcDispatcherPlugin) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	tap, cancelTap, err := p.mc.SubscribeAll()
	if err != nil {
		return err
	}

	p.serveStats(runCtx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancelTap()
		p.runOutbound(runCtx, tap)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runInbound(runCtx)
	}()

	return nil
}

func (p *IpcDispatcherPlugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	var outErr, inErr error
	if p.outTrans != nil {
		outErr = p.outTrans.Close()
	}
	if p.inTrans != nil {
		inErr = p.inTrans.Close()
	}
	if outErr != nil {
		return outErr
	}
	return inErr
}

func (p *IpcDispatcherPlugin) matches(topic string) bool {
	if len(p.filter) == 0 {
		return true
	}
	return p.filter[topic]
}

// runOutbound serializes every matching, non-direct broadcast message to
// the outbound shared memory ring, retrying transient send failures with
// exponential backoff before giving up and counting a drop.
func (p *IpcDispatcherPlugin) runOutbound(ctx context.Context, tap <-chan amadeus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-tap:
			if !ok {
				return
			}
			if msg.IsDirect() || !p.matches(msg.Topic) {
				continue
			}
			p.sendWithRetry(msg)
		}
	}
}

func (p *IpcDispatcherPlugin) sendWithRetry(msg amadeus.Message) {
	rec, err := toRecord(msg)
	if err != nil {
		p.log.Warn("dropping oversize/unencodable message", "topic", msg.Topic, "err", err.Error())
		p.dropped.Add(1)
		return
	}

	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			p.retried.Add(1)
			time.Sleep(backoff)
			backoff *= 2
		}
		if lastErr = p.outTrans.Send(rec); lastErr == nil {
			p.sent.Add(1)
			p.setDegraded(false)
			return
		}
		if errors.Is(lastErr, amadeus.ErrIPCTooLarge) {
			p.log.Warn("dropping oversize/unencodable message", "topic", msg.Topic, "err", lastErr.Error())
			p.dropped.Add(1)
			return
		}
	}

	p.dropped.Add(1)
	p.setDegraded(true)
	p.log.Error("ipc send failed after retries", "topic", msg.Topic, "err", lastErr.Error())
}

// runInbound drains the inbound shared memory ring — a distinct segment
// from the one runOutbound writes to, so this never reads back the
// dispatcher's own forwarded traffic — and re-injects each record as an
// internal message, stamping source to this plugin's identity.
func (p *IpcDispatcherPlugin) runInbound(ctx context.Context) {
	for {
		rec, err := p.inTrans.Recv(ctx, p.cfg.PollInterval)
		if err != nil {
			return
		}
		msg := fromRecord(rec)
		if err := p.mc.Send(msg); err != nil {
			p.log.Warn("failed to inject inbound ipc message", "topic", msg.Topic, "err", err.Error())
		}
	}
}

// setDegraded broadcasts a status transition as a CloudEvent payload, the
// same event-shaped format the teacher uses for its own internal
// notifications (observer_cloudevents.go), carried here as an ordinary
// bus message rather than routed through a separate ambient channel.
func (p *IpcDispatcherPlugin) setDegraded(v bool) {
	if p.degraded.Swap(v) == v {
		return
	}
	state := "healthy"
	if v {
		state = "degraded"
	}

	evt := cloudevents.NewEvent()
	evt.SetID(uuid.NewString())
	evt.SetSource("amadeus/ipc-dispatcher")
	evt.SetType("com.amadeus.dispatcher.status")
	evt.SetTime(time.Now())
	evt.SetSpecVersion(cloudevents.VersionV1)
	_ = evt.SetData(cloudevents.ApplicationJSON, map[string]string{"state": state})

	if err := p.mc.Send(amadeus.Message{Topic: TopicStatus, Payload: evt}); err != nil {
		p.log.Warn("failed to broadcast dispatcher status", "err", err.Error())
	}
}

// serveStats answers system.dispatcher.stats queries with the
// supplemented sent/retried/dropped counters (grounded in the teacher's
// eventbus.Stats()).
func (p *IpcDispatcherPlugin) serveStats(ctx context.Context) {
	ch, cancel := p.mc.Subscribe(TopicStats)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				p.reply()
			}
		}
	}()
}

func (p *IpcDispatcherPlugin) reply() {
	payload := map[string]any{
		"sent":    p.sent.Load(),
		"retried": p.retried.Load(),
		"dropped": p.dropped.Load(),
	}
	if err := p.mc.Send(amadeus.Message{Topic: TopicStats + ".reply", Payload: payload}); err != nil {
		p.log.Warn("failed to reply with dispatcher stats", "err", err.Error())
	}
}

func priorityToByte(pr amadeus.Priority) byte {
	switch pr {
	case amadeus.PriorityHigh:
		return 2
	case amadeus.PriorityLow:
		return 0
	default:
		return 1
	}
}

func byteToPriority(b byte) amadeus.Priority {
	switch b {
	case 2:
		return amadeus.PriorityHigh
	case 0:
		return amadeus.PriorityLow
	default:
		return amadeus.PriorityNormal
	}
}

func toRecord(msg amadeus.Message) (shmipc.Record, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return shmipc.Record{}, amadeus.ErrMalformedPayload
	}
	return shmipc.Record{
		Topic:     msg.Topic,
		Payload:   payload,
		Priority:  priorityToByte(msg.Priority),
		Timestamp: msg.CreatedAt.Unix(),
		Source:    msg.Source,
	}, nil
}

func fromRecord(rec shmipc.Record) amadeus.Message {
	var payload any
	_ = json.Unmarshal(rec.Payload, &payload)
	return amadeus.Message{
		Topic:     rec.Topic,
		Payload:   payload,
		Priority:  byteToPriority(rec.Priority),
		CreatedAt: time.Unix(rec.Timestamp, 0),
		Source:    Identity,
	}
}

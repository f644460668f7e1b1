package amadeus

import (
	"strings"
	"sync"
)

const (
	// defaultBroadcastLagTolerance bounds how far a single broadcast
	// subscriber may fall behind before messages for it are dropped
	// (reported as a lag rather than blocking the router). See §5.
	defaultBroadcastLagTolerance = 256
)

// broadcastTopic is one topic's fan-out point: a set of independent
// per-subscriber channels. Modeled after the teacher's in-memory event
// bus (modules/eventbus MemoryEventBus), but simplified to the spec's
// no-wildcard, exact-topic-match rule and channel-based subscribers
// instead of callback handlers, since MessageContext.subscribe returns a
// receiver rather than registering a handler.
type broadcastTopic struct {
	mu   sync.RWMutex
	subs map[int]chan Message
	next int
}

func newBroadcastTopic() *broadcastTopic {
	return &broadcastTopic{subs: make(map[int]chan Message)}
}

func (t *broadcastTopic) subscribe(capacity int) (<-chan Message, func()) {
	if capacity <= 0 {
		capacity = defaultBroadcastLagTolerance
	}
	ch := make(chan Message, capacity)

	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if existing, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(existing)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// publish best-effort fans out msg to every current subscriber. Sends
// never block the router: a subscriber whose channel is full is skipped
// for this message (it will observe the gap the next time it drains,
// same as the teacher's "drop" delivery mode).
//
// Reserved error/overflow topics (see isErrorTopic) are the one
// exception: §9's open question notes that a lag/overflow notification
// emitted onto such a topic could itself overflow, so those topics drop
// the oldest buffered notification to make room for the newest one
// instead of dropping the newest — losing the stalest diagnostic is
// preferable to losing the most recent one.
func (t *broadcastTopic) publish(msg Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dropOldest := isErrorTopic(msg.Topic)
	for _, ch := range t.subs {
		select {
		case ch <- msg:
			continue
		default:
		}
		if !dropOldest {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// isErrorTopic reports whether topic is one of the reserved error/
// overflow notification topics named in §9 (e.g. "<topic>.error",
// "<topic>.overflow"), which get drop-oldest instead of drop-newest
// semantics.
func isErrorTopic(topic string) bool {
	return strings.HasSuffix(topic, ".error") || strings.HasSuffix(topic, ".overflow")
}

// directInbox is one plugin's opt-in bounded inbox.
type directInbox struct {
	ch chan Message
}

// DistributionCenter is the routing fabric: per-topic broadcast fan-out,
// per-plugin direct inboxes, and the global wiretap list. Its internal
// maps are guarded by a single RWMutex — reads (subscribe, lookup for
// distribute) dominate, writes only happen on first-use topic creation
// and on EnableDirect, matching §5's resource model.
type DistributionCenter struct {
	mu       sync.RWMutex
	topics   map[string]*broadcastTopic
	direct   map[string]*directInbox
	wiretaps []*broadcastTopic

	directCapacity int
}

// NewDistributionCenter constructs an empty DistributionCenter. directCapacity
// bounds every plugin's direct inbox (overflow drops newest, §5); a
// non-positive value falls back to a sane default of 64.
func NewDistributionCenter(directCapacity int) *DistributionCenter {
	if directCapacity <= 0 {
		directCapacity = 64
	}
	return &DistributionCenter{
		topics:         make(map[string]*broadcastTopic),
		direct:         make(map[string]*directInbox),
		directCapacity: directCapacity,
	}
}

func (dc *DistributionCenter) topicFor(name string) *broadcastTopic {
	dc.mu.RLock()
	t, ok := dc.topics[name]
	dc.mu.RUnlock()
	if ok {
		return t
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if t, ok = dc.topics[name]; ok {
		return t
	}
	t = newBroadcastTopic()
	dc.topics[name] = t
	return t
}

// Subscribe lazily creates the named topic if it doesn't exist yet and
// returns a fresh receiver for it. Receivers are independent: a new
// subscriber never observes messages published before it subscribed.
func (dc *DistributionCenter) Subscribe(topic string) (<-chan Message, func()) {
	return dc.topicFor(topic).subscribe(defaultBroadcastLagTolerance)
}

// EnableDirect creates (or returns, if already created) the bounded
// direct inbox for pluginID. Idempotent by design: repeated calls for the
// same plugin identity return the same receiver.
func (dc *DistributionCenter) EnableDirect(pluginID string, capacity int) <-chan Message {
	if capacity <= 0 {
		capacity = dc.directCapacity
	}

	dc.mu.RLock()
	inbox, ok := dc.direct[pluginID]
	dc.mu.RUnlock()
	if ok {
		return inbox.ch
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if inbox, ok = dc.direct[pluginID]; ok {
		return inbox.ch
	}
	inbox = &directInbox{ch: make(chan Message, capacity)}
	dc.direct[pluginID] = inbox
	return inbox.ch
}

// RegisterWiretap returns a receiver observing every broadcast message
// regardless of topic. Callers must have already checked the requesting
// plugin is Privileged — the DistributionCenter itself does not know
// about plugin identities, so the permission check lives in
// MessageContext.SubscribeAll.
func (dc *DistributionCenter) RegisterWiretap() (<-chan Message, func()) {
	tap := newBroadcastTopic()

	dc.mu.Lock()
	dc.wiretaps = append(dc.wiretaps, tap)
	dc.mu.Unlock()

	ch, cancelSub := tap.subscribe(defaultBroadcastLagTolerance)
	cancel := func() {
		cancelSub()
		dc.mu.Lock()
		for i, w := range dc.wiretaps {
			if w == tap {
				dc.wiretaps = append(dc.wiretaps[:i], dc.wiretaps[i+1:]...)
				break
			}
		}
		dc.mu.Unlock()
	}
	return ch, cancel
}

// Distribute routes msg to its subscribers: direct path if Recipient is
// set, otherwise the topic's broadcast subscribers. Broadcast messages
// are additionally cloned into every wiretap; direct messages never
// reach a wiretap.
func (dc *DistributionCenter) Distribute(msg Message) error {
	if msg.IsDirect() {
		return dc.SendDirect(msg)
	}

	dc.topicFor(msg.Topic).publish(msg)

	dc.mu.RLock()
	taps := make([]*broadcastTopic, len(dc.wiretaps))
	copy(taps, dc.wiretaps)
	dc.mu.RUnlock()
	for _, tap := range taps {
		tap.publish(msg.clone())
	}
	return nil
}

// SendDirect routes msg via the direct path. It requires Recipient to be
// set; an absent inbox (the recipient never called EnableDirect, or
// doesn't exist) is reported rather than silently dropped. A full inbox
// drops the newest message and reports overflow, per §5's backpressure
// policy for direct channels.
func (dc *DistributionCenter) SendDirect(msg Message) error {
	if !msg.IsDirect() {
		return ErrMessageMustBeDirect
	}

	dc.mu.RLock()
	inbox, ok := dc.direct[msg.Recipient]
	dc.mu.RUnlock()
	if !ok {
		return ErrUnknownRecipient
	}

	select {
	case inbox.ch <- msg:
		return nil
	default:
		return ErrDirectInboxFull
	}
}

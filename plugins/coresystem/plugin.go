package coresystem

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	amadeus "github.com/amadeus-bus/amadeus"
)

// Identity is the fixed plugin identity CoreSystemPlugin registers
// under.
const Identity = "core-system"

// Topic names reserved by the Core System plugin, per §6.
const (
	TopicMemoCreate         = "system.memo.create"
	TopicMemoCreated        = "system.memo.created"
	TopicMemoComplete       = "system.memo.complete"
	TopicMemoCompleteOK     = "system.memo.complete.success"
	TopicMemoDelete         = "system.memo.delete"
	TopicMemoDeleteOK       = "system.memo.delete.success"
	TopicMemoList           = "system.memo.list"
	TopicMemoListReply      = "system.memo.list.reply"
	TopicMemoRemind         = "system.memo.remind"
	TopicScheduleAdd        = "system.schedule.add"
	TopicScheduleAdded      = "system.schedule.added"
	TopicScheduleHistory    = "system.schedule.history"
	TopicScheduleHistoryRep = "system.schedule.history.reply"
)

// Config bundles CoreSystemPlugin's tunables.
type Config struct {
	// DBPath is the SQLite file path; AMADEUS_DB_PATH overrides it at the
	// application layer before this struct is built.
	DBPath string

	// AutoRemindTags maps a tag name to the cron expression that drives
	// its tag_reminder job, e.g. "stage_goal" -> "0 0 10 * * * *".
	AutoRemindTags map[string]string
}

// CoreSystemPlugin is Amadeus's Privileged persistent-memo-and-scheduler
// plugin. It is grounded in the teacher's modules/database (SQL access)
// and modules/scheduler (cron lifecycle), recombined behind a
// message-only surface instead of the teacher's direct method calls.
type CoreSystemPlugin struct {
	cfg   Config
	log   amadeus.Logger
	store *Store
	jobs  *jobScheduler
	mc    *amadeus.MessageContext

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an unstarted CoreSystemPlugin.
func New(cfg Config, log amadeus.Logger) *CoreSystemPlugin {
	if log == nil {
		log = amadeus.NewNoopLogger()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "amadeus.db"
	}
	return &CoreSystemPlugin{cfg: cfg, log: log, jobs: newJobScheduler(log)}
}

func (p *CoreSystemPlugin) Identity() string { return Identity }

func (p *CoreSystemPlugin) Metadata() amadeus.PluginMetadata {
	return amadeus.PluginMetadata{
		Name:             "Core System",
		Description:      "Persistent memo store and cron scheduler",
		Version:          "1.0.0",
		EnabledByDefault: true,
		Priority:         100,
		PluginType:       amadeus.Privileged,
	}
}

func (p *CoreSystemPlugin) SetupMessaging(mc *amadeus.MessageContext) error {
	p.mc = mc
	return nil
}

// Init opens the store and rebuilds scheduled jobs for every active
// memo, satisfying the restart-recovery invariant in §3/§8.
func (p *CoreSystemPlugin) Init(ctx context.Context) error {
	store, err := OpenStore(p.cfg.DBPath)
	if err != nil {
		return err
	}
	p.store = store

	active, err := store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, m := range active {
		if m.Cron != "" {
			if err := p.registerMemoJobs(m); err != nil {
				p.log.Warn("failed to rebuild jobs for recovered memo", "id", m.ID, "err", err.Error())
			}
		}
	}
	return nil
}

func (p *CoreSystemPlugin) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.jobs.start()

	p.serve(runCtx, TopicMemoCreate, p.handleCreate)
	p.serve(runCtx, TopicMemoComplete, p.handleComplete)
	p.serve(runCtx, TopicMemoDelete, p.handleDelete)
	p.serve(runCtx, TopicMemoList, p.handleList)
	p.serve(runCtx, TopicScheduleAdd, p.handleScheduleAdd)
	p.serve(runCtx, TopicScheduleHistory, p.handleScheduleHistory)
	return nil
}

func (p *CoreSystemPlugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.jobs.stop()
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// serve subscribes to topic and runs handler for every message received
// until ctx is canceled, one goroutine per topic — matching the
// teacher's per-worker-goroutine style in modules/scheduler.Scheduler.worker.
func (p *CoreSystemPlugin) serve(ctx context.Context, topic string, handler func(amadeus.Message)) {
	ch, cancelSub := p.mc.Subscribe(topic)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg)
			}
		}
	}()
}

func (p *CoreSystemPlugin) reply(topic string, payload any) {
	if err := p.mc.Send(amadeus.Message{Topic: topic, Payload: payload}); err != nil {
		p.log.Warn("failed to send reply", "topic", topic, "err", err.Error())
	}
}

func (p *CoreSystemPlugin) errorReply(origTopic, code, detail string) {
	p.reply(origTopic+".error", map[string]string{"code": code, "detail": detail})
}

func decodePayload(payload any, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return amadeus.ErrMalformedPayload
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return amadeus.ErrMalformedPayload
	}
	return nil
}

type memoCreateRequest struct {
	Content  string            `json:"content"`
	Cron     string            `json:"cron,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Priority string            `json:"priority,omitempty"`
	TodoDate *int64            `json:"todo_date,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p *CoreSystemPlugin) handleCreate(msg amadeus.Message) {
	var req memoCreateRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		p.errorReply(TopicMemoCreate, "bad_request", err.Error())
		return
	}

	// Validate before persisting: a memo row must never be left behind
	// active with no job registered for a bad_cron reply the client was
	// told meant creation failed.
	if req.Cron != "" {
		if err := validateCron(req.Cron); err != nil {
			p.errorReply(TopicMemoCreate, "bad_cron", err.Error())
			return
		}
	}

	memo := Memo{
		Content:  req.Content,
		Cron:     req.Cron,
		Tags:     req.Tags,
		Priority: amadeus.Priority(req.Priority),
		TodoDate: req.TodoDate,
		Metadata: req.Metadata,
	}
	created, err := p.store.Create(context.Background(), memo)
	if err != nil {
		p.errorReply(TopicMemoCreate, "storage", err.Error())
		return
	}

	if created.Cron != "" {
		if err := p.registerMemoJobs(created); err != nil {
			// The cron expression was already validated above, so this
			// only fires on an unexpected scheduler failure. The memo row
			// is already persisted at this point — delete it rather than
			// leave an orphaned active memo behind a bad_cron reply.
			if delErr := p.store.Delete(context.Background(), created.ID); delErr != nil {
				p.log.Error("failed to roll back memo after job registration failure", "id", created.ID, "err", delErr.Error())
			}
			p.errorReply(TopicMemoCreate, "bad_cron", err.Error())
			return
		}
	}

	p.reply(TopicMemoCreated, map[string]any{"id": created.ID, "content": created.Content})
}

// registerMemoJobs registers the primary reminder job (if the memo has a
// cron) plus any tag-derived reminder jobs for tags present in both the
// memo and the configured auto-remind set. Shared between memo.create
// and Init's restart recovery.
func (p *CoreSystemPlugin) registerMemoJobs(m Memo) error {
	if m.Cron != "" {
		_, err := p.jobs.register(m.Cron, m.ID, JobPrimary, func() {
			p.reply(TopicMemoRemind, map[string]any{"id": m.ID, "content": m.Content, "type": "primary"})
		})
		if err != nil {
			return err
		}
	}

	for _, tag := range m.Tags {
		cronExpr, ok := p.cfg.AutoRemindTags[tag]
		if !ok {
			continue
		}
		tag := tag
		_, err := p.jobs.register(cronExpr, m.ID, JobTagReminder, func() {
			p.reply(TopicMemoRemind, map[string]any{"id": m.ID, "content": m.Content, "type": "tag_reminder", "tag": tag})
		})
		if err != nil {
			p.log.Warn("failed to register tag reminder job", "memo", m.ID, "tag", tag, "err", err.Error())
		}
	}
	return nil
}

type memoIDRequest struct {
	ID int64 `json:"id"`
}

func (p *CoreSystemPlugin) handleComplete(msg amadeus.Message) {
	var req memoIDRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		p.errorReply(TopicMemoComplete, "bad_request", err.Error())
		return
	}

	if err := p.store.Complete(context.Background(), req.ID); err != nil {
		p.replyStoreErr(TopicMemoComplete, err)
		return
	}
	p.jobs.cancelForMemo(req.ID)
	p.reply(TopicMemoCompleteOK, map[string]any{"id": req.ID, "status": "completed"})
}

func (p *CoreSystemPlugin) handleDelete(msg amadeus.Message) {
	var req memoIDRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		p.errorReply(TopicMemoDelete, "bad_request", err.Error())
		return
	}

	p.jobs.cancelForMemo(req.ID)
	if err := p.store.Delete(context.Background(), req.ID); err != nil {
		p.replyStoreErr(TopicMemoDelete, err)
		return
	}
	p.reply(TopicMemoDeleteOK, map[string]any{"id": req.ID})
}

func (p *CoreSystemPlugin) handleList(msg amadeus.Message) {
	memos, err := p.store.ListActive(context.Background())
	if err != nil {
		p.errorReply(TopicMemoList, "storage", err.Error())
		return
	}
	p.reply(TopicMemoListReply, map[string]any{"memos": memos})
}

type scheduleAddRequest struct {
	Cron    string `json:"cron"`
	Message struct {
		Topic   string `json:"topic"`
		Payload any    `json:"payload"`
	} `json:"message"`
}

func (p *CoreSystemPlugin) handleScheduleAdd(msg amadeus.Message) {
	var req scheduleAddRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		p.errorReply(TopicScheduleAdd, "bad_request", err.Error())
		return
	}

	topic, payload := req.Message.Topic, req.Message.Payload
	jobID, err := p.jobs.register(req.Cron, 0, JobGeneric, func() {
		p.reply(topic, payload)
	})
	if err != nil {
		p.errorReply(TopicScheduleAdd, "bad_cron", err.Error())
		return
	}
	p.reply(TopicScheduleAdded, map[string]any{"job_id": jobID})
}

type scheduleHistoryRequest struct {
	JobID string `json:"job_id"`
}

// handleScheduleHistory answers the supplemented job-execution-history
// query (see design notes): the last retained firings of a scheduled
// job, mirroring the teacher's GetJobHistory.
func (p *CoreSystemPlugin) handleScheduleHistory(msg amadeus.Message) {
	var req scheduleHistoryRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		p.errorReply(TopicScheduleHistory, "bad_request", err.Error())
		return
	}
	p.reply(TopicScheduleHistoryRep, map[string]any{
		"job_id":     req.JobID,
		"executions": p.jobs.historyFor(req.JobID),
	})
}

func (p *CoreSystemPlugin) replyStoreErr(topic string, err error) {
	if errors.Is(err, amadeus.ErrMemoNotFound) {
		p.errorReply(topic, "not_found", err.Error())
		return
	}
	p.errorReply(topic, "storage", err.Error())
}

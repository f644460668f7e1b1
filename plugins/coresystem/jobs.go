package coresystem

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	amadeus "github.com/amadeus-bus/amadeus"
)

// cronParser validates cron expressions against the same seconds-enabled
// grammar jobScheduler registers jobs with, without actually scheduling
// anything. Used to reject a bad expression up front, before any
// compensating action (like a persisted memo row) would need undoing.
var cronParser = yearTolerantParser{cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}

// yearTolerantParser accepts the six-field seconds-enabled grammar plus an
// optional seventh (year) field, which must be "*": robfig/cron has no
// year field, so any other year value is rejected as malformed.
type yearTolerantParser struct{ cron.Parser }

func (p yearTolerantParser) Parse(spec string) (cron.Schedule, error) {
	if fields := strings.Fields(spec); len(fields) == 7 && fields[6] == "*" {
		spec = strings.Join(fields[:6], " ")
	}
	return p.Parser.Parse(spec)
}

// validateCron reports whether expr parses as a valid cron expression,
// wrapping a parse failure in amadeus.ErrInvalidCronExpr.
func validateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %s: %w", amadeus.ErrInvalidCronExpr, expr, err)
	}
	return nil
}

// JobKind mirrors the spec's scheduled-job kind enum.
type JobKind string

const (
	JobPrimary     JobKind = "primary"
	JobTagReminder JobKind = "tag_reminder"
	JobGeneric     JobKind = "generic"
)

// JobExecution records one firing of a scheduled job, the supplemented
// history feature grounded in the teacher's scheduler.JobExecution.
type JobExecution struct {
	JobID   string
	FiredAt time.Time
	Err     string
}

// jobEntry is the in-memory bookkeeping for one registered cron job.
// Scheduled jobs are never persisted directly — they are reconstructed
// from memos on restart, per §3.
type jobEntry struct {
	id      string
	memoID  int64
	kind    JobKind
	entryID cron.EntryID
}

const historyPerJob = 20

// jobScheduler owns the cron runtime and the bookkeeping needed to
// cancel jobs by memo id. It deliberately runs a seconds-enabled parser
// (cronParser) since the spec's example cron literals ("*/1 * * * * *")
// carry a leading seconds field, unlike cron.ParseStandard; a trailing
// "*" year field ("0 0 10 * * * *") is also accepted.
type jobScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	byMemo  map[int64][]*jobEntry
	byID    map[string]*jobEntry
	history map[string][]JobExecution
	log     amadeus.Logger
}

func newJobScheduler(log amadeus.Logger) *jobScheduler {
	return &jobScheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		byMemo:  make(map[int64][]*jobEntry),
		byID:    make(map[string]*jobEntry),
		history: make(map[string][]JobExecution),
		log:     log,
	}
}

func (js *jobScheduler) start() { js.cron.Start() }

func (js *jobScheduler) stop() { <-js.cron.Stop().Done() }

// register adds a new cron-triggered job that invokes fn whenever cronExpr
// fires. memoID is 0 for jobs not tied to a memo (generic schedule.add jobs).
func (js *jobScheduler) register(cronExpr string, memoID int64, kind JobKind, fn func()) (string, error) {
	jobID := uuid.NewString()
	entry := &jobEntry{id: jobID, memoID: memoID, kind: kind}

	entryID, err := js.cron.AddFunc(cronExpr, func() {
		fired := time.Now()
		var execErr string
		func() {
			defer func() {
				if r := recover(); r != nil {
					execErr = fmt.Sprintf("panic: %v", r)
				}
			}()
			fn()
		}()
		js.recordExecution(jobID, fired, execErr)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", amadeus.ErrInvalidCronExpr, cronExpr, err)
	}
	entry.entryID = entryID

	js.mu.Lock()
	js.byID[jobID] = entry
	if memoID != 0 {
		js.byMemo[memoID] = append(js.byMemo[memoID], entry)
	}
	js.mu.Unlock()

	return jobID, nil
}

func (js *jobScheduler) recordExecution(jobID string, firedAt time.Time, execErr string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	hist := append(js.history[jobID], JobExecution{JobID: jobID, FiredAt: firedAt, Err: execErr})
	if len(hist) > historyPerJob {
		hist = hist[len(hist)-historyPerJob:]
	}
	js.history[jobID] = hist
}

// historyFor returns the retained execution history for jobID.
func (js *jobScheduler) historyFor(jobID string) []JobExecution {
	js.mu.Lock()
	defer js.mu.Unlock()
	return append([]JobExecution(nil), js.history[jobID]...)
}

// cancelForMemo removes every job registered against memoID. Used for
// both memo.complete and memo.delete, per §4.6's "cancel all jobs linked
// to the memo".
func (js *jobScheduler) cancelForMemo(memoID int64) int {
	js.mu.Lock()
	defer js.mu.Unlock()

	entries := js.byMemo[memoID]
	delete(js.byMemo, memoID)
	for _, e := range entries {
		js.cron.Remove(e.entryID)
		delete(js.byID, e.id)
		delete(js.history, e.id)
	}
	return len(entries)
}

// cancel removes a single job by its own id (used for schedule.add jobs
// that aren't memo-scoped).
func (js *jobScheduler) cancel(jobID string) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	e, ok := js.byID[jobID]
	if !ok {
		return false
	}
	js.cron.Remove(e.entryID)
	delete(js.byID, jobID)
	delete(js.history, jobID)
	return true
}

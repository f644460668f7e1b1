package coresystem

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amadeus "github.com/amadeus-bus/amadeus"
)

func TestJobScheduler_RegisterInvalidCronFails(t *testing.T) {
	js := newJobScheduler(nil)
	_, err := js.register("not a cron", 0, JobGeneric, func() {})
	assert.ErrorIs(t, err, amadeus.ErrInvalidCronExpr)
}

func TestJobScheduler_FiresAndRecordsHistory(t *testing.T) {
	js := newJobScheduler(nil)
	js.start()
	defer js.stop()

	var fired atomic.Int32
	id, err := js.register("*/1 * * * * *", 1, JobPrimary, func() { fired.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fired.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return len(js.historyFor(id)) > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestJobScheduler_HistoryTrimmedToCap(t *testing.T) {
	js := newJobScheduler(nil)
	for i := 0; i < historyPerJob+5; i++ {
		js.recordExecution("job-1", time.Now(), "")
	}
	assert.Len(t, js.historyFor("job-1"), historyPerJob)
}

func TestJobScheduler_CancelForMemoRemovesAllLinkedJobs(t *testing.T) {
	js := newJobScheduler(nil)
	id1, err := js.register("0 0 8 * * * *", 42, JobPrimary, func() {})
	require.NoError(t, err)
	id2, err := js.register("0 0 10 * * * *", 42, JobTagReminder, func() {})
	require.NoError(t, err)
	other, err := js.register("0 0 9 * * * *", 7, JobPrimary, func() {})
	require.NoError(t, err)

	removed := js.cancelForMemo(42)
	assert.Equal(t, 2, removed)

	_, ok1 := js.byID[id1]
	_, ok2 := js.byID[id2]
	assert.False(t, ok1)
	assert.False(t, ok2)
	_, okOther := js.byID[other]
	assert.True(t, okOther)
}

func TestJobScheduler_CancelForUnknownMemoIsNoop(t *testing.T) {
	js := newJobScheduler(nil)
	assert.Equal(t, 0, js.cancelForMemo(999))
}

func TestJobScheduler_CancelSingleJob(t *testing.T) {
	js := newJobScheduler(nil)
	id, err := js.register("0 0 8 * * * *", 0, JobGeneric, func() {})
	require.NoError(t, err)

	assert.True(t, js.cancel(id))
	assert.False(t, js.cancel(id))
}

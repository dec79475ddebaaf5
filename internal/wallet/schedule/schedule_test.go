package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStartRunsImmediately(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	task := Start(context.Background(), "immediate", time.Hour, true, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	defer task.Stop()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStartWithoutImmediateRun(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	task := Start(context.Background(), "deferred", time.Hour, false, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	task.Stop()

	assert.Equal(t, int32(0), runs.Load())
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool

	task := Start(context.Background(), "blocking", time.Hour, true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})

	<-started
	task.Stop()
	assert.True(t, finished.Load())

	// idempotent
	task.Stop()
}

func TestFailuresKeepTicking(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	task := Start(context.Background(), "flaky", time.Second, true, func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("boom")
		}
		return nil
	})
	defer task.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, 50*time.Millisecond)
}

func TestParentContextStopsRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runs atomic.Int32
	task := Start(ctx, "cancelled", time.Hour, true, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	task.Stop()

	assert.Equal(t, int32(0), runs.Load())
}

func TestStopNil(t *testing.T) {
	t.Parallel()

	var task *Task
	assert.NotPanics(t, task.Stop)
}

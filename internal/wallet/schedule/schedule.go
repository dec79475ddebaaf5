// Package schedule runs periodic controller tasks that can be cancelled.
// Overlapping runs of one task are skipped; errors and panics are logged per run.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
)

type Func func(ctx context.Context) error

type Option func(*Task)

// WithMetrics records the duration of every run.
func WithMetrics(m *metrics.Service) Option {
	return func(t *Task) {
		t.metrics = m
	}
}

type Task struct {
	name     string
	cron     *cron.Cron
	cancel   context.CancelFunc
	metrics  *metrics.Service
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Start runs fn every interval (rounded up to whole seconds) until ctx is done or Stop is called.
// With runImmediately the first run starts right away instead of after one interval.
func Start(ctx context.Context, name string, interval time.Duration, runImmediately bool, fn Func, opts ...Option) *Task {
	ctx, cancel := context.WithCancel(ctx)
	ctx = util.WithLogFields(ctx, map[string]string{"task": name})

	logger := cronLogger{l: util.LogFromContext(ctx)}
	t := &Task{
		name:   name,
		cancel: cancel,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	for _, opt := range opts {
		opt(t)
	}

	id := t.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { t.run(ctx, fn) }))
	job := t.cron.Entry(id).WrappedJob

	t.cron.Start()

	if runImmediately {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			job.Run()
		}()
	}

	util.LogFromContext(ctx).Info().Dur("interval", interval).Msg("Scheduled task started")

	return t
}

func (t *Task) run(ctx context.Context, fn Func) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := fn(ctx)
	t.metrics.TaskDuration(t.name, time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil {
		util.LogFromContext(ctx).Error().Err(err).Msg("Scheduled task failed")
	}
}

// Stop cancels the running invocation, if any, and waits for it to return.
func (t *Task) Stop() {
	if t == nil {
		return
	}

	t.stopOnce.Do(func() {
		t.cancel()
		<-t.cron.Stop().Done()
		t.wg.Wait()
	})
}

// cronLogger routes cron's own messages into zerolog. Cron logs every wake-up at info, so that goes to debug.
type cronLogger struct {
	l *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

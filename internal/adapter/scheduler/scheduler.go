// Package scheduler implements the C1 capability: a cron-like job registry
// that drives the offline aggregator. It layers its own cadence-polling
// loop (min-heap-free since the job count is tiny) on top of asynq's
// client/server/mux machinery, the same task-queue dependency the teacher
// uses for background work, so job firings are dispatched through a real
// queue rather than run inline on the polling goroutine.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/recrank/internal/domain"
)

var tracer = otel.Tracer("adapter.scheduler")

const taskPrefix = "offline_job:"

type jobEntry struct {
	name    string
	cadence domain.Cadence
	fn      domain.JobFunc

	lastRun            time.Time
	nextRun            time.Time
	lastDispatchedSlot time.Time
	lastSuccess        int
	lastErrors         int
	lastDuration       time.Duration
}

type taskPayload struct {
	Name string    `json:"name"`
	Slot time.Time `json:"slot"`
}

// Scheduler is the C1 capability implementation. At-most-once-per-slot
// dispatch is tracked per job entry (lastDispatchedSlot), not in a growing
// set, so memory stays bounded by the number of registered jobs regardless
// of process uptime.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry

	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux

	pollInterval time.Duration
	grace        time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler over redisURL, with workers concurrent asynq
// processors and grace as the shutdown drain timeout (spec.md §4.1).
func New(redisURL string, workers int, grace time.Duration) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=scheduler.New: %w", err)
	}
	if workers <= 0 {
		workers = 2
	}
	return &Scheduler{
		jobs:         map[string]*jobEntry{},
		client:       asynq.NewClient(opt),
		server:       asynq.NewServer(opt, asynq.Config{Concurrency: workers}),
		mux:          asynq.NewServeMux(),
		pollInterval: time.Second,
		grace:        grace,
		stopCh:       make(chan struct{}),
	}, nil
}

// Register adds a named job with the given cadence. It must be called
// before Start.
func (s *Scheduler) Register(name string, cadence domain.Cadence, job domain.JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return domain.NewError(domain.KindBadInput, "job already registered: "+name, domain.ErrInvalidArgument)
	}
	entry := &jobEntry{name: name, cadence: cadence, fn: job, nextRun: nextFire(cadence, time.Now())}
	s.jobs[name] = entry

	taskName := taskPrefix + name
	s.mux.HandleFunc(taskName, func(ctx context.Context, t *asynq.Task) error {
		var p taskPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("op=scheduler.task_unmarshal: %w", err)
		}
		return s.runJob(ctx, entry, p.Slot)
	})
	return nil
}

// Start launches the asynq server and the cadence-polling loop.
func (s *Scheduler) Start(ctx domain.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Start(s.mux); err != nil {
			slog.Error("scheduler: asynq server stopped", slog.Any("error", err))
		}
	}()

	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

func (s *Scheduler) pollLoop(ctx domain.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatchDue(ctx, now)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx domain.Context, now time.Time) {
	s.mu.Lock()
	var due []*jobEntry
	for _, entry := range s.jobs {
		if !entry.nextRun.After(now) {
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		slot := entry.nextRun

		s.mu.Lock()
		already := entry.lastDispatchedSlot.Equal(slot)
		if !already {
			entry.lastDispatchedSlot = slot
			entry.nextRun = nextFire(entry.cadence, now)
		}
		s.mu.Unlock()
		if already {
			continue
		}

		payload, err := json.Marshal(taskPayload{Name: entry.name, Slot: slot})
		if err != nil {
			slog.Error("scheduler: marshal task payload failed", slog.String("job", entry.name), slog.Any("error", err))
			continue
		}
		task := asynq.NewTask(taskPrefix+entry.name, payload)
		if _, err := s.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Retention(time.Hour)); err != nil {
			slog.Error("scheduler: enqueue failed", slog.String("job", entry.name), slog.Any("error", err))
		}
	}
}

func (s *Scheduler) runJob(ctx domain.Context, entry *jobEntry, slot time.Time) error {
	ctx, span := tracer.Start(ctx, "scheduler.runJob."+entry.name)
	defer span.End()
	start := time.Now()
	success, errCount, err := entry.fn(ctx)
	dur := time.Since(start)

	s.mu.Lock()
	entry.lastRun = slot
	entry.lastSuccess = success
	entry.lastErrors = errCount
	entry.lastDuration = dur
	s.mu.Unlock()
	return err
}

// Stop stops accepting new dispatches and waits up to its configured grace
// period for in-flight jobs (spec.md §4.1).
func (s *Scheduler) Stop(ctx domain.Context) error {
	close(s.stopCh)
	s.client.Close()

	done := make(chan struct{})
	go func() {
		s.server.Shutdown()
		close(done)
	}()

	grace := s.grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("scheduler: shutdown grace period elapsed with jobs still draining")
	}
	return nil
}

// Status reports each registered job's last/next run for STATS().
func (s *Scheduler) Status() []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, domain.JobStatus{
			Name:         e.name,
			LastRun:      e.lastRun,
			NextRun:      e.nextRun,
			LastSuccess:  e.lastSuccess,
			LastErrors:   e.lastErrors,
			LastDuration: e.lastDuration,
		})
	}
	return out
}

// nextFire computes the next fire time strictly after from, for the given
// cadence (spec.md §4.1's daily/hourly/weekly/interval forms).
func nextFire(cadence domain.Cadence, from time.Time) time.Time {
	switch {
	case cadence.Daily != nil:
		next := time.Date(from.Year(), from.Month(), from.Day(), cadence.Daily.Hour, cadence.Daily.Minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case cadence.Hourly != nil:
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), *cadence.Hourly, 0, 0, from.Location())
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		return next
	case cadence.Weekly != nil:
		daysUntil := (int(cadence.Weekly.Weekday) - int(from.Weekday()) + 7) % 7
		next := time.Date(from.Year(), from.Month(), from.Day(), cadence.Weekly.At.Hour, cadence.Weekly.At.Minute, 0, 0, from.Location())
		next = next.AddDate(0, 0, daysUntil)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	case cadence.Interval > 0:
		return from.Add(cadence.Interval)
	default:
		return from.Add(time.Hour)
	}
}

package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/async"
)

// Fetcher is anything that can refresh itself, typically a *Plugin.
type Fetcher interface {
	Fetch(ctx context.Context) error
}

// Scheduler refreshes fetchers on cron schedules. Triggered fetches run on a
// bounded worker pool.
type Scheduler struct {
	cron *cron.Cron
	pool *async.WorkerPool
	log  logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler returns a stopped scheduler running at most workers fetches
// at once, each bounded by timeout.
func NewScheduler(ctx context.Context, log logrus.FieldLogger, workers int, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron:    cron.New(),
		pool:    async.NewWorkerPool(ctx, log, workers, "scheduled fetch", timeout),
		log:     log.WithField("component", "fetch-scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules f under name using a standard five-field cron spec or a
// descriptor such as "@every 5m". Adding an existing name replaces it.
func (s *Scheduler) Add(name, spec string, f Fetcher) error {
	id, err := s.cron.AddFunc(spec, func() {
		err := s.pool.Submit(func(ctx context.Context) error {
			if err := f.Fetch(ctx); err != nil {
				s.log.WithError(err).WithField("fetcher", name).Warn("scheduled fetch failed")
				return err
			}
			s.log.WithField("fetcher", name).Debug("scheduled fetch complete")
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("fetcher", name).Warn("could not submit scheduled fetch")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id
	return nil
}

// Remove unschedules name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns the next activation time for name.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins running schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedules and waits for submitted fetches until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return s.pool.Shutdown(timeout)
}

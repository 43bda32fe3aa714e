package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronScheduler implements JobScheduler on top of robfig/cron. Each job's
// explicit fire-instant list is expressed as a cron.Schedule that walks the
// sorted list and retires after the last instant.
type CronScheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
	handler Handler
	log     zerolog.Logger
	started bool
}

// NewCronScheduler creates a stopped CronScheduler. Wire the fired-job
// handler with OnJobFired before Start.
func NewCronScheduler(log zerolog.Logger) *CronScheduler {
	return &CronScheduler{
		c:       cron.New(cron.WithLocation(time.Local)),
		entries: make(map[string]cron.EntryID),
		log:     log,
	}
}

// OnJobFired sets the callback invoked for every job firing. Must be set
// before the first job fires; replacing it later races with deliveries.
func (s *CronScheduler) OnJobFired(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start begins firing jobs.
func (s *CronScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	s.log.Info().Msg("job scheduler started")
}

// Stop stops firing and waits for in-flight job runs to finish, bounded by
// ctx. The wait happens with s.mu released: job funcs take s.mu to read
// the handler, so holding it here would wedge any job firing during the
// stop and the wait would never complete.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopped := s.c.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CronScheduler) ScheduleRepeatingJob(_ context.Context, job RepeatingJob) error {
	if job.Key == "" {
		return fmt.Errorf("schedule job: empty key")
	}
	if len(job.FireTimes) == 0 {
		return fmt.Errorf("schedule job %s: no fire times", job.Key)
	}

	times := make([]time.Time, len(job.FireTimes))
	copy(times, job.FireTimes)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Key]; ok {
		s.c.Remove(id)
	}

	key, payload := job.Key, job.Payload
	id := s.c.Schedule(fireTimes(times), cron.FuncJob(func() {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			s.log.Warn().Str("job_key", key).Msg("job fired with no handler wired")
			return
		}
		h(key, payload)
	}))
	s.entries[job.Key] = id

	s.log.Debug().Str("job_key", job.Key).Int("fire_count", len(times)).
		Time("first", times[0]).Time("last", times[len(times)-1]).
		Msg("job scheduled")
	return nil
}

func (s *CronScheduler) CancelJob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.c.Remove(id)
	delete(s.entries, key)
	s.log.Debug().Str("job_key", key).Msg("job cancelled")
	return nil
}

// JobKeys returns the keys of all registered jobs, for introspection.
func (s *CronScheduler) JobKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fireTimes adapts a sorted instant list to cron.Schedule: Next yields the
// first instant strictly after t, and the zero time once the list is
// exhausted, which parks the entry permanently.
type fireTimes []time.Time

func (f fireTimes) Next(t time.Time) time.Time {
	for _, ft := range f {
		if ft.After(t) {
			return ft
		}
	}
	return time.Time{}
}

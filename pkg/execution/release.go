package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/cron"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// ReleaseScheduler fires scheduled releases for registered workflows. Ticks
// are aligned to the minute; workflows whose schedules match the same minute
// fire in registration order, and each (workflow, minute) pair fires at most
// once.
type ReleaseScheduler struct {
	eng     *Engine
	logger  zerolog.Logger
	workers int

	mu      sync.Mutex
	entries []releaseEntry
	fired   map[string]time.Time

	inflight sync.WaitGroup
	sem      chan struct{}
}

type releaseEntry struct {
	wf     *workflow.Workflow
	scheds []*cron.Schedule
}

// DefaultReleaseWorkers bounds concurrently running scheduled releases.
const DefaultReleaseWorkers = 4

// NewReleaseScheduler creates a scheduler over the engine with the given
// worker bound (<=0 means DefaultReleaseWorkers).
func NewReleaseScheduler(eng *Engine, workers int) *ReleaseScheduler {
	if workers <= 0 {
		workers = DefaultReleaseWorkers
	}
	return &ReleaseScheduler{
		eng:     eng,
		logger:  eng.logger.With().Str("component", "release").Logger(),
		workers: workers,
		fired:   map[string]time.Time{},
		sem:     make(chan struct{}, workers),
	}
}

// Add registers a workflow for scheduled releases. The workflow must carry
// at least one valid cron schedule.
func (s *ReleaseScheduler) Add(wf *workflow.Workflow) error {
	if wf.On == nil || len(wf.On.Schedule) == 0 {
		return errors.Newf(errors.KindSchedule, errors.CodeScheduleInvalid,
			"workflow %q has no schedules", wf.Name)
	}
	tz := wf.On.TimezoneOf(s.eng.cfg.Timezone)

	scheds := make([]*cron.Schedule, 0, len(wf.On.Schedule))
	for _, cs := range wf.On.Schedule {
		sched, err := cron.Parse(cs.Cronjob, tz)
		if err != nil {
			return errors.NewSchedule(errors.CodeScheduleInvalid,
				fmt.Sprintf("workflow %q schedule %q is invalid", wf.Name, cs.Cronjob), err)
		}
		scheds = append(scheds, sched)
	}

	s.mu.Lock()
	s.entries = append(s.entries, releaseEntry{wf: wf, scheds: scheds})
	s.mu.Unlock()
	s.logger.Info().Str("workflow", wf.Name).Int("schedules", len(scheds)).
		Msg("workflow registered for releases")
	return nil
}

// Start runs the scheduling loop until the context is cancelled, then waits
// for in-flight releases to finish.
func (s *ReleaseScheduler) Start(ctx context.Context) error {
	s.logger.Info().Int("workers", s.workers).Msg("release scheduler started")
	for {
		if !sleepUntil(ctx, nextMinute(time.Now())) {
			break
		}
		s.tick(ctx, time.Now())
	}
	s.inflight.Wait()
	s.logger.Info().Msg("release scheduler stopped")
	return nil
}

// tick fires every registered workflow whose schedule matches the minute.
func (s *ReleaseScheduler) tick(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	entries := make([]releaseEntry, len(s.entries))
	copy(entries, s.entries)
	for key, at := range s.fired {
		if minute.Sub(at) > 2*time.Minute {
			delete(s.fired, key)
		}
	}
	s.mu.Unlock()

	for _, entry := range entries {
		matched := false
		for _, sched := range entry.scheds {
			if sched.Matches(minute) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		key := entry.wf.Name + "@" + minute.UTC().Format(time.RFC3339)
		s.mu.Lock()
		_, dup := s.fired[key]
		if !dup {
			s.fired[key] = minute
		}
		s.mu.Unlock()
		if dup {
			continue
		}

		s.submit(ctx, entry.wf, minute)
	}
}

func (s *ReleaseScheduler) submit(ctx context.Context, wf *workflow.Workflow, at time.Time) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}

		rctx, cancel := context.WithTimeoutCause(ctx, s.eng.cfg.ReleaseTimeout, errors.ErrTimeout)
		defer cancel()

		res, err := s.eng.Release(rctx, wf, at, nil)
		if err != nil {
			s.logger.Error().Err(err).Str("workflow", wf.Name).
				Time("release", at).Msg("release refused")
			return
		}
		s.logger.Info().Str("workflow", wf.Name).Str("run_id", res.RunID).
			Time("release", at).Str("status", string(res.Status)).Msg("release finished")
	}()
}

// nextMinute is the next minute boundary strictly after t.
func nextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// sleepUntil pauses until the deadline, returning false if the context is
// cancelled first.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	return sleepCtx(ctx, time.Until(deadline))
}

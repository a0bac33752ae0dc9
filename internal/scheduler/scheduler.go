package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// JobFunc is the unit of scheduled work. Errors are logged at the dispatch
// boundary; they never propagate into the scheduling loop.
type JobFunc func(ctx context.Context) error

// Options control how a job behaves around its firing times.
type Options struct {
	// Coalesce collapses a backlog of missed firing times into a single run.
	Coalesce bool
	// MaxInstances bounds concurrent runs of the same job. Zero means one.
	MaxInstances int
	// MisfireGrace is how late a run may start before it counts as missed.
	// A missed run is not dropped: one catch-up run is dispatched and any
	// backlog of missed firing times collapses into it. Zero means runs are
	// never treated as missed.
	MisfireGrace time.Duration
}

// DefaultOptions are the options used for the standing jobs: collapse missed
// runs, never overlap, and treat runs more than a minute late as missed.
func DefaultOptions() Options {
	return Options{Coalesce: true, MaxInstances: 1, MisfireGrace: time.Minute}
}

func (o Options) maxInstances() int {
	if o.MaxInstances <= 0 {
		return 1
	}
	return o.MaxInstances
}

type job struct {
	id      string
	trigger Trigger
	fn      JobFunc
	opts    Options
	nextRun time.Time
	running int
}

// JobInfo is a diagnostic snapshot of one scheduled job.
type JobInfo struct {
	ID          string
	Description string
	NextRun     time.Time
	Running     int
}

// Scheduler fires jobs according to their triggers on a bounded worker pool.
// Jobs are identified by a stable string id; adding a job under an existing
// id replaces it rather than duplicating it.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
	wake chan struct{}
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	now  func() time.Time

	runCtx  context.Context
	runStop context.CancelFunc
	jobCtx  context.Context
	jobStop context.CancelFunc
	started bool
}

// New creates a scheduler whose jobs run on at most workers goroutines.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	runCtx, runStop := context.WithCancel(context.Background())
	jobCtx, jobStop := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:    make(map[string]*job),
		wake:    make(chan struct{}, 1),
		sem:     semaphore.NewWeighted(int64(workers)),
		now:     time.Now,
		runCtx:  runCtx,
		runStop: runStop,
		jobCtx:  jobCtx,
		jobStop: jobStop,
	}
}

// AddOrReplace schedules fn under the given id, replacing any existing job
// with that id. A trigger whose first firing time is already in the past
// fires once immediately.
func (s *Scheduler) AddOrReplace(id string, trigger Trigger, fn JobFunc, opts Options) {
	now := s.now()
	next := trigger.Next(now)
	if next.IsZero() {
		next = now
	}

	s.mu.Lock()
	if existing, ok := s.jobs[id]; ok {
		// Mutate in place so an in-flight run of the old registration keeps
		// counting against the replacement's MaxInstances.
		log.Debug().Str("job", id).Msg("replacing scheduled job")
		existing.trigger = trigger
		existing.fn = fn
		existing.opts = opts
		existing.nextRun = next
	} else {
		s.jobs[id] = &job{id: id, trigger: trigger, fn: fn, opts: opts, nextRun: next}
	}
	s.mu.Unlock()

	s.kick()
	log.Info().Str("job", id).Str("trigger", trigger.Description()).
		Time("next_run", next).Msg("job scheduled")
}

// ScheduleOnce schedules fn to run a single time at the given instant.
func (s *Scheduler) ScheduleOnce(id string, at time.Time, fn JobFunc) {
	s.AddOrReplace(id, At(at), fn, Options{MaxInstances: 1})
}

// Remove unschedules the job with the given id. In-flight runs are not
// interrupted. Reports whether a job was removed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if ok {
		s.kick()
	}
	return ok
}

// List returns a snapshot of all scheduled jobs, ordered by id.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			ID:          j.id,
			Description: j.trigger.Description(),
			NextRun:     j.nextRun,
			Running:     j.running,
		})
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, k int) bool { return infos[i].ID < infos[k].ID })
	return infos
}

// Start launches the scheduling loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
}

// Shutdown stops the scheduling loop. When graceful, in-flight jobs keep
// their context and are waited for; otherwise their context is canceled
// first and Shutdown still waits for them to return.
func (s *Scheduler) Shutdown(graceful bool) {
	s.runStop()
	if !graceful {
		s.jobStop()
	}
	s.wg.Wait()
	s.jobStop()
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		next := time.Time{}
		for _, j := range s.jobs {
			if next.IsZero() || j.nextRun.Before(next) {
				next = j.nextRun
			}
		}
		s.mu.Unlock()

		wait := time.Hour
		if !next.IsZero() {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.runCtx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue()
		}
	}
}

// fireDue dispatches every job whose next run time has arrived and advances
// its schedule.
func (s *Scheduler) fireDue() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.nextRun.After(now) {
			continue
		}

		late := now.Sub(j.nextRun)
		misfired := j.opts.MisfireGrace > 0 && late > j.opts.MisfireGrace
		switch {
		case j.running >= j.opts.maxInstances():
			log.Warn().Str("job", id).Int("running", j.running).
				Msg("max instances reached, skipping run")
		default:
			if misfired {
				log.Warn().Str("job", id).Dur("late", late).
					Msg("run misfired, dispatching catch-up")
			}
			j.running++
			s.dispatch(j)
		}

		// Advance the schedule. Coalescing computes the next run from now,
		// collapsing any backlog; otherwise each missed slot fires in turn.
		// A misfire always collapses: the catch-up run stands in for every
		// slot missed during the stall.
		from := j.nextRun
		if j.opts.Coalesce || misfired {
			from = now
		}
		next := j.trigger.Next(from)
		if next.IsZero() {
			delete(s.jobs, id)
			continue
		}
		j.nextRun = next
	}
}

// dispatch runs the job on the worker pool. Caller holds the lock and has
// already incremented j.running. fn is captured here because AddOrReplace
// may swap it while this run is still in flight.
func (s *Scheduler) dispatch(j *job) {
	fn := j.fn
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			j.running--
			s.mu.Unlock()
		}()

		if err := s.sem.Acquire(s.runCtx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		s.run(j.id, fn)
	}()
}

func (s *Scheduler) run(id string, fn JobFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", id).Interface("panic", r).Msg("job panicked")
		}
	}()

	start := s.now()
	if err := fn(s.jobCtx); err != nil {
		log.Error().Err(err).Str("job", id).Msg("job failed")
		return
	}
	log.Debug().Str("job", id).Dur("duration", s.now().Sub(start)).Msg("job completed")
}

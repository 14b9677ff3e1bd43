package rollup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hostwatch/internal/clock"
	"hostwatch/internal/logging"
)

// Scheduler triggers the hourly pass at every wall-clock hour and the daily
// pass (hourly first) at local midnight, plus one catch-up pass shortly
// after start for whatever accumulated while the process was down.
type Scheduler struct {
	agg     *Aggregator
	cron    *cron.Cron
	clock   clock.Clock
	catchUp time.Duration
	log     *slog.Logger

	// daily is shared by the cron entry and the catch-up pass so the two
	// never overlap.
	daily cron.Job

	mu      sync.Mutex
	ctx     context.Context
	timer   clock.Timer
	stopped bool
	active  int
	wg      sync.WaitGroup
}

type SchedulerOptions struct {
	Location     *time.Location
	CatchUpDelay time.Duration
	Clock        clock.Clock
}

func NewScheduler(agg *Aggregator, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	cl := logging.CronLogger{Log: logger}
	wrappers := []cron.JobWrapper{cron.Recover(cl), cron.SkipIfStillRunning(cl)}
	s := &Scheduler{
		agg: agg,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(wrappers...),
		),
		clock:   opts.Clock,
		catchUp: opts.CatchUpDelay,
		log:     logger,
		ctx:     context.Background(),
	}
	s.daily = cron.NewChain(wrappers...).Then(cron.FuncJob(s.runDaily))
	return s
}

// Start registers the jobs and starts the cron loop. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if _, err := s.cron.AddFunc("@hourly", s.hourly); err != nil {
		return err
	}
	if _, err := s.cron.AddJob("@daily", s.daily); err != nil {
		return err
	}
	s.cron.Start()
	if s.catchUp > 0 {
		s.mu.Lock()
		s.timer = s.clock.AfterFunc(s.catchUp, s.runCatchUp)
		s.mu.Unlock()
	}
	s.log.Info("rollup scheduler started", "catch_up_in", s.catchUp)
	return nil
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) hourly() {
	if _, err := s.agg.RunHourly(s.jobContext()); err != nil {
		s.log.Error("hourly rollup", "err", err)
	}
}

// runCatchUp runs the daily job once outside cron. Stop waits for it.
func (s *Scheduler) runCatchUp() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.active++
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.daily.Run()
}

func (s *Scheduler) runDaily() {
	s.hourly()
	if _, err := s.agg.RunDaily(s.jobContext()); err != nil {
		s.log.Error("daily rollup", "err", err)
	}
}

// Stop cancels a pending catch-up pass and waits for running jobs,
// including a catch-up pass already under way, to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.active > 0 {
		s.log.Info("waiting for catch-up rollup")
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	catchUpDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(catchUpDone)
	}()
	for _, done := range []<-chan struct{}{cronDone.Done(), catchUpDone} {
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn("rollup job still running at shutdown")
			return
		}
	}
}

// Entries reports the next scheduled run of each job.
func (s *Scheduler) Entries() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

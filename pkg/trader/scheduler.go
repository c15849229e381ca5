package trader

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler drives one engine cycle per configured pair on a fixed
// interval. Pairs run in parallel; cycles for the same pair never overlap.
// A pair whose previous cycle is still running simply skips the tick.
type Scheduler struct {
	engine   *Engine
	jobs     []Job
	interval time.Duration
	logger   *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewScheduler(engine *Engine, jobs []Job, interval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		go func() {
			log := s.logger.WithFields(logrus.Fields{
				"user_id":  job.UserID,
				"currency": job.Currency,
			})

			lock := s.pairLock(job)
			if !lock.TryLock() {
				log.Debug("Previous cycle still running, skipping tick")
				return
			}
			defer lock.Unlock()

			if err := s.engine.RunCycle(ctx, job); err != nil {
				log.WithError(err).Error("Cycle failed")
			}
		}()
	}
}

func (s *Scheduler) pairLock(job Job) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[job.Key()]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[job.Key()] = lock
	}
	return lock
}

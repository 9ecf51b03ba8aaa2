package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditforge/api/internal/model"
	"github.com/auditforge/api/internal/store"
)

// JobRunner executes the pipeline for one claimed job.
type JobRunner interface {
	ProcessJob(ctx context.Context, job *model.Job)
}

// Scheduler admits queued jobs into a bounded worker pool and expires
// jobs that overrun their hard timeout.
type Scheduler struct {
	store    store.JobStore
	runner   JobRunner
	poolSize int

	jobTimeout       time.Duration
	dispatchInterval time.Duration
	watchdogInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a Scheduler. Zero values fall back to defaults.
type Options struct {
	PoolSize         int
	JobTimeout       time.Duration
	DispatchInterval time.Duration
	WatchdogInterval time.Duration
}

// New creates a scheduler over the given store and runner
func New(st store.JobStore, runner JobRunner, opts Options) *Scheduler {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 20 * time.Minute
	}
	if opts.DispatchInterval <= 0 {
		opts.DispatchInterval = 2 * time.Second
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:            st,
		runner:           runner,
		poolSize:         opts.PoolSize,
		jobTimeout:       opts.JobTimeout,
		dispatchInterval: opts.DispatchInterval,
		watchdogInterval: opts.WatchdogInterval,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start launches the dispatcher and watchdog loops
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.dispatchLoop()
	go s.watchdogLoop()
	log.Printf("Scheduler started (pool size %d, job timeout %s)", s.poolSize, s.jobTimeout)
}

// Stop shuts the loops down and waits for in-flight jobs to return
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch claims queued jobs up to the pool's free capacity and hands
// them to workers. A claim that affects no rows means another instance
// won the job; it is skipped without error. A claim that errors marks
// the job failed with the claim error as its message.
func (s *Scheduler) dispatch() {
	running, err := s.store.ListRunning(s.ctx)
	if err != nil {
		log.Printf("Dispatcher failed to count running jobs: %v", err)
		return
	}
	available := s.poolSize - len(running)
	if available <= 0 {
		return
	}

	queued, err := s.store.ListQueued(s.ctx, available)
	if err != nil {
		log.Printf("Dispatcher failed to list queued jobs: %v", err)
		return
	}

	for _, job := range queued {
		workerID := "worker-" + uuid.New().String()[:8]
		claimed, err := s.store.SetRunning(s.ctx, job.ID, workerID)
		if err != nil {
			log.Printf("Failed to claim job %s: %v", job.ID, err)
			if ferr := s.store.FailQueued(s.ctx, job.ID, err.Error()); ferr != nil {
				log.Printf("Failed to mark job %s failed: %v", job.ID, ferr)
			}
			continue
		}
		if claimed == nil {
			// Lost the claim race
			continue
		}

		s.wg.Add(1)
		go func(j *model.Job) {
			defer s.wg.Done()
			jobCtx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
			defer cancel()
			s.runner.ProcessJob(jobCtx, j)
		}(claimed)
	}
}

func (s *Scheduler) watchdogLoop() {
	defer s.wg.Done()

	for {
		n, err := s.store.ExpireStale(s.ctx, s.jobTimeout)
		if err != nil {
			log.Printf("Watchdog failed to expire stale jobs: %v", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if n > 0 {
			log.Printf("Watchdog expired %d stale jobs", n)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.watchdogInterval):
		}
	}
}

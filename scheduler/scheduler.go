package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is a long-running loop that exits when its context is cancelled.
type Job interface {
	Run(ctx context.Context)
}

// Auditor runs one abuse-detection pass on demand.
type Auditor interface {
	Run(ctx context.Context) error
}

// Scheduler owns the daemon's background work: the continuously running
// crawl and reconcile loops, plus an optional cron-driven abuse audit
// that runs outside the loops' own passes.
type Scheduler struct {
	jobs   []Job
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches every registered job. When auditSpec is non-empty it is
// parsed as a cron expression scheduling extra audit passes.
func (s *Scheduler) Start(auditor Auditor, auditSpec string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			j.Run(ctx)
		}(job)
	}

	if auditSpec != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(auditSpec, func() {
			if err := auditor.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Scheduler: scheduled audit failed: %v", err)
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("invalid audit schedule %q: %w", auditSpec, err)
		}
		s.cron.Start()
		log.Printf("Scheduler: audit cron %q armed", auditSpec)
	}

	log.Printf("Scheduler: %d jobs started", len(s.jobs))
	return nil
}

// Stop cancels every job and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Println("Scheduler: stopped")
}

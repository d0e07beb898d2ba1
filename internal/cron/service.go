package cron

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/stashbot/internal/config"
)

// Service runs the configured board jobs on their cron schedules. Job
// expressions take six fields with seconds first, or a descriptor such as
// "@every 1h".
type Service struct {
	mu       sync.Mutex
	jobs     []CronJob
	OnJob    func(job CronJob) (string, error)
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	stopCh   chan struct{}
}

func NewService(jobs []config.JobConfig) *Service {
	s := &Service{entryMap: make(map[string]rcron.EntryID)}
	for _, cfg := range jobs {
		s.jobs = append(s.jobs, NewCronJob(cfg))
	}
	return s
}

func (s *Service) Start(ctx context.Context) error {
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithSeconds())
	var errs []error
	for i := range s.jobs {
		if !s.jobs[i].Enabled {
			continue
		}
		if err := s.registerJob(&s.jobs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	count := len(s.entryMap)
	s.mu.Unlock()

	for _, err := range errs {
		log.Printf("[cron] skipping job: %v", err)
	}

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", count)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	// The scheduler runs the valid jobs even when some failed to register.
	return errors.Join(errs...)
}

func (s *Service) registerJob(job *CronJob) error {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", job.Name, job.Expr, err)
	}
	s.entryMap[job.ID] = id
	return nil
}

func (s *Service) executeJob(job CronJob) {
	log.Printf("[cron] executing job %s (%s)", job.Name, job.Action)

	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}

	result, err := s.OnJob(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAt = time.Now()
		s.jobs[i].State.Runs++
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
		}
		break
	}
}

// RunJob executes the named job immediately, outside its schedule.
func (s *Service) RunJob(name string) error {
	s.mu.Lock()
	var found *CronJob
	for i := range s.jobs {
		if s.jobs[i].Name == name || s.jobs[i].ID == name {
			job := s.jobs[i]
			found = &job
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("job %s not found", name)
	}
	s.executeJob(*found)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.cron
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					if err := s.registerJob(&s.jobs[i]); err != nil {
						return nil, err
					}
				}
			} else if entryID, ok := s.entryMap[id]; ok {
				s.cron.Remove(entryID)
				delete(s.entryMap, id)
			}
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j] + "..."
		}
		i++
	}
	return s
}

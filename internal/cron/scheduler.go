package cron

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	jobTimeout = time.Minute
	maxRuns    = 1000
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// JobFunc is the work a job runs when it fires.
type JobFunc func(ctx context.Context) error

// Job describes a scheduled maintenance task.
type Job struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"` // cron expression, seconds optional, or @every/@hourly...
	Next     time.Time `json:"next,omitempty"`

	fn      JobFunc
	entryID cron.EntryID
}

// RunRecord tracks a job execution.
type RunRecord struct {
	Job       string    `json:"job"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Scheduler runs named in-process jobs on cron schedules.
type Scheduler struct {
	mu   sync.RWMutex
	cron *cron.Cron
	jobs map[string]*Job
	runs []RunRecord
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[string]*Job),
	}
}

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron scheduler started", "jobs", len(s.List()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Add schedules fn under name, replacing a job with the same name.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	job := &Job{Name: name, Schedule: schedule, fn: fn}
	job.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.execute(job) }))
	s.jobs[name] = job
	return nil
}

// Remove deletes a job. Unknown names are a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[name]; ok {
		s.cron.Remove(job.entryID)
		delete(s.jobs, name)
	}
}

// List returns all jobs sorted by name with their next fire time.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		c := *j
		c.Next = s.cron.Entry(j.entryID).Next
		jobs = append(jobs, c)
	}
	slices.SortFunc(jobs, func(a, b Job) int { return strings.Compare(a.Name, b.Name) })
	return jobs
}

// RunNow immediately triggers a job in the background.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	go s.execute(job)
	return nil
}

// Runs returns the most recent executions, oldest first.
func (s *Scheduler) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runs)
}

func (s *Scheduler) execute(job *Job) {
	start := time.Now()
	slog.Debug("cron job executing", "job", job.Name)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := job.fn(ctx)
	duration := time.Since(start)

	record := RunRecord{
		Job:       job.Name,
		StartedAt: start,
		Duration:  duration.String(),
		Success:   err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		slog.Error("cron job failed", "job", job.Name, "error", err, "duration", duration)
	} else {
		slog.Debug("cron job completed", "job", job.Name, "duration", duration)
	}

	s.mu.Lock()
	s.runs = append(s.runs, record)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[len(s.runs)-maxRuns/2:]
	}
	s.mu.Unlock()
}

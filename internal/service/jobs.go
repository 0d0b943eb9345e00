// Package service runs share ingestion jobs and tracks their state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for IDs the registry does not hold.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	JobStatusStarted     JobStatus = "started"
	JobStatusRunning     JobStatus = "running"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusInterrupted JobStatus = "interrupted"
)

// IsTerminal reports whether no further transitions happen from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusInterrupted:
		return true
	}
	return false
}

// Stats counts per-file and per-batch outcomes of a job.
type Stats struct {
	Total       int
	Batches     int
	BatchesDone int
	Transferred int
	Failed      int
	Trashed     int
	TimedOut    int
}

// Job is a point-in-time copy of a job's record.
type Job struct {
	ID         string
	Share      string
	Status     JobStatus
	Progress   float64 // 0..100
	ShouldStop bool
	Result     *string
	StartedAt  time.Time
	UpdatedAt  time.Time
	Stats      Stats
}

// JobUpdate carries the fields to merge into a job. Nil fields are left alone.
type JobUpdate struct {
	Status   *JobStatus
	Progress *float64
	Result   *string
	Stats    *Stats
}

// Registry tracks jobs in memory. All methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry whose sweep evicts terminal jobs idle for
// longer than ttl.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Create allocates a job in the started state and returns its ID.
func (r *Registry) Create(shareName string) string {
	now := r.now()
	job := &Job{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Share:     shareName,
		Status:    JobStatusStarted,
		StartedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	for r.jobs[job.ID] != nil {
		job.ID = uuid.New().String()[:8]
	}
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.logger.Info("job created", "job_id", job.ID, "share", shareName)
	return job.ID
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns all jobs, most recent first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	r.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Update merges u into the job and refreshes UpdatedAt. Progress never moves
// backwards. Once a job is terminal its status, progress, result and stats
// are frozen; the update carrying the terminal transition still applies
// its other fields.
func (r *Registry) Update(id string, u JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		p := min(max(*u.Progress, 0), 100)
		if p > job.Progress {
			job.Progress = p
		}
	}
	if u.Result != nil {
		res := *u.Result
		job.Result = &res
	}
	if u.Stats != nil {
		job.Stats = *u.Stats
	}
	job.UpdatedAt = r.now()
	return nil
}

// RequestStop flags the job; the scheduler performs the transition.
func (r *Registry) RequestStop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.ShouldStop = true
	job.UpdatedAt = r.now()
	r.logger.Info("job stop requested", "job_id", id)
	return nil
}

// ShouldStop reports whether the job was asked to stop. A job the registry
// no longer holds was discarded by StopAll and should stop too.
func (r *Registry) ShouldStop(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return !ok || job.ShouldStop
}

// StopAll flags every job and clears the registry. It returns how many jobs
// were discarded.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.jobs)
	for _, job := range r.jobs {
		job.ShouldStop = true
	}
	clear(r.jobs)
	r.logger.Info("all jobs stopped", "count", n)
	return n
}

// Sweep evicts terminal jobs whose last update is older than the TTL.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && now.Sub(job.UpdatedAt) > r.ttl {
			delete(r.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("swept expired jobs", "count", evicted)
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.Sweep(t)
		}
	}
}

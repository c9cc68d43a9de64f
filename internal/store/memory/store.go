// Package memory provides an in-memory JobStore for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snapfetch/snapfetch/internal/content"
)

// record keeps completed results sparse by item index so concurrent workers
// can write positionally while the materialized array stays index-ordered.
type record struct {
	job     content.Job
	results map[int]content.ItemResult
}

// Store implements content.JobStore with a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

// New constructs a Store.
func New() *Store {
	return &Store{jobs: make(map[string]*record)}
}

// Create stores a new job.
func (s *Store) Create(_ context.Context, job content.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Results = nil
	s.jobs[job.ID] = &record{
		job:     job,
		results: make(map[int]content.ItemResult),
	}
	return nil
}

// Get fetches a job by ID with counts and results materialized.
func (s *Store) Get(_ context.Context, jobID string) (content.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return content.Job{}, content.ErrNotFound
	}
	return materialize(rec), nil
}

// UpdateItem records the result for one item index and advances the counts.
func (s *Store) UpdateItem(_ context.Context, jobID string, index int, result content.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return content.ErrNotFound
	}
	rec.results[index] = result
	return nil
}

// SetStatus transitions the job's status.
func (s *Store) SetStatus(
	_ context.Context,
	jobID string,
	status content.JobStatus,
	errText string,
	completedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return content.ErrNotFound
	}
	rec.job.Status = status
	rec.job.ErrorMessage = errText
	if completedAt != nil {
		rec.job.CompletedAt = completedAt
	}
	return nil
}

// Delete removes the job.
func (s *Store) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return content.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error {
	return nil
}

// materialize builds the positional results array. Indexes past the highest
// recorded one are omitted; gaps below it (items passed over by cancellation)
// are filled with a marker so Results[i] always corresponds to Items[i].
func materialize(rec *record) content.Job {
	job := rec.job
	job.ProcessedURLs = len(rec.results)
	job.Progress = content.ProgressPercent(job.ProcessedURLs, job.TotalURLs)

	last := -1
	for i := range rec.results {
		if i > last {
			last = i
		}
	}
	job.Results = make([]content.ItemResult, 0, last+1)
	for i := 0; i <= last; i++ {
		if r, ok := rec.results[i]; ok {
			job.Results = append(job.Results, r)
			continue
		}
		job.Results = append(job.Results, skippedResult(rec.job.Items, i))
	}
	return job
}

func skippedResult(items []content.WorkItem, i int) content.ItemResult {
	res := content.ItemResult{
		Success:   false,
		Error:     "not processed",
		ErrorKind: "skipped",
	}
	if i < len(items) {
		res.URL = items[i].URL
		res.Format = items[i].Format
		res.OriginalURL = items[i].URL
	}
	return res
}

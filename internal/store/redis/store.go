// Package redis provides the durable JobStore backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapfetch/snapfetch/internal/content"
)

const keyPrefix = "snapfetch:jobs:"

// record is the JSON document persisted per job. Results are keyed by item
// index (stringified for JSON) so positional writes survive round-trips.
type record struct {
	Job     content.Job                   `json:"job"`
	Results map[string]content.ItemResult `json:"results"`
}

// Store implements content.JobStore on go-redis.
//
// UpdateItem and SetStatus are read-modify-write: the orchestrator is the
// only writer per job and serializes completions, so no cross-process CAS is
// needed.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Store from a Redis URL.
func New(redisURL string, jobTTL time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts), ttl: jobTTL}, nil
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(client *redis.Client, jobTTL time.Duration) *Store {
	return &Store{client: client, ttl: jobTTL}
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	return nil
}

// Create persists a new job record.
func (s *Store) Create(ctx context.Context, job content.Job) error {
	job.Results = nil
	rec := record{Job: job, Results: map[string]content.ItemResult{}}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+job.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// Get fetches a job with counts and results materialized.
func (s *Store) Get(ctx context.Context, jobID string) (content.Job, error) {
	rec, err := s.load(ctx, jobID)
	if err != nil {
		return content.Job{}, err
	}
	return materialize(rec), nil
}

// UpdateItem records the result for one item index.
func (s *Store) UpdateItem(ctx context.Context, jobID string, index int, result content.ItemResult) error {
	rec, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	rec.Results[strconv.Itoa(index)] = result
	return s.save(ctx, jobID, rec)
}

// SetStatus transitions the job's status.
func (s *Store) SetStatus(
	ctx context.Context,
	jobID string,
	status content.JobStatus,
	errText string,
	completedAt *time.Time,
) error {
	rec, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	rec.Job.Status = status
	rec.Job.ErrorMessage = errText
	if completedAt != nil {
		rec.Job.CompletedAt = completedAt
	}
	return s.save(ctx, jobID, rec)
}

// Delete removes the job record.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	n, err := s.client.Del(ctx, keyPrefix+jobID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *Store) load(ctx context.Context, jobID string) (record, error) {
	data, err := s.client.Get(ctx, keyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, content.ErrNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	if rec.Results == nil {
		rec.Results = map[string]content.ItemResult{}
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, jobID string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+jobID, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	return nil
}

// materialize builds the positional results array. Indexes past the highest
// recorded one are omitted; gaps below it (items passed over by cancellation)
// are filled with a marker so Results[i] always corresponds to Items[i].
func materialize(rec record) content.Job {
	job := rec.Job

	last := -1
	recorded := 0
	for k := range rec.Results {
		i, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		recorded++
		if i > last {
			last = i
		}
	}
	job.ProcessedURLs = recorded
	job.Progress = content.ProgressPercent(job.ProcessedURLs, job.TotalURLs)

	job.Results = make([]content.ItemResult, 0, last+1)
	for i := 0; i <= last; i++ {
		if r, ok := rec.Results[strconv.Itoa(i)]; ok {
			job.Results = append(job.Results, r)
			continue
		}
		job.Results = append(job.Results, skippedResult(rec.Job.Items, i))
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

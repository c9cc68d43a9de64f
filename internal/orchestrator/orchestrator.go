// Package orchestrator runs batch jobs as bounded worker pools over the
// fetch-convert pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/snapfetch/snapfetch/internal/content"
	"github.com/snapfetch/snapfetch/internal/metrics"
)

// Converter is the per-item unit of work. Satisfied by pipeline.Converter.
type Converter interface {
	Convert(ctx context.Context, item content.WorkItem, timeout time.Duration) content.ItemResult
}

// Defaults are applied to a JobSpec when the caller omits a knob.
type Defaults struct {
	Format         content.Format
	Concurrency    int
	MaxConcurrency int
	TimeoutPerURL  time.Duration
}

// Orchestrator accepts job specifications, schedules converter invocations
// under each job's concurrency limit, and tracks state in the JobStore.
type Orchestrator struct {
	store     content.JobStore
	converter Converter
	idGen     content.IDGenerator
	clock     content.Clock
	publisher content.Publisher
	topic     string
	defaults  Defaults
	logger    *zap.Logger

	baseCtx context.Context

	mu     sync.Mutex
	active map[string]*jobRun
	wg     sync.WaitGroup
}

// jobRun is the in-process handle for a running job. The cancelled flag is
// observed cooperatively by workers before each new item.
type jobRun struct {
	cancelled atomic.Bool
}

// New constructs an Orchestrator. baseCtx bounds the lifetime of all job
// goroutines; cancelling it stops new items across every job.
func New(
	baseCtx context.Context,
	store content.JobStore,
	converter Converter,
	idGen content.IDGenerator,
	clock content.Clock,
	defaults Defaults,
	logger *zap.Logger,
) *Orchestrator {
	if defaults.Concurrency <= 0 {
		defaults.Concurrency = 4
	}
	if defaults.MaxConcurrency < defaults.Concurrency {
		defaults.MaxConcurrency = defaults.Concurrency
	}
	if defaults.TimeoutPerURL <= 0 {
		defaults.TimeoutPerURL = 30 * time.Second
	}
	if defaults.Format == "" {
		defaults.Format = content.FormatMarkdown
	}
	return &Orchestrator{
		store:     store,
		converter: converter,
		idGen:     idGen,
		clock:     clock,
		defaults:  defaults,
		logger:    logger,
		baseCtx:   baseCtx,
		active:    make(map[string]*jobRun),
	}
}

// WithPublisher attaches a completion-event publisher.
func (o *Orchestrator) WithPublisher(p content.Publisher, topic string) *Orchestrator {
	o.publisher = p
	o.topic = topic
	return o
}

// Submit validates the spec, persists a pending job, and dispatches the
// worker pool. It returns the job ID without waiting on any item.
func (o *Orchestrator) Submit(ctx context.Context, spec content.JobSpec) (string, error) {
	normalized, err := o.normalize(spec)
	if err != nil {
		return "", err
	}

	jobID, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	job := content.Job{
		ID:            jobID,
		Status:        content.JobStatusPending,
		TotalURLs:     len(normalized.Items),
		Items:         normalized.Items,
		TimeoutPerURL: normalized.TimeoutPerURL,
		Concurrency:   normalized.ConcurrencyLimit,
		CreatedAt:     o.clock.Now(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	run := &jobRun{}
	o.mu.Lock()
	o.active[jobID] = run
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job, run)
	}()

	o.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.Int("total_urls", job.TotalURLs),
		zap.Int("concurrency", job.Concurrency),
	)
	return jobID, nil
}

// Status returns the job's state, counts, and progress without full results.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (content.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return content.Job{}, err
	}
	job.Results = nil
	job.Items = nil
	return job, nil
}

// Results returns the full job including per-item results. It fails with
// ErrNotReady until the job is terminal; callers poll Status first.
func (o *Orchestrator) Results(ctx context.Context, jobID string) (content.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return content.Job{}, err
	}
	if !job.Status.Terminal() {
		return content.Job{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, content.ErrNotReady)
	}
	return job, nil
}

// Cancel requests cancellation. In-flight items finish; no new items start.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, content.ErrAlreadyTerminal)
	}

	o.mu.Lock()
	run, ok := o.active[jobID]
	o.mu.Unlock()
	if ok {
		run.cancelled.Store(true)
		o.logger.Info("job cancellation requested", zap.String("job_id", jobID))
		return nil
	}

	// Not running in this process (e.g. found after a restart): transition
	// directly.
	now := o.clock.Now()
	return o.store.SetStatus(ctx, jobID, content.JobStatusCancelled, "", &now)
}

// Delete removes a job record.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	o.mu.Lock()
	_, running := o.active[jobID]
	o.mu.Unlock()
	if running {
		return fmt.Errorf("job %s still running: %w", jobID, content.ErrNotReady)
	}
	return o.store.Delete(ctx, jobID)
}

// Drain blocks until all running jobs finish or ctx expires.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}

// run drives one job to a terminal state.
func (o *Orchestrator) run(job content.Job, run *jobRun) {
	defer func() {
		o.mu.Lock()
		delete(o.active, job.ID)
		o.mu.Unlock()
	}()

	var (
		startOnce    sync.Once
		completionMu sync.Mutex
		succeeded    int
		failed       int
		storeErr     error
	)

	indexCh := make(chan int)
	go func() {
		defer close(indexCh)
		for i := range job.Items {
			if run.cancelled.Load() || o.baseCtx.Err() != nil {
				return
			}
			select {
			case indexCh <- i:
			case <-o.baseCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < job.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				// Cooperative cancellation boundary: in-flight items always
				// finish, nothing new starts.
				if run.cancelled.Load() {
					continue
				}
				startOnce.Do(func() {
					if err := o.store.SetStatus(o.baseCtx, job.ID, content.JobStatusProcessing, "", nil); err != nil {
						o.logger.Error("mark processing failed", zap.String("job_id", job.ID), zap.Error(err))
					}
				})

				metrics.IncActiveWorkers()
				result := o.converter.Convert(o.baseCtx, job.Items[idx], job.TimeoutPerURL)
				metrics.DecActiveWorkers()

				// The completion step is the only critical section; the
				// fetch/render/convert above runs without any job lock held.
				completionMu.Lock()
				if err := o.store.UpdateItem(o.baseCtx, job.ID, idx, result); err != nil {
					if errors.Is(err, content.ErrStoreUnavailable) && storeErr == nil {
						storeErr = err
						run.cancelled.Store(true)
					}
					o.logger.Error("record item failed",
						zap.String("job_id", job.ID),
						zap.Int("index", idx),
						zap.Error(err),
					)
				} else if result.Success {
					succeeded++
				} else {
					failed++
				}
				completionMu.Unlock()
			}
		}()
	}
	wg.Wait()

	status := content.JobStatusCompleted
	errText := ""
	switch {
	case storeErr != nil:
		status = content.JobStatusFailed
		errText = storeErr.Error()
	case run.cancelled.Load():
		status = content.JobStatusCancelled
	}

	now := o.clock.Now()
	if err := o.store.SetStatus(o.baseCtx, job.ID, status, errText, &now); err != nil {
		o.logger.Error("final status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	o.publishCompletion(job, status, succeeded, failed, now)

	o.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
}

func (o *Orchestrator) publishCompletion(
	job content.Job,
	status content.JobStatus,
	succeeded, failed int,
	finished time.Time,
) {
	if o.publisher == nil {
		return
	}
	event := content.CompletionEvent{
		JobID:         job.ID,
		Status:        status,
		TotalURLs:     job.TotalURLs,
		ProcessedURLs: succeeded + failed,
		Succeeded:     succeeded,
		Failed:        failed,
		DurationSecs:  finished.Sub(job.CreatedAt).Seconds(),
		Timestamp:     finished,
	}
	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.publisher.Publish(publishCtx, o.topic, event); err != nil {
		o.logger.Warn("completion publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// normalize validates the spec and fills defaults.
func (o *Orchestrator) normalize(spec content.JobSpec) (content.JobSpec, error) {
	if len(spec.Items) == 0 {
		return content.JobSpec{}, content.NewValidationError("items", "must not be empty")
	}
	if spec.ConcurrencyLimit < 0 {
		return content.JobSpec{}, content.NewValidationError("concurrency_limit", "must be >= 1")
	}
	if spec.ConcurrencyLimit == 0 {
		spec.ConcurrencyLimit = o.defaults.Concurrency
	}
	if spec.ConcurrencyLimit > o.defaults.MaxConcurrency {
		spec.ConcurrencyLimit = o.defaults.MaxConcurrency
	}
	if spec.TimeoutPerURL <= 0 {
		spec.TimeoutPerURL = o.defaults.TimeoutPerURL
	}
	if spec.DefaultFormat == "" {
		spec.DefaultFormat = o.defaults.Format
	}
	if !spec.DefaultFormat.Valid() {
		return content.JobSpec{}, content.NewValidationError("default_format",
			fmt.Sprintf("unknown format %q", spec.DefaultFormat))
	}

	items := make([]content.WorkItem, len(spec.Items))
	copy(items, spec.Items)
	for i := range items {
		if items[i].URL == "" {
			return content.JobSpec{}, content.NewValidationError("items",
				fmt.Sprintf("item %d has no url", i))
		}
		if items[i].Format == "" {
			items[i].Format = spec.DefaultFormat
		}
		if !items[i].Format.Valid() {
			return content.JobSpec{}, content.NewValidationError("items",
				fmt.Sprintf("item %d has unknown format %q", i, items[i].Format))
		}
	}
	spec.Items = items
	return spec, nil
}

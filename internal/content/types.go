// Package content defines core types shared across subsystems.
package content

import (
	"math"
	"time"
)

// Format identifies the output representation requested for a URL.
type Format string

// Output formats accepted on work items.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// Valid reports whether f is one of the accepted formats.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatMarkdown, FormatJSON, FormatHTML, FormatPDF:
		return true
	default:
		return false
	}
}

// Binary reports whether the format produces bytes rather than text.
func (f Format) Binary() bool {
	return f == FormatPDF
}

// NeedsFullDocument reports whether the format depends on the complete
// rendered markup, making a headless render worth considering.
func (f Format) NeedsFullDocument() bool {
	switch f {
	case FormatHTML, FormatMarkdown, FormatPDF, FormatJSON:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// WorkItem is one (url, format) unit of work. Immutable once enqueued.
type WorkItem struct {
	URL     string            `json:"url"`
	Format  Format            `json:"format,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// JobSpec captures a batch submission before it becomes a Job.
type JobSpec struct {
	Items            []WorkItem    `json:"items"`
	DefaultFormat    Format        `json:"default_format,omitempty"`
	ConcurrencyLimit int           `json:"concurrency_limit,omitempty"`
	TimeoutPerURL    time.Duration `json:"timeout_per_url,omitempty"`
}

// ItemResult is the outcome of converting a single work item. Exactly one of
// Content/ContentBase64 is set on success; Error is set instead on failure.
type ItemResult struct {
	URL            string  `json:"url"`
	Format         Format  `json:"format"`
	Success        bool    `json:"success"`
	Content        string  `json:"content,omitempty"`
	ContentBase64  string  `json:"content_base64,omitempty"`
	Size           int     `json:"size"`
	Duration       float64 `json:"duration"`
	Error          string  `json:"error,omitempty"`
	ErrorKind      string  `json:"error_kind,omitempty"`
	RenderedWithJS bool    `json:"rendered_with_js"`
	OriginalURL    string  `json:"original_url,omitempty"`
	ContentLength  int     `json:"content_length"`
}

// Job is the aggregate persisted for each submitted batch.
type Job struct {
	ID            string       `json:"id"`
	Status        JobStatus    `json:"status"`
	TotalURLs     int          `json:"total_urls"`
	ProcessedURLs int          `json:"processed_urls"`
	Progress      int          `json:"progress"`
	Items         []WorkItem   `json:"items"`
	Results       []ItemResult `json:"results"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	TimeoutPerURL time.Duration `json:"timeout_per_url"`
	Concurrency   int          `json:"concurrency"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// ProgressPercent derives the integer progress for the given counts. Progress
// is never stored independently of the counts it derives from.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(100 * float64(processed) / float64(total)))
}

// Summary aggregates per-item outcomes for a terminal job.
type Summary struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalDuration      float64 `json:"total_duration"`
}

// Summarize computes the Summary for a job's recorded results.
func Summarize(job Job) Summary {
	s := Summary{TotalRequests: job.TotalURLs}
	for _, r := range job.Results {
		if r.Success {
			s.SuccessfulRequests++
		} else {
			s.FailedRequests++
		}
	}
	if s.TotalRequests > 0 {
		rate := 100 * float64(s.SuccessfulRequests) / float64(s.TotalRequests)
		s.SuccessRate = math.Round(rate*10) / 10
	}
	if job.CompletedAt != nil {
		s.TotalDuration = job.CompletedAt.Sub(job.CreatedAt).Seconds()
	}
	return s
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     map[string][]string
	Body        []byte
	Duration    time.Duration
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	TotalURLs     int       `json:"total_urls"`
	ProcessedURLs int       `json:"processed_urls"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	DurationSecs  float64   `json:"duration_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

package content

import (
	"context"
	"time"
)

// Fetcher retrieves a URL over plain HTTP and returns body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (FetchResponse, error)
}

// Renderer executes a page in a headless browser. Render must only be called
// while a RenderGate permit for the matching kind is held.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (string, error)
	PDF(ctx context.Context, html string, timeout time.Duration) ([]byte, error)
}

// JobStore persists job state. Implementations must report a missing job with
// ErrNotFound and an unreachable backend with ErrStoreUnavailable so callers
// can tell a user error from a service-level condition.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	UpdateItem(ctx context.Context, jobID string, index int, result ItemResult) error
	SetStatus(ctx context.Context, jobID string, status JobStatus, errText string, completedAt *time.Time) error
	Delete(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapfetch/snapfetch/internal/content"
	"github.com/snapfetch/snapfetch/internal/metrics"
	"github.com/snapfetch/snapfetch/internal/orchestrator"
	"github.com/snapfetch/snapfetch/internal/pipeline"
	memorystore "github.com/snapfetch/snapfetch/internal/store/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeConverter struct {
	fail     map[string]string // url -> error kind
	rendered bool
}

func (c *fakeConverter) Convert(_ context.Context, item content.WorkItem, _ time.Duration) content.ItemResult {
	if kind, ok := c.fail[item.URL]; ok {
		return content.ItemResult{
			URL:         item.URL,
			Format:      item.Format,
			Success:     false,
			Error:       "conversion failed",
			ErrorKind:   kind,
			OriginalURL: item.URL,
		}
	}
	return content.ItemResult{
		URL:            item.URL,
		Format:         item.Format,
		Success:        true,
		Content:        "# Converted\n\ncontent for " + item.URL,
		Size:           42,
		RenderedWithJS: c.rendered,
		OriginalURL:    item.URL,
		ContentLength:  1024,
	}
}

type seqIDGen struct {
	n atomic.Int32
}

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("job-%04d", g.n.Add(1)), nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func newTestServer(t *testing.T, conv orchestrator.Converter, cfg Config) (*httptest.Server, *memorystore.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := memorystore.New()
	orch := orchestrator.New(ctx, store, conv, &seqIDGen{}, realClock{}, orchestrator.Defaults{
		Format:         content.FormatMarkdown,
		Concurrency:    2,
		MaxConcurrency: 8,
		TimeoutPerURL:  5 * time.Second,
	}, zap.NewNop())
	srv := httptest.NewServer(NewServer(orch, conv, store, cfg, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestFetchSingle_Success(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{rendered: true}, Config{})
	resp := postJSON(t, srv.URL+"/v1/fetch", map[string]any{
		"url":    "https://example.com/article",
		"format": "markdown",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get("X-Rendered-With-JS"))
	require.Equal(t, "https://example.com/article", resp.Header.Get("X-Original-URL"))
	require.Equal(t, "1024", resp.Header.Get("X-Content-Length"))

	var result content.ItemResult
	decodeBody(t, resp, &result)
	require.True(t, result.Success)
	require.Contains(t, result.Content, "# Converted")
}

func TestFetchSingle_Validation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})

	resp := postJSON(t, srv.URL+"/v1/fetch", map[string]any{"format": "markdown"})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/fetch", map[string]any{
		"url":    "https://example.com/",
		"format": "docx",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchSingle_CapacityMapsTo503(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{fail: map[string]string{
		"https://busy.example/": pipeline.ErrKindCapacity,
	}}
	srv, _ := newTestServer(t, conv, Config{})

	resp := postJSON(t, srv.URL+"/v1/fetch", map[string]any{"url": "https://busy.example/"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var result content.ItemResult
	decodeBody(t, resp, &result)
	require.False(t, result.Success)
	require.Equal(t, pipeline.ErrKindCapacity, result.ErrorKind)
}

func TestFetchSingle_FetchErrorMapsTo500(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{fail: map[string]string{
		"https://down.example/": pipeline.ErrKindFetch,
	}}
	srv, _ := newTestServer(t, conv, Config{})

	resp := postJSON(t, srv.URL+"/v1/fetch", map[string]any{"url": "https://down.example/"})
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})

	resp := postJSON(t, srv.URL+"/v1/batch", map[string]any{
		"items": []map[string]string{
			{"url": "https://a.example/"},
			{"url": "https://b.example/", "format": "text"},
		},
		"concurrency_limit": 2,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &submitted)
	require.NotEmpty(t, submitted.JobID)

	statusURL := srv.URL + "/v1/batch/" + submitted.JobID + "/status"
	var statusBody struct {
		Job content.Job `json:"job"`
	}
	require.Eventually(t, func() bool {
		r, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&statusBody); err != nil {
			return false
		}
		return statusBody.Job.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, content.JobStatusCompleted, statusBody.Job.Status)
	require.Equal(t, 2, statusBody.Job.ProcessedURLs)
	require.Equal(t, 100, statusBody.Job.Progress)
	require.Nil(t, statusBody.Job.Results)

	r, err := http.Get(srv.URL + "/v1/batch/" + submitted.JobID + "/results")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, r.StatusCode)
	var resultsBody struct {
		Job     content.Job     `json:"job"`
		Summary content.Summary `json:"summary"`
	}
	decodeBody(t, r, &resultsBody)
	require.Len(t, resultsBody.Job.Results, 2)
	require.Equal(t, "https://a.example/", resultsBody.Job.Results[0].URL)
	require.Equal(t, "https://b.example/", resultsBody.Job.Results[1].URL)
	require.Equal(t, 2, resultsBody.Summary.SuccessfulRequests)
	require.InDelta(t, 100.0, resultsBody.Summary.SuccessRate, 0.001)

	// The job handle is deregistered shortly after the terminal status lands,
	// so retry until the delete is accepted.
	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/batch/"+submitted.JobID, nil)
		if err != nil {
			return false
		}
		dr, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		dr.Body.Close()
		return dr.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	r2, err := http.Get(statusURL)
	require.NoError(t, err)
	r2.Body.Close()
	require.Equal(t, http.StatusNotFound, r2.StatusCode)
}

func TestBatchSubmit_Validation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})

	resp := postJSON(t, srv.URL+"/v1/batch", map[string]any{"items": []map[string]string{}})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/batch", map[string]any{
		"items":             []map[string]string{{"url": "https://a.example/"}},
		"concurrency_limit": -3,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStatus_UnknownJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})
	resp, err := http.Get(srv.URL + "/v1/batch/no-such-job/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetResults_NotReadyMapsTo409(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, &fakeConverter{}, Config{})

	// A job persisted as pending with no worker attached stays non-terminal.
	require.NoError(t, store.Create(context.Background(), content.Job{
		ID:        "stuck-job",
		Status:    content.JobStatusProcessing,
		TotalURLs: 1,
		CreatedAt: time.Now().UTC(),
	}))

	resp, err := http.Get(srv.URL + "/v1/batch/stuck-job/results")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancel_TerminalMapsTo409(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, &fakeConverter{}, Config{})

	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), content.Job{
		ID:        "done-job",
		Status:    content.JobStatusPending,
		TotalURLs: 1,
		CreatedAt: now,
	}))
	require.NoError(t, store.SetStatus(context.Background(), "done-job", content.JobStatusCompleted, "", &now))

	resp := postJSON(t, srv.URL+"/v1/batch/done-job/cancel", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{
		AuthEnabled: true,
		APIKey:      "sekrit",
	})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz?api_key=sekrit")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeConverter{}, Config{})
	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

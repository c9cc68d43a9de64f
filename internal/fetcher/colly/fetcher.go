// Package collyfetcher implements content.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/snapfetch/snapfetch/internal/content"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher fetches single URLs with the Colly collector. Unlike a crawl
// collector it never follows links; every fetch is one explicit GET.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// The visited-URL store is shared across Clone calls; the same URL must
	// stay fetchable any number of times.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Per-item headers override collector
// defaults; a non-2xx status is reported as a FetchError.
func (f *Fetcher) Fetch(
	ctx context.Context,
	url string,
	headers map[string]string,
	timeout time.Duration,
) (content.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return content.FetchResponse{}, fmt.Errorf("fetch canceled: %w", err)
	}

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   content.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = content.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Headers:     *r.Headers,
			Body:        r.Body,
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &content.FetchError{URL: url, StatusCode: r.StatusCode, Err: err}
			return
		}
		fetchErr = &content.FetchError{URL: url, Err: err}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(url); err != nil && fetchErr == nil {
			fetchErr = &content.FetchError{URL: url, Err: err}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return content.FetchResponse{}, &content.FetchError{URL: url, Err: ctx.Err()}
	}

	if fetchErr != nil {
		return content.FetchResponse{}, fetchErr
	}
	if result.StatusCode == 0 {
		return content.FetchResponse{}, &content.FetchError{URL: url, Err: fmt.Errorf("no response received")}
	}
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

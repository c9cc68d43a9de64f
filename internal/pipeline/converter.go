// Package pipeline orchestrates fetch, optional render, and format conversion
// for a single URL.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapfetch/snapfetch/internal/classifier"
	"github.com/snapfetch/snapfetch/internal/content"
	"github.com/snapfetch/snapfetch/internal/convert"
	"github.com/snapfetch/snapfetch/internal/metrics"
	"github.com/snapfetch/snapfetch/internal/rendergate"
)

// Error kinds recorded on failed item results so callers can tell a
// retry-later condition from a content error.
const (
	ErrKindValidation = "validation"
	ErrKindFetch      = "fetch"
	ErrKindRender     = "render"
	ErrKindConvert    = "convert"
	ErrKindCapacity   = "capacity"
)

// Converter is the unit of work shared by the single-URL path and the batch
// path. Convert never returns an error: every failure mode is captured in the
// returned ItemResult.
type Converter struct {
	fetcher    content.Fetcher
	classifier *classifier.Classifier
	gate       *rendergate.Gate
	renderer   content.Renderer
	clock      content.Clock
	archive    content.BlobStore
	hasher     content.Hasher
	prefix     string
	logger     *zap.Logger
}

// Option customizes a Converter.
type Option func(*Converter)

// WithArchive enables archiving of final HTML into the given blob store,
// content-addressed under prefix.
func WithArchive(store content.BlobStore, hasher content.Hasher, prefix string) Option {
	return func(c *Converter) {
		c.archive = store
		c.hasher = hasher
		c.prefix = prefix
	}
}

// New constructs a Converter.
func New(
	fetcher content.Fetcher,
	cls *classifier.Classifier,
	gate *rendergate.Gate,
	renderer content.Renderer,
	clock content.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Converter {
	c := &Converter{
		fetcher:    fetcher,
		classifier: cls,
		gate:       gate,
		renderer:   renderer,
		clock:      clock,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert runs fetch, an optional gated render, and format conversion for one
// work item, honoring timeout per step.
func (c *Converter) Convert(ctx context.Context, item content.WorkItem, timeout time.Duration) content.ItemResult {
	start := c.clock.Now()

	if !item.Format.Valid() {
		return c.fail(item, start, ErrKindValidation,
			fmt.Errorf("unsupported format %q", item.Format))
	}

	resp, err := c.fetcher.Fetch(ctx, item.URL, item.Headers, timeout)
	if err != nil {
		metrics.ObserveFetch("error")
		return c.fail(item, start, ErrKindFetch, err)
	}
	metrics.ObserveFetch("success")

	html := string(resp.Body)
	renderedWithJS := false

	if c.shouldConsiderRender(item.Format, resp.ContentType) {
		decision := c.classifier.Classify(resp.Body, item.URL, false)
		if decision.NeedsRender {
			rendered, rerr := c.renderGated(ctx, item.URL, timeout)
			if rerr != nil {
				kind := ErrKindRender
				if isCapacity(rerr) {
					kind = ErrKindCapacity
				}
				return c.fail(item, start, kind, rerr)
			}
			html = rendered
			renderedWithJS = true
			c.logger.Debug("headless render applied",
				zap.String("url", item.URL),
				zap.String("reason", decision.Reason),
			)
		}
	}

	out, outB64, cerr := c.toFormat(ctx, item, html, timeout)
	if cerr != nil {
		kind := ErrKindConvert
		if isCapacity(cerr) {
			kind = ErrKindCapacity
		}
		return c.fail(item, start, kind, cerr)
	}

	c.archiveHTML(ctx, item.URL, html)

	size := len(out)
	if outB64 != "" {
		if decoded, derr := base64.StdEncoding.DecodeString(outB64); derr == nil {
			size = len(decoded)
		}
	}

	duration := c.clock.Now().Sub(start)
	metrics.ObserveItem(string(item.Format), duration)
	return content.ItemResult{
		URL:            item.URL,
		Format:         item.Format,
		Success:        true,
		Content:        out,
		ContentBase64:  outB64,
		Size:           size,
		Duration:       duration.Seconds(),
		RenderedWithJS: renderedWithJS,
		OriginalURL:    item.URL,
		ContentLength:  len(resp.Body),
	}
}

// shouldConsiderRender reports whether the requested format depends on the
// complete document and the fetched payload is HTML at all.
func (c *Converter) shouldConsiderRender(format content.Format, contentType string) bool {
	if c.renderer == nil || !format.NeedsFullDocument() {
		return false
	}
	if contentType == "" {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "html")
}

// renderGated acquires a js_render permit and invokes the headless backend.
// On capacity exhaustion the item fails rather than silently returning
// unrendered content.
func (c *Converter) renderGated(ctx context.Context, url string, timeout time.Duration) (string, error) {
	release, err := c.gate.Acquire(ctx, rendergate.KindJSRender)
	if err != nil {
		if isCapacity(err) {
			metrics.ObserveRenderRejected(string(rendergate.KindJSRender))
		}
		return "", err
	}
	defer release()

	rendered, err := c.renderer.Render(ctx, url, timeout)
	if err != nil {
		metrics.ObserveRender(string(rendergate.KindJSRender), "error")
		return "", &content.RenderError{URL: url, Err: err}
	}
	metrics.ObserveRender(string(rendergate.KindJSRender), "success")
	return rendered, nil
}

func (c *Converter) toFormat(
	ctx context.Context,
	item content.WorkItem,
	html string,
	timeout time.Duration,
) (string, string, error) {
	switch item.Format {
	case content.FormatHTML:
		return html, "", nil
	case content.FormatText:
		out, err := convert.ToText(html)
		return out, "", err
	case content.FormatMarkdown:
		out, err := convert.ToMarkdown(html, item.URL)
		return out, "", err
	case content.FormatJSON:
		out, err := convert.ToJSON(html, item.URL)
		return out, "", err
	case content.FormatPDF:
		data, err := c.pdfGated(ctx, item.URL, html, timeout)
		if err != nil {
			return "", "", err
		}
		return "", base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", "", fmt.Errorf("unsupported format %q", item.Format)
	}
}

// pdfGated draws from the pdf budget, independent of js_render.
func (c *Converter) pdfGated(ctx context.Context, url, html string, timeout time.Duration) ([]byte, error) {
	release, err := c.gate.Acquire(ctx, rendergate.KindPDF)
	if err != nil {
		if isCapacity(err) {
			metrics.ObserveRenderRejected(string(rendergate.KindPDF))
		}
		return nil, err
	}
	defer release()

	data, err := c.renderer.PDF(ctx, html, timeout)
	if err != nil {
		metrics.ObserveRender(string(rendergate.KindPDF), "error")
		return nil, &content.RenderError{URL: url, Err: err}
	}
	metrics.ObserveRender(string(rendergate.KindPDF), "success")
	return data, nil
}

// archiveHTML best-effort persists the final document; archive failures never
// fail the item.
func (c *Converter) archiveHTML(ctx context.Context, url, html string) {
	if c.archive == nil || c.hasher == nil || html == "" {
		return
	}
	hash, err := c.hasher.Hash([]byte(html))
	if err != nil {
		c.logger.Warn("hash content failed", zap.String("url", url), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s.html", strings.Trim(c.prefix, "/"), hash)
	uri, err := c.archive.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html))
	if err != nil {
		c.logger.Warn("archive put failed", zap.String("url", url), zap.Error(err))
		return
	}
	c.logger.Debug("content archived", zap.String("url", url), zap.String("blob_uri", uri))
}

func (c *Converter) fail(item content.WorkItem, start time.Time, kind string, err error) content.ItemResult {
	duration := c.clock.Now().Sub(start)
	c.logger.Debug("item failed",
		zap.String("url", item.URL),
		zap.String("kind", kind),
		zap.Error(err),
	)
	return content.ItemResult{
		URL:         item.URL,
		Format:      item.Format,
		Success:     false,
		Error:       err.Error(),
		ErrorKind:   kind,
		Duration:    duration.Seconds(),
		OriginalURL: item.URL,
	}
}

func isCapacity(err error) bool {
	return errors.Is(err, content.ErrCapacity)
}

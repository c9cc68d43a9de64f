// Package chromedp renders pages with headless Chrome.
package chromedp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Config controls the behavior of the renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer implements content.Renderer using chromedp. Concurrency is bounded
// by the caller through the render gate; the renderer itself puts no limit on
// parallel tabs.
type Renderer struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a renderer backed by a shared Chrome exec allocator.
func New(cfg Config) (*Renderer, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 25 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url and returns the fully materialized DOM.
func (r *Renderer) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	taskCtx, cancel := r.newTask(ctx, timeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		r.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp render: %w", err)
	}
	return html, nil
}

// PDF lays out the given HTML in a fresh tab and prints it to PDF bytes.
func (r *Renderer) PDF(ctx context.Context, html string, timeout time.Duration) ([]byte, error) {
	taskCtx, cancel := r.newTask(ctx, timeout)
	defer cancel()

	var pdf []byte
	actions := []chromedp.Action{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			if err := page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx); err != nil {
				return fmt.Errorf("set document content: %w", err)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp pdf: %w", err)
	}
	return pdf, nil
}

func (r *Renderer) newTask(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = r.cfg.NavigationTimeout
	}
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, timeout)

	// Propagate caller cancellation into the tab context.
	stop := context.AfterFunc(ctx, timeoutCancel)

	return taskCtx, func() {
		stop()
		timeoutCancel()
		taskCancel()
	}
}

func (r *Renderer) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

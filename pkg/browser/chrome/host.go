package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/odvcencio/backchannel/pkg/browser"
)

// initScript runs before every document load so the page never sees the
// automation marker.
const initScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Host drives a Chrome instance over CDP and implements browser.Host.
type Host struct {
	cfg Config

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ browser.Host = (*Host)(nil)

// New prepares a Chrome host. The browser process itself launches lazily on
// the first command, so call Start to bring the page up.
func New(cfg Config) (*Host, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	h := &Host{cfg: merged}

	if merged.AttachURL != "" {
		h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), merged.AttachURL)
	} else {
		if err := os.MkdirAll(merged.ProfileDir, 0o755); err != nil {
			return nil, browser.NewHostError("start", fmt.Errorf("create profile dir: %w", err))
		}
		removeStaleLocks(merged.ProfileDir)
		h.allocCtx, h.allocCancel = chromedp.NewExecAllocator(context.Background(), merged.execOptions()...)
	}

	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocCtx)
	return h, nil
}

// Start launches the browser, installs the init script, and navigates to the
// configured start URL, waiting until the document body is ready.
func (h *Host) Start(ctx context.Context) error {
	if h == nil {
		return browser.ErrHostClosed
	}

	startCtx, cancel := context.WithTimeout(ctx, h.cfg.NavigationTimeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(initScript).Do(ctx)
			return err
		}),
	}
	if h.cfg.UserAgent != "" && h.cfg.AttachURL != "" {
		// Launch flags never reach an attached browser; override over CDP.
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx)
		}))
	}
	actions = append(actions,
		chromedp.Navigate(h.cfg.StartURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)

	if err := h.run(startCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return browser.NewHostError("start", browser.ErrStartTimeout)
		}
		return browser.NewNavigationError(h.cfg.StartURL, err)
	}
	return nil
}

// Navigate loads a URL and waits for the document body.
func (h *Host) Navigate(ctx context.Context, url string) error {
	if h == nil {
		return browser.ErrHostClosed
	}
	navCtx, cancel := context.WithTimeout(ctx, h.cfg.NavigationTimeout)
	defer cancel()
	err := h.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return browser.NewNavigationError(url, err)
	}
	return nil
}

// Evaluate runs a script in page context, discarding its result.
func (h *Host) Evaluate(ctx context.Context, script string) error {
	if h == nil {
		return browser.ErrHostClosed
	}
	if err := h.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return browser.NewHostError("evaluate", err)
	}
	return nil
}

// EvaluateValue runs a script expression and unmarshals its JSON result into
// out. Promises are awaited so fetch-based expressions work.
func (h *Host) EvaluateValue(ctx context.Context, script string, out any) error {
	if h == nil {
		return browser.ErrHostClosed
	}
	action := chromedp.Evaluate(script, out, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
	if err := h.run(ctx, action); err != nil {
		return browser.NewHostError("evaluate", err)
	}
	return nil
}

// ElementExists reports whether an element with the given id is in the DOM.
func (h *Host) ElementExists(ctx context.Context, id string) (bool, error) {
	if h == nil {
		return false, browser.ErrHostClosed
	}
	var exists bool
	script := fmt.Sprintf("document.getElementById(%q) !== null", id)
	if err := h.run(ctx, chromedp.Evaluate(script, &exists)); err != nil {
		return false, browser.NewHostError("exists", err)
	}
	return exists, nil
}

// InnerText returns the text content of the element with the given id.
func (h *Host) InnerText(ctx context.Context, id string) (string, error) {
	return h.readElement(ctx, id, "innerText")
}

// InnerHTML returns the raw innerHTML of the element with the given id.
func (h *Host) InnerHTML(ctx context.Context, id string) (string, error) {
	return h.readElement(ctx, id, "innerHTML")
}

type elementRead struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (h *Host) readElement(ctx context.Context, id, property string) (string, error) {
	if h == nil {
		return "", browser.ErrHostClosed
	}
	script := fmt.Sprintf(
		`(() => { const el = document.getElementById(%q); return el === null ? {found: false, value: ""} : {found: true, value: el.%s}; })()`,
		id, property,
	)
	var read elementRead
	if err := h.run(ctx, chromedp.Evaluate(script, &read)); err != nil {
		return "", browser.NewHostError("read", err)
	}
	if !read.Found {
		return "", browser.ErrNoSuchElement
	}
	return read.Value, nil
}

// RemoveElement deletes the element with the given id, tolerating absence.
func (h *Host) RemoveElement(ctx context.Context, id string) error {
	if h == nil {
		return browser.ErrHostClosed
	}
	script := fmt.Sprintf(`(() => { const el = document.getElementById(%q); if (el) { el.remove(); } })()`, id)
	if err := h.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return browser.NewHostError("remove", err)
	}
	return nil
}

// Close shuts down the tab and the browser allocator, in that order.
func (h *Host) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if h.browserCancel != nil {
		h.browserCancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
	return nil
}

// run executes chromedp actions on the browser context while honoring the
// caller's cancellation. chromedp commands only accept contexts descended
// from the browser context, so the caller context is bridged over.
func (h *Host) run(ctx context.Context, actions ...chromedp.Action) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return browser.ErrHostClosed
	}
	browserCtx := h.browserCtx
	h.mu.Unlock()

	runCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func removeStaleLocks(profileDir string) {
	for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		_ = os.Remove(filepath.Join(profileDir, name))
	}
}

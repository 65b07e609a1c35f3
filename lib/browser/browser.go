// Package browser wraps chromedp into the small command set the county
// protocol drivers need from an interactive channel: navigate, locate an
// element by one of several strategies, fill, click, and exchange cookies
// with the HTTP channel. One Browser maps to one long-lived Chrome tab whose
// session state persists across protocol steps.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	Headless bool
	// NoSandbox is required when Chrome runs as root in a container.
	NoSandbox bool
	// Timeout bounds every individual wait; zero means 30s.
	Timeout   time.Duration
	UserAgent string
}

type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	timeout     time.Duration
}

// New launches Chrome and opens the tab all subsequent commands run in. A
// failure here means the interactive channel is unavailable entirely, which
// callers treat as fatal to the whole run.
func New(ctx context.Context, opts Options) (*Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.Flag("no-sandbox", true))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		timeout:     timeout,
	}

	// starting the browser eagerly surfaces transport failures before any
	// parcel work begins
	err := b.run(timeout, chromedp.Navigate("about:blank"))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser channel: %w", err)
	}
	return b, nil
}

// Close tears the browser down. It must run on every exit path to avoid
// leaking Chrome processes.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
}

func (b *Browser) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(b.tabCtx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Kind selects the element location strategy of a Selector.
type Kind int

const (
	ByCSS Kind = iota
	ByXPath
)

// Selector is one way of locating an interactable element. Drivers hand the
// browser a priority-ordered list of these and take the first that resolves.
type Selector struct {
	Query string
	Kind  Kind
}

func CSS(query string) Selector   { return Selector{Query: query, Kind: ByCSS} }
func XPath(query string) Selector { return Selector{Query: query, Kind: ByXPath} }

func (s Selector) queryOption() chromedp.QueryOption {
	if s.Kind == ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (b *Browser) Navigate(rawURL string) error {
	return b.run(b.timeout,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Find tries each selector in order with a short per-strategy wait and
// returns the first that locates a visible element. When none resolve it
// fails with the full strategy list so the step failure is diagnosable.
func (b *Browser) Find(selectors []Selector, perStrategy time.Duration) (Selector, error) {
	if perStrategy == 0 {
		perStrategy = 5 * time.Second
	}
	for _, sel := range selectors {
		err := b.run(perStrategy, chromedp.WaitVisible(sel.Query, sel.queryOption()))
		if err == nil {
			return sel, nil
		}
	}
	return Selector{}, fmt.Errorf("no selector strategy matched an interactable element (%d tried)", len(selectors))
}

func (b *Browser) SetValue(sel Selector, value string) error {
	return b.run(b.timeout,
		chromedp.SetValue(sel.Query, value, sel.queryOption()),
	)
}

func (b *Browser) Click(sel Selector) error {
	return b.run(b.timeout,
		chromedp.ScrollIntoView(sel.Query, sel.queryOption()),
		chromedp.Click(sel.Query, sel.queryOption()),
	)
}

// AttrOf reads an attribute off the first element sel matches. ok is false
// when the element exists but lacks the attribute.
func (b *Browser) AttrOf(sel Selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := b.run(b.timeout,
		chromedp.AttributeValue(sel.Query, name, &value, &ok, sel.queryOption()),
	)
	return value, ok, err
}

// Evaluate runs a script in the page, discarding its result. Used for
// postback flows that only a page-side function can trigger.
func (b *Browser) Evaluate(js string) error {
	return b.run(b.timeout, chromedp.Evaluate(js, nil))
}

// Document returns the fully rendered page markup.
func (b *Browser) Document() (string, error) {
	var html string
	err := b.run(b.timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (b *Browser) Location() (string, error) {
	var loc string
	err := b.run(b.timeout, chromedp.Location(&loc))
	return loc, err
}

// Cookies snapshots the browser's current cookie jar so it can be merged
// into the shared session before the HTTP channel's next request.
func (b *Browser) Cookies() ([]*http.Cookie, error) {
	var out []*http.Cookie
	err := b.run(b.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
				Secure: c.Secure,
			})
		}
		return nil
	}))
	return out, err
}

// SetCookies installs session cookies into the browser for the given site,
// the mirror of Cookies. The page must already be on the target domain (or
// base supplies it).
func (b *Browser) SetCookies(base *url.URL, cookies []*http.Cookie) error {
	return b.run(b.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			domain := c.Domain
			if domain == "" {
				domain = base.Hostname()
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath(path).
				WithSecure(c.Secure).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	}))
}

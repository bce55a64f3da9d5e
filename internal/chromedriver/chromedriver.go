// Package chromedriver implements the driver.Page/driver.Locator capability
// interfaces on top of chromedp, grounded on the teacher's renderer.Renderer
// (allocator setup, flag set, per-context browser handling) but reshaped
// around the narrow capability surface instead of a single Render() call.
package chromedriver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/blockcrawl/crawler/internal/driver"
)

// Session owns the allocator and the primary browser tab.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	primary     *Page
}

// NewSession launches a headless Chromium instance and returns a Session
// whose PrimaryPage is ready for navigation.
func NewSession(ctx context.Context, chromiumPath, userAgent string) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
	)
	if chromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(chromiumPath))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, _ := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		allocCancel()
		return nil, fmt.Errorf("chromedriver: launch: %w", err)
	}

	s := &Session{allocCtx: allocCtx, allocCancel: allocCancel}
	s.primary = &Page{ctx: tabCtx}
	return s, nil
}

func (s *Session) PrimaryPage() driver.Page { return s.primary }

// NewContext mints an independent browser context (and tab) so sessions do
// not bleed between link executions, per spec.md §4.E step 1.
func (s *Session) NewContext(ctx context.Context, storageState *driver.StorageState) (driver.Page, error) {
	tabCtx, _ := chromedp.NewContext(s.allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("chromedriver: new context: %w", err)
	}
	p := &Page{ctx: tabCtx}
	if storageState != nil {
		if err := p.AddCookies(ctx, storageState.Cookies); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.allocCancel()
	return nil
}

// Page implements driver.Page over one chromedp tab context.
type Page struct {
	ctx context.Context
	url string
}

func (p *Page) Goto(ctx context.Context, url string, opts driver.GotoOptions) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	switch opts.WaitUntil {
	case driver.WaitNetworkIdle:
		actions = append(actions, chromedp.WaitReady("body"))
	case driver.WaitDOMContentLoaded:
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	default:
		actions = append(actions, chromedp.WaitReady("body"))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedriver: goto %s: %w", url, err)
	}
	p.url = url
	return nil
}

func (p *Page) URL() string { return p.url }

func (p *Page) Locator(selector string) driver.Locator {
	return &Locator{page: p, selector: selector}
}

func (p *Page) GetByRole(role string, name string) driver.Locator {
	return &Locator{page: p, selector: fmt.Sprintf(`[role="%s"]:has-text("%s")`, role, name)}
}

func (p *Page) GetByText(text string) driver.Locator {
	return &Locator{page: p, selector: fmt.Sprintf(`*:has-text("%s")`, text)}
}

func (p *Page) Evaluate(ctx context.Context, expression string, result any) error {
	return chromedp.Run(p.ctx, chromedp.Evaluate(expression, result))
}

func (p *Page) MouseWheel(ctx context.Context, dx, dy float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f)", dx, dy)
	return chromedp.Run(p.ctx, chromedp.Evaluate(script, nil))
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	return chromedp.Run(p.ctx, chromedp.Evaluate(script, nil))
}

func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error {
	chromedp.Sleep(d).Do(p.ctx)
	return nil
}

func (p *Page) Pause(ctx context.Context) error { return nil }

func (p *Page) NewPage(ctx context.Context) (driver.Page, error) {
	tabCtx, _ := chromedp.NewContext(p.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, err
	}
	return &Page{ctx: tabCtx}, nil
}

func (p *Page) AddCookies(ctx context.Context, cookies []driver.Cookie) error {
	for _, c := range cookies {
		expr := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly)
		if err := chromedp.Run(p.ctx, expr); err != nil {
			return fmt.Errorf("chromedriver: add cookie %s: %w", c.Name, err)
		}
	}
	return nil
}

func (p *Page) StorageState(ctx context.Context) (driver.StorageState, error) {
	var cookies []*network.Cookie
	if err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	})); err != nil {
		return driver.StorageState{}, err
	}
	out := driver.StorageState{}
	for _, c := range cookies {
		out.Cookies = append(out.Cookies, driver.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (p *Page) Close(ctx context.Context) error {
	chromedp.Cancel(p.ctx)
	return nil
}

// Locator implements driver.Locator over a CSS selector scoped to an
// optional parent node.
type Locator struct {
	page     *Page
	selector string
	parent   *cdp.Node
}

func (l *Locator) Locator(selector string) driver.Locator {
	return &Locator{page: l.page, selector: l.selector + " " + selector}
}

func (l *Locator) nodes(ctx context.Context) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := chromedp.Run(l.page.ctx, chromedp.Nodes(l.selector, &nodes, chromedp.AtLeast(0)))
	return nodes, err
}

func (l *Locator) All(ctx context.Context) ([]driver.Locator, error) {
	nodes, err := l.nodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Locator, 0, len(nodes))
	for i := range nodes {
		out = append(out, &Locator{page: l.page, selector: fmt.Sprintf("%s:nth-of-type(%d)", l.selector, i+1), parent: nodes[i]})
	}
	return out, nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	nodes, err := l.nodes(ctx)
	return len(nodes), err
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	var text string
	err := chromedp.Run(l.page.ctx, chromedp.Text(l.selector, &text, chromedp.NodeVisible))
	return text, err
}

func (l *Locator) InnerHTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(l.page.ctx, chromedp.InnerHTML(l.selector, &html))
	return html, err
}

func (l *Locator) GetAttribute(ctx context.Context, name string) (string, error) {
	var value string
	var ok bool
	err := chromedp.Run(l.page.ctx, chromedp.AttributeValue(l.selector, name, &value, &ok))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (l *Locator) Fill(ctx context.Context, value string) error {
	return chromedp.Run(l.page.ctx, chromedp.SetValue(l.selector, value, chromedp.NodeVisible))
}

func (l *Locator) Click(ctx context.Context) error {
	return chromedp.Run(l.page.ctx, chromedp.Click(l.selector, chromedp.NodeVisible))
}

func (l *Locator) WaitFor(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(l.page.ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.WaitVisible(l.selector))
}

func (l *Locator) IsVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	runCtx, cancel := context.WithTimeout(l.page.ctx, timeout)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.WaitVisible(l.selector))
	if err != nil {
		return false, nil
	}
	return true, nil
}

var markerSeq int64

// nextMarker returns a unique attribute value used to pin a JS-selected
// element so a follow-up CSS selector can address it directly — CSS alone
// has no general parent combinator, so Parent/Children are resolved in-page.
func nextMarker() string {
	markerSeq++
	return fmt.Sprintf("bc-%d", markerSeq)
}

func (l *Locator) Parent(ctx context.Context) (driver.Locator, error) {
	marker := nextMarker()
	script := fmt.Sprintf(`(function(){var el=document.querySelector(%q);if(!el||!el.parentElement)return false;el.parentElement.setAttribute('data-bc-marker',%q);return true;})()`, l.selector, marker)
	var found bool
	if err := chromedp.Run(l.page.ctx, chromedp.Evaluate(script, &found)); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("chromedriver: %s has no parent", l.selector)
	}
	return &Locator{page: l.page, selector: fmt.Sprintf(`[data-bc-marker="%s"]`, marker)}, nil
}

func (l *Locator) Children(ctx context.Context) ([]driver.Locator, error) {
	marker := nextMarker()
	script := fmt.Sprintf(`(function(){var el=document.querySelector(%q);if(!el)return 0;var kids=el.children;for(var i=0;i<kids.length;i++){kids[i].setAttribute('data-bc-marker',%q+'-'+i);}return kids.length;})()`, l.selector, marker)
	var count int
	if err := chromedp.Run(l.page.ctx, chromedp.Evaluate(script, &count)); err != nil {
		return nil, err
	}
	out := make([]driver.Locator, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, &Locator{page: l.page, selector: fmt.Sprintf(`[data-bc-marker="%s-%d"]`, marker, i)})
	}
	return out, nil
}

func (l *Locator) TagName(ctx context.Context) (string, error) {
	nodes, err := l.nodes(ctx)
	if err != nil || len(nodes) == 0 {
		return "", err
	}
	return nodes[0].NodeName, nil
}

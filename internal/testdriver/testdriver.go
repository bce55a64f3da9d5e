// Package testdriver implements driver.Page/driver.Locator over an
// in-memory HTML document tree instead of a real browser, so the
// orchestration core's end-to-end scenarios (spec.md §8) run without
// Chromium. It is the test implementation of the "ready browser page"
// collaborator spec.md §1(b) names as out of scope for the core, grounded
// on the teacher's testing.TestServer fixture-map pattern but modelling a
// DOM tree rather than raw HTTP responses, since the core's locators need
// structural queries, not just response bodies.
package testdriver

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/blockcrawl/crawler/internal/driver"
)

// Fixture describes one fake site: its pages keyed by URL path, and the
// behaviors triggered by Click/MouseWheel, which stand in for the
// JavaScript a real page would run.
type Fixture struct {
	BaseURL string
	Pages   map[string]string

	// OnClick is invoked when a locator matching an element carrying
	// data-action="<key>" is clicked.
	OnClick map[string]func(p *Page) error

	// OnScroll is invoked once per MouseWheel call on a page, receiving the
	// 1-indexed call number for that page so tests can script a finite
	// sequence of lazy-load reveals (spec.md §8 scenario 5).
	OnScroll func(p *Page, path string, call int) error
}

// Session implements driver.Session over a Fixture.
type Session struct {
	fixture *Fixture
	primary *Page
}

// NewSession creates a Session whose primary page has not yet navigated
// anywhere.
func NewSession(fixture *Fixture) *Session {
	s := &Session{fixture: fixture}
	s.primary = &Page{fixture: fixture, kv: make(map[string]string)}
	return s
}

func (s *Session) PrimaryPage() driver.Page { return s.primary }

func (s *Session) NewContext(ctx context.Context, storageState *driver.StorageState) (driver.Page, error) {
	p := &Page{fixture: s.fixture, kv: make(map[string]string)}
	if storageState != nil {
		p.cookies = append(p.cookies, storageState.Cookies...)
	}
	return p, nil
}

func (s *Session) Close(ctx context.Context) error { return nil }

// Page implements driver.Page over a parsed HTML document that tests can
// rewrite via Fixture callbacks.
type Page struct {
	fixture   *Fixture
	path      string
	doc       *html.Node
	cookies   []driver.Cookie
	scrollHit int
	kv        map[string]string // stands in for GM_*Value / localStorage
	closed    bool
}

func relPath(fixture *Fixture, url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, fixture.BaseURL), "/")
}

func (p *Page) Goto(ctx context.Context, url string, opts driver.GotoOptions) error {
	path := relPath(p.fixture, url)
	src, ok := p.fixture.Pages["/"+path]
	if !ok {
		src, ok = p.fixture.Pages[path]
	}
	if !ok {
		return fmt.Errorf("testdriver: no fixture page for %q", url)
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("testdriver: parse fixture %q: %w", url, err)
	}
	p.doc = doc
	p.path = path
	p.scrollHit = 0
	return nil
}

func (p *Page) URL() string { return p.fixture.BaseURL + "/" + p.path }

func (p *Page) Locator(selector string) driver.Locator {
	return &Locator{page: p, root: p.doc, selector: selector}
}

func (p *Page) GetByRole(role string, name string) driver.Locator {
	return &Locator{page: p, root: p.doc, selector: fmt.Sprintf(`[role=%s]`, role), textFilter: name}
}

func (p *Page) GetByText(text string) driver.Locator {
	return &Locator{page: p, root: p.doc, selector: "*", textFilter: text}
}

// Evaluate interprets a fixed set of script shapes rather than running real
// JavaScript: it recognizes GM_setValue/GM_getValue calls (spec.md §8
// scenario 6) against this page's in-memory key/value store. Anything else
// is a no-op success, sufficient for scripts whose side effects the tests
// don't assert on directly.
func (p *Page) Evaluate(ctx context.Context, expression string, result any) error {
	if idx := strings.Index(expression, "GM_setValue("); idx >= 0 {
		key, val := parseGMSetValue(expression[idx:])
		if key != "" {
			p.kv[key] = val
		}
	}
	if idx := strings.Index(expression, "GM_getValue("); idx >= 0 {
		key := parseGMGetValueKey(expression[idx:])
		if key != "" {
			if out, ok := result.(*string); ok {
				*out = p.kv[key]
			}
		}
	}
	return nil
}

func parseGMSetValue(s string) (key, val string) {
	// s starts with "GM_setValue(" — naively split on the first two quoted
	// or bare comma-separated arguments.
	open := strings.Index(s, "(")
	close := strings.Index(s, ")")
	if open < 0 || close < 0 || close < open {
		return "", ""
	}
	args := strings.SplitN(s[open+1:close], ",", 2)
	if len(args) != 2 {
		return "", ""
	}
	return strings.Trim(strings.TrimSpace(args[0]), `"'`), strings.Trim(strings.TrimSpace(args[1]), `"'`)
}

func parseGMGetValueKey(s string) string {
	open := strings.Index(s, "(")
	close := strings.Index(s, ")")
	if open < 0 || close < 0 || close < open {
		return ""
	}
	arg := strings.SplitN(s[open+1:close], ",", 2)[0]
	return strings.Trim(strings.TrimSpace(arg), `"'`)
}

func (p *Page) MouseWheel(ctx context.Context, dx, dy float64) error {
	p.scrollHit++
	if p.fixture.OnScroll != nil {
		return p.fixture.OnScroll(p, p.path, p.scrollHit)
	}
	return nil
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	return p.Evaluate(ctx, script, nil)
}

func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error { return nil }

func (p *Page) Pause(ctx context.Context) error { return nil }

func (p *Page) NewPage(ctx context.Context) (driver.Page, error) {
	return &Page{fixture: p.fixture, kv: make(map[string]string)}, nil
}

func (p *Page) AddCookies(ctx context.Context, cookies []driver.Cookie) error {
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) StorageState(ctx context.Context) (driver.StorageState, error) {
	return driver.StorageState{Cookies: p.cookies}, nil
}

func (p *Page) Close(ctx context.Context) error {
	p.closed = true
	return nil
}

// SetDocumentHTML replaces the current document, letting a Fixture callback
// simulate a tab switch or client-side render.
func (p *Page) SetDocumentHTML(src string) error {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return err
	}
	p.doc = doc
	return nil
}

// AppendInto parses fragment and appends its nodes as children of the first
// element matching selector, simulating a lazy-load batch arriving.
func (p *Page) AppendInto(selector, fragment string) error {
	targets := queryAll(p.doc, selector)
	if len(targets) == 0 {
		return fmt.Errorf("testdriver: AppendInto: no match for %q", selector)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), targets[0])
	if err != nil {
		return err
	}
	for _, n := range nodes {
		targets[0].AppendChild(n)
	}
	return nil
}

// Locator implements driver.Locator over a node within a Page's document.
type Locator struct {
	page       *Page
	root       *html.Node
	selector   string
	node       *html.Node // set once resolved to a single element (from All/Locator chaining)
	textFilter string
}

func (l *Locator) resolveRoot() *html.Node {
	if l.node != nil {
		return l.node
	}
	return l.root
}

func (l *Locator) matchNodes() []*html.Node {
	root := l.resolveRoot()
	if root == nil {
		return nil
	}
	matches := queryAll(root, l.selector)
	if l.textFilter == "" {
		return matches
	}
	var out []*html.Node
	for _, m := range matches {
		if strings.Contains(textOf(m), l.textFilter) {
			out = append(out, m)
		}
	}
	return out
}

func (l *Locator) Locator(selector string) driver.Locator {
	return &Locator{page: l.page, root: l.resolveRoot(), selector: selector}
}

func (l *Locator) All(ctx context.Context) ([]driver.Locator, error) {
	nodes := l.matchNodes()
	out := make([]driver.Locator, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Locator{page: l.page, root: l.root, node: n})
	}
	return out, nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	return len(l.matchNodes()), nil
}

func (l *Locator) firstNode() (*html.Node, error) {
	if l.node != nil {
		return l.node, nil
	}
	matches := l.matchNodes()
	if len(matches) == 0 {
		return nil, fmt.Errorf("testdriver: no element matches %q", l.selector)
	}
	return matches[0], nil
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	n, err := l.firstNode()
	if err != nil {
		return "", nil
	}
	return textOf(n), nil
}

func (l *Locator) InnerHTML(ctx context.Context) (string, error) {
	n, err := l.firstNode()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (l *Locator) GetAttribute(ctx context.Context, name string) (string, error) {
	n, err := l.firstNode()
	if err != nil {
		return "", nil
	}
	return attrsOf(n)[name], nil
}

func (l *Locator) Fill(ctx context.Context, value string) error {
	n, err := l.firstNode()
	if err != nil {
		return err
	}
	for i, a := range n.Attr {
		if a.Key == "value" {
			n.Attr[i].Val = value
			return nil
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "value", Val: value})
	return nil
}

func (l *Locator) Click(ctx context.Context) error {
	n, err := l.firstNode()
	if err != nil {
		return err
	}
	action := attrsOf(n)["data-action"]
	if action == "" || l.page.fixture.OnClick == nil {
		return nil
	}
	fn, ok := l.page.fixture.OnClick[action]
	if !ok {
		return nil
	}
	return fn(l.page)
}

func (l *Locator) WaitFor(ctx context.Context, timeout time.Duration) error {
	if len(l.matchNodes()) == 0 {
		return fmt.Errorf("testdriver: timed out waiting for %q", l.selector)
	}
	return nil
}

func (l *Locator) IsVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	return len(l.matchNodes()) > 0, nil
}

func (l *Locator) Parent(ctx context.Context) (driver.Locator, error) {
	n, err := l.firstNode()
	if err != nil {
		return nil, err
	}
	if n.Parent == nil {
		return nil, fmt.Errorf("testdriver: no parent")
	}
	return &Locator{page: l.page, root: l.root, node: n.Parent}, nil
}

func (l *Locator) Children(ctx context.Context) ([]driver.Locator, error) {
	n, err := l.firstNode()
	if err != nil {
		return nil, err
	}
	kids := elementChildren(n)
	out := make([]driver.Locator, 0, len(kids))
	for _, k := range kids {
		out = append(out, &Locator{page: l.page, root: l.root, node: k})
	}
	return out, nil
}

func (l *Locator) TagName(ctx context.Context) (string, error) {
	n, err := l.firstNode()
	if err != nil {
		return "", err
	}
	return n.Data, nil
}

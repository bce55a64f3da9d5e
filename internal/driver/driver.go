// Package driver defines the narrow capability surface the orchestration
// core programs against. Nothing under internal/ except the chromedriver
// and testdriver packages may depend on a concrete browser automation
// library; everything else imports only these interfaces.
package driver

import (
	"context"
	"time"
)

// WaitUntil names the page-load condition Goto waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// GotoOptions configures a navigation.
type GotoOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Cookie mirrors the driver-native cookie shape used by StorageState and
// AddCookies, covering both storage-state and plain cookie-export formats.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64 // seconds since epoch, 0 = session cookie
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// Origin is one entry of a storage-state document's localStorage section.
type Origin struct {
	Origin       string
	LocalStorage []struct{ Name, Value string }
}

// StorageState is the native browser-driver session snapshot persisted to
// auth.json.
type StorageState struct {
	Cookies []Cookie
	Origins []Origin
}

// Page is the capability surface consumed by the link executor, block
// processor, page processor and script injector.
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	Locator(selector string) Locator
	GetByRole(role string, name string) Locator
	GetByText(text string) Locator
	Evaluate(ctx context.Context, expression string, result any) error
	MouseWheel(ctx context.Context, dx, dy float64) error
	AddInitScript(ctx context.Context, script string) error
	WaitForTimeout(ctx context.Context, d time.Duration) error
	Pause(ctx context.Context) error
	URL() string

	NewPage(ctx context.Context) (Page, error)
	AddCookies(ctx context.Context, cookies []Cookie) error
	StorageState(ctx context.Context) (StorageState, error)
	Close(ctx context.Context) error
}

// Locator is a lazily-resolved reference to zero or more elements. Locator
// itself exposes scoped sub-queries (mirroring the driver's
// locator.locator(selector) chaining) so callers can narrow a search to one
// section/block without a separate scoping type.
type Locator interface {
	Locator(selector string) Locator
	All(ctx context.Context) ([]Locator, error)
	Count(ctx context.Context) (int, error)
	TextContent(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context) (string, error)
	GetAttribute(ctx context.Context, name string) (string, error)
	Fill(ctx context.Context, value string) error
	Click(ctx context.Context) error
	WaitFor(ctx context.Context, timeout time.Duration) error
	IsVisible(ctx context.Context, timeout time.Duration) (bool, error)

	// Parent, Children and TagName expose just enough DOM structure for the
	// block-name and free-text search-region algorithms (spec.md §4.F) to
	// run as plain Go logic against either binding, instead of each binding
	// re-implementing those algorithms in a driver-specific script.
	Parent(ctx context.Context) (Locator, error)
	Children(ctx context.Context) ([]Locator, error)
	TagName(ctx context.Context) (string, error)
}

// Session is the top-level browser handle: it owns the primary page and can
// mint independent contexts for link executions that must not share cookies.
type Session interface {
	PrimaryPage() Page
	NewContext(ctx context.Context, storageState *StorageState) (Page, error)
	Close(ctx context.Context) error
}

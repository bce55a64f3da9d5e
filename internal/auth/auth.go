// Package auth implements the authentication manager (spec.md §4.B): it
// ensures the browser session presents valid site credentials before any
// crawl page is opened, persisting storage state to auth.json and
// replaying it on later runs. Grounded on the teacher's Authenticator
// (cookie-jar session, form-login detection, redirect confirmation) but
// driven through the driver.Page capability surface instead of net/http,
// since the core authenticates a real browser session, not a bare client.
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/state"
)

// Handler performs the site-specific login flow on a fresh page and returns
// once the session is established. The auto handler (NewAutoHandler) covers
// the common two-field form case; a user-supplied Handler covers anything
// else.
type Handler func(ctx context.Context, page driver.Page, cfg config.AuthConfig) error

// EnsureAuth implements the §4.B contract: load-and-apply a cached
// auth.json if present, otherwise run handler once and persist the result.
// An empty Kind is treated the same as AuthNone.
func EnsureAuth(ctx context.Context, page driver.Page, cfg config.AuthConfig, authPath string, handler Handler) error {
	if cfg.Kind == config.AuthNone || cfg.Kind == "" {
		return nil
	}

	if _, err := os.Stat(authPath); err == nil {
		return loadAndApply(ctx, page, authPath)
	} else if !os.IsNotExist(err) {
		return crawlerr.Wrap(crawlerr.AuthMissing, "stat auth.json", err)
	}

	if handler == nil {
		return crawlerr.New(crawlerr.AuthMissing, "no credential file and no auth handler configured")
	}
	if err := handler(ctx, page, cfg); err != nil {
		return err
	}

	ss, err := page.StorageState(ctx)
	if err != nil {
		return crawlerr.Wrap(crawlerr.AuthMissing, "read storage state after login", err)
	}
	if err := state.SaveAtomic(authPath, ss); err != nil {
		return crawlerr.Wrap(crawlerr.AuthMissing, "persist auth.json", err)
	}
	return nil
}

// loadAndApply accepts both the native storage-state shape and a plain
// cookie-export array (spec.md §4.B: "two storage formats are accepted").
func loadAndApply(ctx context.Context, page driver.Page, authPath string) error {
	var ss driver.StorageState
	ok, err := state.LoadJSON(authPath, &ss)
	if err != nil || !ok || (len(ss.Cookies) == 0 && len(ss.Origins) == 0) {
		var cookies []driver.Cookie
		if ok2, err2 := state.LoadJSON(authPath, &cookies); err2 == nil && ok2 {
			ss = driver.StorageState{Cookies: cookies}
		} else {
			return crawlerr.Wrap(crawlerr.AuthMissing, "parse auth.json", err)
		}
	}
	if err := page.AddCookies(ctx, ss.Cookies); err != nil {
		return crawlerr.Wrap(crawlerr.AuthMissing, "apply cached cookies", err)
	}
	return nil
}

// NewAutoHandler builds a Handler that reads EMAIL/PASSWORD from envPath,
// navigates to cfg.LoginURL, fills the two detected text inputs, clicks the
// sign-in button, and waits for redirect away from /login|/auth
// (spec.md §4.B).
func NewAutoHandler(envPath string) Handler {
	return func(ctx context.Context, page driver.Page, cfg config.AuthConfig) error {
		env, err := godotenv.Read(envPath)
		if err != nil {
			return crawlerr.Wrap(crawlerr.AuthMissing, "read "+envPath, err)
		}
		email, password := env["EMAIL"], env["PASSWORD"]
		if email == "" || password == "" {
			return crawlerr.New(crawlerr.AuthMissing, "EMAIL/PASSWORD missing from "+envPath)
		}

		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		if err := page.Goto(ctx, cfg.LoginURL, driver.GotoOptions{WaitUntil: driver.WaitLoad, Timeout: timeout}); err != nil {
			return crawlerr.Wrap(crawlerr.AuthNotConfirmed, "goto login url", err)
		}

		inputs, err := locateAll(ctx, page, `input[type="text"]`, `input[type="email"]`)
		if err != nil {
			return crawlerr.Wrap(crawlerr.AuthFormUnsupported, "locate text inputs", err)
		}
		if len(inputs) != 2 {
			return crawlerr.New(crawlerr.AuthFormUnsupported, fmt.Sprintf("expected 2 text inputs, found %d", len(inputs)))
		}

		buttons, err := page.GetByRole("button", "sign in").All(ctx)
		if err != nil || len(buttons) != 1 {
			return crawlerr.New(crawlerr.AuthFormUnsupported, fmt.Sprintf("expected exactly 1 sign-in button, found %d", len(buttons)))
		}

		if err := fillInput(ctx, inputs[0], email); err != nil {
			return crawlerr.Wrap(crawlerr.AuthFormUnsupported, "fill email", err)
		}
		if err := fillInput(ctx, inputs[1], password); err != nil {
			return crawlerr.Wrap(crawlerr.AuthFormUnsupported, "fill password", err)
		}
		if err := buttons[0].Click(ctx); err != nil {
			return crawlerr.Wrap(crawlerr.AuthFormUnsupported, "click sign-in", err)
		}

		if err := waitForRedirectAway(ctx, page, timeout); err != nil {
			return crawlerr.Wrap(crawlerr.AuthNotConfirmed, "post-submit redirect", err)
		}
		return nil
	}
}

func fillInput(ctx context.Context, loc driver.Locator, value string) error {
	return loc.Fill(ctx, value)
}

// locateAll merges matches from each selector in turn. A comma-separated
// selector list isn't assumed portable across driver bindings (see
// resolveTabs in internal/autoextract), so each candidate shape is queried
// on its own and the results concatenated in the given order.
func locateAll(ctx context.Context, page driver.Page, selectors ...string) ([]driver.Locator, error) {
	var out []driver.Locator
	for _, sel := range selectors {
		matches, err := page.Locator(sel).All(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func waitForRedirectAway(ctx context.Context, page driver.Page, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		url := page.URL()
		if !strings.Contains(url, "/login") && !strings.Contains(url, "/auth") {
			return nil
		}
		if err := page.WaitForTimeout(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("auth: no redirect away from login within %s", timeout)
}

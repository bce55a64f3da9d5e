package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/testdriver"
)

func TestEnsureAuthNoopWhenKindNone(t *testing.T) {
	session := testdriver.NewSession(&testdriver.Fixture{BaseURL: "https://example.com"})
	err := EnsureAuth(context.Background(), session.PrimaryPage(), config.AuthConfig{Kind: config.AuthNone}, filepath.Join(t.TempDir(), "auth.json"), nil)
	assert.NoError(t, err)
}

func TestEnsureAuthMissingFileAndNoHandlerFails(t *testing.T) {
	session := testdriver.NewSession(&testdriver.Fixture{BaseURL: "https://example.com"})
	err := EnsureAuth(context.Background(), session.PrimaryPage(), config.AuthConfig{Kind: config.AuthUser}, filepath.Join(t.TempDir(), "auth.json"), nil)
	require.Error(t, err)
}

func TestEnsureAuthAppliesPlainCookieArray(t *testing.T) {
	session := testdriver.NewSession(&testdriver.Fixture{BaseURL: "https://example.com"})
	page := session.PrimaryPage()

	authPath := filepath.Join(t.TempDir(), "auth.json")
	raw, err := json.Marshal([]driver.Cookie{{Name: "session", Value: "abc123", Domain: "example.com"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(authPath, raw, 0o600))

	require.NoError(t, EnsureAuth(context.Background(), page, config.AuthConfig{Kind: config.AuthUser}, authPath, nil))

	ss, err := page.StorageState(context.Background())
	require.NoError(t, err)
	require.Len(t, ss.Cookies, 1)
	assert.Equal(t, "session", ss.Cookies[0].Name)
}

func TestEnsureAuthAppliesNativeStorageState(t *testing.T) {
	session := testdriver.NewSession(&testdriver.Fixture{BaseURL: "https://example.com"})
	page := session.PrimaryPage()

	authPath := filepath.Join(t.TempDir(), "auth.json")
	raw, err := json.Marshal(driver.StorageState{Cookies: []driver.Cookie{{Name: "token", Value: "xyz"}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(authPath, raw, 0o600))

	require.NoError(t, EnsureAuth(context.Background(), page, config.AuthConfig{Kind: config.AuthUser}, authPath, nil))

	ss, err := page.StorageState(context.Background())
	require.NoError(t, err)
	require.Len(t, ss.Cookies, 1)
	assert.Equal(t, "token", ss.Cookies[0].Name)
}

func TestEnsureAuthRunsHandlerAndPersistsOnFirstUse(t *testing.T) {
	session := testdriver.NewSession(&testdriver.Fixture{BaseURL: "https://example.com"})
	page := session.PrimaryPage()

	authPath := filepath.Join(t.TempDir(), "auth.json")
	called := false
	handler := func(ctx context.Context, pg driver.Page, cfg config.AuthConfig) error {
		called = true
		return pg.AddCookies(ctx, []driver.Cookie{{Name: "fresh", Value: "1"}})
	}

	require.NoError(t, EnsureAuth(context.Background(), page, config.AuthConfig{Kind: config.AuthUser}, authPath, handler))
	assert.True(t, called)

	raw, err := os.ReadFile(authPath)
	require.NoError(t, err)
	var ss driver.StorageState
	require.NoError(t, json.Unmarshal(raw, &ss))
	require.Len(t, ss.Cookies, 1)
	assert.Equal(t, "fresh", ss.Cookies[0].Name)
}

func TestNewAutoHandlerFillsFormAndWaitsForRedirect(t *testing.T) {
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages: map[string]string{
			"/login": `<html><body>
				<input type="text">
				<input type="email">
				<button role="button" data-action="submit">sign in</button>
			</body></html>`,
			"/dashboard": `<html><body>welcome</body></html>`,
		},
		OnClick: map[string]func(p *testdriver.Page) error{
			"submit": func(p *testdriver.Page) error {
				return p.Goto(context.Background(), "https://example.com/dashboard", driver.GotoOptions{WaitUntil: driver.WaitLoad})
			},
		},
	}
	session := testdriver.NewSession(fixture)
	page := session.PrimaryPage()

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("EMAIL=user@example.com\nPASSWORD=hunter2\n"), 0o600))

	authPath := filepath.Join(t.TempDir(), "auth.json")
	cfg := config.AuthConfig{Kind: config.AuthAuto, LoginURL: "https://example.com/login", Timeout: 2 * time.Second}

	require.NoError(t, EnsureAuth(context.Background(), page, cfg, authPath, NewAutoHandler(envPath)))
	assert.Equal(t, "https://example.com/dashboard", page.URL())
	assert.FileExists(t, authPath)
}

func TestNewAutoHandlerFailsWhenEnvIncomplete(t *testing.T) {
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages: map[string]string{
			"/login": `<html><body>
				<input type="text">
				<input type="email">
				<button role="button" data-action="submit">sign in</button>
			</body></html>`,
		},
	}
	session := testdriver.NewSession(fixture)
	page := session.PrimaryPage()

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("EMAIL=user@example.com\n"), 0o600))

	cfg := config.AuthConfig{Kind: config.AuthAuto, LoginURL: "https://example.com/login", Timeout: time.Second}
	err := EnsureAuth(context.Background(), page, cfg, filepath.Join(t.TempDir(), "auth.json"), NewAutoHandler(envPath))
	require.Error(t, err)
}

func TestNewAutoHandlerFailsWhenInputCountWrong(t *testing.T) {
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages: map[string]string{
			"/login": `<html><body>
				<input type="text">
				<button role="button" data-action="submit">sign in</button>
			</body></html>`,
		},
	}
	session := testdriver.NewSession(fixture)
	page := session.PrimaryPage()

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("EMAIL=user@example.com\nPASSWORD=hunter2\n"), 0o600))

	cfg := config.AuthConfig{Kind: config.AuthAuto, LoginURL: "https://example.com/login", Timeout: time.Second}
	err := EnsureAuth(context.Background(), page, cfg, filepath.Join(t.TempDir(), "auth.json"), NewAutoHandler(envPath))
	require.Error(t, err)
}

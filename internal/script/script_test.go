package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/crawler/internal/testdriver"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadResolvesExplicitRunAtDirective(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "start.js", "// @run-at document-start\nconsole.log('x')")
	writeScript(t, dir, "end.js", "// @run-at document-end\nconsole.log('y')")
	writeScript(t, dir, "idle.js", "// @run-at document-idle\nconsole.log('z')")
	writeScript(t, dir, "none.js", "console.log('w')")

	scripts, err := Load(dir, []string{"start.js", "end.js", "idle.js", "none.js"}, "", AfterPageLoad)
	require.NoError(t, err)
	require.Len(t, scripts, 4)
	assert.Equal(t, BeforePageLoad, scripts[0].RunAt)
	assert.Equal(t, AfterPageLoad, scripts[1].RunAt)
	assert.Equal(t, AfterPageLoad, scripts[2].RunAt)
	assert.Equal(t, AfterPageLoad, scripts[3].RunAt, "falls back when no directive present")
}

func TestLoadConfiguredTimingOverridesDirective(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "start.js", "// @run-at document-start\nconsole.log('x')")

	scripts, err := Load(dir, []string{"start.js"}, AfterPageLoad, BeforePageLoad)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, AfterPageLoad, scripts[0].RunAt, "explicit configured timing wins over the parsed directive")
}

func TestLoadDetectsUserScriptMarker(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "gm.js", "// ==UserScript==\nGM_setValue('k', 'v')")
	writeScript(t, dir, "plain.js", "console.log('hi')")

	scripts, err := Load(dir, []string{"gm.js", "plain.js"}, "", AfterPageLoad)
	require.NoError(t, err)
	assert.True(t, scripts[0].IsGM)
	assert.False(t, scripts[1].IsGM)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), []string{"missing.js"}, "", AfterPageLoad)
	assert.Error(t, err)
}

func newTestPage(t *testing.T) *testdriver.Page {
	t.Helper()
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages:   map[string]string{"/a": `<html><body></body></html>`},
	}
	session := testdriver.NewSession(fixture)
	page := session.PrimaryPage()
	return page.(*testdriver.Page)
}

func TestInjectRunsOnlyScriptsMatchingTiming(t *testing.T) {
	page := newTestPage(t)
	scripts := []Script{
		{Name: "before.js", Source: `GM_setValue("before", "1")`, RunAt: BeforePageLoad, IsGM: true},
		{Name: "after.js", Source: `GM_setValue("after", "1")`, RunAt: AfterPageLoad, IsGM: true},
	}

	require.NoError(t, Inject(context.Background(), page, scripts, BeforePageLoad))

	var before, after string
	require.NoError(t, page.Evaluate(context.Background(), `GM_getValue("before", "")`, &before))
	require.NoError(t, page.Evaluate(context.Background(), `GM_getValue("after", "")`, &after))
	assert.Equal(t, "1", before)
	assert.Equal(t, "", after, "afterPageLoad script must not run when injecting at beforePageLoad")
}

func TestInjectIsNoopWhenNothingMatchesTiming(t *testing.T) {
	page := newTestPage(t)
	scripts := []Script{{Name: "after.js", Source: `GM_setValue("x", "1")`, RunAt: AfterPageLoad}}
	require.NoError(t, Inject(context.Background(), page, scripts, BeforePageLoad))

	var v string
	require.NoError(t, page.Evaluate(context.Background(), `GM_getValue("x", "")`, &v))
	assert.Empty(t, v)
}

func TestInjectRunsGMScriptAtItsTiming(t *testing.T) {
	page := newTestPage(t)
	scripts := []Script{{Name: "gm.js", Source: `GM_setValue("shimmed", "1")`, RunAt: AfterPageLoad, IsGM: true}}

	require.NoError(t, Inject(context.Background(), page, scripts, AfterPageLoad))

	var v string
	require.NoError(t, page.Evaluate(context.Background(), `GM_getValue("shimmed", "")`, &v))
	assert.Equal(t, "1", v)
}

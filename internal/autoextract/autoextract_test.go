package autoextract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/state"
	"github.com/blockcrawl/crawler/internal/testdriver"
)

func blockLocator(t *testing.T, page string) driver.Locator {
	t.Helper()
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages:   map[string]string{"/": page},
	}
	session := testdriver.NewSession(fixture)
	p := session.PrimaryPage()
	require.NoError(t, p.Goto(context.Background(), "https://example.com/", driver.GotoOptions{}))
	blocks, err := p.Locator(".block").All(context.Background())
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	return blocks[0]
}

func TestProcessSingleFileFallback(t *testing.T) {
	page := `<html><body><div class="block"><pre>const x = 1;</pre></div></body></html>`
	b := blockLocator(t, page)

	outDir := t.TempDir()
	fm, err := state.LoadFilenameMapping(filepath.Join(t.TempDir(), "fm.json"))
	require.NoError(t, err)

	err = Process(context.Background(), b, "/page#Card", "Card", outDir, config.AutoFileConfig{}, "", fm)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "Card.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;", string(data))
}

func TestProcessLastPreWins(t *testing.T) {
	page := `<html><body><div class="block">
		<pre>stale preview</pre>
		<pre>final version</pre>
	</div></body></html>`
	b := blockLocator(t, page)

	outDir := t.TempDir()
	fm, err := state.LoadFilenameMapping(filepath.Join(t.TempDir(), "fm.json"))
	require.NoError(t, err)

	err = Process(context.Background(), b, "/page#Card", "Card", outDir, config.AutoFileConfig{}, "", fm)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "Card.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "final version", string(data))
}

func TestProcessTokenLineReconstruction(t *testing.T) {
	page := `<html><body><div class="block">
		<pre>
			<div class="token-line">const a = 1;Copy</div>
			<div class="token-line">const b = 2;…</div>
		</pre>
	</div></body></html>`
	b := blockLocator(t, page)

	outDir := t.TempDir()
	fm, err := state.LoadFilenameMapping(filepath.Join(t.TempDir(), "fm.json"))
	require.NoError(t, err)

	err = Process(context.Background(), b, "/page#Card", "Card", outDir, config.AutoFileConfig{}, "", fm)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "Card.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "const a = 1;\nconst b = 2;", string(data))
}

func TestProcessTabsPathShapedAndLanguageNamed(t *testing.T) {
	page := `<html><body><div class="block">
		<div class="tabs">
			<button role="tab">src/index.tsx</button>
			<button role="tab">CSS</button>
		</div>
		<pre>tab content</pre>
	</div></body></html>`
	b := blockLocator(t, page)

	outDir := t.TempDir()
	fm, err := state.LoadFilenameMapping(filepath.Join(t.TempDir(), "fm.json"))
	require.NoError(t, err)

	cfg := config.AutoFileConfig{TabContainerLocator: ".tabs"}
	err = Process(context.Background(), b, "/page#Card", "Card", outDir, cfg, "", fm)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "src/index.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "tab content", string(data))

	data, err = os.ReadFile(filepath.Join(outDir, "index.css"))
	require.NoError(t, err)
	assert.Equal(t, "tab content", string(data))
}

func TestResolveTabFilename(t *testing.T) {
	assert.Equal(t, "components/Button.tsx", resolveTabFilename("components/Button.tsx"))
	assert.Equal(t, "index.tsx", resolveTabFilename("TypeScript"))
	assert.Equal(t, "index.css", resolveTabFilename("css"))
	assert.Equal(t, "index.txt", resolveTabFilename("Unknown Lang"))
}

func TestProcessMultipleVariantsWriteSeparateSubdirs(t *testing.T) {
	page := `<html><body><div class="block">
		<select class="variant"><option>Default</option><option>Compact</option></select>
		<pre>rendered</pre>
	</div></body></html>`
	b := blockLocator(t, page)

	outDir := t.TempDir()
	fm, err := state.LoadFilenameMapping(filepath.Join(t.TempDir(), "fm.json"))
	require.NoError(t, err)

	cfg := config.AutoFileConfig{VariantSwitcherLocator: ".variant"}
	err = Process(context.Background(), b, "/page#Card", "Card", outDir, cfg, "", fm)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "Default", "Card.tsx"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "Compact", "Card.tsx"))
	require.NoError(t, err)
}

package block

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/state"
	"github.com/blockcrawl/crawler/internal/testdriver"
)

const fixturePage = `
<html><body>
  <div class="block">
    <h2>Intro</h2>
    <p>Some description text.</p>
  </div>
  <div class="block">
    <h2><span>Icon</span><a>Button Group</a></h2>
    <p>Body</p>
  </div>
  <div class="block">
    <h2>Pricing Card</h2>
    <span>Free</span>
  </div>
  <div class="block">
    <h2>Ambiguous Card</h2>
    <span>Free</span>
    <span>Free</span>
  </div>
</body></html>`

func newTestPage(t *testing.T) *testdriver.Page {
	t.Helper()
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages:   map[string]string{"/catalog": fixturePage},
	}
	session := testdriver.NewSession(fixture)
	page := session.PrimaryPage()
	require.NoError(t, page.Goto(context.Background(), "https://example.com/catalog", driver.GotoOptions{WaitUntil: driver.WaitLoad}))
	return page.(*testdriver.Page)
}

func TestDefaultBlockNameSimpleHeading(t *testing.T) {
	page := newTestPage(t)
	blocks, err := page.Locator(".block").All(context.Background())
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	name, err := defaultBlockName(context.Background(), blocks[0])
	require.NoError(t, err)
	assert.Equal(t, "Intro", name)
}

func TestDefaultBlockNamePrefersAnchorChild(t *testing.T) {
	page := newTestPage(t)
	blocks, err := page.Locator(".block").All(context.Background())
	require.NoError(t, err)

	name, err := defaultBlockName(context.Background(), blocks[1])
	require.NoError(t, err)
	assert.Equal(t, "Button Group", name)
}

func newProcessor() *Processor {
	return &Processor{
		Cfg: config.BlockConfig{
			BlocksLocator: ".block",
			Free:          config.FreeConfig{Pattern: "default"},
		},
		Logger:      zap.NewNop(),
		regionCache: make(map[string]regionStrategy),
	}
}

func TestCheckFreeDetectsSingleMarker(t *testing.T) {
	page := newTestPage(t)
	blocks, err := page.Locator(".block").All(context.Background())
	require.NoError(t, err)

	p := newProcessor()
	free, err := p.checkFree(context.Background(), "/catalog", blocks[2], "Pricing Card")
	require.NoError(t, err)
	assert.True(t, free)
}

func TestCheckFreeNotFreeWhenNoMarker(t *testing.T) {
	page := newTestPage(t)
	blocks, err := page.Locator(".block").All(context.Background())
	require.NoError(t, err)

	p := newProcessor()
	free, err := p.checkFree(context.Background(), "/catalog", blocks[0], "Intro")
	require.NoError(t, err)
	assert.False(t, free)
}

func TestCheckFreeAmbiguousWhenMultipleMarkers(t *testing.T) {
	page := newTestPage(t)
	blocks, err := page.Locator(".block").All(context.Background())
	require.NoError(t, err)

	p := newProcessor()
	_, err = p.checkFree(context.Background(), "/catalog", blocks[3], "Ambiguous Card")
	require.Error(t, err)
	assert.True(t, crawlerr.Is(err, crawlerr.FreeAmbiguous))
}

func TestProcessPageRecordsFreeBlocksAndMarksOthersComplete(t *testing.T) {
	page := newTestPage(t)

	progress := state.NewProgress(t.TempDir() + "/progress.json")
	free, err := state.LoadFree(t.TempDir() + "/free.json")
	require.NoError(t, err)
	meta, err := state.LoadSiteMeta(t.TempDir()+"/meta.json", "https://example.com/catalog")
	require.NoError(t, err)

	p := newProcessor()
	p.Progress = progress
	p.Free = free
	p.Meta = meta
	p.IgnoreMismatch = true

	err = p.ProcessPage(context.Background(), page, "/catalog", 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Pricing Card"}, free.BlocksByPage()["/catalog"])
	assert.True(t, progress.IsBlockComplete("/catalog/Intro"))
	assert.True(t, progress.IsBlockComplete("/catalog/Button Group"))
}

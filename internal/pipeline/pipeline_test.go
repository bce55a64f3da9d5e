package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/testdriver"
)

func TestRunCrawlsStartPageAndEveryCollectedLink(t *testing.T) {
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages: map[string]string{
			"/": `<html><body><div class="catalog"><a href="/buttons">Buttons</a></div></body></html>`,
			"/buttons": `<html><body>
				<div class="block"><h2>Button Group</h2><p>content</p></div>
				<div class="block"><h2>Icon Button</h2><p>content</p></div>
			</body></html>`,
		},
	}
	session := testdriver.NewSession(fixture)

	tmp := t.TempDir()
	base := config.Default()
	base.OutputBaseDir = filepath.Join(tmp, "output")
	base.StateBaseDir = filepath.Join(tmp, "state")
	base.Progress.Enable = true

	site := config.SiteConfig{
		StartURL: "https://example.com/",
		Section: config.SectionConfig{
			Mode:            config.SectionStatic,
			SectionsLocator: ".catalog",
			LinkLocator:     "a",
		},
		Block: config.BlockConfig{BlocksLocator: ".block"},
	}

	resolved, err := config.Resolve(base, site)
	require.NoError(t, err)

	p, err := New(resolved, session, zap.NewNop(), Handlers{}, nil)
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, p.Meta().TotalActual)
	assert.Equal(t, 1, p.Meta().TotalDisplayed)
	assert.True(t, p.Meta().IsComplete)

	assert.FileExists(t, resolved.Runtime.PathsFor(site.StartURL).MetaFile)
	assert.FileExists(t, resolved.Runtime.PathsFor(site.StartURL).ProgressFile)
}

func TestRunSkipsCollectionOnSecondInvocationViaCollectFileCache(t *testing.T) {
	fixture := &testdriver.Fixture{
		BaseURL: "https://example.com",
		Pages: map[string]string{
			"/":        `<html><body><div class="catalog"><a href="/buttons">Buttons</a></div></body></html>`,
			"/buttons": `<html><body><div class="block"><h2>Button Group</h2></div></body></html>`,
		},
	}

	tmp := t.TempDir()
	base := config.Default()
	base.OutputBaseDir = filepath.Join(tmp, "output")
	base.StateBaseDir = filepath.Join(tmp, "state")
	base.Progress.Enable = true

	site := config.SiteConfig{
		StartURL: "https://example.com/",
		Section: config.SectionConfig{
			Mode:            config.SectionStatic,
			SectionsLocator: ".catalog",
			LinkLocator:     "a",
		},
		Block: config.BlockConfig{BlocksLocator: ".block"},
	}
	resolved, err := config.Resolve(base, site)
	require.NoError(t, err)

	session1 := testdriver.NewSession(fixture)
	p1, err := New(resolved, session1, zap.NewNop(), Handlers{}, nil)
	require.NoError(t, err)
	_, err = p1.Run(context.Background())
	require.NoError(t, err)

	// Second run reuses the already-persisted progress/collect state, so
	// every block is already complete and no handler work repeats.
	session2 := testdriver.NewSession(fixture)
	p2, err := New(resolved, session2, zap.NewNop(), Handlers{}, nil)
	require.NoError(t, err)
	stats2, err := p2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats2.PreviousCompletedPages)
	assert.Equal(t, 1, p2.Meta().TotalActual)
}

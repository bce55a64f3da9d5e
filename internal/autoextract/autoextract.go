// Package autoextract implements the auto-extractor (spec.md §4.F "Auto-
// extractor" / §4.H): for declarative block configs, it walks variant
// switchers and file tabs and pulls code text out of the declared code
// region, writing one file per tab to disk.
package autoextract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/state"
)

// langExt maps a bare language-name tab label to the extension a
// language-name-only tab should produce (spec.md §4.F: "language-name-only
// tabs like 'TypeScript' become index.tsx").
var langExt = map[string]string{
	"typescript": "tsx",
	"javascript": "jsx",
	"css":        "css",
	"html":       "html",
	"json":       "json",
	"markdown":   "md",
}

// Process walks block's variants and file tabs per cfg, writing each
// extracted file directly under outputDir (or outputDir/<variant> when there
// are multiple variants). The block processor passes a per-block directory
// as outputDir.
func Process(ctx context.Context, block driver.Locator, blockPath, blockName, outputDir string, cfg config.AutoFileConfig, codeRegion string, filenameMap *state.FilenameMapping) error {
	if codeRegion == "" {
		codeRegion = cfg.CodeRegionLocator
	}

	variants, err := resolveVariants(ctx, block, cfg.VariantSwitcherLocator)
	if err != nil {
		return err
	}

	for _, variant := range variants {
		if variant.selector != nil {
			if err := variant.selector.Click(ctx); err != nil {
				return fmt.Errorf("autoextract: select variant %q: %w", variant.name, err)
			}
		}
		dir := outputDir
		if len(variants) > 1 {
			dir = filepath.Join(outputDir, state.Sanitize(variant.name))
		}
		if err := processVariant(ctx, block, blockPath, blockName, dir, cfg, codeRegion, filenameMap); err != nil {
			return err
		}
	}
	return nil
}

type namedLocator struct {
	name     string
	selector driver.Locator
}

// resolveVariants reads the switcher's option texts, caching nothing itself
// since Process is called once per block visit; the caller (the block
// processor) is responsible for not re-invoking this after a block is
// already marked complete.
func resolveVariants(ctx context.Context, block driver.Locator, switcherSelector string) ([]namedLocator, error) {
	if switcherSelector == "" {
		return []namedLocator{{}}, nil
	}
	options, err := block.Locator(switcherSelector).Locator(`option`).All(ctx)
	if err != nil || len(options) == 0 {
		options, err = block.Locator(switcherSelector).Locator(`[role="option"]`).All(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("autoextract: variant switcher: %w", err)
	}
	if len(options) == 0 {
		return []namedLocator{{}}, nil
	}
	out := make([]namedLocator, 0, len(options))
	for _, o := range options {
		text, err := o.TextContent(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, namedLocator{name: text, selector: o})
	}
	return out, nil
}

// resolveTabs tries each candidate tab element shape in turn, the same
// role-then-tag fallback resolveVariants uses, since no selector-list
// combinator is assumed to be available on every driver binding.
func resolveTabs(ctx context.Context, container driver.Locator) ([]driver.Locator, error) {
	for _, sel := range []string{`[role="tab"]`, "button", "a"} {
		tabs, err := container.Locator(sel).All(ctx)
		if err != nil {
			return nil, err
		}
		if len(tabs) > 0 {
			return tabs, nil
		}
	}
	return nil, nil
}

func processVariant(ctx context.Context, block driver.Locator, blockPath, blockName, outputDir string, cfg config.AutoFileConfig, codeRegion string, filenameMap *state.FilenameMapping) error {
	if cfg.TabContainerLocator == "" {
		code, err := extractCode(ctx, block, codeRegion)
		if err != nil {
			return err
		}
		return writeFile(outputDir, blockName+".tsx", code)
	}

	tabs, err := resolveTabs(ctx, block.Locator(cfg.TabContainerLocator))
	if err != nil {
		return fmt.Errorf("autoextract: tab container: %w", err)
	}
	for _, tab := range tabs {
		if err := tab.Click(ctx); err != nil {
			return fmt.Errorf("autoextract: click tab: %w", err)
		}
		tabText, err := tab.TextContent(ctx)
		if err != nil {
			return err
		}
		filename := resolveTabFilename(tabText)
		mapped := filenameMap.Resolve(blockPath+"/"+filename, filename)

		code, err := extractCode(ctx, block, codeRegion)
		if err != nil {
			return err
		}
		if err := writeFile(outputDir, mapped, code); err != nil {
			return err
		}
	}
	return nil
}

// resolveTabFilename preserves path-shaped tab labels (sub/dir/file.tsx) and
// maps bare language names to index.<ext> (spec.md §4.F).
func resolveTabFilename(tabText string) string {
	tabText = strings.TrimSpace(tabText)
	if strings.Contains(tabText, "/") || strings.Contains(tabText, ".") {
		return tabText
	}
	ext, ok := langExt[strings.ToLower(tabText)]
	if !ok {
		ext = "txt"
	}
	return "index." + ext
}

// extractCode reads the last `pre` element inside region (last pre wins to
// avoid duplicates, spec.md §4.F), falling back to the whole region when
// there is no nested pre. Syntax-highlighter output built from
// `.token-line` children is reconstructed line by line rather than read as
// raw text, removing every "Copy" and "…" substring from each line.
func extractCode(ctx context.Context, block driver.Locator, regionSelector string) (string, error) {
	region := block
	if regionSelector != "" {
		region = block.Locator(regionSelector)
	}
	pres, err := region.Locator("pre").All(ctx)
	if err != nil {
		return "", fmt.Errorf("autoextract: locate pre: %w", err)
	}
	var source driver.Locator
	if len(pres) > 0 {
		source = pres[len(pres)-1]
	} else {
		source = region
	}

	lines, err := source.Locator(".token-line").All(ctx)
	if err != nil || len(lines) == 0 {
		text, err := source.TextContent(ctx)
		if err != nil {
			return "", err
		}
		return text, nil
	}

	var sb strings.Builder
	for i, line := range lines {
		text, err := line.TextContent(ctx)
		if err != nil {
			return "", err
		}
		text = stripDecoration(text)
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// stripDecoration removes the copy-button/ellipsis text that some
// highlighters interleave into .token-line text content.
func stripDecoration(text string) string {
	text = strings.ReplaceAll(text, "…", "")
	text = strings.ReplaceAll(text, "Copy", "")
	return text
}

func writeFile(dir, name, content string) error {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

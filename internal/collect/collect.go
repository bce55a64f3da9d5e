// Package collect implements the link collector (spec.md §4.C): it visits
// the start page, extracts sections and their links, and persists the
// result as collect.json.
package collect

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/driver"
)

// Link is one extracted collection link (spec.md §3 CollectionLink).
type Link struct {
	Link       string `json:"link"`
	Name       string `json:"name,omitempty"`
	BlockCount int    `json:"blockCount,omitempty"`
}

// Result is the pre-computed work set, serialized as collect.json.
type Result struct {
	LastUpdate  time.Time `json:"lastUpdate"`
	TotalLinks  int       `json:"totalLinks"`
	TotalBlocks int       `json:"totalBlocks"`
	Collections []Link    `json:"collections"`
}

var digitsRe = regexp.MustCompile(`\d+`)

// Collect produces a Result by visiting startURL, or loads an existing one
// from collectPath without navigating at all — collect.json's mere
// existence is the collection phase's idempotence axis (spec.md §4.C).
func Collect(ctx context.Context, page driver.Page, startURL, collectPath string, section config.SectionConfig) (Result, bool, error) {
	if _, err := os.Stat(collectPath); err == nil {
		existing, err := Load(collectPath)
		return existing, true, err
	} else if !os.IsNotExist(err) {
		return Result{}, false, err
	}

	result, err := collectFromPage(ctx, page, startURL, section)
	if err != nil {
		return Result{}, false, err
	}
	if err := Save(collectPath, result); err != nil {
		return Result{}, false, err
	}
	return result, false, nil
}

func collectFromPage(ctx context.Context, page driver.Page, startURL string, section config.SectionConfig) (Result, error) {
	timeout := section.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if err := page.Goto(ctx, startURL, driver.GotoOptions{
		WaitUntil: driver.WaitUntil(section.WaitUntil),
		Timeout:   timeout,
	}); err != nil {
		return Result{}, fmt.Errorf("collect: goto %s: %w", startURL, err)
	}

	var links []Link
	seen := make(map[string]struct{})

	addFrom := func(linkLocators []driver.Locator) error {
		for _, loc := range linkLocators {
			link, ok, err := extractLink(ctx, loc, section)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, dup := seen[link.Link]; dup {
				continue
			}
			seen[link.Link] = struct{}{}
			links = append(links, link)
		}
		return nil
	}

	switch section.Mode {
	case config.SectionStatic:
		sections, err := page.Locator(section.SectionsLocator).All(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("collect: sectionsLocator: %w", err)
		}
		for _, sec := range sections {
			linkLocators, err := sec.Locator(section.LinkLocator).All(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("collect: linkLocator: %w", err)
			}
			if err := addFrom(linkLocators); err != nil {
				return Result{}, err
			}
		}
	case config.SectionClickThrough:
		tabs, err := page.Locator(section.TabListLocator).All(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("collect: tabListLocator: %w", err)
		}
		for _, tab := range tabs {
			if err := tab.Click(ctx); err != nil {
				return Result{}, fmt.Errorf("collect: click tab: %w", err)
			}
			if err := page.WaitForTimeout(ctx, section.SettleDelay); err != nil {
				return Result{}, err
			}
			// Clicking a tab reveals its panel; since only the active panel
			// is attached/visible at a time, the page-level query returns
			// exactly that panel's links.
			linkLocators, err := page.Locator(section.LinkLocator).All(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("collect: linkLocator: %w", err)
			}
			if err := addFrom(linkLocators); err != nil {
				return Result{}, err
			}
		}
	default:
		return Result{}, fmt.Errorf("collect: unsupported section mode %q", section.Mode)
	}

	totalBlocks := 0
	for _, l := range links {
		totalBlocks += l.BlockCount
	}

	return Result{
		LastUpdate:  time.Now().UTC(),
		TotalLinks:  len(links),
		TotalBlocks: totalBlocks,
		Collections: links,
	}, nil
}

func extractLink(ctx context.Context, loc driver.Locator, section config.SectionConfig) (Link, bool, error) {
	href, err := loc.GetAttribute(ctx, "href")
	if err != nil {
		return Link{}, false, err
	}
	if href == "" {
		return Link{}, false, nil
	}

	name, err := resolveField(ctx, loc, section.NameLocator)
	if err != nil {
		return Link{}, false, err
	}
	if name == "" {
		name, err = loc.TextContent(ctx)
		if err != nil {
			return Link{}, false, err
		}
	}

	var blockCount int
	if countText, err := resolveField(ctx, loc, section.CountLocator); err == nil && countText != "" {
		blockCount = sumDigitRuns(countText)
	}

	return Link{Link: href, Name: name, BlockCount: blockCount}, true, nil
}

// resolveField reads the text of a sub-locator scoped within loc, returning
// "" when selector is empty.
func resolveField(ctx context.Context, loc driver.Locator, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	return loc.Locator(selector).TextContent(ctx)
}

// sumDigitRuns sums every run of digits found in text, the default block
// count extractor (spec.md §4.C).
func sumDigitRuns(text string) int {
	total := 0
	for _, m := range digitsRe.FindAllString(text, -1) {
		n, err := strconv.Atoi(m)
		if err == nil {
			total += n
		}
	}
	return total
}

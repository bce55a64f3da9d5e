// Package script implements the script injector (spec.md §4.H/J): it loads
// per-site user scripts plus the user-script API shim and injects them
// before or after navigation. The shim is a static go:embed resource loaded
// once at startup, never generated per-injection (spec.md §9).
package script

import (
	_ "embed"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blockcrawl/crawler/internal/driver"
)

//go:embed shim.js
var shim string

// Timing names when a script runs relative to navigation.
type Timing string

const (
	BeforePageLoad Timing = "beforePageLoad"
	AfterPageLoad  Timing = "afterPageLoad"
)

var runAtRe = regexp.MustCompile(`(?m)^// @run-at\s+(\S+)`)
var userScriptMarker = "==UserScript=="

// Script is one loaded site script, ready for injection.
type Script struct {
	Name    string
	Source  string
	RunAt   Timing // resolved timing, after configuration-precedence is applied
	IsGM    bool
}

// Load reads every named file from scriptsDir and resolves each one's
// timing: explicit configuredTiming wins; otherwise a parsed @run-at
// directive; otherwise the fallback default.
func Load(scriptsDir string, names []string, configuredTiming Timing, fallback Timing) ([]Script, error) {
	out := make([]Script, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(scriptsDir, name))
		if err != nil {
			return nil, err
		}
		src := string(data)
		timing := configuredTiming
		if timing == "" {
			timing = resolveRunAt(src, fallback)
		}
		out = append(out, Script{
			Name:   name,
			Source: src,
			RunAt:  timing,
			IsGM:   strings.Contains(src, userScriptMarker),
		})
	}
	return out, nil
}

// resolveRunAt maps a @run-at header to a Timing, per spec.md §4.H:
// document-start -> beforePageLoad, document-end|idle -> afterPageLoad.
func resolveRunAt(src string, fallback Timing) Timing {
	m := runAtRe.FindStringSubmatch(src)
	if m == nil {
		return fallback
	}
	switch m[1] {
	case "document-start":
		return BeforePageLoad
	case "document-end", "document-idle":
		return AfterPageLoad
	default:
		return fallback
	}
}

// Inject runs every script whose RunAt matches timing, prefixing the shim
// before the first GM-flavored script if any are present at this timing.
func Inject(ctx context.Context, page driver.Page, scripts []Script, timing Timing) error {
	var pending []Script
	needsShim := false
	for _, s := range scripts {
		if s.RunAt != timing {
			continue
		}
		pending = append(pending, s)
		if s.IsGM {
			needsShim = true
		}
	}
	if len(pending) == 0 {
		return nil
	}

	inject := page.Evaluate
	if timing == BeforePageLoad {
		inject = func(ctx context.Context, expr string, result any) error {
			return page.AddInitScript(ctx, expr)
		}
	}

	if needsShim {
		if err := inject(ctx, shim, nil); err != nil {
			return err
		}
	}
	for _, s := range pending {
		if err := inject(ctx, s.Source, nil); err != nil {
			return err
		}
	}
	return nil
}

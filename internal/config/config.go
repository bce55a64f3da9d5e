// Package config resolves user-supplied site configuration into an immutable
// RuntimeConfig and the per-site paths derived from it.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// LogLevel controls how much the crawler writes to its logger.
type LogLevel string

const (
	LogInfo   LogLevel = "info"
	LogDebug  LogLevel = "debug"
	LogSilent LogLevel = "silent"
)

// SectionMode selects how the link collector finds sections on the start page.
type SectionMode string

const (
	SectionStatic       SectionMode = "static"
	SectionClickThrough SectionMode = "click_through"
)

// AuthKind selects how the authentication manager obtains a session.
type AuthKind string

const (
	AuthNone AuthKind = "none"
	AuthUser AuthKind = "user" // user-supplied handler
	AuthAuto AuthKind = "auto" // EMAIL/PASSWORD form login
)

// ProcessMode selects the per-link handler shape (spec.md §9: one mode
// interface, three variants, sharing the §4.E per-link protocol).
type ProcessMode string

const (
	ModeBlock ProcessMode = "block"
	ModePage  ProcessMode = "page"
	ModeTest  ProcessMode = "test"
)

// WaitUntil mirrors the driver's page-wait condition vocabulary.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ProgressSettings controls progress.json: Enable decides whether
// completions are written to it, while an existing file is loaded either
// way; Rebuild starts from an empty record instead of loading it.
type ProgressSettings struct {
	Enable  bool
	Rebuild bool
}

// RuntimeConfig is the immutable, fully-resolved configuration the core
// consumes. It is never mutated after Resolve returns it.
type RuntimeConfig struct {
	Locale            string
	OutputBaseDir     string
	StateBaseDir      string
	MaxConcurrency    int
	PauseOnError      bool
	LogLevel          LogLevel
	IgnoreMismatch    bool
	Progress          ProgressSettings
	RequestsPerSecond float64 // 0 = unlimited; politeness pacing only (§5 addition)
}

// Default returns the documented defaults (spec.md §4.A).
func Default() RuntimeConfig {
	return RuntimeConfig{
		Locale:         "en",
		OutputBaseDir:  "output",
		StateBaseDir:   ".crawler",
		MaxConcurrency: 5,
		PauseOnError:   true,
		LogLevel:       LogInfo,
		IgnoreMismatch: false,
		Progress:       ProgressSettings{Enable: false, Rebuild: false},
	}
}

// Merge overlays non-zero fields of override onto the receiver and returns
// the result. Pure string/value work only — Resolve never touches disk.
func (c RuntimeConfig) Merge(override RuntimeConfig) RuntimeConfig {
	out := c
	if override.Locale != "" {
		out.Locale = override.Locale
	}
	if override.OutputBaseDir != "" {
		out.OutputBaseDir = override.OutputBaseDir
	}
	if override.StateBaseDir != "" {
		out.StateBaseDir = override.StateBaseDir
	}
	if override.MaxConcurrency != 0 {
		out.MaxConcurrency = override.MaxConcurrency
	}
	if override.LogLevel != "" {
		out.LogLevel = override.LogLevel
	}
	if override.RequestsPerSecond != 0 {
		out.RequestsPerSecond = override.RequestsPerSecond
	}
	out.PauseOnError = override.PauseOnError || out.PauseOnError
	out.IgnoreMismatch = override.IgnoreMismatch || out.IgnoreMismatch
	out.Progress.Enable = override.Progress.Enable || out.Progress.Enable
	out.Progress.Rebuild = override.Progress.Rebuild || out.Progress.Rebuild
	return out
}

// PerSitePaths holds every path derived from a start URL's host.
type PerSitePaths struct {
	Host            string
	OutputDir       string
	StateDir        string
	ProgressFile    string
	FreeFile        string
	MismatchFile    string
	CollectFile     string
	MetaFile        string
	AuthFile        string
	FilenameMapFile string
	ScriptsDir      string
	EnvFile         string
	HistoryFile     string
}

// PathsFor derives the per-site paths for a start URL's host, falling back
// to "default" when the host cannot be extracted (spec.md §3).
func (c RuntimeConfig) PathsFor(startURL string) PerSitePaths {
	host := ExtractHost(startURL)
	siteOutput := filepath.Join(c.OutputBaseDir, host)
	siteState := filepath.Join(c.StateBaseDir, host)
	return PerSitePaths{
		Host:            host,
		OutputDir:       siteOutput,
		StateDir:        siteState,
		ProgressFile:    filepath.Join(siteState, "progress.json"),
		FreeFile:        filepath.Join(siteState, "free.json"),
		MismatchFile:    filepath.Join(siteState, "mismatch.json"),
		CollectFile:     filepath.Join(siteState, "collect.json"),
		MetaFile:        filepath.Join(siteState, "meta.json"),
		AuthFile:        filepath.Join(siteState, "auth.json"),
		FilenameMapFile: filepath.Join(siteState, "filename-mapping.json"),
		ScriptsDir:      filepath.Join(siteState, "scripts"),
		EnvFile:         filepath.Join(siteState, ".env"),
		HistoryFile:     filepath.Join(c.StateBaseDir, "history.db"),
	}
}

// ExtractHost returns the lowercased host of a URL, or "default" if it
// cannot be parsed or is empty (spec.md §3).
func ExtractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "default"
	}
	return strings.ToLower(u.Hostname())
}

// SectionConfig describes how the link collector finds sections on the
// start page (spec.md §4.C).
type SectionConfig struct {
	Mode SectionMode

	// Static mode: a locator selecting every section directly.
	SectionsLocator string

	// Click-through mode: a tablist locator and the settle delay after
	// each tab click (default 500ms).
	TabListLocator string
	SettleDelay    time.Duration

	// Per-link extraction, shared by both modes.
	LinkLocator  string // locator for <a>-like elements within a section
	NameLocator  string // optional; falls back to the link's whole text content, not only its first non-empty text node
	CountLocator string // optional; falls back to omitting the count

	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Validate rejects unsupported mode/locator combinations at configuration
// time (spec.md §9's open question on collector variants).
func (s SectionConfig) Validate() error {
	switch s.Mode {
	case SectionStatic:
		if s.SectionsLocator == "" {
			return fmt.Errorf("config: static section mode requires sectionsLocator")
		}
		if s.TabListLocator != "" {
			return fmt.Errorf("config: static section mode cannot also set tabListLocator")
		}
	case SectionClickThrough:
		if s.TabListLocator == "" {
			return fmt.Errorf("config: click_through section mode requires tabListLocator")
		}
		if s.SectionsLocator != "" {
			return fmt.Errorf("config: click_through section mode cannot also set sectionsLocator")
		}
	default:
		return fmt.Errorf("config: unknown section mode %q", s.Mode)
	}
	if s.LinkLocator == "" {
		return fmt.Errorf("config: section config requires linkLocator")
	}
	return nil
}

// AuthConfig describes the authentication manager's behavior (spec.md §4.B).
type AuthConfig struct {
	Kind     AuthKind
	LoginURL string
	Timeout  time.Duration
}

// ScriptConfig names the scripts to inject at each timing (spec.md §4.H/J).
type ScriptConfig struct {
	BeforeOpen []string
	AfterOpen  []string
}

// AutoScrollConfig controls the link executor's lazy-load scroll simulation
// (spec.md §4.E step 6).
type AutoScrollConfig struct {
	Enabled  bool
	StepPx   int
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultAutoScroll returns the documented defaults.
func DefaultAutoScroll() AutoScrollConfig {
	return AutoScrollConfig{StepPx: 800, Interval: 500 * time.Millisecond, Timeout: 120 * time.Second}
}

// FreeConfig is the block- or page-scoped free-text matcher (spec.md §4.F).
type FreeConfig struct {
	Pattern string // "" = disabled, "default" = /free/i, else exact match
}

// ConditionalBlockConfig is one entry in a block's ordered `when` list
// (spec.md §4.F step 2).
type ConditionalBlockConfig struct {
	Name          string
	WhenLocator   string
	SkipPreChecks bool
	CodeRegion    string
}

// AutoFileConfig declares the auto-extractor's locators (spec.md §4.H).
type AutoFileConfig struct {
	VariantSwitcherLocator string
	TabContainerLocator    string
	CodeRegionLocator      string
}

// BlockConfig describes per-block processing (spec.md §4.F).
type BlockConfig struct {
	BlocksLocator    string
	BlockNameLocator string // "" or "default" selects the heading-based default
	Progressive      bool
	Free             FreeConfig
	Conditionals     []ConditionalBlockConfig
	AutoFile         *AutoFileConfig
	VerifyCompletion bool
}

// PageConfig describes whole-page processing (spec.md §4.G). A non-empty
// HandlerName signals the caller will supply a handler under that name;
// the core never interprets its body.
type PageConfig struct {
	HandlerName string
}

// SiteConfig is the fully-resolved, declarative per-site document the core
// consumes (SPEC_FULL.md §3). A fluent builder out of scope for this module
// produces this record; the core never sees the builder.
type SiteConfig struct {
	StartURL     string
	Mode         ProcessMode
	Section      SectionConfig
	Auth         AuthConfig
	Scripts      ScriptConfig
	AutoScroll   AutoScrollConfig
	Block        BlockConfig
	Page         PageConfig
	Runtime      RuntimeConfig
	SkipPageFree FreeConfig
}

// Resolve merges site-level runtime overrides onto base defaults and
// validates the section configuration. It never touches the filesystem.
func Resolve(base RuntimeConfig, site SiteConfig) (SiteConfig, error) {
	site.Runtime = base.Merge(site.Runtime)
	if err := site.Section.Validate(); err != nil {
		return SiteConfig{}, err
	}
	if site.Mode == "" {
		site.Mode = ModeBlock
	}
	if site.Section.WaitUntil == "" {
		site.Section.WaitUntil = WaitLoad
	}
	if site.Section.SettleDelay == 0 {
		site.Section.SettleDelay = 500 * time.Millisecond
	}
	return site, nil
}

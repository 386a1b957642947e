// Package config manages application configuration from environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const envPrefix = "MBR_"

// Config holds runtime configuration for the repository server, static builder and exporter.
type Config struct {
	RootDir             string
	StaticFolder        string
	StaticOutput        string
	AssetsDir           string
	IndexFile           string
	MarkdownExtensions  []string
	IgnoreDirs          []string
	IgnoreGlobs         []string
	TagSources          []string
	Port                int
	OembedTimeoutMS     int
	OembedCacheBytes    int64
	LinkCacheBytes      int64
	InboundCacheBytes   int64
	InboundCacheTTLSec  int
	VideoMetaCacheBytes int64
	HLSCacheBytes       int64
	AutoOpen            bool
	DarkModeFirst       bool
	Verbose             bool
	TranscodeEnabled    bool
	SectionsEnabled     bool
}

// Default returns ready-to-use defaults prior to env/flag overrides.
func Default() Config {
	return Config{
		RootDir:             ".",
		StaticFolder:        "static",
		Port:                0, // 0 = auto-select random available port
		AutoOpen:            true,
		DarkModeFirst:       true,
		StaticOutput:        "dist",
		AssetsDir:           "static",
		IndexFile:           "index.md",
		MarkdownExtensions:  []string{"md", "markdown"},
		IgnoreDirs:          []string{"node_modules", "vendor", ".git", ".hg", ".svn", ".idea", ".vscode"},
		TagSources:          []string{"tags"},
		OembedTimeoutMS:     4000,
		OembedCacheBytes:    8 << 20,
		LinkCacheBytes:      4 << 20,
		InboundCacheBytes:   8 << 20,
		InboundCacheTTLSec:  300,
		VideoMetaCacheBytes: 64 << 20,
		HLSCacheBytes:       512 << 20,
		TranscodeEnabled:    false,
		SectionsEnabled:     true,
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory containing markdown files")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign, default: auto)")
	fs.BoolVar(&cfg.AutoOpen, "auto-open", cfg.AutoOpen, "open the browser automatically after start")
	fs.BoolVar(&cfg.DarkModeFirst, "dark", cfg.DarkModeFirst, "enable dark theme by default")
	fs.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "default output directory for static export")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory containing built frontend assets")
	fs.StringVar(&cfg.StaticFolder, "static-folder", cfg.StaticFolder, "repo-relative folder overlaid onto the URL root for static assets")
	fs.StringVar(&cfg.IndexFile, "index-file", cfg.IndexFile, "markdown filename that represents a directory's index page")
	fs.StringSliceVar(&cfg.MarkdownExtensions, "markdown-ext", cfg.MarkdownExtensions, "markdown file extensions, tried in order")
	fs.StringSliceVar(&cfg.IgnoreDirs, "ignore-dir", cfg.IgnoreDirs, "directory names to skip while scanning")
	fs.StringSliceVar(&cfg.IgnoreGlobs, "ignore-glob", cfg.IgnoreGlobs, "glob patterns to skip while scanning")
	fs.StringSliceVar(&cfg.TagSources, "tag-source", cfg.TagSources, "declared wiki tag sources, e.g. tags,performers")
	fs.IntVar(&cfg.OembedTimeoutMS, "oembed-timeout-ms", cfg.OembedTimeoutMS, "per-fetch OEmbed timeout in milliseconds (0 disables OEmbed)")
	fs.Int64Var(&cfg.OembedCacheBytes, "oembed-cache-bytes", cfg.OembedCacheBytes, "max bytes for the OEmbed cache (0 disables)")
	fs.Int64Var(&cfg.LinkCacheBytes, "link-cache-bytes", cfg.LinkCacheBytes, "max bytes for the outbound link cache (0 disables)")
	fs.Int64Var(&cfg.InboundCacheBytes, "inbound-cache-bytes", cfg.InboundCacheBytes, "max bytes for the inbound link cache (0 disables)")
	fs.IntVar(&cfg.InboundCacheTTLSec, "inbound-cache-ttl", cfg.InboundCacheTTLSec, "inbound link cache TTL in seconds")
	fs.Int64Var(&cfg.VideoMetaCacheBytes, "video-meta-cache-bytes", cfg.VideoMetaCacheBytes, "max bytes for the video metadata cache (0 disables)")
	fs.Int64Var(&cfg.HLSCacheBytes, "hls-cache-bytes", cfg.HLSCacheBytes, "max bytes for the HLS segment/playlist cache (0 disables)")
	fs.BoolVar(&cfg.TranscodeEnabled, "transcode", cfg.TranscodeEnabled, "enable on-demand HLS transcoding endpoints")
	fs.BoolVar(&cfg.SectionsEnabled, "sections", cfg.SectionsEnabled, "wrap attributed horizontal rules into <section> elements")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyBoolEnv("AUTO_OPEN", func(v bool) { cfg.AutoOpen = v })
	applyBoolEnv("DARK", func(v bool) { cfg.DarkModeFirst = v })
	applyStringEnv("OUT", func(v string) { cfg.StaticOutput = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyStringEnv("STATIC_FOLDER", func(v string) { cfg.StaticFolder = v })
	applyStringEnv("INDEX_FILE", func(v string) { cfg.IndexFile = v })
	applyStringSliceEnv("MARKDOWN_EXT", func(v []string) { cfg.MarkdownExtensions = v })
	applyStringSliceEnv("TAG_SOURCES", func(v []string) { cfg.TagSources = v })
	applyIntEnv("OEMBED_TIMEOUT_MS", func(v int) { cfg.OembedTimeoutMS = v })
	applyInt64Env("OEMBED_CACHE_BYTES", func(v int64) { cfg.OembedCacheBytes = v })
	applyInt64Env("HLS_CACHE_BYTES", func(v int64) { cfg.HLSCacheBytes = v })
	applyBoolEnv("TRANSCODE", func(v bool) { cfg.TranscodeEnabled = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyStringSliceEnv(key string, apply func([]string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			apply(out)
		}
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyInt64Env(key string, apply func(int64)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	// Allow port 0 for dynamic allocation, otherwise validate range.
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.StaticOutput == "" {
		cfg.StaticOutput = "dist"
	}

	if cfg.AssetsDir == "" {
		cfg.AssetsDir = "static"
	}
	assets, err := filepath.Abs(cfg.AssetsDir)
	if err != nil {
		return fmt.Errorf("resolve assets directory: %w", err)
	}
	cfg.AssetsDir = assets

	if cfg.StaticFolder == "" {
		cfg.StaticFolder = "static"
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.md"
	}
	if len(cfg.MarkdownExtensions) == 0 {
		cfg.MarkdownExtensions = []string{"md", "markdown"}
	}
	if len(cfg.TagSources) == 0 {
		cfg.TagSources = []string{"tags"}
	}
	if cfg.OembedTimeoutMS < 0 {
		return fmt.Errorf("invalid oembed timeout: %d", cfg.OembedTimeoutMS)
	}

	return nil
}

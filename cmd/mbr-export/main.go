// Package main provides the static site export CLI for mbr repositories.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/marrow-wiki/mbr/internal/buildinfo"
	"github.com/marrow-wiki/mbr/internal/config"
	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/staticsite"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("mbr-export", pflag.ExitOnError)
	flags.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory containing markdown files to export")
	flags.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "output directory for generated static site")
	flags.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory containing prepared static assets to copy")

	title := flags.String("title", "mbr", "site title to use for exported pages")
	darkMode := flags.Bool("dark", cfg.DarkModeFirst, "enable dark mode by default in the exported site")
	clean := true
	flags.BoolVar(&clean, "clean", true, "wipe the output directory before exporting")
	assetPrefix := flags.String("asset-prefix", "assets", "relative directory name for copied assets within the export output")
	baseURL := flags.String("base-url", "", "optional absolute base URL for canonical link tags")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}

	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting mbr-export", slog.String("version", buildinfo.Summary()))

	assetsOverride := ""
	if flags.Changed("assets") {
		assetsOverride = cfg.AssetsDir
	}

	builder, err := staticsite.New(logger)
	if err != nil {
		logger.Error("init static site builder failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()
	stats, err := builder.Build(ctx, staticsite.Options{
		Root:          cfg.RootDir,
		OutputDir:     cfg.StaticOutput,
		AssetsDir:     assetsOverride,
		SiteTitle:     *title,
		DarkModeFirst: *darkMode,
		CleanOutput:   clean,
		AssetPrefix:     *assetPrefix,
		BaseURL:         *baseURL,
		SectionsEnabled: cfg.SectionsEnabled,
		IndexConfig: index.Config{
			StaticFolder:       cfg.StaticFolder,
			MarkdownExtensions: cfg.MarkdownExtensions,
			IgnoreDirs:         cfg.IgnoreDirs,
			IgnoreGlobs:        cfg.IgnoreGlobs,
			IndexFile:          cfg.IndexFile,
			TagSources:         cfg.TagSources,
		},
	})
	if err != nil {
		logger.Error("export failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("export succeeded",
		slog.String("output", cfg.StaticOutput),
		slog.Int("pages", stats.MarkdownPages),
		slog.Int("sections", stats.SectionPages),
		slog.Int("broken_links", stats.BrokenLinks))
}

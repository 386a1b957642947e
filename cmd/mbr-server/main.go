// Package main provides the mbr repository server entrypoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/marrow-wiki/mbr/internal/buildinfo"
	"github.com/marrow-wiki/mbr/internal/config"
	"github.com/marrow-wiki/mbr/internal/content"
	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/oembed"
	"github.com/marrow-wiki/mbr/internal/renderer"
	"github.com/marrow-wiki/mbr/internal/search"
	"github.com/marrow-wiki/mbr/internal/server"
	"github.com/marrow-wiki/mbr/internal/watch"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("mbr", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		println(buildinfo.Summary())
		os.Exit(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "mbr")
	slog.SetDefault(logger)
	logger.Log(context.Background(), slog.LevelInfo-1, "starting mbr", slog.String("version", buildinfo.Summary()))

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var oembedFetcher *oembed.Fetcher
	if cfg.OembedTimeoutMS > 0 {
		oembedFetcher = oembed.New(time.Duration(cfg.OembedTimeoutMS)*time.Millisecond, cfg.OembedCacheBytes)
	}
	rendererSvc := renderer.NewServiceWithOptions(logger, renderer.Options{
		TagSources:         cfg.TagSources,
		MarkdownExtensions: cfg.MarkdownExtensions,
		IndexFile:          cfg.IndexFile,
		OEmbed:             oembedFetcher,
		SectionsEnabled:    cfg.SectionsEnabled,
	})
	contentSvc, err := content.NewService(ctx, cfg.RootDir, rendererSvc, logger, content.Options{})
	if err != nil {
		cancel()
		logger.Error("content service init failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
	defer func() {
		if err := contentSvc.Close(); err != nil {
			logger.Error("close content service", slog.Any("err", err))
		}
	}()

	searchSvc, err := search.NewService(cfg.RootDir, logger)
	if err != nil {
		cancel()
		logger.Error("search service init failed", slog.Any("err", err))
		os.Exit(1)
	}

	repoIndex := index.New(index.Config{
		RootDir:            cfg.RootDir,
		StaticFolder:       cfg.StaticFolder,
		MarkdownExtensions: cfg.MarkdownExtensions,
		IgnoreDirs:         cfg.IgnoreDirs,
		IgnoreGlobs:        cfg.IgnoreGlobs,
		IndexFile:          cfg.IndexFile,
		TagSources:         cfg.TagSources,
	}, logger)
	if err := repoIndex.ScanAll(ctx); err != nil {
		logger.Warn("initial repository scan failed", slog.Any("err", err))
	}

	srv, err := server.New(cfg, logger, contentSvc, searchSvc, repoIndex, rendererSvc)
	if err != nil {
		cancel()
		logger.Error("server init failed", slog.Any("err", err))
		os.Exit(1)
	}

	watcher := watch.New(cfg.RootDir, cfg.MarkdownExtensions, repoIndex, srv.InvalidateInboundLinks, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("repository watcher failed to start", slog.Any("err", err))
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Error("close watcher", slog.Any("err", err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("server error", slog.Any("err", err))
		os.Exit(1)
	}
}

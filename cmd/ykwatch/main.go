// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wenhaoz/ykwatch/internal/api"
	"github.com/wenhaoz/ykwatch/internal/config"
	"github.com/wenhaoz/ykwatch/internal/engine"
	xklog "github.com/wenhaoz/ykwatch/internal/log"
	"github.com/wenhaoz/ykwatch/internal/telemetry"
	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User = nil
	return u.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the real config is loaded
	xklog.Configure(xklog.Config{
		Level:   "info",
		Service: "ykwatch",
	})
	logger := xklog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
	}

	xklog.SetLevel(cfg.LogLevel)
	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("base_url", maskURL(cfg.BaseURL)).
		Str(xklog.FieldClassroomID, cfg.ClassroomID).
		Msg("starting ykwatch")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.TraceEnabled,
		ServiceName:  "ykwatch",
		ExporterType: cfg.TraceExporter,
		Endpoint:     cfg.TraceEndpoint,
		SamplingRate: cfg.TraceSampling,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shCtx); err != nil {
			logger.Warn().Err(err).
				Str("event", "telemetry.shutdown_failed").
				Msg("tracer shutdown failed")
		}
	}()

	client := yuketang.New(cfg.BaseURL, yuketang.Options{
		Timeout:   cfg.Timeout,
		Cookie:    cfg.Cookie,
		UserAgent: cfg.UserAgent,
	})

	course, chapters, err := client.ResolveWatchables(ctx, cfg.ClassroomID, cfg.UniversityID)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "resolve.failed").
			Msg("could not resolve course content")
	}

	var items []yuketang.Item
	for _, ch := range chapters {
		items = append(items, ch.Videos...)
	}
	logger.Info().
		Str("event", "resolve.done").
		Int64(xklog.FieldCourseID, course.CourseID).
		Str("course", course.ShortName).
		Int("chapters", len(chapters)).
		Int("videos", len(items)).
		Msg("resolved watchable videos")

	driver := engine.NewDriver(client, engine.DriverConfig{
		Scheduler: engine.SchedulerConfig{
			MinSpacing:     cfg.MinSpacing,
			MaxSpacing:     cfg.MaxSpacing,
			SendAttempts:   cfg.SendAttempts,
			SendRetryPause: cfg.SendRetryPause,
		},
		Tunables: engine.Tunables{
			RestartRegressRatio: cfg.RestartRegressRatio,
			RestartExitRatio:    cfg.RestartExitRatio,
		},
		MaxTicksPerItem: cfg.MaxTicksPerItem,
	})
	// The listener lives only as long as the session: when the driver
	// finishes, runCtx is cancelled and the listener drains.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		report, err := driver.Run(gctx, items)
		if err != nil {
			return err
		}
		logger.Info().
			Str("event", "session.report").
			Int("completed", report.Completed).
			Int("skipped", report.Skipped).
			Int("unplayable", report.Unplayable).
			Int("abandoned", report.Abandoned).
			Msg("session report")
		return nil
	})
	if cfg.ListenAddr != "" {
		server := api.NewServer(cfg.ListenAddr, version, driver)
		g.Go(func() error {
			return server.Serve(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).
			Str("event", "run.failed").
			Msg("session aborted")
	}
	logger.Info().
		Str("event", "shutdown").
		Msg("ykwatch stopped")
}

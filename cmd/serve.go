package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatrelay/linedify/internal/config"
	"github.com/chatrelay/linedify/internal/diag"
	"github.com/chatrelay/linedify/internal/dify"
	"github.com/chatrelay/linedify/internal/line"
	"github.com/chatrelay/linedify/internal/monitor"
	"github.com/chatrelay/linedify/internal/relay"
	"github.com/chatrelay/linedify/internal/server"
	"github.com/chatrelay/linedify/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	rawRing := diag.NewRing[dify.RawBlock](cfg.Diag.RawCapacity)
	eventRing := diag.NewRing[dify.StreamEvent](cfg.Diag.EventCapacity)

	filterCfg := cfg.Filter
	if filterCfg.File != "" {
		merged, err := config.LoadFilterFile(filterCfg.File, cfg.Filter)
		if err != nil {
			slog.Warn("filter file load failed, using built-in vocabulary", "path", filterCfg.File, "error", err)
		} else {
			filterCfg = merged
		}
	}

	decoder := dify.NewDecoder(dify.NewClassifier(filterCfg), rawRing, eventRing)
	noiseFilter := relay.NewNoiseFilter(filterCfg)

	lineClient := line.NewClient(cfg.Line)
	difyClient := dify.NewClient(cfg.Dify)
	dispatcher := relay.NewDispatcher(cfg.Relay, lineClient, difyClient, decoder, noiseFilter)

	srv := server.New(cfg.Server, cfg.Line.ChannelSecret, dispatcher, rawRing, eventRing)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Monitor.Enabled {
		sidecar := monitor.NewSidecarServer(cfg.Monitor,
			monitor.NewService(cfg.Monitor, monitor.NewUpstreamClient(cfg.Monitor.UpstreamURL)))
		g.Go(func() error { return sidecar.Start(gctx) })
	}

	if cfg.Filter.File != "" {
		g.Go(func() error {
			return watchFilterFile(gctx, cfg.Filter, dispatcher, rawRing, eventRing)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("server exited", "error", err)
	}

	// Let in-flight aggregations finish their final sends before exiting.
	dispatcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	slog.Info("shutdown complete")
}

// watchFilterFile reloads the noise vocabulary when the filter file changes.
// The directory is watched rather than the file so editors that replace the
// file on save keep the watch alive.
func watchFilterFile(ctx context.Context, base config.FilterConfig, d *relay.Dispatcher, raw *diag.Ring[dify.RawBlock], events *diag.Ring[dify.StreamEvent]) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(base.File)); err != nil {
		return err
	}
	target := filepath.Clean(base.File)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			merged, err := config.LoadFilterFile(base.File, base)
			if err != nil {
				slog.Warn("filter reload failed, keeping previous vocabulary", "path", base.File, "error", err)
				continue
			}
			d.ReloadPipeline(
				dify.NewDecoder(dify.NewClassifier(merged), raw, events),
				relay.NewNoiseFilter(merged),
			)
			slog.Info("filter vocabulary reloaded", "path", base.File)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filter watcher error", "error", werr)
		}
	}
}

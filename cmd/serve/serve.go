// Package serve implements the engine's only long-running subcommand: it
// assembles the realtime core, plugin host, session orchestrator, and wire
// gateway, loads (or creates) the default project, and runs until
// interrupted.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thestuu/engine/internal/buildinfo"
	"github.com/thestuu/engine/internal/catalog"
	"github.com/thestuu/engine/internal/conf"
	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/health"
	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/metrics"
	"github.com/thestuu/engine/internal/notify"
	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/ph"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
	"github.com/thestuu/engine/internal/session"
	"github.com/thestuu/engine/internal/wire"
)

// Command creates the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var projectName string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio/session engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings, projectName)
		},
	}
	cmd.Flags().StringVar(&projectName, "project", "",
		"Project name to open (defaults to the configured default)")
	return cmd
}

func run(settings *conf.Settings, projectName string) error {
	level := slog.LevelInfo
	if settings.Debug || strings.EqualFold(settings.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	logDir := ""
	if settings.Log.Enabled {
		logDir = settings.LogsDir()
	}
	if err := logging.Init(logging.Options{Dir: logDir, Level: level}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := logging.ForService("serve")
	logger.Info("starting engine", "version", buildinfo.Version, "data_root", settings.Paths.DataRoot)

	if settings.Sentry.DSN != "" {
		if err := errors.EnableTelemetry(settings.Sentry.DSN, buildinfo.Version); err != nil {
			logger.Warn("telemetry init failed", "error", err)
		}
	}
	notifier := notify.New(settings.Notify.URLs)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewEngine(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if projectName == "" {
		projectName = settings.Project.DefaultName
	}
	projectPath := filepath.Join(settings.ProjectsDir(), projectName+".stu")
	proj := loadOrDefault(projectPath, projectName, settings.Project.DefaultBPM, logger, notifier)

	engine := rac.NewEngine(rac.Config{
		SampleRate:   settings.Audio.SampleRate,
		BlockFrames:  settings.Audio.BlockSize,
		MaxChannels:  settings.Audio.MaxChannels,
		InputDevice:  settings.Audio.InputDevice,
		OutputDevice: settings.Audio.OutputDevice,
	}, m.RAC, proj.BPM, proj.TimeSignature)
	defer engine.Close()

	host := ph.NewHost(settings.Audio.SampleRate)
	defer host.Close()

	hm := rac.NewHealthMonitor(engine, m.RAC, 0)
	diskMon := health.NewMonitor(settings.Paths.DataRoot, 0)

	var cat *catalog.Store
	if settings.Catalog.Enabled {
		cat, err = catalog.Open(settings.CatalogPath())
		if err != nil {
			logger.Warn("catalog disabled", "error", err)
		} else {
			defer cat.Close()
			if err := cat.Rescan(settings.ProjectsDir()); err != nil {
				logger.Warn("catalog rescan failed", "error", err)
			}
			cat.MarkOpened(projectPath)
		}
	}

	sessCfg := session.Config{
		Engine:      engine,
		Host:        host,
		Health:      hm,
		Metrics:     m.Session,
		Notifier:    notifier,
		Disk:        diskMon,
		ProjectPath: projectPath,
		MediaDir:    settings.MediaDir(),
	}
	if cat != nil {
		sessCfg.Catalog = cat
	}
	sess := session.New(sessCfg, proj)

	gateway := wire.New(wire.Config{
		Session:      sess,
		Metrics:      m.Wire,
		Listen:       settings.Wire.ControlListen,
		MaxUploadMB:  settings.Wire.MaxUploadMB,
		PromRegistry: registry,
	})

	if err := engine.StartDevice(); err != nil {
		// Headless environments (CI, containers) have no audio backend;
		// the engine still serves state and mutations, and transport
		// operations surface backend_unavailable through the monitor.
		logger.Warn("audio device unavailable, running headless", "error", err)
		notifier.Alertf("TheStuu engine", "audio device unavailable: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error { return gateway.Start(ctx) })
	g.Go(func() error { hm.Run(ctx); return nil })
	g.Go(func() error { diskMon.Run(ctx); return nil })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("engine stopped")
	return nil
}

// loadOrDefault: parser errors collapse to a default project with a
// warning; validation failures load anyway and are reported so clients
// can render the offending ids.
func loadOrDefault(path, name string, bpm int, logger *slog.Logger, notifier *notify.Notifier) *project.Project {
	result, err := persistence.Load(path)
	switch {
	case err == nil:
		logger.Info("project loaded", "path", path, "title", result.Project.Title)
		return result.Project
	case result != nil && result.Project != nil:
		// Parsed but failed validation: keep the document, surface the
		// errors.
		logger.Warn("project loaded with validation errors",
			"path", path, "warnings", len(result.Warnings))
		notifier.Alertf("TheStuu engine",
			"project %s loaded with validation errors: %v", path, err)
		return result.Project
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no existing project, creating default", "path", path)
		return project.Default(name, bpm)
	default:
		logger.Warn("project unreadable, creating default", "path", path, "error", err)
		notifier.Alertf("TheStuu engine", "project %s unreadable, created default: %v", path, err)
		return project.Default(name, bpm)
	}
}

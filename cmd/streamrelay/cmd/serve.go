package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/streamrelay/internal/config"
	"github.com/jmylchreest/streamrelay/internal/database"
	"github.com/jmylchreest/streamrelay/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/streamrelay/internal/http"
	"github.com/jmylchreest/streamrelay/internal/http/handlers"
	"github.com/jmylchreest/streamrelay/internal/observability"
	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/repository"
	"github.com/jmylchreest/streamrelay/internal/scheduler"
	"github.com/jmylchreest/streamrelay/internal/service"
	"github.com/jmylchreest/streamrelay/internal/storage"
	"github.com/jmylchreest/streamrelay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamrelay server",
	Long: `Start the streamrelay HTTP server and session manager.

The server provides:
- RTSP relay and HLS transcode start/stop endpoints
- HLS playlist and segment delivery
- Live session and session history endpoints
- Health and system stats endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("hls-dir", "/tmp/hls", "Base directory for HLS output")
	serveCmd.Flags().String("media-host", "localhost", "Host relay outputs are published to")
	serveCmd.Flags().String("database-dsn", "streamrelay.db", "Session history database DSN")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.hls.base_dir", serveCmd.Flags().Lookup("hls-dir"))
	mustBindPFlag("relay.media_host", serveCmd.Flags().Lookup("media-host"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("starting streamrelay server",
		slog.String("address", cfg.Server.Address()),
		slog.String("hls_dir", app.hls.BaseDir()),
		slog.String("version", version.Version),
	)

	// Directories left by a previous run are removed before serving.
	if err := app.sweep.Run(ctx); err != nil {
		logger.Warn("startup orphan sweep failed", slog.String("error", err.Error()))
	}

	if err := app.scheduler.Start(ctx); err != nil {
		_ = app.close(context.Background())
		return fmt.Errorf("starting scheduler: %w", err)
	}

	serveErr := app.server.ListenAndServe(ctx)
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, app.close(shutdownCtx))
}

// application holds the wired components of a running server.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *database.DB
	hls       *storage.HLSStore
	manager   *relay.Manager
	scheduler *scheduler.Scheduler
	sweep     scheduler.Job
	server    *internalhttp.Server
}

// newApplication builds every component from cfg without starting any of
// them. A missing ffmpeg installation is logged; sessions then fail to open.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	detector := ffmpeg.NewBinaryDetector().WithPaths(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	ffmpegPath, ffprobePath := cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath
	if info, err := detector.Detect(ctx); err != nil {
		logger.Warn("ffmpeg not available, sessions will fail to open",
			slog.String("error", err.Error()),
		)
		if ffmpegPath == "" {
			ffmpegPath = "ffmpeg"
		}
		if ffprobePath == "" {
			ffprobePath = "ffprobe"
		}
	} else {
		ffmpegPath, ffprobePath = info.FFmpegPath, info.FFprobePath
		logger.Info("detected ffmpeg",
			slog.String("version", info.Version),
			slog.String("ffmpeg", ffmpegPath),
			slog.String("ffprobe", ffprobePath),
		)
	}

	engine := ffmpeg.NewEngine(ffmpeg.EngineConfig{
		FFmpegPath:   ffmpegPath,
		FFprobePath:  ffprobePath,
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
		CloseGrace:   cfg.FFmpeg.CloseGrace,
	}).WithLogger(observability.WithComponent(logger, "ffmpeg"))

	hls, err := storage.NewHLSStore(cfg.Storage.HLS.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("initializing hls storage: %w", err)
	}
	app.hls = hls.
		WithLogger(observability.WithComponent(logger, "hls_store")).
		WithOrphanGrace(cfg.Storage.HLS.OrphanGrace)

	var history *service.HistoryService
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"), nil)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		app.db = db
		history = service.NewHistoryService(repository.NewSessionRecordRepository(db.DB), cfg.Database.HistoryRetention).
			WithLogger(observability.WithComponent(logger, "history"))
	}

	app.manager = relay.NewManager(managerConfig(cfg), engine, app.hls, relay.NewRegistry()).
		WithLogger(observability.WithComponent(logger, "relay"))
	if history != nil {
		app.manager.WithHistory(history)
	}

	app.scheduler = scheduler.NewScheduler().WithLogger(observability.WithComponent(logger, "scheduler"))
	app.sweep = scheduler.NewOrphanSweepJob(app.hls, app.manager)
	if err := app.scheduler.Add(cfg.Storage.HLS.SweepSchedule, app.sweep); err != nil {
		_ = app.close(ctx)
		return nil, fmt.Errorf("scheduling orphan sweep: %w", err)
	}
	if history != nil {
		if err := app.scheduler.Add(cfg.Database.PruneSchedule, scheduler.NewHistoryPruneJob(history)); err != nil {
			_ = app.close(ctx)
			return nil, fmt.Errorf("scheduling history prune: %w", err)
		}
	}

	app.server = internalhttp.NewServer(cfg.Server, observability.WithComponent(logger, "http"), version.Version)
	registerHandlers(app, detector, history)

	return app, nil
}

func registerHandlers(app *application, detector *ffmpeg.BinaryDetector, history *service.HistoryService) {
	api := app.server.API()

	handlers.NewStreamHandler(app.manager, app.hls).
		WithDefaultInput(app.cfg.Relay.DefaultInput).
		WithLogger(app.logger).
		Register(api)

	sessions := handlers.NewSessionHandler(app.manager)
	if history != nil {
		sessions.WithHistory(history)
	}
	sessions.Register(api)

	health := handlers.NewHealthHandler(version.Version).WithSessions(app.manager)
	if app.db != nil {
		health.WithDB(app.db.DB)
	}
	health.Register(api)

	handlers.NewSystemHandler(app.hls).WithFFmpegProvider(detector).Register(api)

	handlers.NewHLSHandler(app.hls).WithLogger(app.logger).RegisterChiRoutes(app.server.Router())
}

func managerConfig(cfg *config.Config) relay.ManagerConfig {
	mc := relay.DefaultManagerConfig()
	mc.MediaHost = cfg.Relay.MediaHost
	mc.DefaultPort = cfg.Relay.DefaultPort
	mc.PublicBaseURL = cfg.Server.PublicBaseURL
	mc.ConnectTimeout = cfg.Relay.ConnectTimeout
	mc.SegmentDuration = cfg.Storage.HLS.SegmentDuration
	mc.WindowSize = cfg.Storage.HLS.WindowSize
	mc.CircuitBreaker = relay.CircuitBreakerConfig{
		FailureThreshold: cfg.Relay.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.Relay.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.Relay.CircuitBreaker.Timeout,
	}
	return mc
}

// close stops sessions, then the scheduler, then the database. The HTTP
// server is stopped by ListenAndServe before close is called.
func (a *application) close(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping sessions: %w", err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}

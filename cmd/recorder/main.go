package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zanzhit/live_recorder/internal/config"
	autorecordhandler "github.com/zanzhit/live_recorder/internal/http-server/handlers/autorecord"
	camerashandler "github.com/zanzhit/live_recorder/internal/http-server/handlers/cameras"
	mediahandler "github.com/zanzhit/live_recorder/internal/http-server/handlers/media"
	recordinghandler "github.com/zanzhit/live_recorder/internal/http-server/handlers/recordings"
	authmiddleware "github.com/zanzhit/live_recorder/internal/http-server/middleware/auth"
	"github.com/zanzhit/live_recorder/internal/http-server/middleware/logger"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
	autorecordservice "github.com/zanzhit/live_recorder/internal/services/autorecord"
	cameraservice "github.com/zanzhit/live_recorder/internal/services/cameras"
	proberservice "github.com/zanzhit/live_recorder/internal/services/prober"
	recordingservice "github.com/zanzhit/live_recorder/internal/services/recordings"
	"github.com/zanzhit/live_recorder/internal/storage/fs"
	"github.com/zanzhit/live_recorder/internal/storage/memory"
	"github.com/zanzhit/live_recorder/internal/storage/postgres"
	camerastorage "github.com/zanzhit/live_recorder/internal/storage/postgres/cameras"
	mediastorage "github.com/zanzhit/live_recorder/internal/storage/postgres/media"
	"github.com/zanzhit/live_recorder/internal/transport/ws"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type mediaStore interface {
	recordingservice.MediaStore
	mediahandler.MediaProvider
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting application", slog.String("env", cfg.Env), slog.String("media_store", cfg.MediaStore))

	cameraStorage, media := setupStorage(cfg)

	collector := metrics.NewPrometheusCollector()

	client := ws.New(log, cfg.Transport, collector)

	registry := recordingservice.New(
		log,
		cfg.Recording,
		cfg.StoragePath,
		cfg.Transport.VideoQuality,
		recordingservice.WSOpener(client),
		fs.New(),
		media,
		fs.NewWritableDir(cfg.StoragePath),
		collector,
	)

	prober := proberservice.New(log, cfg.Prober, collector, proberservice.WebSocket(client), proberservice.RTSP())

	policies := autorecordservice.New(log, cfg.PolicyPath, registry, prober)
	if err := policies.Load(); err != nil {
		panic(err)
	}

	cameras := cameraservice.New(log, cfg.StoragePath, cameraStorage, prober, cfg.Prober, policies)
	cameras.AddSource(policies)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cams, err := cameras.Refresh(ctx)
	if err != nil {
		log.Error("initial camera refresh failed", sl.Err(err))
	}
	policies.Reconcile(ctx, cams)

	go cameras.Run(ctx)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(logger.New(log))
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", collector.Handler())

	recordingHandler := recordinghandler.New(log, registry, cameras)
	cameraHandler := camerashandler.New(log, cameras, client, collector, cfg.Transport.VideoQuality)
	autoRecordHandler := autorecordhandler.New(log, policies, cameras)
	mediaHandler := mediahandler.New(log, media, cameras)

	router.Group(func(r chi.Router) {
		r.Use(authmiddleware.JWTAuth(cfg.Auth.Secret))

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", recordingHandler.Recordings)
			r.Post("/start", recordingHandler.Start)
			r.Post("/stop", recordingHandler.Stop)
			r.Get("/{camera}", recordingHandler.Recording)
		})

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", cameraHandler.Cameras)
			r.Post("/", cameraHandler.SaveCamera)
			r.Post("/refresh", cameraHandler.Refresh)
			r.Get("/{camera}/live", cameraHandler.Live)
		})

		r.Route("/autorecord", func(r chi.Router) {
			r.Get("/", autoRecordHandler.List)
			r.Post("/", autoRecordHandler.Enable)
			r.Delete("/{camera}", autoRecordHandler.Disable)
		})

		r.Get("/media/{camera}", mediaHandler.Assets)
		r.Delete("/media", mediaHandler.Delete)
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", sl.Err(err))
	}

	registry.StopAll(shutdownCtx)

	log.Info("server stopped")
}

func setupStorage(cfg *config.Config) (cameraservice.CameraStorage, mediaStore) {
	switch cfg.MediaStore {
	case config.MediaStorePostgres:
		if cfg.DB.Password == "" {
			panic("POSTGRES_PASSWORD is required")
		}

		db, err := postgres.New(cfg.DB)
		if err != nil {
			panic(err)
		}

		return camerastorage.New(db), mediastorage.New(db)
	case config.MediaStoreMemory:
		return memory.NewCameraStorage(), memory.NewMediaStore()
	default:
		panic("unknown media store: " + cfg.MediaStore)
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

package cameraservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
)

type CameraService struct {
	log            *slog.Logger
	videosPath     string
	cameraSaver    CameraSaver
	cameraProvider CameraProvider
	prober         Prober
	statuses       *cache.Cache
	interval       time.Duration
	listeners      []StatusListener
	sources        []CameraSource

	refreshMu sync.Mutex
}

type CameraSaver interface {
	SaveCamera(ctx context.Context, cam models.Camera) (models.Camera, error)
}

type CameraProvider interface {
	Camera(ctx context.Context, id models.CameraID) (models.Camera, error)
	Cameras(ctx context.Context) ([]models.Camera, error)
}

type CameraStorage interface {
	CameraSaver
	CameraProvider
}

type Prober interface {
	ProbeAll(ctx context.Context, cams []models.Camera) map[models.CameraID]models.Status
}

// StatusListener is told about every camera status transition seen by a
// refresh.
type StatusListener interface {
	StatusChanged(ctx context.Context, cam models.Camera, old, current models.Status)
}

// CameraSource names cameras that must be probed even when the directory
// does not hold them, such as auto-record policy cameras.
type CameraSource interface {
	List() []models.Camera
}

func New(
	log *slog.Logger,
	videosPath string,
	storage CameraStorage,
	prober Prober,
	cfg config.Prober,
	listeners ...StatusListener,
) *CameraService {
	return &CameraService{
		log:            log,
		videosPath:     videosPath,
		cameraSaver:    storage,
		cameraProvider: storage,
		prober:         prober,
		statuses:       cache.New(cfg.StatusTTL, 2*cfg.StatusTTL),
		interval:       cfg.RefreshInterval,
		listeners:      listeners,
	}
}

// AddListener registers l for status transitions. It must be called before Run.
func (s *CameraService) AddListener(l StatusListener) {
	s.listeners = append(s.listeners, l)
}

// AddSource makes every refresh probe the cameras src lists. It must be
// called before Run.
func (s *CameraService) AddSource(src CameraSource) {
	s.sources = append(s.sources, src)
}

func (s *CameraService) SaveCamera(ctx context.Context, rawID, name, location, rtspURL string) (models.Camera, error) {
	const op = "service.cameras.SaveCamera"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera", rawID),
	)

	id, err := models.NewCameraID(rawID)
	if err != nil {
		log.Warn("invalid camera id", sl.Err(err))

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("save camera", slog.String("camera_id", id.String()))

	cam := models.Camera{
		ID:       id,
		Name:     name,
		Location: location,
		RTSPURL:  rtspURL,
	}

	cam, err = s.cameraSaver.SaveCamera(ctx, cam)
	if err != nil {
		log.Error("failed to save camera", sl.Err(err))

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	dirPath := filepath.Join(s.videosPath, cam.ID.Dir())
	err = os.MkdirAll(dirPath, os.ModePerm)
	if err != nil {
		log.Error("failed to create directory", sl.Err(err))

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	cam.Status = s.status(cam.ID)

	return cam, nil
}

func (s *CameraService) Camera(ctx context.Context, id models.CameraID) (models.Camera, error) {
	const op = "service.cameras.Camera"

	cam, err := s.cameraProvider.Camera(ctx, id)
	if err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	cam.Status = s.status(cam.ID)

	return cam, nil
}

// Cameras lists known cameras with their last probed status. Cameras not
// probed within the status TTL are Unknown.
func (s *CameraService) Cameras(ctx context.Context) ([]models.Camera, error) {
	const op = "service.cameras.Cameras"

	cams, err := s.cameraProvider.Cameras(ctx)
	if err != nil {
		s.log.Error("failed to list cameras", slog.String("op", op), sl.Err(err))

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for i := range cams {
		cams[i].Status = s.status(cams[i].ID)
	}

	return cams, nil
}

// Refresh probes every directory camera plus the cameras named by the
// sources, and notifies listeners of status transitions. Directory records
// win over source records for the same camera.
func (s *CameraService) Refresh(ctx context.Context) ([]models.Camera, error) {
	const op = "service.cameras.Refresh"

	log := s.log.With(slog.String("op", op))

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	cams, err := s.cameraProvider.Cameras(ctx)
	if err != nil {
		log.Error("failed to list cameras", sl.Err(err))

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cams = s.withSources(cams)

	statuses := s.prober.ProbeAll(ctx, cams)

	online := 0
	for i, cam := range cams {
		old := s.status(cam.ID)

		current, ok := statuses[cam.ID]
		if !ok || current == models.StatusUnknown {
			cams[i].Status = old

			continue
		}

		s.statuses.Set(cam.ID.String(), current, cache.DefaultExpiration)
		cams[i].Status = current

		if current == models.StatusOnline {
			online++
		}

		if old != current {
			log.Info("camera status changed",
				slog.String("camera_id", cam.ID.String()),
				slog.String("from", string(old)),
				slog.String("to", string(current)),
			)

			for _, l := range s.listeners {
				l.StatusChanged(ctx, cams[i], old, current)
			}
		}
	}

	log.Debug("cameras refreshed", slog.Int("total", len(cams)), slog.Int("online", online))

	return cams, nil
}

// Run refreshes camera statuses every refresh interval until ctx is done.
func (s *CameraService) Run(ctx context.Context) {
	const op = "service.cameras.Run"

	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.log.Warn("periodic refresh failed", slog.String("op", op), sl.Err(err))
			}
		}
	}
}

func (s *CameraService) withSources(cams []models.Camera) []models.Camera {
	seen := make(map[models.CameraID]struct{}, len(cams))
	for _, cam := range cams {
		seen[cam.ID] = struct{}{}
	}

	for _, src := range s.sources {
		for _, cam := range src.List() {
			if _, ok := seen[cam.ID]; ok {
				continue
			}

			seen[cam.ID] = struct{}{}
			cams = append(cams, cam)
		}
	}

	return cams
}

func (s *CameraService) status(id models.CameraID) models.Status {
	if v, ok := s.statuses.Get(id.String()); ok {
		return v.(models.Status)
	}

	return models.StatusUnknown
}

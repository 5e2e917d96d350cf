package recordingservice

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/keylock"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
	"github.com/zanzhit/live_recorder/internal/transport/ws"
)

const (
	finalizeTimeout         = 30 * time.Second
	defaultRotationInterval = time.Hour
	defaultErrorThreshold   = 5
)

type FileSystem interface {
	Append(path string, data []byte) error
	MkdirAll(path string) error
	Stat(path string) (bool, int64, error)
	Remove(path string) error
}

type MediaStore interface {
	CreateAsset(ctx context.Context, filePath string) (models.Asset, error)
	GetOrCreateAlbum(ctx context.Context, name string) (models.Album, error)
	AddAssetsToAlbum(ctx context.Context, assets []models.Asset, album models.Album) error
}

type PermissionChecker interface {
	CheckStorage() error
}

type Stream interface {
	Send(cmd ws.Command)
	Close()
	Done() <-chan struct{}
}

type Opener interface {
	Open(id models.CameraID, handler ws.Handler) Stream
}

type wsOpener struct {
	client *ws.Client
}

// WSOpener opens recording streams through the WebSocket transport.
func WSOpener(client *ws.Client) Opener {
	return wsOpener{client: client}
}

func (o wsOpener) Open(id models.CameraID, handler ws.Handler) Stream {
	return o.client.Open(id, handler)
}

// Registry owns the recording sessions, at most one per camera.
type Registry struct {
	log         *slog.Logger
	cfg         config.Recording
	quality     string
	storagePath string
	opener      Opener
	fs          FileSystem
	media       MediaStore
	permissions PermissionChecker
	metrics     metrics.Collector
	now         func() time.Time

	mu       sync.Mutex
	sessions map[models.CameraID]*Session
	locks    *keylock.Locker
}

func New(
	log *slog.Logger,
	cfg config.Recording,
	storagePath string,
	quality string,
	opener Opener,
	fs FileSystem,
	media MediaStore,
	permissions PermissionChecker,
	collector metrics.Collector,
) *Registry {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	if cfg.FallbackEvery <= 0 {
		cfg.FallbackEvery = 1
	}

	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 5
	}

	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = defaultRotationInterval
	}

	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = defaultErrorThreshold
	}

	return &Registry{
		log:         log,
		cfg:         cfg,
		quality:     quality,
		storagePath: storagePath,
		opener:      opener,
		fs:          fs,
		media:       media,
		permissions: permissions,
		metrics:     collector,
		now:         time.Now,
		sessions:    make(map[models.CameraID]*Session),
		locks:       keylock.New(),
	}
}

func (r *Registry) session(id models.CameraID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]

	return s, ok
}

// Start begins recording cam. It reports false without error when the
// camera is already being recorded.
func (r *Registry) Start(ctx context.Context, cam models.Camera) (bool, error) {
	const op = "service.recordings.Start"

	log := r.log.With(
		slog.String("op", op),
		slog.String("camera_id", cam.ID.String()),
	)

	if err := r.permissions.CheckStorage(); err != nil {
		log.Error("storage is not writable", sl.Err(err))

		return false, fmt.Errorf("%s: %w: %w", op, errs.ErrPermissionDenied, err)
	}

	unlock := r.locks.Lock(cam.ID.String())
	defer unlock()

	if _, ok := r.session(cam.ID); ok {
		log.Info("camera is already recording")

		return false, nil
	}

	s := newSession(r.log, cam, r.cfg, r.quality, r.storagePath, r.fs, r.media, r.metrics, r.now)
	if err := s.start(r.opener); err != nil {
		log.Error("failed to start session", sl.Err(err))

		return false, fmt.Errorf("%s: %w", op, err)
	}

	r.mu.Lock()
	r.sessions[cam.ID] = s
	r.mu.Unlock()

	r.metrics.SessionStarted(cam.ID.String())
	log.Info("recording started", slog.String("session_id", s.id))

	return true, nil
}

// Stop ends the camera's session. It reports false without error when no
// session exists. Finalize failures are logged and the session is still
// unregistered.
func (r *Registry) Stop(ctx context.Context, id models.CameraID) (bool, error) {
	const op = "service.recordings.Stop"

	log := r.log.With(
		slog.String("op", op),
		slog.String("camera_id", id.String()),
	)

	unlock := r.locks.Lock(id.String())
	defer unlock()

	s, ok := r.session(id)
	if !ok {
		log.Debug("no active session")

		return false, nil
	}

	if err := s.Stop(ctx); err != nil {
		log.Error("failed to finalize recording", sl.Err(err))
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.metrics.SessionStopped(id.String())
	log.Info("recording stopped", slog.String("session_id", s.id))

	return true, nil
}

func (r *Registry) IsRecording(id models.CameraID) bool {
	_, ok := r.session(id)

	return ok
}

// Stats returns a snapshot of the camera's session without mutating it.
func (r *Registry) Stats(id models.CameraID) (models.SessionStats, bool) {
	s, ok := r.session(id)
	if !ok {
		return models.SessionStats{}, false
	}

	return s.Stats(), true
}

func (r *Registry) Active() []models.CameraID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]models.CameraID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// StopAll stops every active session, used on shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, id := range r.Active() {
		wg.Add(1)
		go func(id models.CameraID) {
			defer wg.Done()
			r.Stop(ctx, id)
		}(id)
	}

	wg.Wait()
}

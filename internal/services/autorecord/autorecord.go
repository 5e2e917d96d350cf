package autorecordservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/keylock"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
)

type Recorder interface {
	Start(ctx context.Context, cam models.Camera) (bool, error)
	Stop(ctx context.Context, id models.CameraID) (bool, error)
}

type Prober interface {
	Probe(ctx context.Context, cam models.Camera) models.Status
}

// Service keeps the set of cameras that are recorded whenever they are
// online. The set is persisted as a JSON array and rewritten on every change.
// Work on one camera, from the set change to the recorder call, holds that
// camera's lock.
type Service struct {
	log      *slog.Logger
	path     string
	recorder Recorder
	prober   Prober
	cameras  *keylock.Locker

	mu       sync.Mutex
	policies map[models.CameraID]models.Camera
}

func New(log *slog.Logger, path string, recorder Recorder, prober Prober) *Service {
	return &Service{
		log:      log,
		path:     path,
		recorder: recorder,
		prober:   prober,
		cameras:  keylock.New(),
		policies: make(map[models.CameraID]models.Camera),
	}
}

// Load reads the policy file. A missing file is an empty policy set.
func (s *Service) Load() error {
	const op = "service.autorecord.Load"

	log := s.log.With(slog.String("op", op), slog.String("path", s.path))

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no policy file, starting empty")

		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var cams []models.Camera
	if err := json.Unmarshal(data, &cams); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies = make(map[models.CameraID]models.Camera, len(cams))
	for _, cam := range cams {
		id, err := models.NewCameraID(cam.ID.String())
		if err != nil {
			log.Warn("skipping invalid policy entry", sl.Err(err))

			continue
		}

		cam.ID = id
		cam.Status = ""
		s.policies[id] = cam
	}

	log.Info("policies loaded", slog.Int("count", len(s.policies)))

	return nil
}

func (s *Service) List() []models.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked()
}

func (s *Service) listLocked() []models.Camera {
	cams := make([]models.Camera, 0, len(s.policies))
	for _, cam := range s.policies {
		cams = append(cams, cam)
	}

	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })

	return cams
}

func (s *Service) IsEnabled(id models.CameraID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.policies[id]

	return ok
}

// Enable adds cam to the policy set and starts recording right away when the
// camera is reachable. It reports whether a recording is running afterwards.
func (s *Service) Enable(ctx context.Context, cam models.Camera) (bool, error) {
	const op = "service.autorecord.Enable"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", cam.ID.String()),
	)

	cam.Status = ""

	unlock := s.cameras.Lock(cam.ID.String())
	defer unlock()

	s.mu.Lock()
	prev, existed := s.policies[cam.ID]
	s.policies[cam.ID] = cam
	if err := s.persistLocked(); err != nil {
		if existed {
			s.policies[cam.ID] = prev
		} else {
			delete(s.policies, cam.ID)
		}
		s.mu.Unlock()

		log.Error("failed to persist policy", sl.Err(err))

		return false, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Unlock()

	log.Info("auto-record enabled")

	if s.prober.Probe(ctx, cam) != models.StatusOnline {
		log.Info("camera offline, recording deferred")

		return false, nil
	}

	if _, err := s.recorder.Start(ctx, cam); err != nil {
		log.Error("failed to start recording", sl.Err(err))

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// Disable removes the camera from the policy set and stops its recording.
func (s *Service) Disable(ctx context.Context, id models.CameraID) error {
	const op = "service.autorecord.Disable"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", id.String()),
	)

	unlock := s.cameras.Lock(id.String())
	defer unlock()

	s.mu.Lock()
	if prev, ok := s.policies[id]; ok {
		delete(s.policies, id)
		if err := s.persistLocked(); err != nil {
			s.policies[id] = prev
			s.mu.Unlock()

			log.Error("failed to persist policy", sl.Err(err))

			return fmt.Errorf("%s: %w", op, err)
		}
	}
	s.mu.Unlock()

	if _, err := s.recorder.Stop(ctx, id); err != nil {
		log.Error("failed to stop recording", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("auto-record disabled")

	return nil
}

// StatusChanged starts or stops recording of a policy camera on a status
// transition. Cameras outside the policy set are ignored.
func (s *Service) StatusChanged(ctx context.Context, cam models.Camera, old, current models.Status) {
	const op = "service.autorecord.StatusChanged"

	if old == current {
		return
	}

	unlock := s.cameras.Lock(cam.ID.String())
	defer unlock()

	if !s.IsEnabled(cam.ID) {
		return
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", cam.ID.String()),
		slog.String("status", string(current)),
	)

	switch current {
	case models.StatusOnline:
		if _, err := s.recorder.Start(ctx, s.policyCamera(cam)); err != nil {
			log.Error("failed to start recording", sl.Err(err))
		}
	case models.StatusOffline:
		if _, err := s.recorder.Stop(ctx, cam.ID); err != nil {
			log.Error("failed to stop recording", sl.Err(err))
		}
	}
}

// Reconcile starts recording for every policy camera currently online. Used
// once at startup with the result of a refresh that covered the policy set.
func (s *Service) Reconcile(ctx context.Context, cams []models.Camera) {
	for _, cam := range cams {
		if cam.Status == models.StatusOnline {
			s.StatusChanged(ctx, cam, models.StatusUnknown, models.StatusOnline)
		}
	}
}

// policyCamera prefers the directory record's details over the stored ones.
func (s *Service) policyCamera(cam models.Camera) models.Camera {
	if cam.Name != "" {
		return cam
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.policies[cam.ID]; ok {
		return stored
	}

	return cam
}

func (s *Service) persistLocked() error {
	data, err := json.MarshalIndent(s.listLocked(), "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return nil
}

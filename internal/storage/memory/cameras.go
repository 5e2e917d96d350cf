package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
)

type CameraStorage struct {
	mu      sync.RWMutex
	cameras map[models.CameraID]models.Camera
}

func NewCameraStorage() *CameraStorage {
	return &CameraStorage{
		cameras: make(map[models.CameraID]models.Camera),
	}
}

func (s *CameraStorage) SaveCamera(ctx context.Context, cam models.Camera) (models.Camera, error) {
	const op = "storage.memory.SaveCamera"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cameras[cam.ID]; ok {
		return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrCameraAlreadyExists)
	}

	cam.Status = ""
	s.cameras[cam.ID] = cam

	return cam, nil
}

func (s *CameraStorage) Camera(ctx context.Context, id models.CameraID) (models.Camera, error) {
	const op = "storage.memory.Camera"

	s.mu.RLock()
	defer s.mu.RUnlock()

	cam, ok := s.cameras[id]
	if !ok {
		return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrCameraNotFound)
	}

	return cam, nil
}

func (s *CameraStorage) Cameras(ctx context.Context) ([]models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cams := make([]models.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		cams = append(cams, cam)
	}

	sort.Slice(cams, func(i, j int) bool {
		return cams[i].ID < cams[j].ID
	})

	return cams, nil
}

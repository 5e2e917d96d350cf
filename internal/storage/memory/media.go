package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
)

// MediaStore keeps the media catalog in process memory. Asset files stay on
// disk; only catalog entries live here.
type MediaStore struct {
	mu      sync.RWMutex
	assets  map[string]models.Asset
	albums  map[string]models.Album
	byName  map[string]string
	members map[string]map[string]struct{}
}

func NewMediaStore() *MediaStore {
	return &MediaStore{
		assets:  make(map[string]models.Asset),
		albums:  make(map[string]models.Album),
		byName:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
	}
}

func (s *MediaStore) CreateAsset(ctx context.Context, filePath string) (models.Asset, error) {
	const op = "storage.memory.CreateAsset"

	info, err := os.Stat(filePath)
	if err != nil {
		return models.Asset{}, fmt.Errorf("%s: %w", op, err)
	}

	asset := models.Asset{
		ID:        uuid.NewString(),
		Path:      filePath,
		MediaType: models.MediaTypeOf(filePath),
		Size:      info.Size(),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.assets[asset.ID] = asset
	s.mu.Unlock()

	return asset, nil
}

func (s *MediaStore) GetOrCreateAlbum(ctx context.Context, name string) (models.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		return s.albums[id], nil
	}

	album := models.Album{ID: uuid.NewString(), Name: name}
	s.albums[album.ID] = album
	s.byName[name] = album.ID
	s.members[album.ID] = make(map[string]struct{})

	return album, nil
}

func (s *MediaStore) AddAssetsToAlbum(ctx context.Context, assets []models.Asset, album models.Album) error {
	const op = "storage.memory.AddAssetsToAlbum"

	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.members[album.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, errs.ErrAlbumNotFound)
	}

	for _, a := range assets {
		stored, ok := s.assets[a.ID]
		if !ok {
			return fmt.Errorf("%s: %s: %w", op, a.ID, errs.ErrAssetNotFound)
		}

		stored.AlbumID = album.ID
		s.assets[a.ID] = stored
		members[a.ID] = struct{}{}
	}

	return nil
}

func (s *MediaStore) ListAssets(ctx context.Context, album models.Album, mediaType models.MediaType) ([]models.Asset, error) {
	const op = "storage.memory.ListAssets"

	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.members[album.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrAlbumNotFound)
	}

	assets := make([]models.Asset, 0, len(members))
	for id := range members {
		a := s.assets[id]
		if mediaType != models.MediaAll && a.MediaType != mediaType {
			continue
		}

		assets = append(assets, a)
	}

	sort.Slice(assets, func(i, j int) bool {
		return assets[i].CreatedAt.Before(assets[j].CreatedAt)
	})

	return assets, nil
}

func (s *MediaStore) DeleteAssets(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		a, ok := s.assets[id]
		if !ok {
			continue
		}

		if members, ok := s.members[a.AlbumID]; ok {
			delete(members, id)
		}

		delete(s.assets, id)
	}

	return nil
}

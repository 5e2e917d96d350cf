package mediastorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/storage/postgres"
)

// MediaStorage is the postgres-backed media catalog.
type MediaStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *MediaStorage {
	return &MediaStorage{
		db: db,
	}
}

func (s *MediaStorage) CreateAsset(ctx context.Context, filePath string) (models.Asset, error) {
	const op = "storage.postgres.media.CreateAsset"

	info, err := os.Stat(filePath)
	if err != nil {
		return models.Asset{}, fmt.Errorf("%s: %w", op, err)
	}

	asset := models.Asset{
		ID:        uuid.NewString(),
		Path:      filePath,
		MediaType: models.MediaTypeOf(filePath),
		Size:      info.Size(),
		CreatedAt: time.Now().UTC(),
	}

	query := fmt.Sprintf(`INSERT INTO %s (asset_id, path, media_type, size, created_at) VALUES ($1, $2, $3, $4, $5)`,
		postgres.AssetsTable)

	if _, err := s.db.ExecContext(ctx, query, asset.ID, asset.Path, asset.MediaType, asset.Size, asset.CreatedAt); err != nil {
		return models.Asset{}, fmt.Errorf("%s: %w", op, err)
	}

	return asset, nil
}

func (s *MediaStorage) GetOrCreateAlbum(ctx context.Context, name string) (models.Album, error) {
	const op = "storage.postgres.media.GetOrCreateAlbum"

	query := fmt.Sprintf(`INSERT INTO %s (album_id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING album_id, name`, postgres.AlbumsTable)

	var album models.Album
	if err := s.db.QueryRowxContext(ctx, query, uuid.NewString(), name).StructScan(&album); err != nil {
		return models.Album{}, fmt.Errorf("%s: %w", op, err)
	}

	return album, nil
}

func (s *MediaStorage) AddAssetsToAlbum(ctx context.Context, assets []models.Asset, album models.Album) error {
	const op = "storage.postgres.media.AddAssetsToAlbum"

	if len(assets) == 0 {
		return nil
	}

	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}

	query := fmt.Sprintf(`UPDATE %s SET album_id = $1 WHERE asset_id = ANY($2)`, postgres.AssetsTable)

	result, err := s.db.ExecContext(ctx, query, album.ID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected != int64(len(ids)) {
		return fmt.Errorf("%s: %w", op, errs.ErrAssetNotFound)
	}

	return nil
}

func (s *MediaStorage) ListAssets(ctx context.Context, album models.Album, mediaType models.MediaType) ([]models.Asset, error) {
	const op = "storage.postgres.media.ListAssets"

	var exists bool
	albumQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE album_id = $1)`, postgres.AlbumsTable)
	if err := s.db.GetContext(ctx, &exists, albumQuery, album.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrAlbumNotFound)
	}

	query := fmt.Sprintf(`SELECT asset_id, path, media_type, size, album_id, created_at FROM %s
		WHERE album_id = $1 AND ($2 = '' OR media_type = $2)
		ORDER BY created_at`, postgres.AssetsTable)

	var assets []models.Asset
	if err := s.db.SelectContext(ctx, &assets, query, album.ID, string(mediaType)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return assets, nil
}

func (s *MediaStorage) DeleteAssets(ctx context.Context, ids []string) error {
	const op = "storage.postgres.media.DeleteAssets"

	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE asset_id = ANY($1)`, postgres.AssetsTable)

	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

package camerastorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/storage/postgres"
)

type CameraStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *CameraStorage {
	return &CameraStorage{
		db: db,
	}
}

func (s *CameraStorage) SaveCamera(ctx context.Context, cam models.Camera) (models.Camera, error) {
	const op = "storage.postgres.cameras.SaveCamera"

	query := fmt.Sprintf(`INSERT INTO %s (camera_id, name, location, rtsp_url) VALUES ($1, $2, $3, $4)
		RETURNING camera_id, name, location, rtsp_url`, postgres.CamerasTable)

	var saved models.Camera
	err := s.db.QueryRowxContext(ctx, query, cam.ID, cam.Name, cam.Location, cam.RTSPURL).StructScan(&saved)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrCameraAlreadyExists)
		}

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

func (s *CameraStorage) Camera(ctx context.Context, id models.CameraID) (models.Camera, error) {
	const op = "storage.postgres.cameras.Camera"

	query := fmt.Sprintf(`SELECT camera_id, name, location, rtsp_url FROM %s WHERE camera_id = $1`, postgres.CamerasTable)

	var cam models.Camera
	if err := s.db.GetContext(ctx, &cam, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrCameraNotFound)
		}

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraStorage) Cameras(ctx context.Context) ([]models.Camera, error) {
	const op = "storage.postgres.cameras.Cameras"

	query := fmt.Sprintf(`SELECT camera_id, name, location, rtsp_url FROM %s ORDER BY camera_id`, postgres.CamerasTable)

	var cams []models.Camera
	if err := s.db.SelectContext(ctx, &cams, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cams, nil
}

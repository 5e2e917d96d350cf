package mediahandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/http-server/handlers"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
)

type MediaHandler struct {
	log            *slog.Logger
	media          MediaProvider
	cameraProvider CameraProvider
}

type MediaProvider interface {
	GetOrCreateAlbum(ctx context.Context, name string) (models.Album, error)
	ListAssets(ctx context.Context, album models.Album, mediaType models.MediaType) ([]models.Asset, error)
	DeleteAssets(ctx context.Context, ids []string) error
}

type CameraProvider interface {
	Camera(ctx context.Context, id models.CameraID) (models.Camera, error)
}

func New(log *slog.Logger, media MediaProvider, cameraProvider CameraProvider) *MediaHandler {
	return &MediaHandler{
		log:            log,
		media:          media,
		cameraProvider: cameraProvider,
	}
}

type DeleteRequest struct {
	AssetIDs []string `json:"asset_ids" validate:"min=1"`
}

// Assets lists the camera's recorded files, optionally filtered by the
// "type" query parameter (video or image).
func (h *MediaHandler) Assets(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.media.Assets"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := models.NewCameraID(chi.URLParam(r, "camera"))
	if err != nil {
		log.Error("invalid camera id", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, "invalid camera id")

		return
	}

	mediaType := models.MediaType(r.URL.Query().Get("type"))
	switch mediaType {
	case models.MediaAll, models.MediaVideo, models.MediaImage:
	default:
		handlers.Error(w, r, http.StatusBadRequest, "type must be video or image")

		return
	}

	cam, err := h.cameraProvider.Camera(r.Context(), id)
	if err != nil {
		if !errors.Is(err, errs.ErrCameraNotFound) {
			log.Error("failed to get camera", sl.Err(err))

			handlers.Error(w, r, http.StatusInternalServerError, "failed to list media")

			return
		}

		cam = models.Camera{ID: id}
	}

	album, err := h.media.GetOrCreateAlbum(r.Context(), cam.AlbumName())
	if err != nil {
		log.Error("failed to get album", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to list media")

		return
	}

	assets, err := h.media.ListAssets(r.Context(), album, mediaType)
	if err != nil {
		log.Error("failed to list assets", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to list media")

		return
	}

	render.JSON(w, r, assets)
}

func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.media.Delete"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req DeleteRequest
	if !handlers.Decode(w, r, log, &req) {
		return
	}

	if err := h.media.DeleteAssets(r.Context(), req.AssetIDs); err != nil {
		log.Error("failed to delete assets", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to delete media")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

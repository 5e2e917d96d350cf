package autorecordhandler

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

type AutoRecordHandler struct {
	log            *slog.Logger
	policies       Policies
	cameraProvider CameraProvider
}

type Policies interface {
	Enable(ctx context.Context, cam models.Camera) (bool, error)
	Disable(ctx context.Context, id models.CameraID) error
	List() []models.Camera
}

type CameraProvider interface {
	Camera(ctx context.Context, id models.CameraID) (models.Camera, error)
}

func New(log *slog.Logger, policies Policies, cameraProvider CameraProvider) *AutoRecordHandler {
	return &AutoRecordHandler{
		log:            log,
		policies:       policies,
		cameraProvider: cameraProvider,
	}
}

type Request struct {
	CameraID string `json:"camera_id" validate:"required"`
}

type Response struct {
	CameraID  models.CameraID `json:"camera_id"`
	Enabled   bool            `json:"enabled"`
	Recording bool            `json:"recording"`
}

func (h *AutoRecordHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.policies.List())
}

func (h *AutoRecordHandler) Enable(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.autorecord.Enable"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if !handlers.Decode(w, r, log, &req) {
		return
	}

	id, err := models.NewCameraID(req.CameraID)
	if err != nil {
		log.Error("invalid camera id", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, "invalid camera id")

		return
	}

	cam, err := h.cameraProvider.Camera(r.Context(), id)
	if err != nil {
		if !errors.Is(err, errs.ErrCameraNotFound) {
			log.Error("failed to get camera", sl.Err(err))

			handlers.Error(w, r, http.StatusInternalServerError, "failed to enable auto-record")

			return
		}

		cam = models.Camera{ID: id}
	}

	recording, err := h.policies.Enable(r.Context(), cam)
	if err != nil {
		if errors.Is(err, errs.ErrPermissionDenied) {
			log.Error("storage permission denied", sl.Err(err))

			handlers.Error(w, r, http.StatusForbidden, "recording storage is not writable")

			return
		}

		log.Error("failed to enable auto-record", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to enable auto-record")

		return
	}

	render.JSON(w, r, Response{CameraID: id, Enabled: true, Recording: recording})
}

func (h *AutoRecordHandler) Disable(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.autorecord.Disable"

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

	if err := h.policies.Disable(r.Context(), id); err != nil {
		log.Error("failed to disable auto-record", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to disable auto-record")

		return
	}

	render.JSON(w, r, Response{CameraID: id})
}

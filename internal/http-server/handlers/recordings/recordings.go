package recordinghandler

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

type RecordingHandler struct {
	log            *slog.Logger
	recorder       Recorder
	cameraProvider CameraProvider
}

type Recorder interface {
	Start(ctx context.Context, cam models.Camera) (bool, error)
	Stop(ctx context.Context, id models.CameraID) (bool, error)
	IsRecording(id models.CameraID) bool
	Stats(id models.CameraID) (models.SessionStats, bool)
	Active() []models.CameraID
}

type CameraProvider interface {
	Camera(ctx context.Context, id models.CameraID) (models.Camera, error)
}

func New(log *slog.Logger, recorder Recorder, cameraProvider CameraProvider) *RecordingHandler {
	return &RecordingHandler{
		log:            log,
		recorder:       recorder,
		cameraProvider: cameraProvider,
	}
}

type Request struct {
	CameraID string `json:"camera_id" validate:"required"`
}

type Response struct {
	CameraID  models.CameraID      `json:"camera_id"`
	Started   *bool                `json:"started,omitempty"`
	Stopped   *bool                `json:"stopped,omitempty"`
	Recording bool                 `json:"recording"`
	Stats     *models.SessionStats `json:"stats,omitempty"`
}

func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Start"

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

			handlers.Error(w, r, http.StatusInternalServerError, "failed to start recording")

			return
		}

		cam = models.Camera{ID: id}
	}

	started, err := h.recorder.Start(r.Context(), cam)
	if err != nil {
		if errors.Is(err, errs.ErrPermissionDenied) {
			log.Error("storage permission denied", sl.Err(err))

			handlers.Error(w, r, http.StatusForbidden, "recording storage is not writable")

			return
		}

		log.Error("failed to start recording", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to start recording")

		return
	}

	log.Info("recording requested", slog.String("camera_id", id.String()), slog.Bool("started", started))

	render.JSON(w, r, h.status(id, &started, nil))
}

func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Stop"

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

	stopped, err := h.recorder.Stop(r.Context(), id)
	if err != nil {
		log.Error("failed to stop recording", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to stop recording")

		return
	}

	render.JSON(w, r, h.status(id, nil, &stopped))
}

func (h *RecordingHandler) Recording(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Recording"

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

	render.JSON(w, r, h.status(id, nil, nil))
}

func (h *RecordingHandler) Recordings(w http.ResponseWriter, r *http.Request) {
	active := h.recorder.Active()

	stats := make([]models.SessionStats, 0, len(active))
	for _, id := range active {
		if st, ok := h.recorder.Stats(id); ok {
			stats = append(stats, st)
		}
	}

	render.JSON(w, r, stats)
}

func (h *RecordingHandler) status(id models.CameraID, started, stopped *bool) Response {
	resp := Response{
		CameraID:  id,
		Started:   started,
		Stopped:   stopped,
		Recording: h.recorder.IsRecording(id),
	}

	if st, ok := h.recorder.Stats(id); ok {
		resp.Stats = &st
	}

	return resp
}

package camerashandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/http-server/handlers"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
	"github.com/zanzhit/live_recorder/internal/pacer"
	"github.com/zanzhit/live_recorder/internal/transport/ws"
)

const liveWriteWait = 2 * time.Second

type CameraHandler struct {
	log      *slog.Logger
	camera   Camera
	streamer Streamer
	metrics  metrics.Collector
	quality  string
	upgrader websocket.Upgrader
}

type Camera interface {
	SaveCamera(ctx context.Context, rawID, name, location, rtspURL string) (models.Camera, error)
	Cameras(ctx context.Context) ([]models.Camera, error)
	Refresh(ctx context.Context) ([]models.Camera, error)
}

type Streamer interface {
	Open(id models.CameraID, handler ws.Handler) *ws.Stream
}

func New(
	log *slog.Logger,
	camera Camera,
	streamer Streamer,
	collector metrics.Collector,
	quality string,
) *CameraHandler {
	return &CameraHandler{
		log:      log,
		camera:   camera,
		streamer: streamer,
		metrics:  collector,
		quality:  quality,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type Request struct {
	CameraID string `json:"camera_id" validate:"required"`
	Name     string `json:"name"`
	Location string `json:"location"`
	RTSPURL  string `json:"rtsp_url" validate:"omitempty,url"`
}

func (h *CameraHandler) SaveCamera(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.SaveCamera"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if !handlers.Decode(w, r, log, &req) {
		return
	}

	cam, err := h.camera.SaveCamera(r.Context(), req.CameraID, req.Name, req.Location, req.RTSPURL)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidCameraID):
			log.Error("invalid camera id", sl.Err(err))

			handlers.Error(w, r, http.StatusBadRequest, "invalid camera id")
		case errors.Is(err, errs.ErrCameraAlreadyExists):
			log.Error("camera is already exist", sl.Err(err))

			handlers.Error(w, r, http.StatusConflict, "camera already exists")
		default:
			log.Error("failed to save camera", sl.Err(err))

			handlers.Error(w, r, http.StatusInternalServerError, "failed to save new camera")
		}

		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cam)
}

func (h *CameraHandler) Cameras(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Cameras"

	cams, err := h.camera.Cameras(r.Context())
	if err != nil {
		h.log.Error("failed to list cameras", slog.String("op", op), sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to list cameras")

		return
	}

	render.JSON(w, r, cams)
}

func (h *CameraHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Refresh"

	cams, err := h.camera.Refresh(r.Context())
	if err != nil {
		h.log.Error("failed to refresh cameras", slog.String("op", op), sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, "failed to refresh cameras")

		return
	}

	render.JSON(w, r, cams)
}

type liveMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   string `json:"data,omitempty"`
}

// Live relays the camera's frames to a WebSocket client, paced to a display
// rate derived from the stream resolution.
func (h *CameraHandler) Live(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Live"

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

	log = log.With(slog.String("camera_id", id.String()))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", sl.Err(err))

		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wmu sync.Mutex
	write := func(msg liveMessage) error {
		wmu.Lock()
		defer wmu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))

		return conn.WriteJSON(msg)
	}

	p := pacer.New(log, id.String(), func(_ context.Context, f models.Frame) error {
		return write(liveMessage{Type: "video", Data: f.Payload})
	}, h.metrics, pacer.DefaultRate)
	go p.Run(ctx)

	ready := make(chan struct{})
	var stream *ws.Stream
	stream = h.streamer.Open(id, func(e ws.Event) {
		<-ready

		switch e.Type {
		case ws.EventOpened:
			stream.Send(ws.SetVideoQuality(h.quality))
			stream.Send(ws.RequestConfig())
		case ws.EventConfigured:
			p.SetResolution(e.Width, e.Height)
			if err := write(liveMessage{Type: "config", Width: e.Width, Height: e.Height}); err != nil {
				log.Warn("failed to relay config", sl.Err(err))
			}
		case ws.EventFrame:
			p.Push(models.Frame{Payload: e.Payload, ReceivedAt: time.Now()})
		}
	})
	close(ready)

	log.Info("live view started")

	defer func() {
		stream.Close()
		<-stream.Done()

		log.Info("live view stopped")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package recordingservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
	"github.com/zanzhit/live_recorder/internal/transport/ws"
)

const (
	videoExt       = ".mjpeg"
	imageExt       = ".jpg"
	fileTimeLayout = "2006-01-02_15-04-05"
	jobBacklog     = 32
	// Frames kept in memory while the writer is behind, in multiples of the
	// buffer size.
	maxBufferFactor = 4
)

type job struct {
	frames []string
	image  string
	seq    int
}

// Session records one camera. Frame arrival only validates and buffers;
// all file I/O happens in order on the session's writer goroutine.
type Session struct {
	id      string
	camera  models.Camera
	cfg     config.Recording
	quality string
	dir     string
	album   string

	log     *slog.Logger
	fs      FileSystem
	media   MediaStore
	metrics metrics.Collector
	now     func() time.Time

	stream Stream
	ready  chan struct{}

	jobs       chan job
	writerDone chan struct{}

	mu               sync.Mutex
	state            models.SessionState
	startTime        time.Time
	frameCount       int64
	arrivals         []time.Time
	frameRate        float64
	buffer           []string
	lastWrite        time.Time
	fileSeq          int
	currentFile      string
	fileStart        time.Time
	currentFileBytes int64
	totalBytes       int64
	errorCount       int
	fallback         bool
	fallbackFrames   int64
	imageSeq         int
	images           []string
}

func newSession(
	log *slog.Logger,
	camera models.Camera,
	cfg config.Recording,
	quality string,
	storagePath string,
	fs FileSystem,
	media MediaStore,
	collector metrics.Collector,
	now func() time.Time,
) *Session {
	id := shortuuid.New()

	return &Session{
		id:      id,
		camera:  camera,
		cfg:     cfg,
		quality: quality,
		dir:     filepath.Join(storagePath, camera.ID.Dir()),
		album:   camera.AlbumName(),
		log: log.With(
			slog.String("session_id", id),
			slog.String("camera_id", camera.ID.String()),
		),
		fs:         fs,
		media:      media,
		metrics:    collector,
		now:        now,
		ready:      make(chan struct{}),
		jobs:       make(chan job, jobBacklog),
		writerDone: make(chan struct{}),
		state:      models.StateIdle,
		arrivals:   make([]time.Time, 0, cfg.RateWindow+1),
		buffer:     make([]string, 0, cfg.BufferSize),
	}
}

func (s *Session) start(opener Opener) error {
	const op = "service.recordings.session.start"

	if err := s.fs.MkdirAll(s.dir); err != nil {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrWriteFailed, err)
	}

	now := s.now()

	s.mu.Lock()
	s.startTime = now
	s.lastWrite = now
	s.openFileLocked(now)
	s.state = models.StateConnecting
	s.mu.Unlock()

	go s.writeLoop()

	s.stream = opener.Open(s.camera.ID, s.handle)
	close(s.ready)

	s.log.Info("session started", slog.String("file", s.currentFile))

	return nil
}

// Stop flushes pending frames, finalizes the output and releases the
// transport. It is safe to call whatever the camera's state.
func (s *Session) Stop(ctx context.Context) error {
	const op = "service.recordings.session.Stop"

	s.mu.Lock()
	if s.state == models.StateFinalizing || s.state == models.StateIdle {
		s.mu.Unlock()

		return nil
	}
	s.state = models.StateFinalizing
	s.mu.Unlock()

	s.stream.Close()
	<-s.stream.Done()

	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) > 0 {
		s.jobs <- job{frames: pending}
	}

	close(s.jobs)
	<-s.writerDone

	s.mu.Lock()
	path, size := s.currentFile, s.currentFileBytes
	images := s.images
	s.currentFile, s.currentFileBytes, s.images = "", 0, nil
	s.mu.Unlock()

	err := errors.Join(
		s.finalizeVideo(ctx, path, size),
		s.finalizeImages(ctx, images),
	)

	s.mu.Lock()
	s.state = models.StateIdle
	s.mu.Unlock()

	s.log.Info("session stopped")

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Session) Stats() models.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.SessionStats{
		SessionID:        s.id,
		CameraID:         s.camera.ID,
		State:            s.state,
		StartTime:        s.startTime,
		DurationSeconds:  s.now().Sub(s.startTime).Seconds(),
		FrameCount:       s.frameCount,
		FrameRate:        s.frameRate,
		CurrentFile:      s.currentFile,
		CurrentFileBytes: s.currentFileBytes,
		TotalBytes:       s.totalBytes,
		IsImageFallback:  s.fallback,
		ErrorCount:       s.errorCount,
	}
}

func (s *Session) handle(e ws.Event) {
	<-s.ready

	switch e.Type {
	case ws.EventOpened:
		s.mu.Lock()
		if s.state == models.StateConnecting {
			s.state = s.recordingStateLocked()
		}
		s.mu.Unlock()

		s.stream.Send(ws.SetVideoQuality(s.quality))
		s.stream.Send(ws.RequestConfig())
	case ws.EventConfigured:
		s.log.Info("stream configured", slog.Int("width", e.Width), slog.Int("height", e.Height))
	case ws.EventFrame:
		s.onFrame(e.Payload)
	case ws.EventClosed:
		s.mu.Lock()
		if s.state == models.StateRecordingVideo || s.state == models.StateRecordingImageFallback {
			s.state = models.StateConnecting
		}
		s.mu.Unlock()

		s.log.Warn("camera connection lost", sl.Err(e.Err))
	case ws.EventError:
		s.log.Debug("transport error", sl.Err(e.Err))
	}
}

func (s *Session) recordingStateLocked() models.SessionState {
	if s.fallback {
		return models.StateRecordingImageFallback
	}

	return models.StateRecordingVideo
}

func (s *Session) onFrame(payload string) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.StateFinalizing, models.StateIdle:
		return
	case models.StateConnecting:
		s.state = s.recordingStateLocked()
	}

	s.frameCount++
	s.trackArrivalLocked(now)
	s.metrics.FrameReceived(s.camera.ID.String(), len(payload))

	if !validFrame(payload) {
		s.errorCount++
		s.metrics.FrameRejected(s.camera.ID.String())
		s.log.Debug("dropping invalid frame", sl.Err(errs.ErrFrameValidation))

		return
	}

	if s.fallback {
		for _, j := range s.fallbackImagesLocked([]string{payload}) {
			select {
			case s.jobs <- j:
			default:
				s.log.Warn("writer busy, skipping fallback image", slog.Int("seq", j.seq))
			}
		}

		return
	}

	s.buffer = append(s.buffer, payload)

	due := len(s.buffer) >= s.cfg.BufferSize ||
		(s.cfg.TimeBasedWrites && now.Sub(s.lastWrite) >= s.cfg.WriteInterval)
	if !due {
		return
	}

	frames := s.buffer
	select {
	case s.jobs <- job{frames: frames}:
		s.buffer = make([]string, 0, s.cfg.BufferSize)
		s.lastWrite = now
	default:
		if limit := s.cfg.BufferSize * maxBufferFactor; len(s.buffer) > limit {
			dropped := len(s.buffer) - limit
			s.buffer = append(s.buffer[:0], s.buffer[dropped:]...)
			s.log.Warn("writer behind, dropping oldest buffered frames", slog.Int("dropped", dropped))
		}
	}
}

// trackArrivalLocked recomputes the frame rate every RateWindow frames from
// the last RateWindow inter-arrival intervals.
func (s *Session) trackArrivalLocked(now time.Time) {
	window := s.cfg.RateWindow

	s.arrivals = append(s.arrivals, now)
	if len(s.arrivals) > window+1 {
		s.arrivals = append(s.arrivals[:0], s.arrivals[len(s.arrivals)-window-1:]...)
	}

	if s.frameCount%int64(window) != 0 || len(s.arrivals) < 2 {
		return
	}

	span := s.arrivals[len(s.arrivals)-1].Sub(s.arrivals[0])
	if span <= 0 {
		return
	}

	s.frameRate = float64(len(s.arrivals)-1) / span.Seconds()
}

// validFrame is a cheap plausibility check, not a decode.
func validFrame(payload string) bool {
	if payload == "" {
		return false
	}

	c := payload[0]

	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/'
}

func decodeFrame(payload string) ([]byte, error) {
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}

	return base64.StdEncoding.DecodeString(payload)
}

func (s *Session) openFileLocked(now time.Time) {
	s.fileSeq++
	name := fmt.Sprintf("%s_%s_%02d%s", s.camera.ID.Dir(), now.Format(fileTimeLayout), s.fileSeq, videoExt)

	s.currentFile = filepath.Join(s.dir, name)
	s.fileStart = now
	s.currentFileBytes = 0
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for j := range s.jobs {
		if j.image != "" {
			s.writeImage(j)

			continue
		}

		s.writeVideo(j.frames)
	}
}

func (s *Session) writeVideo(frames []string) {
	s.mu.Lock()
	if s.fallback {
		images := s.fallbackImagesLocked(frames)
		s.mu.Unlock()

		s.writeImages(images)

		return
	}
	s.mu.Unlock()

	s.rotateIfDue()

	data := make([]byte, 0, len(frames)*16*1024)
	invalid := 0
	for _, f := range frames {
		b, err := decodeFrame(f)
		if err != nil {
			invalid++

			continue
		}

		data = append(data, b...)
	}

	s.mu.Lock()
	s.errorCount += invalid
	path := s.currentFile
	s.mu.Unlock()

	if len(data) == 0 {
		return
	}

	err := s.fs.Append(path, data)

	s.mu.Lock()

	if err != nil {
		s.errorCount++
		s.metrics.WriteFailed(s.camera.ID.String())
		s.log.Error("failed to write frames", slog.Int("frames", len(frames)), slog.Int("error_count", s.errorCount),
			sl.Err(fmt.Errorf("%w: %w", errs.ErrWriteFailed, err)))

		var images []job
		if !s.fallback && s.errorCount > s.cfg.ErrorThreshold {
			images = s.enterFallbackLocked()
		}
		s.mu.Unlock()

		s.writeImages(images)

		return
	}

	if s.errorCount > 0 {
		s.errorCount--
	}

	s.currentFileBytes += int64(len(data))
	s.totalBytes += int64(len(data))
	s.metrics.BytesWritten(s.camera.ID.String(), len(data))
	s.mu.Unlock()
}

// enterFallbackLocked switches the session to image fallback for the rest of
// its life. Frames still buffered for the video file go through the fallback
// cadence, and the returned image jobs must be written by the caller.
func (s *Session) enterFallbackLocked() []job {
	s.fallback = true
	if s.state == models.StateRecordingVideo {
		s.state = models.StateRecordingImageFallback
	}

	buffered := s.buffer
	s.buffer = make([]string, 0, s.cfg.BufferSize)

	s.metrics.FallbackEntered(s.camera.ID.String())
	s.log.Warn("too many write errors, switching to image fallback",
		slog.Int("error_count", s.errorCount),
		slog.Int("buffered_frames", len(buffered)),
	)

	return s.fallbackImagesLocked(buffered)
}

// fallbackImagesLocked counts frames against the fallback cadence and returns
// the ones due to be saved as images.
func (s *Session) fallbackImagesLocked(frames []string) []job {
	var images []job
	for _, f := range frames {
		s.fallbackFrames++
		if s.fallbackFrames%int64(s.cfg.FallbackEvery) != 0 {
			continue
		}

		s.imageSeq++
		images = append(images, job{image: f, seq: s.imageSeq})
	}

	return images
}

func (s *Session) writeImages(images []job) {
	for _, j := range images {
		s.writeImage(j)
	}
}

func (s *Session) writeImage(j job) {
	data, err := decodeFrame(j.image)
	if err != nil {
		s.mu.Lock()
		s.errorCount++
		s.mu.Unlock()

		return
	}

	name := fmt.Sprintf("%s_%s_img_%06d%s", s.camera.ID.Dir(), s.startTime.Format(fileTimeLayout), j.seq, imageExt)
	path := filepath.Join(s.dir, name)

	err = s.fs.Append(path, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.errorCount++
		s.metrics.WriteFailed(s.camera.ID.String())
		s.log.Error("failed to write fallback image", slog.String("file", path), sl.Err(err))

		return
	}

	if s.errorCount > 0 {
		s.errorCount--
	}

	s.images = append(s.images, path)
	s.totalBytes += int64(len(data))
	s.metrics.BytesWritten(s.camera.ID.String(), len(data))
}

func (s *Session) rotateIfDue() {
	now := s.now()

	s.mu.Lock()
	if now.Sub(s.fileStart) < s.cfg.RotationInterval {
		s.mu.Unlock()

		return
	}

	path, size := s.currentFile, s.currentFileBytes
	s.openFileLocked(now)
	s.mu.Unlock()

	s.log.Info("rotating output file", slog.String("previous", path))

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := s.finalizeVideo(ctx, path, size); err != nil {
		s.log.Error("failed to finalize rotated file", sl.Err(err))
	}
}

// finalizeVideo registers a finished video file with the media store. Files
// without successfully written bytes are removed instead.
func (s *Session) finalizeVideo(ctx context.Context, path string, size int64) error {
	const op = "service.recordings.session.finalizeVideo"

	if path == "" {
		return nil
	}

	if size > 0 {
		exists, onDisk, err := s.fs.Stat(path)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, errs.ErrFinalizeFailed, err)
		}

		if !exists {
			return fmt.Errorf("%s: %w: %s is missing", op, errs.ErrFinalizeFailed, path)
		}

		size = onDisk
	}

	if size == 0 {
		if err := s.fs.Remove(path); err != nil {
			s.log.Warn("failed to remove empty file", slog.String("file", path), sl.Err(err))
		}

		return nil
	}

	asset, err := s.media.CreateAsset(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrFinalizeFailed, err)
	}

	if err := s.addToAlbum(ctx, []models.Asset{asset}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.FileFinalized(s.camera.ID.String(), string(models.MediaVideo))
	s.log.Info("output file finalized", slog.String("file", path), slog.Int64("bytes", size))

	return nil
}

func (s *Session) finalizeImages(ctx context.Context, paths []string) error {
	const op = "service.recordings.session.finalizeImages"

	if len(paths) == 0 {
		return nil
	}

	assets := make([]models.Asset, 0, len(paths))
	var errList []error
	for _, path := range paths {
		asset, err := s.media.CreateAsset(ctx, path)
		if err != nil {
			errList = append(errList, err)

			continue
		}

		assets = append(assets, asset)
	}

	if len(assets) > 0 {
		if err := s.addToAlbum(ctx, assets); err != nil {
			errList = append(errList, err)
		} else {
			for range assets {
				s.metrics.FileFinalized(s.camera.ID.String(), string(models.MediaImage))
			}
		}
	}

	if len(errList) > 0 {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrFinalizeFailed, errors.Join(errList...))
	}

	return nil
}

func (s *Session) addToAlbum(ctx context.Context, assets []models.Asset) error {
	album, err := s.media.GetOrCreateAlbum(ctx, s.album)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrFinalizeFailed, err)
	}

	if err := s.media.AddAssetsToAlbum(ctx, assets, album); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrFinalizeFailed, err)
	}

	return nil
}

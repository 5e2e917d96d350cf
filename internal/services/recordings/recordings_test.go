package recordingservice

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/handlers/slogdiscard"
	"github.com/zanzhit/live_recorder/internal/metrics"
	"github.com/zanzhit/live_recorder/internal/storage/fs"
	"github.com/zanzhit/live_recorder/internal/storage/memory"
	"github.com/zanzhit/live_recorder/internal/transport/ws"
)

type fakeStream struct {
	mu   sync.Mutex
	sent []ws.Command
	done chan struct{}
	once sync.Once
}

func (f *fakeStream) Send(cmd ws.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, cmd)
}

func (f *fakeStream) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *fakeStream) Done() <-chan struct{} {
	return f.done
}

func (f *fakeStream) commands() []ws.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ws.Command(nil), f.sent...)
}

type fakeOpener struct {
	mu       sync.Mutex
	opens    int
	handlers map[models.CameraID]ws.Handler
	streams  map[models.CameraID]*fakeStream
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		handlers: make(map[models.CameraID]ws.Handler),
		streams:  make(map[models.CameraID]*fakeStream),
	}
}

func (o *fakeOpener) Open(id models.CameraID, handler ws.Handler) Stream {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens++
	st := &fakeStream{done: make(chan struct{})}
	o.handlers[id] = handler
	o.streams[id] = st

	return st
}

func (o *fakeOpener) emit(t *testing.T, id models.CameraID, events ...ws.Event) {
	t.Helper()

	o.mu.Lock()
	h, ok := o.handlers[id]
	o.mu.Unlock()

	if !ok {
		t.Fatalf("no stream opened for %s", id)
	}

	for _, e := range events {
		h(e)
	}
}

func (o *fakeOpener) stream(id models.CameraID) *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.streams[id]
}

type flakyDisk struct {
	*fs.Disk
	failVideo atomic.Bool
	// gate, when set, holds video appends until it is closed.
	gate chan struct{}
}

func (d *flakyDisk) Append(path string, data []byte) error {
	if d.gate != nil && strings.HasSuffix(path, videoExt) {
		<-d.gate
	}

	if d.failVideo.Load() && strings.HasSuffix(path, videoExt) {
		return errors.New("disk full")
	}

	return d.Disk.Append(path, data)
}

type denyStorage struct{}

func (denyStorage) CheckStorage() error {
	return errors.New("read-only file system")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fixture struct {
	registry *Registry
	opener   *fakeOpener
	disk     *flakyDisk
	media    *memory.MediaStore
	clock    *fakeClock
	dir      string
}

func testConfig() config.Recording {
	return config.Recording{
		BufferSize:       1,
		WriteInterval:    10 * time.Second,
		RotationInterval: time.Hour,
		ErrorThreshold:   5,
		FallbackEvery:    3,
		RateWindow:       5,
	}
}

func newFixture(t *testing.T, cfg config.Recording) *fixture {
	t.Helper()

	f := &fixture{
		opener: newFakeOpener(),
		disk:   &flakyDisk{Disk: fs.New()},
		media:  memory.NewMediaStore(),
		clock:  &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		dir:    t.TempDir(),
	}

	f.registry = New(
		slogdiscard.NewDiscardLogger(),
		cfg,
		f.dir,
		"medium",
		f.opener,
		f.disk,
		f.media,
		fs.NewWritableDir(f.dir),
		metrics.NewPrometheusCollector(),
	)
	f.registry.now = f.clock.Now

	return f
}

func (f *fixture) assets(t *testing.T, cam models.Camera, mediaType models.MediaType) []models.Asset {
	t.Helper()

	album, err := f.media.GetOrCreateAlbum(context.Background(), cam.AlbumName())
	if err != nil {
		t.Fatalf("album: %v", err)
	}

	assets, err := f.media.ListAssets(context.Background(), album, mediaType)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}

	return assets
}

func frame(s string) ws.Event {
	return ws.Event{Type: ws.EventFrame, Payload: base64.StdEncoding.EncodeToString([]byte(s))}
}

func testCamera(t *testing.T) models.Camera {
	t.Helper()

	id, err := models.NewCameraID("192.168.1.50:8080")
	if err != nil {
		t.Fatal(err)
	}

	return models.Camera{ID: id, Name: "Gate"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) stats(t *testing.T, id models.CameraID) models.SessionStats {
	t.Helper()

	st, ok := f.registry.Stats(id)
	if !ok {
		t.Fatalf("camera %s is not recording", id)
	}

	return st
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, testConfig())
	cam := testCamera(t)
	ctx := context.Background()

	started, err := f.registry.Start(ctx, cam)
	if err != nil || !started {
		t.Fatalf("Start = %v, %v; want true, nil", started, err)
	}

	started, err = f.registry.Start(ctx, cam)
	if err != nil || started {
		t.Fatalf("second Start = %v, %v; want false, nil", started, err)
	}

	if !f.registry.IsRecording(cam.ID) {
		t.Fatal("camera should be recording")
	}

	if st := f.stats(t, cam.ID); st.State != models.StateConnecting {
		t.Fatalf("state = %s, want %s", st.State, models.StateConnecting)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})

	if st := f.stats(t, cam.ID); st.State != models.StateRecordingVideo {
		t.Fatalf("state = %s, want %s", st.State, models.StateRecordingVideo)
	}

	cmds := f.opener.stream(cam.ID).commands()
	want := []ws.Command{ws.SetVideoQuality("medium"), ws.RequestConfig()}
	if len(cmds) != len(want) || cmds[0] != want[0] || cmds[1] != want[1] {
		t.Fatalf("commands = %+v, want %+v", cmds, want)
	}

	stopped, err := f.registry.Stop(ctx, cam.ID)
	if err != nil || !stopped {
		t.Fatalf("Stop = %v, %v; want true, nil", stopped, err)
	}

	stopped, err = f.registry.Stop(ctx, cam.ID)
	if err != nil || stopped {
		t.Fatalf("second Stop = %v, %v; want false, nil", stopped, err)
	}

	if f.registry.IsRecording(cam.ID) {
		t.Fatal("camera should not be recording")
	}

	if f.opener.opens != 1 {
		t.Fatalf("opens = %d, want 1", f.opener.opens)
	}

	if n := f.registry.locks.Len(); n != 0 {
		t.Fatalf("camera locks left = %d, want 0", n)
	}
}

func TestConcurrentStartCreatesOneSession(t *testing.T) {
	f := newFixture(t, testConfig())
	cam := testCamera(t)

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ok, err := f.registry.Start(context.Background(), cam)
			if err != nil {
				t.Error(err)
			}
			if ok {
				started.Add(1)
			}
		}()
	}

	wg.Wait()

	if started.Load() != 1 {
		t.Fatalf("started = %d, want 1", started.Load())
	}

	if f.opener.opens != 1 {
		t.Fatalf("opens = %d, want 1", f.opener.opens)
	}

	f.registry.StopAll(context.Background())
}

func TestStartPermissionDenied(t *testing.T) {
	f := newFixture(t, testConfig())
	f.registry.permissions = denyStorage{}
	cam := testCamera(t)

	started, err := f.registry.Start(context.Background(), cam)
	if started || !errors.Is(err, errs.ErrPermissionDenied) {
		t.Fatalf("Start = %v, %v; want false, ErrPermissionDenied", started, err)
	}

	if f.registry.IsRecording(cam.ID) {
		t.Fatal("camera should not be recording")
	}
}

func TestFramesWrittenInArrivalOrder(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 2
	f := newFixture(t, cfg)
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened}, frame("a"), frame("b"), frame("c"))

	st := f.stats(t, cam.ID)
	if st.FrameCount != 3 {
		t.Fatalf("frame count = %d, want 3", st.FrameCount)
	}

	path := st.CurrentFile
	if filepath.Dir(path) != filepath.Join(f.dir, cam.ID.Dir()) {
		t.Fatalf("file %q not under camera directory", path)
	}

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "abc" {
		t.Fatalf("file content = %q, want %q", data, "abc")
	}

	assets := f.assets(t, cam, models.MediaVideo)
	if len(assets) != 1 || assets[0].Path != path || assets[0].Size != 3 {
		t.Fatalf("assets = %+v", assets)
	}
}

func TestEmptyFileIsNotRegistered(t *testing.T) {
	f := newFixture(t, testConfig())
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})
	path := f.stats(t, cam.ID).CurrentFile

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent, stat err = %v", path, err)
	}

	if assets := f.assets(t, cam, models.MediaAll); len(assets) != 0 {
		t.Fatalf("assets = %+v, want none", assets)
	}
}

func TestInvalidFramesAreCountedAndSkipped(t *testing.T) {
	f := newFixture(t, testConfig())
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID,
		ws.Event{Type: ws.EventOpened},
		ws.Event{Type: ws.EventFrame, Payload: ""},
		ws.Event{Type: ws.EventFrame, Payload: "!!!"},
	)

	st := f.stats(t, cam.ID)
	if st.FrameCount != 2 || st.ErrorCount != 2 {
		t.Fatalf("frames = %d, errors = %d; want 2, 2", st.FrameCount, st.ErrorCount)
	}

	f.opener.emit(t, cam.ID, frame("x"))

	waitFor(t, "valid frame write", func() bool {
		return f.stats(t, cam.ID).CurrentFileBytes == 1
	})

	f.registry.StopAll(context.Background())
}

func TestFallbackAfterRepeatedWriteFailures(t *testing.T) {
	f := newFixture(t, testConfig())
	f.disk.failVideo.Store(true)
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})

	for i := 0; i < 6; i++ {
		f.opener.emit(t, cam.ID, frame("v"))
	}

	waitFor(t, "image fallback", func() bool {
		return f.stats(t, cam.ID).IsImageFallback
	})

	if st := f.stats(t, cam.ID); st.State != models.StateRecordingImageFallback {
		t.Fatalf("state = %s, want %s", st.State, models.StateRecordingImageFallback)
	}

	// Fallback is kept even once the disk recovers.
	f.disk.failVideo.Store(false)

	for i := 0; i < 9; i++ {
		f.opener.emit(t, cam.ID, frame("i"))
	}

	if !f.stats(t, cam.ID).IsImageFallback {
		t.Fatal("session left image fallback")
	}

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	images := f.assets(t, cam, models.MediaImage)
	if len(images) != 3 {
		t.Fatalf("image assets = %d, want 3", len(images))
	}

	for _, a := range images {
		if !strings.HasSuffix(a.Path, imageExt) || a.Size != 1 {
			t.Fatalf("unexpected image asset %+v", a)
		}
	}

	if videos := f.assets(t, cam, models.MediaVideo); len(videos) != 0 {
		t.Fatalf("video assets = %+v, want none", videos)
	}
}

func TestFallbackKeepsFramesBufferedAtTransition(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 4
	cfg.ErrorThreshold = 1
	cfg.FallbackEvery = 1

	f := newFixture(t, cfg)
	f.disk.failVideo.Store(true)
	f.disk.gate = make(chan struct{})
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})

	// Two full batches fail on the held disk while three more frames wait
	// in the buffer.
	for i := 0; i < 8; i++ {
		f.opener.emit(t, cam.ID, frame("v"))
	}
	f.opener.emit(t, cam.ID, frame("x"), frame("y"), frame("z"))

	close(f.disk.gate)

	waitFor(t, "image fallback", func() bool {
		return f.stats(t, cam.ID).IsImageFallback
	})

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	images := f.assets(t, cam, models.MediaImage)
	if len(images) != 3 {
		t.Fatalf("image assets = %d, want the 3 buffered frames", len(images))
	}

	for _, a := range images {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatal(err)
		}

		if got := string(data); got != "x" && got != "y" && got != "z" {
			t.Fatalf("image %s holds %q", a.Path, got)
		}
	}

	if videos := f.assets(t, cam, models.MediaVideo); len(videos) != 0 {
		t.Fatalf("video assets = %+v, want none", videos)
	}
}

func TestNewDefaultsZeroIntervals(t *testing.T) {
	cfg := testConfig()
	cfg.RotationInterval = 0
	cfg.ErrorThreshold = 0

	f := newFixture(t, cfg)

	if f.registry.cfg.RotationInterval != defaultRotationInterval {
		t.Fatalf("rotation interval = %v", f.registry.cfg.RotationInterval)
	}

	if f.registry.cfg.ErrorThreshold != defaultErrorThreshold {
		t.Fatalf("error threshold = %d", f.registry.cfg.ErrorThreshold)
	}

	cam := testCamera(t)
	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened}, frame("a"), frame("b"))

	waitFor(t, "frames written", func() bool {
		return f.stats(t, cam.ID).TotalBytes == 2
	})

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	if videos := f.assets(t, cam, models.MediaVideo); len(videos) != 1 {
		t.Fatalf("video assets = %d, want 1 unrotated file", len(videos))
	}
}

func TestRotationFinalizesPreviousFile(t *testing.T) {
	cfg := testConfig()
	cfg.RotationInterval = time.Minute
	f := newFixture(t, cfg)
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened}, frame("a"))
	first := f.stats(t, cam.ID).CurrentFile

	waitFor(t, "first write", func() bool {
		return f.stats(t, cam.ID).CurrentFileBytes == 1
	})

	f.clock.Advance(2 * time.Minute)
	f.opener.emit(t, cam.ID, frame("b"))

	waitFor(t, "rotation", func() bool {
		return f.stats(t, cam.ID).CurrentFile != first
	})

	if _, err := f.registry.Stop(context.Background(), cam.ID); err != nil {
		t.Fatal(err)
	}

	videos := f.assets(t, cam, models.MediaVideo)
	if len(videos) != 2 {
		t.Fatalf("video assets = %d, want 2", len(videos))
	}

	if videos[0].Path == videos[1].Path {
		t.Fatal("rotated files share a path")
	}
}

func TestFrameRate(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 100
	f := newFixture(t, cfg)
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})

	for i := 0; i < 10; i++ {
		f.opener.emit(t, cam.ID, frame("f"))
		f.clock.Advance(100 * time.Millisecond)
	}

	if rate := f.stats(t, cam.ID).FrameRate; math.Abs(rate-10) > 1e-6 {
		t.Fatalf("frame rate = %v, want 10", rate)
	}

	f.registry.StopAll(context.Background())
}

func TestTimeBasedWrites(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 100
	cfg.TimeBasedWrites = true
	f := newFixture(t, cfg)
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened}, frame("a"))

	if st := f.stats(t, cam.ID); st.CurrentFileBytes != 0 {
		t.Fatalf("bytes written before interval = %d", st.CurrentFileBytes)
	}

	f.clock.Advance(11 * time.Second)
	f.opener.emit(t, cam.ID, frame("b"))

	waitFor(t, "interval flush", func() bool {
		return f.stats(t, cam.ID).CurrentFileBytes == 2
	})

	f.registry.StopAll(context.Background())
}

func TestConnectionLossReturnsToConnecting(t *testing.T) {
	f := newFixture(t, testConfig())
	cam := testCamera(t)

	if _, err := f.registry.Start(context.Background(), cam); err != nil {
		t.Fatal(err)
	}

	f.opener.emit(t, cam.ID,
		ws.Event{Type: ws.EventOpened},
		ws.Event{Type: ws.EventClosed, Err: errs.ErrConnectionClosed},
	)

	if st := f.stats(t, cam.ID); st.State != models.StateConnecting {
		t.Fatalf("state = %s, want %s", st.State, models.StateConnecting)
	}

	if !f.registry.IsRecording(cam.ID) {
		t.Fatal("session must survive a connection loss")
	}

	f.opener.emit(t, cam.ID, ws.Event{Type: ws.EventOpened})

	if st := f.stats(t, cam.ID); st.State != models.StateRecordingVideo {
		t.Fatalf("state = %s, want %s", st.State, models.StateRecordingVideo)
	}

	f.registry.StopAll(context.Background())
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, testConfig())

	var ids []models.CameraID
	for _, raw := range []string{"10.0.0.2", "10.0.0.1"} {
		id, err := models.NewCameraID(raw)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := f.registry.Start(context.Background(), models.Camera{ID: id}); err != nil {
			t.Fatal(err)
		}

		ids = append(ids, id)
	}

	active := f.registry.Active()
	if len(active) != 2 || active[0] != ids[1] || active[1] != ids[0] {
		t.Fatalf("active = %v", active)
	}

	f.registry.StopAll(context.Background())

	if active := f.registry.Active(); len(active) != 0 {
		t.Fatalf("active after StopAll = %v", active)
	}
}

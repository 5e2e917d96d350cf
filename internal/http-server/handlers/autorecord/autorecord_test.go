package autorecordhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/handlers/slogdiscard"
)

type fakePolicies struct {
	enabled map[models.CameraID]models.Camera
	online  bool
	err     error
}

func (f *fakePolicies) Enable(_ context.Context, cam models.Camera) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	f.enabled[cam.ID] = cam

	return f.online, nil
}

func (f *fakePolicies) Disable(_ context.Context, id models.CameraID) error {
	delete(f.enabled, id)

	return nil
}

func (f *fakePolicies) List() []models.Camera {
	cams := make([]models.Camera, 0, len(f.enabled))
	for _, cam := range f.enabled {
		cams = append(cams, cam)
	}

	return cams
}

type noCameras struct{}

func (noCameras) Camera(context.Context, models.CameraID) (models.Camera, error) {
	return models.Camera{}, fmt.Errorf("fake: %w", errs.ErrCameraNotFound)
}

func newRouter(p *fakePolicies) http.Handler {
	h := New(slogdiscard.NewDiscardLogger(), p, noCameras{})

	r := chi.NewRouter()
	r.Get("/autorecord", h.List)
	r.Post("/autorecord", h.Enable)
	r.Delete("/autorecord/{camera}", h.Disable)

	return r
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestEnableListDisable(t *testing.T) {
	p := &fakePolicies{enabled: make(map[models.CameraID]models.Camera), online: true}
	router := newRouter(p)

	rec := serve(router, http.MethodPost, "/autorecord", `{"camera_id":"ws://10.0.0.3:8080/feed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d (body %s)", rec.Code, rec.Body)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.CameraID != "10.0.0.3:8080" || !resp.Enabled || !resp.Recording {
		t.Fatalf("enable response = %+v", resp)
	}

	rec = serve(router, http.MethodGet, "/autorecord", "")

	var cams []models.Camera
	if err := json.Unmarshal(rec.Body.Bytes(), &cams); err != nil || len(cams) != 1 {
		t.Fatalf("list = %s, err %v", rec.Body, err)
	}

	rec = serve(router, http.MethodDelete, "/autorecord/10.0.0.3:8080", "")
	if rec.Code != http.StatusOK || len(p.enabled) != 0 {
		t.Fatalf("disable status = %d, enabled = %v", rec.Code, p.enabled)
	}
}

func TestEnableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"missing camera", nil, `{}`, http.StatusBadRequest},
		{"permission denied", fmt.Errorf("fake: %w", errs.ErrPermissionDenied), `{"camera_id":"10.0.0.3"}`, http.StatusForbidden},
		{"store failure", errors.New("disk full"), `{"camera_id":"10.0.0.3"}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePolicies{enabled: make(map[models.CameraID]models.Camera), err: tt.err}

			if rec := serve(newRouter(p), http.MethodPost, "/autorecord", tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

package mediahandler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/handlers/slogdiscard"
	"github.com/zanzhit/live_recorder/internal/storage/memory"
)

type cameras map[models.CameraID]models.Camera

func (c cameras) Camera(_ context.Context, id models.CameraID) (models.Camera, error) {
	cam, ok := c[id]
	if !ok {
		return models.Camera{}, fmt.Errorf("fake: %w", errs.ErrCameraNotFound)
	}

	return cam, nil
}

func seed(t *testing.T, store *memory.MediaStore, cam models.Camera, names ...string) []models.Asset {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()

	album, err := store.GetOrCreateAlbum(ctx, cam.AlbumName())
	if err != nil {
		t.Fatal(err)
	}

	var assets []models.Asset
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}

		a, err := store.CreateAsset(ctx, path)
		if err != nil {
			t.Fatal(err)
		}

		assets = append(assets, a)
	}

	if err := store.AddAssetsToAlbum(ctx, assets, album); err != nil {
		t.Fatal(err)
	}

	return assets
}

func newRouter(store *memory.MediaStore, cams cameras) http.Handler {
	h := New(slogdiscard.NewDiscardLogger(), store, cams)

	r := chi.NewRouter()
	r.Get("/media/{camera}", h.Assets)
	r.Delete("/media", h.Delete)

	return r
}

func list(t *testing.T, router http.Handler, path string) (int, []models.Asset) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if rec.Code != http.StatusOK {
		return rec.Code, nil
	}

	var assets []models.Asset
	if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}

	return rec.Code, assets
}

func TestAssets(t *testing.T) {
	store := memory.NewMediaStore()
	cam := models.Camera{ID: "10.0.0.4", Name: "Dock"}
	seed(t, store, cam, "a.mjpeg", "b.jpg", "c.jpg")

	router := newRouter(store, cameras{cam.ID: cam})

	tests := []struct {
		path string
		want int
	}{
		{"/media/10.0.0.4", 3},
		{"/media/10.0.0.4?type=video", 1},
		{"/media/10.0.0.4?type=image", 2},
		{"/media/10.0.0.8", 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, assets := list(t, router, tt.path)
			if code != http.StatusOK || len(assets) != tt.want {
				t.Fatalf("status = %d, assets = %d; want 200, %d", code, len(assets), tt.want)
			}
		})
	}

	if code, _ := list(t, router, "/media/10.0.0.4?type=audio"); code != http.StatusBadRequest {
		t.Fatalf("unknown type status = %d, want 400", code)
	}
}

func TestDelete(t *testing.T) {
	store := memory.NewMediaStore()
	cam := models.Camera{ID: "10.0.0.4"}
	assets := seed(t, store, cam, "a.mjpeg", "b.jpg")

	router := newRouter(store, cameras{})

	body := fmt.Sprintf(`{"asset_ids":[%q]}`, assets[0].ID)
	req := httptest.NewRequest(http.MethodDelete, "/media", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d (body %s)", rec.Code, rec.Body)
	}

	if _, left := list(t, router, "/media/10.0.0.4"); len(left) != 1 || left[0].ID != assets[1].ID {
		t.Fatalf("assets after delete = %+v", left)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/media", strings.NewReader(`{"asset_ids":[]}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty delete status = %d, want 400", rec.Code)
	}
}

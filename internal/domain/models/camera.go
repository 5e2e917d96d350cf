package models

import (
	"fmt"
	"strings"

	"github.com/zanzhit/live_recorder/internal/domain/errs"
)

type Status string

const (
	StatusOnline  Status = "Online"
	StatusOffline Status = "Offline"
	StatusUnknown Status = "Unknown"
)

// CameraID is the normalized network address of a camera (host[:port]).
// It is built once at the boundary with NewCameraID.
type CameraID string

var schemes = []string{"ws://", "wss://", "http://", "https://", "rtsp://"}

func NewCameraID(raw string) (CameraID, error) {
	addr := strings.TrimSpace(raw)

	lower := strings.ToLower(addr)
	for _, scheme := range schemes {
		if strings.HasPrefix(lower, scheme) {
			addr = addr[len(scheme):]
			break
		}
	}

	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}

	addr = strings.ToLower(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidCameraID, raw)
	}

	return CameraID(addr), nil
}

func (id CameraID) String() string {
	return string(id)
}

// Dir is a filesystem-safe form of the camera address.
func (id CameraID) Dir() string {
	return strings.NewReplacer(":", "_", "[", "", "]", "").Replace(string(id))
}

type Camera struct {
	ID       CameraID `json:"camera_id" db:"camera_id"`
	Name     string   `json:"name" db:"name"`
	Location string   `json:"location" db:"location"`
	RTSPURL  string   `json:"rtsp_url,omitempty" db:"rtsp_url"`
	Status   Status   `json:"status,omitempty" db:"-"`
}

func (c Camera) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}

	return c.ID.String()
}

// AlbumName is the media album collecting the camera's recordings.
func (c Camera) AlbumName() string {
	return "Camera " + c.DisplayName()
}

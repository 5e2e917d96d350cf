package models

import (
	"path/filepath"
	"strings"
	"time"
)

type SessionState string

const (
	StateIdle                   SessionState = "idle"
	StateConnecting             SessionState = "connecting"
	StateRecordingVideo         SessionState = "recording_video"
	StateRecordingImageFallback SessionState = "recording_image_fallback"
	StateFinalizing             SessionState = "finalizing"
)

// Frame is one encoded image as received from the camera. Arrival order is
// the only ordering signal.
type Frame struct {
	Payload    string
	ReceivedAt time.Time
}

type SessionStats struct {
	SessionID        string       `json:"session_id"`
	CameraID         CameraID     `json:"camera_id"`
	State            SessionState `json:"state"`
	StartTime        time.Time    `json:"start_time"`
	DurationSeconds  float64      `json:"duration_seconds"`
	FrameCount       int64        `json:"frame_count"`
	FrameRate        float64      `json:"frame_rate"`
	CurrentFile      string       `json:"current_file,omitempty"`
	CurrentFileBytes int64        `json:"current_file_bytes"`
	TotalBytes       int64        `json:"total_bytes"`
	IsImageFallback  bool         `json:"is_image_fallback"`
	ErrorCount       int          `json:"error_count"`
}

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
	MediaAll   MediaType = ""
)

type Asset struct {
	ID        string    `json:"asset_id" db:"asset_id"`
	Path      string    `json:"path" db:"path"`
	MediaType MediaType `json:"media_type" db:"media_type"`
	Size      int64     `json:"size" db:"size"`
	AlbumID   string    `json:"album_id,omitempty" db:"album_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Album struct {
	ID   string `json:"album_id" db:"album_id"`
	Name string `json:"name" db:"name"`
}

// MediaTypeOf classifies a recorded file by extension.
func MediaTypeOf(path string) MediaType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return MediaImage
	default:
		return MediaVideo
	}
}

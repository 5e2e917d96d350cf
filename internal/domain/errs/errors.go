package errs

import "errors"

var (
	ErrInvalidCameraID     = errors.New("invalid camera id")
	ErrCameraNotFound      = errors.New("camera not found")
	ErrCameraAlreadyExists = errors.New("camera already exists")

	ErrPermissionDenied   = errors.New("storage permission denied")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrFrameValidation    = errors.New("frame validation failed")
	ErrWriteFailed        = errors.New("write failed")
	ErrFinalizeFailed     = errors.New("finalize failed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssetNotFound      = errors.New("asset not found")
	ErrAlbumNotFound      = errors.New("album not found")
)

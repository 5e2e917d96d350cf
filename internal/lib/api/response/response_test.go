package response

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

type request struct {
	CameraID string   `json:"camera_id" validate:"required"`
	RTSPURL  string   `json:"rtsp_url" validate:"omitempty,url"`
	AssetIDs []string `json:"asset_ids" validate:"min=1"`
}

func TestValidationError(t *testing.T) {
	err := validator.New().Struct(request{RTSPURL: "not a url"})

	var verr validator.ValidationErrors
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation errors, got %v", err)
	}

	resp := ValidationError(verr)

	for _, want := range []string{
		"field CameraID is a required field",
		"field RTSPURL is not a valid URL",
		"field AssetIDs must have at least 1 items",
	} {
		if !strings.Contains(resp.Error, want) {
			t.Errorf("%q missing from %q", want, resp.Error)
		}
	}
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/zanzhit/live_recorder/internal/lib/api/response"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
)

var validate = validator.New()

func Error(w http.ResponseWriter, r *http.Request, statusCode int, msg string) {
	requestID := ""
	if statusCode >= http.StatusInternalServerError {
		requestID = middleware.GetReqID(r.Context())
	}

	render.Status(r, statusCode)
	render.JSON(w, r, response.Error(msg, requestID))
}

// Decode reads a JSON body into req and validates it. On failure the error
// response is already written and false is returned.
func Decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, req any) bool {
	err := render.DecodeJSON(r.Body, req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Error("request body is empty")

			Error(w, r, http.StatusBadRequest, "empty request")

			return false
		}

		log.Error("failed to decode request body", sl.Err(err))

		Error(w, r, http.StatusBadRequest, "failed to decode request")

		return false
	}

	log.Info("request body decoded", slog.Any("request", req))

	if err := validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if !errors.As(err, &validateErr) {
			log.Error("failed to validate request", sl.Err(err))

			Error(w, r, http.StatusInternalServerError, "failed to validate request")

			return false
		}

		log.Error("invalid request", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(validateErr))

		return false
	}

	return true
}

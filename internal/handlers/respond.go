package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"diagrammer-backend/internal/export"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/observability"
	"diagrammer-backend/internal/services"
	"diagrammer-backend/internal/session"
	"diagrammer-backend/internal/worker"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *services.ValidationError
		conflict   *services.ConflictError
		notFound   *services.NotFoundError
		forbidden  *services.ForbiddenError
		tooLarge   *services.TooLargeError
		generation *services.GenerationError
		exportErr  *export.ExportError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validation.Fields, r))
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLarge.Message, r))
	case errors.Is(err, services.ErrGenerationInFlight):
		writeJSON(w, http.StatusConflict, errorResp("GENERATION_IN_FLIGHT", "A diagram is already being generated. Please wait.", r))
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", conflict.Message, r))
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFound.Message, r))
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", forbidden.Message, r))
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("BUSY", "The server is busy. Please try again shortly.", r))
	case errors.As(err, &generation):
		writeJSON(w, http.StatusBadGateway, errorResp("GENERATION_FAILED", generation.Message, r))
	case errors.Is(err, export.ErrNoContent):
		writeJSON(w, http.StatusConflict, errorResp("NO_CONTENT", "There is no rendered diagram to export.", r))
	case errors.As(err, &exportErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("EXPORT_FAILED", "Export failed: "+exportErr.Err.Error(), r))
	default:
		observability.LoggerFromContext(r.Context()).Error("unhandled service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

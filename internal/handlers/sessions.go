package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"diagrammer-backend/internal/middleware"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/observability"
	"diagrammer-backend/internal/services"
	"diagrammer-backend/internal/session"
	"diagrammer-backend/internal/worker"
)

// multipartOverhead is allowed on top of the document limit for form fields and boundaries.
const multipartOverhead = 1 << 20

var surfaceIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

type sessionStore interface {
	Create(ownerID uuid.UUID, categoryID string) (*session.Session, error)
	Get(id, ownerID uuid.UUID) (*session.Session, error)
	Delete(id, ownerID uuid.UUID) error
}

type jobQueue interface {
	Enqueue(job worker.Job) error
}

type SessionHandler struct {
	store    sessionStore
	jobs     jobQueue
	maxBytes int64
}

func NewSessionHandler(store sessionStore, jobs jobQueue, maxDocumentBytes int64) *SessionHandler {
	return &SessionHandler{store: store, jobs: jobs, maxBytes: maxDocumentBytes}
}

// loadSession resolves the {id} route param for the calling user. It writes the error
// response itself and returns nil when the session is not available.
func (h *SessionHandler) loadSession(w http.ResponseWriter, r *http.Request) *session.Session {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return nil
	}

	s, err := h.store.Get(id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return nil
	}
	return s
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return
		}
	}

	s, err := h.store.Create(middleware.GetUserID(r.Context()), req.Category)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	if err := h.store.Delete(id, middleware.GetUserID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session closed"})
}

func (h *SessionHandler) SelectCategory(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	var req models.SelectCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := s.SelectCategory(r.Context(), req.Category); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// SubmitInstruction accepts either a JSON body or a multipart form with an optional
// "file" attachment. The generation runs in the background; the response carries the
// Generating snapshot and the outcome arrives over the WebSocket.
func (h *SessionHandler) SubmitInstruction(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	text, doc, ok := h.readInstruction(w, r)
	if !ok {
		return
	}

	gen, err := s.StartSubmit(r.Context(), text, doc)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.enqueue(w, r, s, worker.JobDiagramGeneration, gen)
}

func (h *SessionHandler) AcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	gen, err := s.StartAccept(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.enqueue(w, r, s, worker.JobSuggestionAccepted, gen)
}

func (h *SessionHandler) DismissSuggestion(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	if err := s.DismissSuggestion(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) EditMarkup(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	var req models.EditMarkupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := s.EditMarkup(r.Context(), req.Markup); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) DetachDocument(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	if err := s.DetachDocument(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) OpenSurface(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	surfaceID := chi.URLParam(r, "surface")
	if !surfaceIDPattern.MatchString(surfaceID) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid surface ID", r))
		return
	}

	if err := s.OpenSurface(r.Context(), surfaceID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	snap, _ := s.Surface(surfaceID)
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *SessionHandler) GetSurface(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	snap, ok := s.Surface(chi.URLParam(r, "surface"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Surface not found", r))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) CloseSurface(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	if err := s.CloseSurface(r.Context(), chi.URLParam(r, "surface")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Surface closed"})
}

func (h *SessionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	summary, err := s.Summarize(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SummaryResponse{Summary: summary})
}

func (h *SessionHandler) enqueue(w http.ResponseWriter, r *http.Request, s *session.Session, jobType string, gen *session.Generation) {
	err := h.jobs.Enqueue(worker.Job{
		Type:      jobType,
		SessionID: s.ID,
		Run:       gen.Run,
	})
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("generation not queued",
			"session_id", s.ID.String(), "job_type", jobType, "error", err)
		// Abort returns the session to Idle with an error turn.
		gen.Abort(context.WithoutCancel(r.Context()), &services.GenerationError{
			Message: "The server is busy. Please try again shortly.",
			Err:     err,
		})
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

// readInstruction decodes the instruction text and optional document from the request.
func (h *SessionHandler) readInstruction(w http.ResponseWriter, r *http.Request) (string, *models.Document, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req models.SubmitInstructionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return "", nil, false
		}
		return req.Instruction, nil, true
	}

	if h.maxBytes > 0 {
		limit := h.maxBytes + multipartOverhead
		if r.ContentLength > limit {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLargeMessage(h.maxBytes), r))
			return "", nil, false
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLargeMessage(h.maxBytes), r))
		} else {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid form data", r))
		}
		return "", nil, false
	}
	text := r.FormValue("instruction")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return text, nil, true
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid file upload", r))
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Failed to read file", r))
		return "", nil, false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	return text, &models.Document{Name: header.Filename, MIMEType: mimeType, Data: data}, true
}

func tooLargeMessage(limit int64) string {
	return services.NewTooLargeError(limit).Message
}

package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"diagrammer-backend/internal/export"
	"diagrammer-backend/internal/observability"
)

// Export downloads the diagram as svg, png or json. PNG accepts ?background=<css color>.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	s := h.loadSession(w, r)
	if s == nil {
		return
	}

	format := chi.URLParam(r, "format")
	file, err := s.Export(format, export.PNGOptions{Background: r.URL.Query().Get("background")})
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("export failed",
			"session_id", s.ID.String(), "format", format, "error", err)
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", file.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Data)
}

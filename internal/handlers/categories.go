package handlers

import (
	"net/http"

	"diagrammer-backend/internal/models"
)

// ListCategories returns the diagram type vocabulary in display order.
func ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": models.Categories(),
		"default":    models.DefaultCategoryID,
	})
}

package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// HandleImage serves a stored upload by its saved name.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Prevent directory traversal attacks
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		h.writeError(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.config.UploadsDir, name))
}

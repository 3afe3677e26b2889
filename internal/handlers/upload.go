package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/lehigh-university-libraries/pagereader/internal/readonce"
)

// multipart overhead allowed on top of the image itself
const formOverhead = 1 << 20

// HandleUpload accepts one image in the multipart field "file", stores it
// and starts processing in the background.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, readonce.MaxInputBytes+formOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, fmt.Sprintf("File too large (max %dMB)", readonce.MaxInputBytes/1024/1024), http.StatusBadRequest)
			return
		}
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := readonce.ValidateHeader(header.Filename, contentType, header.Size); err != nil {
		var verr *readonce.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, verr.Reason, http.StatusBadRequest)
			return
		}
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fileData, err := io.ReadAll(io.LimitReader(file, readonce.MaxInputBytes+1))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) > readonce.MaxInputBytes {
		h.writeError(w, fmt.Sprintf("File too large (max %dMB)", readonce.MaxInputBytes/1024/1024), http.StatusBadRequest)
		return
	}

	if err := h.ensureDir(h.config.UploadsDir); err != nil {
		h.writeError(w, "Failed to create uploads directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	filename := storedName(header.Filename, contentType, time.Now())
	filePath := filepath.Join(h.config.UploadsDir, filename)
	if err := os.WriteFile(filePath, fileData, 0644); err != nil {
		h.writeError(w, "Failed to save image: "+err.Error(), http.StatusInternalServerError)
		return
	}

	taskID := uuid.NewString()
	h.store.Create(taskID, filename, filePath)
	slog.Info("Image saved", "task_id", taskID, "filename", filename, "bytes", len(fileData))

	h.startProcessing(taskID)

	h.writeJSON(w, models.UploadResponse{
		Success:  true,
		TaskID:   taskID,
		Filename: filename,
		Message:  "File uploaded, processing started",
	})
}

// storedName keeps the uploaded base name, adds a unix timestamp for
// uniqueness and infers the extension from the media type when missing.
func storedName(original, contentType string, now time.Time) string {
	original = filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if original == "." || original == "/" {
		original = ""
	}
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	if base == "" {
		base = "upload"
	}
	if ext == "" {
		ext = readonce.ExtensionFor(contentType)
	}
	return fmt.Sprintf("%s_%d%s", base, now.Unix(), strings.ToLower(ext))
}

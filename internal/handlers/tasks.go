package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

// HandleTask returns the task snapshot. Tasks evicted from memory are
// looked up in the archive when one is configured.
func (h *Handler) HandleTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if task, ok := h.store.Get(taskID); ok {
		h.writeJSON(w, task.Snapshot())
		return
	}

	if h.config.Archive != nil {
		row, found, err := h.config.Archive.Lookup(taskID)
		if err != nil {
			slog.Error("Archive lookup failed", "task_id", taskID, "err", err)
		}
		if found {
			h.writeJSON(w, row.Snapshot())
			return
		}
	}

	h.writeError(w, "task not found", http.StatusNotFound)
}

// HandleTasks lists every in-memory task, oldest first.
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.store.GetAll()
	list := make([]models.TaskSnapshot, 0, len(tasks))
	for _, task := range tasks {
		list = append(list, task.Snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt == list[j].CreatedAt {
			return list[i].TaskID < list[j].TaskID
		}
		return list[i].CreatedAt < list[j].CreatedAt
	})
	h.writeJSON(w, map[string]interface{}{
		"success": true,
		"tasks":   list,
	})
}

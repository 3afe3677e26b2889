package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

type ttsRequest struct {
	Text string `json:"text"`
}

func (h *Handler) synthesizeRequest(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if h.config.Speech == nil {
		h.writeError(w, "speech synthesis is not configured", http.StatusServiceUnavailable)
		return nil, false
	}

	var request ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if strings.TrimSpace(request.Text) == "" {
		h.writeError(w, "text is required", http.StatusBadRequest)
		return nil, false
	}

	audio, err := h.config.Speech.Synthesize(r.Context(), request.Text)
	if err != nil {
		h.writeError(w, "speech synthesis failed: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return audio, true
}

// HandleTTS synthesizes arbitrary text and returns it base64 encoded.
func (h *Handler) HandleTTS(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.synthesizeRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"success":      true,
		"audio_data":   base64.StdEncoding.EncodeToString(audio),
		"audio_format": h.config.Speech.Format(),
	})
}

// HandleTTSAudio synthesizes arbitrary text and returns the raw clip.
func (h *Handler) HandleTTSAudio(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.synthesizeRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", "inline; filename=speech."+h.config.Speech.Format())
	_, _ = w.Write(audio)
}

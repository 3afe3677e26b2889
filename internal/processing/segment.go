package processing

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

// SentencesPerSegment is how many sentences AutoSegment groups into one
// spoken segment.
const SentencesPerSegment = 2

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '.', '\n':
		return true
	}
	return false
}

// AutoSegment splits text into segments of SentencesPerSegment sentences.
// Sentence terminators stay attached to their sentence. Text without any
// terminator is returned as a single segment.
func AutoSegment(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i, r := range text {
		if !isSentenceEnd(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if strings.TrimSpace(text[start:end]) != "" {
			sentences = append(sentences, text[start:end])
		}
		start = end
	}
	if strings.TrimSpace(text[start:]) != "" {
		sentences = append(sentences, text[start:])
	}

	var segments []string
	for i := 0; i < len(sentences); i += SentencesPerSegment {
		end := min(i+SentencesPerSegment, len(sentences))
		segments = append(segments, strings.TrimSpace(strings.Join(sentences[i:end], "")))
	}
	if len(segments) == 0 {
		return []string{text}
	}
	return segments
}

// stripFence removes a surrounding code fence and its language tag, as in
// "```json\n...\n```".
func stripFence(s string) string {
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
		if tag, body, found := strings.Cut(s, "\n"); found && isFenceTag(strings.TrimSpace(tag)) {
			s = body
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '+' || r == '_') {
			return false
		}
	}
	return true
}

// parseProcessedText reads the model's JSON reply. Replies wrapped in a
// code fence or surrounded by prose are tolerated. When no JSON object can
// be found the whole reply is treated as the main text.
func parseProcessedText(raw string) *models.ProcessedText {
	var out struct {
		Instruction string   `json:"instruction"`
		MainText    string   `json:"main_text"`
		Segments    []string `json:"segments"`
		Translation string   `json:"translation"`
	}

	cleaned := strings.TrimSpace(raw)
	first := strings.Index(cleaned, "{")
	last := strings.LastIndex(cleaned, "}")
	if first == -1 || last <= first || json.Unmarshal([]byte(cleaned[first:last+1]), &out) != nil {
		out.MainText = stripFence(cleaned)
	}

	pt := &models.ProcessedText{
		Instruction:  strings.TrimSpace(out.Instruction),
		MainText:     strings.TrimSpace(out.MainText),
		OriginalText: strings.TrimSpace(out.MainText),
		Translation:  strings.TrimSpace(out.Translation),
	}
	for _, s := range out.Segments {
		if s = strings.TrimSpace(s); s != "" {
			pt.Segments = append(pt.Segments, s)
		}
	}
	if len(pt.Segments) == 0 {
		pt.Segments = AutoSegment(pt.MainText)
	}
	return pt
}

package models

import "time"

// TaskStatus is the overall state of a remote processing task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names one of the three remote processing phases
type Stage string

const (
	StageOCR            Stage = "ocr"
	StageTextProcessing Stage = "text_processing"
	StageTTS            Stage = "tts"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageOCR, StageTextProcessing, StageTTS}

// StageStatus is the state of a single stage
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
)

func (s StageStatus) rank() int {
	switch s {
	case StageProcessing:
		return 1
	case StageCompleted:
		return 2
	default:
		return 0
	}
}

// Progress holds per-stage status as reported by the job service
type Progress struct {
	OCR            StageStatus `json:"ocr"`
	TextProcessing StageStatus `json:"text_processing"`
	TTS            StageStatus `json:"tts"`
}

// NewProgress returns a Progress with every stage pending.
func NewProgress() Progress {
	return Progress{OCR: StagePending, TextProcessing: StagePending, TTS: StagePending}
}

// Get returns the status for stage.
func (p Progress) Get(stage Stage) StageStatus {
	switch stage {
	case StageOCR:
		return p.OCR
	case StageTextProcessing:
		return p.TextProcessing
	case StageTTS:
		return p.TTS
	}
	return ""
}

// Advance moves stage forward to status. Regressions are refused and
// reported as false; the receiver is left untouched in that case.
func (p *Progress) Advance(stage Stage, status StageStatus) bool {
	if status.rank() < p.Get(stage).rank() {
		return false
	}
	switch stage {
	case StageOCR:
		p.OCR = status
	case StageTextProcessing:
		p.TextProcessing = status
	case StageTTS:
		p.TTS = status
	default:
		return false
	}
	return true
}

// Completed returns the stages that reached StageCompleted, in pipeline order.
func (p Progress) Completed() []Stage {
	var done []Stage
	for _, stage := range Stages {
		if p.Get(stage) == StageCompleted {
			done = append(done, stage)
		}
	}
	return done
}

// AllCompleted reports whether every stage is completed.
func (p Progress) AllCompleted() bool {
	return len(p.Completed()) == len(Stages)
}

// RegressesFrom reports whether any stage in p is behind the same stage in prev.
func (p Progress) RegressesFrom(prev Progress) bool {
	for _, stage := range Stages {
		if p.Get(stage).rank() < prev.Get(stage).rank() {
			return true
		}
	}
	return false
}

// TaskSnapshot is the status payload returned by GET /api/task/{id}
type TaskSnapshot struct {
	Success   bool        `json:"success"`
	TaskID    string      `json:"task_id"`
	Filename  string      `json:"filename"`
	Status    TaskStatus  `json:"status"`
	Progress  Progress    `json:"progress"`
	CreatedAt string      `json:"created_at,omitempty"`
	UpdatedAt string      `json:"updated_at,omitempty"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// TaskResult is present only when the task completed
type TaskResult struct {
	OCR           OCRResult         `json:"ocr"`
	ProcessedText *ProcessedText    `json:"processed_text,omitempty"`
	AudioURLs     map[string]string `json:"audio_urls,omitempty"`
}

// OCRResult is the recognized text of the submitted composite
type OCRResult struct {
	FullText   string      `json:"full_text"`
	TextBlocks []TextBlock `json:"text_blocks"`
	Language   []Language  `json:"language,omitempty"`
}

type TextBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Language struct {
	LanguageCode string  `json:"languageCode"`
	Confidence   float64 `json:"confidence"`
}

// ProcessedText is the cleaned and segmented reading text
type ProcessedText struct {
	Instruction  string   `json:"instruction,omitempty"`
	MainText     string   `json:"main_text,omitempty"`
	Segments     []string `json:"segments,omitempty"`
	OriginalText string   `json:"japanese_text,omitempty"`
	Translation  string   `json:"chinese_translation,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	Success  bool   `json:"success"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// UploadHandle identifies the task created by one successful submission.
type UploadHandle struct {
	TaskID         string
	SourceFilename string
}

// Task is the job service's record of one submission
type Task struct {
	ID        string
	Filename  string
	FilePath  string
	Status    TaskStatus
	Progress  Progress
	Result    *TaskResult
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot renders the task in its wire form. Result and Error are
// included only for the matching terminal status.
func (t *Task) Snapshot() TaskSnapshot {
	snap := TaskSnapshot{
		Success:   true,
		TaskID:    t.ID,
		Filename:  t.Filename,
		Status:    t.Status,
		Progress:  t.Progress,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
	if t.Status == StatusCompleted && t.Result != nil {
		snap.Result = t.Result
	}
	if t.Status == StatusFailed && t.Error != "" {
		snap.Error = t.Error
	}
	return snap
}

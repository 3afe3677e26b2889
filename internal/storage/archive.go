package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/parquet-go/parquet-go"
)

// ArchivedTask is the parquet row written for an evicted task
type ArchivedTask struct {
	TaskID         string `parquet:"task_id"`
	Filename       string `parquet:"filename"`
	Status         string `parquet:"status"`
	OCR            string `parquet:"ocr"`
	TextProcessing string `parquet:"text_processing"`
	TTS            string `parquet:"tts"`
	FullText       string `parquet:"full_text"`
	MainText       string `parquet:"main_text"`
	SegmentCount   int    `parquet:"segment_count"`
	AudioCount     int    `parquet:"audio_count"`
	Error          string `parquet:"error"`
	CreatedAt      int64  `parquet:"created_at"`
	UpdatedAt      int64  `parquet:"updated_at"`
}

func archivedFrom(t models.Task) ArchivedTask {
	row := ArchivedTask{
		TaskID:         t.ID,
		Filename:       t.Filename,
		Status:         string(t.Status),
		OCR:            string(t.Progress.OCR),
		TextProcessing: string(t.Progress.TextProcessing),
		TTS:            string(t.Progress.TTS),
		Error:          t.Error,
		CreatedAt:      t.CreatedAt.UnixMilli(),
		UpdatedAt:      t.UpdatedAt.UnixMilli(),
	}
	if t.Result != nil {
		row.FullText = t.Result.OCR.FullText
		row.AudioCount = len(t.Result.AudioURLs)
		if t.Result.ProcessedText != nil {
			row.MainText = t.Result.ProcessedText.MainText
			row.SegmentCount = len(t.Result.ProcessedText.Segments)
		}
	}
	return row
}

// Snapshot renders an archived row in wire form. A completed task gets a
// reduced result holding the OCR text and the main text; text blocks,
// segments and audio links are not archived.
func (a ArchivedTask) Snapshot() models.TaskSnapshot {
	snap := models.TaskSnapshot{
		Success:  true,
		TaskID:   a.TaskID,
		Filename: a.Filename,
		Status:   models.TaskStatus(a.Status),
		Progress: models.Progress{
			OCR:            models.StageStatus(a.OCR),
			TextProcessing: models.StageStatus(a.TextProcessing),
			TTS:            models.StageStatus(a.TTS),
		},
		CreatedAt: time.UnixMilli(a.CreatedAt).Format(time.RFC3339),
		UpdatedAt: time.UnixMilli(a.UpdatedAt).Format(time.RFC3339),
		Error:     a.Error,
	}
	if snap.Status == models.StatusCompleted {
		result := &models.TaskResult{OCR: models.OCRResult{FullText: a.FullText}}
		if a.MainText != "" {
			result.ProcessedText = &models.ProcessedText{MainText: a.MainText, OriginalText: a.MainText}
		}
		snap.Result = result
	}
	return snap
}

// Archive writes evicted tasks to parquet files in one directory, one file
// per eviction batch.
type Archive struct {
	dir string
	mu  sync.Mutex
}

func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

func (a *Archive) Dir() string { return a.dir }

// Write stores tasks in a new parquet file and returns its path.
func (a *Archive) Write(tasks []models.Task) (string, error) {
	if len(tasks) == 0 {
		return "", nil
	}
	rows := make([]ArchivedTask, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, archivedFrom(t))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.dir, fmt.Sprintf("tasks-%d.parquet", time.Now().UnixNano()))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("failed to write parquet archive: %w", err)
	}
	slog.Debug("Archived tasks", "path", path, "rows", len(rows))
	return path, nil
}

// Lookup searches the archive, newest file first, for taskID.
func (a *Archive) Lookup(taskID string) (ArchivedTask, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return ArchivedTask{}, false, fmt.Errorf("failed to read archive directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
			files = append(files, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, name := range files {
		rows, err := ReadArchiveFile(filepath.Join(a.dir, name))
		if err != nil {
			slog.Warn("Skipping unreadable archive file", "file", name, "err", err)
			continue
		}
		for _, row := range rows {
			if row.TaskID == taskID {
				return row, true, nil
			}
		}
	}
	return ArchivedTask{}, false, nil
}

// ReadArchiveFile loads every row of one archive file.
func ReadArchiveFile(path string) ([]ArchivedTask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[ArchivedTask](pf)
	defer reader.Close()

	var records []ArchivedTask
	rows := make([]ArchivedTask, 128)
	for {
		n, err := reader.Read(rows)
		records = append(records, rows[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}

package models

import (
	"reflect"
	"testing"
	"time"
)

func TestProgressAdvance(t *testing.T) {
	tests := []struct {
		name   string
		start  StageStatus
		to     StageStatus
		want   StageStatus
		wantOK bool
	}{
		{name: "pending to processing", start: StagePending, to: StageProcessing, want: StageProcessing, wantOK: true},
		{name: "processing to completed", start: StageProcessing, to: StageCompleted, want: StageCompleted, wantOK: true},
		{name: "pending straight to completed", start: StagePending, to: StageCompleted, want: StageCompleted, wantOK: true},
		{name: "completed stays completed", start: StageCompleted, to: StageCompleted, want: StageCompleted, wantOK: true},
		{name: "completed never reverts", start: StageCompleted, to: StageProcessing, want: StageCompleted, wantOK: false},
		{name: "processing never reverts", start: StageProcessing, to: StagePending, want: StageProcessing, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgress()
			p.TextProcessing = tt.start
			ok := p.Advance(StageTextProcessing, tt.to)
			if ok != tt.wantOK {
				t.Errorf("Expected %v, got %v", tt.wantOK, ok)
			}
			if p.TextProcessing != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, p.TextProcessing)
			}
			if p.OCR != StagePending || p.TTS != StagePending {
				t.Errorf("Expected other stages untouched, got %+v", p)
			}
		})
	}
}

func TestProgressCompleted(t *testing.T) {
	p := Progress{OCR: StageCompleted, TextProcessing: StageProcessing, TTS: StageCompleted}
	want := []Stage{StageOCR, StageTTS}
	if got := p.Completed(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if p.AllCompleted() {
		t.Errorf("Expected not all completed")
	}
	p.Advance(StageTextProcessing, StageCompleted)
	if !p.AllCompleted() {
		t.Errorf("Expected all completed")
	}
}

func TestRegressesFrom(t *testing.T) {
	prev := Progress{OCR: StageCompleted, TextProcessing: StageProcessing, TTS: StagePending}
	tests := []struct {
		name string
		next Progress
		want bool
	}{
		{name: "same", next: prev, want: false},
		{name: "forward", next: Progress{OCR: StageCompleted, TextProcessing: StageCompleted, TTS: StageProcessing}, want: false},
		{name: "ocr back to processing", next: Progress{OCR: StageProcessing, TextProcessing: StageProcessing, TTS: StagePending}, want: true},
		{name: "one forward one back", next: Progress{OCR: StageCompleted, TextProcessing: StagePending, TTS: StageCompleted}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.RegressesFrom(prev); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTaskSnapshot(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	result := &TaskResult{OCR: OCRResult{FullText: "ねこ"}}

	tests := []struct {
		name       string
		task       Task
		wantResult bool
		wantError  string
	}{
		{
			name:       "completed carries result only",
			task:       Task{ID: "a", Status: StatusCompleted, Result: result, Error: "stale", CreatedAt: created, UpdatedAt: created},
			wantResult: true,
		},
		{
			name:      "failed carries error only",
			task:      Task{ID: "b", Status: StatusFailed, Result: result, Error: "OCR failed", CreatedAt: created, UpdatedAt: created},
			wantError: "OCR failed",
		},
		{
			name: "processing carries neither",
			task: Task{ID: "c", Status: StatusProcessing, Result: result, Error: "x", CreatedAt: created, UpdatedAt: created},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.task.Snapshot()
			if (snap.Result != nil) != tt.wantResult {
				t.Errorf("Expected result present=%v, got %v", tt.wantResult, snap.Result != nil)
			}
			if snap.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, snap.Error)
			}
			if snap.CreatedAt != "2024-05-01T09:30:00Z" {
				t.Errorf("Expected RFC3339 timestamp, got %s", snap.CreatedAt)
			}
			if !snap.Success || snap.TaskID != tt.task.ID {
				t.Errorf("Unexpected snapshot header: %+v", snap)
			}
		})
	}
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"gopkg.in/yaml.v3"
)

// Submission describes what was sent to the service
type Submission struct {
	TaskID   string `yaml:"taskid"`
	Filename string `yaml:"filename"`
	Shots    int    `yaml:"shots"`
	Width    int    `yaml:"width,omitempty"`
	Height   int    `yaml:"height,omitempty"`
	Bytes    int    `yaml:"bytes"`
	Server   string `yaml:"server"`
}

// Stages records the final per-stage status
type Stages struct {
	OCR            string `yaml:"ocr"`
	TextProcessing string `yaml:"text_processing"`
	TTS            string `yaml:"tts"`
}

// Audio is one synthesized clip
type Audio struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Result is the reading result of a completed task
type Result struct {
	FullText    string   `yaml:"fulltext"`
	Instruction string   `yaml:"instruction,omitempty"`
	MainText    string   `yaml:"maintext,omitempty"`
	Segments    []string `yaml:"segments,omitempty"`
	Translation string   `yaml:"translation,omitempty"`
	Audio       []Audio  `yaml:"audio,omitempty"`
}

// Report is the complete run report
type Report struct {
	Submission Submission `yaml:"submission"`
	Status     string     `yaml:"status"`
	Stages     Stages     `yaml:"stages"`
	Error      string     `yaml:"error,omitempty"`
	Result     *Result    `yaml:"result,omitempty"`
	Timestamp  string     `yaml:"timestamp"`
}

// Build assembles a report from the submission and the final snapshot.
// snap may be nil when polling never produced one.
func Build(sub Submission, snap *models.TaskSnapshot, pollErr error) Report {
	r := Report{
		Submission: sub,
		Timestamp:  time.Now().Format("2006-01-02_15-04-05"),
	}
	if pollErr != nil {
		r.Error = pollErr.Error()
	}
	if snap == nil {
		r.Status = "unknown"
		return r
	}

	r.Status = string(snap.Status)
	r.Stages = Stages{
		OCR:            string(snap.Progress.OCR),
		TextProcessing: string(snap.Progress.TextProcessing),
		TTS:            string(snap.Progress.TTS),
	}
	if snap.Error != "" && r.Error == "" {
		r.Error = snap.Error
	}
	if snap.Result == nil {
		return r
	}

	res := &Result{FullText: snap.Result.OCR.FullText}
	if pt := snap.Result.ProcessedText; pt != nil {
		res.Instruction = pt.Instruction
		res.MainText = pt.MainText
		res.Segments = pt.Segments
		res.Translation = pt.Translation
	}
	names := make([]string, 0, len(snap.Result.AudioURLs))
	for name := range snap.Result.AudioURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res.Audio = append(res.Audio, Audio{Name: name, URL: snap.Result.AudioURLs[name]})
	}
	r.Result = res
	return r
}

// Write saves the report as YAML at path, creating parent directories.
func Write(path string, r Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/lehigh-university-libraries/pagereader/internal/poller"
	"github.com/lehigh-university-libraries/pagereader/internal/report"
	"github.com/lehigh-university-libraries/pagereader/internal/tasks"
	"github.com/spf13/cobra"
)

// trackFlags are shared by every command that talks to the service.
type trackFlags struct {
	apiURL   string
	interval time.Duration
	report   string
	copy     bool
	retries  int
}

func (f *trackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiURL, "api-url", "", "Reading service URL (env PAGEREADER_API_URL, default "+tasks.DefaultBaseURL+")")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Status poll interval (env PAGEREADER_POLL_INTERVAL, default 1s)")
	cmd.Flags().StringVar(&f.report, "report", "", "Write the final result as YAML to this path")
	cmd.Flags().BoolVar(&f.copy, "copy", false, "Copy the recognized text to the clipboard")
}

// resolve fills unset flags from the environment. It runs after the root
// command loaded .env.
func (f *trackFlags) resolve() {
	if f.apiURL == "" {
		f.apiURL = envOr("PAGEREADER_API_URL", tasks.DefaultBaseURL)
	}
	if f.interval <= 0 {
		f.interval = envDuration("PAGEREADER_POLL_INTERVAL", poller.DefaultInterval)
	}
}

// confirmFunc asks whether a failed upload should be tried again.
type confirmFunc func(err error) bool

// promptConfirm asks on out and reads a y/n answer from in.
func promptConfirm(in io.Reader, out io.Writer) confirmFunc {
	reader := bufio.NewReader(in)
	return func(err error) bool {
		fmt.Fprintf(out, "%s\nRetry upload? [y/N] ", UserMessage(err))
		line, readErr := reader.ReadString('\n')
		if readErr != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// retryTimes retries automatically up to n times.
func retryTimes(n int) confirmFunc {
	return func(err error) bool {
		if n <= 0 {
			return false
		}
		n--
		return true
	}
}

// submitArtifact uploads art, reusing the same bytes on every retry.
// Only transport failures are offered for retry.
func submitArtifact(ctx context.Context, client *tasks.Client, art compositor.Artifact, confirm confirmFunc) (models.UploadHandle, error) {
	for attempt := 1; ; attempt++ {
		handle, err := client.Submit(ctx, art)
		if err == nil {
			return handle, nil
		}
		var submitErr *tasks.SubmitError
		if !errors.As(err, &submitErr) || !submitErr.Retryable() || ctx.Err() != nil {
			return models.UploadHandle{}, err
		}
		slog.Warn("Upload failed", "attempt", attempt, "err", err)
		if confirm == nil || !confirm(err) {
			return models.UploadHandle{}, err
		}
	}
}

// progressPrinter writes one line each time the visible progress changes.
type progressPrinter struct {
	out  io.Writer
	mu   sync.Mutex
	last string
}

func (p *progressPrinter) handle(s poller.State, _ func()) {
	line := progressLine(s)
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.out, line)
}

func stageMark(status models.StageStatus) string {
	switch status {
	case models.StageCompleted:
		return "done"
	case models.StageProcessing:
		return "running"
	default:
		return "waiting"
	}
}

func progressLine(s poller.State) string {
	if s.Snapshot == nil {
		return fmt.Sprintf("task %s: %s", s.TaskID, s.Phase)
	}
	p := s.Snapshot.Progress
	return fmt.Sprintf("task %s: %-10s ocr=%s text=%s tts=%s",
		s.TaskID, s.Snapshot.Status,
		stageMark(p.OCR), stageMark(p.TextProcessing), stageMark(p.TTS))
}

// track polls handle to a terminal state, prints the outcome and writes
// the optional report.
func track(ctx context.Context, out io.Writer, client *tasks.Client, handle models.UploadHandle, flags trackFlags, sub report.Submission) error {
	printer := &progressPrinter{out: out}
	p := poller.New(client.Status,
		poller.WithInterval(flags.interval),
		poller.WithHandler(printer.handle),
	)
	if err := p.Start(ctx, handle); err != nil {
		return err
	}
	final, waitErr := p.Wait(ctx)
	p.Stop()

	var pollErr error
	switch {
	case final.Err != nil:
		pollErr = final.Err
	case waitErr != nil:
		pollErr = waitErr
	case final.Phase == poller.PhaseStopped:
		pollErr = context.Canceled
	}

	sub.TaskID = handle.TaskID
	sub.Server = client.BaseURL()
	if flags.report != "" {
		if err := report.Write(flags.report, report.Build(sub, final.Snapshot, pollErr)); err != nil {
			slog.Error("Failed to write report", "path", flags.report, "err", err)
		} else {
			fmt.Fprintf(out, "Report saved to: %s\n", flags.report)
		}
	}

	if pollErr != nil {
		return pollErr
	}

	printResult(out, client.BaseURL(), final.Snapshot)
	if flags.copy {
		if err := clipboard.WriteAll(readingText(final.Snapshot)); err != nil {
			slog.Warn("Failed to copy text to clipboard", "err", err)
		} else {
			fmt.Fprintln(out, "Text copied to clipboard")
		}
	}
	return nil
}

// readingText prefers the cleaned main text over the raw OCR text.
func readingText(snap *models.TaskSnapshot) string {
	if snap == nil || snap.Result == nil {
		return ""
	}
	if pt := snap.Result.ProcessedText; pt != nil && pt.MainText != "" {
		return pt.MainText
	}
	return snap.Result.OCR.FullText
}

func printResult(out io.Writer, baseURL string, snap *models.TaskSnapshot) {
	if snap == nil || snap.Result == nil {
		return
	}
	res := snap.Result
	fmt.Fprintln(out)
	if pt := res.ProcessedText; pt != nil {
		if pt.Instruction != "" {
			fmt.Fprintf(out, "Instruction: %s\n\n", pt.Instruction)
		}
		fmt.Fprintln(out, readingText(snap))
		for i, seg := range pt.Segments {
			fmt.Fprintf(out, "  %d. %s\n", i+1, seg)
		}
		if pt.Translation != "" {
			fmt.Fprintf(out, "\nTranslation: %s\n", pt.Translation)
		}
	} else {
		fmt.Fprintln(out, res.OCR.FullText)
	}

	if len(res.AudioURLs) == 0 {
		return
	}
	names := make([]string, 0, len(res.AudioURLs))
	for name := range res.AudioURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "\nAudio:")
	for _, name := range names {
		fmt.Fprintf(out, "  %-12s %s\n", name, absoluteURL(baseURL, res.AudioURLs[name]))
	}
}

func absoluteURL(baseURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(ref, "/")
}

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/lehigh-university-libraries/pagereader/internal/capture"
	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/readonce"
	"github.com/lehigh-university-libraries/pagereader/internal/report"
	"github.com/lehigh-university-libraries/pagereader/internal/tasks"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var flags trackFlags
	var maxShots int
	var savePath string

	cmd := &cobra.Command{
		Use:   "submit <image|url>...",
		Short: "Merge images of a page and have them read",
		Long: `Reads each image once, merges them top to bottom in the order given and
uploads the result to the reading service, then follows the task until it
completes or fails.

A single image is uploaded unchanged. Accepted formats are PNG, JPEG,
HEIC/HEIF, GIF and BMP up to 10MB each.`,
		Example: `  # Read one page
  pagereader submit page.jpg

  # Merge the top and bottom half of a page and save the result
  pagereader submit top.jpg bottom.jpg --report result.yaml

  # Use an image from the web and copy the text
  pagereader submit https://example.org/page.png --copy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve()
			if maxShots <= 0 {
				maxShots = envInt("PAGEREADER_MAX_SHOTS", capture.DefaultMaxShots)
			}
			return friendly(runSubmit(cmd.Context(), cmd, args, flags, maxShots, savePath))
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "Times to retry an upload that could not reach the service")
	cmd.Flags().IntVar(&maxShots, "max-shots", 0, "Maximum number of images (env PAGEREADER_MAX_SHOTS, default 10)")
	cmd.Flags().StringVarP(&savePath, "save", "o", "", "Also save the merged image to this path")

	return cmd
}

func runSubmit(ctx context.Context, cmd *cobra.Command, args []string, flags trackFlags, maxShots int, savePath string) error {
	session := capture.New(nil, capture.WithMaxShots(maxShots))
	defer session.Close()

	httpClient := &http.Client{}
	for _, arg := range args {
		in, err := openInput(ctx, httpClient, arg)
		if err != nil {
			return err
		}
		if _, err := session.AddInput(in); err != nil {
			return err
		}
	}

	art, err := session.Finish(ctx)
	if err != nil {
		return err
	}
	return submitAndTrack(ctx, cmd, art, len(args), flags, savePath, retryTimes(flags.retries))
}

func openInput(ctx context.Context, client *http.Client, arg string) (*readonce.Input, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return readonce.OpenURL(ctx, client, arg)
	}
	return readonce.OpenFile(arg)
}

// submitAndTrack is the tail shared by submit and capture.
func submitAndTrack(ctx context.Context, cmd *cobra.Command, art compositor.Artifact, shots int, flags trackFlags, savePath string, confirm confirmFunc) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Prepared %s (%dx%d, %d bytes) from %d image(s)\n", art.Filename, art.Width, art.Height, len(art.Bytes), shots)

	if savePath != "" {
		if err := os.WriteFile(savePath, art.Bytes, 0644); err != nil {
			return fmt.Errorf("failed to save merged image: %w", err)
		}
		fmt.Fprintf(out, "Merged image saved to: %s\n", savePath)
	}

	client := tasks.NewClient(flags.apiURL)
	handle, err := submitArtifact(ctx, client, art, confirm)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded as %s, task %s\n", handle.SourceFilename, handle.TaskID)

	return track(ctx, out, client, handle, flags, report.Submission{
		Filename: handle.SourceFilename,
		Shots:    shots,
		Width:    art.Width,
		Height:   art.Height,
		Bytes:    len(art.Bytes),
	})
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/pagereader/internal/camera"
	"github.com/lehigh-university-libraries/pagereader/internal/capture"
	"github.com/spf13/cobra"
)

const captureHelp = `Commands:
  s, <enter>   take a shot
  c            start the camera without taking a shot
  a <path>     add an image file
  l            list shots
  d <n>        delete shot n
  f            finish: merge, upload and wait for the result
  q            quit without uploading`

func newCaptureCmd() *cobra.Command {
	var flags trackFlags
	var device string
	var maxShots int
	var savePath string
	cfg := camera.DefaultConfig()
	var facing string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take one or more shots of a page with a camera and have them read",
		Long: `Opens a camera and takes shots on request. Each shot is added below the
previous one; when finished the shots are merged, uploaded and followed
until the task completes.

Camera devices:
  http://host/snapshot.jpg   a network camera's still image endpoint
  screen                     the primary display
  screen:x,y,w,h             a region of the primary display
  gocv:<index>               a local video device (builds with -tags gocv)`,
		Example: `  # Use a phone running an IP camera app
  PAGEREADER_CAMERA=http://192.168.1.20:8080/shot.jpg pagereader capture

  # Capture a region of the screen
  pagereader capture --camera screen:0,0,1280,1600 --report result.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve()
			if device == "" {
				device = envOr("PAGEREADER_CAMERA", "")
			}
			if maxShots <= 0 {
				maxShots = envInt("PAGEREADER_MAX_SHOTS", capture.DefaultMaxShots)
			}
			cfg.Facing = camera.Facing(facing)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return friendly(runCapture(cmd.Context(), cmd, device, cfg, maxShots, flags, savePath))
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&device, "camera", "", "Camera device (env PAGEREADER_CAMERA)")
	cmd.Flags().StringVar(&facing, "facing", string(cfg.Facing), "Preferred camera: environment or user")
	cmd.Flags().IntVar(&cfg.Width, "width", cfg.Width, "Preferred frame width")
	cmd.Flags().IntVar(&cfg.Height, "height", cfg.Height, "Preferred frame height")
	cmd.Flags().IntVar(&maxShots, "max-shots", 0, "Maximum number of shots (env PAGEREADER_MAX_SHOTS, default 10)")
	cmd.Flags().StringVarP(&savePath, "save", "o", "", "Also save the merged image to this path")

	return cmd
}

func runCapture(ctx context.Context, cmd *cobra.Command, spec string, cfg camera.Config, maxShots int, flags trackFlags, savePath string) error {
	var source *camera.Source
	if spec != "" {
		device, err := camera.ParseDevice(spec)
		if err != nil {
			return err
		}
		source = camera.NewSource(device, cfg, slog.Default())
	}

	session := capture.New(source, capture.WithMaxShots(maxShots))
	defer session.Close()

	out := cmd.OutOrStdout()
	if err := session.Open(ctx); err != nil {
		// Files can still be added without a camera.
		fmt.Fprintln(out, UserMessage(err))
	}
	if source != nil {
		fmt.Fprintf(out, "Camera %s is %s\n", source.Device().Name(), source.State())
	}
	fmt.Fprintln(out, captureHelp)

	in := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprintf(out, "[%d/%d]> ", len(session.Shots()), session.MaxShots())
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return fmt.Errorf("failed to read command: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch command {
		case "", "s":
			shot, err := session.Capture(ctx)
			if err != nil {
				fmt.Fprintln(out, UserMessage(err))
				continue
			}
			fmt.Fprintf(out, "Captured %s (%d bytes)\n", shot.Name, len(shot.Preview()))
		case "c":
			if source == nil {
				fmt.Fprintln(out, UserMessage(capture.ErrNoCamera))
				continue
			}
			if err := source.Start(ctx); err != nil {
				fmt.Fprintln(out, UserMessage(err))
				continue
			}
			fmt.Fprintf(out, "Camera %s is %s\n", source.Device().Name(), source.State())
		case "a":
			input, err := openInput(ctx, nil, arg)
			if err == nil {
				_, err = session.AddInput(input)
			}
			if err != nil {
				fmt.Fprintln(out, UserMessage(err))
				continue
			}
			fmt.Fprintf(out, "Added %s\n", arg)
		case "l":
			listShots(out, session)
		case "d":
			n, err := strconv.Atoi(arg)
			shots := session.Shots()
			if err != nil || n < 1 || n > len(shots) {
				fmt.Fprintf(out, "No shot %q\n", arg)
				continue
			}
			session.Remove(shots[n-1].ID)
			fmt.Fprintf(out, "Deleted shot %d\n", n)
		case "f":
			shots := len(session.Shots())
			if shots == 0 {
				fmt.Fprintln(out, "Take or select at least one image first.")
				continue
			}
			art, err := session.Finish(ctx)
			if err != nil {
				return err
			}
			return submitAndTrack(ctx, cmd, art, shots, flags, savePath, promptConfirm(in, out))
		case "q":
			return nil
		default:
			fmt.Fprintln(out, captureHelp)
		}
	}
}

func listShots(out io.Writer, session *capture.Session) {
	shots := session.Shots()
	if len(shots) == 0 {
		fmt.Fprintln(out, "No shots yet")
		return
	}
	for i, shot := range shots {
		state := "reading"
		switch {
		case shot.Err() != nil:
			state = "unreadable: " + UserMessage(shot.Err())
		case shot.Decoded():
			state = "ready"
		}
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, shot.Name, state)
	}
}

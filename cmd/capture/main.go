package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/iacamera/iacamera/internal/capture"
	"github.com/iacamera/iacamera/internal/logging"
	"github.com/spf13/cobra"
)

type captureFlags struct {
	server      string
	name        string
	theme       string
	page        int
	source      string
	count       int
	interval    time.Duration
	interactive bool
	quality     int
	timeout     time.Duration
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &captureFlags{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames and upload them to the ingestion service",
		Long: `capture grabs stills from a camera source and posts each one to
POST <server>/images under the given name, theme and page. The page
advances after every successful upload.

A file source is re-read on every capture; a directory source serves
its images one per capture in name order.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(f.logLevel, "text")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.server, "server", "s", "http://localhost:5000", "ingestion service base URL")
	fl.StringVarP(&f.name, "name", "n", "", "document name (nom)")
	fl.StringVarP(&f.theme, "theme", "t", "", "theme the capture is filed under")
	fl.IntVarP(&f.page, "page", "p", 1, "first page number")
	fl.StringVar(&f.source, "source", "", "image file or directory of images to capture from")
	fl.IntVarP(&f.count, "count", "c", 0, "number of captures (0: one for a file, all for a directory)")
	fl.DurationVar(&f.interval, "interval", 0, "pause between captures")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "capture on Enter; see 'help' at the prompt")
	fl.IntVar(&f.quality, "quality", capture.DefaultJPEGQuality, "JPEG quality (1-100)")
	fl.DurationVar(&f.timeout, "timeout", 2*time.Minute, "per-upload timeout")
	fl.StringVar(&f.logLevel, "log-level", "WARN", "log level")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func run(ctx context.Context, f *captureFlags, in io.Reader, out io.Writer) error {
	cam, frames, err := openCamera(f.source)
	if err != nil {
		return err
	}

	session := capture.NewSession(cam,
		capture.NewHTTPUploader(f.server, &http.Client{Timeout: f.timeout}),
		capture.Options{
			JPEGQuality: f.quality,
			OnStatus: func(st capture.Status) {
				if st.Kind != capture.StatusNone {
					fmt.Fprintf(out, "[%s] %s\n", st.Kind, st.Message)
				}
			},
		})
	defer session.Close()
	session.SetName(f.name)
	session.SetTheme(f.theme)
	session.SetPage(f.page)

	if f.interactive {
		return interactive(ctx, session, in, out)
	}

	n := f.count
	if n <= 0 {
		n = frames
	}
	failed := 0
	for i := 0; i < n; i++ {
		if i > 0 && f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		}
		page := session.Page()
		stored, err := session.Capture(ctx)
		switch {
		case errors.Is(err, capture.ErrNoMoreFrames):
			return reportFailures(failed)
		case err != nil:
			var verr *capture.ValidationError
			if errors.As(err, &verr) {
				return err
			}
			failed++
		default:
			fmt.Fprintf(out, "page %d -> %s (id %d)\n", page, stored.StoragePath, stored.ID)
		}
	}
	return reportFailures(failed)
}

func reportFailures(n int) error {
	if n > 0 {
		return fmt.Errorf("%d capture(s) failed", n)
	}
	return nil
}

// openCamera picks a camera for path and the default number of captures.
func openCamera(path string) (capture.Camera, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return capture.FileCamera{Path: path}, 1, nil
	}
	cam, err := capture.NewDirCamera(path)
	if err != nil {
		return nil, 0, err
	}
	return cam, cam.Remaining(), nil
}

const interactiveHelp = `commands:
  <Enter>        capture and upload
  name <nom>     set the document name
  theme <theme>  set the theme
  page <n>       set the next page number
  show           print the current metadata
  quit           exit`

func interactive(ctx context.Context, s *capture.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, interactiveHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "page %d> ", s.Page())
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
			if _, err := s.Capture(ctx); errors.Is(err, capture.ErrBusy) {
				fmt.Fprintln(out, "upload still in progress")
			}
		case "name":
			s.SetName(arg)
		case "theme":
			s.SetTheme(arg)
		case "page":
			n, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Fprintln(out, "page must be a number")
				continue
			}
			s.SetPage(n)
		case "show":
			fmt.Fprintf(out, "nom=%q theme=%q page=%d status=%s\n", s.Name(), s.Theme(), s.Page(), s.Status().Kind)
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(out, interactiveHelp)
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
}

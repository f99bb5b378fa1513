// Command tomato is the terminal client for the tomato freshness backend.
//
//	tomato [flags]                  interactive mode
//	tomato [flags] analyze FILE...  analyse files and print the detections
//	tomato [flags] camera           print the backend's camera status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/backend"
	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/logging"
	"github.com/example/tomato-check/internal/render"
	"github.com/example/tomato-check/internal/session"
	"github.com/example/tomato-check/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	backendURL string
	timeout    time.Duration
	jsonOutput bool
	plain      bool
	logLevel   string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tomato", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaultURL := os.Getenv("BACKEND_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:5000"
	}
	var opts options
	fs.StringVar(&opts.backendURL, "backend", defaultURL, "detection backend URL (or set BACKEND_URL env)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout, 0 for none")
	fs.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	fs.BoolVar(&opts.plain, "plain", false, "print results without colours or borders")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level for stderr logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := logging.NewConsoleLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	rest := fs.Args()
	if len(rest) == 0 {
		return runInteractive(ctx, opts, stderr)
	}

	client := backend.NewClient(opts.backendURL, opts.timeout, logger)
	switch rest[0] {
	case "analyze":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, "usage: tomato analyze FILE...")
			return 2
		}
		return analyzeFiles(ctx, client, rest[1:], opts, stdout, stderr, logger)
	case "camera":
		return printCamera(ctx, client, opts, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}
}

func runInteractive(ctx context.Context, opts options, stderr io.Writer) int {
	// Anything written to the terminal while bubbletea owns it corrupts the screen.
	client := backend.NewClient(opts.backendURL, opts.timeout, zap.NewNop())
	sess := session.New(uuid.NewString(), client, zap.NewNop())

	program := tea.NewProgram(tui.New(ctx, sess, client, loadImage), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "tomato: %v\n", err)
		return 1
	}
	return 0
}

type fileReport struct {
	File           string                `json:"file"`
	State          session.State         `json:"state"`
	Detections     []detection.Detection `json:"detections"`
	ProcessedImage string                `json:"processed_image,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func analyzeFiles(ctx context.Context, client detection.Analyzer, paths []string, opts options, stdout, stderr io.Writer, logger *zap.Logger) int {
	reports := make([]fileReport, 0, len(paths))
	failed := false

	for _, path := range paths {
		report := fileReport{File: path, Detections: []detection.Detection{}}
		sess := session.New(uuid.NewString(), client, logger)

		img, err := loadImage(path)
		switch {
		case err != nil:
			report.Error = err.Error()
		case !sess.SelectFile(img.Name, img.Data, img.MediaType):
			report.Error = fmt.Sprintf("not an image (%s)", img.MediaType)
		default:
			result, err := sess.Analyze(ctx)
			if err != nil {
				report.Error = session.UserMessage(err)
			} else {
				report.Detections = append(report.Detections, result.Detections...)
				if opts.jsonOutput {
					report.ProcessedImage = result.ProcessedImage
				}
			}
		}
		report.State = sess.State()
		if report.Error != "" {
			failed = true
		}
		reports = append(reports, report)

		if !opts.jsonOutput {
			printReport(stdout, report, opts.plain)
		}
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(stderr, "failed to encode results: %v\n", err)
			return 1
		}
	}
	if failed {
		return 1
	}
	return 0
}

func printReport(w io.Writer, report fileReport, plain bool) {
	fmt.Fprintf(w, "== %s\n", report.File)
	if report.Error != "" {
		fmt.Fprintln(w, report.Error)
		return
	}
	result := &detection.Result{Success: true, Detections: report.Detections}
	if plain {
		fmt.Fprintln(w, render.Plain(result))
		return
	}
	fmt.Fprintln(w, render.Text(result))
}

func printCamera(ctx context.Context, client detection.CameraProber, opts options, stdout, stderr io.Writer) int {
	status, err := client.CameraStatus(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "camera status unavailable: %v\n", err)
		return 1
	}
	if opts.jsonOutput {
		_ = json.NewEncoder(stdout).Encode(status)
		return 0
	}
	if status.Available {
		fmt.Fprintln(stdout, "camera available")
	} else {
		fmt.Fprintln(stdout, "camera not available")
	}
	return 0
}

// loadImage reads path and sniffs its media type from the content.
func loadImage(path string) (detection.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return detection.Image{}, err
	}
	return detection.Image{
		Name:      filepath.Base(path),
		MediaType: mimetype.Detect(data).String(),
		Data:      data,
	}, nil
}

package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gif-studio/internal/domain"
)

// versionCheckTimeout bounds the ffmpeg -version validation run.
const versionCheckTimeout = 15 * time.Second

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	runVersion func(path string) (string, error)
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		runVersion: runVersionCommand,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	ffmpegItem, ffmpegPath := c.checkFFmpeg(settings.FFmpegPath)
	items := []domain.DiagnosticItem{
		ffmpegItem,
		c.checkOptionalTool("ffprobe", "Duration detection falls back to parsing ffmpeg output."),
		c.checkOptionalTool("yt-dlp", "Remote video download is unavailable; local files still work."),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		FFmpegPath:  ffmpegPath,
		HasFailures: hasFailures,
		Items:       items,
	}
}

// FindFFmpeg returns the first working ffmpeg executable, trying the
// configured override, PATH, and well-known install locations. Every
// candidate is validated by running it with -version.
func (c *Checker) FindFFmpeg(configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if c.verifyFFmpeg(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("configured ffmpeg is not usable: %s", configured)
	}

	if path, err := c.lookPath("ffmpeg"); err == nil && c.verifyFFmpeg(path) {
		return path, nil
	}

	for _, candidate := range ffmpegCandidatePaths() {
		info, err := c.stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if c.verifyFFmpeg(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found")
}

// verifyFFmpeg runs the candidate with -version and checks the banner.
func (c *Checker) verifyFFmpeg(path string) bool {
	output, err := c.runVersion(path)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(output), "ffmpeg version")
}

// checkFFmpeg reports on ffmpeg availability and returns the located
// path for reuse by the rest of the app.
func (c *Checker) checkFFmpeg(configured string) (domain.DiagnosticItem, string) {
	path, err := c.FindFFmpeg(configured)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_ffmpeg",
			Name:    "ffmpeg",
			Status:  domain.DiagnosticStatusFail,
			Message: "No working ffmpeg executable was found.",
			Hint:    "Install ffmpeg or set its path in settings. GIF creation needs it.",
		}, ""
	}

	return domain.DiagnosticItem{
		ID:      "tool_ffmpeg",
		Name:    "ffmpeg",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}, path
}

// checkOptionalTool verifies a helper executable that the app can work
// without, reporting warn instead of fail when it is missing.
func (c *Checker) checkOptionalTool(name, hint string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusWarn,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    hint,
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where finished GIFs can be saved."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for saving GIFs."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// ffmpegCandidatePaths lists well-known install locations checked when
// ffmpeg is not on PATH.
func ffmpegCandidatePaths() []string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	if runtime.GOOS == "windows" {
		return []string{
			filepath.Join(cwd, "ffmpeg.exe"),
			filepath.Join(cwd, "bin", "ffmpeg.exe"),
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files (x86)\ffmpeg\bin\ffmpeg.exe`,
		}
	}

	return []string{
		filepath.Join(cwd, "ffmpeg"),
		filepath.Join(cwd, "bin", "ffmpeg"),
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
	}
}

// runVersionCommand executes "<path> -version" with a bounded timeout.
func runVersionCommand(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	runVersion func(string) (string, error),
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		runVersion: runVersion,
	}
}

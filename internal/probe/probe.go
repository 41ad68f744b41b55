package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Prober resolves a media file's duration, preferring ffprobe JSON
// output and falling back to parsing the banner ffmpeg prints on
// stderr when ffprobe is not installed next to it.
type Prober struct {
	ffmpegPath string
	runner     commandRunner
	stat       func(string) (os.FileInfo, error)
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout string
	Stderr string
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout and stderr.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return commandResult{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// NewProber constructs a prober resolving ffprobe relative to ffmpeg.
func NewProber(ffmpegPath string) *Prober {
	return &Prober{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		stat:       os.Stat,
	}
}

var bannerDurationRe = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2})\.(\d{2})`)

// ffprobeFormat is the subset of ffprobe's JSON output we consume.
type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the clip duration in seconds, or zero when it
// cannot be determined. Zero is a valid answer: downstream progress
// reporting degrades to indeterminate rather than failing the job.
func (p *Prober) Duration(ctx context.Context, mediaPath string) (float64, error) {
	if ffprobePath, ok := p.findFFprobe(); ok {
		result, err := p.runner.Run(ctx, ffprobePath,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			mediaPath,
		)
		if err == nil {
			if duration, ok := parseProbeJSON(result.Stdout); ok {
				return duration, nil
			}
		}
	}

	// ffmpeg with no output file exits non-zero but still prints the
	// input banner containing the duration.
	result, _ := p.runner.Run(ctx, p.ffmpegPath, "-i", mediaPath, "-f", "null", "-")
	if duration, ok := ParseBannerDuration(result.Stderr); ok {
		return duration, nil
	}
	return 0, fmt.Errorf("duration of %s could not be determined", mediaPath)
}

// findFFprobe looks for ffprobe in the same directory as ffmpeg, then
// on PATH.
func (p *Prober) findFFprobe() (string, bool) {
	name := "ffprobe"
	if runtime.GOOS == "windows" {
		name = "ffprobe.exe"
	}

	if p.ffmpegPath != "" {
		sibling := filepath.Join(filepath.Dir(p.ffmpegPath), name)
		if _, err := p.stat(sibling); err == nil {
			return sibling, true
		}
	}
	if path, err := exec.LookPath("ffprobe"); err == nil {
		return path, true
	}
	return "", false
}

// parseProbeJSON extracts the container duration from ffprobe output.
func parseProbeJSON(data string) (float64, bool) {
	var out ffprobeFormat
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return 0, false
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0, false
	}
	return duration, true
}

// ParseBannerDuration extracts "Duration: HH:MM:SS.cc" from ffmpeg
// stderr output. Exported for testing without a real ffmpeg binary.
func ParseBannerDuration(stderr string) (float64, bool) {
	m := bannerDurationRe.FindStringSubmatch(stderr)
	if m == nil {
		return 0, false
	}

	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	cc, _ := strconv.Atoi(m[4])
	return float64(h)*3600 + float64(min)*60 + float64(sec) + float64(cc)/100, true
}

// NewProberForTests constructs a prober with injectable dependencies.
func NewProberForTests(ffmpegPath string, runner commandRunner, stat func(string) (os.FileInfo, error)) *Prober {
	return &Prober{ffmpegPath: ffmpegPath, runner: runner, stat: stat}
}

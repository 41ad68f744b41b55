package encode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"gif-studio/internal/domain"
)

// Request describes one GIF job: the clip window and render parameters
// plus the workspace directory receiving both artifacts.
type Request struct {
	VideoPath  string
	WorkDir    string
	Params     domain.JobParameters
	OnProgress func(Update)
}

// Update is one progress observation scaled to the whole job.
type Update struct {
	Indeterminate bool
	Fraction      float64 // global, in [0,1], valid when !Indeterminate
	Stage         string
	Message       string
}

// Result contains the artifact paths of a completed job.
type Result struct {
	GifPath     string
	PalettePath string
}

// stageRunner abstracts process supervision for testability.
type stageRunner interface {
	Run(spec CommandSpec, extract LineExtractor, onProgress func(Report)) Outcome
}

// Pipeline coordinates the two-stage palette job: it builds stage
// commands, runs each through a fresh supervisor, validates artifacts
// between stages, and remaps per-stage progress into the global range.
type Pipeline struct {
	ffmpegPath string
	token      *Token
	logger     hclog.Logger

	newRunner func() stageRunner
	stat      func(string) (os.FileInfo, error)
	remove    func(string) error
	rename    func(string, string) error
}

// NewPipeline constructs the production pipeline with OS dependencies.
func NewPipeline(ffmpegPath string, token *Token, logger hclog.Logger) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{
		ffmpegPath: ffmpegPath,
		token:      token,
		logger:     logger,
		newRunner: func() stageRunner {
			return NewSupervisor(token, logger)
		},
		stat:   os.Stat,
		remove: os.Remove,
		rename: os.Rename,
	}
}

// ValidateRequest checks job parameters before any process is spawned.
// A violation is returned as an ErrConfiguration pipeline error.
func ValidateRequest(req Request, stat func(string) (os.FileInfo, error)) error {
	if stat == nil {
		stat = os.Stat
	}

	fail := func(format string, args ...any) error {
		return &Error{Kind: ErrConfiguration, Message: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(req.VideoPath) == "" {
		return fail("video path is required")
	}
	if _, err := stat(req.VideoPath); err != nil {
		return fail("cannot access video file: %s", req.VideoPath)
	}
	if strings.TrimSpace(req.WorkDir) == "" {
		return fail("working directory is required")
	}
	if req.Params.StartSeconds < 0 {
		return fail("start time must not be negative")
	}
	if req.Params.StartSeconds >= req.Params.EndSeconds {
		return fail("start time must be less than end time")
	}
	if req.Params.Width <= 0 {
		return fail("width must be positive")
	}
	if req.Params.FrameRate <= 0 {
		return fail("frame rate must be positive")
	}
	if !domain.ValidQuality(req.Params.Quality) {
		return fail("unknown quality tier: %s", req.Params.Quality)
	}
	return nil
}

// Run executes both stages to completion, cancellation, or failure. It
// blocks and is intended for the job's background goroutine; progress
// flows through req.OnProgress, which may be invoked from stream drain
// goroutines.
func (p *Pipeline) Run(req Request) (Result, error) {
	if err := ValidateRequest(req, p.stat); err != nil {
		return Result{}, err
	}

	videoPath, err := filepath.Abs(req.VideoPath)
	if err != nil {
		return Result{}, &Error{Kind: ErrConfiguration, Message: fmt.Sprintf("resolve video path: %v", err), Err: err}
	}
	workDir, err := filepath.Abs(req.WorkDir)
	if err != nil {
		return Result{}, &Error{Kind: ErrConfiguration, Message: fmt.Sprintf("resolve working directory: %v", err), Err: err}
	}

	palettePath := filepath.Join(workDir, PaletteFileName)
	gifPath := filepath.Join(workDir, GifFileName)

	for _, stale := range []string{palettePath, gifPath} {
		if err := p.clearArtifact(stale); err != nil {
			return Result{}, &Error{
				Kind:    ErrCrashed,
				Stage:   stagePalette,
				Message: fmt.Sprintf("failed to clear stale artifact %s: %v", stale, err),
				Err:     err,
			}
		}
	}

	stages := []StageDescriptor{
		paletteStage(p.ffmpegPath, videoPath, palettePath, req.Params),
		encodeStage(p.ffmpegPath, videoPath, palettePath, gifPath, req.Params),
	}

	forward := p.progressForwarder(req.OnProgress)

	for _, stage := range stages {
		// A cancellation in the gap between stages must still prevent
		// the next launch.
		if p.token.Cancelled() {
			return Result{}, &Error{Kind: ErrCancelled, Stage: stage.Name, Message: "job cancelled"}
		}

		p.logger.Info("stage starting", "stage", stage.Name, "command", strings.Join(stage.Command, " "))
		outcome := p.newRunner().Run(stage.Command, EncoderExtractor(stage.ExpectedSeconds), func(report Report) {
			forward(stage, report)
		})

		if err := stageError(stage, outcome); err != nil {
			return Result{}, err
		}
		if err := p.validateArtifact(stage); err != nil {
			return Result{}, err
		}

		// Close out the stage's share of the bar so the next stage's
		// early reports can never race ahead of this completion.
		forward(stage, Report{Kind: ProgressFraction, Fraction: 1})
		p.logger.Info("stage finished", "stage", stage.Name, "artifact", stage.ArtifactPath)
	}

	return Result{GifPath: gifPath, PalettePath: palettePath}, nil
}

// progressForwarder remaps stage-local reports into the global range
// and guarantees the delivered fraction sequence is non-decreasing.
func (p *Pipeline) progressForwarder(onProgress func(Update)) func(StageDescriptor, Report) {
	var mu sync.Mutex
	lastGlobal := 0.0

	return func(stage StageDescriptor, report Report) {
		if onProgress == nil {
			return
		}

		if report.Kind == ProgressIndeterminate {
			onProgress(Update{
				Indeterminate: true,
				Stage:         stage.Name,
				Message:       stageMessage(stage.Name, -1),
			})
			return
		}

		global := report.Fraction*(stage.HiFraction-stage.LoFraction) + stage.LoFraction
		// Snap a completed stage to its exact boundary so accumulated
		// float error cannot leave the bar just short of it.
		if report.Fraction >= 1 {
			global = stage.HiFraction
		}

		mu.Lock()
		if global < lastGlobal {
			mu.Unlock()
			return
		}
		lastGlobal = global
		mu.Unlock()

		onProgress(Update{
			Fraction: global,
			Stage:    stage.Name,
			Message:  stageMessage(stage.Name, report.Fraction),
		})
	}
}

// stageMessage renders the human status line for one stage report.
func stageMessage(stage string, fraction float64) string {
	label := "Creating palette"
	if stage == stageEncode {
		label = "Encoding GIF"
	}
	if fraction < 0 {
		return label + "..."
	}
	return fmt.Sprintf("%s: %.1f%%", label, fraction*100)
}

// stageError maps a non-success outcome to the job's terminal error.
func stageError(stage StageDescriptor, outcome Outcome) error {
	switch outcome.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelled:
		return &Error{Kind: ErrCancelled, Stage: stage.Name, Message: "job cancelled"}
	case OutcomeLaunchFailure:
		return &Error{Kind: ErrLaunch, Stage: stage.Name, Message: outcome.Message}
	case OutcomeNonZeroExit:
		return &Error{
			Kind:     ErrNonZeroExit,
			Stage:    stage.Name,
			Message:  outcome.Message,
			ExitCode: outcome.ExitCode,
		}
	default:
		return &Error{Kind: ErrCrashed, Stage: stage.Name, Message: outcome.Message}
	}
}

// validateArtifact confirms the stage produced a usable file. A missing
// or empty artifact after a reported success is terminal for the job.
func (p *Pipeline) validateArtifact(stage StageDescriptor) error {
	info, err := p.stat(stage.ArtifactPath)
	if err != nil {
		return &Error{
			Kind:    ErrStageValidation,
			Stage:   stage.Name,
			Message: fmt.Sprintf("expected artifact missing: %s", stage.ArtifactPath),
			Err:     err,
		}
	}
	if info.Size() < stage.MinArtifactBytes {
		return &Error{
			Kind:    ErrStageValidation,
			Stage:   stage.Name,
			Message: fmt.Sprintf("artifact is empty: %s", stage.ArtifactPath),
		}
	}
	return nil
}

// clearArtifact removes a stale artifact before the job starts, falling
// back to renaming it aside when another process still holds a lock on
// the file.
func (p *Pipeline) clearArtifact(path string) error {
	if _, err := p.stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := p.remove(path); err == nil {
		return nil
	}

	aside := fmt.Sprintf("%s.stale-%d", path, time.Now().UnixNano())
	return p.rename(path, aside)
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	ffmpegPath string,
	token *Token,
	newRunner func() stageRunner,
	stat func(string) (os.FileInfo, error),
	remove func(string) error,
	rename func(string, string) error,
) *Pipeline {
	return &Pipeline{
		ffmpegPath: ffmpegPath,
		token:      token,
		logger:     hclog.NewNullLogger(),
		newRunner:  newRunner,
		stat:       stat,
		remove:     remove,
		rename:     rename,
	}
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"gif-studio/internal/config"
	"gif-studio/internal/diagnostics"
	"gif-studio/internal/domain"
	"gif-studio/internal/encode"
	"gif-studio/internal/fetch"
	"gif-studio/internal/jobs"
	"gif-studio/internal/probe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// probeTimeout bounds duration detection for a loaded clip.
const probeTimeout = 30 * time.Second

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.m4v;*.flv",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var gifDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "GIF images",
		Pattern:     "*.gif",
	},
}

// gifPipeline isolates the encode pipeline behind an interface.
type gifPipeline interface {
	Run(req encode.Request) (encode.Result, error)
}

// videoFetcher isolates the remote download behind an interface.
type videoFetcher interface {
	Fetch(token *encode.Token, url, destDir string, onProgress func(encode.Report)) (string, error)
}

// durationProber isolates media duration detection behind an interface.
type durationProber interface {
	Duration(ctx context.Context, mediaPath string) (float64, error)
}

// App wires configuration, jobs, pipeline, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	logger  hclog.Logger
	events  *jobs.EventBus

	newPipeline func(ffmpegPath string, token *encode.Token) gifPipeline
	newFetcher  func(token *encode.Token) videoFetcher
	newProber   func(ffmpegPath string) durationProber

	mu            sync.Mutex
	runtimeCtx    context.Context
	activeJobID   string
	activeToken   *encode.Token
	tempDir       string
	ffmpegPath    string
	videoPath     string
	videoDuration float64
	gifPath       string
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".gif-studio", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "gif-studio",
		Level: hclog.Info,
	})

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		logger:      logger,
		events:      jobs.NewEventBus(1000),
		ffmpegPath:  report.FFmpegPath,
	}
	app.newPipeline = func(ffmpegPath string, token *encode.Token) gifPipeline {
		return encode.NewPipeline(ffmpegPath, token, logger.Named("pipeline"))
	}
	app.newFetcher = func(token *encode.Token) videoFetcher {
		return fetch.NewFetcher("yt-dlp", logger.Named("fetch"))
	}
	app.newProber = func(ffmpegPath string) durationProber {
		return probe.NewProber(ffmpegPath)
	}
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "GIF Studio",
		Width:       1080,
		Height:      760,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// shutdown stops any active job and removes the workspace directory.
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	token := a.activeToken
	tempDir := a.tempDir
	a.runtimeCtx = nil
	a.tempDir = ""
	a.mu.Unlock()

	if token != nil {
		token.Signal()
	}
	if tempDir != "" {
		if err := os.RemoveAll(tempDir); err != nil {
			a.logger.Warn("workspace cleanup failed", "dir", tempDir, "error", err)
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	return a.refreshDiagnosticsFromSettings(settings), nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// PickVideoFile opens a native file dialog and loads the chosen clip.
func (a *App) PickVideoFile() (domain.SourceInfo, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.SourceInfo{}, err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video file",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return domain.SourceInfo{}, err
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return a.SourceInfo(), nil
	}
	return a.LoadVideoFile(path)
}

// LoadVideoFile registers a local clip as the job source and probes its
// duration. A failed probe still loads the clip; progress reporting for
// it degrades to indeterminate.
func (a *App) LoadVideoFile(path string) (domain.SourceInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.SourceInfo{}, fmt.Errorf("video path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return domain.SourceInfo{}, fmt.Errorf("cannot access video file: %w", err)
	}

	duration := a.probeDuration(path)

	a.mu.Lock()
	a.videoPath = path
	a.videoDuration = duration
	a.mu.Unlock()

	return domain.SourceInfo{VideoPath: path, DurationSeconds: duration}, nil
}

// SourceInfo returns the currently loaded clip, if any.
func (a *App) SourceInfo() domain.SourceInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.SourceInfo{VideoPath: a.videoPath, DurationSeconds: a.videoDuration}
}

// StartDownload creates a download job for a remote video URL and runs
// it asynchronously.
func (a *App) StartDownload(url string) (domain.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.Job{}, fmt.Errorf("video URL is required")
	}

	destDir, err := a.workspaceDir()
	if err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, domain.JobStatusDownloading); err != nil {
		return domain.Job{}, err
	}

	token := encode.NewToken()
	a.mu.Lock()
	a.activeJobID = jobID
	a.activeToken = token
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusDownloading, "Downloading video")
	go a.runDownloadJob(token, jobID, url, destDir)
	return a.Jobs.Current(), nil
}

// StartGifCreation validates parameters and starts the two-stage encode
// for the loaded clip. Parameter errors are returned synchronously and
// never occupy the job slot.
func (a *App) StartGifCreation(params domain.JobParameters) (domain.Job, error) {
	a.mu.Lock()
	videoPath := a.videoPath
	ffmpegPath := a.ffmpegPath
	a.mu.Unlock()

	if ffmpegPath == "" {
		return domain.Job{}, &encode.Error{Kind: encode.ErrConfiguration, Message: "ffmpeg is not available; check diagnostics"}
	}
	if videoPath == "" {
		return domain.Job{}, &encode.Error{Kind: encode.ErrConfiguration, Message: "no video loaded"}
	}

	workDir, err := a.workspaceDir()
	if err != nil {
		return domain.Job{}, err
	}

	req := encode.Request{
		VideoPath: videoPath,
		WorkDir:   workDir,
		Params:    params,
	}
	if err := encode.ValidateRequest(req, nil); err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, domain.JobStatusPalette); err != nil {
		return domain.Job{}, err
	}

	token := encode.NewToken()
	a.mu.Lock()
	a.activeJobID = jobID
	a.activeToken = token
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusPalette, "Creating palette")
	go a.runGifJob(token, jobID, ffmpegPath, req)
	return a.Jobs.Current(), nil
}

// CancelJob requests cooperative cancellation of the active job.
func (a *App) CancelJob() error {
	a.mu.Lock()
	token := a.activeToken
	jobID := a.activeJobID
	a.mu.Unlock()

	if token == nil {
		return jobs.ErrNoRunningJob
	}

	token.Signal()
	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}

	if jobID != "" {
		a.publishStatus(jobID, domain.JobStatusCancelled, "Cancellation requested")
	}
	return nil
}

// SaveGif copies the finished GIF to a user-chosen destination and
// returns its path.
func (a *App) SaveGif() (string, error) {
	a.mu.Lock()
	gifPath := a.gifPath
	outputDir := a.Settings.OutputDir
	a.mu.Unlock()

	if gifPath == "" {
		return "", fmt.Errorf("no finished GIF to save")
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	target, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save GIF",
		DefaultDirectory: outputDir,
		DefaultFilename:  encode.GifFileName,
		Filters:          gifDialogFilter,
	})
	if err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", nil
	}

	if err := copyFile(gifPath, target); err != nil {
		return "", fmt.Errorf("save GIF: %w", err)
	}
	return target, nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// runDownloadJob drives the fetch, probes the result, and maps the
// outcome to job events.
func (a *App) runDownloadJob(token *encode.Token, jobID, url, destDir string) {
	fetcher := a.newFetcher(token)
	path, err := fetcher.Fetch(token, url, destDir, func(report encode.Report) {
		a.publishEvent(jobs.Event{
			JobID:         jobID,
			Type:          jobs.EventTypeProgress,
			Status:        domain.JobStatusDownloading,
			Message:       "Downloading video",
			Fraction:      report.Fraction,
			Indeterminate: report.Kind == encode.ProgressIndeterminate,
		})
	})
	if err != nil {
		a.finishWithError(jobID, err)
		return
	}

	duration := a.probeDuration(path)
	a.mu.Lock()
	a.videoPath = path
	a.videoDuration = duration
	a.mu.Unlock()

	if err := a.Jobs.Transition(domain.JobStatusDone); err == nil {
		a.publishStatus(jobID, domain.JobStatusDone, "Download completed")
	}
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusDone,
		Message:    "Video ready",
		OutputPath: path,
	})
	a.clearActiveJob(jobID)
}

// runGifJob executes the pipeline and maps outcomes to job events.
func (a *App) runGifJob(token *encode.Token, jobID, ffmpegPath string, req encode.Request) {
	req.OnProgress = func(update encode.Update) {
		if update.Stage == "encode" && a.Jobs.Current().Status == domain.JobStatusPalette {
			if err := a.Jobs.Transition(domain.JobStatusEncoding); err == nil {
				a.publishStatus(jobID, domain.JobStatusEncoding, "Encoding GIF")
			}
		}

		a.publishEvent(jobs.Event{
			JobID:         jobID,
			Type:          jobs.EventTypeProgress,
			Status:        a.Jobs.Current().Status,
			Message:       update.Message,
			Fraction:      update.Fraction,
			Indeterminate: update.Indeterminate,
		})
	}

	pipeline := a.newPipeline(ffmpegPath, token)
	result, err := pipeline.Run(req)
	if err != nil {
		a.finishWithError(jobID, err)
		return
	}

	a.mu.Lock()
	a.gifPath = result.GifPath
	a.mu.Unlock()

	if err := a.Jobs.Transition(domain.JobStatusDone); err == nil {
		a.publishStatus(jobID, domain.JobStatusDone, "GIF ready")
	}
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusDone,
		Message:    "GIF created",
		OutputPath: result.GifPath,
	})
	a.clearActiveJob(jobID)
}

// finishWithError moves the job to its terminal failure or cancelled
// state and publishes the classified error.
func (a *App) finishWithError(jobID string, err error) {
	if encode.IsCancelled(err) {
		_ = a.Jobs.Transition(domain.JobStatusCancelled)
		a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
		a.clearActiveJob(jobID)
		return
	}

	_ = a.Jobs.Transition(domain.JobStatusFailed)
	a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")

	event := jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeError,
		Status:  domain.JobStatusFailed,
		Message: err.Error(),
	}
	var pipelineErr *encode.Error
	if errors.As(err, &pipelineErr) {
		event.ExitCode = pipelineErr.ExitCode
	}
	a.publishEvent(event)
	a.clearActiveJob(jobID)
}

// probeDuration resolves a clip duration, returning zero when it cannot
// be determined.
func (a *App) probeDuration(path string) float64 {
	a.mu.Lock()
	ffmpegPath := a.ffmpegPath
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	duration, err := a.newProber(ffmpegPath).Duration(ctx, path)
	if err != nil {
		a.logger.Warn("duration probe failed", "path", path, "error", err)
		return 0
	}
	return duration
}

// workspaceDir lazily creates the per-session temp directory holding
// downloads and intermediate artifacts.
func (a *App) workspaceDir() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tempDir != "" {
		return a.tempDir, nil
	}

	dir, err := os.MkdirTemp("", "gif-studio-*")
	if err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	a.tempDir = dir
	return dir, nil
}

// refreshDiagnosticsFromSettings reruns checks and caches the located
// ffmpeg path.
func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	report := a.checker.Run(settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = report
	a.ffmpegPath = report.FFmpegPath
	return report
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.activeToken = nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and backfills render defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	defaults := config.DefaultSettings()
	if settings.OutputDir == "" {
		settings.OutputDir = defaults.OutputDir
	}
	if settings.Width <= 0 {
		settings.Width = defaults.Width
	}
	if settings.FrameRate <= 0 {
		settings.FrameRate = defaults.FrameRate
	}
	if !domain.ValidQuality(settings.Quality) {
		settings.Quality = defaults.Quality
	}
	return settings
}

// copyFile writes src's contents to dst, truncating any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}

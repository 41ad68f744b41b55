package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"gif-studio/internal/domain"
	"gif-studio/internal/encode"
	"gif-studio/internal/jobs"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save is a no-op for tests.
func (s *fakeStore) Save(domain.Settings) error {
	return nil
}

// fakeGifPipeline allows injecting custom run behavior per test.
type fakeGifPipeline struct {
	run func(req encode.Request) (encode.Result, error)
}

func (p *fakeGifPipeline) Run(req encode.Request) (encode.Result, error) {
	if p.run == nil {
		return encode.Result{}, nil
	}
	return p.run(req)
}

// fakeFetcher allows injecting custom download behavior per test.
type fakeFetcher struct {
	fetch func(token *encode.Token, url, destDir string, onProgress func(encode.Report)) (string, error)
}

func (f *fakeFetcher) Fetch(token *encode.Token, url, destDir string, onProgress func(encode.Report)) (string, error) {
	return f.fetch(token, url, destDir, onProgress)
}

// fakeProber reports a fixed duration.
type fakeProber struct {
	duration float64
	err      error
}

func (p *fakeProber) Duration(ctx context.Context, mediaPath string) (float64, error) {
	return p.duration, p.err
}

// newTestApp builds an App with a loaded clip and quiet dependencies.
func newTestApp(t *testing.T) *App {
	t.Helper()

	root := t.TempDir()
	videoPath := filepath.Join(root, "clip.mp4")
	if err := os.WriteFile(videoPath, []byte("not a real video"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	app := &App{
		Store:      &fakeStore{settings: domain.Settings{OutputDir: root}},
		Jobs:       jobs.NewManager(),
		logger:     hclog.NewNullLogger(),
		events:     jobs.NewEventBus(100),
		tempDir:    filepath.Join(root, "work"),
		ffmpegPath: "/tools/ffmpeg",
		videoPath:  videoPath,
	}
	if err := os.MkdirAll(app.tempDir, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	app.newProber = func(string) durationProber { return &fakeProber{duration: 30} }
	return app
}

func validParams() domain.JobParameters {
	return domain.JobParameters{
		StartSeconds: 0,
		EndSeconds:   5,
		Width:        480,
		FrameRate:    25,
		Quality:      domain.QualityMedium,
	}
}

// TestStartGifCreationEnforcesSingleRunningJob checks single-job guard.
func TestStartGifCreationEnforcesSingleRunningJob(t *testing.T) {
	app := newTestApp(t)
	app.newPipeline = func(_ string, token *encode.Token) gifPipeline {
		return &fakeGifPipeline{run: func(req encode.Request) (encode.Result, error) {
			<-token.Done()
			return encode.Result{}, &encode.Error{Kind: encode.ErrCancelled, Stage: "palette", Message: "job cancelled"}
		}}
	}

	if _, err := app.StartGifCreation(validParams()); err != nil {
		t.Fatalf("start first job: %v", err)
	}
	if _, err := app.StartGifCreation(validParams()); !errors.Is(err, jobs.ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, jobs.ErrJobAlreadyRunning)
	}

	if err := app.CancelJob(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusCancelled)
}

// TestStartGifCreationRejectsBadParameters checks that parameter errors
// come back synchronously and never occupy the job slot.
func TestStartGifCreationRejectsBadParameters(t *testing.T) {
	app := newTestApp(t)
	app.newPipeline = func(string, *encode.Token) gifPipeline {
		t.Fatal("pipeline must not be constructed for bad parameters")
		return nil
	}

	params := validParams()
	params.StartSeconds = 5
	params.EndSeconds = 2

	_, err := app.StartGifCreation(params)
	var pErr *encode.Error
	if !errors.As(err, &pErr) || pErr.Kind != encode.ErrConfiguration {
		t.Fatalf("error = %v, want configuration error", err)
	}
	if app.Jobs.IsRunning() {
		t.Fatal("job slot should stay free after a parameter error")
	}
}

// TestStartGifCreationRequiresLoadedVideo checks the missing-source guard.
func TestStartGifCreationRequiresLoadedVideo(t *testing.T) {
	app := newTestApp(t)
	app.videoPath = ""

	_, err := app.StartGifCreation(validParams())
	var pErr *encode.Error
	if !errors.As(err, &pErr) || pErr.Kind != encode.ErrConfiguration {
		t.Fatalf("error = %v, want configuration error", err)
	}
}

// TestGifJobPublishesProgressAndResultEvents checks the happy path.
func TestGifJobPublishesProgressAndResultEvents(t *testing.T) {
	app := newTestApp(t)
	gifPath := filepath.Join(app.tempDir, encode.GifFileName)
	app.newPipeline = func(_ string, token *encode.Token) gifPipeline {
		return &fakeGifPipeline{run: func(req encode.Request) (encode.Result, error) {
			req.OnProgress(encode.Update{Fraction: 0.15, Stage: "palette", Message: "Creating palette: 50.0%"})
			req.OnProgress(encode.Update{Fraction: 0.65, Stage: "encode", Message: "Encoding GIF: 50.0%"})
			req.OnProgress(encode.Update{Fraction: 1, Stage: "encode", Message: "Encoding GIF: 100.0%"})
			return encode.Result{GifPath: gifPath}, nil
		}}
	}

	if _, err := app.StartGifCreation(validParams()); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusDone)
	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeProgress)
	assertEventTypeExists(t, events, jobs.EventTypeResult)

	// The encode-stage progress report must flip the status.
	sawEncoding := false
	for _, event := range events {
		if event.Type == jobs.EventTypeStatus && event.Status == domain.JobStatusEncoding {
			sawEncoding = true
		}
	}
	if !sawEncoding {
		t.Fatal("expected encoding status event")
	}

	app.mu.Lock()
	got := app.gifPath
	app.mu.Unlock()
	if got != gifPath {
		t.Fatalf("gif path = %s, want %s", got, gifPath)
	}
}

// TestGifJobPublishesFailureEvents checks error path emissions.
func TestGifJobPublishesFailureEvents(t *testing.T) {
	app := newTestApp(t)
	app.newPipeline = func(string, *encode.Token) gifPipeline {
		return &fakeGifPipeline{run: func(req encode.Request) (encode.Result, error) {
			return encode.Result{}, &encode.Error{
				Kind:     encode.ErrNonZeroExit,
				Stage:    "palette",
				Message:  "Error: Invalid argument",
				ExitCode: 1,
			}
		}}
	}

	if _, err := app.StartGifCreation(validParams()); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusFailed)
	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeError)

	for _, event := range events {
		if event.Type == jobs.EventTypeError && event.ExitCode != 1 {
			t.Fatalf("error event exit code = %d, want 1", event.ExitCode)
		}
	}
}

// TestStartDownloadRegistersSource checks the download-and-probe flow.
func TestStartDownloadRegistersSource(t *testing.T) {
	app := newTestApp(t)
	app.videoPath = ""
	downloaded := filepath.Join(app.tempDir, "downloaded_video.mp4")
	app.newFetcher = func(token *encode.Token) videoFetcher {
		return &fakeFetcher{fetch: func(_ *encode.Token, url, destDir string, onProgress func(encode.Report)) (string, error) {
			onProgress(encode.Report{Kind: encode.ProgressFraction, Fraction: 0.5})
			return downloaded, nil
		}}
	}

	if _, err := app.StartDownload("https://example.com/v/1"); err != nil {
		t.Fatalf("start download: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusDone)
	info := app.SourceInfo()
	if info.VideoPath != downloaded {
		t.Fatalf("video path = %s, want %s", info.VideoPath, downloaded)
	}
	if info.DurationSeconds != 30 {
		t.Fatalf("duration = %f, want 30", info.DurationSeconds)
	}

	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeProgress)
	assertEventTypeExists(t, events, jobs.EventTypeResult)
}

// TestStartDownloadFailurePublishesError checks the failed fetch path.
func TestStartDownloadFailurePublishesError(t *testing.T) {
	app := newTestApp(t)
	app.newFetcher = func(*encode.Token) videoFetcher {
		return &fakeFetcher{fetch: func(*encode.Token, string, string, func(encode.Report)) (string, error) {
			return "", &encode.Error{Kind: encode.ErrLaunch, Stage: "download", Message: "launch yt-dlp: not found"}
		}}
	}

	if _, err := app.StartDownload("https://example.com/v/1"); err != nil {
		t.Fatalf("start download: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusFailed)
	assertEventTypeExists(t, app.JobEvents(0), jobs.EventTypeError)
}

// TestCancelJobWithoutActiveJob checks the idle cancel error.
func TestCancelJobWithoutActiveJob(t *testing.T) {
	app := newTestApp(t)
	if err := app.CancelJob(); !errors.Is(err, jobs.ErrNoRunningJob) {
		t.Fatalf("cancel error = %v, want %v", err, jobs.ErrNoRunningJob)
	}
}

// TestLoadVideoFile checks local clip registration and duration probing.
func TestLoadVideoFile(t *testing.T) {
	app := newTestApp(t)

	info, err := app.LoadVideoFile(app.videoPath)
	if err != nil {
		t.Fatalf("LoadVideoFile() error = %v", err)
	}
	if info.DurationSeconds != 30 {
		t.Fatalf("duration = %f, want 30", info.DurationSeconds)
	}

	if _, err := app.LoadVideoFile(filepath.Join(t.TempDir(), "absent.mp4")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// TestLoadVideoFileToleratesProbeFailure checks that an unknown duration
// still loads the clip.
func TestLoadVideoFileToleratesProbeFailure(t *testing.T) {
	app := newTestApp(t)
	app.newProber = func(string) durationProber {
		return &fakeProber{err: errors.New("no duration")}
	}

	info, err := app.LoadVideoFile(app.videoPath)
	if err != nil {
		t.Fatalf("LoadVideoFile() error = %v", err)
	}
	if info.DurationSeconds != 0 {
		t.Fatalf("duration = %f, want 0", info.DurationSeconds)
	}
}

// waitForStatus polls until job reaches desired status or times out.
func waitForStatus(t *testing.T, app *App, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.CurrentJob().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", app.CurrentJob().Status, want)
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}

package fetch

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"gif-studio/internal/encode"
)

// downloadTemplate is the yt-dlp output template inside the workspace;
// the tool substitutes the real container extension.
const downloadTemplate = "downloaded_video.%(ext)s"

// downloadGlob matches whatever file the template produced.
const downloadGlob = "downloaded_video.*"

// commandSupervisor abstracts the process supervisor for testability.
type commandSupervisor interface {
	Run(spec encode.CommandSpec, extract encode.LineExtractor, onProgress func(encode.Report)) encode.Outcome
}

// Fetcher downloads a remote video into the job workspace by driving
// yt-dlp under the same supervision model as the encoder stages.
type Fetcher struct {
	ytdlpPath string
	logger    hclog.Logger

	newSupervisor func(token *encode.Token) commandSupervisor
	glob          func(pattern string) ([]string, error)
}

// NewFetcher constructs the production fetcher.
func NewFetcher(ytdlpPath string, logger hclog.Logger) *Fetcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Fetcher{
		ytdlpPath: ytdlpPath,
		logger:    logger,
		newSupervisor: func(token *encode.Token) commandSupervisor {
			return encode.NewSupervisor(token, logger)
		},
		glob: filepath.Glob,
	}
}

var downloadPercentRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// percentHysteresis drops download reports within half a percentage
// point of the previous one, matching encoder progress rate limiting.
const percentHysteresis = 0.005

// Extractor parses yt-dlp --newline output into progress reports.
// Download lines without a parseable percentage degrade to
// indeterminate so the UI can still show activity.
func Extractor(line string, prev float64) encode.Report {
	m := downloadPercentRe.FindStringSubmatch(line)
	if m == nil {
		if strings.Contains(line, "[download]") {
			return encode.Report{Kind: encode.ProgressIndeterminate}
		}
		return encode.Report{Kind: encode.ProgressNone}
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return encode.Report{Kind: encode.ProgressIndeterminate}
	}

	fraction := percent / 100
	if fraction > 1 {
		fraction = 1
	}
	if math.Abs(fraction-prev) <= percentHysteresis {
		return encode.Report{Kind: encode.ProgressNone}
	}
	return encode.Report{Kind: encode.ProgressFraction, Fraction: fraction}
}

// Fetch downloads url into destDir and returns the local file path.
// It blocks until the download finishes, fails, or the token stops it;
// failures come back as classified pipeline errors.
func (f *Fetcher) Fetch(token *encode.Token, url, destDir string, onProgress func(encode.Report)) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", &encode.Error{Kind: encode.ErrConfiguration, Message: "video URL is required"}
	}

	spec := encode.CommandSpec{
		f.ytdlpPath,
		"--newline",
		"--no-playlist",
		"-f", "best[height<=720]/best",
		"-o", filepath.Join(destDir, downloadTemplate),
		url,
	}

	f.logger.Info("download starting", "url", url)
	outcome := f.newSupervisor(token).Run(spec, Extractor, onProgress)

	switch outcome.Kind {
	case encode.OutcomeSuccess:
	case encode.OutcomeCancelled:
		return "", &encode.Error{Kind: encode.ErrCancelled, Stage: "download", Message: "download cancelled"}
	case encode.OutcomeLaunchFailure:
		return "", &encode.Error{Kind: encode.ErrLaunch, Stage: "download", Message: outcome.Message}
	case encode.OutcomeNonZeroExit:
		return "", &encode.Error{
			Kind:     encode.ErrNonZeroExit,
			Stage:    "download",
			Message:  outcome.Message,
			ExitCode: outcome.ExitCode,
		}
	default:
		return "", &encode.Error{Kind: encode.ErrCrashed, Stage: "download", Message: outcome.Message}
	}

	matches, err := f.glob(filepath.Join(destDir, downloadGlob))
	if err != nil || len(matches) == 0 {
		return "", &encode.Error{
			Kind:    encode.ErrStageValidation,
			Stage:   "download",
			Message: fmt.Sprintf("downloaded file not found in %s", destDir),
			Err:     err,
		}
	}

	f.logger.Info("download finished", "path", matches[0])
	return matches[0], nil
}

// NewFetcherForTests constructs a fetcher with injectable dependencies.
func NewFetcherForTests(
	ytdlpPath string,
	newSupervisor func(token *encode.Token) commandSupervisor,
	glob func(pattern string) ([]string, error),
) *Fetcher {
	return &Fetcher{
		ytdlpPath:     ytdlpPath,
		logger:        hclog.NewNullLogger(),
		newSupervisor: newSupervisor,
		glob:          glob,
	}
}

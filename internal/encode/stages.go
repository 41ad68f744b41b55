package encode

import (
	"fmt"

	"gif-studio/internal/domain"
)

const (
	// PaletteFileName is the intermediate artifact of stage 0.
	PaletteFileName = "palette.png"
	// GifFileName is the final artifact of stage 1.
	GifFileName = "output.gif"

	// Palette generation is weighted as the first 30% of total progress
	// because it is typically far cheaper than the encode pass.
	paletteLoFraction = 0.0
	paletteHiFraction = 0.3
	encodeLoFraction  = 0.3
	encodeHiFraction  = 1.0

	stagePalette = "palette"
	stageEncode  = "encode"
)

// StageDescriptor describes one subprocess invocation and how its
// internal progress maps onto the job's overall progress bar.
type StageDescriptor struct {
	Name             string
	Command          CommandSpec
	ExpectedSeconds  float64
	LoFraction       float64
	HiFraction       float64
	ArtifactPath     string
	MinArtifactBytes int64
}

// paletteStats maps each quality tier to a palettegen statistics mode.
var paletteStats = map[domain.Quality]string{
	domain.QualityFast:   "stats_mode=single",
	domain.QualityMedium: "stats_mode=diff",
	domain.QualityHigh:   "stats_mode=diff:max_colors=256",
}

// paletteDither maps each quality tier to a paletteuse dithering mode.
var paletteDither = map[domain.Quality]string{
	domain.QualityFast:   "dither=none",
	domain.QualityMedium: "dither=bayer:bayer_scale=2",
	domain.QualityHigh:   "dither=floyd_steinberg",
}

// paletteStage builds the stage-0 descriptor: a single palette frame
// generated from the scaled clip window.
func paletteStage(ffmpegPath, videoPath, palettePath string, params domain.JobParameters) StageDescriptor {
	duration := params.EndSeconds - params.StartSeconds
	return StageDescriptor{
		Name: stagePalette,
		Command: CommandSpec{
			ffmpegPath,
			"-y",
			"-ss", fmt.Sprintf("%.3f", params.StartSeconds),
			"-t", fmt.Sprintf("%.3f", duration),
			"-i", videoPath,
			"-vf", fmt.Sprintf("scale=%d:-1:flags=lanczos,palettegen=%s", params.Width, paletteStats[params.Quality]),
			"-vframes", "1",
			"-loglevel", "warning",
			palettePath,
		},
		ExpectedSeconds:  duration,
		LoFraction:       paletteLoFraction,
		HiFraction:       paletteHiFraction,
		ArtifactPath:     palettePath,
		MinArtifactBytes: 1,
	}
}

// encodeStage builds the stage-1 descriptor: the palette-constrained
// GIF encode consuming both the source clip and the stage-0 artifact.
func encodeStage(ffmpegPath, videoPath, palettePath, gifPath string, params domain.JobParameters) StageDescriptor {
	duration := params.EndSeconds - params.StartSeconds
	filter := fmt.Sprintf(
		"[0:v]scale=%d:-1:flags=lanczos,fps=%d[v];[v][1:v]paletteuse=%s",
		params.Width, params.FrameRate, paletteDither[params.Quality],
	)
	return StageDescriptor{
		Name: stageEncode,
		Command: CommandSpec{
			ffmpegPath,
			"-y",
			"-ss", fmt.Sprintf("%.3f", params.StartSeconds),
			"-t", fmt.Sprintf("%.3f", duration),
			"-i", videoPath,
			"-i", palettePath,
			"-filter_complex", filter,
			"-loglevel", "warning",
			"-f", "gif",
			gifPath,
		},
		ExpectedSeconds:  duration,
		LoFraction:       encodeLoFraction,
		HiFraction:       encodeHiFraction,
		ArtifactPath:     gifPath,
		MinArtifactBytes: 1,
	}
}

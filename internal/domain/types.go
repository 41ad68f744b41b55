package domain

// JobStatus tracks each pipeline stage for a single GIF job.
type JobStatus string

const (
	JobStatusIdle        JobStatus = "idle"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusPalette     JobStatus = "palette"
	JobStatusEncoding    JobStatus = "encoding"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Quality selects the palette statistics mode and dithering trade-off.
type Quality string

const (
	QualityFast   Quality = "fast"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ValidQuality reports whether q is one of the three supported tiers.
func ValidQuality(q Quality) bool {
	switch q {
	case QualityFast, QualityMedium, QualityHigh:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath string  `json:"ffmpegPath"`
	OutputDir  string  `json:"outputDir"`
	Width      int     `json:"width"`
	FrameRate  int     `json:"frameRate"`
	Quality    Quality `json:"quality"`
}

// JobParameters describes one GIF creation request from the UI.
type JobParameters struct {
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
	Width        int     `json:"width"`
	FrameRate    int     `json:"frameRate"`
	Quality      Quality `json:"quality"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// SourceInfo describes the currently loaded video clip.
type SourceInfo struct {
	VideoPath       string  `json:"videoPath"`
	DurationSeconds float64 `json:"durationSeconds"`
}

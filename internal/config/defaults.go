package config

import (
	"os"
	"path/filepath"

	"gif-studio/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
// The ffmpeg path is left empty so discovery runs against PATH and the
// well-known install locations.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		FFmpegPath: "",
		OutputDir:  filepath.Join(homeDir, "Documents", "GIFs"),
		Width:      480,
		FrameRate:  25,
		Quality:    domain.QualityMedium,
	}
}

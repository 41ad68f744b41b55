package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"gif-studio/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Persisted settings with zeroed render fields are backfilled from
// defaults so older settings files keep working.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	var cfg domain.Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	return withDefaults(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// withDefaults fills unset render parameters from the defaults.
func withDefaults(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	if cfg.Width <= 0 {
		cfg.Width = defaults.Width
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaults.FrameRate
	}
	if !domain.ValidQuality(cfg.Quality) {
		cfg.Quality = defaults.Quality
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaults.OutputDir
	}
	return cfg
}

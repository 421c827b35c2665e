package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"tremorcat/internal/t3w"
)

type Config struct {
	// DataDir is the root holding one subdirectory per site, each with
	// recordings and tracklogs. Required; TREMORCAT_DATA_DIR overrides.
	DataDir string `yaml:"data_dir"`

	// CatalogDir receives the persisted catalog CSVs. Defaults to
	// <parent of data_dir>/res/<name of data_dir>.
	CatalogDir string `yaml:"catalog_dir"`

	RecordingExt string `yaml:"recording_ext"`
	LogExt       string `yaml:"log_ext"`

	// Channels overrides the per-frame channel-block count; 0 means trust
	// each file's header.
	Channels int `yaml:"channels"`

	// Calibration converts raw counts to physical units at export time.
	Calibration float64 `yaml:"calibration"`

	// Workers bounds decode parallelism during a catalog build.
	Workers int `yaml:"workers"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if env := os.Getenv("TREMORCAT_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("data_dir is required")
	}
	if cfg.CatalogDir == "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return Config{}, err
		}
		cfg.CatalogDir = filepath.Join(filepath.Dir(abs), "res", filepath.Base(abs))
	}

	if cfg.RecordingExt == "" {
		cfg.RecordingExt = ".t3w"
	}
	if cfg.LogExt == "" {
		cfg.LogExt = ".log"
	}
	if !strings.HasPrefix(cfg.RecordingExt, ".") || !strings.HasPrefix(cfg.LogExt, ".") {
		return Config{}, fmt.Errorf("file extensions must start with '.'")
	}

	if cfg.Channels < 0 {
		return Config{}, fmt.Errorf("channels must be >= 0")
	}
	if cfg.Calibration == 0 {
		cfg.Calibration = t3w.DefaultCalibration
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return cfg, nil
}

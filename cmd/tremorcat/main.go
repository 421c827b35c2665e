package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"tremorcat/internal/catalog"
	"tremorcat/internal/config"
	"tremorcat/internal/t3w"
)

func main() {
	// A .env next to the binary can set TREMORCAT_* overrides during
	// development; absence is not an error.
	_ = godotenv.Load()

	configPath := os.Getenv("TREMORCAT_CONFIG")
	if configPath == "" {
		configPath = "./tremorcat.yaml"
	}
	flag.StringVar(&configPath, "config", configPath, "Path to YAML config")
	force := flag.Bool("force", false, "Rebuild the catalog even if a saved one loads cleanly")
	dump := flag.String("dump", "", "Decode one recording and write calibrated samples as CSV to stdout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *dump != "" {
		if err := dumpRecording(*dump, cfg.Channels, cfg.Calibration); err != nil {
			log.Fatalf("dump %s failed: %v", *dump, err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	t, err := loadOrBuild(ctx, cfg, *force)
	if err != nil {
		log.Fatalf("catalog failed: %v", err)
	}

	matched := 0
	for i := range t.Recordings {
		if t.Recordings[i].MatchLog >= 0 {
			matched++
		}
	}
	log.Printf("catalog: %d subdirectories, %d recordings (%d with fix), %d tracklogs, %d groups",
		len(t.Subdirs), len(t.Recordings), matched, len(t.Logs), len(t.Groups()))
	log.Printf("catalog written to %s", cfg.CatalogDir)
}

// loadOrBuild reuses a previously saved catalog when possible. Any reload
// problem, a missing referenced file included, falls back to a full rebuild
// rather than failing the run.
func loadOrBuild(ctx context.Context, cfg config.Config, force bool) (*catalog.Table, error) {
	if !force {
		t, err := catalog.Load(cfg.CatalogDir, cfg.DataDir)
		if err == nil {
			log.Printf("reusing saved catalog from %s", cfg.CatalogDir)
			return t, nil
		}
		if errors.Is(err, catalog.ErrMissingFile) {
			log.Printf("saved catalog is stale, rebuilding: %v", err)
		} else {
			log.Printf("no usable saved catalog, rebuilding: %v", err)
		}
	}

	b := &catalog.Builder{
		Root:         cfg.DataDir,
		RecordingExt: cfg.RecordingExt,
		LogExt:       cfg.LogExt,
		Channels:     cfg.Channels,
		Workers:      cfg.Workers,
	}
	t, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := catalog.Save(t, cfg.CatalogDir); err != nil {
		return nil, fmt.Errorf("saving catalog: %w", err)
	}
	return t, nil
}

// dumpRecording decodes a single file and writes one CSV row per sample
// index, one column per channel, values scaled by the calibration
// coefficient. Channels that end early leave their column empty.
func dumpRecording(path string, channels int, coeff float64) error {
	r, err := t3w.DecodeFile(path, channels)
	if err != nil {
		return err
	}

	cal := make([][]float64, len(r.Samples))
	rows := 0
	header := make([]string, len(r.Samples))
	for ch := range r.Samples {
		cal[ch] = r.Calibrated(ch, coeff)
		if len(cal[ch]) > rows {
			rows = len(cal[ch])
		}
		header[ch] = "channel_" + strconv.Itoa(ch)
	}

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, len(cal))
	for i := 0; i < rows; i++ {
		for ch := range cal {
			if i < len(cal[ch]) {
				row[ch] = strconv.FormatFloat(cal[ch][i], 'g', -1, 64)
			} else {
				row[ch] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

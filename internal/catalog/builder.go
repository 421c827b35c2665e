package catalog

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tremorcat/internal/t3w"
	"tremorcat/internal/tracklog"
)

// Builder assembles a catalog Table from the files under Root. Recordings
// are decoded independently across a bounded worker pool; grouping and
// matching run single-threaded afterwards, so the table is never observable
// in a partially built state.
type Builder struct {
	Root         string
	RecordingExt string // default ".t3w"
	LogExt       string // default ".log"
	Channels     int    // 0 = use each file's header channel count
	Workers      int    // decode parallelism, default 4
	Logger       *log.Logger
}

func (b *Builder) recordingExt() string {
	if b.RecordingExt == "" {
		return ".t3w"
	}
	return strings.ToLower(b.RecordingExt)
}

func (b *Builder) logExt() string {
	if b.LogExt == "" {
		return ".log"
	}
	return strings.ToLower(b.LogExt)
}

func (b *Builder) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// Build discovers, decodes, groups, and matches. Per-file decode and parse
// failures are logged and isolated; they never abort the batch.
func (b *Builder) Build(ctx context.Context) (*Table, error) {
	t, err := b.discover()
	if err != nil {
		return nil, err
	}
	if err := b.decodeAll(ctx, t); err != nil {
		return nil, err
	}
	assignGroups(t, b.logger())
	matchFixes(t)
	return t, nil
}

// discover walks the root for recordings and tracklogs and builds ordered
// inventories: subdirectories sorted by name and assigned stable indices,
// entries sorted by (subdirectory index, stem).
func (b *Builder) discover() (*Table, error) {
	t := &Table{Root: b.Root}
	subdirs := make(map[string]bool)

	var recPaths, logPaths []string
	err := filepath.WalkDir(b.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case b.recordingExt():
			recPaths = append(recPaths, path)
		case b.logExt():
			logPaths = append(logPaths, path)
		default:
			return nil
		}
		rel, err := filepath.Rel(b.Root, path)
		if err != nil {
			return err
		}
		subdirs[filepath.ToSlash(filepath.Dir(rel))] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	for dir := range subdirs {
		t.Subdirs = append(t.Subdirs, dir)
	}
	sort.Strings(t.Subdirs)
	index := make(map[string]int, len(t.Subdirs))
	for i, dir := range t.Subdirs {
		index[dir] = i
	}

	for _, path := range recPaths {
		rel, _ := filepath.Rel(b.Root, path)
		rel = filepath.ToSlash(rel)
		dir := filepath.ToSlash(filepath.Dir(rel))
		t.Recordings = append(t.Recordings, Recording{
			SubdirIndex: index[dir],
			Subdir:      dir,
			Stem:        stem(path),
			RelPath:     rel,
			Path:        path,
			GroupIndex:  -1,
			MatchLog:    -1,
		})
	}
	sort.Slice(t.Recordings, func(i, j int) bool {
		x, y := &t.Recordings[i], &t.Recordings[j]
		if x.SubdirIndex != y.SubdirIndex {
			return x.SubdirIndex < y.SubdirIndex
		}
		return x.Stem < y.Stem
	})

	for _, path := range logPaths {
		rel, _ := filepath.Rel(b.Root, path)
		rel = filepath.ToSlash(rel)
		dir := filepath.ToSlash(filepath.Dir(rel))
		t.Logs = append(t.Logs, Log{
			SubdirIndex: index[dir],
			Subdir:      dir,
			Stem:        stem(path),
			RelPath:     rel,
			Path:        path,
		})
	}
	sort.Slice(t.Logs, func(i, j int) bool {
		x, y := &t.Logs[i], &t.Logs[j]
		if x.SubdirIndex != y.SubdirIndex {
			return x.SubdirIndex < y.SubdirIndex
		}
		return x.Stem < y.Stem
	})

	return t, nil
}

// decodeAll runs the decode phase: recording headers and durations, plus
// tracklog fixes, across a bounded worker pool. No entry depends on another,
// so order does not matter here; the sequential grouping pass runs after.
func (b *Builder) decodeAll(ctx context.Context, t *Table) error {
	workers := b.Workers
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range t.Recordings {
		rec := &t.Recordings[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := t3w.DecodeFile(rec.Path, b.Channels)
			if err != nil {
				b.logger().Printf("skipping recording %s: %v", rec.RelPath, err)
				rec.DecodeErr = err.Error()
				return nil
			}
			rec.Duration = r.Duration()
			rec.Sequence = r.Header.SequenceNumber
			if at, err := stemTime(rec.Stem); err == nil {
				rec.Start = at
			} else {
				// Stems normally encode the nominal start time; fall back to
				// the header timestamp when the file was renamed.
				rec.Start = r.Header.StartTime
			}
			return nil
		})
	}
	for i := range t.Logs {
		lg := &t.Logs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fix, err := tracklog.ParseFile(lg.Path)
			if err != nil {
				b.logger().Printf("tracklog %s has no usable fix: %v", lg.RelPath, err)
				return nil
			}
			lg.Fix = &fix
			return nil
		})
	}
	return g.Wait()
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// stemTime parses the nominal start time the logger encodes in a file stem:
// fourteen digits of YYYYMMDDHHMMSS followed by a four-character suffix.
func stemTime(s string) (time.Time, error) {
	if len(s) > 4 {
		s = s[:len(s)-4]
	}
	return time.Parse("20060102150405", s)
}

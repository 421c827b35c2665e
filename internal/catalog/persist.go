package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tremorcat/internal/tracklog"
)

// Catalog files written next to each other in the catalog directory. The
// recordings and logs tables are the persisted catalog proper; groups.csv is
// a derived per-group summary refreshed on every build.
const (
	RecordingsFile = "recordings.csv"
	LogsFile       = "logs.csv"
	GroupsFile     = "groups.csv"
)

var (
	recordingHeader = []string{
		"rel_path", "sub_dir_name", "sub_dir_index", "stem",
		"group_index", "match_log_index",
		"latitude", "longitude", "altitude", "geoid_height", "num_satellites", "hdop",
	}
	logHeader = []string{
		"rel_path", "sub_dir_name", "sub_dir_index", "stem",
		"latitude", "longitude", "altitude", "geoid_height", "num_satellites", "hdop",
	}
	groupHeader = []string{
		"group_index", "sub_dir_index", "num_recordings", "start", "end",
		"latitude", "longitude", "altitude", "geoid_height", "num_satellites", "hdop",
	}
)

// Save writes the recordings and logs tables, plus the group summary, into
// dir. Paths are stored relative to the table root so the catalog survives a
// moved data directory.
func Save(t *Table, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	recRows := make([][]string, 0, len(t.Recordings))
	for i := range t.Recordings {
		rec := &t.Recordings[i]
		row := []string{
			rec.RelPath, rec.Subdir, strconv.Itoa(rec.SubdirIndex), rec.Stem,
			strconv.Itoa(rec.GroupIndex), strconv.Itoa(rec.MatchLog),
		}
		recRows = append(recRows, append(row, fixColumns(rec.Fix)...))
	}
	if err := writeCSV(filepath.Join(dir, RecordingsFile), recordingHeader, recRows); err != nil {
		return err
	}

	logRows := make([][]string, 0, len(t.Logs))
	for i := range t.Logs {
		lg := &t.Logs[i]
		row := []string{lg.RelPath, lg.Subdir, strconv.Itoa(lg.SubdirIndex), lg.Stem}
		logRows = append(logRows, append(row, fixColumns(lg.Fix)...))
	}
	if err := writeCSV(filepath.Join(dir, LogsFile), logHeader, logRows); err != nil {
		return err
	}

	groups := t.Groups()
	groupRows := make([][]string, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		row := []string{
			strconv.Itoa(g.Index), strconv.Itoa(g.SubdirIndex), strconv.Itoa(g.Recordings),
			timeColumn(g.Start), timeColumn(g.End),
		}
		groupRows = append(groupRows, append(row, fixColumns(g.Fix)...))
	}
	return writeCSV(filepath.Join(dir, GroupsFile), groupHeader, groupRows)
}

// Load reads a previously saved catalog from dir and re-resolves its
// relative paths against root. Grouping and matching decisions are kept
// as-is, not recomputed. Any referenced file that no longer exists makes the
// whole reload fail with ErrMissingFile so the caller can rebuild.
func Load(dir, root string) (*Table, error) {
	recRows, err := readCSV(filepath.Join(dir, RecordingsFile), recordingHeader)
	if err != nil {
		return nil, err
	}
	logRows, err := readCSV(filepath.Join(dir, LogsFile), logHeader)
	if err != nil {
		return nil, err
	}

	t := &Table{Root: root}
	subdirs := make(map[int]string)

	for _, row := range recRows {
		subdirIndex, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("catalog: bad sub_dir_index %q: %w", row[2], err)
		}
		groupIndex, err := strconv.Atoi(row[4])
		if err != nil {
			return nil, fmt.Errorf("catalog: bad group_index %q: %w", row[4], err)
		}
		matchLog, err := strconv.Atoi(row[5])
		if err != nil {
			return nil, fmt.Errorf("catalog: bad match_log_index %q: %w", row[5], err)
		}
		fix, err := parseFixColumns(row[6:12])
		if err != nil {
			return nil, err
		}
		path, err := resolve(root, row[0])
		if err != nil {
			return nil, err
		}
		subdirs[subdirIndex] = row[1]
		t.Recordings = append(t.Recordings, Recording{
			SubdirIndex: subdirIndex,
			Subdir:      row[1],
			Stem:        row[3],
			RelPath:     row[0],
			Path:        path,
			GroupIndex:  groupIndex,
			MatchLog:    matchLog,
			Fix:         fix,
		})
	}

	for _, row := range logRows {
		subdirIndex, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("catalog: bad sub_dir_index %q: %w", row[2], err)
		}
		fix, err := parseFixColumns(row[4:10])
		if err != nil {
			return nil, err
		}
		path, err := resolve(root, row[0])
		if err != nil {
			return nil, err
		}
		subdirs[subdirIndex] = row[1]
		t.Logs = append(t.Logs, Log{
			SubdirIndex: subdirIndex,
			Subdir:      row[1],
			Stem:        row[3],
			RelPath:     row[0],
			Path:        path,
			Fix:         fix,
		})
	}

	max := -1
	for i := range subdirs {
		if i > max {
			max = i
		}
	}
	t.Subdirs = make([]string, max+1)
	for i, name := range subdirs {
		t.Subdirs[i] = name
	}

	return t, nil
}

func resolve(root, rel string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	return path, nil
}

func fixColumns(fix *tracklog.Fix) []string {
	if fix == nil {
		return []string{"", "", "", "", "", ""}
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		f(fix.Latitude), f(fix.Longitude), f(fix.Altitude),
		f(fix.GeoidHeight), f(fix.Satellites), f(fix.HDOP),
	}
}

func parseFixColumns(cols []string) (*tracklog.Fix, error) {
	if cols[0] == "" {
		return nil, nil
	}
	vals := make([]float64, len(cols))
	for i, c := range cols {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, fmt.Errorf("catalog: bad fix column %q: %w", c, err)
		}
		vals[i] = v
	}
	return &tracklog.Fix{
		Latitude:    vals[0],
		Longitude:   vals[1],
		Altitude:    vals[2],
		GeoidHeight: vals[3],
		Satellites:  vals[4],
		HDOP:        vals[5],
	}, nil
}

func timeColumn(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readCSV(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty catalog file", path)
	}
	if len(rows[0]) != len(header) {
		return nil, fmt.Errorf("%s: expected %d columns, got %d", path, len(header), len(rows[0]))
	}
	for i, name := range header {
		if rows[0][i] != name {
			return nil, fmt.Errorf("%s: unexpected column %q, want %q", path, rows[0][i], name)
		}
	}
	return rows[1:], nil
}

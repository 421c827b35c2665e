// Package catalog discovers T3W recordings and GPS tracklogs under a data
// root, validates recording continuity, associates recordings with tracklog
// fixes, and persists the result so later runs can reuse prior decisions.
package catalog

import (
	"errors"
	"time"

	"tremorcat/internal/tracklog"
)

// ErrMissingFile reports that a reloaded catalog references a file that no
// longer exists after re-resolving relative paths against the current root.
// The caller is expected to fall back to a full rebuild.
var ErrMissingFile = errors.New("catalog: missing file")

// Recording is one cataloged T3W file. GroupIndex ties together recordings
// that are temporally contiguous at the same site; MatchLog points at the
// tracklog whose validity window contains the recording, -1 when unmatched.
// Fix is copied from the matched log, nil when there is none - never zero
// coordinates.
type Recording struct {
	SubdirIndex int
	Subdir      string
	Stem        string
	RelPath     string
	Path        string
	GroupIndex  int
	MatchLog    int
	Fix         *tracklog.Fix

	// Decode-derived fields, populated during a build pass only. A reloaded
	// catalog keeps its grouping and matching decisions without recomputing
	// them, so these stay zero after Load.
	Start    time.Time // nominal start, derived from the file stem
	Duration time.Duration
	Sequence uint16
	DecodeErr string
}

// End is the nominal end of the recording.
func (r *Recording) End() time.Time { return r.Start.Add(r.Duration) }

// Log is one cataloged tracklog. Fix is nil when the log yields no valid
// fix; such logs stay in the catalog but never match a recording.
type Log struct {
	SubdirIndex int
	Subdir      string
	Stem        string
	RelPath     string
	Path        string
	Fix         *tracklog.Fix
}

// Table is the completed catalog: per-subdirectory inventories of
// recordings and logs, ordered by (subdirectory index, stem). It is built by
// a Builder and immutable once returned.
type Table struct {
	Root       string
	Subdirs    []string
	Recordings []Recording
	Logs       []Log
}

// Group summarizes one contiguous recording group: member count, the span
// of member start times, and the fix of the member with the lowest HDOP.
type Group struct {
	Index       int
	SubdirIndex int
	Recordings  int
	Start       time.Time
	End         time.Time
	Fix         *tracklog.Fix
}

// Groups aggregates the table's recordings by group index, in index order.
// Ungrouped recordings (failed decodes) are skipped.
func (t *Table) Groups() []Group {
	var groups []Group
	byIndex := make(map[int]int)
	for i := range t.Recordings {
		rec := &t.Recordings[i]
		if rec.GroupIndex < 0 {
			continue
		}
		gi, ok := byIndex[rec.GroupIndex]
		if !ok {
			gi = len(groups)
			byIndex[rec.GroupIndex] = gi
			groups = append(groups, Group{
				Index:       rec.GroupIndex,
				SubdirIndex: rec.SubdirIndex,
				Start:       rec.Start,
				End:         rec.Start,
			})
		}
		g := &groups[gi]
		g.Recordings++
		if rec.Start.Before(g.Start) {
			g.Start = rec.Start
		}
		if rec.Start.After(g.End) {
			g.End = rec.Start
		}
		if rec.Fix != nil && (g.Fix == nil || rec.Fix.HDOP < g.Fix.HDOP) {
			g.Fix = rec.Fix
		}
	}
	return groups
}

package catalog

import "log"

// assignGroups walks recordings in (subdirectory, nominal start) order and
// assigns a group index to each: the index advances whenever a recording
// does not start exactly where the previous one ended (no tolerance), or at
// a subdirectory change. Recordings that failed to decode keep group -1 and
// break the contiguity chain.
//
// The header sequence number cross-checks boundaries only: a nonzero
// sequence at a detected boundary means files are probably missing and is
// warned about once; a zero sequence there is the expected first-of-run
// case. In-sequence positions are never checked.
func assignGroups(t *Table, logger *log.Logger) {
	group := -1
	var prev *Recording
	for i := range t.Recordings {
		rec := &t.Recordings[i]
		if rec.DecodeErr != "" {
			rec.GroupIndex = -1
			continue
		}
		boundary := prev == nil ||
			prev.SubdirIndex != rec.SubdirIndex ||
			!rec.Start.Equal(prev.End())
		if boundary {
			group++
			if prev != nil && rec.Sequence != 0 {
				logger.Printf("possible missing files before %s", rec.RelPath)
			}
		}
		rec.GroupIndex = group
		prev = rec
	}
}

// matchFixes associates each recording with the first same-subdirectory
// tracklog, in ascending log order, whose validity window contains the
// recording: log.start <= recording.end and recording.start <= log.end,
// both bounds inclusive. The matched fix is copied into the entry; no match
// leaves MatchLog -1 and Fix nil.
func matchFixes(t *Table) {
	for i := range t.Recordings {
		rec := &t.Recordings[i]
		rec.MatchLog = -1
		rec.Fix = nil
		if rec.DecodeErr != "" || rec.Start.IsZero() {
			continue
		}
		end := rec.End()
		for j := range t.Logs {
			lg := &t.Logs[j]
			if lg.SubdirIndex != rec.SubdirIndex || lg.Fix == nil {
				continue
			}
			if !lg.Fix.Start.After(end) && !rec.Start.After(lg.Fix.End) {
				rec.MatchLog = j
				fix := *lg.Fix
				rec.Fix = &fix
				break
			}
		}
	}
}

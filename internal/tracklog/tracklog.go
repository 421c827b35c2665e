// Package tracklog resolves a GPS receiver tracklog (one NMEA sentence per
// line) into a single best-available fix plus the validity window of the
// sentences behind it.
package tracklog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// ErrNoValidFix reports that a tracklog holds no usable position: either no
// GGA sentence passed quality filtering or the log lacks the sentences
// needed to date it. Recordings matched against such a log simply stay
// unmatched; the error never fails the whole pipeline.
var ErrNoValidFix = errors.New("tracklog: no valid fix")

// Fix is the resolved location of one tracklog: the arithmetic mean of all
// GGA sentences sharing the minimum HDOP among quality >= 1 sentences.
// Start/End bound the validity window of every parsed GGA sentence in the
// file, independent of the averaged subset.
type Fix struct {
	Latitude    float64 // signed, south negative
	Longitude   float64 // signed, west negative
	Altitude    float64
	GeoidHeight float64
	Satellites  float64
	HDOP        float64
	Quality     float64
	Start       time.Time
	End         time.Time
}

type ggaAt struct {
	at      time.Time
	quality int
	gga     nmea.GGA
}

// ParseFile reads and resolves one tracklog file.
func ParseFile(path string) (Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fix{}, err
	}
	defer f.Close()
	fix, err := Parse(f)
	if err != nil {
		return Fix{}, fmt.Errorf("%s: %w", path, err)
	}
	return fix, nil
}

// Parse scans lines for GGA and ZDA sentences. The log's calendar date comes
// from the first valid ZDA sentence and is applied to every GGA time of day;
// a log is assumed to span less than 24h, so the date never rolls over (a
// known limitation, deliberately kept).
//
// Sentences that fail NMEA parsing (bad checksum, empty or malformed
// required fields) are discarded, not fatal.
func Parse(r io.Reader) (Fix, error) {
	var (
		records  []ggaAt
		date     time.Time
		haveDate bool
	)

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := nmea.Parse(line)
		if err != nil {
			continue
		}
		switch sent.DataType() {
		case nmea.TypeGGA:
			g := sent.(nmea.GGA)
			if !fieldsPresent(g.Fields, 0, 1, 2, 3, 4, 5, 6, 7, 8, 10) {
				continue
			}
			q, err := strconv.Atoi(g.FixQuality)
			if err != nil {
				continue
			}
			records = append(records, ggaAt{quality: q, gga: g})
		case nmea.TypeZDA:
			z := sent.(nmea.ZDA)
			if haveDate || !fieldsPresent(z.Fields, 0, 1, 2, 3) {
				continue
			}
			date = time.Date(int(z.Year), time.Month(z.Month), int(z.Day), 0, 0, 0, 0, time.UTC)
			haveDate = true
		}
	}
	if err := s.Err(); err != nil {
		return Fix{}, err
	}

	if !haveDate {
		return Fix{}, fmt.Errorf("%w: no ZDA date sentence", ErrNoValidFix)
	}
	if len(records) == 0 {
		return Fix{}, fmt.Errorf("%w: no GGA sentence", ErrNoValidFix)
	}
	for i := range records {
		t := records[i].gga.Time
		records[i].at = date.Add(time.Duration(t.Hour)*time.Hour +
			time.Duration(t.Minute)*time.Minute +
			time.Duration(t.Second)*time.Second +
			time.Duration(t.Millisecond)*time.Millisecond)
	}

	var used []ggaAt
	for _, rec := range records {
		if rec.quality >= 1 {
			used = append(used, rec)
		}
	}
	if len(used) == 0 {
		return Fix{}, fmt.Errorf("%w: no sentence with quality >= 1", ErrNoValidFix)
	}

	minHDOP := used[0].gga.HDOP
	for _, rec := range used[1:] {
		if rec.gga.HDOP < minHDOP {
			minHDOP = rec.gga.HDOP
		}
	}

	fix := Fix{
		Start: records[0].at,
		End:   records[len(records)-1].at,
	}
	n := 0.0
	for _, rec := range used {
		if rec.gga.HDOP != minHDOP {
			continue
		}
		fix.Latitude += rec.gga.Latitude
		fix.Longitude += rec.gga.Longitude
		fix.Altitude += rec.gga.Altitude
		fix.GeoidHeight += rec.gga.Separation
		fix.Satellites += float64(rec.gga.NumSatellites)
		fix.HDOP += rec.gga.HDOP
		fix.Quality += float64(rec.quality)
		n++
	}
	fix.Latitude /= n
	fix.Longitude /= n
	fix.Altitude /= n
	fix.GeoidHeight /= n
	fix.Satellites /= n
	fix.HDOP /= n
	fix.Quality /= n

	return fix, nil
}

// fieldsPresent reports whether every listed comma-separated payload field
// exists and is non-empty.
func fieldsPresent(fields []string, idx ...int) bool {
	for _, i := range idx {
		if i >= len(fields) || fields[i] == "" {
			return false
		}
	}
	return true
}

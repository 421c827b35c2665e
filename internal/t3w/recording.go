package t3w

import (
	"fmt"
	"os"
	"time"
)

// DefaultCalibration converts raw counts to physical units for the stock
// sensor configuration (2.048 V over a signed 24-bit range).
const DefaultCalibration = 2.048 / (1 << 23)

// Recording is one fully decoded T3W file: the parsed header, one continuous
// raw sample array per channel, and per-frame timing metadata. It is
// immutable after Decode returns. Samples hold raw integer counts; apply the
// calibration coefficient only at the point of export via Calibrated.
type Recording struct {
	Path     string
	Header   Header
	Samples  [][]int32
	Frames   []FrameInfo
	Channels []ChannelID
}

// Decode parses a complete T3W file image. channels overrides the number of
// channel blocks per frame; zero or negative means use the header's count.
func Decode(data []byte, channels int) (*Recording, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if channels <= 0 {
		channels = h.NumChannels
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count is %d", ErrMalformedHeader, channels)
	}

	samples, frames, ids, err := decodePayload(data[HeaderSize:], channels)
	if err != nil {
		return nil, err
	}
	return &Recording{
		Header:   h,
		Samples:  samples,
		Frames:   frames,
		Channels: ids,
	}, nil
}

// DecodeFile reads and decodes one T3W file.
func DecodeFile(path string, channels int) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := Decode(data, channels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rec.Path = path
	return rec, nil
}

// Duration is the recording length derived from the first frame's declared
// per-channel sample count and the header's sampling interval. Files are
// assumed uniform; a later frame with a different count does not change it.
func (r *Recording) Duration() time.Duration {
	if len(r.Frames) == 0 {
		return 0
	}
	return time.Duration(len(r.Frames)*r.Frames[0].Samples) * r.Header.SampleInterval
}

// Calibrated returns channel ch scaled by the calibration coefficient. The
// coefficient is caller-supplied, not embedded in the file.
func (r *Recording) Calibrated(ch int, coeff float64) []float64 {
	raw := r.Samples[ch]
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) * coeff
	}
	return out
}

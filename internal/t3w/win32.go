package t3w

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Decode failure kinds. All file-level decode errors wrap exactly one of
// these so callers can classify with errors.Is and keep the batch going.
var (
	ErrMalformedHeader       = errors.New("t3w: malformed header")
	ErrInvalidFrameTimestamp = errors.New("t3w: invalid frame timestamp")
	ErrTruncated             = errors.New("t3w: truncated payload")
	ErrUnsupportedSampleSize = errors.New("t3w: unsupported sample size code")
)

// Frame layout inside the WIN32 payload:
//
//   - 8-byte BCD start timestamp (YYYYMMDDhhmmss + centiseconds)
//   - uint32 frame duration in milliseconds
//   - uint32 channel-block length
//   - one channel block per configured channel
//
// A channel block:
//
//   - int8 org id, int8 net id, int16 channel id
//   - uint16: high nibble = sample-size code (0-4), low 12 bits = sample count
//   - int32 initial absolute sample
//   - count-1 deltas, width selected by the sample-size code
const frameHeaderSize = 16

// FrameInfo is the timing metadata of one payload frame. Samples is the
// declared per-channel sample count of the frame's first channel block.
type FrameInfo struct {
	Start    time.Time
	Duration time.Duration
	BlockLen uint32
	Samples  int
}

// ChannelID identifies one channel block's origin.
type ChannelID struct {
	Org     int8
	Net     int8
	Channel int16
}

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) take(n int) ([]byte, bool) {
	if c.remaining() < n {
		return nil, false
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

func (c *cursor) byte() (byte, bool) {
	if c.remaining() < 1 {
		return 0, false
	}
	b := c.data[c.pos]
	c.pos++
	return b, true
}

// deltaDecoder reads the next delta and advances the cursor. There is one
// implementation per sample-size code; a decoder instance is valid for a
// single channel block's delta stream.
type deltaDecoder interface {
	next(c *cursor) (int32, bool)
}

func newDeltaDecoder(code int) (deltaDecoder, error) {
	switch code {
	case 0:
		return &nibbleDecoder{}, nil
	case 1:
		return int8Decoder{}, nil
	case 2:
		return int16Decoder{}, nil
	case 3:
		return int24Decoder{}, nil
	case 4:
		return int32Decoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSampleSize, code)
	}
}

// nibbleDecoder unpacks two signed 4-bit deltas per byte. The high nibble
// belongs to the earlier sample, so it is returned first and the low nibble
// is held for the following call.
type nibbleDecoder struct {
	low  byte
	held bool
}

func (d *nibbleDecoder) next(c *cursor) (int32, bool) {
	if d.held {
		d.held = false
		return signExtend4(d.low), true
	}
	b, ok := c.byte()
	if !ok {
		return 0, false
	}
	d.low = b & 0x0f
	d.held = true
	return signExtend4(b >> 4), true
}

type int8Decoder struct{}

func (int8Decoder) next(c *cursor) (int32, bool) {
	b, ok := c.byte()
	if !ok {
		return 0, false
	}
	return int32(int8(b)), true
}

type int16Decoder struct{}

func (int16Decoder) next(c *cursor) (int32, bool) {
	b, ok := c.take(2)
	if !ok {
		return 0, false
	}
	return int32(int16(binary.BigEndian.Uint16(b))), true
}

type int24Decoder struct{}

func (int24Decoder) next(c *cursor) (int32, bool) {
	b, ok := c.take(3)
	if !ok {
		return 0, false
	}
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v, true
}

type int32Decoder struct{}

func (int32Decoder) next(c *cursor) (int32, bool) {
	b, ok := c.take(4)
	if !ok {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(b)), true
}

func signExtend4(n byte) int32 {
	v := int32(n & 0x0f)
	if v >= 8 {
		v -= 16
	}
	return v
}

// decodePayload reads the framed WIN32 region that follows the fixed header.
// It fills one continuous sample array per channel. EOF at a frame-header
// boundary ends the stream; running out of bytes inside a channel block is a
// truncation error.
func decodePayload(payload []byte, channels int) (samples [][]int32, frames []FrameInfo, ids []ChannelID, err error) {
	c := &cursor{data: payload}
	// 4-byte magic, discarded. A payload shorter than the magic holds no frames.
	if _, ok := c.take(4); !ok {
		return make([][]int32, channels), nil, make([]ChannelID, channels), nil
	}

	samples = make([][]int32, channels)
	ids = make([]ChannelID, channels)
	be := binary.BigEndian

	for {
		hdr, ok := c.take(frameHeaderSize)
		if !ok {
			// End of stream, including a partial trailing frame header.
			return samples, frames, ids, nil
		}
		start, terr := bcdTime(hdr[:8])
		if terr != nil {
			return nil, nil, nil, fmt.Errorf("frame %d: %w: %v", len(frames), ErrInvalidFrameTimestamp, terr)
		}
		fi := FrameInfo{
			Start:    start,
			Duration: time.Duration(be.Uint32(hdr[8:12])) * time.Millisecond,
			BlockLen: be.Uint32(hdr[12:16]),
		}

		for ch := 0; ch < channels; ch++ {
			count, err := decodeChannelBlock(c, &ids[ch], &samples[ch])
			if err != nil {
				return nil, nil, nil, fmt.Errorf("frame %d channel %d: %w", len(frames), ch, err)
			}
			if ch == 0 {
				fi.Samples = count
			}
		}
		frames = append(frames, fi)
	}
}

func decodeChannelBlock(c *cursor, id *ChannelID, out *[]int32) (int, error) {
	hdr, ok := c.take(6)
	if !ok {
		return 0, ErrTruncated
	}
	id.Org = int8(hdr[0])
	id.Net = int8(hdr[1])
	id.Channel = int16(binary.BigEndian.Uint16(hdr[2:4]))

	sizeCount := binary.BigEndian.Uint16(hdr[4:6])
	code := int(sizeCount >> 12)
	count := int(sizeCount & 0x0fff)

	dec, err := newDeltaDecoder(code)
	if err != nil {
		return 0, err
	}

	first, ok := c.take(4)
	if !ok {
		return 0, ErrTruncated
	}
	acc := int32(binary.BigEndian.Uint32(first))
	if count > 0 {
		*out = append(*out, acc)
	}
	for i := 1; i < count; i++ {
		d, ok := dec.next(c)
		if !ok {
			return 0, fmt.Errorf("%w: sample %d of %d", ErrTruncated, i, count)
		}
		acc += d
		*out = append(*out, acc)
	}
	return count, nil
}

// bcdTime decodes the frame start timestamp: 8 BCD bytes holding
// YYYYMMDDhhmmss plus centiseconds, validated as a real calendar time.
func bcdTime(b []byte) (time.Time, error) {
	var d [8]int
	for i, v := range b {
		hi, lo := int(v>>4), int(v&0x0f)
		if hi > 9 || lo > 9 {
			return time.Time{}, fmt.Errorf("byte %d is not BCD: %#02x", i, v)
		}
		d[i] = hi*10 + lo
	}
	s := fmt.Sprintf("%02d%02d%02d%02d%02d%02d%02d", d[0], d[1], d[2], d[3], d[4], d[5], d[6])
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(d[7]) * 10 * time.Millisecond), nil
}

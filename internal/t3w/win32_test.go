package t3w

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
	"time"
)

// --- fixture encoders ---

func bcd(v int) byte { return byte(v/10)<<4 | byte(v%10) }

func frameTimestamp(year, month, day, hour, min, sec, centi int) []byte {
	return []byte{
		bcd(year / 100), bcd(year % 100), bcd(month), bcd(day),
		bcd(hour), bcd(min), bcd(sec), bcd(centi),
	}
}

// encodeBlock builds one channel block carrying the given absolute samples
// using the requested sample-size code.
func encodeBlock(t *testing.T, code int, samples []int32) []byte {
	t.Helper()
	if len(samples) == 0 || len(samples) > 0x0fff {
		t.Fatalf("bad sample count %d", len(samples))
	}
	var b []byte
	b = append(b, 0, 0, 0, 1) // org, net, channel id
	b = binary.BigEndian.AppendUint16(b, uint16(code)<<12|uint16(len(samples)))
	b = binary.BigEndian.AppendUint32(b, uint32(samples[0]))

	var nibbles []byte
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		switch code {
		case 0:
			if d < -8 || d > 7 {
				t.Fatalf("delta %d does not fit a nibble", d)
			}
			nibbles = append(nibbles, byte(d)&0x0f)
		case 1:
			b = append(b, byte(int8(d)))
		case 2:
			b = binary.BigEndian.AppendUint16(b, uint16(int16(d)))
		case 3:
			u := uint32(d) & 0xffffff
			b = append(b, byte(u>>16), byte(u>>8), byte(u))
		case 4:
			b = binary.BigEndian.AppendUint32(b, uint32(d))
		}
	}
	if code == 0 {
		for i := 0; i < len(nibbles); i += 2 {
			hi := nibbles[i] << 4
			if i+1 < len(nibbles) {
				hi |= nibbles[i+1]
			}
			b = append(b, hi)
		}
	}
	return b
}

func encodeFrame(durationMS uint32, blocks ...[]byte) []byte {
	var body []byte
	for _, blk := range blocks {
		body = append(body, blk...)
	}
	var b []byte
	b = append(b, frameTimestamp(2024, 3, 15, 12, 0, 0, 0)...)
	b = binary.BigEndian.AppendUint32(b, durationMS)
	b = binary.BigEndian.AppendUint32(b, uint32(len(body)))
	return append(b, body...)
}

func payload(frames ...[]byte) []byte {
	b := []byte{'W', 'I', 'N', '3'} // magic, discarded by the decoder
	for _, f := range frames {
		b = append(b, f...)
	}
	return b
}

// --- tests ---

func TestDecodePayload_RoundTripAllCodes(t *testing.T) {
	cases := []struct {
		code    int
		samples []int32
	}{
		{0, []int32{100, 101, 103, 100, 95, 95}},
		{1, []int32{-5, 120, 0, -128, -1}},
		{2, []int32{1000, -31768, 1000, 999}},
		{3, []int32{1 << 22, 0, -(1 << 22), -(1 << 22) + 7}},
		{4, []int32{0, 2000000000, -2000000000, 17}},
	}
	for _, tc := range cases {
		blk := encodeBlock(t, tc.code, tc.samples)
		samples, frames, _, err := decodePayload(payload(encodeFrame(1000, blk)), 1)
		if err != nil {
			t.Fatalf("code %d: decode failed: %v", tc.code, err)
		}
		if len(frames) != 1 {
			t.Fatalf("code %d: expected 1 frame, got %d", tc.code, len(frames))
		}
		if !reflect.DeepEqual(samples[0], tc.samples) {
			t.Fatalf("code %d: got %v, want %v", tc.code, samples[0], tc.samples)
		}
	}
}

func TestDecodePayload_NibbleOrderHighFirst(t *testing.T) {
	// Deltas +1,+2,+3,+4 packed as 0x12 0x34: the high nibble of each byte
	// decodes before the low nibble of the same byte.
	var blk []byte
	blk = append(blk, 0, 0, 0, 1)
	blk = binary.BigEndian.AppendUint16(blk, 0<<12|5)
	blk = binary.BigEndian.AppendUint32(blk, 10)
	blk = append(blk, 0x12, 0x34)

	samples, _, _, err := decodePayload(payload(encodeFrame(1000, blk)), 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := []int32{10, 11, 13, 16, 20}
	if !reflect.DeepEqual(samples[0], want) {
		t.Fatalf("got %v, want %v", samples[0], want)
	}
}

func TestDecodePayload_NegativeNibbles(t *testing.T) {
	// 0xF8 = deltas -1, -8.
	var blk []byte
	blk = append(blk, 0, 0, 0, 1)
	blk = binary.BigEndian.AppendUint16(blk, 0<<12|3)
	blk = binary.BigEndian.AppendUint32(blk, 0)
	blk = append(blk, 0xf8)

	samples, _, _, err := decodePayload(payload(encodeFrame(1000, blk)), 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := []int32{0, -1, -9}
	if !reflect.DeepEqual(samples[0], want) {
		t.Fatalf("got %v, want %v", samples[0], want)
	}
}

func TestDecodePayload_Int24SignExtension(t *testing.T) {
	var blk []byte
	blk = append(blk, 0, 0, 0, 1)
	blk = binary.BigEndian.AppendUint16(blk, 3<<12|2)
	blk = binary.BigEndian.AppendUint32(blk, 5)
	blk = append(blk, 0xff, 0xff, 0xff) // delta -1

	samples, _, _, err := decodePayload(payload(encodeFrame(1000, blk)), 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := []int32{5, 4}
	if !reflect.DeepEqual(samples[0], want) {
		t.Fatalf("got %v, want %v", samples[0], want)
	}
}

func TestDecodePayload_AccumulatorContinuesAcrossFrames(t *testing.T) {
	// Two frames for the same channel: the output is one continuous array,
	// the second block re-seeded by its own absolute initial sample.
	f1 := encodeFrame(1000, encodeBlock(t, 1, []int32{10, 11, 12}))
	f2 := encodeFrame(1000, encodeBlock(t, 1, []int32{12, 13, 14}))

	samples, frames, _, err := decodePayload(payload(f1, f2), 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	want := []int32{10, 11, 12, 12, 13, 14}
	if !reflect.DeepEqual(samples[0], want) {
		t.Fatalf("got %v, want %v", samples[0], want)
	}
}

func TestDecodePayload_MultiChannel(t *testing.T) {
	blkA := encodeBlock(t, 1, []int32{1, 2, 3})
	blkB := encodeBlock(t, 2, []int32{-100, -200, -300})
	samples, frames, _, err := decodePayload(payload(encodeFrame(1000, blkA, blkB)), 2)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frames[0].Samples != 3 {
		t.Fatalf("expected declared count 3, got %d", frames[0].Samples)
	}
	if !reflect.DeepEqual(samples[0], []int32{1, 2, 3}) {
		t.Fatalf("channel 0: got %v", samples[0])
	}
	if !reflect.DeepEqual(samples[1], []int32{-100, -200, -300}) {
		t.Fatalf("channel 1: got %v", samples[1])
	}
}

func TestDecodePayload_TruncatedInsideBlock(t *testing.T) {
	full := payload(encodeFrame(1000, encodeBlock(t, 2, []int32{0, 1, 2, 3})))
	_, _, _, err := decodePayload(full[:len(full)-1], 1)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodePayload_PartialFrameHeaderIsCleanEOF(t *testing.T) {
	full := payload(encodeFrame(1000, encodeBlock(t, 1, []int32{7, 8})))
	// Append 5 stray bytes: not enough for a frame header, so the stream
	// ends cleanly after the complete first frame.
	cut := append(append([]byte{}, full...), 1, 2, 3, 4, 5)
	samples, frames, _, err := decodePayload(cut, 1)
	if err != nil {
		t.Fatalf("expected clean EOF, got %v", err)
	}
	if len(frames) != 1 || !reflect.DeepEqual(samples[0], []int32{7, 8}) {
		t.Fatalf("unexpected result: frames=%d samples=%v", len(frames), samples[0])
	}
}

func TestDecodePayload_EmptyPayload(t *testing.T) {
	samples, frames, _, err := decodePayload(nil, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(frames) != 0 || len(samples) != 3 {
		t.Fatalf("expected 3 empty channels, got frames=%d channels=%d", len(frames), len(samples))
	}
}

func TestDecodePayload_UnsupportedSampleSize(t *testing.T) {
	var blk []byte
	blk = append(blk, 0, 0, 0, 1)
	blk = binary.BigEndian.AppendUint16(blk, 5<<12|2)
	blk = binary.BigEndian.AppendUint32(blk, 0)
	blk = append(blk, 0)

	_, _, _, err := decodePayload(payload(encodeFrame(1000, blk)), 1)
	if !errors.Is(err, ErrUnsupportedSampleSize) {
		t.Fatalf("expected ErrUnsupportedSampleSize, got %v", err)
	}
}

func TestDecodePayload_InvalidFrameTimestamp(t *testing.T) {
	f := encodeFrame(1000, encodeBlock(t, 1, []int32{1, 2}))
	f[3] = 0x99 // day 99
	_, _, _, err := decodePayload(payload(f), 1)
	if !errors.Is(err, ErrInvalidFrameTimestamp) {
		t.Fatalf("expected ErrInvalidFrameTimestamp, got %v", err)
	}

	f2 := encodeFrame(1000, encodeBlock(t, 1, []int32{1, 2}))
	f2[2] = 0xab // non-BCD nibbles
	_, _, _, err = decodePayload(payload(f2), 1)
	if !errors.Is(err, ErrInvalidFrameTimestamp) {
		t.Fatalf("expected ErrInvalidFrameTimestamp for non-BCD byte, got %v", err)
	}
}

func TestDecodePayload_FrameMetadata(t *testing.T) {
	f := encodeFrame(1000, encodeBlock(t, 1, []int32{0, 1}))
	_, frames, _, err := decodePayload(payload(f), 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if !frames[0].Start.Equal(want) {
		t.Fatalf("frame start = %v, want %v", frames[0].Start, want)
	}
	if frames[0].Duration != time.Second {
		t.Fatalf("frame duration = %v, want 1s", frames[0].Duration)
	}
}

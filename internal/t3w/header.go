package t3w

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the fixed-layout header region at the start of every T3W file.
const HeaderSize = 1024

// Header is the parsed 1024-byte T3W file header. All multi-byte fields are
// big-endian at fixed offsets. Latitude/Longitude are the low-precision
// coordinates the logger writes into the header (whole minutes); they are
// informational only and not a substitute for the tracklog fix.
type Header struct {
	DeviceName     string
	DeviceNumber   uint16
	NumChannels    int
	SampleInterval time.Duration // between consecutive samples
	Delay          time.Duration
	SequenceNumber uint16 // 0 = first file of a run, nonzero = continuation
	StartTime      time.Time
	RunStartTime   time.Time // start of the first file in the continuous run
	ChannelOffsets [3]uint32
	Latitude       float64 // signed, south negative
	Longitude      float64 // signed, west negative
}

func parseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header region is %d bytes, want %d", ErrMalformedHeader, len(data), HeaderSize)
	}

	be := binary.BigEndian

	start, err := headerTime(data[52:66])
	if err != nil {
		return Header{}, fmt.Errorf("%w: start time: %v", ErrMalformedHeader, err)
	}
	runStart, err := headerTime(data[66:80])
	if err != nil {
		return Header{}, fmt.Errorf("%w: run start time: %v", ErrMalformedHeader, err)
	}

	h := Header{
		DeviceName:     string(bytes.Trim(data[4:16], "\x00 ")),
		DeviceNumber:   be.Uint16(data[24:26]),
		NumChannels:    int(be.Uint16(data[30:32])),
		SampleInterval: time.Duration(be.Uint16(data[40:42])) * time.Millisecond,
		Delay:          time.Duration(be.Uint16(data[42:44])) * time.Millisecond,
		SequenceNumber: be.Uint16(data[50:52]),
		StartTime:      start,
		RunStartTime:   runStart,
	}
	for i := range h.ChannelOffsets {
		h.ChannelOffsets[i] = be.Uint32(data[224+4*i : 228+4*i])
	}

	lat := float64(be.Uint32(data[808:812])) + float64(be.Uint32(data[812:816]))/60
	lon := float64(be.Uint32(data[816:820])) + float64(be.Uint32(data[820:824]))/60
	if data[828] == 'S' {
		lat = -lat
	}
	if data[829] == 'W' {
		lon = -lon
	}
	h.Latitude = lat
	h.Longitude = lon

	return h, nil
}

// headerTime decodes one of the header's timestamp groups: seven big-endian
// uint16 fields (year, month, day, hour, minute, second, centiseconds), each
// zero-padded to two digits and concatenated before parsing with an explicit
// layout so out-of-range calendar values are rejected.
func headerTime(b []byte) (time.Time, error) {
	be := binary.BigEndian
	var f [7]uint16
	for i := range f {
		f[i] = be.Uint16(b[2*i : 2*i+2])
	}
	s := fmt.Sprintf("%04d%02d%02d%02d%02d%02d", f[0], f[1], f[2], f[3], f[4], f[5])
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Time{}, err
	}
	if f[6] > 99 {
		return time.Time{}, fmt.Errorf("centiseconds out of range: %d", f[6])
	}
	return t.Add(time.Duration(f[6]) * 10 * time.Millisecond), nil
}

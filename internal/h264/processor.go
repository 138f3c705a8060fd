package h264

import (
	"bytes"

	"github.com/ramananj/rgb-matrix/pkg/types"
)

// Annex-B start codes.
var (
	startCode3 = []byte{0x00, 0x00, 0x01}
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// Processor scans access units for NAL metadata. It caches the SPS/PPS
// parameter sets so sinks that join mid-stream (recorder, WebRTC preview)
// can be handed a decodable stream.
type Processor struct {
	spsCache   []byte
	ppsCache   []byte
	hasHeaders bool
}

// NewProcessor creates an empty Processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process scans one access unit, marks IDR frames and caches parameter
// sets. Only SPS/PPS are copied; slice data is never duplicated.
func (p *Processor) Process(frame *types.EncodedFrame) {
	data := frame.Data
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}

		nalStart := offset
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			break
		}
		nalType := data[headerOffset] & 0x1F

		nalEnd := findStartCode(data, headerOffset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		switch nalType {
		case types.NALTypeSPS:
			p.spsCache = append([]byte(nil), data[nalStart:nalEnd]...)
		case types.NALTypePPS:
			p.ppsCache = append([]byte(nil), data[nalStart:nalEnd]...)
			if len(p.spsCache) > 0 {
				p.hasHeaders = true
			}
		case types.NALTypeIDR:
			frame.IsIDR = true
		}

		offset = nalEnd
	}
}

// HasHeaders reports whether SPS and PPS have been seen.
func (p *Processor) HasHeaders() bool {
	return p.hasHeaders
}

// SPS returns the cached SPS NAL unit including its start code.
func (p *Processor) SPS() []byte {
	return p.spsCache
}

// PPS returns the cached PPS NAL unit including its start code.
func (p *Processor) PPS() []byte {
	return p.ppsCache
}

// WithHeaders returns data with the cached SPS/PPS prepended when data
// contains an IDR slice and headers are available; otherwise data as-is.
func (p *Processor) WithHeaders(data []byte) []byte {
	if !p.hasHeaders || !ContainsIDR(data) {
		return data
	}
	out := make([]byte, 0, len(p.spsCache)+len(p.ppsCache)+len(data))
	out = append(out, p.spsCache...)
	out = append(out, p.ppsCache...)
	out = append(out, data...)
	return out
}

// SplitNALUnits parses Annex-B data into NAL units including start codes.
func SplitNALUnits(data []byte) []types.NALUnit {
	var units []types.NALUnit
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}

		nalStart := offset
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			break
		}
		nalType := data[headerOffset] & 0x1F

		nalEnd := findStartCode(data, headerOffset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		units = append(units, types.NALUnit{
			Type: nalType,
			Data: append([]byte(nil), data[nalStart:nalEnd]...),
		})
		offset = nalEnd
	}
	return units
}

// ContainsIDR reports whether data contains an IDR NAL unit.
func ContainsIDR(data []byte) bool {
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			return false
		}
		if data[headerOffset]&0x1F == types.NALTypeIDR {
			return true
		}
		next := findStartCode(data, headerOffset+1)
		if next == -1 {
			return false
		}
		offset = next
	}
	return false
}

// FirstNALType returns the type of the first NAL unit, or 0 if none.
func FirstNALType(data []byte) uint8 {
	if len(data) >= 5 && bytes.Equal(data[0:4], startCode4) {
		return data[4] & 0x1F
	}
	if len(data) >= 4 && bytes.Equal(data[0:3], startCode3) {
		return data[3] & 0x1F
	}
	return 0
}

// startCodeAt returns the start code length at offset (3, 4, or 0).
func startCodeAt(data []byte, offset int) int {
	if offset+4 <= len(data) &&
		data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0 && data[offset+3] == 1 {
		return 4
	}
	if offset+3 <= len(data) &&
		data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 1 {
		return 3
	}
	return 0
}

// findStartCode returns the position of the next start code at or after
// offset, or -1.
func findStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if data[i+2] == 0x01 {
			return i
		}
		if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			return i
		}
	}
	return -1
}

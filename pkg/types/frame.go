package types

import "time"

// EncodedFrame is one compressed H.264 access unit with metadata.
// Frames are transient: produced by the capture/encode stage, handed to
// sinks over bounded channels, then discarded.
type EncodedFrame struct {
	Data      []byte    // Annex-B NAL units for one access unit
	Timestamp time.Time // Capture timestamp
	FrameNum  uint64    // Sequential frame number
	IsIDR     bool      // True if this access unit contains an IDR
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
}

// NALUnit is a single H.264 NAL unit including its start code.
type NALUnit struct {
	Type uint8
	Data []byte
}

// NAL unit types (lower 5 bits of the NAL header byte).
const (
	NALTypeSlice     uint8 = 1
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
)

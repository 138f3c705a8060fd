package h264

import (
	"bytes"
	"testing"

	"github.com/ramananj/rgb-matrix/pkg/types"
)

var (
	sps      = []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1F}
	pps      = []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80}
	idrSlice = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21}
	pSlice   = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A, 0x02, 0x04}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestProcessMarksIDR(t *testing.T) {
	p := NewProcessor()

	frame := &types.EncodedFrame{Data: concat(sps, pps, idrSlice)}
	p.Process(frame)
	if !frame.IsIDR {
		t.Error("expected IDR frame to be marked")
	}

	delta := &types.EncodedFrame{Data: concat(pSlice)}
	p.Process(delta)
	if delta.IsIDR {
		t.Error("delta frame must not be marked IDR")
	}
}

func TestProcessCachesHeaders(t *testing.T) {
	p := NewProcessor()
	if p.HasHeaders() {
		t.Fatal("new processor must not have headers")
	}

	p.Process(&types.EncodedFrame{Data: concat(sps, pps, idrSlice)})
	if !p.HasHeaders() {
		t.Fatal("expected headers after SPS+PPS")
	}
	if !bytes.Equal(p.SPS(), sps) {
		t.Errorf("SPS cache mismatch: got % X", p.SPS())
	}
	if !bytes.Equal(p.PPS(), pps) {
		t.Errorf("PPS cache mismatch: got % X", p.PPS())
	}
}

func TestWithHeadersPrependsOnIDROnly(t *testing.T) {
	p := NewProcessor()
	p.Process(&types.EncodedFrame{Data: concat(sps, pps, idrSlice)})

	withHeaders := p.WithHeaders(idrSlice)
	want := concat(sps, pps, idrSlice)
	if !bytes.Equal(withHeaders, want) {
		t.Errorf("expected SPS/PPS prepended to IDR, got % X", withHeaders)
	}

	plain := p.WithHeaders(pSlice)
	if !bytes.Equal(plain, pSlice) {
		t.Errorf("delta frame must pass through unchanged, got % X", plain)
	}
}

func TestWithHeadersNoHeadersYet(t *testing.T) {
	p := NewProcessor()
	out := p.WithHeaders(idrSlice)
	if !bytes.Equal(out, idrSlice) {
		t.Error("without cached headers data must pass through unchanged")
	}
}

func TestSplitNALUnits(t *testing.T) {
	units := SplitNALUnits(concat(sps, pps, idrSlice))
	if len(units) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(units))
	}
	wantTypes := []uint8{types.NALTypeSPS, types.NALTypePPS, types.NALTypeIDR}
	for i, u := range units {
		if u.Type != wantTypes[i] {
			t.Errorf("unit %d: expected type %d, got %d", i, wantTypes[i], u.Type)
		}
	}
}

func TestSplitNALUnitsThreeByteStartCode(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0x65, 0x11, 0x22}
	units := SplitNALUnits(data)
	if len(units) != 1 {
		t.Fatalf("expected 1 NAL unit, got %d", len(units))
	}
	if units[0].Type != types.NALTypeIDR {
		t.Errorf("expected IDR, got type %d", units[0].Type)
	}
}

func TestContainsIDR(t *testing.T) {
	if !ContainsIDR(concat(sps, pps, idrSlice)) {
		t.Error("expected IDR to be found")
	}
	if ContainsIDR(concat(sps, pps, pSlice)) {
		t.Error("expected no IDR in delta access unit")
	}
	if ContainsIDR(nil) {
		t.Error("expected no IDR in empty data")
	}
}

func TestFirstNALType(t *testing.T) {
	if got := FirstNALType(sps); got != types.NALTypeSPS {
		t.Errorf("expected SPS, got %d", got)
	}
	short := []byte{0x00, 0x00, 0x01, 0x41}
	if got := FirstNALType(short); got != types.NALTypeSlice {
		t.Errorf("expected slice, got %d", got)
	}
	if got := FirstNALType([]byte{0x12, 0x34}); got != 0 {
		t.Errorf("expected 0 for garbage, got %d", got)
	}
}

func TestProcessEmptyFrame(t *testing.T) {
	p := NewProcessor()
	frame := &types.EncodedFrame{}
	p.Process(frame)
	if frame.IsIDR || p.HasHeaders() {
		t.Error("empty frame must not change any state")
	}
}

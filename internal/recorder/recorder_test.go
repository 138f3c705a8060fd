package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ramananj/rgb-matrix/pkg/types"
)

var (
	sps      = []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1F}
	pps      = []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80}
	idrSlice = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}
	pSlice   = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A}
)

func recordedFile(t *testing.T, dir string) []byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recording, found %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	return data
}

func TestStartStopLifecycle(t *testing.T) {
	rec := New(t.TempDir())

	if rec.IsRecording() {
		t.Fatal("fresh recorder must not be recording")
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !rec.IsRecording() {
		t.Fatal("expected recording after Start")
	}
	if err := rec.Start(); err == nil {
		t.Error("double start must fail")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rec.IsRecording() {
		t.Error("expected not recording after Stop")
	}
	if err := rec.Stop(); err == nil {
		t.Error("double stop must fail")
	}
}

func TestHeadersPrependedAtFirstIDR(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir)
	rec.UpdateHeaders(sps, pps)

	if err := rec.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	rec.Ingest(&types.EncodedFrame{Data: idrSlice, IsIDR: true, FrameNum: 1})
	rec.Ingest(&types.EncodedFrame{Data: pSlice, FrameNum: 2})

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	data := recordedFile(t, dir)
	var want []byte
	want = append(want, sps...)
	want = append(want, pps...)
	want = append(want, idrSlice...)
	want = append(want, pSlice...)
	if !bytes.Equal(data, want) {
		t.Errorf("recording mismatch:\n got % X\nwant % X", data, want)
	}
}

func TestNoPrependWithoutHeaders(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir)

	if err := rec.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Ingest(&types.EncodedFrame{Data: idrSlice, IsIDR: true, FrameNum: 1})
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if data := recordedFile(t, dir); !bytes.Equal(data, idrSlice) {
		t.Errorf("expected raw IDR only, got % X", data)
	}
}

func TestIngestWhileNotRecording(t *testing.T) {
	rec := New(t.TempDir())
	if rec.Ingest(&types.EncodedFrame{Data: pSlice}) {
		t.Error("ingest must be rejected while not recording")
	}
}

func TestStatusCounts(t *testing.T) {
	rec := New(t.TempDir())
	rec.UpdateHeaders(sps, pps)

	if err := rec.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Ingest(&types.EncodedFrame{Data: idrSlice, IsIDR: true, FrameNum: 1})
	rec.Ingest(&types.EncodedFrame{Data: pSlice, FrameNum: 2})
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	status := rec.GetStatus()
	if status.Recording {
		t.Error("status must report stopped")
	}
	if status.FrameCount != 2 {
		t.Errorf("expected 2 frames, got %d", status.FrameCount)
	}
	wantBytes := uint64(len(sps) + len(pps) + len(idrSlice) + len(pSlice))
	if status.BytesWritten != wantBytes {
		t.Errorf("expected %d bytes, got %d", wantBytes, status.BytesWritten)
	}
	if status.Filename == "" {
		t.Error("expected a filename")
	}
}

func TestCloseStopsActiveRecording(t *testing.T) {
	rec := New(t.TempDir())
	if err := rec.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if rec.IsRecording() {
		t.Error("close must stop the recording")
	}

	// Closing an idle recorder is fine too.
	idle := New(t.TempDir())
	if err := idle.Close(); err != nil {
		t.Errorf("idle close failed: %v", err)
	}
}

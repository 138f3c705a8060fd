package capture

import (
	"context"
	"testing"
	"time"

	"github.com/ramananj/rgb-matrix/internal/config"
	"github.com/ramananj/rgb-matrix/internal/h264"
)

func testStream(keyframeInterval int) config.Stream {
	return config.Stream{
		Width:            640,
		Height:           480,
		Framerate:        100, // fast frames keep the tests quick
		BitrateBps:       1_000_000,
		KeyframeInterval: keyframeInterval,
		DestHost:         "127.0.0.1",
		DestPort:         5000,
		PacketSize:       1316,
	}
}

func TestSyntheticEmitsFrames(t *testing.T) {
	src := NewSynthetic(testStream(0), 256)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer src.Close()

	for i := 0; i < 5; i++ {
		select {
		case frame := <-src.Frames():
			if len(frame.Data) == 0 {
				t.Fatal("empty access unit")
			}
			if frame.Width != 640 || frame.Height != 480 {
				t.Errorf("frame size mismatch: %dx%d", frame.Width, frame.Height)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestSyntheticKeyframeCadence(t *testing.T) {
	src := NewSynthetic(testStream(1), 128)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer src.Close()

	// Interval 1: every access unit must contain an IDR.
	for i := 0; i < 10; i++ {
		select {
		case frame := <-src.Frames():
			if !h264.ContainsIDR(frame.Data) {
				t.Fatalf("frame %d: expected IDR with keyframe interval 1", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestSyntheticGOPStructure(t *testing.T) {
	src := NewSynthetic(testStream(5), 128)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer src.Close()

	var idrs []int
	for i := 0; i < 10; i++ {
		select {
		case frame := <-src.Frames():
			if h264.ContainsIDR(frame.Data) {
				idrs = append(idrs, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
	want := []int{0, 5}
	if len(idrs) != len(want) {
		t.Fatalf("expected IDRs at %v, got %v", want, idrs)
	}
	for i := range want {
		if idrs[i] != want[i] {
			t.Fatalf("expected IDRs at %v, got %v", want, idrs)
		}
	}
}

func TestSyntheticStopsOnCancel(t *testing.T) {
	src := NewSynthetic(testStream(0), 128)
	ctx, cancel := context.WithCancel(context.Background())

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-src.Frames():
			if !ok {
				return // channel closed, source stopped
			}
		case <-deadline:
			t.Fatal("frames channel not closed after cancel")
		}
	}
}

func TestSyntheticDoubleStart(t *testing.T) {
	src := NewSynthetic(testStream(0), 128)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer src.Close()

	if err := src.Start(ctx); err == nil {
		t.Error("second start must fail")
	}
}

func TestSyntheticSnapshot(t *testing.T) {
	src := NewSynthetic(testStream(0), 128)
	img, release, err := src.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	defer release()
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Errorf("snapshot size mismatch: %v", img.Bounds())
	}
}

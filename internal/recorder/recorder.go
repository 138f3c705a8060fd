package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

// Recorder optionally captures the outgoing elementary stream to disk.
// Ingest is non-blocking: if the write goroutine falls behind, frames are
// dropped rather than stalling the live pipeline.
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan *types.EncodedFrame
	wg           sync.WaitGroup

	// SPS/PPS are prepended at the first IDR so the file is playable
	// even though recording started mid-stream.
	spsCache        []byte
	ppsCache        []byte
	firstIDRWritten bool
}

// Status is the recording state reported over the control API.
type Status struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}

// New creates a recorder writing under basePath.
func New(basePath string) *Recorder {
	return &Recorder{
		basePath:  basePath,
		frameChan: make(chan *types.EncodedFrame, 60),
	}
}

// Start opens a new timestamped .h264 file and starts the write goroutine.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	filename := fmt.Sprintf("stream_%s.h264", time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	r.file = file
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.firstIDRWritten = false

	r.wg.Add(1)
	go r.writeLoop()

	logger.Info("Recorder", "Recording to %s", filename)
	return nil
}

// Stop finishes the current file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync recording: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close recording: %w", err)
		}
		r.file = nil
		logger.Info("Recorder", "Finished %s (%d frames, %d bytes)",
			r.filename, r.frameCount, r.bytesWritten)
	}
	return nil
}

// UpdateHeaders refreshes the cached SPS/PPS parameter sets.
func (r *Recorder) UpdateHeaders(sps, pps []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(sps) > 0 {
		r.spsCache = append(r.spsCache[:0], sps...)
	}
	if len(pps) > 0 {
		r.ppsCache = append(r.ppsCache[:0], pps...)
	}
}

// Ingest hands a frame to the recorder without blocking. Returns false if
// not recording or the buffer is full.
func (r *Recorder) Ingest(frame *types.EncodedFrame) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()
	if !recording {
		return false
	}

	select {
	case r.frameChan <- frame:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		recording := r.recording
		r.mu.RUnlock()

		if !recording {
			for len(r.frameChan) > 0 {
				r.writeFrame(<-r.frameChan)
			}
			return
		}

		select {
		case frame := <-r.frameChan:
			r.writeFrame(frame)
		case <-time.After(100 * time.Millisecond):
			// re-check recording state
		}
	}
}

func (r *Recorder) writeFrame(frame *types.EncodedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	data := frame.Data
	if frame.IsIDR && !r.firstIDRWritten && len(r.spsCache) > 0 && len(r.ppsCache) > 0 {
		buf := make([]byte, 0, len(r.spsCache)+len(r.ppsCache)+len(frame.Data))
		buf = append(buf, r.spsCache...)
		buf = append(buf, r.ppsCache...)
		buf = append(buf, frame.Data...)
		data = buf
		r.firstIDRWritten = true
	}

	n, err := r.file.Write(data)
	if err != nil {
		logger.Warn("Recorder", "Write failed: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.frameCount++
}

// IsRecording reports whether a file is currently open.
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording state.
func (r *Recorder) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops any active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

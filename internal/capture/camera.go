package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/x264"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // register camera driver
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/ramananj/rgb-matrix/internal/config"
	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

const codecName = "h264"

// Camera captures from the local camera and encodes H.264 via x264.
// The device and encoder are held for the life of the source and released
// by Close on every exit path.
type Camera struct {
	cfg config.Stream

	mu        sync.Mutex
	stream    mediadevices.MediaStream
	track     mediadevices.Track
	reader    io.ReadCloser
	rawReader videoReader
	frames    chan *types.EncodedFrame
	bufSize   int
	started   bool
	closed    bool
	wg        sync.WaitGroup
}

// videoReader matches the raw frame reader of mediadevices.VideoTrack.
type videoReader interface {
	Read() (img image.Image, release func(), err error)
}

// NewCamera creates a camera source for the given stream settings. Nothing
// is opened until Start.
func NewCamera(cfg config.Stream) *Camera {
	return &Camera{
		cfg:     cfg,
		frames:  make(chan *types.EncodedFrame, 4),
		bufSize: encodedBufSize(cfg.BitrateBps),
	}
}

// encodedBufSize is the read buffer for encoded access units: one second
// of stream at the configured bitrate, at least 1 MiB. Keyframes run many
// times the average frame size.
func encodedBufSize(bitrateBps int) int {
	size := bitrateBps / 8
	if size < 1<<20 {
		size = 1 << 20
	}
	return size
}

// Start opens the camera at the requested mode and initializes the
// encoder. Fails with ErrDeviceUnavailable or ErrEncoderInit before any
// frame is emitted.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("camera already started")
	}

	params, err := x264.NewParams()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderInit, err)
	}
	params.BitRate = c.cfg.BitrateBps
	params.Preset = x264.PresetUltrafast
	if c.cfg.KeyframeInterval > 0 {
		params.KeyFrameInterval = c.cfg.KeyframeInterval
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&params),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mt *mediadevices.MediaTrackConstraints) {
			mt.Width = prop.Int(int32(c.cfg.Width))
			mt.Height = prop.Int(int32(c.cfg.Height))
			mt.FrameRate = prop.Float(float32(c.cfg.Framerate))
		},
		Codec: selector,
	})
	if err != nil {
		return fmt.Errorf("%w: %dx%d@%d: %v",
			ErrDeviceUnavailable, c.cfg.Width, c.cfg.Height, c.cfg.Framerate, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		stopTracks(stream)
		return fmt.Errorf("%w: no video track", ErrDeviceUnavailable)
	}
	track := tracks[0]

	reader, err := track.NewEncodedIOReader(codecName)
	if err != nil {
		stopTracks(stream)
		return fmt.Errorf("%w: %v", ErrEncoderInit, err)
	}

	c.stream = stream
	c.track = track
	c.reader = reader
	c.started = true

	logger.Info("Camera", "Opened %dx%d@%dfps, %d bps, track %s",
		c.cfg.Width, c.cfg.Height, c.cfg.Framerate, c.cfg.BitrateBps, track.ID())

	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

// Frames returns the encoded frame channel. Closed when the source stops.
func (c *Camera) Frames() <-chan *types.EncodedFrame {
	return c.frames
}

func (c *Camera) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.frames)

	var frameNum uint64
	buf := make([]byte, c.bufSize)
	for {
		if ctx.Err() != nil {
			return
		}

		// Each Read yields one complete encoded access unit.
		n, err := c.reader.Read(buf)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				logger.Warn("Camera", "Encoded read failed: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		if n == len(buf) {
			// A full buffer may be a truncated access unit; the cut-off
			// tail would start the next frame mid-NAL. Drop it and grow.
			logger.Warn("Camera", "Access unit filled the %d-byte read buffer, dropping frame", len(buf))
			buf = make([]byte, 2*len(buf))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		frameNum++
		frame := &types.EncodedFrame{
			Data:      data,
			Timestamp: time.Now(),
			FrameNum:  frameNum,
			Width:     c.cfg.Width,
			Height:    c.cfg.Height,
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot reads one raw frame from the track for the JPEG preview.
func (c *Camera) Snapshot() (image.Image, func(), error) {
	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("camera not running")
	}
	if c.rawReader == nil {
		vt, ok := c.track.(*mediadevices.VideoTrack)
		if !ok {
			c.mu.Unlock()
			return nil, nil, fmt.Errorf("track does not expose raw frames")
		}
		c.rawReader = vt.NewReader(false)
	}
	reader := c.rawReader
	c.mu.Unlock()

	return reader.Read()
}

// Close releases the camera and encoder.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed || !c.started {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	reader := c.reader
	stream := c.stream
	c.mu.Unlock()

	if reader != nil {
		reader.Close()
	}
	if stream != nil {
		stopTracks(stream)
	}
	c.wg.Wait()
	return nil
}

func stopTracks(stream mediadevices.MediaStream) {
	for _, t := range stream.GetTracks() {
		t.Close()
	}
}

package capture

import (
	"context"
	"errors"
	"image"

	"github.com/ramananj/rgb-matrix/pkg/types"
)

// Fatal startup failures. Both abort before any frame is emitted; there is
// no recovery path for them at runtime.
var (
	// ErrDeviceUnavailable means the capture device could not be opened
	// at the requested mode.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrEncoderInit means the encoder rejected the requested
	// bitrate/resolution/keyframe settings.
	ErrEncoderInit = errors.New("encoder initialization failed")
)

// Source produces encoded access units. Start must fail with
// ErrDeviceUnavailable or ErrEncoderInit before the first frame, or emit
// frames on Frames until the context is cancelled or Close is called.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan *types.EncodedFrame
	Close() error
}

// Snapshotter is implemented by sources that can hand out raw frames for
// the JPEG preview. The release func must be called when done.
type Snapshotter interface {
	Snapshot() (image.Image, func(), error)
}

// Package preview serves live JPEG snapshots of the capture source over
// HTTP (MJPEG) and an optional length-prefixed TCP push. It rides on the
// raw frames of the camera track and never touches the H.264 path.
package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/ramananj/rgb-matrix/internal/capture"
	"github.com/ramananj/rgb-matrix/internal/config"
	"github.com/ramananj/rgb-matrix/internal/logger"
)

// Broadcaster periodically snapshots the source, encodes JPEG and fans the
// result out to subscribers. Slow clients drop frames; snapshots are
// skipped entirely while nobody is watching.
type Broadcaster struct {
	cfg    config.Preview
	source capture.Snapshotter

	mu          sync.Mutex
	clients     map[int]chan []byte
	nextID      int
	latest      []byte
	clientGauge func(int)

	stop    chan struct{}
	stopOne sync.Once
	wg      sync.WaitGroup
}

// NewBroadcaster creates a broadcaster over the given snapshot source.
func NewBroadcaster(cfg config.Preview, source capture.Snapshotter) *Broadcaster {
	return &Broadcaster{
		cfg:     cfg,
		source:  source,
		clients: make(map[int]chan []byte),
		stop:    make(chan struct{}),
	}
}

// Start begins the snapshot loop.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go b.run()
}

// SetClientGauge registers a callback invoked with the subscriber count
// every time it changes. Set before Start.
func (b *Broadcaster) SetClientGauge(gauge func(int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clientGauge = gauge
}

// Subscribe registers a client and returns its frame channel.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2)
	b.clients[id] = ch
	if b.clientGauge != nil {
		b.clientGauge(len(b.clients))
	}
	logger.Debug("Preview", "Client #%d subscribed (total %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.clientGauge != nil {
			b.clientGauge(len(b.clients))
		}
		logger.Debug("Preview", "Client #%d unsubscribed (remaining %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Latest returns the most recent JPEG frame, if any.
func (b *Broadcaster) Latest() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return nil, false
	}
	return b.latest, true
}

func (b *Broadcaster) run() {
	defer b.wg.Done()

	interval := time.Duration(b.cfg.PushInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.ClientCount() == 0 && b.cfg.PushAddr == "" {
				continue
			}

			data, err := b.captureJPEG()
			if err != nil {
				logger.Debug("Preview", "Snapshot failed: %v", err)
				continue
			}
			b.publish(data)
		}
	}
}

func (b *Broadcaster) captureJPEG() ([]byte, error) {
	img, release, err := b.source.Snapshot()
	if err != nil {
		return nil, err
	}
	defer release()

	img = b.downscale(img)

	var buf bytes.Buffer
	buf.Grow(128 * 1024)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.cfg.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// downscale bounds the preview width, preserving aspect ratio.
func (b *Broadcaster) downscale(img image.Image) image.Image {
	if b.cfg.MaxWidth <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() <= b.cfg.MaxWidth {
		return img
	}

	h := bounds.Dy() * b.cfg.MaxWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, b.cfg.MaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func (b *Broadcaster) publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = data
	for _, ch := range b.clients {
		select {
		case ch <- data:
		default:
			// Slow client keeps its backlog, this frame skips it.
		}
	}
}

// Close stops the snapshot loop and disconnects all clients.
func (b *Broadcaster) Close() error {
	b.stopOne.Do(func() { close(b.stop) })
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	if b.clientGauge != nil {
		b.clientGauge(0)
	}
	return nil
}

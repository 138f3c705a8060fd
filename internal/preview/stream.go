package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/ramananj/rgb-matrix/internal/logger"
)

var (
	blankOnce sync.Once
	blankData []byte
)

// blankJPEG renders the color-bar placeholder served before the first
// snapshot arrives.
func blankJPEG() []byte {
	blankOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))
		bars := []color.RGBA{
			{255, 255, 255, 255},
			{255, 255, 0, 255},
			{0, 255, 255, 255},
			{0, 255, 0, 255},
			{255, 0, 255, 255},
			{255, 0, 0, 255},
			{0, 0, 255, 255},
			{0, 0, 0, 255},
		}
		barWidth := 640 / len(bars)
		for y := 0; y < 480; y++ {
			for x := 0; x < 640; x++ {
				i := x / barWidth
				if i >= len(bars) {
					i = len(bars) - 1
				}
				img.Set(x, y, bars[i])
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err == nil {
			blankData = buf.Bytes()
		}
	})
	return blankData
}

// ServeMJPEG streams multipart/x-mixed-replace JPEG frames to w until the
// client goes away.
func (b *Broadcaster) ServeMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, frames := b.Subscribe()
	defer b.Unsubscribe(id)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	// Show something immediately: the latest frame or color bars.
	first, ok := b.Latest()
	if !ok {
		first = blankJPEG()
	}
	if err := writePart(w, first); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(w, data); err != nil {
				logger.Debug("Preview", "MJPEG client #%d gone: %v", id, err)
				return
			}
			flusher.Flush()
		}
	}
}

// ServeSnapshot serves the latest JPEG frame as a single image.
func (b *Broadcaster) ServeSnapshot(w http.ResponseWriter, _ *http.Request) {
	data, ok := b.Latest()
	if !ok {
		data = blankJPEG()
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func writePart(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data))
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\r\n"))
	return err
}

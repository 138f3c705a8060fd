// Package webrtc serves the live H.264 stream to browser clients. It is a
// secondary sink: the UDP publisher never waits for it, and a slow peer
// only loses its own frames.
package webrtc

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/ramananj/rgb-matrix/internal/h264"
	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

const h264ClockRate = 90000

type client struct {
	id       string
	peer     *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	frames   chan *types.EncodedFrame
	done     chan struct{}
	doneOnce sync.Once
}

// Hub fans encoded frames out to WebRTC peers. A peer joining mid-stream
// starts at the next keyframe, with the cached SPS/PPS prepended so the
// browser can decode without waiting for in-band parameter sets.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	api        *webrtc.API
	config     webrtc.Configuration
	maxClients int
	framerate  int
	nextID     uint64

	sps []byte
	pps []byte
}

// NewHub creates a hub with the given STUN server and client limit.
func NewHub(stunURL string, maxClients, framerate int) *Hub {
	settings := webrtc.SettingEngine{}
	settings.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("WebRTC", "Failed to register codecs: %v", err)
	}

	return &Hub{
		clients: make(map[string]*client),
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settings),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{stunURL}}},
		},
		maxClients: maxClients,
		framerate:  framerate,
	}
}

// HandleOffer answers a browser's SDP offer and registers the new peer.
func (h *Hub) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", h.maxClients)
	}

	peer, err := h.api.NewPeerConnection(h.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: h264ClockRate},
		"video", "camstream",
	)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	sender, err := peer.AddTrack(track)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	h.nextID++
	c := &client{
		id:     fmt.Sprintf("peer-%d", h.nextID),
		peer:   peer,
		track:  track,
		frames: make(chan *types.EncodedFrame, 30),
		done:   make(chan struct{}),
	}
	h.mu.Unlock()

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "%s state: %s", c.id, state)
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			h.remove(c.id)
		}
	})

	if err := peer.SetRemoteDescription(offer); err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peer.CreateAnswer(nil)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(answer); err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gathered

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	go h.writeLoop(c)

	logger.Info("WebRTC", "%s connected", c.id)

	local := peer.LocalDescription()
	if local == nil {
		return nil, fmt.Errorf("no local description available")
	}
	return json.Marshal(local)
}

// UpdateHeaders refreshes the cached SPS/PPS NAL units (start codes
// included) handed to newly joined peers.
func (h *Hub) UpdateHeaders(sps, pps []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(sps) > 0 {
		h.sps = append(h.sps[:0], sps...)
	}
	if len(pps) > 0 {
		h.pps = append(h.pps[:0], pps...)
	}
}

// joinSample builds the first sample for a new peer: the cached parameter
// sets followed by the keyframe, unless the frame already carries its own.
func (h *Hub) joinSample(frame *types.EncodedFrame) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sps) == 0 || len(h.pps) == 0 {
		return frame.Data
	}
	if h264.FirstNALType(frame.Data) == types.NALTypeSPS {
		return frame.Data
	}
	out := make([]byte, 0, len(h.sps)+len(h.pps)+len(frame.Data))
	out = append(out, h.sps...)
	out = append(out, h.pps...)
	out = append(out, frame.Data...)
	return out
}

// Broadcast hands a frame to every connected peer without blocking.
func (h *Hub) Broadcast(frame *types.EncodedFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.frames <- frame:
		default:
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	duration := time.Second / time.Duration(h.framerate)
	synced := false
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.frames:
			// Decoders cannot start mid-GOP; hold back until a keyframe.
			data := frame.Data
			if !synced {
				if !frame.IsIDR {
					continue
				}
				data = h.joinSample(frame)
				synced = true
			}
			err := c.track.WriteSample(media.Sample{Data: data, Duration: duration})
			if err != nil {
				if err != io.ErrClosedPipe {
					logger.Warn("WebRTC", "%s write failed: %v", c.id, err)
				}
				return
			}
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.doneOnce.Do(func() { close(c.done) })
	c.peer.Close()
	delete(h.clients, id)
	logger.Info("WebRTC", "%s disconnected", id)
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close tears down all peers.
func (h *Hub) Close() error {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.remove(id)
	}
	return nil
}

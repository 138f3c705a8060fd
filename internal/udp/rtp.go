package udp

import (
	"math/rand"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

const (
	h264ClockRate  = 90000
	h264PayloadTyp = 96 // dynamic payload type
)

// RTPSender packetizes access units as RTP/H.264 instead of raw
// elementary-stream fragments. Receivers that speak RTP (ffplay, GStreamer)
// get sequence numbers and timestamps for free; loss handling stays the
// same, dropped datagrams are gone.
type RTPSender struct {
	conn       net.Conn
	packetizer rtp.Packetizer
	samples    uint32
}

// DialRTP connects a UDP socket and sets up the H.264 packetizer with
// MTU = packetSize.
func DialRTP(host string, port, packetSize, framerate int) (*RTPSender, error) {
	sender, err := Dial(host, port, packetSize)
	if err != nil {
		return nil, err
	}
	logger.Info("UDP", "RTP packetization enabled (pt=%d, clock=%d)", h264PayloadTyp, h264ClockRate)
	return NewRTPSender(sender.conn, packetSize, framerate), nil
}

// NewRTPSender wraps an already connected datagram socket.
func NewRTPSender(conn net.Conn, packetSize, framerate int) *RTPSender {
	return &RTPSender{
		conn: conn,
		packetizer: rtp.NewPacketizer(
			uint16(packetSize),
			h264PayloadTyp,
			rand.Uint32(),
			&codecs.H264Payloader{},
			rtp.NewRandomSequencer(),
			h264ClockRate,
		),
		samples: uint32(h264ClockRate / framerate),
	}
}

// Send packetizes one access unit and writes each RTP packet best-effort.
func (s *RTPSender) Send(frame *types.EncodedFrame) (sent, dropped int) {
	for _, pkt := range s.packetizer.Packetize(frame.Data, s.samples) {
		buf, err := pkt.Marshal()
		if err != nil {
			dropped++
			continue
		}
		if _, err := s.conn.Write(buf); err != nil {
			dropped++
			logger.Debug("UDP", "RTP packet dropped (frame %d): %v", frame.FrameNum, err)
			continue
		}
		sent++
	}
	return sent, dropped
}

// Close releases the socket.
func (s *RTPSender) Close() error {
	return s.conn.Close()
}

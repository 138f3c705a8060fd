// Package udp sends encoded access units to a fixed destination over a
// connectionless, unreliable transport. Sends are best-effort: a failed
// write is counted and dropped, never retried, because retransmission
// would add latency the stream cannot afford.
package udp

import (
	"fmt"
	"net"

	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

// FrameSender publishes one access unit as one or more datagrams.
// It reports how many datagrams were written and how many were dropped.
type FrameSender interface {
	Send(frame *types.EncodedFrame) (sent, dropped int)
	Close() error
}

// Sender fragments access units into raw elementary-stream datagrams of
// at most packetSize bytes each.
type Sender struct {
	conn       net.Conn
	packetSize int
}

// Dial connects a UDP socket to host:port. The socket is held for the
// process lifetime and released by Close.
func Dial(host string, port, packetSize int) (*Sender, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket to %s:%d: %w", host, port, err)
	}
	logger.Info("UDP", "Streaming to %s, packet size %d", conn.RemoteAddr(), packetSize)
	return NewSender(conn, packetSize), nil
}

// NewSender wraps an already connected datagram socket.
func NewSender(conn net.Conn, packetSize int) *Sender {
	return &Sender{conn: conn, packetSize: packetSize}
}

// Send fragments frame.Data into ceil(len/packetSize) datagrams, each at
// most packetSize bytes, and writes them in order. Write failures are
// transient: the datagram is dropped and the rest of the frame is still
// attempted.
func (s *Sender) Send(frame *types.EncodedFrame) (sent, dropped int) {
	data := frame.Data
	for off := 0; off < len(data); off += s.packetSize {
		end := off + s.packetSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.conn.Write(data[off:end]); err != nil {
			dropped++
			logger.Debug("UDP", "Datagram dropped (frame %d): %v", frame.FrameNum, err)
			continue
		}
		sent++
	}
	return sent, dropped
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

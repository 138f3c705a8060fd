package preview

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/ramananj/rgb-matrix/internal/logger"
)

const reconnectDelay = 2 * time.Second

// Pusher streams JPEG frames to a TCP collector as 4-byte big-endian
// length-prefixed messages, reconnecting whenever the peer goes away.
type Pusher struct {
	addr        string
	broadcaster *Broadcaster

	stop    chan struct{}
	stopOne sync.Once
	wg      sync.WaitGroup
}

// NewPusher creates a pusher sending the broadcaster's frames to addr.
func NewPusher(addr string, b *Broadcaster) *Pusher {
	return &Pusher{
		addr:        addr,
		broadcaster: b,
		stop:        make(chan struct{}),
	}
}

// Start begins the connect/send loop.
func (p *Pusher) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *Pusher) run() {
	defer p.wg.Done()

	for {
		conn, ok := p.connect()
		if !ok {
			return
		}
		p.sendLoop(conn)
		conn.Close()

		select {
		case <-p.stop:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// connect dials until it succeeds or the pusher is stopped.
func (p *Pusher) connect() (net.Conn, bool) {
	for {
		conn, err := net.DialTimeout("tcp", p.addr, reconnectDelay)
		if err == nil {
			logger.Info("Preview", "JPEG push connected to %s", p.addr)
			return conn, true
		}
		logger.Debug("Preview", "JPEG push connect to %s failed, retrying: %v", p.addr, err)

		select {
		case <-p.stop:
			return nil, false
		case <-time.After(reconnectDelay):
		}
	}
}

func (p *Pusher) sendLoop(conn net.Conn) {
	id, frames := p.broadcaster.Subscribe()
	defer p.broadcaster.Unsubscribe(id)

	var header [4]byte
	for {
		select {
		case <-p.stop:
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			binary.BigEndian.PutUint32(header[:], uint32(len(data)))
			if _, err := conn.Write(header[:]); err != nil {
				logger.Warn("Preview", "JPEG push disconnected: %v", err)
				return
			}
			if _, err := conn.Write(data); err != nil {
				logger.Warn("Preview", "JPEG push disconnected: %v", err)
				return
			}
		}
	}
}

// Close stops the pusher.
func (p *Pusher) Close() error {
	p.stopOne.Do(func() { close(p.stop) })
	p.wg.Wait()
	return nil
}

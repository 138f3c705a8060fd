package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ramananj/rgb-matrix/pkg/types"
)

// newLoopbackPair returns a Sender connected to a local UDP listener and a
// channel of received datagrams.
func newLoopbackPair(t *testing.T, packetSize int) (*Sender, <-chan []byte) {
	t.Helper()

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	received := make(chan []byte, 64)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := listener.ReadFromUDP(buf)
			if err != nil {
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			received <- datagram
		}
	}()

	conn, err := net.Dial("udp", listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewSender(conn, packetSize), received
}

func collect(t *testing.T, ch <-chan []byte, n int) [][]byte {
	t.Helper()
	var out [][]byte
	for len(out) < n {
		select {
		case d := <-ch:
			out = append(out, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout: received %d of %d datagrams", len(out), n)
		}
	}
	return out
}

func TestSendFragmentsLargeFrame(t *testing.T) {
	const packetSize = 100
	sender, received := newLoopbackPair(t, packetSize)

	// 250 bytes -> ceil(250/100) = 3 datagrams (100, 100, 50).
	data := make([]byte, 250)
	for i := range data {
		data[i] = byte(i)
	}

	sent, dropped := sender.Send(&types.EncodedFrame{Data: data})
	if sent != 3 || dropped != 0 {
		t.Fatalf("expected 3 sent / 0 dropped, got %d / %d", sent, dropped)
	}

	datagrams := collect(t, received, 3)
	wantSizes := []int{100, 100, 50}
	var reassembled []byte
	for i, d := range datagrams {
		if len(d) != wantSizes[i] {
			t.Errorf("datagram %d: expected %d bytes, got %d", i, wantSizes[i], len(d))
		}
		if len(d) > packetSize {
			t.Errorf("datagram %d exceeds packet size: %d", i, len(d))
		}
		reassembled = append(reassembled, d...)
	}
	for i := range reassembled {
		if reassembled[i] != byte(i) {
			t.Fatalf("payload corrupted at byte %d", i)
		}
	}
}

func TestSendSmallFrameSingleDatagram(t *testing.T) {
	sender, received := newLoopbackPair(t, 1316)

	sent, dropped := sender.Send(&types.EncodedFrame{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}})
	if sent != 1 || dropped != 0 {
		t.Fatalf("expected 1 sent / 0 dropped, got %d / %d", sent, dropped)
	}
	collect(t, received, 1)
}

func TestSendExactMultiple(t *testing.T) {
	sender, received := newLoopbackPair(t, 50)

	sent, _ := sender.Send(&types.EncodedFrame{Data: make([]byte, 100)})
	if sent != 2 {
		t.Fatalf("100 bytes at packet size 50 must be exactly 2 datagrams, got %d", sent)
	}
	for _, d := range collect(t, received, 2) {
		if len(d) != 50 {
			t.Errorf("expected 50-byte datagram, got %d", len(d))
		}
	}
}

// flakyConn fails a configured number of writes, then succeeds.
type flakyConn struct {
	net.Conn
	failures int
	writes   int
}

func (c *flakyConn) Write(b []byte) (int, error) {
	c.writes++
	if c.failures > 0 {
		c.failures--
		return 0, errors.New("simulated send failure")
	}
	return len(b), nil
}

func (c *flakyConn) Close() error { return nil }

func TestSendFailureDoesNotHalt(t *testing.T) {
	conn := &flakyConn{failures: 1}
	sender := NewSender(conn, 10)

	// First datagram fails, the remaining two of the same frame still go out.
	sent, dropped := sender.Send(&types.EncodedFrame{Data: make([]byte, 25)})
	if dropped != 1 {
		t.Errorf("expected 1 dropped datagram, got %d", dropped)
	}
	if sent != 2 {
		t.Errorf("expected remaining 2 datagrams sent, got %d", sent)
	}

	// A later frame is attempted normally.
	sent, dropped = sender.Send(&types.EncodedFrame{Data: make([]byte, 5)})
	if sent != 1 || dropped != 0 {
		t.Errorf("later frame must send cleanly, got sent=%d dropped=%d", sent, dropped)
	}
	if conn.writes != 4 {
		t.Errorf("expected 4 write attempts total, got %d", conn.writes)
	}
}

func TestRTPSenderPacketizes(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer listener.Close()

	received := make(chan []byte, 64)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := listener.ReadFromUDP(buf)
			if err != nil {
				return
			}
			d := make([]byte, n)
			copy(d, buf[:n])
			received <- d
		}
	}()

	conn, err := net.Dial("udp", listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	sender := NewRTPSender(conn, 1200, 30)
	data := append([]byte{0x00, 0x00, 0x00, 0x01, 0x65}, make([]byte, 3000)...)
	sent, dropped := sender.Send(&types.EncodedFrame{Data: data})
	if dropped != 0 {
		t.Fatalf("unexpected drops: %d", dropped)
	}
	if sent < 2 {
		t.Fatalf("3KB frame at MTU 1200 must fragment into multiple RTP packets, got %d", sent)
	}

	for _, d := range collect(t, received, sent) {
		if len(d) > 1200 {
			t.Errorf("RTP packet exceeds MTU: %d bytes", len(d))
		}
		if len(d) < 12 {
			t.Errorf("RTP packet shorter than header: %d bytes", len(d))
		}
		if version := d[0] >> 6; version != 2 {
			t.Errorf("expected RTP version 2, got %d", version)
		}
	}
}

// Package publisher runs the capture → process → send pipeline. Stages
// are connected by bounded queues a few frames deep; when a queue is full
// the oldest buffered frame is evicted so latency stays bounded. Loss is
// acceptable, lag is not.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramananj/rgb-matrix/internal/capture"
	"github.com/ramananj/rgb-matrix/internal/config"
	"github.com/ramananj/rgb-matrix/internal/h264"
	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/internal/metrics"
	"github.com/ramananj/rgb-matrix/internal/recorder"
	"github.com/ramananj/rgb-matrix/internal/udp"
	"github.com/ramananj/rgb-matrix/pkg/types"
)

// State is the pipeline lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Capturing
	Terminated
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Capturing:
		return "capturing"
	case Terminated:
		return "terminated"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// FrameSink receives frames as a secondary, best-effort consumer.
type FrameSink interface {
	Broadcast(frame *types.EncodedFrame)
}

// HeaderSink is implemented by sinks that need the cached SPS/PPS
// parameter sets to serve consumers joining mid-stream.
type HeaderSink interface {
	UpdateHeaders(sps, pps []byte)
}

const sendQueueDepth = 4

// Publisher owns the stream pipeline and its resources.
type Publisher struct {
	cfg       config.Stream
	source    capture.Source
	sender    udp.FrameSender
	processor *h264.Processor
	metrics   *metrics.Metrics

	rec  *recorder.Recorder
	sink FrameSink

	state    atomic.Int32
	sendChan chan *types.EncodedFrame
	wg       sync.WaitGroup
}

// Option configures optional sinks.
type Option func(*Publisher)

// WithRecorder attaches an elementary-stream recorder.
func WithRecorder(rec *recorder.Recorder) Option {
	return func(p *Publisher) { p.rec = rec }
}

// WithSink attaches a secondary frame consumer (WebRTC preview).
func WithSink(sink FrameSink) Option {
	return func(p *Publisher) { p.sink = sink }
}

// New wires a publisher. Nothing starts until Run.
func New(cfg config.Stream, source capture.Source, sender udp.FrameSender, m *metrics.Metrics, opts ...Option) *Publisher {
	p := &Publisher{
		cfg:       cfg,
		source:    source,
		sender:    sender,
		processor: h264.NewProcessor(),
		metrics:   m,
		sendChan:  make(chan *types.EncodedFrame, sendQueueDepth),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Publisher) State() State {
	return State(p.state.Load())
}

// Run starts the source and pumps frames until ctx is cancelled or the
// source fails fatally. It returns nil on clean cancellation. Startup
// failures (capture.ErrDeviceUnavailable, capture.ErrEncoderInit) are
// returned before any datagram is sent, with the state set to Faulted.
func (p *Publisher) Run(ctx context.Context) error {
	if p.State() != Uninitialized {
		return fmt.Errorf("publisher already ran (state %s)", p.State())
	}

	if err := p.source.Start(ctx); err != nil {
		p.state.Store(int32(Faulted))
		return err
	}
	p.state.Store(int32(Capturing))
	logger.Info("Publisher", "Capturing %dx%d@%dfps → %s:%d (packet size %d)",
		p.cfg.Width, p.cfg.Height, p.cfg.Framerate, p.cfg.DestHost, p.cfg.DestPort, p.cfg.PacketSize)

	p.wg.Add(2)
	go p.processLoop(ctx)
	go p.sendLoop(ctx)

	pipelineDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(pipelineDone)
	}()

	select {
	case <-ctx.Done():
	case <-pipelineDone:
		// Source stopped on its own; a healthy stream never does this.
	}

	p.source.Close()
	p.wg.Wait()
	p.state.Store(int32(Terminated))
	logger.Info("Publisher", "Stopped")

	if ctx.Err() == nil {
		return fmt.Errorf("capture source stopped unexpectedly")
	}
	return nil
}

// processLoop scans access units for NAL metadata and queues them for
// sending, evicting the oldest queued frame when the sender lags.
func (p *Publisher) processLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.sendChan)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.source.Frames():
			if !ok {
				return
			}

			start := time.Now()
			p.processor.Process(frame)
			p.metrics.FramesCaptured.Add(1)
			p.metrics.FramesProcessed.Add(1)
			p.metrics.UpdateProcessLatency(time.Since(start))

			if p.processor.HasHeaders() {
				if p.rec != nil {
					p.rec.UpdateHeaders(p.processor.SPS(), p.processor.PPS())
				}
				if hs, ok := p.sink.(HeaderSink); ok {
					hs.UpdateHeaders(p.processor.SPS(), p.processor.PPS())
				}
			}

			p.enqueue(frame)
			p.metrics.UpdateQueueUsage(len(p.sendChan), cap(p.sendChan))
		}
	}
}

// enqueue adds frame to the send queue. If the queue is full, the oldest
// buffered frame is dropped to make room; the newest frame is only
// sacrificed if the sender drains the evicted slot first.
func (p *Publisher) enqueue(frame *types.EncodedFrame) {
	select {
	case p.sendChan <- frame:
		return
	default:
	}

	select {
	case <-p.sendChan:
		p.metrics.FramesDropped.Add(1)
	default:
	}

	select {
	case p.sendChan <- frame:
	default:
		p.metrics.FramesDropped.Add(1)
	}
}

// sendLoop publishes frames over UDP and feeds the secondary sinks.
// Per-datagram failures are transient: counted, dropped, never fatal.
func (p *Publisher) sendLoop(ctx context.Context) {
	defer p.wg.Done()

	for frame := range p.sendChan {
		sent, dropped := p.sender.Send(frame)
		p.metrics.DatagramsSent.Add(uint64(sent))
		p.metrics.BytesSent.Add(uint64(len(frame.Data)))
		if dropped > 0 {
			p.metrics.DatagramsDropped.Add(uint64(dropped))
			p.metrics.SendErrors.Add(1)
		}
		p.metrics.UpdateFrameLatency(frame.Timestamp)

		if p.rec != nil {
			if p.rec.Ingest(frame) {
				p.metrics.RecorderFramesSent.Add(1)
			} else if p.rec.IsRecording() {
				p.metrics.RecorderFramesDropped.Add(1)
			}
		}
		if p.sink != nil {
			p.sink.Broadcast(frame)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ramananj/rgb-matrix/internal/capture"
	"github.com/ramananj/rgb-matrix/internal/config"
	"github.com/ramananj/rgb-matrix/internal/logger"
	"github.com/ramananj/rgb-matrix/internal/metrics"
	"github.com/ramananj/rgb-matrix/internal/preview"
	"github.com/ramananj/rgb-matrix/internal/publisher"
	"github.com/ramananj/rgb-matrix/internal/recorder"
	"github.com/ramananj/rgb-matrix/internal/udp"
	"github.com/ramananj/rgb-matrix/internal/webrtc"
)

// Exit codes. Fatal startup failures abort before any frame is sent.
const (
	exitOK            = 0
	exitConfig        = 1
	exitDeviceUnavail = 2
	exitEncoderInit   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML configuration file")

	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Printf("Config error: %v", err)
			return exitConfig
		}
		// Re-apply flags on top of the file values.
		cfg = loaded
		fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
		fs.String("config", "", "")
		cfg.RegisterFlags(fs)
		fs.Parse(os.Args[1:])
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("Config error: %v", err)
		return exitConfig
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Printf("Config error: %v", err)
		return exitConfig
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	logger.Info("Main", "camstream starting (log level %s)", level)

	if err := os.MkdirAll(cfg.Record.Path, 0755); err != nil {
		log.Printf("Failed to create recordings directory: %v", err)
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Stream sink: raw elementary-stream fragments or RTP.
	var sender udp.FrameSender
	if cfg.Stream.RTP {
		sender, err = udp.DialRTP(cfg.Stream.DestHost, cfg.Stream.DestPort,
			cfg.Stream.PacketSize, cfg.Stream.Framerate)
	} else {
		sender, err = udp.Dial(cfg.Stream.DestHost, cfg.Stream.DestPort, cfg.Stream.PacketSize)
	}
	if err != nil {
		logger.Error("Main", "UDP setup failed: %v", err)
		return exitConfig
	}
	defer sender.Close()

	var source capture.Source
	if cfg.Stream.Synthetic {
		source = capture.NewSynthetic(cfg.Stream, 0)
	} else {
		source = capture.NewCamera(cfg.Stream)
	}

	rec := recorder.New(cfg.Record.Path)
	defer rec.Close()

	hub := webrtc.NewHub(cfg.STUNServer, cfg.MaxClients, cfg.Stream.Framerate)
	defer hub.Close()

	pub := publisher.New(cfg.Stream, source, sender, m,
		publisher.WithRecorder(rec),
		publisher.WithSink(hub),
	)

	// Optional JPEG preview off the raw camera frames.
	var broadcaster *preview.Broadcaster
	var pusher *preview.Pusher
	if cfg.Preview.Enabled || cfg.Preview.PushAddr != "" {
		snap, ok := source.(capture.Snapshotter)
		if !ok {
			logger.Error("Main", "Capture source cannot provide preview snapshots")
			return exitConfig
		}
		broadcaster = preview.NewBroadcaster(cfg.Preview, snap)
		broadcaster.SetClientGauge(func(n int) { m.PreviewClients.Store(uint64(n)) })
		broadcaster.Start()
		defer broadcaster.Close()

		if cfg.Preview.PushAddr != "" {
			pusher = preview.NewPusher(cfg.Preview.PushAddr, broadcaster)
			pusher.Start()
			defer pusher.Close()
		}
	}

	startAuxServers(cfg, m)
	httpServer := startControlServer(cfg, m, rec, hub, broadcaster)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	// Cancel the pipeline on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Main", "Received %s, shutting down", sig)
		cancel()
	}()

	if err := pub.Run(ctx); err != nil {
		logger.Error("Main", "Publisher failed: %v", err)
		switch {
		case errors.Is(err, capture.ErrDeviceUnavailable):
			return exitDeviceUnavail
		case errors.Is(err, capture.ErrEncoderInit):
			return exitEncoderInit
		default:
			return exitConfig
		}
	}

	logger.Info("Main", "Stopped cleanly (sent %d datagrams, dropped %d)",
		m.DatagramsSent.Load(), m.DatagramsDropped.Load())
	return exitOK
}

// startAuxServers launches the metrics and pprof listeners.
func startAuxServers(cfg *config.Config, m *metrics.Metrics) {
	go func() {
		logger.Info("Main", "Metrics server on %s", cfg.MetricsAddr)
		if err := m.StartServer(cfg.MetricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()
	go func() {
		logger.Info("Main", "pprof server on %s", cfg.PprofAddr)
		if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()
}

// startControlServer serves recording control, WebRTC signaling, preview
// and health endpoints.
func startControlServer(cfg *config.Config, m *metrics.Metrics, rec *recorder.Recorder,
	hub *webrtc.Hub, broadcaster *preview.Broadcaster) *http.Server {

	mux := http.NewServeMux()

	mux.HandleFunc("/offer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		offerJSON, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		answerJSON, err := hub.HandleOffer(offerJSON)
		if err != nil {
			logger.Warn("HTTP", "WebRTC offer error: %v", err)
			http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
			return
		}
		m.WebRTCClients.Store(uint64(hub.ClientCount()))
		w.Header().Set("Content-Type", "application/json")
		w.Write(answerJSON)
	})

	mux.HandleFunc("/record/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := rec.Start(); err != nil {
			http.Error(w, fmt.Sprintf("Failed to start recording: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "status": rec.GetStatus()})
	})

	mux.HandleFunc("/record/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := rec.Stop(); err != nil {
			http.Error(w, fmt.Sprintf("Failed to stop recording: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "status": rec.GetStatus()})
	})

	mux.HandleFunc("/record/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rec.GetStatus())
	})

	if broadcaster != nil {
		mux.HandleFunc("/preview", broadcaster.ServeMJPEG)
		mux.HandleFunc("/snapshot", broadcaster.ServeSnapshot)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"webrtc_clients": hub.ClientCount(),
			"recording":      rec.IsRecording(),
		})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("Main", "Control server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Warn("Main", "Control server error: %v", err)
		}
	}()
	return srv
}

package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults match the command lines this service replaces.
const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultFramerate  = 30
	DefaultBitrate    = 4_000_000
	DefaultPacketSize = 1316 // 7 MPEG-TS packets, fits a 1500-byte MTU
	DefaultPort       = 5000

	// MaxUDPPayload is 65535 minus the IP and UDP headers. A larger
	// packet size can never leave the socket, so it is a config error.
	MaxUDPPayload = 65507
)

// Stream holds the capture, encoder and destination settings.
type Stream struct {
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	Framerate        int    `yaml:"framerate"`
	BitrateBps       int    `yaml:"bitrate_bps"`
	KeyframeInterval int    `yaml:"keyframe_interval"` // frames between IDRs; 0 = encoder default
	DestHost         string `yaml:"dest_host"`
	DestPort         int    `yaml:"dest_port"`
	PacketSize       int    `yaml:"packet_size"`
	RTP              bool   `yaml:"rtp"`       // RTP packetization instead of raw ES fragments
	Synthetic        bool   `yaml:"synthetic"` // synthetic source instead of the camera
}

// Record holds the optional elementary-stream recorder settings.
type Record struct {
	Path string `yaml:"path"`
}

// Preview holds the optional JPEG preview settings.
type Preview struct {
	Enabled      bool   `yaml:"enabled"`
	MaxWidth     int    `yaml:"max_width"`     // downscale bound, 0 = no scaling
	Quality      int    `yaml:"quality"`       // JPEG quality 1-100
	PushAddr     string `yaml:"push_addr"`     // host:port for length-prefixed JPEG over TCP, "" = off
	PushInterval int    `yaml:"push_interval"` // milliseconds between pushed frames
}

// Config is the full daemon configuration.
type Config struct {
	Stream  Stream  `yaml:"stream"`
	Record  Record  `yaml:"record"`
	Preview Preview `yaml:"preview"`

	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr"`
	MaxClients  int    `yaml:"max_clients"`
	STUNServer  string `yaml:"stun_server"`
	LogLevel    string `yaml:"log_level"`
	LogColor    bool   `yaml:"log_color"`
}

// Default returns the configuration used when no file and no flags are given.
func Default() *Config {
	return &Config{
		Stream: Stream{
			Width:      DefaultWidth,
			Height:     DefaultHeight,
			Framerate:  DefaultFramerate,
			BitrateBps: DefaultBitrate,
			DestHost:   "127.0.0.1",
			DestPort:   DefaultPort,
			PacketSize: DefaultPacketSize,
		},
		Record: Record{Path: "./recordings"},
		Preview: Preview{
			Quality:      75,
			PushInterval: 50,
		},
		HTTPAddr:    ":8081",
		MetricsAddr: ":9090",
		PprofAddr:   ":6060",
		MaxClients:  10,
		STUNServer:  "stun:stun.l.google.com:19302",
		LogLevel:    "info",
		LogColor:    true,
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// RegisterFlags binds the configuration to command-line flags. Flags
// override file values, which override defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Stream.Width, "width", c.Stream.Width, "Capture width in pixels")
	fs.IntVar(&c.Stream.Height, "height", c.Stream.Height, "Capture height in pixels")
	fs.IntVar(&c.Stream.Framerate, "framerate", c.Stream.Framerate, "Capture framerate")
	fs.IntVar(&c.Stream.BitrateBps, "bitrate", c.Stream.BitrateBps, "Encoder bitrate in bits/s")
	fs.IntVar(&c.Stream.KeyframeInterval, "keyframe-interval", c.Stream.KeyframeInterval,
		"Frames between keyframes (0 = encoder default)")
	fs.StringVar(&c.Stream.DestHost, "dest-host", c.Stream.DestHost, "Destination host")
	fs.IntVar(&c.Stream.DestPort, "dest-port", c.Stream.DestPort, "Destination UDP port")
	fs.IntVar(&c.Stream.PacketSize, "packet-size", c.Stream.PacketSize, "Maximum datagram payload size")
	fs.BoolVar(&c.Stream.RTP, "rtp", c.Stream.RTP, "Send RTP packets instead of raw stream fragments")
	fs.BoolVar(&c.Stream.Synthetic, "synthetic", c.Stream.Synthetic, "Use a synthetic source instead of the camera")

	fs.StringVar(&c.Record.Path, "record-path", c.Record.Path, "Recording output path")
	fs.BoolVar(&c.Preview.Enabled, "preview", c.Preview.Enabled, "Enable MJPEG preview endpoint")
	fs.IntVar(&c.Preview.MaxWidth, "preview-max-width", c.Preview.MaxWidth,
		"Downscale preview frames to this width (0 = original size)")
	fs.StringVar(&c.Preview.PushAddr, "jpeg-push", c.Preview.PushAddr,
		"Push length-prefixed JPEG frames to this TCP address")

	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "Control/preview HTTP address")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Metrics server address")
	fs.StringVar(&c.PprofAddr, "pprof", c.PprofAddr, "pprof server address")
	fs.IntVar(&c.MaxClients, "max-clients", c.MaxClients, "Maximum WebRTC preview clients")
	fs.StringVar(&c.STUNServer, "stun", c.STUNServer, "STUN server URL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.LogColor, "log-color", c.LogColor, "Enable colored log output")
}

// Validate checks the configuration. Invalid settings fail here, before
// any device is opened or datagram sent.
func (c *Config) Validate() error {
	s := &c.Stream
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("width and height must be > 0, got %dx%d", s.Width, s.Height)
	}
	if s.Framerate <= 0 {
		return fmt.Errorf("framerate must be > 0, got %d", s.Framerate)
	}
	if s.BitrateBps <= 0 {
		return fmt.Errorf("bitrate must be > 0, got %d", s.BitrateBps)
	}
	if s.KeyframeInterval < 0 {
		return fmt.Errorf("keyframe interval must be >= 1 or 0 for encoder default, got %d", s.KeyframeInterval)
	}
	if s.DestHost == "" {
		return fmt.Errorf("destination host is required")
	}
	if s.DestPort < 1 || s.DestPort > 65535 {
		return fmt.Errorf("destination port must be in [1,65535], got %d", s.DestPort)
	}
	if s.PacketSize < 1 || s.PacketSize > MaxUDPPayload {
		return fmt.Errorf("packet size must be in [1,%d], got %d", MaxUDPPayload, s.PacketSize)
	}

	p := &c.Preview
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("preview quality must be in [1,100], got %d", p.Quality)
	}
	if p.MaxWidth < 0 {
		return fmt.Errorf("preview max width must be >= 0, got %d", p.MaxWidth)
	}
	if p.PushInterval <= 0 {
		p.PushInterval = 50
	}
	return nil
}

// FrameInterval returns the nominal time between frames.
func (s *Stream) FrameInterval() time.Duration {
	return time.Second / time.Duration(s.Framerate)
}

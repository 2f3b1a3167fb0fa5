package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapFilename is the bootstrap file looked up inside the config dir.
const BootstrapFilename = "console_config.yaml"

// BootstrapConfig holds the initial configuration loaded from console_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Robot      RobotConfig      `yaml:"robot"`
	Control    ControlConfig    `yaml:"control"`
	Radar      RadarConfig      `yaml:"radar"`
	Render     RenderConfig     `yaml:"render"`
	Video      VideoConfig      `yaml:"video"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Processing ProcessingConfig `yaml:"processing"`
	AIConfig   AIConfigSection  `yaml:"ai_config"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// RobotConfig locates the robot-side websocket service.
type RobotConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	Scheme        string           `yaml:"scheme"`
	DialTimeoutMs int              `yaml:"dial_timeout_ms"`
	Channels      []ChannelMapping `yaml:"channels,omitempty"`
}

// ControlConfig holds the control loop period.
type ControlConfig struct {
	PeriodMs int `yaml:"period_ms"`
}

// RadarConfig bounds the radar spatial buffer.
type RadarConfig struct {
	Capacity      int     `yaml:"capacity"`
	MaxDistanceCm float64 `yaml:"max_distance_cm"`
}

// RenderConfig sizes the radar raster surface.
type RenderConfig struct {
	FrameMs      int     `yaml:"frame_ms"`
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	ScalePxPerCm float64 `yaml:"scale_px_per_cm"`
}

// VideoConfig holds peer connection settings.
type VideoConfig struct {
	ICEServers []string `yaml:"ice_servers"`
}

// ServerConfig holds the operator HTTP server settings
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// TelemetryConfig enables the ZeroMQ telemetry fan-out when PublishAddress is
// set, and the request/reply state endpoint when QueryAddress is set.
type TelemetryConfig struct {
	PublishAddress string `yaml:"publish_address,omitempty"`
	QueryAddress   string `yaml:"query_address,omitempty"`
}

// AIConfigSection controls the local copy of the robot's AI config.
type AIConfigSection struct {
	// CacheFile, when set, receives every CONFIG_FULL as YAML.
	CacheFile string `yaml:"cache_file,omitempty"`
}

// ProcessingConfig sizes the event loop queue.
type ProcessingConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// DefaultBootstrapConfig returns the built-in configuration. The robot
// service lives on a fixed port with fixed channel paths.
func DefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Robot: RobotConfig{
			Host:          "localhost",
			Port:          8765,
			Scheme:        "ws",
			DialTimeoutMs: 5000,
			Channels:      DefaultChannelMappings(),
		},
		Control: ControlConfig{PeriodMs: 50},
		Radar:   RadarConfig{Capacity: 500, MaxDistanceCm: 200},
		Render: RenderConfig{
			FrameMs:      33,
			Width:        520,
			Height:       520,
			ScalePxPerCm: 1.2,
		},
		Video:      VideoConfig{ICEServers: []string{"stun:stun.l.google.com:19302"}},
		Server:     ServerConfig{HTTPPort: 8080},
		Processing: ProcessingConfig{QueueSize: 1024},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from console_config.yaml
// in configDir. Fields absent from the file keep their defaults.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	return ParseBootstrapConfig(data)
}

// ParseBootstrapConfig decodes YAML over the defaults and validates the result.
func ParseBootstrapConfig(data []byte) (*BootstrapConfig, error) {
	cfg := DefaultBootstrapConfig()
	// Channels are replaced wholesale when present; clear so a partial list
	// does not merge index-by-index into the defaults.
	defaultChannels := cfg.Robot.Channels
	cfg.Robot.Channels = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config: %w", err)
	}
	if len(cfg.Robot.Channels) == 0 {
		cfg.Robot.Channels = defaultChannels
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and channel coverage.
func (c *BootstrapConfig) Validate() error {
	if c.Robot.Host == "" {
		return fmt.Errorf("missing required field in bootstrap config: robot.host")
	}
	if c.Robot.Port <= 0 || c.Robot.Port > 65535 {
		return fmt.Errorf("invalid robot.port %d", c.Robot.Port)
	}
	if c.Robot.Scheme != "ws" && c.Robot.Scheme != "wss" {
		return fmt.Errorf("invalid robot.scheme %q (expected ws or wss)", c.Robot.Scheme)
	}
	if c.Control.PeriodMs <= 0 {
		return fmt.Errorf("invalid control.period_ms %d", c.Control.PeriodMs)
	}
	if c.Radar.Capacity <= 0 {
		return fmt.Errorf("invalid radar.capacity %d", c.Radar.Capacity)
	}
	if c.Radar.MaxDistanceCm <= 0 {
		return fmt.Errorf("invalid radar.max_distance_cm %v", c.Radar.MaxDistanceCm)
	}
	if c.Render.FrameMs <= 0 {
		return fmt.Errorf("invalid render.frame_ms %d", c.Render.FrameMs)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("invalid render size %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port %d", c.Server.HTTPPort)
	}
	if c.Processing.QueueSize <= 0 {
		return fmt.Errorf("invalid processing.queue_size %d", c.Processing.QueueSize)
	}
	if c.Telemetry.PublishAddress != "" && c.Telemetry.PublishAddress == c.Telemetry.QueryAddress {
		return fmt.Errorf("telemetry.publish_address and telemetry.query_address must differ")
	}
	return validateChannelMappings(c.Robot.Channels)
}

// ControlPeriod returns the control tick period.
func (c *BootstrapConfig) ControlPeriod() time.Duration {
	return time.Duration(c.Control.PeriodMs) * time.Millisecond
}

// FramePeriod returns the render frame period.
func (c *BootstrapConfig) FramePeriod() time.Duration {
	return time.Duration(c.Render.FrameMs) * time.Millisecond
}

// DialTimeout returns the websocket handshake timeout.
func (c *BootstrapConfig) DialTimeout() time.Duration {
	return time.Duration(c.Robot.DialTimeoutMs) * time.Millisecond
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
# Test config matching the structure of config/console_config.yaml
logging:
  level: "debug"
  log_path: "/tmp/console-logs"

robot:
  host: "robot.local"
  port: 9000
  scheme: "ws"
  dial_timeout_ms: 1500

control:
  period_ms: 40

radar:
  capacity: 250

video:
  ice_servers:
    - "stun:stun.example.org:3478"

server:
  http_port: 8181

telemetry:
  publish_address: "tcp://*:5560"
`

	configPath := filepath.Join(tempDir, BootstrapFilename)
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Robot.Host != "robot.local" || cfg.Robot.Port != 9000 {
		t.Errorf("Unexpected robot address %s:%d", cfg.Robot.Host, cfg.Robot.Port)
	}
	if cfg.ControlPeriod() != 40*time.Millisecond {
		t.Errorf("Expected control period 40ms, got %v", cfg.ControlPeriod())
	}
	if cfg.DialTimeout() != 1500*time.Millisecond {
		t.Errorf("Expected dial timeout 1.5s, got %v", cfg.DialTimeout())
	}
	if cfg.Radar.Capacity != 250 {
		t.Errorf("Expected radar capacity 250, got %d", cfg.Radar.Capacity)
	}
	// Untouched sections keep defaults
	if cfg.Radar.MaxDistanceCm != 200 {
		t.Errorf("Expected default max distance 200, got %v", cfg.Radar.MaxDistanceCm)
	}
	if cfg.Render.ScalePxPerCm != 1.2 {
		t.Errorf("Expected default render scale 1.2, got %v", cfg.Render.ScalePxPerCm)
	}
	if len(cfg.Video.ICEServers) != 1 || cfg.Video.ICEServers[0] != "stun:stun.example.org:3478" {
		t.Errorf("Unexpected ICE servers %v", cfg.Video.ICEServers)
	}
	if cfg.Telemetry.PublishAddress != "tcp://*:5560" {
		t.Errorf("Unexpected publish address %q", cfg.Telemetry.PublishAddress)
	}
	if len(cfg.Robot.Channels) != 6 {
		t.Errorf("Expected default channel table, got %d entries", len(cfg.Robot.Channels))
	}
}

func TestLoadBootstrapConfigMissingFile(t *testing.T) {
	_, err := LoadBootstrapConfig(t.TempDir())
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), BootstrapFilename) {
		t.Errorf("Error should name the file: %v", err)
	}
}

func TestParseBootstrapConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad port",
			content: "robot:\n  port: 70000\n",
			wantErr: "robot.port",
		},
		{
			name:    "bad scheme",
			content: "robot:\n  scheme: http\n",
			wantErr: "robot.scheme",
		},
		{
			name:    "zero period",
			content: "control:\n  period_ms: 0\n",
			wantErr: "control.period_ms",
		},
		{
			name:    "negative capacity",
			content: "radar:\n  capacity: -1\n",
			wantErr: "radar.capacity",
		},
		{
			name: "missing channel",
			content: `robot:
  channels:
    - channel: control
      path: /ws-ctrl
`,
			wantErr: "missing endpoint",
		},
		{
			name: "duplicate path",
			content: `robot:
  channels:
    - {channel: control, path: /ws-ctrl}
    - {channel: encoders, path: /ws-ctrl}
`,
			wantErr: "share path",
		},
		{
			name:    "shared zeromq address",
			content: "telemetry:\n  publish_address: tcp://*:5560\n  query_address: tcp://*:5560\n",
			wantErr: "must differ",
		},
		{
			name:    "invalid yaml",
			content: "robot: [",
			wantErr: "error parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBootstrapConfig([]byte(tt.content))
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChannelURL(t *testing.T) {
	cfg := DefaultBootstrapConfig()
	cfg.Robot.Host = "192.168.1.20"

	url, err := cfg.ChannelURL(ChannelRadar)
	if err != nil {
		t.Fatalf("ChannelURL failed: %v", err)
	}
	if url != "ws://192.168.1.20:8765/ws-radar" {
		t.Errorf("Unexpected radar URL %s", url)
	}

	url, err = cfg.ChannelURL(ChannelConfig)
	if err != nil {
		t.Fatalf("ChannelURL failed: %v", err)
	}
	if url != "ws://192.168.1.20:8765/ws-ai-config" {
		t.Errorf("Unexpected config URL %s", url)
	}

	if _, err := cfg.ChannelURL("audio"); err == nil {
		t.Errorf("Expected error for unknown channel")
	}
}

func TestDefaultsAreValid(t *testing.T) {
	if err := DefaultBootstrapConfig().Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
}

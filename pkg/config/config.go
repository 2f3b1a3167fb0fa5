package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Channel names as they appear in console_config.yaml.
const (
	ChannelControl   = "control"
	ChannelEncoders  = "encoders"
	ChannelRadar     = "radar"
	ChannelSignaling = "signaling"
	ChannelSystem    = "system"
	ChannelConfig    = "config"
)

// ChannelMapping binds a logical channel to its endpoint path on the robot.
type ChannelMapping struct {
	Channel   string `yaml:"channel" json:"channel"`
	Path      string `yaml:"path" json:"path"`
	Direction string `yaml:"direction,omitempty" json:"direction,omitempty"`
}

// DefaultChannelMappings returns the fixed robot endpoint table.
func DefaultChannelMappings() []ChannelMapping {
	return []ChannelMapping{
		{Channel: ChannelControl, Path: "/ws-ctrl", Direction: "OUTBOUND"},
		{Channel: ChannelEncoders, Path: "/ws-enc", Direction: "INBOUND"},
		{Channel: ChannelRadar, Path: "/ws-radar", Direction: "INBOUND"},
		{Channel: ChannelSignaling, Path: "/ws-rtc", Direction: "BIDIRECTIONAL"},
		{Channel: ChannelSystem, Path: "/ws-sys", Direction: "INBOUND"},
		{Channel: ChannelConfig, Path: "/ws-ai-config", Direction: "BIDIRECTIONAL"},
	}
}

// GetChannelMapping returns the mapping for a channel name
func (c *BootstrapConfig) GetChannelMapping(channel string) (ChannelMapping, bool) {
	for _, mapping := range c.Robot.Channels {
		if mapping.Channel == channel {
			return mapping, true
		}
	}
	return ChannelMapping{}, false
}

// ChannelURL builds the websocket URL for a channel,
// e.g. ws://robot.local:8765/ws-radar.
func (c *BootstrapConfig) ChannelURL(channel string) (string, error) {
	mapping, ok := c.GetChannelMapping(channel)
	if !ok {
		return "", fmt.Errorf("no endpoint configured for channel '%s'", channel)
	}
	u := url.URL{
		Scheme: c.Robot.Scheme,
		Host:   net.JoinHostPort(c.Robot.Host, strconv.Itoa(c.Robot.Port)),
		Path:   mapping.Path,
	}
	return u.String(), nil
}

func validateChannelMappings(mappings []ChannelMapping) error {
	known := map[string]bool{
		ChannelControl:   true,
		ChannelEncoders:  true,
		ChannelRadar:     true,
		ChannelSignaling: true,
		ChannelSystem:    true,
		ChannelConfig:    true,
	}
	seenChannel := make(map[string]bool)
	seenPath := make(map[string]string)

	for _, m := range mappings {
		if !known[m.Channel] {
			return fmt.Errorf("unknown channel '%s' in robot.channels", m.Channel)
		}
		if seenChannel[m.Channel] {
			return fmt.Errorf("duplicate channel '%s' in robot.channels", m.Channel)
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("channel '%s' path must start with '/', got %q", m.Channel, m.Path)
		}
		if other, dup := seenPath[m.Path]; dup {
			return fmt.Errorf("channels '%s' and '%s' share path %s", other, m.Channel, m.Path)
		}
		seenChannel[m.Channel] = true
		seenPath[m.Path] = m.Channel
	}

	for name := range known {
		if !seenChannel[name] {
			return fmt.Errorf("missing endpoint for channel '%s' in robot.channels", name)
		}
	}
	return nil
}

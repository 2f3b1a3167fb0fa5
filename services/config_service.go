package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-teleop/console/pkg/channel"
	customlog "github.com/open-teleop/console/pkg/log"
	"gopkg.in/yaml.v3"
)

// Errors returned by the AI config service.
var (
	ErrNotOpen       = errors.New("channel not open")
	ErrNoConfig      = errors.New("robot has not sent its configuration yet")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownReply  = errors.New("unknown config reply")
)

// RemoteConfig is the robot's AI and motion tuning document.
type RemoteConfig struct {
	// TD3 exploration
	NoiseScale  float64 `json:"noise_scale" yaml:"noise_scale"`
	PolicyNoise float64 `json:"policy_noise" yaml:"policy_noise"`
	NoiseClip   float64 `json:"noise_clip" yaml:"noise_clip"`

	// TD3 learning
	Gamma       float64 `json:"gamma" yaml:"gamma"`
	LRActor     float64 `json:"lr_actor" yaml:"lr_actor"`
	LRCritic    float64 `json:"lr_critic" yaml:"lr_critic"`
	Tau         float64 `json:"tau" yaml:"tau"`
	PolicyDelay int     `json:"policy_delay" yaml:"policy_delay"`
	BatchSize   int     `json:"batch_size" yaml:"batch_size"`

	MaxSpeedLinear  float64 `json:"max_speed_linear" yaml:"max_speed_linear"`
	MaxSpeedAngular float64 `json:"max_speed_angular" yaml:"max_speed_angular"`

	// Reward shaping
	RewardDistanceWeight   float64 `json:"reward_distance_weight" yaml:"reward_distance_weight"`
	RewardSpeedWeight      float64 `json:"reward_speed_weight" yaml:"reward_speed_weight"`
	RewardCollisionPenalty float64 `json:"reward_collision_penalty" yaml:"reward_collision_penalty"`

	// Radar filtering
	RadarAlpha        float64 `json:"radar_alpha" yaml:"radar_alpha"`
	RadarMedianWindow int     `json:"radar_median_window" yaml:"radar_median_window"`
	DangerThresholdCm float64 `json:"danger_threshold_cm" yaml:"danger_threshold_cm"`

	EnableReplayLogging bool    `json:"enable_replay_logging" yaml:"enable_replay_logging"`
	EnableLossLogging   bool    `json:"enable_loss_logging" yaml:"enable_loss_logging"`
	TrainFrequencyHz    float64 `json:"train_frequency_hz" yaml:"train_frequency_hz"`
}

// DefaultRemoteConfig mirrors the robot's factory values. RESET_CONFIG
// restores these on the robot.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		NoiseScale:             0.05,
		PolicyNoise:            0.1,
		NoiseClip:              0.2,
		Gamma:                  0.99,
		LRActor:                0.0003,
		LRCritic:               0.0003,
		Tau:                    0.002,
		PolicyDelay:            3,
		BatchSize:              256,
		MaxSpeedLinear:         1.0,
		MaxSpeedAngular:        1.0,
		RewardDistanceWeight:   1.0,
		RewardSpeedWeight:      0.1,
		RewardCollisionPenalty: -1.0,
		RadarAlpha:             0.25,
		RadarMedianWindow:      5,
		DangerThresholdCm:      20.0,
		EnableReplayLogging:    true,
		EnableLossLogging:      true,
		TrainFrequencyHz:       20,
	}
}

// Validate rejects values the robot's trainer cannot run with.
func (c RemoteConfig) Validate() error {
	switch {
	case c.Gamma < 0 || c.Gamma > 1:
		return fmt.Errorf("%w: gamma %v out of [0,1]", ErrInvalidConfig, c.Gamma)
	case c.Tau <= 0 || c.Tau > 1:
		return fmt.Errorf("%w: tau %v out of (0,1]", ErrInvalidConfig, c.Tau)
	case c.LRActor <= 0 || c.LRCritic <= 0:
		return fmt.Errorf("%w: learning rates must be positive", ErrInvalidConfig)
	case c.PolicyDelay < 1:
		return fmt.Errorf("%w: policy_delay %d < 1", ErrInvalidConfig, c.PolicyDelay)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size %d < 1", ErrInvalidConfig, c.BatchSize)
	case c.MaxSpeedLinear < 0 || c.MaxSpeedAngular < 0:
		return fmt.Errorf("%w: max speeds must not be negative", ErrInvalidConfig)
	case c.RadarAlpha < 0 || c.RadarAlpha > 1:
		return fmt.Errorf("%w: radar_alpha %v out of [0,1]", ErrInvalidConfig, c.RadarAlpha)
	case c.RadarMedianWindow < 1:
		return fmt.Errorf("%w: radar_median_window %d < 1", ErrInvalidConfig, c.RadarMedianWindow)
	case c.TrainFrequencyHz <= 0:
		return fmt.Errorf("%w: train_frequency_hz must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigPublisher is notified when the robot reports a new configuration.
type ConfigPublisher interface {
	PublishConfigUpdated(cfg RemoteConfig) error
}

// Link is the part of the channel registry the console services write to.
type Link interface {
	Send(id channel.ID, message []byte)
	Status(id channel.ID) channel.Status
}

// AIConfigService synchronizes the robot's AI config over the config channel.
// The robot is the source of truth: local state only changes on CONFIG_FULL.
type AIConfigService interface {
	RequestConfig() error
	SetConfig(cfg RemoteConfig) error
	ResetConfig() error
	HandleMessage(msg channel.ConfigMessage) error
	GetCurrentConfig() (RemoteConfig, bool)
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	LastUpdated() time.Time
	SetPublisher(p ConfigPublisher)
}

type aiConfigService struct {
	link      Link
	cachePath string
	logger    customlog.Logger
	publisher ConfigPublisher

	mu          sync.RWMutex
	current     *RemoteConfig
	lastUpdated time.Time
}

// NewAIConfigService creates the service. When cachePath is set the last
// known config is loaded from it and every CONFIG_FULL is written back.
func NewAIConfigService(link Link, cachePath string, logger customlog.Logger) AIConfigService {
	s := &aiConfigService{
		link:      link,
		cachePath: cachePath,
		logger:    customlog.Component(logger, "ai-config"),
	}
	if cachePath != "" {
		if err := s.loadCache(); err != nil {
			s.logger.Warnf("No cached AI config loaded from %s: %v", cachePath, err)
		}
	}
	return s
}

func (s *aiConfigService) loadCache() error {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return err
	}
	cfg := DefaultRemoteConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("error parsing cached config: %w", err)
	}
	s.current = &cfg
	s.logger.Infof("Loaded cached AI config from %s", s.cachePath)
	return nil
}

func (s *aiConfigService) send(cmd channel.ConfigCommand) error {
	if s.link.Status(channel.Config) != channel.Open {
		return fmt.Errorf("%w: %s", ErrNotOpen, channel.Config)
	}
	data, err := channel.EncodeConfigCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", cmd.Cmd, err)
	}
	s.link.Send(channel.Config, data)
	return nil
}

// RequestConfig sends GET_CONFIG.
func (s *aiConfigService) RequestConfig() error {
	s.logger.Debugf("Requesting AI config")
	return s.send(channel.ConfigCommand{Cmd: channel.CmdGetConfig})
}

// SetConfig validates cfg and sends it as SET_CONFIG.
func (s *aiConfigService) SetConfig(cfg RemoteConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.logger.Infof("Sending AI config update")
	return s.send(channel.ConfigCommand{Cmd: channel.CmdSetConfig, Config: cfg})
}

// ResetConfig asks the robot to restore its factory values.
func (s *aiConfigService) ResetConfig() error {
	s.logger.Infof("Requesting AI config reset")
	return s.send(channel.ConfigCommand{Cmd: channel.CmdResetConfig})
}

// HandleMessage stores a CONFIG_FULL reply.
func (s *aiConfigService) HandleMessage(msg channel.ConfigMessage) error {
	if msg.Type != channel.ConfigFull {
		return fmt.Errorf("%w: %s", ErrUnknownReply, msg.Type)
	}
	if len(msg.Config) == 0 {
		return fmt.Errorf("%w: CONFIG_FULL without config", channel.ErrMalformedPayload)
	}

	cfg := DefaultRemoteConfig()
	if err := json.Unmarshal(msg.Config, &cfg); err != nil {
		return fmt.Errorf("%w: CONFIG_FULL: %v", channel.ErrMalformedPayload, err)
	}

	s.mu.Lock()
	s.current = &cfg
	s.lastUpdated = time.Now()
	publisher := s.publisher
	s.mu.Unlock()

	s.logger.Infof("Robot AI config updated (gamma=%v, batch_size=%d)", cfg.Gamma, cfg.BatchSize)

	if s.cachePath != "" {
		if err := s.persist(cfg); err != nil {
			s.logger.Warnf("Failed to cache AI config: %v", err)
		}
	}
	if publisher != nil {
		if err := publisher.PublishConfigUpdated(cfg); err != nil {
			s.logger.Warnf("Failed to publish config update notification: %v", err)
		}
	}
	return nil
}

func (s *aiConfigService) persist(cfg RemoteConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.cachePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.cachePath, data, 0644)
}

// GetCurrentConfig returns the last reported config.
func (s *aiConfigService) GetCurrentConfig() (RemoteConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return RemoteConfig{}, false
	}
	return *s.current, true
}

// GetCurrentConfigYAML exports the last reported config as YAML.
func (s *aiConfigService) GetCurrentConfigYAML() ([]byte, error) {
	cfg, ok := s.GetCurrentConfig()
	if !ok {
		return nil, ErrNoConfig
	}
	return yaml.Marshal(cfg)
}

// UpdateConfig applies a YAML document on top of the current config (or the
// factory values when none is known) and sends the result.
func (s *aiConfigService) UpdateConfig(newConfigYAML []byte) error {
	cfg, ok := s.GetCurrentConfig()
	if !ok {
		cfg = DefaultRemoteConfig()
	}
	if err := yaml.Unmarshal(newConfigYAML, &cfg); err != nil {
		return fmt.Errorf("%w: invalid YAML format: %v", ErrInvalidConfig, err)
	}
	return s.SetConfig(cfg)
}

// LastUpdated returns when the robot last reported; zero for cached or
// missing config.
func (s *aiConfigService) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// SetPublisher allows injecting the ConfigPublisher after initialization.
func (s *aiConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

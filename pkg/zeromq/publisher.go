package zeromq

import (
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/services"
)

// Topics used outside the per-report telemetry stream.
const (
	TopicConfigNotification = "configuration.notification"
	TopicConfigUpdate       = "configuration.update"
)

// ConfigPublisher announces robot AI config changes to subscribers.
type ConfigPublisher struct {
	service *TelemetryService
	logger  customlog.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates
func NewConfigPublisher(service *TelemetryService, logger customlog.Logger) *ConfigPublisher {
	return &ConfigPublisher{service: service, logger: logger}
}

// PublishConfigUpdated publishes the full config and a short notification.
func (p *ConfigPublisher) PublishConfigUpdated(cfg services.RemoteConfig) error {
	p.logger.Debugf("Publishing AI config update")
	if err := p.service.PublishJSON(TopicConfigUpdate, MsgTypeConfigResponse, cfg); err != nil {
		return err
	}
	return p.service.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, map[string]interface{}{
		"batch_size": cfg.BatchSize,
		"gamma":      cfg.Gamma,
	})
}

// RegisterConsoleHandlers answers STATE_REQUEST and CONFIG_REQUEST from the
// console and, when the service publishes, routes telemetry and config
// notifications through it.
func RegisterConsoleHandlers(service *TelemetryService, console *services.Console, logger customlog.Logger) {
	service.RegisterHandler(MsgTypeStateRequest, NewQueryHandler(
		MsgTypeStateRequest, MsgTypeStateResponse,
		func() (interface{}, error) { return console.State(), nil },
		logger,
	))

	service.RegisterHandler(MsgTypeConfigRequest, NewQueryHandler(
		MsgTypeConfigRequest, MsgTypeConfigResponse,
		func() (interface{}, error) {
			cfg, ok := console.AIConfig().GetCurrentConfig()
			if !ok {
				return nil, ErrUnavailable
			}
			return cfg, nil
		},
		logger,
	))

	if service.sender != nil {
		console.SetTelemetry(service)
		console.AIConfig().SetPublisher(NewConfigPublisher(service, logger))
	}

	logger.Infof("Registered console query handlers")
}

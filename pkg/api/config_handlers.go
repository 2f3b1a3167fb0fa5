package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.AIConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.AIConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the robot AI config endpoints.
func RegisterConfigRoutes(app fiber.Router, configService services.AIConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/ai", h.handleGetAIConfig)
	apiGroup.Put("/ai", h.handleUpdateAIConfig)
	apiGroup.Post("/ai/reset", h.handleResetAIConfig)

	logger.Debugf("Registered AI configuration API endpoints under /api/v1/config")
}

// configStatus maps config service errors to HTTP status codes.
func configStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoConfig):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleGetAIConfig returns the robot's last reported config as YAML.
func (h *ConfigHandler) handleGetAIConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		if !errors.Is(err, services.ErrNoConfig) {
			h.logger.Errorf("Failed to export AI config YAML: %v", err)
		}
		return c.Status(configStatus(err)).JSON(ErrorResponse{
			Error: fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	if updated := h.configService.LastUpdated(); !updated.IsZero() {
		c.Set(fiber.HeaderLastModified, updated.UTC().Format(http.TimeFormat))
	}
	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateAIConfig merges a YAML document into the config and sends it
// to the robot. The stored config changes only when the robot confirms.
func (h *ConfigHandler) handleUpdateAIConfig(c *fiber.Ctx) error {
	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml", "":
	default:
		h.logger.Warnf("AI config update with Content-Type %s, parsing as YAML", ct)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error: "Request body cannot be empty.",
		})
	}

	if err := h.configService.UpdateConfig(newConfigYAML); err != nil {
		h.logger.Warnf("AI config update rejected: %v", err)
		return c.Status(configStatus(err)).JSON(ErrorResponse{
			Error: fmt.Sprintf("Configuration update failed: %v", err),
		})
	}

	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": "Configuration sent to the robot; it takes effect when the robot reports it back.",
	})
}

// handleResetAIConfig asks the robot to restore its factory values.
func (h *ConfigHandler) handleResetAIConfig(c *fiber.Ctx) error {
	if err := h.configService.ResetConfig(); err != nil {
		return c.Status(configStatus(err)).JSON(ErrorResponse{
			Error: fmt.Sprintf("Configuration reset failed: %v", err),
		})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": "Reset requested.",
	})
}

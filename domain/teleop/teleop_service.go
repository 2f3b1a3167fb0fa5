// Package teleop exposes the operator's motion and robot intents over HTTP.
package teleop

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/console/domain/motion"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/services"
)

var (
	ErrMissingAxis = errors.New("command needs vx, vy and w")
	ErrInvalidMode = errors.New("mode name must be a single word")
)

var modeName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Intents is the part of the console an operator can drive.
type Intents interface {
	Command(vx, vy, w float64) error
	Stop() error
	SetMode(name string) error
	SaveAI() error
	LoadAI() error
	Reboot() error
	Shutdown() error
}

// Command is the body of a velocity request. All three axes are required.
type Command struct {
	VX *float64 `json:"vx"`
	VY *float64 `json:"vy"`
	W  *float64 `json:"w"`
}

// TeleopService handles operator intents.
type TeleopService struct {
	intents Intents
	logger  customlog.Logger
}

// NewTeleopService creates a new teleop service instance
func NewTeleopService(intents Intents, logger customlog.Logger) *TeleopService {
	return &TeleopService{intents: intents, logger: customlog.Component(logger, "teleop")}
}

// RegisterRoutes mounts the intent endpoints on router.
func (s *TeleopService) RegisterRoutes(router fiber.Router) {
	router.Post("/motion/command", s.CommandHandler)
	router.Post("/motion/stop", s.action("stop", s.intents.Stop))
	router.Post("/mode/:name", s.ModeHandler)
	router.Post("/ai/save", s.action("save ai", s.intents.SaveAI))
	router.Post("/ai/load", s.action("load ai", s.intents.LoadAI))
	router.Post("/host/reboot", s.action("reboot", s.intents.Reboot))
	router.Post("/host/shutdown", s.action("shutdown", s.intents.Shutdown))
}

// ValidateCommand checks that every axis is present.
func ValidateCommand(cmd Command) (motion.Command, error) {
	if cmd.VX == nil || cmd.VY == nil || cmd.W == nil {
		return motion.Command{}, ErrMissingAxis
	}
	return motion.Command{VX: *cmd.VX, VY: *cmd.VY, W: *cmd.W}, nil
}

// ValidateMode checks that name can travel as one MODE argument.
func ValidateMode(name string) error {
	if !modeName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, name)
	}
	return nil
}

// CommandHandler processes incoming velocity commands
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	var req Command
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	cmd, err := ValidateCommand(req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.intents.Command(cmd.VX, cmd.VY, cmd.W); err != nil {
		return intentError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "command accepted",
		"command": cmd,
	})
}

// ModeHandler switches the robot's driving mode.
func (s *TeleopService) ModeHandler(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := ValidateMode(name); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.intents.SetMode(name); err != nil {
		return intentError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "mode requested", "mode": name})
}

func (s *TeleopService) action(name string, fn func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := fn(); err != nil {
			s.logger.Warnf("Intent %s rejected: %v", name, err)
			return intentError(err)
		}
		s.logger.Infof("Intent %s queued", name)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": name + " requested"})
	}
}

func intentError(err error) error {
	if errors.Is(err, services.ErrBusy) {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}

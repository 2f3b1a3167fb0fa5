package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"

	customlog "github.com/open-teleop/console/pkg/log"
)

// ErrUnavailable is returned by a provider with nothing to report yet.
var ErrUnavailable = errors.New("not available")

// Provider produces the data of a response.
type Provider func() (interface{}, error)

// QueryHandler answers one request type with the provider's current value.
type QueryHandler struct {
	requestType  string
	responseType string
	provide      Provider
	logger       customlog.Logger
}

// NewQueryHandler creates a handler answering requestType with responseType.
func NewQueryHandler(requestType, responseType string, provide Provider, logger customlog.Logger) *QueryHandler {
	return &QueryHandler{
		requestType:  requestType,
		responseType: responseType,
		provide:      provide,
		logger:       logger,
	}
}

// HandleMessage validates the request and serializes the response.
func (h *QueryHandler) HandleMessage(data []byte) ([]byte, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type != h.requestType {
		return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
	}

	payload, err := h.provide()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.requestType, err)
	}

	responseData, err := json.Marshal(NewMessage(h.responseType, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	h.logger.Debugf("Answering %s (%d bytes)", h.requestType, len(responseData))
	return responseData, nil
}

package api

import (
	"encoding/json"
	"errors"
	"net"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/open-teleop/console/domain/teleop"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/render"
)

// WSConn is the part of a websocket connection the handlers use.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	RemoteAddr() net.Addr
}

func logClosed(logger customlog.Logger, name string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
		logger.Errorf("%s WS read error: %v", name, err)
		return
	}
	if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
		logger.Infof("%s WS connection closed: %v", name, err)
	} else {
		logger.Infof("%s WS connection closed normally.", name)
	}
}

// IntentWebSocketHandler reads Twist messages and turns them into intents.
func IntentWebSocketHandler(conn WSConn, logger customlog.Logger, intents teleop.Intents) {
	logger.Infof("Intent WebSocket connected: %s", conn.RemoteAddr())
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logClosed(logger, "Intent", err)
			break
		}
		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Intent WS message type: %d", mt)
			continue
		}

		var twist TwistMsg
		if err := json.Unmarshal(msg, &twist); err != nil {
			logger.Warnf("Failed to unmarshal Twist command from WS: %v. Message: %s", err, string(msg))
			continue
		}

		if twist.Stop {
			err = intents.Stop()
		} else {
			logger.Debugf("Twist via WS: vx=%.2f vy=%.2f w=%.2f", twist.Linear.X, twist.Linear.Y, twist.Angular.Z)
			err = intents.Command(twist.Linear.X, twist.Linear.Y, twist.Angular.Z)
		}
		if err != nil {
			logger.Warnf("Intent from WS dropped: %v", err)
		}
	}
	logger.Infof("Intent WebSocket disconnected: %s", conn.RemoteAddr())
}

// FramesWebSocketHandler streams render frames until the client goes away.
func FramesWebSocketHandler(conn WSConn, logger customlog.Logger, hub *render.FrameHub) {
	frames, leave := hub.Subscribe()
	defer leave()
	logger.Infof("Frames WebSocket connected: %s", conn.RemoteAddr())

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClosed(logger, "Frames", err)
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.Infof("Frames WebSocket disconnected: %s", conn.RemoteAddr())
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("Frames WS write failed: %v", err)
				return
			}
		}
	}
}

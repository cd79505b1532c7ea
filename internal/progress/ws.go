package progress

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// upgrader accepts any origin: the API already authenticates the
// connection via the {token} path segment before upgrade (spec §6
// WS /automation/ws/{token}).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// eventFrameType maps a raw progress phase to the WebSocket frame type
// clients dispatch on (spec §6 WebSocket frames): "error" becomes
// automation_error, "completion" becomes automation_complete, and any
// other phase automation_progress. The mapping is the same for every
// subscription, whatever its jobID/userID scope.
func eventFrameType(event models.ProgressEvent) models.WSFrameType {
	switch event.Phase {
	case "error":
		return models.WSAutomationError
	case "completion":
		return models.WSAutomationComplete
	default:
		return models.WSAutomationProgress
	}
}

// ServeWS upgrades the HTTP request to a WebSocket connection and
// streams every progress event matching (jobID, userID) until the
// client disconnects or the request context is cancelled. Client pings
// are answered with a "pong" frame (spec §6: "client pings ignored or
// echoed").
func ServeWS(bus *Bus, logger arbor.ILogger, w http.ResponseWriter, r *http.Request, jobID, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := bus.Subscribe(jobID, userID)
	defer sub.Unsubscribe()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go readLoop(conn, done, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-sub.Events:
			if !ok {
				return nil
			}
			frame := models.WSFrame{Type: eventFrameType(event), Data: event}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug().Err(err).Str("job_id", jobID).Msg("progress ws: write failed, closing")
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readLoop drains client frames (pings, and the occasional close) so
// the connection's read deadline keeps advancing; it never blocks the
// writer goroutine above.
func readLoop(conn *websocket.Conn, done chan<- struct{}, logger arbor.ILogger) {
	defer close(done)
	for {
		msgType, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.PingMessage {
			_ = conn.WriteMessage(websocket.PongMessage, nil)
		}
	}
}

package web

import (
	"net/http"
	"time"

	"github.com/etnz/docket/logger"
	"github.com/gorilla/websocket"
)

const (
	pingPeriod = 30 * time.Second // Send ping every 30s
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// stateMessage is pushed to the browser on every change.
type stateMessage struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

// handleWebsocket pushes the session state whenever it changes, including
// every new snapshot of the document list.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	changes, unsubscribe := sess.Changes()
	defer unsubscribe()
	docs, unsubscribeDocs := sess.View().Subscribe()
	defer unsubscribeDocs()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func() error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(stateMessage{Type: "state", State: sess.State()})
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-changes:
		case _, ok := <-docs:
			if !ok {
				// The subscription failed; the state carries the status.
				docs = nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
			continue
		case <-closed:
			return
		case <-s.ctx.Done():
			return
		}
		if err := send(); err != nil {
			return
		}
	}
}

// readPump discards incoming messages and closes done when the peer goes
// away. It also processes pongs and close frames.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Sugar.Debugw("websocket closed", "error", err)
			}
			return
		}
	}
}

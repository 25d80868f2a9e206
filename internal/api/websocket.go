package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"paperTrading/internal/trading"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is a frame on the account subscription socket.
type StreamMessage struct {
	Type    string             `json:"type"`
	Session string             `json:"session,omitempty"`
	Seq     uint64             `json:"seq,omitempty"`
	Data    *trading.StateView `json:"data,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// handleSubscribe streams the account's trading state. Each connection owns
// one poller, stopped when the socket closes. A {"type":"refresh"} frame
// forces an immediate poll.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		s.writeError(w, http.StatusServiceUnavailable, "live reads not configured")
		return
	}
	account, ok := accountVar(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	logger := s.logger.With(zap.String("session", session), zap.String("account", account.Hex()))

	poller := trading.NewPoller(account, s.deps.Reader,
		trading.WithQuotes(s.deps.Quotes),
		trading.WithInterval(s.config.PollInterval),
		trading.WithPollerMetrics(s.deps.Metrics),
		trading.WithPollerLogger(logger),
	)
	updates, unsubscribe := poller.Subscribe()
	defer func() {
		unsubscribe()
		poller.Stop()
		poller.Wait()
		logger.Info("subscription closed")
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(StreamMessage{Type: "connected", Session: session}); err != nil {
		return
	}
	logger.Info("subscription opened")
	poller.Start(r.Context())

	closed := make(chan struct{})
	go s.readPump(conn, poller, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			view := snap.State.View()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "state", Seq: snap.Seq, Data: &view}); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, poller *trading.Poller, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "refresh" {
			poller.ForceRefresh()
		}
	}
}

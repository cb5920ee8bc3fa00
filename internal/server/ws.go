package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/ember/backend/internal/presence"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1 << 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession binds one websocket connection to one user. Inbound events are
// processed strictly one at a time in arrival order; outbound events are
// drained from the presence handle by a dedicated write pump so a slow
// peer never stalls the worker that produced an event.
type wsSession struct {
	userID string
	conn   *websocket.Conn
	events *EventRouter
	logger *zap.Logger
	done   chan struct{}
}

func newWSSession(userID string, conn *websocket.Conn, events *EventRouter, logger *zap.Logger) *wsSession {
	return &wsSession{
		userID: userID,
		conn:   conn,
		events: events,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// run registers the connection and blocks until the read loop exits.
func (s *wsSession) run() {
	handle := s.events.HandleConnect(s.userID)
	go s.writePump(handle)
	s.readLoop()
	close(s.done)
	s.events.HandleDisconnect(s.userID, handle)
}

func (s *wsSession) readLoop() {
	defer s.conn.Close()

	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var event inboundEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Debug("malformed realtime event dropped", zap.String("user_id", s.userID), zap.Error(err))
			continue
		}
		s.dispatch(event)
	}
}

// dispatch routes one inbound frame. Malformed or unauthorized events are
// dropped rather than terminating the connection.
func (s *wsSession) dispatch(event inboundEvent) {
	s.events.Touch(s.userID)

	switch event.Type {
	case inboundEventMessage:
		if _, err := s.events.HandleMessage(s.userID, event.ReceiverID, event.Text, event.ImageRef); err != nil {
			s.logger.Debug("realtime message rejected",
				zap.String("user_id", s.userID),
				zap.String("receiver_id", event.ReceiverID),
				zap.Error(err))
		}
	case inboundEventTyping:
		s.events.HandleTyping(s.userID, event.ReceiverID, event.IsTyping)
	case inboundEventRead:
		s.events.HandleRead(s.userID, event.SenderID)
	case inboundEventDeleteMessage:
		if _, err := s.events.HandleDelete(s.userID, event.PartnerID, event.MessageID); err != nil {
			s.logger.Debug("realtime delete rejected",
				zap.String("user_id", s.userID),
				zap.Int64("message_id", event.MessageID),
				zap.Error(err))
		}
	default:
		s.logger.Debug("unknown realtime event dropped",
			zap.String("user_id", s.userID),
			zap.String("event_type", event.Type))
	}
}

func (s *wsSession) writePump(handle *presence.Handle) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case event := <-handle.Events():
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(event); err != nil {
				s.logger.Debug("websocket write failed", zap.String("user_id", s.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

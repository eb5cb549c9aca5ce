package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade websocket connection", "error", err)
		return
	}

	sessionID := uuid.NewString()
	wsConn := newWSConn(conn)

	if err := s.engine.OpenSession(r.Context(), sessionID, wsConn); err != nil {
		logger.Error("failed to open session", "sessionID", sessionID, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to open session"),
			closeDeadline())
		conn.Close()
		return
	}

	s.readLoop(sessionID, wsConn, conn)
}

func (s *Server) readLoop(sessionID string, wsConn *wsConn, conn *websocket.Conn) {
	defer conn.Close()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			closeCode := websocket.CloseAbnormalClosure
			reason := err.Error()
			if closeErr, ok := err.(*websocket.CloseError); ok {
				closeCode = closeErr.Code
				reason = closeErr.Text
			}

			wsConn.markClosed()
			s.engine.CloseSession(sessionID, closeCode, reason)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.engine.HandleAudioFrame(sessionID, msg)
		case websocket.TextMessage:
			s.engine.HandleControl(sessionID, string(msg))
		}
	}
}

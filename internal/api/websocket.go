package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

const wsWriteWait = 10 * time.Second

// Frame types sent on the chat websocket.
const (
	FrameEvent    = "event"
	FrameResponse = "response"
	FrameError    = "error"
)

// Frame is one server-to-client websocket message. Each client message
// is a ChatRequest; the server answers with zero or more event frames
// followed by exactly one response or error frame.
type Frame struct {
	Type     string              `json:"type"`
	Event    *agent.Event        `json:"event,omitempty"`
	Response *agent.ChatResponse `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
	Code     int                 `json:"code,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(f)
}

// handleChatWS streams turn progress over a websocket.
// GET /chat/ws
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	ctx := r.Context()
	for {
		var req agent.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if _, ok := err.(*websocket.CloseError); ok {
				return
			}
			s.logger.Debug("websocket read failed", "error", err)
			_ = c.send(Frame{Type: FrameError, Error: "invalid request", Code: http.StatusBadRequest})
			return
		}

		// Each message is its own turn with its own request id.
		turnCtx := tools.WithRequestID(ctx, agent.NewRequestID())
		obs := func(e agent.Event) {
			if err := c.send(Frame{Type: FrameEvent, Event: &e}); err != nil {
				s.logger.Debug("websocket event write failed", "error", err)
			}
		}

		resp, err := s.chat.Chat(turnCtx, req, obs)
		if err != nil {
			if sendErr := c.send(Frame{Type: FrameError, Error: err.Error(), Code: statusFor(err)}); sendErr != nil {
				return
			}
			continue
		}
		if err := c.send(Frame{Type: FrameResponse, Response: resp}); err != nil {
			s.logger.Debug("websocket response write failed", "error", err)
			return
		}
	}
}

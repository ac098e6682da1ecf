// Package ws streams geolocation samples from the client. Each connected
// client sends position messages; the server answers with what the sample
// caused (arrival, quiz unlock, completion).
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/config"
	"github.com/lumahq/campusquest/server/game/quest"
	mw "github.com/lumahq/campusquest/server/middleware"
	"go.uber.org/zap"
)

const (
	readDeadline = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// Message is one inbound WS frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	store    *quest.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket Handler.
// sec.AllowedOrigins controls which origins are accepted; an empty slice
// permits all origins (development only).
func NewHandler(c cache.Cache, sec config.SecurityConfig, store *quest.Store, logger *zap.Logger) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		store:  store,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("position stream connected", zap.Int64("user_id", claims.UserID))
	h.readPump(conn, claims.UserID)
}

// readPump reads messages until the connection closes.
func (h *Handler) readPump(conn *websocket.Conn, userID int64) {
	defer func() {
		conn.Close()
		h.logger.Info("position stream closed", zap.Int64("user_id", userID))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", userID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.dispatch(conn, userID, raw)
	}
}

func (h *Handler) dispatch(conn *websocket.Conn, userID int64, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("malformed ws message",
			zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	switch msg.Type {
	case "position":
		var sample quest.PositionSample
		if err := json.Unmarshal(msg.Payload, &sample); err != nil {
			h.logger.Warn("malformed position payload",
				zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		out := h.store.HandlePosition(context.Background(), userID, sample)
		if out.Filtered {
			// Jitter below the movement threshold gets no reply.
			return
		}
		h.write(conn, userID, "position_result", out)
	case "ping":
		h.write(conn, userID, "pong", nil)
	default:
		h.logger.Warn("unknown ws message type",
			zap.Int64("user_id", userID), zap.String("type", msg.Type))
	}
}

func (h *Handler) write(conn *websocket.Conn, userID int64, msgType string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{"type": msgType, "payload": payload})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		h.logger.Warn("ws write failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

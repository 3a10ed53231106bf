package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/events"
)

// EventsHandler streams appended-block events over a websocket.
type EventsHandler struct {
	hub    *events.Hub
	ws     websocket.Upgrader
	logger *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *events.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		ws:     websocket.Upgrader{},
		logger: logger,
	}
}

// Register mounts the event stream route on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/events", h.Stream)
}

// Stream handles GET /events — upgrades to a websocket and forwards every
// block event until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := h.ws.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	ch := h.hub.Acquire(id)
	defer h.hub.Release(id) //nolint:errcheck

	h.logger.Info("event subscriber connected", zap.String("id", id))
	defer h.logger.Info("event subscriber disconnected", zap.String("id", id))

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}

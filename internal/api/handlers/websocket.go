package handlers

import (
	"log"
	"net/http"

	"odometer-backend/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WebSocketHandler streams live trip progress to observers
type WebSocketHandler struct {
	manager *websocket.Manager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(manager *websocket.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the caller's
// trips, optionally narrowed by vehicleIds.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	filters := websocket.ProgressFilters{
		UserID:     userID,
		VehicleIDs: c.QueryArray("vehicleIds"),
	}

	conn, err := h.manager.GetUpgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	clientID := uuid.New().String()
	if err := h.manager.RegisterClient(clientID, conn, filters); err != nil {
		log.Printf("Failed to register WebSocket client: %v", err)
		conn.Close()
		return
	}

	log.Printf("Live trip client %s connected for user %s", clientID, userID)
}

// GetConnectedClients returns the number of connected WebSocket clients
func (h *WebSocketHandler) GetConnectedClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connectedClients": h.manager.GetConnectedClients(),
		"stats":            h.manager.GetClientStats(),
	})
}

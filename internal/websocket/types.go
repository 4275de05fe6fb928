package websocket

import (
	"sync"
	"time"

	"odometer-backend/internal/models"

	"github.com/gorilla/websocket"
)

// ProgressFilters limits which trips a client hears about. UserID is always
// set by the server from the authenticated caller.
type ProgressFilters struct {
	UserID     string   `json:"-"`
	VehicleIDs []string `json:"vehicleIds,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan models.TripProgress

	mu       sync.Mutex
	filters  ProgressFilters
	lastPing time.Time
	isActive bool
}

func (c *Client) Filters() ProgressFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

func (c *Client) setVehicleFilter(vehicleIDs []string) {
	c.mu.Lock()
	c.filters.VehicleIDs = vehicleIDs
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// Broadcaster fans trip progress out to connected observers.
type Broadcaster interface {
	RegisterClient(clientID string, conn *websocket.Conn, filters ProgressFilters) error
	UnregisterClient(clientID string) error
	PublishTripProgress(progress models.TripProgress)
	GetConnectedClients() int
	Start() error
	Stop() error
	GetClientStats() ClientStats
}

// ClientStats provides statistics about connected clients
type ClientStats struct {
	TotalClients    int   `json:"totalClients"`
	ActiveClients   int   `json:"activeClients"`
	InactiveClients int   `json:"inactiveClients"`
	Dropped         int64 `json:"dropped"`
}

// Message types for WebSocket communication
const (
	MessageTypeTripProgress = "trip_progress"
	MessageTypeUpdateFilter = "update_filters"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

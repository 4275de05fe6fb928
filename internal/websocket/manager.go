package websocket

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"odometer-backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	staleTimeout = 90 * time.Second
)

// Manager implements the Broadcaster interface
type Manager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.TripProgress
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	done       chan struct{}
	stopOnce   sync.Once
	dropped    atomic.Int64
}

// NewManager creates a new WebSocket manager
func NewManager(allowedOrigins []string) *Manager {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Manager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.TripProgress, 1000),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

// Start begins the WebSocket manager's main loop
func (m *Manager) Start() error {
	go m.run()
	log.Println("Trip progress broadcaster started")
	return nil
}

// Stop closes every client connection and ends the main loop
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.done)

		m.mutex.Lock()
		for id, client := range m.clients {
			delete(m.clients, id)
			m.closeClient(client)
		}
		m.mutex.Unlock()

		log.Println("Trip progress broadcaster stopped")
	})
	return nil
}

func (m *Manager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			if old, ok := m.clients[client.ID]; ok {
				m.closeClient(old)
			}
			m.clients[client.ID] = client
			m.mutex.Unlock()
			log.Printf("Client %s registered", client.ID)
			go m.handleClient(client)

		case client := <-m.unregister:
			m.mutex.Lock()
			if current, ok := m.clients[client.ID]; ok && current == client {
				delete(m.clients, client.ID)
				m.closeClient(client)
				log.Printf("Client %s unregistered", client.ID)
			}
			m.mutex.Unlock()

		case progress := <-m.broadcast:
			m.broadcastToClients(progress)

		case <-ticker.C:
			m.healthCheck()

		case <-m.done:
			return
		}
	}
}

// closeClient must be called with the mutex held and only for a client that
// was just removed from the map, so Send is closed exactly once.
func (m *Manager) closeClient(client *Client) {
	close(client.Send)
	if client.Conn != nil {
		client.Conn.Close()
	}
}

// RegisterClient registers a new WebSocket client
func (m *Manager) RegisterClient(clientID string, conn *websocket.Conn, filters ProgressFilters) error {
	client := &Client{
		ID:       clientID,
		Conn:     conn,
		Send:     make(chan models.TripProgress, 256),
		filters:  filters,
		lastPing: time.Now(),
		isActive: true,
	}

	select {
	case m.register <- client:
	case <-m.done:
	}
	return nil
}

// UnregisterClient removes a WebSocket client
func (m *Manager) UnregisterClient(clientID string) error {
	m.mutex.RLock()
	client, exists := m.clients[clientID]
	m.mutex.RUnlock()

	if exists {
		select {
		case m.unregister <- client:
		case <-m.done:
		}
	}
	return nil
}

// PublishTripProgress queues an update without blocking the caller. Updates
// are dropped when the queue is full.
func (m *Manager) PublishTripProgress(progress models.TripProgress) {
	select {
	case m.broadcast <- progress:
	default:
		m.dropped.Add(1)
		log.Printf("Broadcast queue full, dropping progress for trip %s", progress.SessionID)
	}
}

// GetConnectedClients returns the number of connected clients
func (m *Manager) GetConnectedClients() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// GetClientStats returns detailed client statistics
func (m *Manager) GetClientStats() ClientStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := ClientStats{
		TotalClients: len(m.clients),
		Dropped:      m.dropped.Load(),
	}
	for _, client := range m.clients {
		client.mu.Lock()
		active := client.isActive
		client.mu.Unlock()
		if active {
			stats.ActiveClients++
		} else {
			stats.InactiveClients++
		}
	}
	return stats
}

// GetUpgrader returns the WebSocket upgrader for external use
func (m *Manager) GetUpgrader() *websocket.Upgrader {
	return &m.upgrader
}

func (m *Manager) broadcastToClients(progress models.TripProgress) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.clients {
		if !shouldSendToClient(client.Filters(), progress) {
			continue
		}
		select {
		case client.Send <- progress:
		default:
			client.mu.Lock()
			client.isActive = false
			client.mu.Unlock()
			m.dropped.Add(1)
			log.Printf("Client %s send channel full, marking as inactive", client.ID)
		}
	}
}

func shouldSendToClient(filters ProgressFilters, progress models.TripProgress) bool {
	if filters.UserID != "" && filters.UserID != progress.UserID {
		return false
	}
	if len(filters.VehicleIDs) == 0 {
		return true
	}
	for _, id := range filters.VehicleIDs {
		if id == progress.VehicleID {
			return true
		}
	}
	return false
}

// handleClient reads control messages until the connection drops
func (m *Manager) handleClient(client *Client) {
	defer func() {
		select {
		case m.unregister <- client:
		case <-m.done:
		}
	}()

	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.touch()
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go m.writeMessages(client)

	for {
		var message struct {
			Type       string   `json:"type"`
			VehicleIDs []string `json:"vehicleIds"`
		}
		if err := client.Conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for client %s: %v", client.ID, err)
			}
			return
		}

		client.touch()
		if message.Type == MessageTypeUpdateFilter {
			client.setVehicleFilter(message.VehicleIDs)
			log.Printf("Updated filters for client %s", client.ID)
		}
	}
}

func (m *Manager) writeMessages(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case progress, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(map[string]interface{}{
				"type": MessageTypeTripProgress,
				"data": progress,
			}); err != nil {
				log.Printf("Error writing message to client %s: %v", client.ID, err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Error sending ping to client %s: %v", client.ID, err)
				return
			}
		}
	}
}

// healthCheck removes clients that stopped answering pings
func (m *Manager) healthCheck() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	for clientID, client := range m.clients {
		client.mu.Lock()
		stale := now.Sub(client.lastPing) > staleTimeout
		client.mu.Unlock()
		if stale {
			log.Printf("Client %s timed out, removing", clientID)
			delete(m.clients, clientID)
			m.closeClient(client)
		}
	}
}

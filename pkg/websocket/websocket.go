package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"EpiFind/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	To        string      `json:"to,omitempty"`
}

// Config WebSocket配置
type Config struct {
	MaxConnections    int64
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int
	EnableCompression bool
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MessageBufferSize: 64,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    4096,
		EnableCompression: false,
	}
}

// Hub manages every live connection and routes coordination messages to
// them. A user may hold several connections (phone plus watch); SendToUser
// delivers to all of them. Delivery is best-effort: a slow consumer's
// messages are dropped, the durable store copy is the source of truth.
type Hub struct {
	connections     map[string]*Connection
	userConnections map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *Message

	connectionCount int64
	config          *Config
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]bool),
		register:        make(chan *Connection, 256),
		unregister:      make(chan *Connection, 256),
		broadcast:       make(chan *Message, 1024),
		config:          config,
		ctx:             ctx,
		cancel:          cancel,
	}
	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			if message.Timestamp == 0 {
				message.Timestamp = time.Now().UnixMilli()
			}
			data, err := json.Marshal(message)
			if err != nil {
				logrus.Errorf("marshal message: %v", err)
				continue
			}
			if message.To != "" {
				h.sendToUser(message.To, data)
			} else {
				h.broadcastAll(data)
			}
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// SendToUser delivers one typed payload to every connection userID holds.
// Dropped silently when the user is offline.
func (h *Hub) SendToUser(userID, msgType string, data interface{}) {
	select {
	case h.broadcast <- &Message{Type: msgType, Data: data, To: userID}:
	default:
		logrus.Warnf("hub queue full, dropping %s for %s", msgType, userID)
	}
}

// Broadcast delivers one typed payload to every live connection.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	select {
	case h.broadcast <- &Message{Type: msgType, Data: data}:
	default:
		logrus.Warnf("hub queue full, dropping broadcast %s", msgType)
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		if conn.Conn != nil {
			conn.Conn.Close()
		}
		logrus.Warnf("connection limit reached: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)
	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}
	metrics.SetWSConnections(float64(atomic.LoadInt64(&h.connectionCount)))

	logrus.Infof("connection registered: %s, user: %s, total: %d",
		conn.ID, conn.UserID, atomic.LoadInt64(&h.connectionCount))
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)
	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}
	close(conn.Send)
	metrics.SetWSConnections(float64(atomic.LoadInt64(&h.connectionCount)))

	logrus.Infof("connection unregistered: %s, total: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))
}

func (h *Hub) sendToUser(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.userConnections[userID] {
		if conn, ok := h.connections[connID]; ok {
			conn.enqueue(data)
		}
	}
}

func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.connections {
		conn.enqueue(data)
	}
}

// checkHeartbeats 检查心跳并断开超时连接
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	var stale []*Connection
	cutoff := time.Now().Add(-h.config.ConnectionTimeout)
	for _, conn := range h.connections {
		conn.mu.RLock()
		if conn.LastPing.Before(cutoff) {
			stale = append(stale, conn)
		}
		conn.mu.RUnlock()
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		logrus.Warnf("connection timed out: %s, user: %s", conn.ID, conn.UserID)
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections returns how many connections userID currently holds.
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// IsUserOnline reports whether the user holds at least one live connection.
func (h *Hub) IsUserOnline(userID string) bool {
	return h.GetUserConnections(userID) > 0
}

// Shutdown closes every connection and stops the hub loop.
func (h *Hub) Shutdown() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/constants"
	"campuslink-backend/pkg/logger"
	"campuslink-backend/pkg/metrics"
)

// SignalingHub bridges browser WebSocket clients onto the relay. Inbound
// frames are validated, stamped with the authenticated sender, and published
// to the call topic; relay messages fan out to the local clients of that
// topic. All cross-node delivery rides the Bus, so two participants on
// different nodes still see each other's signals.
type SignalingHub struct {
	bus     signaling.Bus
	metrics *metrics.Metrics

	// local clients per topic, plus the topic's relay subscription
	topics        map[string]map[*SignalingClient]bool
	subscriptions map[string]signaling.Subscription

	mu sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	broadcast  chan *relayMessage

	maxConnections int
	semaphore      chan struct{}
}

// SignalingClient is one WebSocket connection attached to one call topic
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	topic  string
}

type relayMessage struct {
	topic   string
	from    uuid.UUID
	payload []byte
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return allowedOrigins()[origin]
	},
}

// NewSignalingHub creates a new signaling hub on the given relay
func NewSignalingHub(bus signaling.Bus, m *metrics.Metrics) *SignalingHub {
	hub := &SignalingHub{
		bus:            bus,
		metrics:        m,
		topics:         make(map[string]map[*SignalingClient]bool),
		subscriptions:  make(map[string]signaling.Subscription),
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		broadcast:      make(chan *relayMessage, 256),
		maxConnections: constants.MaxSignalingConnections,
		semaphore:      make(chan struct{}, constants.MaxSignalingConnections),
	}

	go hub.run()

	return hub
}

func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.topics[client.topic] == nil {
				h.topics[client.topic] = make(map[*SignalingClient]bool)
				sub, err := h.bus.Subscribe(context.Background(), client.topic)
				if err != nil {
					logger.Error("Failed to subscribe to relay topic",
						zap.String("topic", client.topic),
						zap.Error(err))
				} else {
					h.subscriptions[client.topic] = sub
					go h.pumpTopic(client.topic, sub)
				}
			}
			h.topics[client.topic][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.IncrementWebSocketConnections()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.topics[client.topic]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					if h.metrics != nil {
						h.metrics.DecrementWebSocketConnections()
					}

					if len(clients) == 0 {
						if sub, ok := h.subscriptions[client.topic]; ok {
							sub.Close()
							delete(h.subscriptions, client.topic)
						}
						delete(h.topics, client.topic)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.topics[message.topic] {
				// the sender already has their own message
				if client.userID == message.from {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					if h.metrics != nil {
						h.metrics.RecordSignalDropped("slow_client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pumpTopic forwards relay messages for one topic into the broadcast loop.
// Runs until the topic's subscription is closed by the last unregister.
func (h *SignalingHub) pumpTopic(topic string, sub signaling.Subscription) {
	for payload := range sub.Messages() {
		msg, err := domain.ParseSignal(payload)
		if err != nil {
			logger.Warn("Dropping invalid relay message",
				zap.String("topic", topic),
				zap.Error(err))
			if h.metrics != nil {
				h.metrics.RecordSignalDropped("invalid")
			}
			continue
		}
		h.broadcast <- &relayMessage{topic: topic, from: msg.From, payload: payload}
	}
}

// ServeWS upgrades one authenticated client onto a call topic
// GET /v1/ws/signaling?session_id=...
func (h *SignalingHub) ServeWS(c *gin.Context) {
	// the slot is held for the connection's lifetime; readPump gives it back
	// on disconnect, the error paths below give it back here
	handedOff := false
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			if !handedOff {
				<-h.semaphore
			}
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	sessionIDStr := c.Query("session_id")
	if sessionIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		topic:  signaling.CallTopic(sessionID),
	}

	h.register <- client
	handedOff = true

	go client.writePump()
	go client.readPump()
}

// readPump validates inbound frames and publishes them to the relay. The
// sender field is always overwritten with the authenticated user, a client
// cannot speak as someone else.
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		<-c.hub.semaphore
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("topic", c.topic),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg domain.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("topic", c.topic),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordSignalDropped("invalid")
			}
			continue
		}

		msg.From = c.userID
		msg.Timestamp = time.Now().UTC()

		if err := msg.Validate(); err != nil {
			logger.Warn("Rejecting malformed signal",
				zap.String("topic", c.topic),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordSignalDropped("invalid")
			}
			continue
		}

		payload, err := msg.Encode()
		if err != nil {
			continue
		}
		if err := c.hub.bus.Publish(context.Background(), c.topic, payload); err != nil {
			logger.Warn("Failed to publish signal",
				zap.String("topic", c.topic),
				zap.Error(err))
			continue
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordSignal(string(msg.Type))
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval / 2)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

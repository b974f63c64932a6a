package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/logger"
)

func newTestHub(maxConnections int) *SignalingHub {
	hub := &SignalingHub{
		bus:            signaling.NewMemoryBus(),
		topics:         make(map[string]map[*SignalingClient]bool),
		subscriptions:  make(map[string]signaling.Subscription),
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		broadcast:      make(chan *relayMessage, 256),
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}
	go hub.run()
	return hub
}

func newTestServer(t *testing.T, hub *SignalingHub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", uuid.New())
		hub.ServeWS(c)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialSignaling(srv *httptest.Server, sessionID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=" + sessionID.String()
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	return websocket.DefaultDialer.Dial(wsURL, header)
}

func TestServeWSConnectionCap(t *testing.T) {
	logger.InitDefault()
	hub := newTestHub(1)
	srv := newTestServer(t, hub)
	sessionID := uuid.New()

	first, _, err := dialSignaling(srv, sessionID)
	require.NoError(t, err)

	// the slot stays taken while the first client is connected
	_, resp, err := dialSignaling(srv, sessionID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// disconnecting frees the slot for the next client
	first.Close()
	require.Eventually(t, func() bool {
		conn, _, err := dialSignaling(srv, sessionID)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServeWSRejectsBadSessionID(t *testing.T) {
	logger.InitDefault()
	hub := newTestHub(4)
	srv := newTestServer(t, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=not-a-uuid"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// rejected requests must not leak the capacity slot
	sessionID := uuid.New()
	for i := 0; i < 8; i++ {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	conn, _, err := dialSignaling(srv, sessionID)
	require.NoError(t, err)
	conn.Close()
}

// Package testhelpers provides the shared fixtures of the end-to-end suites:
// a fully wired hub and HTTP server on httptest, token minting, WebSocket
// dialing and event reading.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/server"
)

// TestOrigin is allowed by every Stack unless the config is changed.
const TestOrigin = "http://localhost:8086"

const testSecret = "integration-secret"

// Stack is a running hub behind a running HTTP server.
type Stack struct {
	Config   *config.Config
	Hub      *hub.Hub
	Server   *server.Server
	HTTP     *httptest.Server
	Registry *prometheus.Registry
}

// NewStack starts a hub and HTTP server configured by mutate. Both are shut
// down when the test ends.
func NewStack(t *testing.T, mutate func(*config.Config)) *Stack {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Server.AllowedOrigins = []string{TestOrigin}
	cfg.Server.UpgradeRate = 1000
	cfg.Server.UpgradeBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	h := hub.NewHub(cfg.HubOptions(), nil, hub.NewMetrics(reg))
	go h.Run()

	var verifier auth.Verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if cfg.Auth.Disabled {
		verifier = auth.Static{}
	}
	srv := server.New(cfg, server.Deps{
		Hub:      h,
		Verifier: verifier,
		Gatherer: reg,
	})
	httpServer := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		httpServer.Close()
		_ = h.Shutdown(2 * time.Second)
	})

	return &Stack{Config: cfg, Hub: h, Server: srv, HTTP: httpServer, Registry: reg}
}

// Token mints a token for the stack's secret.
func (s *Stack) Token(t *testing.T, userID, orgID uuid.UUID) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    userID.String(),
		"org_id": orgID.String(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(s.Config.Auth.JWTSecret))
	require.NoError(t, err)
	return token
}

// WebSocketURL returns the ws:// URL of the upgrade endpoint.
func (s *Stack) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/ws"
}

// Dial opens a WebSocket for the given identity from TestOrigin.
func (s *Stack) Dial(t *testing.T, userID, orgID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, resp, err := s.DialWith(s.WebSocketURL()+"?token="+s.Token(t, userID, orgID), OriginHeader(TestOrigin))
	require.NoError(t, err, "dial failed with response %v", statusOf(resp))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWith dials url with header and returns the handshake response with its
// body already closed.
func (s *Stack) DialWith(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Get performs an authenticated GET against the stack.
func (s *Stack) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.HTTP.URL+path, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// WaitOnline blocks until userID has n registered connections.
func (s *Stack) WaitOnline(t *testing.T, userID uuid.UUID, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Hub.ConnectionCount(userID) == n
	}, 2*time.Second, 10*time.Millisecond)
}

// OriginHeader returns a handshake header carrying origin.
func OriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// Event is an outbound event decoded with a raw payload.
type Event struct {
	Type      string          `json:"type"`
	ChannelID *uuid.UUID      `json:"channel_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ReadEvent reads frames until one of type typ arrives or timeout elapses.
func ReadEvent(t *testing.T, conn *websocket.Conn, typ string, timeout time.Duration) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s event", typ)
		if ev.Type == typ {
			return ev
		}
	}
}

// ExpectNoEvent fails if an event of type typ arrives within timeout. The
// connection cannot be read from afterwards.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, typ string, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		require.NotEqual(t, typ, ev.Type, "unexpected %s event", typ)
	}
}

// Subscribe sends a subscribe frame and waits until the hub applied it.
func (s *Stack) Subscribe(t *testing.T, conn *websocket.Conn, channelID uuid.UUID, subscribers int) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "channel_id": channelID}))
	require.Eventually(t, func() bool {
		return s.Hub.SubscriberCount(channelID) == subscribers
	}, 2*time.Second, 10*time.Millisecond)
}

func statusOf(resp *http.Response) any {
	if resp == nil {
		return nil
	}
	return resp.Status
}

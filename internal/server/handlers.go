package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/hub"
)

type contextKey string

const identityContextKey contextKey = "identity"

// WebSocketHandler authenticates the request, applies the per-IP upgrade
// limit and the origin allow-list, upgrades the connection and registers a
// new client with the hub. The hub starts the client's pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.hub.Closing() {
		s.respondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Debug("websocket upgrade rate limited", zap.String("ip", ip))
		s.respondError(w, http.StatusTooManyRequests, "too many connection attempts")
		return
	}

	identity, err := s.verifier.Verify(r)
	if err != nil {
		s.logger.Debug("websocket authentication failed",
			zap.String("ip", ip),
			zap.Error(err),
		)
		s.respondError(w, http.StatusUnauthorized, authMessage(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := hub.NewClient(s.hub, conn, identity.UserID, identity.OrgID)
	if err := s.hub.Register(client); err != nil {
		s.logger.Info("rejecting connection during shutdown", zap.Stringer("user_id", identity.UserID))
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s.logger.Debug("websocket connection accepted",
		zap.Stringer("conn_id", client.ID),
		zap.Stringer("user_id", identity.UserID),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func authMessage(err error) string {
	if errors.Is(err, auth.ErrMissingToken) {
		return "missing credentials"
	}
	return "invalid credentials"
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chat",
	})
}

type orgPresenceResponse struct {
	OrgID       uuid.UUID   `json:"org_id"`
	OnlineUsers []uuid.UUID `json:"online_users"`
}

// OrgPresenceHandler lists the online users of the caller's organization.
func (s *Server) OrgPresenceHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	s.respondJSON(w, http.StatusOK, orgPresenceResponse{
		OrgID:       identity.OrgID,
		OnlineUsers: s.hub.GetOnlineUsers(identity.OrgID),
	})
}

type userPresenceResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Online      bool      `json:"online"`
	Connections int       `json:"connections"`
}

// UserPresenceHandler reports whether one user is online and on how many
// connections.
func (s *Server) UserPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	n := s.hub.ConnectionCount(userID)
	s.respondJSON(w, http.StatusOK, userPresenceResponse{
		UserID:      userID,
		Online:      n > 0,
		Connections: n,
	})
}

// authMiddleware resolves the caller's identity for REST reads.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, authMessage(err))
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) auth.Identity {
	identity, _ := ctx.Value(identityContextKey).(auth.Identity)
	return identity
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

package server

import (
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/hub"
)

// Server is the HTTP front of the hub: it authenticates and upgrades
// WebSocket connections and answers presence reads.
type Server struct {
	hub         *hub.Hub
	verifier    auth.Verifier
	logger      *zap.Logger
	gatherer    prometheus.Gatherer
	metricsPath string
	devPage     bool

	origins  *originPolicy
	limiter  *upgradeLimiter
	upgrader websocket.Upgrader
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Hub      *hub.Hub
	Verifier auth.Verifier
	Logger   *zap.Logger
	// Gatherer serves the metrics endpoint. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// New creates a Server from cfg and deps.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		hub:         deps.Hub,
		verifier:    deps.Verifier,
		logger:      logger,
		gatherer:    gatherer,
		metricsPath: cfg.Metrics.Path,
		devPage:     cfg.Auth.Disabled,
		origins:     newOriginPolicy(cfg.Server.AllowedOrigins, logger),
		limiter:     newUpgradeLimiter(cfg.Server.UpgradeRate, cfg.Server.UpgradeBurst),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Reload applies the runtime-adjustable parts of cfg: the origin allow-list
// and the upgrade rate limits.
func (s *Server) Reload(cfg *config.Config) {
	s.origins.set(cfg.Server.AllowedOrigins)
	s.limiter.setLimits(cfg.Server.UpgradeRate, cfg.Server.UpgradeBurst)
	s.logger.Info("server settings reloaded",
		zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
		zap.Float64("upgrade_rate", cfg.Server.UpgradeRate),
		zap.Int("upgrade_burst", cfg.Server.UpgradeBurst),
	)
}

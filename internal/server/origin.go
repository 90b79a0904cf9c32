package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// originPolicy is the reloadable WebSocket origin allow-list.
type originPolicy struct {
	logger *zap.Logger

	mu       sync.RWMutex
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string, logger *zap.Logger) *originPolicy {
	p := &originPolicy{logger: logger}
	p.set(origins)
	return p
}

// set replaces the allow-list. "*" allows every origin.
func (p *originPolicy) set(origins []string) {
	normalized, allowAll := p.normalizeOrigins(origins)
	allowed := make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowed[origin] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowAll = allowAll
	p.allowed = allowed
}

func (p *originPolicy) normalizeOrigins(origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			p.logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allowedOrigin reports whether origin may connect. An empty origin is only
// accepted when every origin is.
func (p *originPolicy) allowedOrigin(origin string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.allowAll {
		return true
	}
	if origin == "" {
		return false
	}
	normalizedOrigin, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// checkOrigin is the upgrader's CheckOrigin hook.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allowedOrigin(origin) {
		return true
	}
	p.logger.Warn("blocked websocket connection from disallowed origin", zap.String("origin", origin))
	return false
}

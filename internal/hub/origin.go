// Package hub normalizes and validates HTTP origins on the WebSocket upgrade
// path. World servers are non-browser clients and send no Origin header, so
// the check only constrains requests that carry one.
package hub

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type originChecker struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   *slog.Logger
}

func newOriginChecker(origins []string, logger *slog.Logger) *originChecker {
	oc := &originChecker{
		allowed: make(map[string]struct{}),
		logger:  logger,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			oc.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		oc.allowed[normalized] = struct{}{}
	}

	return oc
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

func (oc *originChecker) check(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		// Server-to-server client; nothing to enforce.
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		oc.logger.Warn("blocked connection with unparseable origin", "origin", originHeader)
		return false
	}

	if oc.allowAll {
		return true
	}

	if _, exists := oc.allowed[normalized]; exists {
		return true
	}

	oc.logger.Warn("blocked connection from disallowed origin", "origin", originHeader)
	return false
}

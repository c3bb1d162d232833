package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// CORSConfig declares the origins allowed to call the API across domains.
// PlayerOrigins cover embedded players hitting the stream endpoints, while
// AdminOrigins authorise upload tooling. When both lists are empty, only
// same-origin requests are permitted.
type CORSConfig struct {
	AdminOrigins  []string
	PlayerOrigins []string
}

const (
	corsAllowedMethods = "GET, POST, DELETE, OPTIONS"
	corsDefaultHeaders = "Content-Type, Authorization"
	corsExposedHeaders = "Content-Disposition, Accept-Ranges"
)

type corsPolicy struct {
	allowed map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	allowed := make(map[string]struct{}, len(cfg.AdminOrigins)+len(cfg.PlayerOrigins))
	for _, list := range [][]string{cfg.AdminOrigins, cfg.PlayerOrigins} {
		for _, raw := range list {
			origin, err := normalizeOrigin(raw)
			if err != nil {
				return corsPolicy{}, fmt.Errorf("parse origin %q: %w", raw, err)
			}
			if origin != "" {
				allowed[origin] = struct{}{}
			}
		}
	}
	return corsPolicy{allowed: allowed}, nil
}

// normalizeOrigin lowercases scheme and host so header comparison is
// case-insensitive. Blank entries are skipped rather than rejected.
func normalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), nil
}

// allows accepts any configured origin plus the request's own origin, so a
// browser talking to the API on its own host never needs configuration.
func (p corsPolicy) allows(origin, requestOrigin string) bool {
	normalized, err := normalizeOrigin(origin)
	if err != nil || normalized == "" {
		return false
	}
	if _, ok := p.allowed[normalized]; ok {
		return true
	}
	return requestOrigin != "" && normalized == requestOrigin
}

func corsMiddleware(policy corsPolicy, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !policy.allows(origin, originForRequest(r)) {
			if logger != nil {
				logger.Warn("blocked CORS origin", "origin", origin, "path", r.URL.Path)
			}
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		headers := w.Header()
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Set("Access-Control-Allow-Credentials", "true")
		headers.Set("Vary", "Origin")
		headers.Set("Access-Control-Expose-Headers", corsExposedHeaders)

		if r.Method == http.MethodOptions {
			writePreflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writePreflight(w http.ResponseWriter, r *http.Request) {
	if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
		headers := w.Header()
		headers.Set("Access-Control-Allow-Methods", corsAllowedMethods)
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			headers.Set("Access-Control-Allow-Headers", requested)
		} else {
			headers.Set("Access-Control-Allow-Headers", corsDefaultHeaders)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func originForRequest(r *http.Request) string {
	host := strings.ToLower(strings.TrimSpace(r.Host))
	if host == "" {
		return ""
	}
	if r.TLS != nil {
		return "https://" + host
	}
	return "http://" + host
}

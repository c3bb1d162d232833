package server

import (
	"net/http"
	"strings"
)

// SecurityConfig controls the hardening headers stamped on every response.
// The zero value locks the service down completely; FrameAncestors is the
// field operators widen when the player is embedded in a trusted site.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

const lockedFrameAncestors = "'none'"

// buildCSP assembles the policy for a service that serves JSON, thumbnails,
// and proxied MP4 streams. Every directive stays pinned to 'self' except
// frame embedding, which follows the configured ancestors.
func buildCSP(frameAncestors string) string {
	return strings.Join([]string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"media-src 'self'",
		"script-src 'self'",
		"style-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + frameAncestors,
		"form-action 'self'",
	}, "; ")
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	ancestors := strings.TrimSpace(cfg.FrameAncestors)
	if ancestors == "" {
		ancestors = lockedFrameAncestors
	}

	csp := cfg.ContentSecurityPolicy
	if csp == "" {
		csp = buildCSP(ancestors)
	}
	frameOptions := cfg.FrameOptions
	if frameOptions == "" && ancestors == lockedFrameAncestors {
		// X-Frame-Options cannot express an ancestor allow-list; when
		// embedding is permitted the CSP directive governs alone.
		frameOptions = "DENY"
	}
	referrer := cfg.ReferrerPolicy
	if referrer == "" {
		referrer = "no-referrer"
	}
	permissions := cfg.PermissionsPolicy
	if permissions == "" {
		permissions = "camera=(), microphone=(), geolocation=()"
	}
	contentType := cfg.ContentTypeOptions
	if contentType == "" {
		contentType = "nosniff"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("Content-Security-Policy", csp)
		if frameOptions != "" {
			headers.Set("X-Frame-Options", frameOptions)
		}
		headers.Set("X-Content-Type-Options", contentType)
		headers.Set("Referrer-Policy", referrer)
		headers.Set("Permissions-Policy", permissions)
		next.ServeHTTP(w, r)
	})
}

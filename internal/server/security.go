package server

import (
	"net/http"
	"strings"
)

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig sets the hardening headers attached to every response.
// Empty fields fall back to restrictive defaults; override
// ContentSecurityPolicy when the app is embedded in a trusted host page.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	cfg.FrameAncestors = fallback(cfg.FrameAncestors, defaultFrameAncestors)
	cfg.FrameOptions = fallback(cfg.FrameOptions, defaultFrameOptions)
	cfg.ReferrerPolicy = fallback(cfg.ReferrerPolicy, defaultReferrerPolicy)
	cfg.PermissionsPolicy = fallback(cfg.PermissionsPolicy, defaultPermissionsPolicy)
	cfg.ContentTypeOptions = fallback(cfg.ContentTypeOptions, defaultContentTypeOptions)
	cfg.ContentSecurityPolicy = fallback(cfg.ContentSecurityPolicy, defaultContentSecurityPolicy(cfg.FrameAncestors))
	return cfg
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// defaultContentSecurityPolicy locks every source to self; only the
// frame-ancestors directive is configurable.
func defaultContentSecurityPolicy(frameAncestors string) string {
	return strings.Join([]string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"script-src 'self'",
		"style-src 'self'",
		"font-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + fallback(frameAncestors, defaultFrameAncestors),
		"form-action 'self'",
	}, "; ")
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	headers := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", headers.ContentSecurityPolicy)
		w.Header().Set("X-Frame-Options", headers.FrameOptions)
		w.Header().Set("X-Content-Type-Options", headers.ContentTypeOptions)
		w.Header().Set("Referrer-Policy", headers.ReferrerPolicy)
		w.Header().Set("Permissions-Policy", headers.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}

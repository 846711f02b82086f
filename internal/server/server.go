// Package server assembles the HTTP surface: API routes, packaged media
// under /stream/, and the shared middleware chain of request IDs, security
// headers, CORS, rate limiting, metrics, and logging.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"lumeroo/internal/api"
	"lumeroo/internal/observability/logging"
	"lumeroo/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr string
	// StreamRoot is served read-only under /stream/.
	StreamRoot string
	TLS        TLSConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	CORS       CORSConfig
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/auth/signup", handler.Signup)
	mux.HandleFunc("/api/auth/login", handler.Login)
	mux.HandleFunc("/api/auth/logout", handler.Logout)
	mux.HandleFunc("/api/auth/session", handler.Session)
	mux.HandleFunc("/api/uploadVideo", handler.UploadVideo)
	mux.HandleFunc("/api/uploadImage", handler.UploadImage)
	mux.HandleFunc("/api/updateAvatar", handler.UpdateAvatar)
	mux.HandleFunc("/api/deleteContent/", handler.DeleteContent)
	mux.HandleFunc("/api/videos", handler.Videos)
	mux.HandleFunc("/api/video/", handler.VideoBySlug)
	mux.HandleFunc("/api/images", handler.ImageSets)
	mux.HandleFunc("/api/image/", handler.ImageSetBySlug)
	mux.HandleFunc("/api/youtube-downloader/init", handler.YouTubeInit)
	mux.HandleFunc("/api/youtube-downloader/download", handler.YouTubeDownload)
	mux.HandleFunc("/api/youtubeUpload", handler.YouTubeUpload)

	if strings.TrimSpace(cfg.StreamRoot) != "" {
		fileServer := http.FileServer(http.Dir(cfg.StreamRoot))
		mux.Handle("/stream/", http.StripPrefix("/stream/", fileServer))
	}

	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	if cfg.Logger != nil {
		handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
			Logger:            cfg.Logger,
			DisableRemoteAddr: true,
			AdditionalFields: func(r *http.Request, status int, duration time.Duration) []any {
				return []any{"remote_ip", extractClientIP(r)}
			},
		})(handlerChain)
	}
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads stream gigabyte-scale bodies and the response waits on
		// ffmpeg, so the read and write timeouts stay generous.
		ReadTimeout:  30 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			http.Error(w, "global rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowLogin(ip)
			if err != nil {
				if logger != nil {
					loggerWithRequestContext(r.Context(), logger).Error("rate limiter failure", "error", err)
				}
				http.Error(w, "rate limit failure", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				http.Error(w, "too many login attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Package httpapi is the HTTP surface (C7): the only externally visible
// boundary onto the stream multiplexing engine. It owns channel
// lookup, admission coalescing, and response framing for both the
// fragmented-MP4 and HLS client paths.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/DirkTheDaring/fritztv/internal/hlssession"
	"github.com/DirkTheDaring/fritztv/internal/m3u"
	"github.com/DirkTheDaring/fritztv/internal/streammux"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// Config parameterizes the HTTP surface.
type Config struct {
	Channels []m3u.Channel

	Registry *streammux.Registry
	HLS      *hlssession.Manager

	// MaxConcurrentAdmissions bounds total simultaneous first-viewer
	// admissions system-wide; zero disables the bound.
	MaxConcurrentAdmissions int64

	// HeaderTimeout bounds how long /stream/{id} waits for the init
	// header to become available.
	HeaderTimeout time.Duration

	// ClientLogRPS bounds the rate of POST /api/clientlog per client IP.
	ClientLogRPS int
}

// Server holds the dependencies shared by every handler.
type Server struct {
	cfg      Config
	channels []m3u.Channel

	admitLimiter *semaphore.Weighted
	admitGroup   singleflight.Group
}

// NewServer validates defaults and returns a ready Server.
func NewServer(cfg Config) *Server {
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 15 * time.Second
	}
	if cfg.ClientLogRPS <= 0 {
		cfg.ClientLogRPS = 5
	}

	s := &Server{cfg: cfg, channels: cfg.Channels}
	if cfg.MaxConcurrentAdmissions > 0 {
		s.admitLimiter = semaphore.NewWeighted(cfg.MaxConcurrentAdmissions)
	}
	return s
}

// Router builds the complete chi router for the surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Use(tracing(func(req *http.Request) string {
		return chi.RouteContext(req.Context()).RoutePattern()
	}))
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/api/channels", s.handleChannelList)
	r.Get("/watch/{id}", s.handleWatch)
	r.Get("/stream/{id}", s.handleStream)
	r.Get("/hls/{id}/index.m3u8", s.handlePlaylist)
	r.Head("/hls/{id}/index.m3u8", s.handlePlaylist)
	r.Get("/hls/{id}/{segment}", s.handleSegment)
	r.Head("/hls/{id}/{segment}", s.handleSegment)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.ClientLogRPS,
			time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
		r.Post("/api/clientlog", s.handleClientLog)
	})

	r.NotFound(s.handleNotFound)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		xlog.Component("httpapi").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestIDFromContext(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	xlog.Component("httpapi").Warn().Str("path", r.URL.Path).Msg("404")
	http.NotFound(w, r)
}

// lookupChannel resolves a path id (the channel's stable index,
// rendered as a decimal string) to its M3U entry.
func (s *Server) lookupChannel(id string) (m3u.Channel, bool) {
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 0 || idx >= len(s.channels) {
		return m3u.Channel{}, false
	}
	return s.channels[idx], true
}

// acquireAdmission bounds total in-flight first-viewer admissions,
// waiting for a free permit when the bound is reached. It is a
// concurrency limit layered ahead of the registry's own lock, not a
// correctness mechanism: the registry's capacity check remains
// authoritative.
func (s *Server) acquireAdmission() func() {
	if s.admitLimiter == nil {
		return func() {}
	}
	_ = s.admitLimiter.Acquire(context.Background(), 1)
	return func() { s.admitLimiter.Release(1) }
}

// ensureHLSReady coalesces concurrent EnsureStream calls for the same
// id: callers that only need the HLS side-effect (no per-client
// subscription) share one admission computation per id instead of each
// racing the registry's lock independently.
func (s *Server) ensureHLSReady(r *http.Request, id, url, hlsDir string) error {
	release := s.acquireAdmission()
	defer release()

	_, err, _ := s.admitGroup.Do(id, func() (any, error) {
		return nil, s.cfg.Registry.EnsureStream(r.Context(), id, url, hlsDir)
	})
	return err
}

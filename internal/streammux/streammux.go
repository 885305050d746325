// Package streammux is the stream manager (C5): it owns the registry of
// active channels, allocates tuner slots, starts and reaps transcoders,
// and hands out reference-counted client guards.
package streammux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/DirkTheDaring/fritztv/internal/broadcast"
	"github.com/DirkTheDaring/fritztv/internal/fmp4"
	"github.com/DirkTheDaring/fritztv/internal/hlssession"
	"github.com/DirkTheDaring/fritztv/internal/metrics"
	"github.com/DirkTheDaring/fritztv/internal/rtspurl"
	"github.com/DirkTheDaring/fritztv/internal/transcoder"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// ErrCapacity is returned when the registry is at max_parallel_streams
// and the requested channel is not already active.
var ErrCapacity = errors.New("streammux: at capacity")

const (
	idleReapInterval = 1 * time.Second
	defaultIdleGrace = 60 * time.Second
)

// Config parameterizes the registry's admission policy and the
// transcoders it spawns.
type Config struct {
	MaxParallelStreams int
	Mode               transcoder.TuningMode
	Transport          transcoder.Transport
	FFmpegPath         string
	Threads            int
	IdleGrace          time.Duration // defaults to 60s

	// HLS, if set, is asked to purge any stale playlist/segments and
	// reset its ready flag immediately before a brand-new transcoder
	// starts writing into an HLS directory.
	HLS *hlssession.Manager
}

// ActiveStream is one live channel: its transcoder, its fan-out, and
// the bookkeeping the idle reaper and the tuner-slot allocator need.
type ActiveStream struct {
	id           string
	tunerSlot    int
	muxKey       string
	broadcast    *broadcast.Broadcast
	cache        *broadcast.Cache
	header       *fmp4.HeaderSlot
	supervisor   *transcoder.Supervisor
	stopReaperCh chan struct{}

	mu            sync.Mutex
	clientCount   uint64
	hlsLastAccess time.Time // zero value means "no HLS client has ever touched this stream"
	idleTicks     int
}

func (a *ActiveStream) isActive(now time.Time, idleGrace time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clientCount > 0 {
		return true
	}
	return !a.hlsLastAccess.IsZero() && now.Sub(a.hlsLastAccess) <= idleGrace
}

func (a *ActiveStream) addClient() {
	a.mu.Lock()
	a.clientCount++
	a.mu.Unlock()
}

func (a *ActiveStream) releaseClient() {
	a.mu.Lock()
	if a.clientCount > 0 {
		a.clientCount--
	}
	a.mu.Unlock()
}

func (a *ActiveStream) touchHLS() {
	a.mu.Lock()
	a.hlsLastAccess = time.Now()
	a.mu.Unlock()
}

// ClientGuard is an owning handle for one client's claim on an
// ActiveStream. Release decrements the stream's client count exactly
// once; it is saturating and idempotent.
type ClientGuard struct {
	once   sync.Once
	stream *ActiveStream
}

// Release gives up this client's claim on the stream. Safe to call more
// than once; only the first call has effect.
func (g *ClientGuard) Release() {
	g.once.Do(func() {
		g.stream.releaseClient()
	})
}

// Registry is the guarded mapping from stream id to ActiveStream.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*ActiveStream
}

// New returns an empty registry. cfg.IdleGrace defaults to 60s if zero.
func New(cfg Config) *Registry {
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = defaultIdleGrace
	}
	return &Registry{cfg: cfg, streams: make(map[string]*ActiveStream)}
}

// GetOrStartStream returns a live subscription to id, starting its
// transcoder if necessary. It bumps the stream's client count; the
// caller must Release the returned guard when done.
func (r *Registry) GetOrStartStream(ctx context.Context, id, url, hlsDir string) (*broadcast.Sub, *fmp4.HeaderSlot, []broadcast.Fragment, *ClientGuard, error) {
	return r.getOrStart(ctx, id, url, hlsDir, true)
}

// EnsureStream starts id's transcoder if necessary, without bumping the
// client count; used when only an HLS client is present and liveness is
// tracked via TouchHLS instead.
func (r *Registry) EnsureStream(ctx context.Context, id, url, hlsDir string) error {
	_, _, _, _, err := r.getOrStart(ctx, id, url, hlsDir, false)
	return err
}

func (r *Registry) getOrStart(ctx context.Context, id, url, hlsDir string, bumpClient bool) (*broadcast.Sub, *fmp4.HeaderSlot, []broadcast.Fragment, *ClientGuard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stream, ok := r.streams[id]; ok {
		if bumpClient {
			stream.addClient()
		}
		snapshot := stream.cache.Snapshot()
		sub := stream.broadcast.Subscribe()
		var guard *ClientGuard
		if bumpClient {
			guard = &ClientGuard{stream: stream}
		}
		return sub, stream.header, snapshot, guard, nil
	}

	if hlsDir != "" && r.cfg.HLS != nil {
		if _, err := r.cfg.HLS.PrepareNewSession(id); err != nil {
			xlog.Component("streammux").Warn().Err(err).Str("stream_id", id).Msg("failed to prepare HLS session")
		}
	}

	stream, err := r.admit(id, url, hlsDir)
	if err != nil {
		metrics.StreamAdmissions.WithLabelValues("rejected").Inc()
		return nil, nil, nil, nil, err
	}

	supCfg := transcoder.Config{
		StreamID:   id,
		FFmpegPath: r.cfg.FFmpegPath,
		Broadcast:  stream.broadcast,
		Header:     stream.header,
		Options: transcoder.Options{
			EffectiveURL: stream.effectiveURL,
			Mode:         r.cfg.Mode,
			Transport:    r.cfg.Transport,
			HLSDir:       hlsDir,
			Threads:      r.cfg.Threads,
		},
	}
	sup, err := transcoder.Start(ctx, supCfg)
	if err != nil {
		metrics.StreamAdmissions.WithLabelValues("spawn_error").Inc()
		return nil, nil, nil, nil, fmt.Errorf("streammux: start transcoder: %w", err)
	}
	stream.supervisor = sup

	if bumpClient {
		stream.addClient()
	}
	entry := stream.ActiveStream
	r.streams[id] = entry
	metrics.ActiveStreams.Set(float64(len(r.streams)))
	metrics.StreamAdmissions.WithLabelValues("admitted").Inc()

	cacheSub := entry.broadcast.Subscribe()
	go broadcast.MaintainCache(cacheSub, entry.cache)
	go r.reapIdle(id, entry)

	snapshot := entry.cache.Snapshot()
	sub := entry.broadcast.Subscribe()
	var guard *ClientGuard
	if bumpClient {
		guard = &ClientGuard{stream: entry}
	}
	return sub, entry.header, snapshot, guard, nil
}

// admit performs tuner-slot allocation and the capacity check; it does
// not start the transcoder or insert into the registry. Caller holds
// r.mu.
func (r *Registry) admit(id, url, hlsDir string) (*streamWithURL, error) {
	now := time.Now()
	muxKey := rtspurl.MuxKey(url)

	slot := 0
	if muxKey != "" {
		for _, s := range r.streams {
			if s.isActive(now, r.cfg.IdleGrace) && s.muxKey == muxKey {
				slot = s.tunerSlot
				break
			}
		}
	}

	if slot == 0 {
		used := make(map[int]bool)
		for _, s := range r.streams {
			if s.isActive(now, r.cfg.IdleGrace) {
				used[s.tunerSlot] = true
			}
		}
		for candidate := 1; candidate <= r.cfg.MaxParallelStreams; candidate++ {
			if !used[candidate] {
				slot = candidate
				break
			}
		}
	}

	if slot == 0 {
		if parsed, ok := rtspurl.TunerSlot(url); ok {
			slot = parsed
		} else {
			slot = 1
		}
	}

	// Capacity is checked against the registry size regardless of
	// whether the slot was reused from an existing mux: a reused slot
	// still adds a new map entry.
	if len(r.streams) >= r.cfg.MaxParallelStreams {
		return nil, ErrCapacity
	}

	effectiveURL := rtspurl.SetParam(url, rtspurl.TunerParam, strconv.Itoa(slot))

	stream := &ActiveStream{
		id:           id,
		tunerSlot:    slot,
		muxKey:       muxKey,
		broadcast:    broadcast.New(),
		cache:        broadcast.NewCache(),
		header:       fmp4.NewHeaderSlot(),
		stopReaperCh: make(chan struct{}),
	}
	if hlsDir != "" {
		stream.hlsLastAccess = now
	}

	return &streamWithURL{ActiveStream: stream, effectiveURL: effectiveURL}, nil
}

// streamWithURL threads the effective URL computed at admission time
// through to transcoder construction without storing it permanently on
// ActiveStream (it is only needed once, at spawn).
type streamWithURL struct {
	*ActiveStream
	effectiveURL string
}

// TouchHLS records that an HLS client accessed id just now, keeping its
// tuner slot and transcoder alive even with zero fMP4 subscribers.
func (r *Registry) TouchHLS(id string) {
	r.mu.Lock()
	stream, ok := r.streams[id]
	r.mu.Unlock()
	if ok {
		stream.touchHLS()
	}
}

// reapIdle runs until id has been idle (no clients, no recent HLS
// access) for cfg.IdleGrace, then removes it from the registry and
// stops its transcoder.
func (r *Registry) reapIdle(id string, stream *ActiveStream) {
	ticker := time.NewTicker(idleReapInterval)
	defer ticker.Stop()

	graceTicks := int(r.cfg.IdleGrace / idleReapInterval)
	if graceTicks <= 0 {
		graceTicks = 1
	}

	for {
		select {
		case <-stream.stopReaperCh:
			return
		case <-ticker.C:
			stream.mu.Lock()
			idle := stream.clientCount == 0 &&
				(stream.hlsLastAccess.IsZero() || time.Since(stream.hlsLastAccess) > r.cfg.IdleGrace)
			if idle {
				stream.idleTicks++
			} else {
				stream.idleTicks = 0
			}
			reached := stream.idleTicks >= graceTicks
			stream.mu.Unlock()

			if reached {
				r.mu.Lock()
				if current, ok := r.streams[id]; ok && current == stream {
					delete(r.streams, id)
					metrics.ActiveStreams.Set(float64(len(r.streams)))
				}
				r.mu.Unlock()

				xlog.Component("streammux").Info().Str("stream_id", id).Msg("idle stream reaped")
				stream.supervisor.Stop()
				return
			}
		}
	}
}

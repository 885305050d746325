// Package hlssession manages the on-disk HLS session directories (C6):
// lazy per-id directories, stale-file purge, and a filesystem watcher
// that wakes callers blocked on a playlist becoming ready.
package hlssession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

const (
	playlistName = "index.m3u8"
	pollInterval = 250 * time.Millisecond
)

// IDHash derives the filesystem-safe directory name for a channel id:
// the low 64 bits of its SHA-256 digest, hex-encoded.
func IDHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[len(sum)-8:])
}

type session struct {
	mu      sync.Mutex
	ready   bool
	readyCh chan struct{}
}

func newSession() *session {
	return &session{readyCh: make(chan struct{})}
}

func (s *session) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return
	}
	s.ready = true
	close(s.readyCh)
}

func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.readyCh = make(chan struct{})
}

func (s *session) snapshot() (bool, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.readyCh
}

// Manager owns every session directory under a single base path and the
// one fsnotify watcher that observes all of them.
type Manager struct {
	baseDir string

	mu       sync.Mutex
	sessions map[string]*session
	dirs     map[string]string // directory path -> id, for watch dispatch

	watcher *fsnotify.Watcher
}

// New creates the base directory if necessary and starts the
// background watcher. Call Close to stop it.
func New(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		baseDir:  baseDir,
		sessions: make(map[string]*session),
		dirs:     make(map[string]string),
		watcher:  watcher,
	}
	go m.watch()
	return m, nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	return m.watcher.Close()
}

// dirFor returns the session directory for id, without creating it.
func (m *Manager) dirFor(id string) string {
	return filepath.Join(m.baseDir, IDHash(id))
}

// sessionFor returns (creating if necessary) the in-memory session
// state for id. It does not touch the filesystem.
func (m *Manager) sessionFor(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession()
		m.sessions[id] = s
	}
	return s
}

// EnsureDir lazily creates id's session directory and starts watching
// it, without touching any existing playlist or segments. It is
// idempotent: callers may call it on every request ("reserve the HLS
// dir, always, so a client can attach later") regardless of whether a
// transcoder is currently writing to it.
func (m *Manager) EnsureDir(id string) (dir string, err error) {
	dir = m.dirFor(id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	m.mu.Lock()
	_, watched := m.dirs[dir]
	if !watched {
		m.dirs[dir] = id
	}
	m.mu.Unlock()
	if !watched {
		if err := m.watcher.Add(dir); err != nil {
			xlog.Component("hlssession").Warn().Err(err).Str("dir", dir).Msg("failed to watch session directory")
		}
	}

	m.sessionFor(id)
	return dir, nil
}

// PrepareNewSession clears id's ready flag and deletes any existing
// playlist and segments, lazily creating the directory (and adding a
// watch on it) the first time. Called exactly once per transcoder
// start, immediately before the encoder begins writing; the watcher
// will re-raise the ready flag once it sees the new playlist appear.
func (m *Manager) PrepareNewSession(id string) (dir string, err error) {
	dir, err = m.EnsureDir(id)
	if err != nil {
		return "", err
	}
	purgeStaleFiles(dir)
	m.sessionFor(id).reset()
	return dir, nil
}

// purgeStaleFiles removes any existing playlist and segment files in
// dir, never touching anything else.
func purgeStaleFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == playlistName || isSegmentName(name) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}

// WaitForPlaylist blocks until id's playlist has become ready, the
// context is cancelled, or timeout elapses. It polls in bounded windows
// so a missed fsnotify wakeup cannot cause an indefinite hang: the ready
// flag is re-checked after every wait window regardless of why it woke.
func (m *Manager) WaitForPlaylist(ctx context.Context, id string, timeout time.Duration) bool {
	s := m.sessionFor(id)
	deadline := time.Now().Add(timeout)

	for {
		ready, ch := s.snapshot()
		if ready {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := remaining
		if wait > pollInterval {
			wait = pollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// SegmentPath validates a client-supplied segment name against dir and
// returns the joined path, or ("", false) if the name is unsafe or
// malformed. Accepted names start with "seg_", end with ".ts", and
// contain no path separators.
func SegmentPath(dir, name string) (string, bool) {
	if !isSegmentName(name) {
		return "", false
	}
	return filepath.Join(dir, name), true
}

func isSegmentName(name string) bool {
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return strings.HasPrefix(name, "seg_") && strings.HasSuffix(name, ".ts")
}

// watch is the single background goroutine dispatching fsnotify events
// for every watched session directory to the matching session's ready
// flag.
func (m *Manager) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != playlistName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			m.mu.Lock()
			id, known := m.dirs[filepath.Dir(event.Name)]
			m.mu.Unlock()
			if !known {
				continue
			}
			m.sessionFor(id).markReady()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			xlog.Component("hlssession").Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

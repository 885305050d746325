package httpapi

import (
	"bufio"
	"bytes"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DirkTheDaring/fritztv/internal/hlssession"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// playlistWaitTimeout bounds how long a playlist request waits for the
// transcoder to produce the first segment.
const playlistWaitTimeout = 10 * time.Second

// handlePlaylist serves GET/HEAD /hls/{id}/index.m3u8, starting the
// transcoder if necessary and rewriting the playlist the encoder wrote
// to normalize fields clients are picky about.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, ok := s.lookupChannel(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	hlsDir, err := s.cfg.HLS.EnsureDir(id)
	if err != nil {
		xlog.Component("httpapi").Error().Err(err).Str("id", id).Msg("failed to reserve HLS directory")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.ensureHLSReady(r, id, ch.URL, hlsDir); err != nil {
		writeAdmissionError(w, err)
		return
	}
	s.cfg.Registry.TouchHLS(id)

	ctx := r.Context()
	if !s.cfg.HLS.WaitForPlaylist(ctx, id, playlistWaitTimeout) {
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "playlist not ready", http.StatusGatewayTimeout)
		return
	}

	raw, err := os.ReadFile(hlsDir + "/index.m3u8")
	if err != nil {
		http.Error(w, "playlist unavailable", http.StatusServiceUnavailable)
		return
	}

	rewritten := rewritePlaylist(raw)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(rewritten)
}

// rewritePlaylist normalizes a playlist written by the encoder: the
// target duration is set to the ceiling of the largest segment duration
// seen (at least 1), the version tag is pinned to 3 (the widest
// client-compatible version for fMP4-free, plain .ts segments), and the
// independent-segments tag — meaningless without fMP4-in-HLS — is
// dropped. Segment URIs are left untouched; they are already relative.
func rewritePlaylist(raw []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var lines []string
	maxSegDur := 0.0
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "#EXT-X-INDEPENDENT-SEGMENTS"):
			continue
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			if d, ok := parseExtinf(line); ok && d > maxSegDur {
				maxSegDur = d
			}
			lines = append(lines, line)
		default:
			lines = append(lines, line)
		}
	}

	target := int(math.Ceil(maxSegDur))
	if target < 1 {
		target = 1
	}

	var out bytes.Buffer
	versionWritten := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#EXTM3U") {
			out.WriteString(line)
			out.WriteByte('\n')
			out.WriteString("#EXT-X-VERSION:3\n")
			versionWritten = true
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-TARGETDURATION:") {
			out.WriteString("#EXT-X-TARGETDURATION:")
			out.WriteString(strconv.Itoa(target))
			out.WriteByte('\n')
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if !versionWritten {
		return append([]byte("#EXT-X-VERSION:3\n"), out.Bytes()...)
	}
	return out.Bytes()
}

func parseExtinf(line string) (float64, bool) {
	body := strings.TrimPrefix(line, "#EXTINF:")
	comma := strings.IndexByte(body, ',')
	if comma >= 0 {
		body = body[:comma]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

// handleSegment serves GET/HEAD /hls/{id}/{segment}, a single .ts
// media segment, with byte-range support.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	segment := chi.URLParam(r, "segment")

	if _, ok := s.lookupChannel(id); !ok {
		http.NotFound(w, r)
		return
	}

	dir, err := s.cfg.HLS.EnsureDir(id)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	path, ok := hlssession.SegmentPath(dir, segment)
	if !ok {
		http.Error(w, ErrPathRejected.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, segment, info.ModTime(), f)
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DirkTheDaring/fritztv/internal/streammux"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// handleStream serves the live fragmented-MP4 byte stream: the init
// header, then the replay-cache snapshot, then live fragments as they
// arrive, all concatenated on the same response body.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
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

	release := s.acquireAdmission()
	sub, header, snapshot, guard, err := s.cfg.Registry.GetOrStartStream(r.Context(), id, ch.URL, hlsDir)
	release()
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	defer sub.Close()
	defer guard.Release()

	data, ok := header.Wait(r.Context(), s.cfg.HeaderTimeout)
	if !ok {
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, ErrHeaderTimeout.Error(), http.StatusGatewayTimeout)
		return
	}

	// Some players (notably Safari) probe the stream with a Range
	// request before committing to it. The live stream has no fixed
	// length, so a probe is answered from the already-known init header
	// alone: a range starting inside the header gets a 206 with its end
	// clamped to the header size, and any other "bytes=" range gets a 416.
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if start, end, ok := parseHeaderRange(rangeHeader, len(data)); ok {
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, end))
			w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
			w.WriteHeader(http.StatusPartialContent)
			if r.Method != http.MethodHead {
				_, _ = w.Write(data[start : end+1])
			}
			return
		} else if strings.HasPrefix(rangeHeader, "bytes=") {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	if _, err := w.Write(data); err != nil {
		return
	}
	for _, frag := range snapshot {
		if _, err := w.Write(frag.Data); err != nil {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok || ev.Closed {
				return
			}
			if ev.Lagged > 0 {
				continue
			}
			if _, err := w.Write(ev.Fragment.Data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// parseHeaderRange parses a single-range "bytes=start-end" Range header
// value against a buffer of the given size. A missing end means "to the
// end of the buffer"; a start at or past size is unsatisfiable.
func parseHeaderRange(header string, size int) (start, end int, ok bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	if spec == header {
		return 0, 0, false
	}
	spec = strings.Split(spec, ",")[0] // only a single range is supported
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if startStr == "" {
		// Suffix range ("-N" = last N bytes); not used by header probes.
		return 0, 0, false
	}

	start, err := strconv.Atoi(startStr)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	if endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.Atoi(endStr)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	w.Header().Set("Cache-Control", "no-store")
	if errors.Is(err, streammux.ErrCapacity) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

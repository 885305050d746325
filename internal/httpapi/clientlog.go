package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// clientLogEvent is the small diagnostic payload a browser player posts
// when it hits a playback error or stall, so the server log carries
// client-side context alongside its own.
type clientLogEvent struct {
	StreamID string `json:"stream_id"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

// handleClientLog accepts POST /api/clientlog. The endpoint is
// rate-limited per IP by the surrounding middleware; the handler itself
// trusts nothing about the body beyond its size and shape.
func (s *Server) handleClientLog(w http.ResponseWriter, r *http.Request) {
	var ev clientLogEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	if err := dec.Decode(&ev); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	log := xlog.Component("client").With().
		Str("stream_id", ev.StreamID).
		Str("remote", r.RemoteAddr).
		Logger()

	switch ev.Level {
	case "error":
		log.Error().Msg(ev.Message)
	case "warn":
		log.Warn().Msg(ev.Message)
	default:
		log.Info().Msg(ev.Message)
	}

	w.WriteHeader(http.StatusNoContent)
}

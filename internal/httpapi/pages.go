package httpapi

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>fritztv</title></head>
<body>
<h1>Channels</h1>
<ul>
{{range $i, $ch := .}}<li><a href="/watch/{{$i}}">{{$ch.Name}}</a></li>
{{end}}</ul>
</body>
</html>
`

const watchHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
<script src="https://cdn.jsdelivr.net/npm/hls.js@1"></script>
</head>
<body>
<h1>{{.Name}}</h1>
<video id="player" controls autoplay muted style="width:100%;max-width:960px"></video>
<script>
(function () {
  var video = document.getElementById("player");
  var fmp4Src = "/stream/{{.ID}}";
  var hlsSrc = "/hls/{{.ID}}/index.m3u8";

  if (video.canPlayType("application/vnd.apple.mpegurl")) {
    video.src = hlsSrc;
    return;
  }
  if (window.Hls && window.Hls.isSupported()) {
    var hls = new Hls();
    hls.loadSource(hlsSrc);
    hls.attachMedia(video);
    return;
  }
  // Last resort: feed the raw fragmented-MP4 stream directly.
  video.src = fmp4Src;
})();
</script>
</body>
</html>
`

var (
	indexTemplate = template.Must(template.New("index").Parse(indexHTML))
	watchTemplate = template.Must(template.New("watch").Parse(watchHTML))
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.channels); err != nil {
		xlog.Component("httpapi").Warn().Err(err).Msg("index template render failed")
	}
}

type channelJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	out := make([]channelJSON, len(s.channels))
	for i, ch := range s.channels {
		out[i] = channelJSON{ID: strconv.Itoa(i), Name: ch.Name}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, ok := s.lookupChannel(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		ID   string
		Name string
	}{ID: id, Name: ch.Name}
	if err := watchTemplate.Execute(w, data); err != nil {
		xlog.Component("httpapi").Warn().Err(err).Msg("watch template render failed")
	}
}

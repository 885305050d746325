// Package m3u parses the extended-M3U playlist used to discover channel
// names and RTSP URLs. It is an external collaborator to the stream
// multiplexing engine: the engine only ever sees a Channel's Name and
// URL.
package m3u

import "strings"

// Channel is one entry of a parsed playlist.
type Channel struct {
	Name string
	URL  string
}

// Parse parses extended-M3U content into an ordered list of channels.
// Lines are matched against #EXTINF for the display name (the text after
// the last comma) and the next non-comment, non-blank line is taken as
// the channel URL.
func Parse(content string) []Channel {
	var channels []Channel
	var pending Channel
	haveName := false

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			if idx := strings.LastIndex(line, ","); idx != -1 {
				pending = Channel{Name: strings.TrimSpace(line[idx+1:])}
				haveName = true
			}
		case line == "" || strings.HasPrefix(line, "#"):
			// comment or blank: ignore
		default:
			if !haveName {
				pending = Channel{}
			}
			pending.URL = line
			channels = append(channels, pending)
			pending = Channel{}
			haveName = false
		}
	}
	return channels
}

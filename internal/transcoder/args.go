package transcoder

import "fmt"

// TuningMode controls the latency/quality tradeoff of the ffmpeg
// invocation.
type TuningMode int

const (
	LowLatency TuningMode = iota
	Smooth
)

// String renders the tuning mode for logs and trace attributes.
func (m TuningMode) String() string {
	if m == Smooth {
		return "smooth"
	}
	return "low_latency"
}

// Transport selects the RTSP transport ffmpeg is told to use.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

// String renders the transport for logs and trace attributes.
func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "udp"
}

// Options describes one transcoder invocation.
type Options struct {
	EffectiveURL string
	Mode         TuningMode
	Transport    Transport
	HLSDir       string // empty disables the HLS output
	Threads      int
}

// BuildArgs returns the complete ffmpeg argument list for opts, in the
// exact order required by the encoder's "apply to next output only"
// argument grammar: input-side flags once, then one complete output
// stanza per active output (fMP4 always, HLS when HLSDir is set).
func BuildArgs(opts Options) []string {
	var args []string

	if opts.Transport == TransportTCP {
		args = append(args, "-rtsp_transport", "tcp")
	}

	args = append(args,
		"-reorder_queue_size", "2048",
		"-fflags", "+genpts+discardcorrupt",
		"-use_wallclock_as_timestamps", "1",
	)

	if opts.Mode == LowLatency {
		args = append(args, "-analyzeduration", "500000", "-probesize", "500000")
	} else {
		args = append(args, "-analyzeduration", "5000000", "-probesize", "5000000")
	}

	if opts.Threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", opts.Threads))
	}

	args = append(args, "-y", "-i", opts.EffectiveURL)

	args = append(args, fmp4OutputArgs(opts.Mode)...)

	if opts.HLSDir != "" {
		args = append(args, hlsOutputArgs(opts.Mode, opts.HLSDir)...)
	}

	return args
}

// commonVideoArgs are the video-encode settings shared by every output
// stanza: closed GOPs, keyint 50 (min 50, no scene-cut), a forced
// keyframe every 2 seconds, CRF 18 with capped rate control, baseline
// H.264 at level 3.1, deinterlaced yuv420p.
func commonVideoArgs() []string {
	return []string{
		"-map", "0:v:0", "-map", "0:a:0?",
		"-map", "-0:s?", "-map", "-0:d?",
		"-vf", "yadif,format=yuv420p",
		"-c:v", "libx264",
		"-profile:v", "baseline", "-level", "3.1",
		"-pix_fmt", "yuv420p",
		"-g", "50", "-keyint_min", "50", "-sc_threshold", "0",
		"-force_key_frames", "expr:gte(t,n_forced*2)",
		"-flags", "+cgop",
		"-crf", "18", "-maxrate", "12M", "-bufsize", "24M",
		"-c:a", "aac", "-ac", "2", "-b:a", "128k", "-async", "1",
		"-vsync", "cfr",
		"-max_muxing_queue_size", "1024",
	}
}

func fmp4OutputArgs(mode TuningMode) []string {
	args := append([]string{}, commonVideoArgs()...)
	args = append(args, presetArgs(mode)...)
	args = append(args,
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"pipe:1",
	)
	return args
}

func hlsOutputArgs(mode TuningMode, dir string) []string {
	args := append([]string{}, commonVideoArgs()...)
	args = append(args, presetArgs(mode)...)
	args = append(args,
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "10",
		"-hls_playlist_type", "event",
		"-hls_flags", "delete_segments+independent_segments+omit_endlist",
		"-hls_segment_filename", dir+"/seg_%05d.ts",
		dir+"/index.m3u8",
	)
	return args
}

func presetArgs(mode TuningMode) []string {
	if mode == LowLatency {
		return []string{"-preset", "fast", "-tune", "zerolatency"}
	}
	return []string{"-preset", "medium"}
}

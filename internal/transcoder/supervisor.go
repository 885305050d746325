// Package transcoder supervises one ffmpeg child process per active
// channel: it builds the argument list, owns the process group, frames
// its stdout into fMP4 fragments, and reports its stderr tail and exit
// classification back to the caller.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DirkTheDaring/fritztv/internal/broadcast"
	"github.com/DirkTheDaring/fritztv/internal/fmp4"
	"github.com/DirkTheDaring/fritztv/internal/metrics"
	"github.com/DirkTheDaring/fritztv/internal/procgroup"
	"github.com/DirkTheDaring/fritztv/internal/telemetry"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// ExitReason classifies why a transcoder process is no longer running.
type ExitReason string

const (
	ExitRequested      ExitReason = "requested"
	ExitCleanUnexpected ExitReason = "clean_unexpected"
	ExitError          ExitReason = "error"
)

const (
	stderrTailLines = 50
	cpuSampleEvery  = 5 * time.Second
	shutdownGrace   = 5 * time.Second
)

// Config describes one transcoder invocation, bound to a single channel.
// The broadcast and header slot are owned by the caller (the stream
// registry); the supervisor only ever publishes into them.
type Config struct {
	StreamID   string
	FFmpegPath string // defaults to "ffmpeg" if empty
	Options    Options

	Broadcast *broadcast.Broadcast
	Header    *fmp4.HeaderSlot
}

// Supervisor owns one running (or exited) ffmpeg child. The zero value
// is not usable; construct with Start.
type Supervisor struct {
	cfg Config

	cmd     *exec.Cmd
	waitCh  chan error
	stderr  *stderrRing
	stopped atomic.Bool
	span    trace.Span

	doneOnce sync.Once
	doneCh   chan struct{}

	exitReason ExitReason
	exitErr    error
	mu         sync.Mutex
}

// Start spawns the ffmpeg child described by cfg and begins framing its
// stdout. It returns once the process has been launched; framing and
// supervision continue in background goroutines until Stop is called or
// the process exits on its own.
func Start(ctx context.Context, cfg Config) (*Supervisor, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	tracer := telemetry.Tracer("fritztv.transcoder")
	_, span := tracer.Start(ctx, "transcode.ffmpeg", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(telemetry.TranscodeAttributes(cfg.StreamID, cfg.Options.Mode.String(), cfg.Options.Transport.String())...)

	args := BuildArgs(cfg.Options)
	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stdout pipe")
		span.End()
		return nil, fmt.Errorf("transcoder: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stderr pipe")
		span.End()
		return nil, fmt.Errorf("transcoder: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start")
		span.End()
		return nil, fmt.Errorf("transcoder: start: %w", err)
	}

	s := &Supervisor{
		cfg:    cfg,
		cmd:    cmd,
		waitCh: make(chan error, 1),
		stderr: newStderrRing(stderrTailLines),
		doneCh: make(chan struct{}),
		span:   span,
	}

	go s.runWait()
	go s.drainStdout(stdout)
	go s.drainStderr(stderr)
	go s.sampleCPU()

	return s, nil
}

func (s *Supervisor) runWait() {
	err := s.cmd.Wait()
	s.waitCh <- err

	s.mu.Lock()
	if s.stopped.Load() {
		s.exitReason = ExitRequested
	} else if err == nil {
		s.exitReason = ExitCleanUnexpected
	} else {
		s.exitReason = ExitError
		s.exitErr = err
	}
	reason := s.exitReason
	s.mu.Unlock()

	metrics.TranscoderExits.WithLabelValues(s.cfg.StreamID, string(reason)).Inc()
	metrics.ResetTranscoderCPU(s.cfg.StreamID)

	ev := xlog.Component("transcoder").Info()
	if reason == ExitError {
		ev = xlog.Component("transcoder").Error()
	}
	ev.Str("stream_id", s.cfg.StreamID).
		Str("reason", string(reason)).
		Str("stderr_tail", strings.Join(s.stderr.Tail(), "\n")).
		Msg("transcoder exited")

	s.span.SetAttributes(attribute.String(telemetry.TranscodeExitKey, string(reason)))
	if reason == ExitError {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, string(reason))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()

	if s.cfg.Broadcast != nil {
		s.cfg.Broadcast.Close()
	}

	s.doneOnce.Do(func() { close(s.doneCh) })
}

func (s *Supervisor) drainStdout(r io.Reader) {
	framer := fmp4.New(&sink{s: s})
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := framer.Write(buf[:n]); ferr != nil {
				xlog.Component("transcoder").Warn().
					Str("stream_id", s.cfg.StreamID).
					Msg("fmp4 framer desynchronized, resuming")
			}
		}
		if err != nil {
			return
		}
	}
}

// sink adapts the framer's callbacks onto the shared header slot,
// replay cache and broadcast fan-out.
type sink struct {
	s *Supervisor
}

func (sk *sink) Header(data []byte) {
	if sk.s.cfg.Header != nil {
		sk.s.cfg.Header.Set(data)
	}
}

func (sk *sink) Fragment(data []byte) {
	frag := broadcast.Fragment{Data: append([]byte(nil), data...)}
	if sk.s.cfg.Broadcast != nil {
		sk.s.cfg.Broadcast.Publish(frag)
	}
	metrics.FragmentsBroadcast.WithLabelValues(sk.s.cfg.StreamID).Inc()
}

func (s *Supervisor) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderr.Add(line)
		xlog.Component("transcoder").Debug().
			Str("stream_id", s.cfg.StreamID).
			Str("line", line).
			Msg("ffmpeg stderr")
	}
}

// sampleCPU polls /proc/<pid>/stat every cpuSampleEvery and updates the
// per-stream CPU gauge, until the process exits.
func (s *Supervisor) sampleCPU() {
	ticker := time.NewTicker(cpuSampleEvery)
	defer ticker.Stop()

	pid := s.cmd.Process.Pid
	clockTicks := float64(100) // most Linux distributions; not derivable portably without cgo

	var lastTotal uint64
	lastWall := time.Now()

	for {
		select {
		case <-s.doneCh:
			return
		case now := <-ticker.C:
			total, ok := readProcessTicks(pid)
			if !ok {
				continue
			}
			elapsed := now.Sub(lastWall).Seconds()
			if lastTotal > 0 && elapsed > 0 {
				deltaTicks := float64(total - lastTotal)
				pct := (deltaTicks / clockTicks) / elapsed * 100
				metrics.TranscoderCPUPercent.WithLabelValues(s.cfg.StreamID).Set(pct)
			}
			lastTotal = total
			lastWall = now
		}
	}
}

// readProcessTicks reads utime+stime (fields 14 and 15) from
// /proc/<pid>/stat, in clock ticks since process start.
func readProcessTicks(pid int) (uint64, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}

	// Field 2 (comm) is parenthesized and may itself contain spaces or
	// parens, so resume splitting after its closing paren.
	end := strings.LastIndexByte(string(data), ')')
	if end == -1 || end+2 >= len(data) {
		return 0, false
	}
	fields := strings.Fields(string(data[end+2:]))
	// fields[0] is field 3 (state); utime is field 14 -> fields[11].
	if len(fields) < 14 {
		return 0, false
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return utime + stime, true
}

// Stop requests a graceful shutdown: SIGTERM, then SIGKILL after grace.
// It blocks until the process has actually exited. Safe to call more
// than once; safe to call even if the process has already exited on its
// own.
func (s *Supervisor) Stop() error {
	if s.stopped.Swap(true) {
		<-s.doneCh
		return nil
	}
	err := procgroup.Terminate(s.cmd, s.waitCh, shutdownGrace)
	<-s.doneCh
	return err
}

// Done returns a channel closed once the process has exited, for any
// reason.
func (s *Supervisor) Done() <-chan struct{} {
	return s.doneCh
}

// ExitInfo reports why the process is no longer running. Valid only
// after Done() is closed.
func (s *Supervisor) ExitInfo() (ExitReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitReason, s.exitErr
}

// StderrTail returns the last lines of stderr observed so far.
func (s *Supervisor) StderrTail() []string {
	return s.stderr.Tail()
}

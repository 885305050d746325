package transcoder

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DirkTheDaring/fritztv/internal/broadcast"
	"github.com/DirkTheDaring/fritztv/internal/fmp4"
)

// atom builds one standard-header ISO-BMFF atom for use by the fake
// ffmpeg script below.
func atom(typ string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	copy(out[4:8], typ)
	copy(out[8:], payload)
	return out
}

// writeFakeFFmpeg drops a tiny script standing in for ffmpeg: it emits
// one init segment and two fragments to stdout, then exits 0.
func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()

	var stream []byte
	stream = append(stream, atom("ftyp", []byte("isom"))...)
	stream = append(stream, atom("moov", []byte("x"))...)
	stream = append(stream, atom("moof", []byte("1"))...)
	stream = append(stream, atom("mdat", []byte("aaaa"))...)
	stream = append(stream, atom("moof", []byte("2"))...)
	stream = append(stream, atom("mdat", []byte("bbbb"))...)

	dir := t.TempDir()
	path := filepath.Join(dir, "fakeffmpeg.sh")

	dataPath := filepath.Join(dir, "stream.bin")
	require.NoError(t, os.WriteFile(dataPath, stream, 0o644))

	script := "#!/bin/sh\ncat " + dataPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSupervisorFramesFakeProcessOutput(t *testing.T) {
	fake := writeFakeFFmpeg(t)

	bc := broadcast.New()
	sub := bc.Subscribe()
	defer sub.Close()

	header := fmp4.NewHeaderSlot()

	sup, err := Start(context.Background(), Config{
		StreamID:   "test",
		FFmpegPath: fake,
		Options:    Options{EffectiveURL: "rtsp://unused"},
		Broadcast:  bc,
		Header:     header,
	})
	require.NoError(t, err)

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	reason, _ := sup.ExitInfo()
	require.Equal(t, ExitCleanUnexpected, reason)

	data, ok := header.Get()
	require.True(t, ok)
	require.Contains(t, string(data), "moov")

	var got []broadcast.Event
	for {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		default:
			goto done
		}
	}
done:
	fragCount := 0
	for _, ev := range got {
		if len(ev.Fragment.Data) > 0 {
			fragCount++
		}
	}
	require.Equal(t, 2, fragCount)
}

func TestSupervisorStopTerminatesLongRunningProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sleepy.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 100\n"), 0o755))

	sup, err := Start(context.Background(), Config{
		StreamID:   "test2",
		FFmpegPath: path,
		Options:    Options{EffectiveURL: "rtsp://unused"},
		Broadcast:  broadcast.New(),
		Header:     fmp4.NewHeaderSlot(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sup.Stop() }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return in time")
	}

	reason, _ := sup.ExitInfo()
	require.Equal(t, ExitRequested, reason)
}

package hlssession

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDHashIsStableAndFilesystemSafe(t *testing.T) {
	h1 := IDHash("channel-one")
	h2 := IDHash("channel-one")
	h3 := IDHash("channel-two")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 16)
}

func TestPrepareNewSessionPurgesStaleFiles(t *testing.T) {
	base := t.TempDir()
	m, err := New(base)
	require.NoError(t, err)
	defer m.Close()

	dir, err := m.PrepareNewSession("ch1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, playlistName), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg_00001.ts"), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keepme.txt"), []byte("unrelated"), 0o644))

	_, err = m.PrepareNewSession("ch1")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, playlistName))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "seg_00001.ts"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "keepme.txt"))
	require.NoError(t, err, "unrelated files must not be touched")
}

func TestWaitForPlaylistWakesOnFileCreation(t *testing.T) {
	base := t.TempDir()
	m, err := New(base)
	require.NoError(t, err)
	defer m.Close()

	dir, err := m.PrepareNewSession("ch1")
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		done <- m.WaitForPlaylist(context.Background(), "ch1", 5*time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, playlistName), []byte("#EXTM3U\n"), 0o644))

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForPlaylist did not wake up")
	}
}

func TestWaitForPlaylistTimesOutWhenNeverReady(t *testing.T) {
	base := t.TempDir()
	m, err := New(base)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.PrepareNewSession("ch1")
	require.NoError(t, err)

	start := time.Now()
	ok := m.WaitForPlaylist(context.Background(), "ch1", 300*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestSegmentPathRejectsUnsafeNames(t *testing.T) {
	dir := "/hls/ch1"

	good, ok := SegmentPath(dir, "seg_00012.ts")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "seg_00012.ts"), good)

	cases := []string{
		"../seg_00012.ts",
		"seg_00012.ts/../../etc/passwd",
		"index.m3u8",
		"seg_00012.mp4",
		"seg_../../escape.ts",
		"",
	}
	for _, name := range cases {
		_, ok := SegmentPath(dir, name)
		require.False(t, ok, "expected %q to be rejected", name)
	}
}

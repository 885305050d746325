package streammux

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 100\n"), 0o755))
	return path
}

func newTestRegistry(t *testing.T, maxStreams int, idleGrace time.Duration) *Registry {
	return New(Config{
		MaxParallelStreams: maxStreams,
		FFmpegPath:         fakeFFmpeg(t),
		IdleGrace:          idleGrace,
	})
}

func TestGetOrStartStreamReusesExistingEntry(t *testing.T) {
	r := newTestRegistry(t, 4, time.Minute)
	ctx := context.Background()

	sub1, header1, _, guard1, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450", "")
	require.NoError(t, err)
	defer sub1.Close()
	defer guard1.Release()

	sub2, header2, _, guard2, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450", "")
	require.NoError(t, err)
	defer sub2.Close()
	defer guard2.Release()

	require.Same(t, header1, header2)

	r.mu.Lock()
	entry := r.streams["ch1"]
	r.mu.Unlock()
	require.EqualValues(t, 2, entry.clientCount)
}

func TestMuxKeyReuseSharesTunerSlot(t *testing.T) {
	r := newTestRegistry(t, 4, time.Minute)
	ctx := context.Background()

	_, _, _, guard1, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450&bandwidth=8", "")
	require.NoError(t, err)
	defer guard1.Release()

	_, _, _, guard2, err := r.GetOrStartStream(ctx, "ch2", "rtsp://host/?avm=2&freq=450&bandwidth=8", "")
	require.NoError(t, err)
	defer guard2.Release()

	r.mu.Lock()
	slot1 := r.streams["ch1"].tunerSlot
	slot2 := r.streams["ch2"].tunerSlot
	r.mu.Unlock()

	require.Equal(t, slot1, slot2, "same mux key should reuse the same tuner slot")
}

func TestCapacityRejectsBeyondMax(t *testing.T) {
	r := newTestRegistry(t, 1, time.Minute)
	ctx := context.Background()

	_, _, _, guard1, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450", "")
	require.NoError(t, err)
	defer guard1.Release()

	_, _, _, _, err = r.GetOrStartStream(ctx, "ch2", "rtsp://host/?avm=2&freq=999", "")
	require.ErrorIs(t, err, ErrCapacity)
}

func TestClientGuardReleaseIsIdempotentAndSaturating(t *testing.T) {
	r := newTestRegistry(t, 4, time.Minute)
	ctx := context.Background()

	_, _, _, guard, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450", "")
	require.NoError(t, err)

	guard.Release()
	guard.Release()
	guard.Release()

	r.mu.Lock()
	entry := r.streams["ch1"]
	r.mu.Unlock()
	require.EqualValues(t, 0, entry.clientCount)
}

func TestIdleReaperRemovesStreamAfterGrace(t *testing.T) {
	r := newTestRegistry(t, 4, 2*idleReapInterval)
	ctx := context.Background()

	_, _, _, guard, err := r.GetOrStartStream(ctx, "ch1", "rtsp://host/?avm=1&freq=450", "")
	require.NoError(t, err)
	guard.Release()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		_, ok := r.streams["ch1"]
		r.mu.Unlock()
		return !ok
	}, 5*time.Second, 50*time.Millisecond, "idle stream should be reaped")
}

func TestConcurrentGetOrStartStreamOnSameIDStartsOneTranscoder(t *testing.T) {
	r := newTestRegistry(t, 4, time.Minute)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	guards := make([]*ClientGuard, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _, guard, err := r.GetOrStartStream(ctx, "shared", "rtsp://host/?avm=1&freq=450", "")
			guards[i] = guard
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	r.mu.Lock()
	entry := r.streams["shared"]
	count := len(r.streams)
	r.mu.Unlock()

	require.Equal(t, 1, count, "only one ActiveStream should exist for the shared id")
	require.EqualValues(t, n, entry.clientCount)

	for _, g := range guards {
		g.Release()
	}
}

package streammux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestNoGoroutineLeakAfterIdleReap exercises the full lifecycle a
// registry entry goes through — admission, cache maintainer, idle
// reaper, transcoder teardown — and asserts nothing outlives it.
func TestNoGoroutineLeakAfterIdleReap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

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

	// Give the supervisor's wait/drain goroutines and the cache
	// maintainer's channel-close observation a moment to unwind after
	// the reaper stops the transcoder.
	time.Sleep(200 * time.Millisecond)
}

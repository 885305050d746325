package broadcast

import (
	"testing"
	"time"
)

func frag(b byte, n int) Fragment {
	d := make([]byte, n)
	for i := range d {
		d[i] = b
	}
	return Fragment{Data: d}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	b.Publish(frag(1, 4))

	for _, s := range []*Sub{s1, s2} {
		select {
		case ev := <-s.Events():
			if ev.Lagged != 0 || ev.Closed {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fragment")
		}
	}
}

func TestLaggingSubscriberGetsLagSignalAndRecovers(t *testing.T) {
	b := New()
	slow := b.Subscribe()
	defer slow.Close()

	for i := 0; i < QueueDepth+10; i++ {
		b.Publish(frag(byte(i), 1))
	}

	// Drain everything; we should see a lag marker somewhere, and the
	// stream should still be consumable afterwards.
	sawLag := false
	count := 0
	for count < QueueDepth {
		select {
		case ev := <-slow.Events():
			if ev.Lagged > 0 {
				sawLag = true
			}
			count++
		case <-time.After(time.Second):
			t.Fatalf("timed out draining queue after %d events", count)
		}
	}
	if !sawLag {
		t.Fatal("expected at least one lag event")
	}

	// Producer continues to be able to publish without blocking.
	done := make(chan struct{})
	go func() {
		b.Publish(frag(99, 1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on lagging subscriber")
	}
}

func TestCacheBoundedBySize(t *testing.T) {
	c := NewCache()
	chunk := CacheCapBytes / 4
	for i := 0; i < 10; i++ {
		c.Append(frag(byte(i), chunk))
		if c.totalSize > CacheCapBytes {
			t.Fatalf("cache exceeded cap: %d > %d", c.totalSize, CacheCapBytes)
		}
	}
}

func TestCacheSnapshotStartsAtMoof(t *testing.T) {
	c := NewCache()

	notMoof := Fragment{Data: []byte("12345678")}
	moofFrag := Fragment{Data: append([]byte{0, 0, 0, 8}, []byte("moof")...)}

	c.Append(notMoof)
	c.Append(moofFrag)
	c.Append(notMoof)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("got %d entries, want 2", len(snap))
	}
	if !isMoof(snap[0].Data) {
		t.Fatalf("snapshot does not start with moof entry")
	}
}

func TestCacheSnapshotEmptyWhenNoMoof(t *testing.T) {
	c := NewCache()
	c.Append(Fragment{Data: []byte("12345678")})
	if snap := c.Snapshot(); snap != nil {
		t.Fatalf("expected nil snapshot, got %v", snap)
	}
}

func TestSubscribeAfterCloseIsImmediatelyClosed(t *testing.T) {
	b := New()
	b.Close()
	s := b.Subscribe()
	defer s.Close()

	select {
	case ev := <-s.Events():
		if !ev.Closed {
			t.Fatalf("expected closed event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed event")
	}
}

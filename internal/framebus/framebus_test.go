package framebus

import (
	"sync"
	"testing"
	"time"
)

func TestSlotPublishSnapshot(t *testing.T) {
	s := NewSlot(64)
	if _, _, _, ok := s.Snapshot(make([]byte, 64)); ok {
		t.Fatal("expected empty slot before first publish")
	}

	payload := []byte("hello frame")
	if err := s.Publish(payload, time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out := make([]byte, 64)
	n, seq, _, ok := s.Snapshot(out)
	if !ok {
		t.Fatal("expected snapshot after publish")
	}
	if n != len(payload) {
		t.Fatalf("n = %d, want %d", n, len(payload))
	}
	if string(out[:n]) != string(payload) {
		t.Fatalf("payload mismatch: got %q", out[:n])
	}
	if seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}
}

func TestSlotOversizedRejected(t *testing.T) {
	s := NewSlot(4)
	err := s.Publish([]byte("too big"), time.Now())
	if err == nil {
		t.Fatal("expected oversized error")
	}
	if _, _, _, ok := s.Snapshot(make([]byte, 4)); ok {
		t.Fatal("oversized publish must not affect slot state")
	}
}

func TestSlotSequenceStrictlyIncreasing(t *testing.T) {
	s := NewSlot(16)
	for i := 0; i < 5; i++ {
		if err := s.Publish([]byte{byte(i)}, time.Now()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	_, seq, _, ok := s.Snapshot(make([]byte, 16))
	if !ok || seq != 5 {
		t.Fatalf("seq = %d, ok=%v, want 5,true", seq, ok)
	}
}

func TestSlotConcurrentPublishSnapshotNoTearing(t *testing.T) {
	s := NewSlot(8)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var i byte
		for {
			select {
			case <-stop:
				return
			default:
			}
			payload := []byte{i, i, i, i}
			s.Publish(payload, time.Now())
			i++
		}
	}()

	out := make([]byte, 8)
	for i := 0; i < 10000; i++ {
		n, _, _, ok := s.Snapshot(out)
		if !ok {
			continue
		}
		if n != 4 {
			t.Fatalf("n = %d, want 4", n)
		}
		for j := 1; j < n; j++ {
			if out[j] != out[0] {
				t.Fatalf("torn read: %v", out[:n])
			}
		}
	}
	close(stop)
	wg.Wait()
}

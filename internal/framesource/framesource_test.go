package framesource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inkworks/pentrack/internal/camera"
)

func startSource(t *testing.T, cam camera.Camera, quality int) (*Source, context.CancelFunc) {
	t.Helper()
	src := New(cam, quality)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		src.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("capture loop did not stop")
		}
	})
	return src, cancel
}

func waitForSeq(t *testing.T, src *Source, min uint64) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := src.Latest(); ok && snap.Seq >= min {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("frame seq did not reach %d", min)
	return Snapshot{}
}

func TestFrameSeqStrictlyIncreases(t *testing.T) {
	cam := camera.NewSynthetic(32, 24)
	cam.Delay = 0
	src, _ := startSource(t, cam, 90)

	first := waitForSeq(t, src, 1)
	second := waitForSeq(t, src, first.Seq+1)
	if second.Seq <= first.Seq {
		t.Errorf("seq went from %d to %d", first.Seq, second.Seq)
	}
	if second.Width != 32 || second.Height != 24 {
		t.Errorf("frame size = %dx%d", second.Width, second.Height)
	}
}

func TestEncodingGatedOnSubscribers(t *testing.T) {
	cam := camera.NewSynthetic(32, 24)
	cam.Delay = 0
	src, _ := startSource(t, cam, 90)

	waitForSeq(t, src, 2)
	if jpg, _ := src.LatestJPEG(); jpg != nil {
		t.Error("JPEG encoded with zero subscribers")
	}

	src.AddSubscriber()
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	var seq uint64
	for time.Now().Before(deadline) {
		if got, seq = src.LatestJPEG(); got != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got == nil {
		t.Fatal("no JPEG produced with an active subscriber")
	}
	if seq == 0 {
		t.Error("encoded frame carries zero seq")
	}
	if got[0] != 0xFF || got[1] != 0xD8 {
		t.Error("encoded bytes are not JPEG")
	}

	src.RemoveSubscriber()
	// Encoding stops again once the subscriber leaves.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if jpg, _ := src.LatestJPEG(); jpg == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("JPEG slot not cleared after last subscriber left")
}

func TestReadFailureRetries(t *testing.T) {
	cam := camera.NewSynthetic(16, 16)
	cam.Delay = 0
	src, _ := startSource(t, cam, 90)

	before := waitForSeq(t, src, 1)
	cam.FailNextRead(errors.New("simulated stall"))
	after := waitForSeq(t, src, before.Seq+2)
	if after.Seq <= before.Seq {
		t.Error("capture did not recover after a failed read")
	}
}

func TestSubscriberCountFloorsAtZero(t *testing.T) {
	src := New(camera.NewSynthetic(8, 8), 50)

	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.AddSubscriber()
			src.RemoveSubscriber()
		}()
	}
	wg.Wait()

	src.RemoveSubscriber() // extra remove must not go negative
	if got := src.Subscribers(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

func TestQualityClamped(t *testing.T) {
	if s := New(camera.NewSynthetic(8, 8), 0); s.quality != 1 {
		t.Errorf("quality = %d, want 1", s.quality)
	}
	if s := New(camera.NewSynthetic(8, 8), 250); s.quality != 100 {
		t.Errorf("quality = %d, want 100", s.quality)
	}
}

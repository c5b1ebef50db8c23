package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warpcomdev/mjpegd/internal/stream"
)

// countingBuffer is the Buffer counterpart of countingSource.
type countingBuffer struct {
	n int
}

func (b *countingBuffer) View() []byte {
	return make([]byte, b.n)
}

// countingSource is a mock stream.Source that counts calls to Read,
// used for P1/P2/P4.
type countingSource struct {
	reads int32
}

func (s *countingSource) NewBuffer() stream.Buffer {
	return &countingBuffer{}
}

func (s *countingSource) Read(ctx context.Context, buf stream.Buffer) (int, error) {
	atomic.AddInt32(&s.reads, 1)
	cb := buf.(*countingBuffer)
	cb.n = 4
	return cb.n, nil
}

func (s *countingSource) Reads() int {
	return int(atomic.LoadInt32(&s.reads))
}

// drainSubscriber drains envelopes from sub until ctx is done.
func drainSubscriber(ctx context.Context, sub *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Envelopes():
			if !ok {
				return
			}
		}
	}
}

// TestIdleHibernation asserts no frames are read while no subscriber
// is enrolled (P1).
func TestIdleHibernation(t *testing.T) {
	src := &countingSource{}
	m := NewManager(context.Background(), src, 20*time.Millisecond, nil, nil)
	time.Sleep(100 * time.Millisecond)
	if got := src.Reads(); got != 0 {
		t.Fatalf("reads = %d, want 0", got)
	}
	_ = m
}

// TestRevival asserts enrolling a subscriber after idleness causes at
// least one read within tick+epsilon (P2).
func TestRevival(t *testing.T) {
	src := &countingSource{}
	tick := 20 * time.Millisecond
	m := NewManager(context.Background(), src, tick, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := NewSubscriber()
	defer sub.Close()
	go drainSubscriber(ctx, sub)

	m.Enroll(sub)

	deadline := time.After(tick + 80*time.Millisecond)
	for src.Reads() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no read observed within tick+epsilon")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestSingleProducer asserts the source's Read is never invoked
// concurrently while several subscribers are enrolled at once (P3).
func TestSingleProducer(t *testing.T) {
	src := &concurrencyCheckingSource{}
	tick := 10 * time.Millisecond
	m := NewManager(context.Background(), src, tick, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		sub := NewSubscriber()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Close()
			subCtx, subCancel := context.WithTimeout(ctx, 150*time.Millisecond)
			defer subCancel()
			drainSubscriber(subCtx, sub)
		}()
		m.Enroll(sub)
	}
	wg.Wait()

	if src.violated.Load() {
		t.Fatal("concurrent Read calls observed")
	}
}

type concurrencyCheckingSource struct {
	inFlight int32
	violated atomic.Bool
}

func (s *concurrencyCheckingSource) NewBuffer() stream.Buffer { return &countingBuffer{} }

func (s *concurrencyCheckingSource) Read(ctx context.Context, buf stream.Buffer) (int, error) {
	if atomic.AddInt32(&s.inFlight, 1) > 1 {
		s.violated.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	cb := buf.(*countingBuffer)
	cb.n = 1
	return 1, nil
}

// subscriberCountRecorder is a Metrics that notes when the reported
// subscriber count reaches 2 and later falls back to 1.
type subscriberCountRecorder struct {
	mu     sync.Mutex
	sawTwo bool
	pruned bool
}

func (r *subscriberCountRecorder) SetTaskActive(bool) {}

func (r *subscriberCountRecorder) IncFramesRead() {}

func (r *subscriberCountRecorder) IncFramesSkipped() {}

func (r *subscriberCountRecorder) SetSubscribers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case n == 2:
		r.sawTwo = true
	case n == 1 && r.sawTwo:
		r.pruned = true
	}
}

func (r *subscriberCountRecorder) Pruned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruned
}

// TestPrune asserts that closing a subscriber causes it to be dropped
// from the fan-out within a couple of ticks (P4), and that the
// remaining subscriber still receives frames.
func TestPrune(t *testing.T) {
	src := &countingSource{}
	tick := 15 * time.Millisecond
	rec := &subscriberCountRecorder{}
	m := NewManager(context.Background(), src, tick, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gone := NewSubscriber()
	staying := NewSubscriber()

	m.Enroll(gone)
	m.Enroll(staying)

	// gone never reads its envelopes and is immediately closed, as if
	// its socket had already been dropped.
	gone.Close()

	var received int32
	stayCtx, stayCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer stayCancel()
	go func() {
		for {
			select {
			case <-stayCtx.Done():
				return
			case _, ok := <-staying.Envelopes():
				if !ok {
					return
				}
				atomic.AddInt32(&received, 1)
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	if !rec.Pruned() {
		t.Fatal("closed subscriber was not pruned from the fan-out")
	}
	if atomic.LoadInt32(&received) == 0 {
		t.Fatal("staying subscriber received no frames after the other was pruned")
	}
}

func TestClampTick(t *testing.T) {
	if got := ClampTick(10 * time.Millisecond); got != MinTick {
		t.Fatalf("got %v, want %v", got, MinTick)
	}
	if got := ClampTick(5 * time.Second); got != MaxTick {
		t.Fatalf("got %v, want %v", got, MaxTick)
	}
	if got := ClampTick(500 * time.Millisecond); got != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms", got)
	}
}

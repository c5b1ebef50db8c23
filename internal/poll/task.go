package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warpcomdev/mjpegd/internal/stream"
)

const (
	// MinTick and MaxTick bound the requested tick period (spec §6,
	// P8).
	MinTick = 20 * time.Millisecond
	MaxTick = 1000 * time.Millisecond
)

// ClampTick enforces [MinTick, MaxTick] on a caller-requested period.
func ClampTick(d time.Duration) time.Duration {
	if d < MinTick {
		return MinTick
	}
	if d > MaxTick {
		return MaxTick
	}
	return d
}

// Metrics receives Polling Task lifecycle and throughput signals. A
// nil Metrics is valid; every method is guarded by a nil check.
type Metrics interface {
	SetTaskActive(active bool)
	SetSubscribers(n int)
	IncFramesRead()
	IncFramesSkipped()
}

// Manager owns one Frame Source across its task's idle/revive cycles
// and serializes the decision between "the task is still running,
// hand this subscriber to it" and "the task just went idle, start a
// new one" behind a single mutex. This closes the registry-race design
// flag: the Polling Task's idle-exit check and the Dispatcher's
// enrollment both run under Manager.mu, so neither can observe a state
// the other has already invalidated (spec §4.G, §9 "registry race on
// revival", option (a): "holds a lock spanning check-and-send").
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	// rootCtx bounds every Polling Task's lifetime uniformly (process
	// shutdown only). It must never be tied to any one subscriber's
	// request context: the task outlives whichever client happened to
	// revive it, as long as other subscribers remain (spec §4.E/I1).
	rootCtx context.Context

	source  stream.Source
	tick    time.Duration
	logger  *zap.Logger
	metrics Metrics

	active  bool
	pending *Subscriber // the single-slot registry; nil when empty
}

// NewManager builds a Manager around source. No Polling Task runs
// until the first Enroll. Every task it starts is bound to ctx (use
// context.Background() to run until process exit, or a server
// lifetime context to stop all tasks on shutdown).
func NewManager(ctx context.Context, source stream.Source, tick time.Duration, logger *zap.Logger, metrics Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m := &Manager{
		rootCtx: ctx,
		source:  source,
		tick:    ClampTick(tick),
		logger:  logger,
		metrics: metrics,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Enroll hands sub to the active Polling Task, or starts a new one
// with sub as its initial subscriber if none is running (spec §4.G
// steps 3-4). It blocks only if the single-slot registry is already
// occupied by another subscriber the task has not yet drained
// (invariant I3); this is the same backpressure the channel-based
// registry in spec.md describes, expressed as a condition variable
// wait instead.
func (m *Manager) Enroll(sub *Subscriber) {
	m.mu.Lock()
	for {
		if !m.active {
			m.active = true
			go m.run(sub)
			m.mu.Unlock()
			return
		}
		if m.pending == nil {
			m.pending = sub
			m.cond.Broadcast()
			m.mu.Unlock()
			return
		}
		m.cond.Wait()
	}
}

// run is the Polling Task body for one activation. initial bypasses
// the registry so the first frame reaches it even if the registry
// slot happens to be occupied (spec §4.G step 3).
func (m *Manager) run(initial *Subscriber) {
	ctx := m.rootCtx
	senders := []*Subscriber{initial}
	sharedBuf := newSharedBuffer(m.source.NewBuffer())
	m.setMetricActive(true)
	m.setMetricSubscribers(len(senders))

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	exit := func() {
		m.mu.Lock()
		m.active = false
		m.cond.Broadcast()
		m.mu.Unlock()
		m.setMetricActive(false)
		m.setMetricSubscribers(0)
	}

	for {
		select {
		case <-ctx.Done():
			exit()
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.pending != nil {
			senders = append(senders, m.pending)
			m.pending = nil
			m.cond.Broadcast()
		}
		if len(senders) == 0 {
			m.active = false
			m.cond.Broadcast()
			m.mu.Unlock()
			m.setMetricActive(false)
			m.setMetricSubscribers(0)
			return
		}
		m.mu.Unlock()
		m.setMetricSubscribers(len(senders))

		n, err := sharedBuf.update(func(buf stream.Buffer) (int, error) {
			return m.source.Read(ctx, buf)
		})
		if err != nil {
			m.logger.Error("polling task: frame source lost, terminating", zap.Error(err))
			exit()
			return
		}
		if n == 0 {
			// Per-tick zero-length frame: skip dispatch entirely rather
			// than sending an empty part (spec §9 last bullet).
			m.setMetricSkipped()
			continue
		}
		m.setMetricRead()

		header := []byte(fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", n))
		env := Envelope{Header: header, Shared: sharedBuf}

		senders = dispatch(senders, env)
	}
}

// dispatch concurrently offers env to every subscriber in senders and
// returns the subset that accepted it (spec §4.E send concurrency /
// prune).
func dispatch(senders []*Subscriber, env Envelope) []*Subscriber {
	results := make([]bool, len(senders))
	var wg sync.WaitGroup
	wg.Add(len(senders))
	for i, s := range senders {
		go func(i int, s *Subscriber) {
			defer wg.Done()
			results[i] = s.trySend(env)
		}(i, s)
	}
	wg.Wait()

	anyFailed := false
	for _, ok := range results {
		if !ok {
			anyFailed = true
			break
		}
	}
	if !anyFailed {
		return senders
	}
	live := senders[:0]
	for i, s := range senders {
		if results[i] {
			live = append(live, s)
		}
	}
	return live
}

func (m *Manager) setMetricActive(active bool) {
	if m.metrics != nil {
		m.metrics.SetTaskActive(active)
	}
}

func (m *Manager) setMetricSubscribers(n int) {
	if m.metrics != nil {
		m.metrics.SetSubscribers(n)
	}
}

func (m *Manager) setMetricRead() {
	if m.metrics != nil {
		m.metrics.IncFramesRead()
	}
}

func (m *Manager) setMetricSkipped() {
	if m.metrics != nil {
		m.metrics.IncFramesSkipped()
	}
}

// Package storagemap implements the fan-out/fan-in coordinator that drives
// one source processor and N destination processors through shared phases.
package storagemap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
)

// Phase is the coordinator's position in the request lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSrcProcess
	PhaseDstProcess
	PhaseFinalize
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSrcProcess:
		return "src_process"
	case PhaseDstProcess:
		return "dst_process"
	case PhaseFinalize:
		return "finalize"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Endpoint bundles one storage backend with the processor driving it and
// the processor's deinit completion state. It is the Go analog of AsaObj.
type Endpoint struct {
	Backend   ports.StorageBackend
	Processor ports.Processor
	Label     domain.VersionLabel

	workingMu sync.Mutex
	working   bool
	deinited  bool
}

// StartWorking flips the per-destination busy bit. Returns false if it was
// already set (a destination's working bit may only flip on once per phase
// before the next fan-in check, per spec.md §3 invariants).
func (e *Endpoint) StartWorking() bool {
	e.workingMu.Lock()
	defer e.workingMu.Unlock()
	if e.working {
		return false
	}
	e.working = true
	return true
}

// StopWorking clears the busy bit.
func (e *Endpoint) StopWorking() {
	e.workingMu.Lock()
	e.working = false
	e.workingMu.Unlock()
}

func (e *Endpoint) IsWorking() bool {
	e.workingMu.Lock()
	defer e.workingMu.Unlock()
	return e.working
}

// Map is the fan-out root: exactly one source, at most one local-temp, and
// a dynamic set of destinations bounded by request.
type Map struct {
	mu sync.Mutex

	capacity     int
	source       *Endpoint
	localTmp     *Endpoint
	destinations []*Endpoint
	cursor       int

	appSyncCnt int32 // outstanding startup-phase async operations
	phase      Phase

	ErrInfo *domain.ErrorInfo

	// onReady fires exactly once, when appSyncCnt reaches zero: this is
	// try_init_file_processors from spec.md §4.1.
	onReady func()
}

// New allocates a map with capacity for n destination slots.
func New(nDst int) *Map {
	return &Map{
		capacity:     nDst,
		destinations: make([]*Endpoint, 0, nDst),
		ErrInfo:      domain.NewErrorInfo(),
		phase:        PhaseInit,
	}
}

func (m *Map) SetSource(ep *Endpoint) {
	m.mu.Lock()
	m.source = ep
	m.mu.Unlock()
}

func (m *Map) SetLocalTmp(ep *Endpoint) {
	m.mu.Lock()
	m.localTmp = ep
	m.mu.Unlock()
}

// AddDestination appends a destination endpoint. Fails once the map's
// capacity is exhausted.
func (m *Map) AddDestination(ep *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.destinations) >= m.capacity {
		return fmt.Errorf("storagemap: destination capacity %d exhausted", m.capacity)
	}
	m.destinations = append(m.destinations, ep)
	return nil
}

func (m *Map) Source() *Endpoint   { m.mu.Lock(); defer m.mu.Unlock(); return m.source }
func (m *Map) LocalTmp() *Endpoint { m.mu.Lock(); defer m.mu.Unlock(); return m.localTmp }

func (m *Map) Destinations() []*Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Endpoint, len(m.destinations))
	copy(out, m.destinations)
	return out
}

// ResetIterator rewinds the restartable destination cursor.
func (m *Map) ResetIterator() {
	m.mu.Lock()
	m.cursor = 0
	m.mu.Unlock()
}

// IterateDestination returns the next destination, or (nil, false) once the
// cursor is exhausted. ResetIterator must be called before re-iterating.
func (m *Map) IterateDestination() (*Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= len(m.destinations) {
		return nil, false
	}
	ep := m.destinations[m.cursor]
	m.cursor++
	return ep, true
}

// AllDstStopped is the fan-in test: true once every destination's working
// bit is clear.
func (m *Map) AllDstStopped() bool {
	for _, ep := range m.Destinations() {
		if ep.IsWorking() {
			return false
		}
	}
	return true
}

// AllDstDone reports whether every destination reports HasDoneProcessing.
func (m *Map) AllDstDone() bool {
	for _, ep := range m.Destinations() {
		if ep.Processor == nil || !ep.Processor.HasDoneProcessing() {
			return false
		}
	}
	return true
}

func (m *Map) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Map) SetPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// OnReady registers the callback invoked when the startup fan-in barrier
// reaches zero.
func (m *Map) OnReady(fn func()) {
	m.mu.Lock()
	m.onReady = fn
	m.mu.Unlock()
}

// BeginAsync increments the startup-phase async-operation counter. Call
// once per concurrent startup operation issued (create local-temp folder,
// open source chunk 1, mkdir first destination folder).
func (m *Map) BeginAsync() {
	atomic.AddInt32(&m.appSyncCnt, 1)
}

// EndAsync decrements the counter and, if it reaches zero, invokes the
// registered onReady callback exactly once. This implements "only the last
// decrementor proceeds": earlier completions are no-ops.
func (m *Map) EndAsync() {
	if atomic.AddInt32(&m.appSyncCnt, -1) == 0 {
		m.mu.Lock()
		fn := m.onReady
		m.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

// PendingAsync returns the current outstanding startup-operation count,
// mostly useful for tests and diagnostics.
func (m *Map) PendingAsync() int32 {
	return atomic.LoadInt32(&m.appSyncCnt)
}

// Deinit tears the map down: each endpoint's processor Deinit is invoked
// in turn. The teacher's torrent sessions tear down synchronously; here
// the recursive multi-tick teardown described in spec.md §4.1 is modeled
// by returning a slice of not-yet-finished endpoints the caller should
// retry on the next event-loop tick, rather than blocking.
func (m *Map) Deinit(deinitOne func(ep *Endpoint) (done bool, err error)) (remaining []*Endpoint, err error) {
	m.mu.Lock()
	all := make([]*Endpoint, 0, len(m.destinations)+2)
	if m.source != nil {
		all = append(all, m.source)
	}
	if m.localTmp != nil {
		all = append(all, m.localTmp)
	}
	all = append(all, m.destinations...)
	m.mu.Unlock()

	for _, ep := range all {
		ep.workingMu.Lock()
		already := ep.deinited
		ep.workingMu.Unlock()
		if already {
			continue
		}
		done, derr := deinitOne(ep)
		if derr != nil {
			return remaining, derr
		}
		if done {
			ep.workingMu.Lock()
			ep.deinited = true
			ep.workingMu.Unlock()
		} else {
			remaining = append(remaining, ep)
		}
	}
	return remaining, nil
}

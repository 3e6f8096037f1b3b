// Package runtime is the client side of the state protocol. A Runtime owns
// the active state map, a queue of incoming state frames and the mount
// bookkeeping for every anchor, and drives an external Renderer with the
// minimal set of render, update and unmount calls.
//
// All mutation happens through EnqueueFrame and the flush loop. Flushes run
// on a Scheduler tick with a time budget; a flush that exceeds its budget
// reschedules itself instead of blocking.
package runtime

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
)

const (
	// DefaultFrameBudget bounds the work done by one budgeted flush.
	DefaultFrameBudget = 33 * time.Millisecond
	// DefaultMaxQueue is the queue length above which backpressure applies.
	DefaultMaxQueue = 64
	// DefaultPendingAttr marks anchors affected by an in-flight transition.
	DefaultPendingAttr = "data-pending"
)

// Element is the subset of DOM behaviour the runtime and renderers need.
type Element interface {
	SetAttr(key, value string)
	RemoveAttr(key string)
	Clear()
	SetHTML(fragment string) error
}

// AnchorSource discovers the current anchor elements.
type AnchorSource interface {
	Anchors() map[string]Element
}

// Renderer turns (name, data) pairs into element content. The runtime never
// calls Render on an anchor it considers mounted; live anchors get Update.
type Renderer interface {
	Render(name string, data any, el Element) error
	Hydrate(name string, data any, el Element) (dispose func(), err error)
	Update(name string, data any, el Element) error
	Unmount(name string, el Element)
}

// Options configures a Runtime. Zero values select defaults.
type Options struct {
	FrameBudget time.Duration
	MaxQueue    int
	PendingAttr string
	Scheduler   Scheduler
	Clock       Clock
	Trace       TraceFunc
	Recorder    metrics.Recorder
	Logger      *slog.Logger
}

// mountHandle is the runtime-owned record for a mounted anchor.
type mountHandle struct {
	dispose func()
	props   any
}

// Runtime applies state frames to anchors. It is safe for concurrent use;
// renderer callbacks run with the runtime lock held and must not call back
// into the Runtime.
type Runtime struct {
	mu       sync.Mutex
	source   AnchorSource
	renderer Renderer

	budget      time.Duration
	maxQueue    int
	pendingAttr string
	scheduler   Scheduler
	clock       Clock
	trace       TraceFunc
	recorder    metrics.Recorder
	logger      *slog.Logger

	anchors   map[string]Element
	active    map[string]any
	queue     []*frame.State
	mounted   map[string]*mountHandle
	pending   map[string]struct{}
	scheduled bool

	events []TraceEvent
}

// New creates a runtime. DiscoverAnchors must be called before anchors are
// usable.
func New(source AnchorSource, renderer Renderer, opts Options) *Runtime {
	if source == nil {
		panic("runtime.New: anchor source is required")
	}
	if renderer == nil {
		panic("runtime.New: renderer is required")
	}
	r := &Runtime{
		source:      source,
		renderer:    renderer,
		budget:      opts.FrameBudget,
		maxQueue:    opts.MaxQueue,
		pendingAttr: opts.PendingAttr,
		scheduler:   opts.Scheduler,
		clock:       opts.Clock,
		trace:       opts.Trace,
		recorder:    metrics.OrNoop(opts.Recorder),
		logger:      opts.Logger,
		anchors:     map[string]Element{},
		active:      map[string]any{},
		mounted:     map[string]*mountHandle{},
		pending:     map[string]struct{}{},
	}
	if r.budget <= 0 {
		r.budget = DefaultFrameBudget
	}
	if r.maxQueue <= 0 {
		r.maxQueue = DefaultMaxQueue
	}
	if r.pendingAttr == "" {
		r.pendingAttr = DefaultPendingAttr
	}
	if r.scheduler == nil {
		r.scheduler = NewTickScheduler(0)
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// DiscoverAnchors rescans the document and clears the pending set.
func (r *Runtime) DiscoverAnchors() {
	r.mu.Lock()
	defer r.unlock()

	for name := range r.pending {
		if el, ok := r.anchors[name]; ok {
			el.RemoveAttr(r.pendingAttr)
		}
	}
	r.pending = map[string]struct{}{}
	r.anchors = r.source.Anchors()
	if r.anchors == nil {
		r.anchors = map[string]Element{}
	}
	r.logger.Debug("Anchors discovered", logfields.Count(len(r.anchors)))
}

// Hydrate installs the bootstrap snapshot. Anchors present in the snapshot
// are hydrated and marked mounted; keys without an anchor are kept in the
// active state only.
func (r *Runtime) Hydrate(initial map[string]any) {
	r.mu.Lock()
	defer r.unlock()

	r.active = frame.Clone(initial)
	if r.active == nil {
		r.active = map[string]any{}
	}
	for _, name := range frame.Keys(r.active) {
		el, ok := r.anchors[name]
		if !ok {
			continue
		}
		if prev, ok := r.mounted[name]; ok && prev.dispose != nil {
			prev.dispose()
		}
		data := r.active[name]
		dispose, err := r.renderer.Hydrate(name, data, el)
		if err != nil {
			r.renderFailed("hydrate", name, err)
			continue
		}
		r.mounted[name] = &mountHandle{dispose: dispose, props: data}
	}
}

// EnqueueFrame is the frame intake. State frames are queued and a flush is
// scheduled; done drains the queue synchronously; error frames are handled
// immediately.
func (r *Runtime) EnqueueFrame(f frame.Frame) {
	r.mu.Lock()
	defer r.unlock()

	switch v := f.(type) {
	case *frame.State:
		r.enqueueStateLocked(v)
	case *frame.Error:
		r.recorder.IncFrameReceived(string(frame.TypeError))
		r.handleErrorLocked(v)
	case *frame.Done:
		r.recorder.IncFrameReceived(string(frame.TypeDone))
		r.drainLocked(true)
		r.emit(TraceDone, nil)
	default:
		r.emit(TraceError, map[string]any{"message": "unsupported frame"})
	}
}

// Flush runs one budgeted flush immediately.
func (r *Runtime) Flush() {
	r.mu.Lock()
	defer r.unlock()
	r.drainLocked(false)
}

// FlushAll drains the queue ignoring the frame budget.
func (r *Runtime) FlushAll() {
	r.mu.Lock()
	defer r.unlock()
	r.drainLocked(true)
}

// MarkPending flags the named anchors as affected by an in-flight
// transition. Names without an anchor are ignored.
func (r *Runtime) MarkPending(names []string) {
	r.mu.Lock()
	defer r.unlock()
	for _, name := range names {
		el, ok := r.anchors[name]
		if !ok {
			continue
		}
		el.SetAttr(r.pendingAttr, "true")
		r.pending[name] = struct{}{}
	}
}

// ClearPending removes every pending mark.
func (r *Runtime) ClearPending() {
	r.mu.Lock()
	defer r.unlock()
	for name := range r.pending {
		if el, ok := r.anchors[name]; ok {
			el.RemoveAttr(r.pendingAttr)
		}
	}
	r.pending = map[string]struct{}{}
}

// Trace forwards an externally produced event (for example a transport
// failure) through the runtime's trace hook.
func (r *Runtime) Trace(ev TraceEvent) {
	r.mu.Lock()
	defer r.unlock()
	r.events = append(r.events, ev)
}

// ActiveStates returns a deep copy of the active state.
func (r *Runtime) ActiveStates() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return frame.Clone(r.active)
}

// AnchorNames returns the discovered anchor names, sorted.
func (r *Runtime) AnchorNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.anchors))
	for name := range r.anchors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsMounted reports whether the anchor currently holds rendered content.
func (r *Runtime) IsMounted(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.mounted[name]
	return ok
}

// IsPending reports whether the anchor is marked pending.
func (r *Runtime) IsPending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[name]
	return ok
}

// QueueLen reports the number of frames waiting to be applied.
func (r *Runtime) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// emit records a trace event for delivery once the lock is released.
func (r *Runtime) emit(kind TraceKind, detail map[string]any) {
	r.events = append(r.events, TraceEvent{Kind: kind, Detail: detail})
}

// unlock releases the lock and then delivers buffered trace events.
func (r *Runtime) unlock() {
	events := r.events
	r.events = nil
	r.mu.Unlock()
	if r.trace == nil {
		return
	}
	for _, ev := range events {
		r.trace(ev)
	}
}

func (r *Runtime) renderFailed(op, name string, err error) {
	r.logger.Warn("Renderer failed", slog.String("op", op), logfields.Anchor(name), logfields.Error(err))
	r.emit(TraceError, map[string]any{"message": err.Error(), "anchor": name, "op": op})
}

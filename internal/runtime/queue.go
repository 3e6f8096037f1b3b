package runtime

import (
	"log/slog"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
)

func (r *Runtime) enqueueStateLocked(s *frame.State) {
	if err := frame.Validate(s); err != nil {
		r.logger.Warn("Rejected state frame", logfields.Reason(err.Error()))
		r.emit(TraceError, map[string]any{"message": err.Error()})
		return
	}
	r.recorder.IncFrameReceived(string(frame.TypeState))
	r.emit(TraceReceived, map[string]any{"mode": mode(s), "keys": len(s.States)})

	r.queue = append(r.queue, s)
	r.applyBackpressureLocked()
	r.recorder.SetQueueLength(len(r.queue))
	r.scheduleLocked()
}

// applyBackpressureLocked drops every frame ahead of the first full frame
// once the queue is over its limit. With no full frame queued nothing is
// dropped, since a partial-only backlog has nothing to recover state from.
func (r *Runtime) applyBackpressureLocked() {
	if len(r.queue) <= r.maxQueue {
		return
	}
	idx := -1
	for i, s := range r.queue {
		if s.IsFull() {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	clear(r.queue[:idx])
	r.queue = r.queue[idx:]
	r.recorder.AddFramesDropped(idx)
	r.logger.Debug("Dropped superseded frames", logfields.Count(idx), logfields.QueueLen(len(r.queue)))
	r.emit(TraceDropped, map[string]any{"count": idx})
}

func (r *Runtime) scheduleLocked() {
	if r.scheduled {
		return
	}
	r.scheduled = true
	r.scheduler.Schedule(r.tick)
}

func (r *Runtime) tick() {
	r.mu.Lock()
	defer r.unlock()
	r.scheduled = false
	r.drainLocked(false)
}

// drainLocked applies queued frames. A budgeted drain stops once the frame
// budget is spent and schedules a follow-up flush for the remainder.
func (r *Runtime) drainLocked(all bool) {
	if len(r.queue) == 0 {
		return
	}
	start := r.clock.Now()
	for len(r.queue) > 0 {
		if !all && r.clock.Now().Sub(start) >= r.budget {
			r.scheduleLocked()
			break
		}
		r.applyLocked(r.popLocked())
	}
	r.recorder.SetQueueLength(len(r.queue))
	r.recorder.ObserveFlushDuration(r.clock.Now().Sub(start), all)
}

// popLocked removes the next logical frame from the queue, folding a run of
// consecutive partial frames at the head into one. The run ends before a
// frame that writes a key an earlier frame of the run removed, so the key
// is unmounted and rendered again as it would be frame by frame.
func (r *Runtime) popLocked() *frame.State {
	head := r.queue[0]
	n := 1
	if head.IsPartial() {
		removed := map[string]bool{}
		for n < len(r.queue) {
			for _, key := range r.queue[n-1].Removed {
				removed[key] = true
			}
			next := r.queue[n]
			if !next.IsPartial() || restores(next, removed) {
				break
			}
			n++
		}
	}
	run := r.queue[:n]
	next := head
	if n > 1 {
		next = coalesce(run)
		r.recorder.AddFramesMerged(n)
		r.emit(TraceMerged, map[string]any{"count": n})
	}
	clear(run)
	r.queue = r.queue[n:]
	return next
}

func restores(s *frame.State, removed map[string]bool) bool {
	for key := range s.States {
		if removed[key] {
			return true
		}
	}
	return false
}

// coalesce merges consecutive partial frames into one partial frame whose
// effect on the active state and the anchors equals applying them in order.
// Removals of a frame apply after its states, as in frame.Apply.
func coalesce(run []*frame.State) *frame.State {
	states := map[string]any{}
	var changed, removed orderedSet
	for _, s := range run {
		for key, value := range s.States {
			states[key] = value
		}
		for _, key := range changedKeys(s) {
			changed.add(key)
		}
		for _, key := range s.Removed {
			delete(states, key)
			changed.remove(key)
			removed.add(key)
		}
	}
	return &frame.State{
		States:  states,
		Full:    frame.Bool(false),
		Changed: append([]string{}, changed.keys...),
		Removed: removed.keys,
	}
}

func (r *Runtime) applyLocked(s *frame.State) {
	prev := r.active
	next := frame.Apply(prev, s)

	var changed, removed []string
	switch {
	case s.Accumulate:
		changed = frame.Keys(s.States)
	case s.IsFull():
		changed = frame.Keys(next)
		for _, key := range frame.Keys(prev) {
			if _, ok := next[key]; !ok {
				removed = append(removed, key)
			}
		}
	default:
		changed = changedKeys(s)
		removed = s.Removed
	}
	r.active = next

	for _, key := range removed {
		r.unmountLocked(key)
	}
	for _, key := range changed {
		el, ok := r.anchors[key]
		if !ok {
			continue
		}
		data, ok := next[key]
		if !ok {
			continue
		}
		if handle, mounted := r.mounted[key]; mounted {
			if err := r.renderer.Update(key, data, el); err != nil {
				r.renderFailed("update", key, err)
				continue
			}
			handle.props = data
			continue
		}
		if err := r.renderer.Render(key, data, el); err != nil {
			r.renderFailed("render", key, err)
			continue
		}
		r.mounted[key] = &mountHandle{props: data}
	}

	r.recorder.AddFramesApplied(1)
	r.emit(TraceApplied, map[string]any{
		"mode":    mode(s),
		"changed": changed,
		"removed": removed,
	})
}

func (r *Runtime) unmountLocked(key string) {
	handle, mounted := r.mounted[key]
	if !mounted {
		return
	}
	delete(r.mounted, key)
	el, ok := r.anchors[key]
	if !ok {
		return
	}
	r.renderer.Unmount(key, el)
	if handle.dispose != nil {
		handle.dispose()
	}
	el.Clear()
}

// handleErrorLocked renders an error frame into its template anchor as a
// synthetic full frame, or only traces it when the anchor is unknown.
func (r *Runtime) handleErrorLocked(e *frame.Error) {
	detail := map[string]any{"message": e.Message}
	if e.Template != "" {
		detail["template"] = e.Template
	}
	r.emit(TraceError, detail)
	r.logger.Info("Error frame received", slog.String("message", e.Message), logfields.Anchor(e.Template))

	if e.Template == "" {
		return
	}
	if _, ok := r.anchors[e.Template]; !ok {
		return
	}
	data := e.Data
	if data == nil {
		data = map[string]any{"message": e.Message}
	}
	r.queue = append(r.queue, frame.NewFull(map[string]any{e.Template: data}))
	r.drainLocked(true)
}

// changedKeys returns the keys to re-render for a partial frame. Only an
// absent list defaults to every key the frame carries; an explicit empty
// list renders nothing.
func changedKeys(s *frame.State) []string {
	if s.Changed != nil {
		return s.Changed
	}
	return frame.Keys(s.States)
}

func mode(s *frame.State) string {
	switch {
	case s.Accumulate:
		return "accumulate"
	case s.IsFull():
		return "full"
	default:
		return "partial"
	}
}

// orderedSet is an insertion-ordered string set.
type orderedSet struct {
	keys []string
}

func (o *orderedSet) add(key string) {
	for _, k := range o.keys {
		if k == key {
			return
		}
	}
	o.keys = append(o.keys, key)
}

func (o *orderedSet) remove(key string) {
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			return
		}
	}
}

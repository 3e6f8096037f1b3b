package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

// memoryBus is an in-process Transport. Each subscription delivers in
// publish order on its own goroutine, like a NATS subscription.
type memoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	inbox  int
	closed bool
}

type memorySub struct {
	bus     *memoryBus
	subject string
	ch      chan *nats.Msg
	done    chan struct{}
	once    sync.Once
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: map[*memorySub]struct{}{}}
}

func (b *memoryBus) PublishMsg(msg *nats.Msg) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus closed")
	}
	for sub := range b.subs {
		if subjectMatches(sub.subject, msg.Subject) {
			cp := *msg
			select {
			case sub.ch <- &cp:
			case <-sub.done:
			}
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	sub := &memorySub{bus: b, subject: subject, ch: make(chan *nats.Msg, 256), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go func() {
		for {
			select {
			case msg := <-sub.ch:
				cb(msg)
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

func (b *memoryBus) QueueSubscribe(subject, _ string, cb nats.MsgHandler) (Subscription, error) {
	return b.Subscribe(subject, cb)
}

func (b *memoryBus) NewInbox() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox++
	return fmt.Sprintf("_INBOX.test%d", b.inbox)
}

func (b *memoryBus) subscribers(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for sub := range b.subs {
		if sub.subject == subject {
			n++
		}
	}
	return n
}

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *memorySub) Drain() error { return s.Unsubscribe() }

func subjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

type collectSink struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *collectSink) WriteFrame(_ context.Context, f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *collectSink) types() []frame.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame.Type, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type())
	}
	return out
}

func (c *collectSink) all() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.frames...)
}

const prefix = "anchorstream.transition"

func startWorker(t *testing.T, bus *memoryBus, reg *server.Registry) *Worker {
	t.Helper()
	w := NewWorker(bus, reg, WorkerOptions{Prefix: prefix, QueueGroup: "workers", ErrorTemplate: "error"})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func relay(t *testing.T, bus *memoryBus, name string, idle time.Duration, params map[string]any) ([]frame.Frame, []frame.Type, error) {
	t.Helper()
	sink := &collectSink{}
	em := server.NewEmitter(sink, name)
	r := NewRelay(bus, name, RelayOptions{Prefix: prefix, IdleTimeout: idle})
	err := server.Execute(context.Background(), r, params, em, "error")
	return sink.all(), sink.types(), err
}

func TestRelayForwardsWorkerFrames(t *testing.T) {
	bus := newMemoryBus()
	reg := server.NewRegistry()
	reg.MustRegister("counter", server.HandlerFunc(func(ctx context.Context, params map[string]any, em *server.Emitter) error {
		if err := em.State(ctx, map[string]any{"count": params["n"]}); err != nil {
			return err
		}
		return em.Accumulate(ctx, map[string]any{"log": "tick"})
	}))
	startWorker(t, bus, reg)

	frames, types, err := relay(t, bus, "counter", time.Second, map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, []frame.Type{frame.TypeState, frame.TypeState, frame.TypeDone}, types)
	assert.Equal(t, map[string]any{"count": 3.0}, frames[0].(*frame.State).States)
	assert.True(t, frames[1].(*frame.State).Accumulate)
}

func TestRelayEndsWithWorkerErrorFrame(t *testing.T) {
	bus := newMemoryBus()
	reg := server.NewRegistry()
	reg.MustRegister("fail", server.HandlerFunc(func(context.Context, map[string]any, *server.Emitter) error {
		return ferrors.ApplicationError("upstream refused").Build()
	}))
	startWorker(t, bus, reg)

	frames, types, err := relay(t, bus, "fail", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, []frame.Type{frame.TypeError}, types)
	e := frames[0].(*frame.Error)
	assert.Equal(t, "upstream refused", e.Message)
	assert.Equal(t, "error", e.Template)
}

func TestRelayUnknownRemoteTransition(t *testing.T) {
	bus := newMemoryBus()
	startWorker(t, bus, server.NewRegistry())

	frames, types, err := relay(t, bus, "missing", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, []frame.Type{frame.TypeError}, types)
	assert.Contains(t, frames[0].(*frame.Error).Message, "unknown transition")
}

func TestRelayIdleTimeout(t *testing.T) {
	bus := newMemoryBus()

	_, types, err := relay(t, bus, "nobody", 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryTransport))
	require.Equal(t, []frame.Type{frame.TypeError}, types)
}

func TestRelayRejectsMalformedWorkerFrame(t *testing.T) {
	bus := newMemoryBus()
	_, err := bus.QueueSubscribe(Subject(prefix, "bad"), "workers", func(msg *nats.Msg) {
		out := nats.NewMsg(msg.Reply)
		out.Data = []byte("{not json\n")
		_ = bus.PublishMsg(out)
	})
	require.NoError(t, err)

	_, types, rerr := relay(t, bus, "bad", time.Second, nil)
	require.Error(t, rerr)
	assert.True(t, ferrors.HasCategory(rerr, ferrors.CategoryDecode))
	assert.Equal(t, []frame.Type{frame.TypeError}, types)
}

func TestRelayCancellationReachesWorker(t *testing.T) {
	bus := newMemoryBus()
	started := make(chan struct{})
	stopped := make(chan error, 1)
	reg := server.NewRegistry()
	reg.MustRegister("slow", server.HandlerFunc(func(ctx context.Context, _ map[string]any, em *server.Emitter) error {
		if err := em.State(ctx, map[string]any{"step": 1}); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return ctx.Err()
	}))
	startWorker(t, bus, reg)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	errCh := make(chan error, 1)
	go func() {
		em := server.NewEmitter(sink, "slow")
		errCh <- server.Execute(ctx, NewRelay(bus, "slow", RelayOptions{Prefix: prefix}), nil, em, "")
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started the handler")
	}
	require.Eventually(t, func() bool { return len(sink.types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker handler was not canceled")
	}
}

func TestRelayPropagatesTransitionID(t *testing.T) {
	bus := newMemoryBus()
	got := make(chan string, 1)
	_, err := bus.QueueSubscribe(Subject(prefix, "echo"), "workers", func(msg *nats.Msg) {
		got <- msg.Header.Get(codec.HeaderTransitionID)
		_ = bus.PublishMsg(endMsg(msg.Reply, "done"))
	})
	require.NoError(t, err)

	_, _, rerr := relay(t, bus, "echo", time.Second, nil)
	require.NoError(t, rerr)
	assert.NotEmpty(t, <-got)
}

func TestWorkerStopUnsubscribes(t *testing.T) {
	bus := newMemoryBus()
	w := NewWorker(bus, server.NewRegistry(), WorkerOptions{Prefix: prefix, QueueGroup: "workers"})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	assert.Equal(t, 1, bus.subscribers(Subject(prefix, "*")))

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, 0, bus.subscribers(Subject(prefix, "*")))
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorkerRefusesRequestsAfterStop(t *testing.T) {
	bus := newMemoryBus()
	reg := server.NewRegistry()
	served := make(chan struct{}, 1)
	reg.MustRegister("counter", server.HandlerFunc(func(context.Context, map[string]any, *server.Emitter) error {
		served <- struct{}{}
		return nil
	}))
	w := NewWorker(bus, reg, WorkerOptions{Prefix: prefix})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))

	replies := make(chan *nats.Msg, 4)
	sub, err := bus.Subscribe("_INBOX.late", func(msg *nats.Msg) { replies <- msg })
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	w.handle(&nats.Msg{Subject: Subject(prefix, "counter"), Reply: "_INBOX.late"})

	var got []frame.Frame
	var outcome string
	for outcome == "" {
		select {
		case msg := <-replies:
			if end, ok := streamEnd(msg); ok {
				outcome = end
				continue
			}
			frames, err := decodeFrames(msg)
			require.NoError(t, err)
			got = append(got, frames...)
		case <-time.After(2 * time.Second):
			t.Fatal("no stream end published")
		}
	}
	assert.Equal(t, "error", outcome)
	require.Len(t, got, 1)
	assert.IsType(t, &frame.Error{}, got[0])
	assert.Empty(t, served)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "anchorstream.transition.counter", Subject(prefix, "counter"))

	name, ok := TransitionFromSubject(prefix, "anchorstream.transition.counter")
	assert.True(t, ok)
	assert.Equal(t, "counter", name)

	_, ok = TransitionFromSubject(prefix, "anchorstream.transition.a.b")
	assert.False(t, ok)
	_, ok = TransitionFromSubject(prefix, "other.counter")
	assert.False(t, ok)
}

func TestStreamEndMarker(t *testing.T) {
	outcome, ok := streamEnd(endMsg("_INBOX.x", "error"))
	assert.True(t, ok)
	assert.Equal(t, "error", outcome)

	msg, err := frameMsg("_INBOX.x", &frame.Done{})
	require.NoError(t, err)
	_, ok = streamEnd(msg)
	assert.False(t, ok)
	assert.Equal(t, "{\"type\":\"done\"}\n", string(msg.Data))
}

package demo

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	"git.home.luguber.info/inful/anchorstream/internal/dom"
	"git.home.luguber.info/inful/anchorstream/internal/render"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
	"git.home.luguber.info/inful/anchorstream/internal/server"
	"git.home.luguber.info/inful/anchorstream/internal/transition"
)

type traceLog struct {
	mu     sync.Mutex
	events []runtime.TraceEvent
}

func (l *traceLog) hook(ev runtime.TraceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *traceLog) count(kind runtime.TraceKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func startDemo(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	app := New()
	app.TokenDelay = 0
	reg := server.NewRegistry()
	require.NoError(t, app.Register(reg))
	renderer := render.New(Templates())
	srv := server.New(cfg, reg, server.Options{
		Page:          PageHandler(app, renderer, cfg.Server.BasePath, nil),
		ErrorTemplate: AnchorError,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return app, ts
}

func openSession(t *testing.T, ts *httptest.Server, traces *traceLog) *transition.Session {
	t.Helper()
	s, err := transition.OpenSession(context.Background(), ts.URL+"/", ts.URL, render.New(Templates()), transition.SessionOptions{
		Runtime: runtime.Options{Scheduler: &runtime.ManualScheduler{}, Trace: traces.hook},
	})
	require.NoError(t, err)
	return s
}

func TestDemoScenario(t *testing.T) {
	_, ts := startDemo(t)
	traces := &traceLog{}
	s := openSession(t, ts, traces)
	ctx := context.Background()

	assert.Equal(t, Anchors, sorted(Anchors, s.Runtime.AnchorNames()))
	want := map[string]any{
		AnchorCount:  map[string]any{"value": 0.0},
		AnchorNotice: map[string]any{"text": defaultNotice},
	}
	if diff := cmp.Diff(want, s.Runtime.ActiveStates()); diff != "" {
		t.Fatalf("bootstrap state mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, s.Runtime.IsMounted(AnchorCount))
	assert.False(t, s.Runtime.IsMounted(AnchorChat))

	require.NoError(t, s.Transition(ctx, "counter", map[string]any{"by": 2}))
	assert.Contains(t, s.AnchorHTML(AnchorCount), "<strong>2</strong>")
	assert.False(t, s.Runtime.IsPending(AnchorCount))

	require.NoError(t, s.Transition(ctx, "chat", map[string]any{"prompt": "hi"}))
	chat, ok := s.Runtime.ActiveStates()[AnchorChat].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, strings.Join(reply("hi"), ""), chat["text"])
	assert.Equal(t, "hi", chat["prompt"])
	assert.Contains(t, s.AnchorHTML(AnchorChat), "<strong>hi</strong>")

	require.NoError(t, s.Transition(ctx, "dismiss", nil))
	_, present := s.Runtime.ActiveStates()[AnchorNotice]
	assert.False(t, present)
	assert.Empty(t, s.AnchorHTML(AnchorNotice))
	assert.False(t, s.Runtime.IsMounted(AnchorNotice))

	errorsBefore := traces.count(runtime.TraceError)
	require.NoError(t, s.Transition(ctx, "broken", nil))
	assert.Greater(t, traces.count(runtime.TraceError), errorsBefore)
	assert.Contains(t, s.AnchorHTML(AnchorCount), "<strong>2</strong>")

	require.NoError(t, s.Transition(ctx, "fail", nil))
	want = map[string]any{
		AnchorError: map[string]any{"message": "The demo failed on purpose.", "code": "demo_failure"},
	}
	if diff := cmp.Diff(want, s.Runtime.ActiveStates()); diff != "" {
		t.Fatalf("error state mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, s.AnchorHTML(AnchorError), "demo_failure")
	assert.Empty(t, s.AnchorHTML(AnchorCount))

	require.NoError(t, s.Transition(ctx, "reset", nil))
	want = map[string]any{
		AnchorCount:  map[string]any{"value": 0.0},
		AnchorNotice: map[string]any{"text": defaultNotice},
	}
	if diff := cmp.Diff(want, s.Runtime.ActiveStates()); diff != "" {
		t.Fatalf("reset state mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, s.AnchorHTML(AnchorError))
	assert.Contains(t, s.AnchorHTML(AnchorNotice), "Welcome")
}

func TestChatWithoutPromptRendersError(t *testing.T) {
	_, ts := startDemo(t)
	s := openSession(t, ts, &traceLog{})

	require.NoError(t, s.Transition(context.Background(), "chat", map[string]any{"prompt": "  "}))
	assert.Contains(t, s.AnchorHTML(AnchorError), "Ask something first.")
}

func TestCounterRejectsFractionalStep(t *testing.T) {
	app, ts := startDemo(t)
	s := openSession(t, ts, &traceLog{})

	require.NoError(t, s.Transition(context.Background(), "counter", map[string]any{"by": 1.5}))
	assert.Contains(t, s.AnchorHTML(AnchorError), "must be an integer")
	assert.Equal(t, map[string]any{"value": 0}, app.Snapshot()[AnchorCount])
}

func TestRenderPage(t *testing.T) {
	app := New()
	page, err := RenderPage(context.Background(), render.New(Templates()), app.Snapshot(), "/demo")
	require.NoError(t, err)

	doc, err := dom.ParseString(string(page))
	require.NoError(t, err)
	anchors := doc.Anchors()
	for _, name := range Anchors {
		assert.Contains(t, anchors, name)
	}
	assert.Contains(t, anchors[AnchorCount].HTML(), "<strong>0</strong>")
	assert.Empty(t, anchors[AnchorChat].HTML())

	snapshot, err := doc.Bootstrap()
	require.NoError(t, err)
	assert.Contains(t, snapshot, AnchorNotice)
	assert.Contains(t, string(page), "POST /demo/transition/{name}")
}

func TestReplyTokensRejoin(t *testing.T) {
	tokens := reply("what is this")
	require.NotEmpty(t, tokens)
	assert.False(t, strings.HasPrefix(tokens[0], " "))
	assert.True(t, strings.HasPrefix(tokens[1], " "))
	assert.Contains(t, strings.Join(tokens, ""), "**what is this**")
}

// sorted returns got ordered like ref, so anchor discovery order does not
// matter.
func sorted(ref, got []string) []string {
	set := map[string]bool{}
	for _, g := range got {
		set[g] = true
	}
	var out []string
	for _, r := range ref {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}

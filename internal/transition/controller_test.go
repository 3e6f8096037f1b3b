package transition

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	"git.home.luguber.info/inful/anchorstream/internal/dom"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/render"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
)

type traces struct {
	mu     sync.Mutex
	events []runtime.TraceEvent
}

func (tr *traces) hook(ev runtime.TraceEvent) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, ev)
}

func (tr *traces) errors() []runtime.TraceEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var out []runtime.TraceEvent
	for _, ev := range tr.events {
		if ev.Kind == runtime.TraceError {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	doc    *dom.Document
	rt     *runtime.Runtime
	traces *traces
}

func newHarness(t *testing.T, anchors ...string) *harness {
	t.Helper()
	page := "<html><body>"
	for _, name := range anchors {
		page += `<div data-anchor="` + name + `"></div>`
	}
	doc, err := dom.ParseString(page + "</body></html>")
	require.NoError(t, err)

	h := &harness{doc: doc, traces: &traces{}}
	h.rt = runtime.New(runtime.DocumentSource(doc), render.New(render.NewRegistry(), render.WithFallback(render.Text())), runtime.Options{
		Scheduler: &runtime.ManualScheduler{},
		Trace:     h.traces.hook,
	})
	h.rt.DiscoverAnchors()
	return h
}

func writeFrames(t *testing.T, w http.ResponseWriter, frames ...frame.Frame) {
	t.Helper()
	w.Header().Set("Content-Type", codec.ContentType)
	for _, f := range frames {
		line, err := codec.Encode(f)
		require.NoError(t, err)
		_, _ = w.Write(line)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
	}
}

func TestTransitionStreamsIntoRuntime(t *testing.T) {
	h := newHarness(t, "counter", "other")

	var gotHeaders http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/transition/increment", r.URL.Path)
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeFrames(t, w,
			frame.NewFull(map[string]any{"counter": map[string]any{"value": 1}}),
			frame.NewPartial(map[string]any{"counter": map[string]any{"value": 2}}, nil, nil),
			&frame.Done{},
		)
	}))
	defer srv.Close()

	ctrl := NewController(h.rt, srv.URL+"/app/")
	err := ctrl.Transition(context.Background(), "increment", map[string]any{"by": 1})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, codec.ContentType, gotHeaders.Get("Accept"))
	assert.NotEmpty(t, gotHeaders.Get(HeaderTransitionID))
	assert.Equal(t, map[string]any{"by": float64(1)}, gotBody)

	assert.Equal(t, map[string]any{"counter": map[string]any{"value": float64(2)}}, h.rt.ActiveStates())
	assert.True(t, h.rt.IsMounted("counter"))
	assert.Zero(t, h.rt.QueueLen(), "done drains the queue")
	assert.False(t, h.rt.IsPending("counter"))
	assert.Empty(t, h.traces.errors())
}

func TestPendingUntilFirstFrame(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		pending map[string]bool
	}{
		{"defaults to all anchors", nil, map[string]bool{"a": true, "b": true}},
		{"explicit subset", []Option{WithPendingTargets("b")}, map[string]bool{"a": false, "b": true}},
		{"explicit empty", []Option{WithPendingTargets()}, map[string]bool{"a": false, "b": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "a", "b")
			observed := make(chan map[string]bool, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				observed <- map[string]bool{"a": h.rt.IsPending("a"), "b": h.rt.IsPending("b")}
				writeFrames(t, w, frame.NewFull(map[string]any{"a": 1}), &frame.Done{})
			}))
			defer srv.Close()

			require.NoError(t, NewController(h.rt, srv.URL).Transition(context.Background(), "x", nil, tt.opts...))
			assert.Equal(t, tt.pending, <-observed)
			assert.False(t, h.rt.IsPending("a"))
			assert.False(t, h.rt.IsPending("b"))
		})
	}
}

func TestAbortPrevious(t *testing.T) {
	h := newHarness(t, "a", "b")
	started := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transition/slow":
			writeFrames(t, w, frame.NewFull(map[string]any{"a": "A1"}))
			close(started)
			select {
			case <-release:
			case <-r.Context().Done():
			}
			writeFrames(t, w, frame.NewFull(map[string]any{"a": "A2"}), &frame.Done{})
		case "/transition/fast":
			writeFrames(t, w, frame.NewFull(map[string]any{"b": "B"}), &frame.Done{})
		}
	}))
	defer srv.Close()
	defer close(release)

	ctrl := NewController(h.rt, srv.URL)
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- ctrl.Transition(context.Background(), "slow", nil)
	}()
	<-started
	require.Eventually(t, func() bool { return h.rt.QueueLen() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ctrl.Transition(context.Background(), "fast", nil, WithPendingTargets("b")))

	select {
	case err := <-slowDone:
		assert.NoError(t, err, "cancellation is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("superseded transition did not return")
	}

	assert.Equal(t, map[string]any{"b": "B"}, h.rt.ActiveStates())
	assert.False(t, h.rt.IsPending("a"))
	assert.False(t, h.rt.IsPending("b"))
	assert.Empty(t, h.traces.errors(), "abort is not reported as an error")
}

func TestNon2xxIsTracedTransportError(t *testing.T) {
	h := newHarness(t, "a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown transition","code":"not_found"}`))
	}))
	defer srv.Close()

	err := NewController(h.rt, srv.URL).Transition(context.Background(), "nope", nil)
	require.NoError(t, err)

	errs := h.traces.errors()
	require.Len(t, errs, 1)
	assert.Equal(t, http.StatusNotFound, errs[0].Detail["status"])
	assert.Equal(t, "transport", errs[0].Detail["category"])
	assert.Contains(t, errs[0].Detail["message"], "unknown transition")
	assert.False(t, h.rt.IsPending("a"))
}

func TestNetworkFailureIsTraced(t *testing.T) {
	h := newHarness(t, "a")
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	require.NoError(t, NewController(h.rt, url).Transition(context.Background(), "x", nil))
	require.Len(t, h.traces.errors(), 1)
	assert.False(t, h.rt.IsPending("a"))
}

func TestMalformedStreamIsDecodeError(t *testing.T) {
	h := newHarness(t, "a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFrames(t, w, frame.NewFull(map[string]any{"a": 1}))
		_, _ = w.Write([]byte("{not json\n"))
	}))
	defer srv.Close()

	err := NewController(h.rt, srv.URL).Transition(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDecode))
	assert.Equal(t, 1, h.rt.QueueLen(), "frames before the bad line were accepted")
	require.Len(t, h.traces.errors(), 1)
	assert.False(t, h.rt.IsPending("a"))
}

func TestCallerCancellation(t *testing.T) {
	h := newHarness(t, "a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", codec.ContentType)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	require.NoError(t, NewController(h.rt, srv.URL).Transition(ctx, "x", nil))
	assert.Empty(t, h.traces.errors())
	assert.False(t, h.rt.IsPending("a"))
}

func TestErrorFrameRendersTemplate(t *testing.T) {
	h := newHarness(t, "a", "error")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFrames(t, w, &frame.Error{Message: "boom", Template: "error"})
	}))
	defer srv.Close()

	require.NoError(t, NewController(h.rt, srv.URL).Transition(context.Background(), "x", nil))
	assert.Equal(t, map[string]any{"error": map[string]any{"message": "boom"}}, h.rt.ActiveStates())
	assert.Equal(t, "map[message:boom]", h.doc.Anchors()["error"].HTML())
}

func TestInvalidParams(t *testing.T) {
	h := newHarness(t, "a")
	ctrl := NewController(h.rt, "http://127.0.0.1:1")

	err := ctrl.Transition(context.Background(), "x", []int{1})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	err = ctrl.Transition(context.Background(), "x", map[string]any{"f": func() {}})
	require.Error(t, err)
	assert.False(t, h.rt.IsPending("a"), "nothing is marked for a rejected call")
}

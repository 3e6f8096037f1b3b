// Package demo is a small application built on the state protocol: a
// counter, a streamed chat reply, a dismissible notice and two failure
// cases. The CLI serves it and the headless client drives it.
package demo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

// Anchor names used by the demo page.
const (
	AnchorCount  = "count"
	AnchorNotice = "notice"
	AnchorChat   = "chat"
	AnchorError  = "error"
)

// Anchors lists the demo anchors in page order.
var Anchors = []string{AnchorCount, AnchorNotice, AnchorChat, AnchorError}

const defaultNotice = "Welcome. Every panel on this page is driven by server transitions."

// App holds the demo's server-side state.
type App struct {
	// TokenDelay paces the chat transition between tokens.
	TokenDelay time.Duration

	mu    sync.Mutex
	count int
}

// New returns a demo app with a 50ms chat token delay.
func New() *App {
	return &App{TokenDelay: 50 * time.Millisecond}
}

// Snapshot is the bootstrap state embedded in the page.
func (a *App) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		AnchorCount:  map[string]any{"value": a.count},
		AnchorNotice: map[string]any{"text": defaultNotice},
	}
}

// Register adds the demo transitions to reg.
func (a *App) Register(reg *server.Registry) error {
	for name, h := range map[string]server.HandlerFunc{
		"counter": a.counter,
		"chat":    a.chat,
		"dismiss": a.dismiss,
		"reset":   a.reset,
		"fail":    a.fail,
		"broken":  a.broken,
	} {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// counter adds params.by (default 1) to the counter.
func (a *App) counter(ctx context.Context, params map[string]any, em *server.Emitter) error {
	by := 1
	if raw, ok := params["by"]; ok {
		n, ok := raw.(float64)
		if !ok || n != float64(int(n)) {
			return ferrors.ValidationError("counter: \"by\" must be an integer").
				WithContext("by", raw).
				Build()
		}
		by = int(n)
	}
	a.mu.Lock()
	a.count += by
	value := a.count
	a.mu.Unlock()
	return em.Partial(ctx, map[string]any{AnchorCount: map[string]any{"value": value}}, nil, nil)
}

// chat streams a reply to params.prompt token by token.
func (a *App) chat(ctx context.Context, params map[string]any, em *server.Emitter) error {
	prompt, _ := params["prompt"].(string)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return em.Error(ctx, "Ask something first.", AnchorError, map[string]any{"message": "Ask something first.", "field": "prompt"})
	}

	if err := em.Partial(ctx, map[string]any{AnchorChat: map[string]any{"text": "", "prompt": prompt}}, nil, nil); err != nil {
		return err
	}
	for _, token := range reply(prompt) {
		if err := pause(ctx, a.TokenDelay); err != nil {
			return err
		}
		if err := em.Accumulate(ctx, map[string]any{AnchorChat: map[string]any{"text": token}}); err != nil {
			return err
		}
	}
	return nil
}

// dismiss removes the notice panel.
func (a *App) dismiss(ctx context.Context, _ map[string]any, em *server.Emitter) error {
	return em.Remove(ctx, AnchorNotice)
}

// reset replaces the whole page state with a fresh snapshot.
func (a *App) reset(ctx context.Context, _ map[string]any, em *server.Emitter) error {
	a.mu.Lock()
	a.count = 0
	a.mu.Unlock()
	return em.State(ctx, a.Snapshot())
}

// fail reports an application error into the error panel.
func (a *App) fail(ctx context.Context, params map[string]any, em *server.Emitter) error {
	reason, _ := params["reason"].(string)
	if reason == "" {
		reason = "The demo failed on purpose."
	}
	return em.Error(ctx, reason, AnchorError, map[string]any{"message": reason, "code": "demo_failure"})
}

// broken emits a partial frame whose changed key is missing from states.
func (a *App) broken(ctx context.Context, _ map[string]any, em *server.Emitter) error {
	return em.Emit(ctx, &frame.State{
		States:  map[string]any{AnchorCount: map[string]any{"value": -1}},
		Full:    frame.Bool(false),
		Changed: []string{AnchorCount, "ghost"},
	})
}

// reply produces a deterministic answer, split into whitespace-preserving
// tokens.
func reply(prompt string) []string {
	text := fmt.Sprintf("You asked: **%s**. Streaming replies arrive one token at a time.", prompt)
	var tokens []string
	for i, word := range strings.Fields(text) {
		if i > 0 {
			word = " " + word
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

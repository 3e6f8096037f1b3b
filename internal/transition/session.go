package transition

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/anchorstream/internal/dom"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
)

// SessionOptions configures OpenSession.
type SessionOptions struct {
	HTTPClient *http.Client
	Runtime    runtime.Options
	Recorder   metrics.Recorder
	Logger     *slog.Logger
}

// Session is a headless page: the parsed bootstrap document, the runtime
// bound to its anchors and a controller posting to the page's server.
type Session struct {
	Doc        *dom.Document
	Runtime    *runtime.Runtime
	Controller *Controller
}

// OpenSession fetches pageURL, discovers its anchors and hydrates them from
// the embedded bootstrap snapshot. Transitions are posted below baseURL.
func OpenSession(ctx context.Context, pageURL, baseURL string, renderer runtime.Renderer, opts SessionOptions) (*Session, error) {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid page URL").
			WithContext("url", pageURL).
			Build()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "fetch page").
			WithContext("url", pageURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.TransportError(fmt.Sprintf("fetch page: %s", resp.Status)).
			WithContext("url", pageURL).
			WithContext("status", resp.StatusCode).
			Build()
	}

	doc, err := dom.Parse(resp.Body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDecode, "parse page").Build()
	}
	snapshot, err := doc.Bootstrap()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDecode, "read bootstrap snapshot").Build()
	}

	rtOpts := opts.Runtime
	if rtOpts.Recorder == nil {
		rtOpts.Recorder = opts.Recorder
	}
	if rtOpts.Logger == nil {
		rtOpts.Logger = logger
	}
	rt := runtime.New(runtime.DocumentSource(doc), renderer, rtOpts)
	rt.DiscoverAnchors()
	rt.Hydrate(snapshot)

	ctrl := NewController(rt, baseURL,
		WithHTTPClient(client),
		WithRecorder(opts.Recorder),
		WithLogger(logger))
	return &Session{Doc: doc, Runtime: rt, Controller: ctrl}, nil
}

// Transition runs one transition and drains the runtime queue afterwards.
func (s *Session) Transition(ctx context.Context, name string, params any, opts ...Option) error {
	err := s.Controller.Transition(ctx, name, params, opts...)
	s.Runtime.FlushAll()
	return err
}

// AnchorHTML returns the current inner HTML of the named anchor, or "" when
// the page has no such anchor.
func (s *Session) AnchorHTML(name string) string {
	el, ok := s.Doc.Anchors()[name]
	if !ok {
		return ""
	}
	return el.HTML()
}

// Package metrics provides the observability hooks for frame intake,
// flushing, transitions and server-side emission.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	rt := runtime.New(source, renderer, runtime.Options{
//	    Recorder: metrics.NewPrometheusRecorder(registry),
//	})
//
// PrometheusRecorder is the only real implementation; HTTPHandler exposes
// its registry for scraping.
package metrics

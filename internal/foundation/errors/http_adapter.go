package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

var statusByCategory = map[ErrorCategory]int{
	CategoryValidation:  http.StatusBadRequest,
	CategoryConfig:      http.StatusBadRequest,
	CategoryProtocol:    http.StatusBadRequest,
	CategoryDecode:      http.StatusBadRequest,
	CategoryNotFound:    http.StatusNotFound,
	CategoryTransport:   http.StatusBadGateway,
	CategoryApplication: http.StatusUnprocessableEntity,
	CategoryRuntime:     http.StatusServiceUnavailable,
	CategoryInternal:    http.StatusInternalServerError,
}

// HTTPErrorAdapter writes JSON error responses for requests that fail
// before a transition stream starts.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates an adapter; a nil logger uses slog.Default.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the JSON error payload.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor maps err to an HTTP status. Unclassified errors are 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := statusByCategory[CategoryOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Payload converts err into the response body. Internal errors hide their
// context.
func (a *HTTPErrorAdapter) Payload(err error) HTTPErrorResponse {
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: "internal error", Code: string(CategoryInternal)}
	}
	resp := HTTPErrorResponse{Error: c.Message(), Code: string(c.Category()), Retryable: c.CanRetry()}
	if len(c.Context()) > 0 && c.Category() != CategoryInternal {
		resp.Details = map[string]any(c.Context())
	}
	return resp
}

// WriteErrorResponse writes err as JSON and logs it. 5xx responses log at
// error level, everything else at warn.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	body, jerr := json.Marshal(a.Payload(err))
	if jerr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.logger.LogAttrs(r.Context(), level, "Request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
}

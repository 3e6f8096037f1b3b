// Package responses defines API response types used by anchorstream HTTP handlers.
package responses

import "time"

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Uptime      float64   `json:"uptime"`
	Transitions int       `json:"transitions"`
}

// TransitionsResponse lists the transitions a server accepts.
type TransitionsResponse struct {
	Transitions []TransitionInfo `json:"transitions"`
}

// TransitionInfo describes one registered transition.
type TransitionInfo struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Remote   bool   `json:"remote,omitempty"`
}

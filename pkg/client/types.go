package client

import "time"

// StartResponse is returned by POST /node/start.
type StartResponse struct {
	OK   bool `json:"ok"`
	Port int  `json:"port"`
	PID  int  `json:"pid,omitempty"`
}

// StopResponse reports which shutdown tier ended the node.
// Method is one of none, graceful, forced or failed.
type StopResponse struct {
	OK            bool   `json:"ok"`
	Method        string `json:"method"`
	GracefulError string `json:"graceful_error,omitempty"`
	ForceError    string `json:"force_error,omitempty"`
}

// Ghost is the outcome of reclaiming one port.
type Ghost struct {
	Port      int    `json:"port"`
	PID       int    `json:"pid,omitempty"`
	Outcome   string `json:"outcome"`
	Method    string `json:"method"`
	StopError string `json:"stop_error,omitempty"`
	KillError string `json:"kill_error,omitempty"`
}

// KillGhostsResponse lists every probed port. Skipped is set in dev mode.
type KillGhostsResponse struct {
	OK      bool    `json:"ok"`
	Skipped bool    `json:"skipped,omitempty"`
	Ghosts  []Ghost `json:"ghosts,omitempty"`
}

// Exit describes how the node last exited.
type Exit struct {
	Code  int       `json:"code"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// NodeStatus is the supervisor's view of the node.
type NodeStatus struct {
	State     string    `json:"state"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	LastExit  *Exit     `json:"last_exit,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

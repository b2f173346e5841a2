package tequilapi

import "fmt"

// Health is the payload of GET /healthcheck.
type Health struct {
	Uptime    string    `json:"uptime"`
	Process   int       `json:"process"` // PID of the node; 0 when not reported
	Version   string    `json:"version"`
	BuildInfo BuildInfo `json:"buildInfo"`
}

type BuildInfo struct {
	Commit      string `json:"commit"`
	Branch      string `json:"branch"`
	BuildNumber string `json:"buildNumber"`
}

// errorResponse accepts both the legacy {"message": ...} body and the
// newer {"error": {"code": ..., "message": ...}} body.
type errorResponse struct {
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r errorResponse) text() string {
	if r.Error != nil && r.Error.Message != "" {
		if r.Error.Code != "" {
			return r.Error.Code + ": " + r.Error.Message
		}
		return r.Error.Message
	}
	return r.Message
}

// APIError is a non-2xx answer from the control plane.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// Is makes every APIError match ErrRejected.
func (e *APIError) Is(target error) bool { return target == ErrRejected }

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:44060/api"
	DefaultTimeout = 15 * time.Second
)

// Client provides HTTP client functionality to communicate with the nodesup daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// APIError is a non-200 answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// New creates a new nodesup API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil)
	c.logger.Debug("Daemon reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// StartNode launches the node. A zero port uses the daemon's configured port.
func (c *Client) StartNode(ctx context.Context, port int) (StartResponse, error) {
	path := "/node/start"
	if port != 0 {
		path += "?" + url.Values{"port": {strconv.Itoa(port)}}.Encode()
	}
	var out StartResponse
	err := c.do(ctx, http.MethodPost, path, &out)
	return out, err
}

// StopNode shuts the node down. The daemon always answers OK; see Method.
func (c *Client) StopNode(ctx context.Context) (StopResponse, error) {
	var out StopResponse
	err := c.do(ctx, http.MethodPost, "/node/stop", &out)
	return out, err
}

// KillGhosts asks the daemon to reclaim nodes left from earlier sessions.
func (c *Client) KillGhosts(ctx context.Context) (KillGhostsResponse, error) {
	var out KillGhostsResponse
	err := c.do(ctx, http.MethodPost, "/node/kill-ghosts", &out)
	return out, err
}

// Status returns the supervisor's view of the node.
func (c *Client) Status(ctx context.Context) (NodeStatus, error) {
	var out NodeStatus
	err := c.do(ctx, http.MethodGet, "/node/status", &out)
	return out, err
}

// do performs an HTTP request and decodes a 200 body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Message = errorResp.Error
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return apiErr
}

// IsAPIError reports whether err is an error answer from the daemon.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

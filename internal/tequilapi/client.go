package tequilapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 3 * time.Second

var (
	// ErrUnreachable covers transport failures: refused connections and timeouts.
	ErrUnreachable = errors.New("control plane unreachable")
	// ErrRejected covers error responses and unreadable payloads.
	ErrRejected = errors.New("control plane rejected request")
)

// Client talks to the node's control plane.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger // Optional logger for client operations
	HTTPClient *http.Client // Optional; Timeout is ignored when set
}

// BaseURL returns the loopback control-plane address for port.
func BaseURL(port int) string { return fmt.Sprintf("http://127.0.0.1:%d", port) }

// New creates a control-plane client.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  hc,
		logger:  config.Logger,
	}
}

// ForPort is shorthand for New with BaseURL(port).
func ForPort(port int, timeout time.Duration, logger *slog.Logger) *Client {
	return New(Config{BaseURL: BaseURL(port), Timeout: timeout, Logger: logger})
}

// URL returns the base URL this client targets.
func (c *Client) URL() string { return c.baseURL }

// HealthCheck fetches the node's health. The caller bounds it with ctx.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	var h Health
	resp, err := c.do(ctx, http.MethodGet, "/healthcheck")
	if err != nil {
		return h, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return h, c.handleErrorResponse("healthcheck", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("%w: decode healthcheck: %w", ErrRejected, err)
	}
	c.logger.Debug("Control plane healthy", "url", c.baseURL, "pid", h.Process, "version", h.Version)
	return h, nil
}

// Stop asks the node to shut itself down.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/stop")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse("stop", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("Control plane accepted stop", "url", c.baseURL, "status", resp.StatusCode)
	return nil
}

// do performs an HTTP request and maps transport errors to ErrUnreachable.
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Control plane request failed", "method", method, "url", url, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, url, err)
	}
	return resp, nil
}

// handleErrorResponse converts a non-2xx response into an *APIError.
func (c *Client) handleErrorResponse(op string, resp *http.Response) error {
	apiErr := &APIError{Op: op, Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		apiErr.Message = er.text()
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	c.logger.Debug("Control plane returned error", "op", op, "status", resp.StatusCode, "message", apiErr.Message)
	return apiErr
}

// Package hostagent talks to the small HTTP agent that runs on every bot host.
package hostagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/model"
)

// Per-endpoint deadlines.
const (
	HealthTimeout  = 5 * time.Second
	SignalTimeout  = 5 * time.Second
	StatusTimeout  = 5 * time.Second
	ControlTimeout = 10 * time.Second
	RestartTimeout = 15 * time.Second
	BalanceTimeout = 15 * time.Second
	UpdateTimeout  = 60 * time.Second
)

// ErrInvalidSignalEndpoint is returned when /signal-check answers with a body
// that lacks signalExists.
var ErrInvalidSignalEndpoint = errors.New("signal-check response lacks signalExists")

// StatusError is a non-2xx answer from the agent.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Client issues requests to host agents. Each call carries its own deadline on
// top of the caller's context.
type Client struct {
	port       int
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient returns a client that reaches agents on port. Port 80 yields
// plain http://{ip}/ URLs.
func NewClient(port int, logger zerolog.Logger) *Client {
	return &Client{
		port: port,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger.With().Str("component", "hostagent").Logger(),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Port returns the agent port this client targets.
func (c *Client) Port() int {
	return c.port
}

// OnPort returns a copy of the client targeting a different agent port.
func (c *Client) OnPort(port int) *Client {
	cp := *c
	cp.port = port
	return &cp
}

// BaseURL returns the agent root URL for ip.
func (c *Client) BaseURL(ip string) string {
	if c.port == 80 || c.port == 0 {
		return "http://" + ip
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(c.port))
}

// HealthResult is the outcome of a /health call.
type HealthResult struct {
	Latency time.Duration
	Metrics *model.Metrics
}

// Health fetches /health and normalizes the payload. A 2xx body that is not
// JSON still counts as reachable, with nil Metrics.
func (c *Client) Health(ctx context.Context, ip string, timeout time.Duration) (*HealthResult, error) {
	start := time.Now()
	body, err := c.do(ctx, ip, http.MethodGet, "/health", nil, timeout)
	res := &HealthResult{Latency: time.Since(start)}
	if err != nil {
		return res, err
	}
	if m, err := Normalize(body); err == nil {
		res.Metrics = &m
	} else {
		c.logger.Debug().Err(err).Str("ip", ip).Msg("health payload not normalizable")
	}
	return res, nil
}

// SignalCheck fetches /signal-check.
func (c *Client) SignalCheck(ctx context.Context, ip string) (*SignalCheck, error) {
	body, err := c.do(ctx, ip, http.MethodGet, "/signal-check", nil, SignalTimeout)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, ErrInvalidSignalEndpoint
	}
	if _, ok := probe["signalExists"]; !ok {
		return nil, ErrInvalidSignalEndpoint
	}
	var sc SignalCheck
	if err := json.Unmarshal(body, &sc); err != nil {
		return nil, ErrInvalidSignalEndpoint
	}
	return &sc, nil
}

// Status fetches /status.
func (c *Client) Status(ctx context.Context, ip string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, ip, http.MethodGet, "/status", nil, StatusTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Control posts a lifecycle action to /control. Restart uses the longer
// restart deadline.
func (c *Client) Control(ctx context.Context, ip string, req ControlRequest) (*ControlResponse, error) {
	timeout := ControlTimeout
	if req.Action == ActionRestart {
		timeout = RestartTimeout
	}
	var out ControlResponse
	if err := c.doJSON(ctx, ip, http.MethodPost, "/control", req, timeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance asks the agent to read an exchange balance. The agent answers 2xx
// with success=false for exchange-side errors.
func (c *Client) Balance(ctx context.Context, ip string, req BalanceRequest) (*BalanceResponse, error) {
	var out BalanceResponse
	if err := c.doJSON(ctx, ip, http.MethodPost, "/balance", req, BalanceTimeout, &out); err != nil {
		var se *StatusError
		if errors.As(err, &se) && json.Unmarshal([]byte(se.Body), &out) == nil && out.Error != "" {
			return &out, nil
		}
		return nil, err
	}
	return &out, nil
}

// UpdateBot pushes new bot source to the agent.
func (c *Client) UpdateBot(ctx context.Context, ip string, req UpdateRequest) (*UpdateResponse, error) {
	var out UpdateResponse
	if err := c.doJSON(ctx, ip, http.MethodPost, "/update-bot", req, UpdateTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PingExchanges returns the agent's latency readings to each exchange.
func (c *Client) PingExchanges(ctx context.Context, ip string) (*PingResponse, error) {
	var out PingResponse
	if err := c.doJSON(ctx, ip, http.MethodGet, "/ping-exchanges", nil, BalanceTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, ip, method, path string, payload any, timeout time.Duration, out any) error {
	body, err := c.do(ctx, ip, method, path, payload, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode agent %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, ip, method, path string, payload any, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode agent %s request: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL(ip)+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent %s %s: %w", ip, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read agent %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

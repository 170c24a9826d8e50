// Package botctl is the operator client for the control API.
package botctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// NewClient returns a client for the control API at baseURL. Lifecycle and
// migration calls wait on hosts, so the timeout is generous.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Response, error) {
	url := c.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	r := &Response{
		StatusCode: resp.StatusCode,
		Body:       json.RawMessage(respBody),
	}

	if resp.StatusCode >= 400 {
		return r, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errorMessage(respBody))
	}

	return r, nil
}

// Call sends a request and applies check to a 2xx body. The body is
// returned alongside any error so it can still be printed.
func (c *Client) Call(ctx context.Context, method, path string, body any, check Check) (json.RawMessage, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		if resp != nil {
			return resp.Body, err
		}
		return nil, err
	}
	if check == nil {
		return resp.Body, nil
	}
	return resp.Body, check(resp.Body)
}

// errorMessage pulls the error field out of a failure body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var f struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &f) == nil && f.Error != "" {
		return f.Error
	}
	return string(body)
}

// Login exchanges the operator password for a session token.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	resp, err := c.Post(ctx, "/auth/login", map[string]string{"password": password})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}
	return out.Token, nil
}

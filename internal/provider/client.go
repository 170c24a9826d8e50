package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/edvin/botplane/internal/metrics"
)

// Retry policy for Transient failures.
var (
	RetryBase  = 250 * time.Millisecond
	RetryCap   = 8 * time.Second
	RetryTries = 5
)

var (
	limitersMu sync.Mutex
	limiters   = map[string]*rate.Limiter{}
)

// limiterFor returns the process-wide limiter for a provider. Providers
// throttle per account, so all adapters of one provider share a budget.
func limiterFor(name string) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		limiters[name] = l
	}
	return l
}

// caller wraps every provider API call with rate limiting, transient retry
// and metrics.
type caller struct {
	name    string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newCaller(name string, logger zerolog.Logger) caller {
	return caller{
		name:    name,
		limiter: limiterFor(name),
		logger:  logger.With().Str("component", "provider").Str("provider", name).Logger(),
	}
}

func (c caller) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(RetryBase)
	b = retry.WithCappedDuration(RetryCap, b)
	b = retry.WithMaxRetries(uint64(RetryTries-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if KindOf(err) == KindTransient {
			c.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient provider error")
			return retry.RetryableError(err)
		}
		return err
	})

	kind := "ok"
	if err != nil {
		kind = string(KindOf(err))
		if kind == "" {
			kind = "error"
		}
	}
	metrics.ProviderCalls.WithLabelValues(c.name, op, kind).Inc()
	return err
}

// restClient is a small JSON-over-HTTP client shared by the REST providers.
type restClient struct {
	caller
	baseURL    string
	httpClient *http.Client
	authorize  func(ctx context.Context, req *http.Request) error
}

// do sends in as JSON (when non-nil) and decodes the answer into out (when
// non-nil). Non-2xx answers become *Error.
func (r *restClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s: %w", op, err)
		}
	}

	return r.call(ctx, op, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("%s request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.authorize != nil {
			if err := r.authorize(ctx, req); err != nil {
				return err
			}
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Kind: KindTransient, Provider: r.name, Op: op, Err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return &Error{Kind: KindTransient, Provider: r.name, Op: op, Status: resp.StatusCode, Err: err}
		}
		if resp.StatusCode >= 300 {
			return &Error{
				Kind:     kindForStatus(resp.StatusCode, string(respBody)),
				Provider: r.name,
				Op:       op,
				Status:   resp.StatusCode,
				Err:      errors.New(truncate(string(respBody), 512)),
			}
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
		return nil
	})
}

func bearer(token string) func(context.Context, *http.Request) error {
	return func(_ context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

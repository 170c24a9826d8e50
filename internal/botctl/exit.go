package botctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitUsage           = 1
	ExitPreflightDenied = 2
	ExitHostUnreachable = 3
	ExitProviderError   = 4
)

// ExitError carries the exit code a failed command should end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Exit maps a command error to its exit code. Errors without a code are
// usage or transport failures.
func Exit(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitUsage
}

// Check inspects a 2xx response body and returns an ExitError when the
// control plane reported a failure.
type Check func(body json.RawMessage) error

type outcome struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	VPSReachable *bool    `json:"vpsReachable"`
	Healthy      *bool    `json:"healthy"`
	Reasons      []string `json:"reasons"`
}

func parse(body json.RawMessage) (outcome, error) {
	var o outcome
	if err := json.Unmarshal(body, &o); err != nil {
		return o, fmt.Errorf("parse response: %w", err)
	}
	return o, nil
}

func (o outcome) reason() string {
	switch {
	case o.Error != "":
		return o.Error
	case o.Message != "":
		return o.Message
	default:
		return "request failed"
	}
}

// CheckSuccess fails with code when success is false.
func CheckSuccess(code int) Check {
	return func(body json.RawMessage) error {
		o, err := parse(body)
		if err != nil {
			return err
		}
		if !o.Success {
			return &ExitError{Code: code, Err: errors.New(o.reason())}
		}
		return nil
	}
}

// CheckLifecycle reports a preflight denial and an unreachable host
// separately from other lifecycle failures.
func CheckLifecycle(body json.RawMessage) error {
	o, err := parse(body)
	if err != nil {
		return err
	}
	if o.Success {
		return nil
	}
	if len(o.Reasons) > 0 {
		return &ExitError{Code: ExitPreflightDenied, Err: fmt.Errorf("preflight denied: %s", strings.Join(o.Reasons, "; "))}
	}
	if o.VPSReachable != nil && !*o.VPSReachable {
		return &ExitError{Code: ExitHostUnreachable, Err: errors.New(o.reason())}
	}
	return &ExitError{Code: ExitUsage, Err: errors.New(o.reason())}
}

// CheckHealth fails when the probed host is not healthy.
func CheckHealth(body json.RawMessage) error {
	o, err := parse(body)
	if err != nil {
		return err
	}
	if o.Healthy == nil || !*o.Healthy {
		return &ExitError{Code: ExitHostUnreachable, Err: fmt.Errorf("host unhealthy: %s", o.reason())}
	}
	return nil
}

// CheckPreflight fails with the denial reasons.
func CheckPreflight(body json.RawMessage) error {
	o, err := parse(body)
	if err != nil {
		return err
	}
	if !o.Success {
		return &ExitError{Code: ExitPreflightDenied, Err: fmt.Errorf("preflight denied: %s", strings.Join(o.Reasons, "; "))}
	}
	return nil
}

// Package sshrun executes one-shot shell commands on bot hosts.
package sshrun

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Runner dials a host, runs a single command and disconnects.
type Runner struct {
	user   string
	port   string
	auth   Auth
	logger zerolog.Logger
}

func NewRunner(user string, auth Auth, logger zerolog.Logger) *Runner {
	return &Runner{
		user:   user,
		port:   "22",
		auth:   auth,
		logger: logger.With().Str("component", "sshrun").Logger(),
	}
}

// WithPort overrides the SSH port.
func (r *Runner) WithPort(port string) *Runner {
	r.port = port
	return r
}

// ExitError carries the remote exit status and combined output.
type ExitError struct {
	Status int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.Status, e.Output)
}

// Run executes cmd on ip and returns combined stdout and stderr. The
// connection is torn down when ctx ends.
func (r *Runner) Run(ctx context.Context, ip, cmd string) (string, error) {
	signer, err := r.auth.Signer(r.user)
	if err != nil {
		return "", fmt.Errorf("ssh credentials for %s: %w", ip, err)
	}

	addr := net.JoinHostPort(ip, r.port)
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = tcpConn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            r.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		tcpConn.Close()
		return "", fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session %s: %w", addr, err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	r.logger.Debug().Str("ip", ip).Msg("running remote command")
	if err := session.Run(cmd); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return out.String(), &ExitError{Status: exitErr.ExitStatus(), Output: out.String()}
		}
		if ctx.Err() != nil {
			return out.String(), fmt.Errorf("run on %s: %w", ip, ctx.Err())
		}
		return out.String(), fmt.Errorf("run on %s: %w", ip, err)
	}
	return out.String(), nil
}

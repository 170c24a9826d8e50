package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/sshrun"
)

// Command is one lifecycle action for a host.
type Command struct {
	Action string
	Env    map[string]string
}

// transport delivers a Command to a host. The driver tries transports in
// order and stops at the first success.
type transport interface {
	name() string
	apply(ctx context.Context, ip string, cmd Command) error
}

// hostAnswered marks a failure the host itself reported, as opposed to one
// where it could not be reached.
type hostAnswered struct{ error }

func (e hostAnswered) Unwrap() error { return e.error }

// reachedHost reports whether any transport behind err got an answer.
func reachedHost(err error) bool {
	var answered hostAnswered
	return errors.As(err, &answered)
}

// httpTransport drives the agent's /control endpoint.
type httpTransport struct {
	agent Agent
}

func (t *httpTransport) name() string { return "http" }

func (t *httpTransport) apply(ctx context.Context, ip string, cmd Command) error {
	req := hostagent.ControlRequest{Action: cmd.Action, Env: cmd.Env}
	if cmd.Action != hostagent.ActionStop {
		req.CreateSignal = true
	}
	resp, err := t.agent.Control(ctx, ip, req)
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		if resp.Error != "" {
			return hostAnswered{fmt.Errorf("agent refused %s: %s", cmd.Action, resp.Error)}
		}
		return hostAnswered{fmt.Errorf("agent refused %s", cmd.Action)}
	}
	return t.verifySignal(ctx, ip, cmd.Action != hostagent.ActionStop)
}

// verifySignal confirms the start-signal file matches the action. When the
// agent cannot report the signal state the control response is trusted.
func (t *httpTransport) verifySignal(ctx context.Context, ip string, want bool) error {
	sc, err := t.agent.SignalCheck(ctx, ip)
	if err != nil {
		return nil
	}
	if sc.SignalExists != want {
		if want {
			return hostAnswered{errors.New("agent acknowledged start but the start signal is missing")}
		}
		return hostAnswered{errors.New("agent acknowledged stop but the start signal is still present")}
	}
	return nil
}

// sshTransport manipulates the start-signal file and container directly.
type sshTransport struct {
	shell      Shell
	signalPath string
	container  string
}

func (t *sshTransport) name() string { return "ssh" }

func (t *sshTransport) apply(ctx context.Context, ip string, cmd Command) error {
	if t.shell == nil {
		return errors.New("ssh fallback not configured")
	}
	script, err := t.script(cmd, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := t.shell.Run(ctx, ip, script); err != nil {
		var exit *sshrun.ExitError
		if errors.As(err, &exit) {
			return hostAnswered{err}
		}
		return err
	}
	return nil
}

// script renders the shell program for cmd. The final test makes the
// command fail unless the signal file ends in the expected state.
func (t *sshTransport) script(cmd Command, now time.Time) (string, error) {
	signal := shellQuote(t.signalPath)
	dir := shellQuote(path.Dir(t.signalPath))
	container := shellQuote(t.container)

	var b strings.Builder
	b.WriteString("set -e\n")
	switch cmd.Action {
	case hostagent.ActionStop:
		fmt.Fprintf(&b, "rm -f %s\n", signal)
		fmt.Fprintf(&b, "docker stop %s >/dev/null 2>&1 || true\n", container)
		fmt.Fprintf(&b, "test ! -e %s\n", signal)
	case hostagent.ActionStart, hostagent.ActionRestart:
		fmt.Fprintf(&b, "mkdir -p %s\n", dir)
		if len(cmd.Env) > 0 {
			envFile, err := hostagent.EncodeEnvFile(cmd.Env)
			if err != nil {
				return "", err
			}
			encoded := base64.StdEncoding.EncodeToString([]byte(envFile))
			fmt.Fprintf(&b, "printf '%%s' %s | base64 -d > %s\n",
				shellQuote(encoded), shellQuote(path.Join(path.Dir(t.signalPath), "bot.env")))
		}
		if cmd.Action == hostagent.ActionRestart {
			fmt.Fprintf(&b, "rm -f %s\n", signal)
		}
		payload := fmt.Sprintf(`{"created_by":"botplane","action":%q,"created_at":%q}`, cmd.Action, now.Format(time.RFC3339))
		fmt.Fprintf(&b, "printf '%%s' %s > %s\n", shellQuote(payload), signal)
		fmt.Fprintf(&b, "docker restart %s >/dev/null 2>&1 || docker start %s >/dev/null 2>&1 || true\n", container, container)
		fmt.Fprintf(&b, "test -f %s\n", signal)
	default:
		return "", fmt.Errorf("unknown action %q", cmd.Action)
	}
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package hostagent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAgent starts an httptest server and returns a client pointed at it along
// with the IP to pass to client calls.
func newAgent(t *testing.T, h http.Handler) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewClient(port, zerolog.Nop()), host
}

func TestClient_BaseURL(t *testing.T) {
	assert.Equal(t, "http://203.0.113.9", NewClient(80, zerolog.Nop()).BaseURL("203.0.113.9"))
	assert.Equal(t, "http://203.0.113.9:8080", NewClient(8080, zerolog.Nop()).BaseURL("203.0.113.9"))
}

func TestClient_Health(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok","cpu":[0.5,0.4,0.3],"memory":{"percent":20}}`))
	}))

	res, err := c.Health(context.Background(), ip, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 50.0, res.Metrics.CPUPercent)
	assert.Equal(t, 20.0, res.Metrics.RAMPercent)
}

func TestClient_Health_Non2xx(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := c.Health(context.Background(), ip, time.Second)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestClient_Health_Deadline(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))

	start := time.Now()
	res, err := c.Health(context.Background(), ip, 100*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, res.Latency, 100*time.Millisecond)
}

func TestClient_SignalCheck(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"signalExists":true,"dockerRunning":true}`))
	}))

	sc, err := c.SignalCheck(context.Background(), ip)
	require.NoError(t, err)
	assert.True(t, sc.SignalExists)
	require.NotNil(t, sc.DockerRunning)
	assert.True(t, *sc.DockerRunning)
}

func TestClient_SignalCheck_InvalidShape(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))

	_, err := c.SignalCheck(context.Background(), ip)
	assert.ErrorIs(t, err, ErrInvalidSignalEndpoint)
}

func TestClient_Control_SendsEnv(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req ControlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ActionStart, req.Action)
		assert.True(t, req.CreateSignal)
		assert.Equal(t, "paper", req.Env["MODE"])
		w.Write([]byte(`{"success":true,"signalCreated":true,"action":"start"}`))
	}))

	resp, err := c.Control(context.Background(), ip, ControlRequest{
		Action: ActionStart, CreateSignal: true, Env: map[string]string{"MODE": "paper"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
}

func TestClient_Balance_ErrorBodyOnNon2xx(t *testing.T) {
	c, ip := newAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"code -2015 Invalid API-key, IP, or permissions"}`))
	}))

	resp, err := c.Balance(context.Background(), ip, BalanceRequest{Exchange: "binance"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "-2015")
}

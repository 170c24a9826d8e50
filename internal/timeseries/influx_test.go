package timeseries

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
)

func TestWriteHealth(t *testing.T) {
	var body, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/write", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		body, query = string(b), r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ix := NewInflux(srv.URL, "secret", "ops", "botplane")
	defer ix.Close()

	at := time.Unix(1700000000, 0)
	err := ix.WriteHealth(context.Background(), HealthPoint{
		IP: "10.0.0.1", Provider: "vultr", Healthy: true, LatencyMS: 42,
		Metrics: &model.Metrics{CPUPercent: 12.5},
		At:      at,
	})
	require.NoError(t, err)

	assert.Contains(t, query, "bucket=botplane")
	assert.Contains(t, query, "org=ops")
	assert.Contains(t, body, "vps_health,ip=10.0.0.1,provider=vultr ")
	assert.Contains(t, body, "healthy=true")
	assert.Contains(t, body, "latency_ms=42i")
	assert.Contains(t, body, "cpu_percent=12.5")
}

func TestWriteHealth_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized","message":"bad token"}`))
	}))
	defer srv.Close()

	ix := NewInflux(srv.URL, "wrong", "ops", "botplane")
	defer ix.Close()

	err := ix.WriteHealth(context.Background(), HealthPoint{IP: "10.0.0.1", Provider: "vultr", At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10.0.0.1")
}

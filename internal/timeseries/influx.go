// Package timeseries mirrors probe readings into InfluxDB for charting.
package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/edvin/botplane/internal/model"
)

const measurement = "vps_health"

// HealthPoint is one scheduled probe of one host.
type HealthPoint struct {
	IP                  string
	Provider            string
	Healthy             bool
	LatencyMS           int
	ConsecutiveFailures int
	Metrics             *model.Metrics
	At                  time.Time
}

type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	return &Influx{client: client, write: client.WriteAPIBlocking(org, bucket)}
}

// WriteHealth writes p as a vps_health point tagged by host and provider.
func (i *Influx) WriteHealth(ctx context.Context, p HealthPoint) error {
	pt := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("ip", p.IP).
		AddTag("provider", p.Provider).
		AddField("healthy", p.Healthy).
		AddField("latency_ms", p.LatencyMS).
		AddField("consecutive_failures", p.ConsecutiveFailures).
		SetTime(p.At)
	if m := p.Metrics; m != nil {
		pt.AddField("cpu_percent", m.CPUPercent).
			AddField("ram_percent", m.RAMPercent).
			AddField("disk_percent", m.DiskPercent).
			AddField("uptime_seconds", m.UptimeSeconds)
	}
	if err := i.write.WritePoint(ctx, pt); err != nil {
		return fmt.Errorf("write %s point for %s: %w", measurement, p.IP, err)
	}
	return nil
}

func (i *Influx) Close() {
	i.client.Close()
}

// Package influx periodically writes the scene counters to InfluxDB.
package influx

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"holding-parade/server/internal/telemetry"
)

const (
	measurement         = "parade_scene"
	defaultInterval     = 10 * time.Second
	defaultPingTimeout  = 5 * time.Second
	flushIntervalMillis = 1000
)

var ErrConnectionFailed = errors.New("influx: connection failed")

type Options struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Interval time.Duration
	Tags     map[string]string
}

// Source is a counter table, normally *logging.Metrics.
type Source interface {
	Snapshot() map[string]uint64
}

// Exporter writes one point per interval. Writes are batched and
// non-blocking; failures reach the logger asynchronously.
type Exporter struct {
	opts     Options
	source   Source
	logger   telemetry.Logger
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect pings the server before returning an exporter.
func Connect(ctx context.Context, opts Options, source Source, logger telemetry.Logger) (*Exporter, error) {
	if logger == nil {
		logger = telemetry.Discard()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().SetFlushInterval(flushIntervalMillis))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, errors.Mark(errors.Wrapf(err, "ping %s", opts.URL), ErrConnectionFailed)
	}
	if !healthy {
		client.Close()
		return nil, errors.Mark(errors.Newf("%s is not healthy", opts.URL), ErrConnectionFailed)
	}

	e := &Exporter{
		opts:     opts,
		source:   source,
		logger:   logger,
		client:   client,
		writeAPI: client.WriteAPI(opts.Org, opts.Bucket),
	}
	go func() {
		for err := range e.writeAPI.Errors() {
			logger.Printf("[influx] write failed: %v", err)
		}
	}()
	return e, nil
}

// Run exports until ctx is done, then flushes and closes the client.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Interval)
	defer func() {
		ticker.Stop()
		e.writeAPI.Flush()
		e.client.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if point := newPoint(e.source.Snapshot(), e.opts.Tags, now); point != nil {
				e.writeAPI.WritePoint(point)
			}
		}
	}
}

// newPoint returns nil when there is nothing to report.
func newPoint(counters map[string]uint64, tags map[string]string, now time.Time) *write.Point {
	if len(counters) == 0 {
		return nil
	}
	fields := make(map[string]any, len(counters))
	for key, value := range counters {
		fields[key] = value
	}
	return write.NewPoint(measurement, tags, fields, now)
}

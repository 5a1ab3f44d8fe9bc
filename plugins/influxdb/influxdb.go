package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	api "github.com/influxdata/influxdb-client-go/v2/api"

	"netmon/pkg/plugin"
)

type InfluxOutput struct {
	name     string
	url      string
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	tags     map[string]string
}

func init() {
	plugin.RegisterOutput("influxdb", New)
}

func New(cfg plugin.OutputConfig) (plugin.Output, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxdb output needs url, org and bucket")
	}
	name := cfg.Name
	if name == "" {
		name = "influxdb"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxOutput{
		name:     name,
		url:      cfg.URL,
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		tags:     cfg.Tags,
	}, nil
}

func (o *InfluxOutput) Name() string { return o.name }

// Start checks the server is reachable. Failure is reported but writes are
// still attempted later.
func (o *InfluxOutput) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := o.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", o.url, err)
	}
	if !ok {
		return fmt.Errorf("ping %s: server not ready", o.url)
	}
	return nil
}

// Write stores p as one point.
func (o *InfluxOutput) Write(ctx context.Context, p plugin.Point) error {
	fields := make(map[string]interface{}, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	point := influxdb2.NewPoint(p.Measurement, o.tags, fields, p.Time)
	if err := o.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (o *InfluxOutput) Stop() error {
	o.client.Close()
	return nil
}

package prometheus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/analytics"
)

// Package prometheus reads metric history from a Prometheus server.
//
// Responsibilities:
//   - Run PromQL range queries over the Prometheus HTTP API
//   - Collapse multi-series matrices into one averaged series
//   - Report server reachability for engine initialization

// MetricSource provides metric history.
type MetricSource interface {
	// QueryRange evaluates a PromQL expression over [start, end] at step resolution.
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]analytics.DataPoint, error)

	// Ping checks that the source is reachable.
	Ping(ctx context.Context) error
}

// Client is a MetricSource backed by the Prometheus HTTP API.
type Client struct {
	api    v1.API
	logger *zap.Logger
}

// NewClient creates a client for the Prometheus server at address.
func NewClient(address string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &Client{api: v1.NewAPI(c), logger: logger}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Buildinfo(ctx); err != nil {
		return fmt.Errorf("prometheus unreachable: %w", err)
	}
	return nil
}

func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]analytics.DataPoint, error) {
	val, warnings, err := c.api.QueryRange(ctx, query, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("range query failed: %w", err)
	}
	if len(warnings) > 0 {
		c.logger.Debug("prometheus returned warnings", zap.Strings("warnings", warnings))
	}
	matrix, ok := val.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", val.Type())
	}
	return mergeSeries(matrix), nil
}

// mergeSeries averages all series per timestamp and returns points in time order.
func mergeSeries(matrix model.Matrix) []analytics.DataPoint {
	if len(matrix) == 0 {
		return nil
	}
	type acc struct {
		sum float64
		n   int
	}
	byTime := make(map[model.Time]*acc)
	for _, stream := range matrix {
		for _, sp := range stream.Values {
			a, ok := byTime[sp.Timestamp]
			if !ok {
				a = &acc{}
				byTime[sp.Timestamp] = a
			}
			a.sum += float64(sp.Value)
			a.n++
		}
	}
	points := make([]analytics.DataPoint, 0, len(byTime))
	for ts, a := range byTime {
		points = append(points, analytics.DataPoint{Timestamp: ts.Time(), Value: a.sum / float64(a.n)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

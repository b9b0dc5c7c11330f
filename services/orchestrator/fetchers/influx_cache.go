// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetchers

import (
	"context"
	"fmt"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/finsightai/finsight/pkg/validation"
)

const candleMeasurement = "stock_prices"

// InfluxCandleCache stores daily OHLCV bars in InfluxDB so repeated turns
// about the same instrument do not re-download a year of history.
type InfluxCandleCache struct {
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
}

var _ CandleCache = (*InfluxCandleCache)(nil)

// NewInfluxCandleCache wires the cache onto an existing InfluxDB client.
func NewInfluxCandleCache(client influxdb2.Client, org, bucket string) *InfluxCandleCache {
	return &InfluxCandleCache{
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
	}
}

// Recent returns cached bars for the trailing window, oldest first. An
// instrument with no cached rows returns (nil, nil).
func (c *InfluxCandleCache) Recent(ctx context.Context, ticker string, days int) ([]Candle, error) {
	ctx, span := tracer.Start(ctx, "InfluxCandleCache.Recent")
	defer span.End()

	// Tickers reach Flux string literals; reject anything unvalidated.
	sanitized, err := validation.SanitizeTicker(ticker)
	if err != nil {
		return nil, fmt.Errorf("invalid ticker for cache query: %w", err)
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -%dd)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.ticker == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, c.bucket, days, candleMeasurement, sanitized)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("cache query failed: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	var candles []Candle
	for result.Next() {
		record := result.Record()
		candle := Candle{Time: record.Time()}
		if v, ok := record.ValueByKey("open").(float64); ok {
			candle.Open = v
		}
		if v, ok := record.ValueByKey("high").(float64); ok {
			candle.High = v
		}
		if v, ok := record.ValueByKey("low").(float64); ok {
			candle.Low = v
		}
		if v, ok := record.ValueByKey("close").(float64); ok {
			candle.Close = v
		}
		if v, ok := record.ValueByKey("adj_close").(float64); ok {
			candle.AdjClose = v
		}
		if v, ok := record.ValueByKey("volume").(int64); ok {
			candle.Volume = v
		}
		if candle.Close != 0 {
			candles = append(candles, candle)
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("cache result error: %w", result.Err())
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// Store writes bars through to InfluxDB. Points are keyed by ticker tag and
// bar time, so rewrites of overlapping windows are idempotent.
func (c *InfluxCandleCache) Store(ctx context.Context, ticker string, candles []Candle) error {
	ctx, span := tracer.Start(ctx, "InfluxCandleCache.Store")
	defer span.End()

	sanitized, err := validation.SanitizeTicker(ticker)
	if err != nil {
		return fmt.Errorf("invalid ticker for cache write: %w", err)
	}

	points := make([]*write.Point, 0, len(candles))
	for _, candle := range candles {
		points = append(points, influxdb2.NewPoint(
			candleMeasurement,
			map[string]string{"ticker": sanitized},
			map[string]interface{}{
				"open":      candle.Open,
				"high":      candle.High,
				"low":       candle.Low,
				"close":     candle.Close,
				"adj_close": candle.AdjClose,
				"volume":    candle.Volume,
			},
			candle.Time,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// WaitReady blocks until InfluxDB reports healthy or attempts run out.
func WaitReady(ctx context.Context, client influxdb2.Client, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		health, err := client.Health(ctx)
		if err == nil && health.Status == "pass" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("influxdb not healthy after %d attempts", attempts)
}

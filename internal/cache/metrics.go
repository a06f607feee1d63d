package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	tierMemory    = "memory"
	tierPersisted = "persisted"
)

var meter = otel.Meter("dotnav.cache")

var (
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cachePromotions metric.Int64Counter
	cacheDropped    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once. Safe to call repeatedly.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if cacheHits, err = meter.Int64Counter(
			"dotnav_cache_hits_total",
			metric.WithDescription("Cache lookups served from either tier"),
		); err != nil {
			metricsErr = err
			return
		}
		if cacheMisses, err = meter.Int64Counter(
			"dotnav_cache_misses_total",
			metric.WithDescription("Cache lookups that found no fresh entry"),
		); err != nil {
			metricsErr = err
			return
		}
		if cachePromotions, err = meter.Int64Counter(
			"dotnav_cache_promotions_total",
			metric.WithDescription("Persisted entries promoted into memory"),
		); err != nil {
			metricsErr = err
			return
		}
		if cacheDropped, err = meter.Int64Counter(
			"dotnav_cache_dropped_total",
			metric.WithDescription("Persisted entries dropped on flush, load or lookup"),
		); err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context, tier string) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func recordMiss(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordPromotion(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cachePromotions.Add(ctx, 1)
}

func recordDropped(ctx context.Context, reason string) {
	if initMetrics() != nil {
		return
	}
	cacheDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

package simpleassets

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/tendant/simple-assets/pkg/simpleassets"

type metrics struct {
	created         metric.Int64Counter
	deleted         metric.Int64Counter
	quotaRejections metric.Int64Counter
	lockFailures    metric.Int64Counter
	compensations   metric.Int64Counter
	lockWait        metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(instrumentationName)
	}

	m := &metrics{}
	var err error
	if m.created, err = meter.Int64Counter("assets.created",
		metric.WithDescription("Assets committed by create or replace"),
		metric.WithUnit("{asset}"),
	); err != nil {
		return nil, err
	}
	if m.deleted, err = meter.Int64Counter("assets.deleted",
		metric.WithDescription("Asset metadata rows removed"),
		metric.WithUnit("{asset}"),
	); err != nil {
		return nil, err
	}
	if m.quotaRejections, err = meter.Int64Counter("assets.quota_rejections",
		metric.WithDescription("Creates rejected by a counted policy"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.lockFailures, err = meter.Int64Counter("assets.lock_failures",
		metric.WithDescription("Owner lock acquisitions that ran out of retries"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.compensations, err = meter.Int64Counter("assets.compensations",
		metric.WithDescription("Metadata rows removed after a failed upload"),
		metric.WithUnit("{asset}"),
	); err != nil {
		return nil, err
	}
	if m.lockWait, err = meter.Float64Histogram("assets.lock_wait_ms",
		metric.WithDescription("Time spent waiting for the owner lock"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func typeAttrs(owner OwnerRef, assetType AssetType) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("owner_type", string(owner.Type)),
		attribute.String("asset_type", string(assetType)),
	)
}

func (m *metrics) recordLockWait(ctx context.Context, owner OwnerRef, d time.Duration) {
	m.lockWait.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("owner_type", string(owner.Type))))
}

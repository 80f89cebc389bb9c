package bufferpool

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Blackdeer1524/PageStore/src/bufferpool"

type metrics struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	evictions    metric.Int64Counter
	lockTimeouts metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	return &metrics{
		hits:         counter(meter, "pagestore.cache.hits", "pages served from the cache"),
		misses:       counter(meter, "pagestore.cache.misses", "pages read from backing files"),
		evictions:    counter(meter, "pagestore.cache.evictions", "clean pages evicted"),
		lockTimeouts: counter(meter, "pagestore.cache.lock_timeouts", "lock waits that gave up"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}

	return c
}

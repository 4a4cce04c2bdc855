package warehouse

import (
	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentuity/go-warehouse/cache"
	"github.com/agentuity/go-warehouse/expiry"
	"github.com/agentuity/go-warehouse/logger"
	"github.com/agentuity/go-warehouse/sys"
)

type options struct {
	log            logger.Logger
	clock          cache.Clock
	fs             billy.Filesystem
	pressure       <-chan struct{}
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	memoryProbe    sys.MemoryProbe
}

// Option configures a Warehouse.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{
		log:         logger.NewNop(),
		clock:       cache.SystemClock,
		memoryProbe: sys.MemoryUsedPercent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	return o
}

func (o options) tierOptions() []cache.Option {
	opts := []cache.Option{
		cache.WithLogger(o.log),
		cache.WithClock(o.clock),
	}
	if o.fs != nil {
		opts = append(opts, cache.WithFilesystem(o.fs))
	}
	if o.pressure != nil {
		opts = append(opts, cache.WithPressureSignal(o.pressure))
	}
	return opts
}

// WithLogger sets the logger handed to every tier. Defaults to a logger that
// discards everything.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock sets the clock used to resolve expirations and stamp entries.
func WithClock(clock cache.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithFilesystem sets the filesystem provider of the disk tier.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithPressureSignal connects the auto-purging memory tier to a memory
// pressure source such as sys.PressureWatcher.
func WithPressureSignal(signal <-chan struct{}) Option {
	return func(o *options) { o.pressure = signal }
}

// WithTracerProvider sets the provider for operation spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the provider for hit, miss and write counters.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithMemoryProbe replaces the host memory sampler used when a Config
// enables pressure_threshold.
func WithMemoryProbe(probe sys.MemoryProbe) Option {
	return func(o *options) {
		if probe != nil {
			o.memoryProbe = probe
		}
	}
}

type setOptions struct {
	expiry   expiry.Expiry
	override bool
}

// SetOption configures a single SetObject call.
type SetOption func(*setOptions)

// WithExpiry overrides the tier expiry policies for one write.
func WithExpiry(e expiry.Expiry) SetOption {
	return func(o *setOptions) {
		o.expiry = e
		o.override = true
	}
}

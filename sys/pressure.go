package sys

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/agentuity/go-warehouse/logger"
)

// DefaultPressureInterval is how often host memory is sampled when no interval is configured.
const DefaultPressureInterval = 5 * time.Second

// MemoryProbe reports host memory in use as a percentage.
type MemoryProbe func(ctx context.Context) (float64, error)

// PressureConfig configures a PressureWatcher.
type PressureConfig struct {
	// Threshold is the used-memory percentage at or above which the host is under pressure.
	Threshold float64
	// Interval between samples. Zero means DefaultPressureInterval.
	Interval time.Duration
}

func (c PressureConfig) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 100 {
		return errors.Newf("pressure threshold must be in (0, 100], got %v", c.Threshold)
	}
	if c.Interval < 0 {
		return errors.Newf("pressure interval must not be negative, got %s", c.Interval)
	}
	return nil
}

type pressureOptions struct {
	log   logger.Logger
	probe MemoryProbe
}

type PressureOption func(*pressureOptions)

// WithPressureLogger sets the logger used for probe failures and pressure events.
func WithPressureLogger(log logger.Logger) PressureOption {
	return func(o *pressureOptions) {
		o.log = log
	}
}

// WithMemoryProbe replaces the gopsutil probe.
func WithMemoryProbe(probe MemoryProbe) PressureOption {
	return func(o *pressureOptions) {
		o.probe = probe
	}
}

// PressureWatcher samples host memory and signals once each time usage
// crosses the threshold from below. It re-arms when usage falls back under
// the threshold. Signals are dropped while a previous one is unconsumed.
type PressureWatcher struct {
	cfg       PressureConfig
	opts      pressureOptions
	signal    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	above     bool
}

// NewPressureWatcher starts sampling host memory until Close is called.
func NewPressureWatcher(cfg PressureConfig, opts ...PressureOption) (*PressureWatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultPressureInterval
	}
	o := pressureOptions{log: logger.NewNop(), probe: MemoryUsedPercent}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &PressureWatcher{
		cfg:    cfg,
		opts:   o,
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	w.waitGroup.Add(1)
	go w.run()
	return w, nil
}

// Signal returns the channel to pass to an auto-purging cache.
func (w *PressureWatcher) Signal() <-chan struct{} {
	return w.signal
}

func (w *PressureWatcher) run() {
	defer w.waitGroup.Done()
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.sample()
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *PressureWatcher) sample() {
	used, err := w.opts.probe(w.ctx)
	if err != nil {
		if w.ctx.Err() == nil {
			w.opts.log.Warn("sampling memory usage: %s", err)
		}
		return
	}
	if used < w.cfg.Threshold {
		w.above = false
		return
	}
	if w.above {
		return
	}
	w.above = true
	w.opts.log.Info("memory usage %.1f%% reached threshold %.1f%%", used, w.cfg.Threshold)
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Close stops sampling. It is safe to call more than once.
func (w *PressureWatcher) Close() error {
	w.once.Do(func() {
		w.cancel()
		w.waitGroup.Wait()
	})
	return nil
}

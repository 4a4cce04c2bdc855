package warehouse

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/agentuity/go-warehouse/cache"
	"github.com/agentuity/go-warehouse/env"
	"github.com/agentuity/go-warehouse/expiry"
	"github.com/agentuity/go-warehouse/serializer"
	"github.com/agentuity/go-warehouse/sys"
)

// ByteSize is a size in bytes that reads "512", "64KiB" or "100 MB" from YAML.
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalYAML() (any, error) {
	return uint64(b), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: byte size must be a scalar", node.Line)
	}
	n, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid byte size %q", node.Line, node.Value)
	}
	*b = ByteSize(n)
	return nil
}

// Duration reads "30s", "5m" or "1d" from YAML.
type Duration time.Duration

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: duration must be a scalar", node.Line)
	}
	v, err := str2duration.ParseDuration(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(v)
	return nil
}

// FileMode is an octal permission such as "0600", used as the disk tier's
// file protection.
type FileMode string

func (m FileMode) parse() (os.FileMode, error) {
	v, err := strconv.ParseUint(string(m), 8, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid file mode %q", string(m))
	}
	if v&^0o777 != 0 {
		return 0, errors.Newf("file mode %q has bits outside 0777", string(m))
	}
	return os.FileMode(v), nil
}

// MemoryConfig is the YAML form of cache.MemoryConfig.
type MemoryConfig struct {
	Expiry         expiry.Expiry `yaml:"expiry"`
	CountLimit     uint64        `yaml:"count_limit"`
	TotalCostLimit ByteSize      `yaml:"total_cost_limit"`
}

func (c MemoryConfig) tier() cache.MemoryConfig {
	return cache.MemoryConfig{
		Expiry:         c.Expiry,
		CountLimit:     c.CountLimit,
		TotalCostLimit: uint64(c.TotalCostLimit),
	}
}

// AutoPurgeConfig is the YAML form of cache.AutoPurgingConfig.
type AutoPurgeConfig struct {
	Expiry                   expiry.Expiry `yaml:"expiry"`
	MemoryCapacity           ByteSize      `yaml:"memory_capacity"`
	PreferredUsageAfterPurge ByteSize      `yaml:"preferred_usage_after_purge"`
	// PressureThreshold, when set, starts a sys.PressureWatcher that purges
	// the memory tier whenever host memory use reaches this percentage.
	PressureThreshold float64  `yaml:"pressure_threshold"`
	PressureInterval  Duration `yaml:"pressure_interval"`
}

func (c AutoPurgeConfig) pressure() sys.PressureConfig {
	return sys.PressureConfig{Threshold: c.PressureThreshold, Interval: time.Duration(c.PressureInterval)}
}

func (c AutoPurgeConfig) tier() cache.AutoPurgingConfig {
	return cache.AutoPurgingConfig{
		Expiry:                   c.Expiry,
		MemoryCapacityBytes:      uint64(c.MemoryCapacity),
		PreferredUsageAfterPurge: uint64(c.PreferredUsageAfterPurge),
	}
}

// DiskConfig is the YAML form of cache.DiskConfig.
type DiskConfig struct {
	Directory string        `yaml:"directory"`
	Namespace string        `yaml:"namespace"`
	Expiry    expiry.Expiry `yaml:"expiry"`
	MaxSize   ByteSize      `yaml:"max_size"`
	FileMode  FileMode      `yaml:"file_mode"`
}

func (c DiskConfig) tier() (cache.DiskConfig, error) {
	cfg := cache.DiskConfig{
		Directory:    c.Directory,
		Namespace:    c.Namespace,
		Expiry:       c.Expiry,
		MaxSizeBytes: uint64(c.MaxSize),
	}
	if c.FileMode != "" {
		mode, err := c.FileMode.parse()
		if err != nil {
			return cfg, errors.Mark(err, cache.ErrInvalidConfig)
		}
		cfg.FileProtection = mode
	}
	return cfg, nil
}

// Config describes a Warehouse. When Mode is empty it is inferred from the
// sections present: memory and disk make a hybrid, auto_purge and disk an
// auto-purging hybrid.
type Config struct {
	Mode Mode `yaml:"mode"`
	// Compression wraps the serializer given to New: "none", "lz4" or "zstd".
	Compression string           `yaml:"compression"`
	Memory      *MemoryConfig    `yaml:"memory"`
	AutoPurge   *AutoPurgeConfig `yaml:"auto_purge"`
	Disk        *DiskConfig      `yaml:"disk"`
}

// ResolvedMode returns Mode, or the mode implied by the sections present.
func (c Config) ResolvedMode() Mode {
	if c.Mode != "" {
		return c.Mode
	}
	switch {
	case c.AutoPurge != nil && c.Disk != nil:
		return ModeAutoPurging
	case c.Memory != nil && c.Disk != nil:
		return ModeHybrid
	case c.Disk != nil:
		return ModeDisk
	default:
		return ModeMemory
	}
}

func invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), cache.ErrInvalidConfig)
}

// Validate checks that the sections required by the mode are present and
// that each section satisfies its tier's invariants.
func (c Config) Validate() error {
	if _, err := serializer.ParseCompression(c.Compression); err != nil {
		return errors.Mark(err, cache.ErrInvalidConfig)
	}
	mode := c.ResolvedMode()
	needMemory, needDisk, needAuto := false, false, false
	switch mode {
	case ModeMemory:
		needMemory = true
	case ModeDisk:
		needDisk = true
	case ModeHybrid:
		needMemory, needDisk = true, true
	case ModeAutoPurging:
		needAuto, needDisk = true, true
	default:
		return invalid("unknown warehouse mode %q", mode)
	}
	if needMemory && c.Memory == nil {
		return invalid("mode %s requires a memory section", mode)
	}
	if needAuto {
		if c.AutoPurge == nil {
			return invalid("mode %s requires an auto_purge section", mode)
		}
		if err := c.AutoPurge.tier().Validate(); err != nil {
			return err
		}
		if c.AutoPurge.PressureThreshold != 0 {
			if err := c.AutoPurge.pressure().Validate(); err != nil {
				return errors.Mark(err, cache.ErrInvalidConfig)
			}
		}
	}
	if needDisk {
		if c.Disk == nil {
			return invalid("mode %s requires a disk section", mode)
		}
		disk, err := c.Disk.tier()
		if err != nil {
			return err
		}
		if err := disk.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfig decodes a YAML document. ${NAME} and ${NAME:-default}
// references are replaced from the environment first. Unknown fields are
// rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(env.Expand(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Mark(errors.Wrap(err, "parsing warehouse config"), cache.ErrInvalidConfig)
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and decodes the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading warehouse config %s", path)
	}
	return ParseConfig(data)
}

// New builds the Warehouse described by cfg.
func New[T any](cfg Config, s serializer.Serializer[T], opts ...Option) (*Warehouse[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if algo, _ := serializer.ParseCompression(cfg.Compression); algo != serializer.CompressionNone && s != nil {
		s = serializer.Compressed(s, algo)
	}
	var disk cache.DiskConfig
	if cfg.Disk != nil {
		var err error
		if disk, err = cfg.Disk.tier(); err != nil {
			return nil, err
		}
	}
	switch cfg.ResolvedMode() {
	case ModeMemory:
		return NewMemory(cfg.Memory.tier(), s, opts...), nil
	case ModeDisk:
		return NewDisk(disk, s, opts...)
	case ModeHybrid:
		return NewHybrid(cfg.Memory.tier(), disk, s, opts...)
	default:
		return newConfiguredAutoPurging(*cfg.AutoPurge, disk, s, opts)
	}
}

func newConfiguredAutoPurging[T any](cfg AutoPurgeConfig, disk cache.DiskConfig, s serializer.Serializer[T], opts []Option) (*Warehouse[T], error) {
	o := applyOptions(opts)
	if cfg.PressureThreshold == 0 || o.pressure != nil {
		return NewAutoPurging(cfg.tier(), disk, s, opts...)
	}
	watcher, err := sys.NewPressureWatcher(cfg.pressure(), sys.WithPressureLogger(o.log), sys.WithMemoryProbe(o.memoryProbe))
	if err != nil {
		return nil, errors.Mark(err, cache.ErrInvalidConfig)
	}
	w, err := NewAutoPurging(cfg.tier(), disk, s, append(opts[:len(opts):len(opts)], WithPressureSignal(watcher.Signal()))...)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	w.closers = append(w.closers, watcher.Close)
	return w, nil
}

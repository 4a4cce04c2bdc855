package cache

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound is returned by operations whose contract requires the key to
	// be present. Get never returns it; absence is reported with found=false.
	ErrNotFound = errors.New("cache: entry not found")
	// ErrIO marks filesystem failures such as permission denied or disk full.
	ErrIO = errors.New("cache: filesystem failure")
	// ErrCorrupted marks an on-disk entry whose header cannot be parsed.
	ErrCorrupted = errors.New("cache: entry is corrupted")
	// ErrInvalidConfig marks a configuration that violates a tier invariant.
	ErrInvalidConfig = errors.New("cache: invalid configuration")
)

func ioError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

func configError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidConfig)
}

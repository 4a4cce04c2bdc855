package warehouse

import "context"

// Invoker produces a value of type T on a cache miss.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value (e.g. sql.ErrNoRows scenarios).
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. It returns the object stored under key when
// there is one. On a miss it calls invoke; a found value is stored with opts
// and returned, a not-found result is returned without storing anything.
// Read errors, including decode failures, are returned without calling
// invoke. A failed store after a successful invoke is logged and the value is
// still returned.
func Exec[T any](ctx context.Context, w *Warehouse[T], key string, invoke Invoker[T], opts ...SetOption) (bool, T, error) {
	val, found, err := w.Object(ctx, key)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if !ok {
		var zero T
		return false, zero, nil
	}

	if err := w.SetObject(ctx, key, result, opts...); err != nil {
		w.opts.log.Warn("failed to store %s after loading it: %s", key, err)
	}
	return true, result, nil
}

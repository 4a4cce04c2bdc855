package expiry

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Parse reads a policy from text. Accepted forms are "never" (or empty), a
// duration such as "90s", "12h", "2d" or "1w", and an RFC 3339 instant.
func Parse(s string) (Expiry, error) {
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "", "never":
		return Never, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return At(t), nil
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		return Never, errors.Wrapf(err, "expiry: cannot parse %q", s)
	}
	return After(d), nil
}

// String renders e in the form accepted by Parse.
func (e Expiry) String() string {
	switch e.kind {
	case KindAfter:
		return str2duration.String(e.after)
	case KindAt:
		return e.at.Format(time.RFC3339Nano)
	default:
		return "never"
	}
}

func (e Expiry) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Expiry) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (e Expiry) MarshalYAML() (any, error) {
	return e.String(), nil
}

func (e *Expiry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("expiry: expected a scalar at line %d", node.Line)
	}
	return e.UnmarshalText([]byte(node.Value))
}

// Package probe implements single-shot connectivity checks for the
// dependencies the gate can wait on. Each Prober makes exactly one
// connection attempt per Check call, bounded by the deadline on the
// context, and closes everything it opened before returning. Retry
// policy is not a probe concern — the waiter owns it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Dependency kinds. The values double as the config-store key names the
// operator lists in CONSUL_MANDATORY_KEYS / CONSUL_OPTIONAL_KEYS.
const (
	KindDatabase = "DATABASE"
	KindRedis    = "REDIS"
	KindRabbitMQ = "RABBITMQ"
	KindKafka    = "KAFKA"
	KindConsul   = "CONSUL"
)

// Sentinel errors classifying why a probe failed. Wrapped with context by
// the individual probes; match with errors.Is.
var (
	// ErrUnreachable indicates the dependency did not accept a connection.
	ErrUnreachable = errors.New("dependency unreachable")
	// ErrTimeout indicates the attempt exceeded its per-attempt deadline.
	ErrTimeout = errors.New("probe timed out")
	// ErrAuth indicates the dependency rejected the configured credentials.
	ErrAuth = errors.New("authentication rejected")
	// ErrMissingKey indicates a mandatory config-store key is absent.
	ErrMissingKey = errors.New("mandatory key missing")
)

// Prober is a single connectivity/validation attempt against one dependency.
type Prober interface {
	// Kind returns the dependency kind this prober covers.
	Kind() string
	// Check makes one connection attempt. It returns nil when the
	// dependency is ready, or an error classified against the sentinel
	// errors above. The context carries the per-attempt deadline.
	Check(ctx context.Context) error
}

// Result is the outcome of one probe attempt within one poll iteration.
// Results are transient; nothing is persisted across iterations.
type Result struct {
	Kind      string
	OK        bool
	Err       error
	CheckedAt time.Time
}

// SettingsSource resolves per-dependency connection settings stored under
// the config-store prefix. A dependency with no stored settings yields an
// empty map, not an error.
type SettingsSource interface {
	Settings(ctx context.Context, key string) (map[string]string, error)
}

// resolve merges stored settings over the environment fallbacks: a field
// present in the store wins, anything else keeps its fallback value.
func resolve(ctx context.Context, src SettingsSource, key string, fallback map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(fallback))
	for k, v := range fallback {
		merged[k] = v
	}
	if src == nil {
		return merged, nil
	}
	stored, err := src.Settings(ctx, key)
	if err != nil {
		return nil, err
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}

// setting returns the named field or def when absent/empty.
func setting(s map[string]string, name, def string) string {
	if v := s[name]; v != "" {
		return v
	}
	return def
}

// classify maps transport-level failures onto the sentinel taxonomy.
// Errors it does not recognise pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

// Package store implements the config-store side of the gate against a
// Consul KV tree. Per-dependency connection settings live as JSON objects
// under <prefix>/<KEY>; a dedicated sentinel key confirms the store itself
// is reachable. The client is also a probe: its Check runs the sentinel
// lookup plus the mandatory/optional key verification.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/consul/api"

	"github.com/AliMehraji/wait4it/internal/probe"
)

// KeySpec names the keys the gate verifies. Immutable after config parse.
type KeySpec struct {
	// Prefix is the KV path prefix the per-dependency keys live under.
	Prefix string
	// Mandatory keys must exist under Prefix before the gate opens.
	Mandatory []string
	// Optional keys are looked up and logged but never fail the check.
	Optional []string
	// SentinelKey is fetched verbatim (not under Prefix) purely to confirm
	// the store answers queries.
	SentinelKey string
}

// Client talks to a single Consul agent's KV API.
type Client struct {
	kv   *api.KV
	spec KeySpec
}

// New builds a Client against host:port using the given scheme.
func New(host, port, scheme string, spec KeySpec) (*Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = net.JoinHostPort(host, port)
	cfg.Scheme = scheme
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: building consul client: %w", err)
	}
	return &Client{kv: c.KV(), spec: spec}, nil
}

// Kind implements probe.Prober.
func (c *Client) Kind() string { return probe.KindConsul }

// Check implements probe.Prober: the store is ready when the sentinel key
// answers and every mandatory key exists.
func (c *Client) Check(ctx context.Context) error {
	if err := c.CheckConnection(ctx); err != nil {
		return err
	}
	return c.VerifyKeys(ctx)
}

// CheckConnection fetches the sentinel key. An unreachable agent and an
// absent sentinel both fail: the sentinel existing is part of the contract.
func (c *Client) CheckConnection(ctx context.Context) error {
	pair, _, err := c.kv.Get(c.spec.SentinelKey, queryOptions(ctx))
	if err != nil {
		return fmt.Errorf("%w: consul: %v", probe.ErrUnreachable, err)
	}
	if pair == nil {
		return fmt.Errorf("%w: sentinel key %q", probe.ErrMissingKey, c.spec.SentinelKey)
	}
	return nil
}

// VerifyKeys checks every mandatory key exists under the prefix, reporting
// the full list of missing ones in a single error. Absent optional keys are
// logged and tolerated.
func (c *Client) VerifyKeys(ctx context.Context) error {
	var missing []string
	for _, key := range c.spec.Mandatory {
		pair, _, err := c.kv.Get(c.keyPath(key), queryOptions(ctx))
		if err != nil {
			return fmt.Errorf("%w: consul: %v", probe.ErrUnreachable, err)
		}
		if pair == nil {
			missing = append(missing, key)
		}
	}
	for _, key := range c.spec.Optional {
		pair, _, err := c.kv.Get(c.keyPath(key), queryOptions(ctx))
		if err != nil {
			return fmt.Errorf("%w: consul: %v", probe.ErrUnreachable, err)
		}
		if pair == nil {
			slog.Debug("optional key absent", "key", c.keyPath(key))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", probe.ErrMissingKey, strings.Join(missing, ", "))
	}
	return nil
}

// Settings implements probe.SettingsSource: it decodes the JSON object at
// <prefix>/<key> into a flat string map. Scalar values are stringified so
// ports may be stored as either numbers or strings. A missing key yields an
// empty map, letting probes fall back to environment settings.
func (c *Client) Settings(ctx context.Context, key string) (map[string]string, error) {
	pair, _, err := c.kv.Get(c.keyPath(key), queryOptions(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: consul: %v", probe.ErrUnreachable, err)
	}
	if pair == nil {
		return map[string]string{}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(pair.Value, &raw); err != nil {
		return nil, fmt.Errorf("store: key %q holds invalid JSON: %w", c.keyPath(key), err)
	}
	settings := make(map[string]string, len(raw))
	for field, value := range raw {
		switch v := value.(type) {
		case string:
			settings[field] = v
		case float64:
			settings[field] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			settings[field] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("store: key %q field %q is not a scalar", c.keyPath(key), field)
		}
	}
	return settings, nil
}

func (c *Client) keyPath(key string) string {
	return strings.TrimSuffix(c.spec.Prefix, "/") + "/" + key
}

func queryOptions(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

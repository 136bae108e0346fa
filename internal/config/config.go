// Package config reads the gate's configuration from the process
// environment via Viper. There are no flags and no config file: an init
// container gets everything from its pod spec. Nested struct fields map
// 1-to-1 with environment variables through the dot→underscore replacer,
// so Consul.Prefix is CONSUL_PREFIX, Database.Host is DATABASE_HOST, etc.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AliMehraji/wait4it/internal/probe"
)

// ConsulCfg locates the config store and names the keys to verify.
type ConsulCfg struct {
	Host   string `mapstructure:"host"`
	Port   string `mapstructure:"port"`
	Scheme string `mapstructure:"scheme"`
	Prefix string `mapstructure:"prefix"`

	// Comma-separated key lists as the operator wrote them; the parsed
	// forms live in Config.Mandatory / Config.Optional.
	MandatoryKeys string `mapstructure:"mandatory_keys"`
	OptionalKeys  string `mapstructure:"optional_keys"`

	// ConnectionCheckKey is the sentinel key proving the store answers.
	ConnectionCheckKey string `mapstructure:"connection_check_key"`
}

// DatabaseCfg holds the PostgreSQL fallbacks used when the config store
// carries no DATABASE entry (or only a partial one).
type DatabaseCfg struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// RedisCfg holds the cache fallbacks.
type RedisCfg struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// RabbitMQCfg holds the AMQP broker fallbacks.
type RabbitMQCfg struct {
	Hostname string `mapstructure:"hostname"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// KafkaCfg holds the Kafka broker fallback address.
type KafkaCfg struct {
	Broker string `mapstructure:"broker"`
}

// Config is the gate's complete configuration. Immutable once loaded.
type Config struct {
	Consul   ConsulCfg   `mapstructure:"consul"`
	Database DatabaseCfg `mapstructure:"database"`
	Redis    RedisCfg    `mapstructure:"redis"`
	RabbitMQ RabbitMQCfg `mapstructure:"rabbitmq"`
	Kafka    KafkaCfg    `mapstructure:"kafka"`

	PollInterval string `mapstructure:"poll_interval"`
	MaxWait      string `mapstructure:"max_wait"`
	ProbeTimeout string `mapstructure:"probe_timeout"`

	// Parsed, validated key lists. Mandatory keys gate readiness; optional
	// keys are verified but tolerated when absent.
	Mandatory []string `mapstructure:"-"`
	Optional  []string `mapstructure:"-"`
}

// ParsedPollInterval returns the poll interval, defaulting to 5s.
func (c Config) ParsedPollInterval() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ParsedMaxWait returns the overall deadline, defaulting to 3m.
func (c Config) ParsedMaxWait() time.Duration {
	d, _ := time.ParseDuration(c.MaxWait)
	if d <= 0 {
		return 3 * time.Minute
	}
	return d
}

// ParsedProbeTimeout returns the per-attempt timeout, defaulting to 10s.
func (c Config) ParsedProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Fallbacks returns the environment-sourced settings for the given
// dependency kind, keyed by the same field names the config store uses so
// stored values can override them field by field. Empty fields are omitted.
func (c Config) Fallbacks(kind string) map[string]string {
	fields := map[string]string{}
	switch kind {
	case probe.KindDatabase:
		fields["DB_HOST"] = c.Database.Host
		fields["DB_PORT"] = c.Database.Port
		fields["DB_USER"] = c.Database.User
		fields["DB_PASS"] = c.Database.Password
		fields["DB_NAME"] = c.Database.Name
	case probe.KindRedis:
		fields["REDIS_HOST"] = c.Redis.Host
		fields["REDIS_PORT"] = c.Redis.Port
		fields["REDIS_PASSWORD"] = c.Redis.Password
	case probe.KindRabbitMQ:
		fields["RABBITMQ_HOSTNAME"] = c.RabbitMQ.Hostname
		fields["RABBITMQ_PORT"] = c.RabbitMQ.Port
		fields["RABBITMQ_USERNAME"] = c.RabbitMQ.Username
		fields["RABBITMQ_PASSWORD"] = c.RabbitMQ.Password
	case probe.KindKafka:
		fields["KAFKA_BROKER"] = c.Kafka.Broker
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// Load reads and validates the configuration from the environment.
// Any error it returns is a configuration error: the caller should exit
// non-zero without entering the wait loop.
func Load() (Config, error) {
	v := newViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	return validate(cfg)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults — registering a key is also what lets AutomaticEnv see its
	// environment override during Unmarshal.
	v.SetDefault("consul.host", "localhost")
	v.SetDefault("consul.port", "8500")
	v.SetDefault("consul.scheme", "http")
	v.SetDefault("consul.prefix", "")
	v.SetDefault("consul.mandatory_keys", "")
	v.SetDefault("consul.optional_keys", "")
	v.SetDefault("consul.connection_check_key", "")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("max_wait", "3m")
	v.SetDefault("probe_timeout", "10s")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("rabbitmq.hostname", "")
	v.SetDefault("rabbitmq.port", "")
	v.SetDefault("rabbitmq.username", "")
	v.SetDefault("rabbitmq.password", "")
	v.SetDefault("kafka.broker", "")

	return v
}

func validate(cfg Config) (Config, error) {
	if cfg.Consul.Prefix == "" {
		return Config{}, fmt.Errorf("config: CONSUL_PREFIX is not set")
	}
	if cfg.Consul.MandatoryKeys == "" {
		return Config{}, fmt.Errorf("config: CONSUL_MANDATORY_KEYS is not set")
	}
	if cfg.Consul.ConnectionCheckKey == "" {
		return Config{}, fmt.Errorf("config: CONSUL_CONNECTION_CHECK_KEY is not set")
	}

	mandatory, err := parseKeyList(cfg.Consul.MandatoryKeys)
	if err != nil {
		return Config{}, fmt.Errorf("config: CONSUL_MANDATORY_KEYS: %w", err)
	}
	optional, err := parseKeyList(cfg.Consul.OptionalKeys)
	if err != nil {
		return Config{}, fmt.Errorf("config: CONSUL_OPTIONAL_KEYS: %w", err)
	}
	seen := make(map[string]bool, len(mandatory))
	for _, key := range mandatory {
		seen[key] = true
	}
	for _, key := range optional {
		if seen[key] {
			return Config{}, fmt.Errorf("config: key %q is listed as both mandatory and optional", key)
		}
	}

	cfg.Mandatory = mandatory
	cfg.Optional = optional
	return cfg, nil
}

// parseKeyList splits a comma-separated key list strictly: entries are
// trimmed, but empty entries (stray or doubled commas) and duplicates are
// rejected rather than silently dropped.
func parseKeyList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			return nil, fmt.Errorf("malformed list %q: empty entry", raw)
		}
		if seen[key] {
			return nil, fmt.Errorf("malformed list %q: duplicate key %q", raw, key)
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

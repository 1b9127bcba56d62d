package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Download storage backends.
const (
	DownloadsFS     = "fs"
	DownloadsS3     = "s3"
	DownloadsMemory = "memory"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Config represents a nimbus.yaml (or nimbus.toml) file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Readiness ReadinessConfig `yaml:"readiness" toml:"readiness"`
	Transfer  TransferConfig  `yaml:"transfer" toml:"transfer"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Downloads DownloadsConfig `yaml:"downloads" toml:"downloads"`
	Adapter   AdapterConfig   `yaml:"adapter" toml:"adapter"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// BackendConfig describes the backend process.
type BackendConfig struct {
	Binary    string            `yaml:"binary" toml:"binary"`
	Args      []string          `yaml:"args,omitempty" toml:"args,omitempty"`
	Dir       string            `yaml:"dir,omitempty" toml:"dir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	KillGrace Duration          `yaml:"kill_grace,omitempty" toml:"kill_grace,omitempty"`
}

// ServerConfig pins the port and token instead of generating them.
// Setting a token selects static provisioning.
type ServerConfig struct {
	Port  int    `yaml:"port,omitempty" toml:"port,omitempty"`
	Token string `yaml:"token,omitempty" toml:"token,omitempty"`
}

// ReadinessConfig tunes readiness detection.
type ReadinessConfig struct {
	Marker       string   `yaml:"marker,omitempty" toml:"marker,omitempty"`
	PollInterval Duration `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	RevealDelay  Duration `yaml:"reveal_delay,omitempty" toml:"reveal_delay,omitempty"`
}

// TransferConfig tunes progress polling.
type TransferConfig struct {
	PollInterval Duration `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty"`
	StallAfter   int      `yaml:"stall_after,omitempty" toml:"stall_after,omitempty"`
}

// GatewayConfig tunes the backend client.
type GatewayConfig struct {
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// DownloadsConfig selects where downloaded files are written.
type DownloadsConfig struct {
	Backend     string `yaml:"backend" toml:"backend"`
	Path        string `yaml:"path" toml:"path"`
	Region      string `yaml:"region,omitempty" toml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty" toml:"s3_path_style,omitempty"`
}

// AdapterConfig configures lifecycle notifications.
type AdapterConfig struct {
	Type    string `yaml:"type" toml:"type"`
	URL     string `yaml:"url" toml:"url"`
	Channel string `yaml:"channel,omitempty" toml:"channel,omitempty"`
	// PerEventChannel and SnapshotTTL apply to the redis adapter only.
	PerEventChannel bool              `yaml:"per_event_channel,omitempty" toml:"per_event_channel,omitempty"`
	SnapshotTTL     Duration          `yaml:"snapshot_ttl,omitempty" toml:"snapshot_ttl,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty"`
	Timeout         Duration          `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Retries         *int              `yaml:"retries,omitempty" toml:"retries,omitempty"`
}

// SessionConfig holds session-wide settings.
type SessionConfig struct {
	LockPath string `yaml:"lock_path,omitempty" toml:"lock_path,omitempty"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty" toml:"level,omitempty"`
	File  string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// Validate checks enumerated values and obvious contradictions.
func (c *Config) Validate() error {
	var errs []error
	if b := c.Downloads.Backend; b != "" && !slices.Contains([]string{DownloadsFS, DownloadsS3, DownloadsMemory}, b) {
		errs = append(errs, fmt.Errorf("downloads.backend: unknown backend %q (want fs, s3 or memory)", b))
	}
	if c.Downloads.Backend == DownloadsS3 && c.Downloads.Path == "" {
		errs = append(errs, errors.New("downloads.path: required for s3 (bucket/prefix)"))
	}
	switch c.Adapter.Type {
	case "":
		if c.Adapter.URL != "" {
			errs = append(errs, errors.New("adapter.type: required when adapter.url is set"))
		}
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url: required for %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: unknown adapter %q (want webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries: must be >= 0"))
	}
	if c.Adapter.SnapshotTTL.Duration < 0 {
		errs = append(errs, errors.New("adapter.snapshot_ttl: must be >= 0"))
	}
	if p := c.Server.Port; p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", p))
	}
	if c.Transfer.StallAfter < 0 {
		errs = append(errs, errors.New("transfer.stall_after: must be >= 0"))
	}
	return errors.Join(errs...)
}

// EnvList flattens Backend.Env into sorted KEY=VALUE entries.
func (b BackendConfig) EnvList() []string {
	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+b.Env[k])
	}
	return out
}

// Duration wraps time.Duration for string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

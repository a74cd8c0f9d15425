// Package config provides configuration management for the application.
//
// Values are layered: built-in defaults, then an optional YAML file with
// ${VAR} and ${VAR:-default} expansion, then environment variables. A .env
// file in the working directory is loaded first and never overrides the real
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at the YAML file.
const EnvConfigPath = "AIGATEWAY_CONFIG"

// DefaultConfigPath is read when EnvConfigPath is unset. A missing file is not an error.
const DefaultConfigPath = "config.yaml"

// Body size limit bounds accepted by ValidateBodySizeLimit
const (
	MinBodySizeLimit int64 = 1 << 10
	MaxBodySizeLimit int64 = 100 << 20
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Store       StoreConfig
	Cache       CacheConfig
	Metrics     MetricsConfig
	Router      RouterConfig
	HTTP        HTTPConfig
	Usage       UsageConfig
	Credentials []CredentialSeed
	Endpoints   []EndpointSeed
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host          string `env:"HOST"`
	Port          string `env:"PORT"`
	MasterKey     string `env:"AIGATEWAY_MASTER_KEY"`
	BodySizeLimit string `env:"BODY_SIZE_LIMIT"`
	// AdminPrincipals restricts the management surface; empty admits any
	// caller holding the master key.
	AdminPrincipals []string `env:"AIGATEWAY_ADMIN_PRINCIPALS"`
	// SwaggerEnabled serves the API description at /swagger and /docs
	SwaggerEnabled bool `env:"SWAGGER_ENABLED"`
}

// LoggingConfig controls the process log handler
type LoggingConfig struct {
	// Format is "auto", "pretty" or "json"
	Format string `env:"LOG_FORMAT"`
	Level  string `env:"LOG_LEVEL"`
}

// StoreConfig selects the backend holding endpoints, credentials and usage
type StoreConfig struct {
	// URI is sqlite:///path, postgres://..., mongodb://... or memory://.
	// MLFLOW_BACKEND_STORE_URI is honored when the gateway variable is unset.
	URI string `env:"AIGATEWAY_BACKEND_STORE_URI,MLFLOW_BACKEND_STORE_URI"`
	// EncryptionKey seals persisted credential secrets. Without it credentials
	// stay in memory.
	EncryptionKey string `env:"AIGATEWAY_ENCRYPTION_KEY"`
}

// CacheConfig configures cross-instance change notification
type CacheConfig struct {
	Redis RedisConfig
}

// RedisConfig holds Redis notifier settings. An empty URL selects the
// in-process notifier.
type RedisConfig struct {
	URL     string `env:"REDIS_URL"`
	Channel string `env:"REDIS_CHANNEL"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `env:"METRICS_ENABLED"`
	Endpoint string `env:"METRICS_ENDPOINT"`
}

// RouterConfig tunes request routing
type RouterConfig struct {
	RetryBackoff      time.Duration `env:"ROUTER_RETRY_BACKOFF"`
	StreamCancelGrace time.Duration `env:"STREAM_CANCEL_GRACE"`
}

// HTTPConfig holds outbound HTTP client timeouts, in seconds
type HTTPConfig struct {
	Timeout               int `env:"HTTP_TIMEOUT"`
	ResponseHeaderTimeout int `env:"HTTP_RESPONSE_HEADER_TIMEOUT"`
}

// UsageConfig controls usage logging
type UsageConfig struct {
	Enabled       bool `env:"USAGE_ENABLED"`
	BufferSize    int  `env:"USAGE_BUFFER_SIZE"`
	FlushInterval int  `env:"USAGE_FLUSH_INTERVAL"`
	RetentionDays int  `env:"USAGE_RETENTION_DAYS"`
}

// CredentialSeed declares a credential installed at startup. Name is the
// handle endpoint seeds use to reference it.
type CredentialSeed struct {
	Name     string
	Provider string
	Secret   string
	Metadata map[string]string
	Default  bool
}

// EndpointSeed declares an endpoint installed at startup.
type EndpointSeed struct {
	Name       string
	Provider   string
	Model      string
	Credential string
	Options    map[string]any
}

// Load reads configuration from .env, the YAML file and the environment
func Load() (*Config, error) {
	// .env is optional; godotenv.Load never overrides variables already set
	_ = godotenv.Load()

	cfg := buildDefaultConfig()

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := ValidateBodySizeLimit(cfg.Server.BodySizeLimit); err != nil {
		return nil, err
	}
	if err := validateSeeds(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8000",
			SwaggerEnabled: true,
		},
		Logging: LoggingConfig{
			Format: "auto",
			Level:  "info",
		},
		Store: StoreConfig{
			URI: "sqlite:///data/aigateway.db",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Router: RouterConfig{
			RetryBackoff:      250 * time.Millisecond,
			StreamCancelGrace: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Usage: UsageConfig{
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 90,
		},
	}
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	raw, _ = expandValues(raw).(map[string]any)

	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return fmt.Errorf("failed to merge config file %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg, snakeCaseMatchName()); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// expandValues applies expandString to every string scalar in a decoded
// YAML tree. Keys are left alone.
func expandValues(v any) any {
	switch t := v.(type) {
	case string:
		return expandString(t)
	case map[string]any:
		for k, item := range t {
			t[k] = expandValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = expandValues(item)
		}
		return t
	default:
		return v
	}
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default}. A variable that is unset
// or empty and has no default is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholderPattern.FindStringSubmatch(m)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if parts[2] != "" {
			return parts[3]
		}
		return m
	})
}

// snakeCaseMatchName lets snake_case YAML keys decode into CamelCase fields.
// Keys with leading, trailing or doubled underscores never match.
func snakeCaseMatchName() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.MatchName = func(mapKey, fieldName string) bool {
			if strings.EqualFold(mapKey, fieldName) {
				return true
			}
			if !strings.Contains(mapKey, "_") {
				return false
			}
			if strings.HasPrefix(mapKey, "_") || strings.HasSuffix(mapKey, "_") || strings.Contains(mapKey, "__") {
				return false
			}
			return strings.EqualFold(strings.ReplaceAll(mapKey, "_", ""), fieldName)
		}
	}
}

// applyEnvOverrides walks cfg and sets every field carrying an env tag whose
// variable is present in the environment.
func applyEnvOverrides(cfg *Config) error {
	v := viper.New()
	v.AutomaticEnv()
	return applyEnv(v, reflect.ValueOf(cfg).Elem())
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyEnv(v *viper.Viper, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if sf.Type.Kind() == reflect.Struct {
			if err := applyEnv(v, field); err != nil {
				return err
			}
			continue
		}
		name := firstSetEnv(v, sf.Tag.Get("env"))
		if name == "" {
			continue
		}
		raw := strings.TrimSpace(v.GetString(name))
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}
	return nil
}

// firstSetEnv returns the first variable of a comma-separated env tag that is
// set, or "" when none is.
func firstSetEnv(v *viper.Viper, tag string) string {
	for _, name := range strings.Split(tag, ",") {
		if name = strings.TrimSpace(name); name != "" && v.IsSet(name) {
			return name
		}
	}
	return ""
}

func setField(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := parseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// parseDuration accepts Go duration strings and bare milliseconds.
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

// ValidateBodySizeLimit checks a size such as "10M", "512KB" or "1048576".
// Empty means the server default.
func ValidateBodySizeLimit(s string) error {
	_, err := ParseBodySizeLimit(s)
	return err
}

var bodySizePattern = regexp.MustCompile(`^(\d+)([kKmM][bB]?)?$`)

// ParseBodySizeLimit converts a size string to bytes. Empty returns 0.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid body size limit %q: expected a number with optional K, KB, M or MB suffix", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.TrimSuffix(strings.ToUpper(m[2]), "B") {
	case "K":
		n <<= 10
	case "M":
		n <<= 20
	}
	if n < MinBodySizeLimit || n > MaxBodySizeLimit {
		return 0, fmt.Errorf("body size limit %q out of range: must be between 1K and 100M", s)
	}
	return n, nil
}

func validateSeeds(cfg *Config) error {
	names := make(map[string]bool, len(cfg.Credentials))
	for i, c := range cfg.Credentials {
		if c.Name == "" || c.Provider == "" {
			return fmt.Errorf("credentials[%d]: name and provider are required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("credentials[%d]: duplicate name %q", i, c.Name)
		}
		names[c.Name] = true
	}
	seen := make(map[string]bool, len(cfg.Endpoints))
	for i, e := range cfg.Endpoints {
		if e.Name == "" || e.Provider == "" || e.Model == "" {
			return fmt.Errorf("endpoints[%d]: name, provider and model are required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("endpoints[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
		if e.Credential != "" && !names[e.Credential] {
			return fmt.Errorf("endpoint %q references unknown credential %q", e.Name, e.Credential)
		}
	}
	return nil
}

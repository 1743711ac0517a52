// Package config loads the YAML application configuration of the
// evidence record tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/goers/certvalidator"
	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/keys"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid configuration value")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...), Err: ErrInvalidValue}
}

func missing(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: ErrMissingRequiredField}
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log encoding (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return invalid("logging.level", "unknown level '%s'", c.Level)
	}
	switch c.Format {
	case "console", "json":
	default:
		return invalid("logging.format", "must be 'console' or 'json', got '%s'", c.Format)
	}
	return nil
}

// NewLogger builds a zap logger writing to the configured output.
func (c *LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, invalid("logging.level", "unknown level '%s'", c.Level)
	}
	cfg := zap.NewProductionConfig()
	if c.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = c.Format
	cfg.OutputPaths = []string{c.Output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// ValidationConfig contains evidence record validation settings.
type ValidationConfig struct {
	// DigestAlgorithm is used for signature message imprints.
	DigestAlgorithm string `yaml:"digest_algorithm" json:"digest_algorithm,omitempty"`

	// Parallel selects the parallel evidence record convention.
	Parallel bool `yaml:"parallel" json:"parallel"`

	// Workers bounds the records validated concurrently.
	Workers int `yaml:"workers" json:"workers,omitempty"`

	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust_anchors" json:"trust_anchors,omitempty"`

	// Intermediates contains paths to untrusted CA certificate files.
	Intermediates []string `yaml:"intermediates" json:"intermediates,omitempty"`

	// ValidationTime is an RFC 3339 time; empty means now.
	ValidationTime string `yaml:"validation_time" json:"validation_time,omitempty"`
}

// SetDefaults sets default values for validation configuration.
func (c *ValidationConfig) SetDefaults() {
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = string(digest.Default)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	if _, err := digest.Parse(c.DigestAlgorithm); err != nil {
		return invalid("validation.digest_algorithm", "%v", err)
	}
	if c.Workers < 1 {
		return invalid("validation.workers", "must be at least 1, got %d", c.Workers)
	}
	if _, _, err := c.Time(); err != nil {
		return err
	}
	return nil
}

// Algorithm returns the configured digest algorithm.
func (c *ValidationConfig) Algorithm() digest.Algorithm {
	alg, err := digest.Parse(c.DigestAlgorithm)
	if err != nil {
		return digest.Default
	}
	return alg
}

// Time returns the configured validation time and whether one is set.
func (c *ValidationConfig) Time() (time.Time, bool, error) {
	if c.ValidationTime == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, c.ValidationTime)
	if err != nil {
		return time.Time{}, false, invalid("validation.validation_time", "must be an RFC 3339 time: %v", err)
	}
	return t, true, nil
}

// TrustStore loads the configured anchors and intermediates.
func (c *ValidationConfig) TrustStore() (*certvalidator.TrustStore, error) {
	if len(c.TrustAnchors) == 0 {
		return nil, missing("validation.trust_anchors", "at least one trust anchor is required")
	}
	store, err := keys.LoadTrustStore(c.TrustAnchors, c.Intermediates)
	if err != nil {
		return nil, &ConfigError{Field: "validation.trust_anchors", Message: err.Error(), Err: err}
	}
	return store, nil
}

// NewValidator builds a validator from the settings. Without trust
// anchors no timestamp certificate is trusted. A fixed validation time
// freezes the validator clock.
func (c *ValidationConfig) NewValidator(logger *zap.Logger) (*evidencerecord.Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []evidencerecord.Option{
		evidencerecord.WithLogger(logger),
		evidencerecord.WithWorkers(c.Workers),
	}
	if len(c.TrustAnchors) > 0 {
		store, err := c.TrustStore()
		if err != nil {
			return nil, err
		}
		opts = append(opts, evidencerecord.WithTrustStore(store))
	} else {
		logger.Warn("No trust anchors configured, timestamps will not be trusted")
	}
	at, fixed, err := c.Time()
	if err != nil {
		return nil, err
	}
	if fixed {
		opts = append(opts, evidencerecord.WithClock(clockwork.NewFakeClockAt(at)))
	}
	return evidencerecord.NewValidator(opts...), nil
}

// TimestampConfig contains the timestamp source used to create and renew
// evidence records: a remote RFC 3161 service, or a local TSA credential.
type TimestampConfig struct {
	// URL is the timestamp service URL.
	URL string `yaml:"url" json:"url,omitempty"`

	// Username for HTTP authentication.
	Username string `yaml:"username" json:"username,omitempty"`

	// Password for HTTP authentication.
	Password string `yaml:"password" json:"password,omitempty"`

	// Timeout is the request timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// PKCS12 is a local TSA credential bundle.
	PKCS12 string `yaml:"pkcs12" json:"pkcs12,omitempty"`

	// PKCS12Password unlocks PKCS12.
	PKCS12Password string `yaml:"pkcs12_password" json:"pkcs12_password,omitempty"`

	// CertFile and KeyFile are a local TSA credential in PEM or DER.
	CertFile string `yaml:"cert_file" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file" json:"key_file,omitempty"`
}

// SetDefaults sets default values for timestamp configuration.
func (c *TimestampConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the timestamp configuration. An empty configuration
// is valid; Stamper reports the missing source when one is needed.
func (c *TimestampConfig) Validate() error {
	sources := 0
	if c.URL != "" {
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return invalid("timestamp.url", "must be an http or https URL, got '%s'", c.URL)
		}
		sources++
	}
	if c.PKCS12 != "" {
		sources++
	}
	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return missing("timestamp.cert_file", "cert_file and key_file must be set together")
		}
		sources++
	}
	if sources > 1 {
		return invalid("timestamp", "only one timestamp source may be configured")
	}
	return nil
}

// Stamper returns the configured timestamp source.
func (c *TimestampConfig) Stamper() (timestamps.Stamper, error) {
	switch {
	case c.URL != "":
		stamper := timestamps.NewHTTPStamper(c.URL)
		stamper.HTTPClient.Timeout = c.Timeout
		if c.Username != "" {
			stamper.SetCredentials(c.Username, c.Password)
		}
		return stamper, nil
	case c.PKCS12 != "":
		cred, err := keys.LoadPKCS12(c.PKCS12, c.PKCS12Password)
		if err != nil {
			return nil, &ConfigError{Field: "timestamp.pkcs12", Message: err.Error(), Err: err}
		}
		return localStamper(cred), nil
	case c.CertFile != "":
		cred, err := keys.LoadCredential(c.CertFile, c.KeyFile, nil)
		if err != nil {
			return nil, &ConfigError{Field: "timestamp.cert_file", Message: err.Error(), Err: err}
		}
		return localStamper(cred), nil
	}
	return nil, missing("timestamp.url", "no timestamp source configured")
}

func localStamper(cred *keys.Credential) timestamps.Stamper {
	return timestamps.NewDummyTimeStamper(cred.Certificate, cred.PrivateKey).WithCertsToEmbed(cred.CACerts)
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout,omitempty"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes,omitempty"`
}

// SetDefaults sets default values for server configuration.
func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if !strings.Contains(c.Addr, ":") {
		return invalid("server.addr", "must be host:port, got '%s'", c.Addr)
	}
	return nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Logging    *LoggingConfig    `yaml:"logging" json:"logging,omitempty"`
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`
	Timestamp  *TimestampConfig  `yaml:"timestamp" json:"timestamp,omitempty"`
	Server     *ServerConfig     `yaml:"server" json:"server,omitempty"`
}

// DefaultAppConfig returns a configuration with every default applied.
func DefaultAppConfig() *AppConfig {
	config := &AppConfig{}
	config.SetDefaults()
	return config
}

// SetDefaults fills missing sections and values.
func (c *AppConfig) SetDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	if c.Timestamp == nil {
		c.Timestamp = &TimestampConfig{}
	}
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	c.Logging.SetDefaults()
	c.Validation.SetDefaults()
	c.Timestamp.SetDefaults()
	c.Server.SetDefaults()
}

// Validate validates every section. Missing sections are reported, so
// SetDefaults is expected to run first.
func (c *AppConfig) Validate() error {
	if c.Logging == nil || c.Validation == nil || c.Timestamp == nil || c.Server == nil {
		return missing("", "configuration sections are missing, defaults were not applied")
	}
	for _, v := range []interface{ Validate() error }{c.Logging, c.Validation, c.Timestamp, c.Server} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseAppConfig parses, defaults and validates configuration from YAML
// data. Unknown keys are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

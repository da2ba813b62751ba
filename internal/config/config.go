package config

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/storage"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "storectl.json"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "STORECTL_"

	DefaultBackend = BackendSQLite
	DefaultKind    = "durable"
	DefaultScope   = "default"
	DefaultCodec   = "string"

	DefaultSQLitePath = "storectl.db"
	DefaultFileDir    = ".storectl"

	DefaultHubAddr         = "localhost:7070"
	DefaultHubPingInterval = "30s"
	DefaultHubWriteTimeout = "10s"

	DefaultServiceName = "storectl"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendS3     = "s3"
)

var codecs = []string{"string", "json", "yaml", "toml"}

// Config is the storectl.json configuration. Every field can be overridden
// with a STORECTL_* environment variable.
type Config struct {
	// Backend selects the storage medium: memory, sqlite, file or s3.
	Backend string `json:"backend,omitempty" env:"BACKEND"`

	// Kind is session or durable.
	Kind string `json:"kind,omitempty" env:"KIND"`

	// Scope is the key namespace used by the sqlite backend and the hub.
	Scope string `json:"scope,omitempty" env:"SCOPE"`

	// Codec is used by get and set to validate and pretty-print values.
	Codec string `json:"codec,omitempty" env:"CODEC"`

	SQLite SQLiteConfig `json:"sqlite,omitempty" envPrefix:"SQLITE_"`
	File   FileConfig   `json:"file,omitempty" envPrefix:"FILE_"`
	S3     S3Config     `json:"s3,omitempty" envPrefix:"S3_"`
	Hub    HubConfig    `json:"hub,omitempty" envPrefix:"HUB_"`
	OTel   OTelConfig   `json:"otel,omitempty" envPrefix:"OTEL_"`

	configPath string
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path     string `json:"path,omitempty" env:"PATH"`
	Table    string `json:"table,omitempty" env:"TABLE"`
	MaxBytes int64  `json:"maxBytes,omitempty" env:"MAX_BYTES"`
}

// FileConfig configures the file backend.
type FileConfig struct {
	Dir   string `json:"dir,omitempty" env:"DIR"`
	Quota int64  `json:"quota,omitempty" env:"QUOTA"`

	// NoWatch disables the directory watcher.
	NoWatch bool `json:"noWatch,omitempty" env:"NO_WATCH"`
}

// S3Config configures the s3 backend. Credentials fall back to the
// standard AWS_* variables.
type S3Config struct {
	Bucket          string `json:"bucket,omitempty" env:"BUCKET"`
	Prefix          string `json:"prefix,omitempty" env:"PREFIX"`
	Region          string `json:"region,omitempty" env:"REGION"`
	Endpoint        string `json:"endpoint,omitempty" env:"ENDPOINT"`
	UsePathStyle    bool   `json:"usePathStyle,omitempty" env:"USE_PATH_STYLE"`
	MaxValueBytes   int    `json:"maxValueBytes,omitempty" env:"MAX_VALUE_BYTES"`
	AccessKeyID     string `json:"-" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"-" env:"SECRET_ACCESS_KEY"`
	SessionToken    string `json:"-" env:"SESSION_TOKEN"`
}

// HubConfig configures the change hub.
type HubConfig struct {
	// Addr is the listen address of "storectl hub".
	Addr string `json:"addr,omitempty" env:"ADDR"`

	// URL is the hub base URL used by "storectl watch --hub" and
	// "storectl set --hub", e.g. ws://localhost:7070. Empty derives it
	// from Addr.
	URL string `json:"url,omitempty" env:"URL"`

	// Origins lists the allowed WebSocket origins. Empty allows any.
	Origins []string `json:"origins,omitempty" env:"ORIGINS" envSeparator:","`

	PingInterval string `json:"pingInterval,omitempty" env:"PING_INTERVAL"`
	WriteTimeout string `json:"writeTimeout,omitempty" env:"WRITE_TIMEOUT"`

	// Metrics serves Prometheus metrics on /metrics.
	Metrics bool `json:"metrics,omitempty" env:"METRICS"`
}

// OTelConfig configures trace export. Tracing is off without an endpoint.
type OTelConfig struct {
	Endpoint    string `json:"endpoint,omitempty" env:"ENDPOINT"`
	ServiceName string `json:"serviceName,omitempty" env:"SERVICE_NAME"`
}

// New creates a Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads storectl.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from path. The file is required.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigRead).
				WithDetail("No " + ConfigFileName + " found at " + path).
				WithSuggestion("Run 'storectl init' to create one")
		}
		return nil, errors.New(errors.CodeConfigRead).Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, syntaxError(path, data, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

func syntaxError(path string, data []byte, err error) error {
	e := errors.New(errors.CodeConfigSyntax).Wrap(err)

	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syntax):
		e.WithOffset(path, data, syntax.Offset)
		e.WithSuggestion("Check for a missing comma or quote near this position")
	case stderrors.As(err, &typ):
		e.WithOffset(path, data, typ.Offset)
		e.WithDetailf("Field %q expects a %s, got %s", typ.Field, typ.Type, typ.Value)
	}
	return e
}

// ApplyEnv overrides fields from STORECTL_* variables. A nil environ reads
// the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return errors.New(errors.CodeEnvOverride).Wrap(err)
	}
	c.applyDefaults()
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CodeConfigRead).Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.CodeConfigRead).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file, or "" when the
// config was not loaded from a file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Kind == "" {
		c.Kind = DefaultKind
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = DefaultSQLitePath
	}
	if c.File.Dir == "" {
		c.File.Dir = DefaultFileDir
	}
	if c.Hub.Addr == "" {
		c.Hub.Addr = DefaultHubAddr
	}
	if c.Hub.PingInterval == "" {
		c.Hub.PingInterval = DefaultHubPingInterval
	}
	if c.Hub.WriteTimeout == "" {
		c.Hub.WriteTimeout = DefaultHubWriteTimeout
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = DefaultServiceName
	}
}

// Validate checks the configuration and returns a coded error for the
// first problem found.
func (c *Config) Validate() error {
	if _, ok := storage.ParseKind(c.Kind); !ok {
		return errors.New(errors.CodeInvalidKind).
			WithDetailf("Kind %q is not session or durable", c.Kind)
	}

	if !contains(codecs, c.Codec) {
		return errors.New(errors.CodeInvalidSetting).
			WithDetailf("Codec %q is not one of %s", c.Codec, strings.Join(codecs, ", "))
	}

	switch c.Backend {
	case BackendMemory, BackendFile:
	case BackendSQLite:
		if c.SQLite.MaxBytes < 0 {
			return errors.New(errors.CodeInvalidSetting).
				WithDetail("sqlite.maxBytes must not be negative")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New(errors.CodeMissingSetting).
				WithDetail(`Backend "s3" needs a bucket`).
				WithSuggestion("Set s3.bucket in " + ConfigFileName + " or " + EnvPrefix + "S3_BUCKET").
				WithExample(`{"backend": "s3", "s3": {"bucket": "prefs", "region": "eu-west-1"}}`)
		}
		if c.S3.Region == "" && c.S3.Endpoint == "" {
			return errors.New(errors.CodeMissingSetting).
				WithDetail(`Backend "s3" needs a region or an endpoint`).
				WithSuggestion("Set s3.region or s3.endpoint")
		}
	default:
		return errors.New(errors.CodeUnknownBackend).
			WithDetailf("Backend %q is not one of memory, sqlite, file or s3", c.Backend)
	}

	if c.File.Quota < 0 || c.S3.MaxValueBytes < 0 {
		return errors.New(errors.CodeInvalidSetting).
			WithDetail("Quotas must not be negative")
	}

	for name, value := range map[string]string{
		"hub.pingInterval": c.Hub.PingInterval,
		"hub.writeTimeout": c.Hub.WriteTimeout,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return errors.New(errors.CodeInvalidSetting).
				WithDetailf("%s %q is not a positive duration", name, value)
		}
	}
	return nil
}

// StorageKind returns the parsed Kind. Call Validate first.
func (c *Config) StorageKind() storage.Kind {
	kind, _ := storage.ParseKind(c.Kind)
	return kind
}

// SQLitePath returns the database path, resolved against the config
// directory.
func (c *Config) SQLitePath() string {
	return c.resolve(c.SQLite.Path)
}

// FileDir returns the file backend directory, resolved against the config
// directory.
func (c *Config) FileDir() string {
	return c.resolve(c.File.Dir)
}

func (c *Config) resolve(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// PingInterval returns the parsed hub ping interval.
func (c *Config) PingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Hub.PingInterval)
	return d
}

// WriteTimeout returns the parsed hub write timeout.
func (c *Config) WriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Hub.WriteTimeout)
	return d
}

// SyncURL returns the hub WebSocket URL for scope.
func (c *Config) SyncURL(scope string) string {
	base := c.Hub.URL
	if base == "" {
		base = "ws://" + c.Hub.Addr
	}
	return strings.TrimRight(base, "/") + "/sync/" + scope
}

// Exists checks if a config file exists in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up from startDir to the first directory holding
// storectl.json.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigRead).
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory").
				WithSuggestion("Run 'storectl init' to create one")
		}
		dir = parent
	}
}

// Resolve loads the configuration storectl runs with. An explicit path
// must exist. Otherwise the nearest storectl.json above startDir is used,
// and defaults when there is none.
// Overrides, such as command-line flags, run after the environment and
// before validation.
func Resolve(path, startDir string, environ map[string]string, overrides ...func(*Config)) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		root, err := FindProjectRoot(startDir)
		if err != nil {
			cfg = New()
			break
		}
		loaded, err := Load(root)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package config loads conduitd's YAML configuration file.
//
// Example:
//
//	database:
//	  dialect: sqlite
//	  target: test.db
//	  connect_timeout: 5s
//	  query_timeout: 30s
//	log:
//	  level: info
//	  format: json
//	server:
//	  addr: :8080
//	export:
//	  enabled: true
//	  endpoint: localhost:9000
//	  access_key: minioadmin
//	  secret_key: minioadmin
//	  bucket: conduit-exports
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/session"
	"go.yaml.in/yaml/v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Database holds the session settings.
type Database struct {
	Dialect        session.Dialect `yaml:"dialect"`
	Target         string          `yaml:"target"`
	ConnectTimeout Duration        `yaml:"connect_timeout"`
	QueryTimeout   Duration        `yaml:"query_timeout"`
}

// Log holds the logger settings.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Addr string `yaml:"addr"`
}

// Export holds the optional object-storage sink settings.
type Export struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Config is the full conduitd configuration.
type Config struct {
	Database Database `yaml:"database"`
	Log      Log      `yaml:"log"`
	Server   Server   `yaml:"server"`
	Export   Export   `yaml:"export"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() *Config {
	return &Config{
		Database: Database{
			Dialect:        session.DialectSQLite,
			Target:         "conduit.db",
			ConnectTimeout: Duration(10 * time.Second),
			QueryTimeout:   Duration(30 * time.Second),
		},
		Log:    Log{Level: "info", Format: "json"},
		Server: Server{Addr: ":8080"},
	}
}

// Load reads and validates the YAML file at path. Missing fields fall back
// to Default values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot read config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot parse config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields no sensible default exists for.
func (c *Config) Validate() error {
	if !c.Database.Dialect.Valid() {
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported dialect %q", c.Database.Dialect)
	}
	if c.Database.Target == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.target must be set")
	}
	if c.Export.Enabled {
		if c.Export.Endpoint == "" || c.Export.Bucket == "" {
			return errs.New(errs.ErrKindInvalidInput, "export.endpoint and export.bucket must be set when export is enabled")
		}
	}
	return nil
}

// Session returns the database section as a session.Config.
func (c *Config) Session() *session.Config {
	return &session.Config{
		Dialect:        c.Database.Dialect,
		Target:         c.Database.Target,
		ConnectTimeout: c.Database.ConnectTimeout.Std(),
		QueryTimeout:   c.Database.QueryTimeout.Std(),
	}
}

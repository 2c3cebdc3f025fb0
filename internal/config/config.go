// Package config loads the engine's YAML configuration file and converts
// its sections into the component configs the rest of the module consumes.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/datakeel/migrec/internal/database"
	"github.com/datakeel/migrec/internal/errs"
	"github.com/datakeel/migrec/internal/filestore"
	"github.com/datakeel/migrec/internal/logger"
)

// File is the top-level shape of a migrec.yaml.
type File struct {
	Database DatabaseSection `yaml:"database"`
	Source   SourceSection   `yaml:"source"`
	Schema   SchemaSection   `yaml:"schema"`
	Runner   RunnerSection   `yaml:"runner"`
	Server   ServerSection   `yaml:"server"`
	Log      LogSection      `yaml:"log"`
}

// DatabaseSection configures the backing store connection.
type DatabaseSection struct {
	Driver string `yaml:"driver"` // postgres | mysql
	DSN    string `yaml:"dsn"`

	MaxConns        int32    `yaml:"max_conns"`
	MinConns        int32    `yaml:"min_conns"`
	MaxConnLifetime Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime Duration `yaml:"max_conn_idle_time"`
	ConnectTimeout  Duration `yaml:"connect_timeout"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML duration strings
// such as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// SourceSection configures where revision manifests are read from. Kind
// selects the source; only that source's fields are consulted.
type SourceSection struct {
	Kind string `yaml:"kind"` // dir | bucket

	// Dir source
	Path string `yaml:"path"`

	// Bucket source
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// SchemaSection points at the declared-schema file used for verification.
type SchemaSection struct {
	DeclaredPath string `yaml:"declared_path"`
}

// RunnerSection configures the reference SQL runner.
type RunnerSection struct {
	PositionTable string `yaml:"position_table"`
	ManifestDir   string `yaml:"manifest_dir"`
}

// ServerSection configures the read-only inspection API.
type ServerSection struct {
	Addr string `yaml:"addr"`
}

// LogSection configures logging output.
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, and validates a config file. ${VAR} references in
// the DSN and object-store credentials are expanded from the environment so
// secrets stay out of the file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	cfg := &File{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput,
			fmt.Sprintf("cannot parse config file %s", path), err)
	}

	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.Source.AccessKey = os.ExpandEnv(cfg.Source.AccessKey)
	cfg.Source.SecretKey = os.ExpandEnv(cfg.Source.SecretKey)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *File) applyDefaults() {
	if f.Database.Driver == "" {
		f.Database.Driver = string(database.DriverPostgres)
	}
	if f.Source.Kind == "" {
		f.Source.Kind = "dir"
	}
	if f.Source.Path == "" {
		f.Source.Path = "revisions"
	}
	if f.Runner.ManifestDir == "" {
		f.Runner.ManifestDir = f.Source.Path
	}
	if f.Server.Addr == "" {
		f.Server.Addr = ":8080"
	}
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	if f.Log.Format == "" {
		f.Log.Format = "json"
	}
}

func (f *File) validate() error {
	switch f.Database.Driver {
	case string(database.DriverPostgres), string(database.DriverMySQL):
	default:
		return errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("unknown database driver %q", f.Database.Driver))
	}
	if f.Database.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.dsn is required")
	}

	switch f.Source.Kind {
	case "dir":
	case "bucket":
		if f.Source.Endpoint == "" || f.Source.Bucket == "" {
			return errs.New(errs.ErrKindInvalidInput,
				"bucket source requires source.endpoint and source.bucket")
		}
	default:
		return errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("unknown source kind %q", f.Source.Kind))
	}
	return nil
}

// DatabaseConfig converts the database section, filling pool defaults for
// anything the file left unset.
func (f *File) DatabaseConfig() *database.Config {
	cfg := database.DefaultConfig(f.Database.DSN)
	cfg.Driver = database.Driver(f.Database.Driver)

	if f.Database.MaxConns > 0 {
		cfg.MaxConns = f.Database.MaxConns
	}
	if f.Database.MinConns > 0 {
		cfg.MinConns = f.Database.MinConns
	}
	if f.Database.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = time.Duration(f.Database.MaxConnLifetime)
	}
	if f.Database.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = time.Duration(f.Database.MaxConnIdleTime)
	}
	if f.Database.ConnectTimeout > 0 {
		cfg.ConnectTimeout = time.Duration(f.Database.ConnectTimeout)
	}
	if f.Database.QueryTimeout > 0 {
		cfg.QueryTimeout = time.Duration(f.Database.QueryTimeout)
	}
	return cfg
}

// Dialect returns the SQL dialect matching the configured driver.
func (f *File) Dialect() database.Dialect {
	if f.Database.Driver == string(database.DriverMySQL) {
		return database.DialectMySQL
	}
	return database.DialectPostgres
}

// FilestoreConfig converts the source section for a bucket source. Only
// meaningful when Source.Kind is "bucket".
func (f *File) FilestoreConfig() *filestore.Config {
	return &filestore.Config{
		Provider:  filestore.ProviderMinIO,
		Endpoint:  f.Source.Endpoint,
		AccessKey: f.Source.AccessKey,
		SecretKey: f.Source.SecretKey,
		UseSSL:    f.Source.UseSSL,
		Region:    f.Source.Region,
		Bucket:    f.Source.Bucket,
		Prefix:    f.Source.Prefix,
	}
}

// LoggerConfig converts the log section.
func (f *File) LoggerConfig() *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = f.Log.Level
	cfg.Format = f.Log.Format
	return cfg
}

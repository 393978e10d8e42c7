// Package config loads the top-level configuration of the cimnet service.
//
// A configuration file is JSON when its name ends in .json and YAML
// otherwise. Sections for backends that are not used may be left out.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/mongostream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/natsstream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/objectstream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/sqlreadings"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/stream"
	"github.com/ohowland/cgc_cim/internal/pkg/webservice"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// SourceKind selects where the network records come from.
type SourceKind string

const (
	SourceFile  SourceKind = "file"
	SourceNATS  SourceKind = "nats"
	SourceMongo SourceKind = "mongo"
	SourceS3    SourceKind = "s3"
)

// SourceConfig names the record source. Path is a file path for SourceFile
// and an object key for SourceS3.
type SourceConfig struct {
	Kind   SourceKind `json:"Kind" yaml:"kind"`
	Path   string     `json:"Path" yaml:"path"`
	Policy string     `json:"Policy" yaml:"policy"`
}

// ReadingsConfig selects the reading feeds attached after the build.
type ReadingsConfig struct {
	// SQL loads archived readings when set.
	SQL *sqlreadings.Config `json:"SQL,omitempty" yaml:"sql,omitempty"`
	// From and To bound the archived load in unix milliseconds. A zero To is
	// unbounded.
	From int64 `json:"From" yaml:"from"`
	To   int64 `json:"To" yaml:"to"`
	// Subscribe attaches a NATS reading subscriber.
	Subscribe bool `json:"Subscribe" yaml:"subscribe"`
	// Meters lists Modbus meter configuration files to poll.
	Meters []string `json:"Meters" yaml:"meters"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `json:"Level" yaml:"level"`
	Development bool   `json:"Development" yaml:"development"`
}

type Config struct {
	Source         SourceConfig        `json:"Source" yaml:"source"`
	BucketDuration int64               `json:"BucketDuration" yaml:"bucket_duration"`
	Readings       ReadingsConfig      `json:"Readings" yaml:"readings"`
	Webservice     webservice.Config   `json:"Webservice" yaml:"webservice"`
	NATS           natsstream.Config   `json:"NATS" yaml:"nats"`
	Mongo          mongostream.Config  `json:"Mongo" yaml:"mongo"`
	S3             objectstream.Config `json:"S3" yaml:"s3"`
	Log            LogConfig           `json:"Log" yaml:"log"`
}

// Default returns the configuration used for missing values.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration file at path and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = SourceFile
	}
	if c.Source.Policy == "" {
		c.Source.Policy = stream.PolicySkip.String()
	}
	if c.BucketDuration == 0 {
		c.BucketDuration = metrics.DefaultBucketDuration
	}
	if c.Webservice.Port == "" {
		c.Webservice.Port = "8080"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "records"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceFile, SourceS3:
		if c.Source.Path == "" {
			return fmt.Errorf("source %s needs a path", c.Source.Kind)
		}
	case SourceNATS, SourceMongo:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if p := stream.ParsePolicy(c.Source.Policy); p.String() != c.Source.Policy {
		return fmt.Errorf("unknown record policy %q", c.Source.Policy)
	}
	if c.BucketDuration < 0 {
		return fmt.Errorf("bucket duration must be positive, got %d", c.BucketDuration)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Policy returns the configured unknown-record policy.
func (c *Config) Policy() stream.Policy {
	return stream.ParsePolicy(c.Source.Policy)
}

// Logger builds the service logger.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

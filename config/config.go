// Package config loads the geoquery batch runner's configuration from a
// TOML file, in the same style as tegola's own config package: a $VAR
// environment-variable substitution pass ahead of TOML decoding.
package config

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Config is the set of configuration keys geoquery reads: the catalog
// and data database connections, the batch timeout, and the ambient
// fields (log level, describe cache size).
type Config struct {
	// SQLAlchemyCatalog is the catalog database DSN (config key
	// `sqlalchemy_catalog`).
	SQLAlchemyCatalog string `toml:"sqlalchemy_catalog"`
	// SQLAlchemyVectorstore is the data database DSN (config key
	// `sqlalchemy_vectorstore`).
	SQLAlchemyVectorstore string `toml:"sqlalchemy_vectorstore"`
	// TimeoutMS is the total batch timeout in milliseconds (config key
	// `timeout`). Zero means "unset"; the engine applies
	// registry.DefaultStatementTimeoutMS in that case.
	TimeoutMS int `toml:"timeout"`

	// LogLevel is the ambient logrus level name, e.g. "info", "debug".
	LogLevel string `toml:"log_level"`
	// DescribeCacheSize bounds the cross-batch catalog.ResourceDescriptor
	// LRU cache. Zero disables the cache (every batch re-introspects).
	DescribeCacheSize int `toml:"describe_cache_size"`
}

// envVarPattern matches a `$NAME` reference where NAME is a valid
// shell-style identifier (letters, digits, underscore, not starting
// with a digit). `$32.78` does not match and is left untouched.
var envVarPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// replaceEnvVars substitutes every `$NAME` reference in r with the value
// of the environment variable NAME (empty string if unset), returning a
// reader over the substituted content.
func replaceEnvVars(r io.Reader) (io.Reader, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	replaced := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := match[1:]
		return os.Getenv(name)
	})
	return bytes.NewReader([]byte(replaced)), nil
}

// Load reads and decodes the TOML config file at path, substituting
// $VAR environment references first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	substituted, err := replaceEnvVars(f)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeReader(substituted, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the required keys are present.
func (c *Config) Validate() error {
	if c.SQLAlchemyCatalog == "" {
		return errConfigMissing("sqlalchemy_catalog")
	}
	if c.SQLAlchemyVectorstore == "" {
		return errConfigMissing("sqlalchemy_vectorstore")
	}
	return nil
}

type errConfigMissing string

func (e errConfigMissing) Error() string {
	return "config: missing required key " + string(e)
}

/*
Package config loads the server configuration.

PURPOSE:
  One Load() entry point merging, in order of precedence:
    1. environment variables (prefix INDICATOR_, dots become underscores)
    2. a YAML config file (INDICATOR_CONFIG or ./indicator-engine.yaml)
    3. built-in defaults

  The display-name tables live here too: the engine stores opaque
  numeric ids for projects, categories, types and unit types, and the
  deployment supplies the names shown in exports.

SEE ALSO:
  - cmd/server/main.go: the only consumer
  - bulk/reconciler.go: NameResolver, fed from the Names section
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/curatio/indicator-engine/bulk"
)

// Config holds application configuration.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Log    LogConfig
	Cache  CacheConfig
	Names  NamesConfig
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port        int
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver   string
	Path     string // sqlite database file
	URL      string // postgres DSN
	MaxConns int32  `mapstructure:"max_conns"`
}

// LogConfig holds zerolog settings.
type LogConfig struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
}

// CacheConfig holds the user-status cache settings.
type CacheConfig struct {
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// NamesConfig maps numeric ids to display names. Keys are the decimal
// id; YAML map keys are always strings, so the conversion happens in
// Resolver().
type NamesConfig struct {
	Projects   map[string]string
	Categories map[string]string
	Types      map[string]string
	UnitTypes  map[string]string `mapstructure:"unit_types"`
}

// Load reads configuration from file and env. Env var overrides use
// prefix INDICATOR_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/indicators.db")
	v.SetDefault("store.url", "")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cache.status_ttl", 2*time.Minute)

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("INDICATOR_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("indicator-engine")
	}

	v.SetEnvPrefix("INDICATOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.URL == "" {
		return fmt.Errorf("store driver %q requires store.url", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Cache.StatusTTL <= 0 {
		return fmt.Errorf("cache.status_ttl must be positive")
	}
	return nil
}

// Resolver builds the display-name resolver from the Names section.
// Malformed id keys are skipped; unresolvable ids fall back to their
// decimal form at lookup time.
func (c Config) Resolver() bulk.MapResolver {
	return bulk.MapResolver{
		Projects:   parseIDMap(c.Names.Projects),
		Categories: parseIDMap(c.Names.Categories),
		Types:      parseIDMap(c.Names.Types),
		UnitTypes:  parseIDMap(c.Names.UnitTypes),
	}
}

func parseIDMap(in map[string]string) map[int64]string {
	out := make(map[int64]string, len(in))
	for k, name := range in {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			continue
		}
		out[id] = name
	}
	return out
}

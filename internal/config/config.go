// Package config loads relay configuration from an optional YAML file
// with environment variable overrides. A .env file is honored when
// present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Redis switches the channel fabric from in-process to Redis
	// pub/sub when set.
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	// Exactly one storage backend is picked: Mongo if its URI is set,
	// else Postgres if its URL is set, else in-memory.
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	Session struct {
		TypingIdle        Duration `yaml:"typing_idle"`
		AutosaveDelay     Duration `yaml:"autosave_delay"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		PingThreshold     Duration `yaml:"ping_threshold"`
	} `yaml:"session"`
}

// Duration parses "1500ms"-style YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads path (if non-empty), then applies env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.Server.Addr = ":8081"
	cfg.Mongo.Database = "notesync"

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	override(&cfg.Server.Addr, "LISTEN_ADDR")
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Mongo.URI, "MONGO_URI")
	override(&cfg.Mongo.Database, "MONGO_DB")
	override(&cfg.Postgres.URL, "DATABASE_URL")

	return cfg, nil
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

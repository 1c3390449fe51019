package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Node struct {
		ID string `yaml:"id"`
	} `yaml:"node"`
	Audit struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"audit"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Mastership struct {
		Backend string `yaml:"backend"` // "local" or "nats"
		Bucket  string `yaml:"bucket"`
	} `yaml:"mastership"`
	NATS struct {
		URL  string `yaml:"url"`
		Name string `yaml:"name"`
	} `yaml:"nats"`
	Events struct {
		QueueSize int `yaml:"queue_size"`
		NATS      struct {
			Enabled       bool          `yaml:"enabled"`
			Stream        string        `yaml:"stream"`
			SubjectPrefix string        `yaml:"subject_prefix"`
			MaxAge        time.Duration `yaml:"max_age"`
		} `yaml:"nats"`
	} `yaml:"events"`
	NetCfg struct {
		Path string `yaml:"path"`
	} `yaml:"netcfg"`
	Scripts struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"scripts"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

// usesNATS reports whether any component needs a NATS connection.
func (c *Config) usesNATS() bool {
	return c.Mastership.Backend == "nats" || c.Events.NATS.Enabled
}

func (c *Config) validate() error {
	switch c.Mastership.Backend {
	case "local", "nats":
	default:
		return fmt.Errorf("mastership.backend must be local or nats, got %q", c.Mastership.Backend)
	}
	if c.usesNATS() && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required with the nats mastership backend or nats events")
	}
	if c.Audit.Interval < time.Second {
		return fmt.Errorf("audit.interval must be at least 1s, got %s", c.Audit.Interval)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix must not contain wildcards")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	if c.Audit.Interval == 0 {
		c.Audit.Interval = time.Minute
	}
	if c.Store.Path == "" {
		c.Store.Path = "netcontrol.db"
	}
	if c.Mastership.Backend == "" {
		c.Mastership.Backend = "local"
	}
	if c.Mastership.Bucket == "" {
		c.Mastership.Bucket = "netcontrol-mastership"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "netcontrol-" + c.Node.ID
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = 1024
	}
	if c.NetCfg.Path == "" {
		c.NetCfg.Path = "network.yaml"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8181"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "netcontrol"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "netcontrol-" + c.Node.ID
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// levelTrace sits below debug; the manager logs expected mastership races
// at this level.
const levelTrace = slog.LevelDebug - 4

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "trace":
		level = levelTrace
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

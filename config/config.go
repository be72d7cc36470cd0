package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration, read once at startup
type Config struct {
	MQTT         MQTTConfig             `mapstructure:"mqtt"`
	Storage      StorageConfig          `mapstructure:"storage"`
	Server       ServerConfig           `mapstructure:"server"`
	Ingest       IngestConfig           `mapstructure:"ingest"`
	Broadcast    BroadcastConfig        `mapstructure:"broadcast"`
	Transformers map[string]Transformer `mapstructure:"transformers"`
	Logger       LoggerConfig           `mapstructure:"logger"`
}

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker    string        `mapstructure:"broker"`
	ClientID  string        `mapstructure:"client_id"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Topic     string        `mapstructure:"topic"`
	KeepAlive time.Duration `mapstructure:"keepalive"`
}

// StorageConfig selects the primary database and the optional mirrors
type StorageConfig struct {
	Type  string             `mapstructure:"type"`
	DSN   string             `mapstructure:"dsn"`
	File  FileStorageConfig  `mapstructure:"file"`
	Redis RedisStorageConfig `mapstructure:"redis"`
}

// FileStorageConfig configures the JSON-lines reading archive
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RedisStorageConfig configures the latest-reading cache
type RedisStorageConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AdminToken   string   `mapstructure:"admin_token"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// IngestConfig tunes the serial ingestion worker
type IngestConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// BroadcastConfig sizes the viewer hand-off buffers
type BroadcastConfig struct {
	Buffer       int `mapstructure:"buffer"`
	ViewerBuffer int `mapstructure:"viewer_buffer"`
}

// Transformer points at a payload script for one topic kind
type Transformer struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// LoggerConfig configures the logger package
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ChangeCallback is invoked with the freshly decoded config after the file changes
type ChangeCallback func(cfg *Config) error

// Loader reads the config file and watches it for changes
type Loader struct {
	v        *viper.Viper
	mu       sync.Mutex
	debounce time.Duration
	last     time.Time
}

// NewLoader creates a loader with every default registered.
// An empty path means defaults plus environment only.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	return &Loader{v: v, debounce: 2 * time.Second}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic", "iot/+/+/reading")
	v.SetDefault("mqtt.keepalive", 30*time.Second)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.dsn", "./edge_readings.db")
	v.SetDefault("storage.file.enabled", false)
	v.SetDefault("storage.file.path", "./data/readings")
	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.ttl", 24*time.Hour)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.admin_token", "admin-demo-token")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("ingest.poll_interval", 250*time.Millisecond)
	v.SetDefault("ingest.persist_timeout", 5*time.Second)

	v.SetDefault("broadcast.buffer", 256)
	v.SetDefault("broadcast.viewer_buffer", 64)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file_path", "./logs/edge.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

// Load reads the config file (when one was given) and decodes it
func (l *Loader) Load() (*Config, error) {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.v.ConfigFileUsed(), err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker cannot be empty")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic cannot be empty")
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("storage.type cannot be empty")
	}
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("ingest.poll_interval must be positive")
	}
	if c.Broadcast.Buffer <= 0 || c.Broadcast.ViewerBuffer <= 0 {
		return fmt.Errorf("broadcast buffers must be positive")
	}
	return nil
}

// Watch reloads the config on every write to the file and hands it to callback.
// Bursts of writes inside the debounce window are collapsed.
func (l *Loader) Watch(callback ChangeCallback, onError func(error)) error {
	path := l.v.ConfigFileUsed()
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}
	if _, err := filepath.Abs(path); err != nil {
		return err
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) {
			return
		}

		l.mu.Lock()
		now := time.Now()
		if now.Sub(l.last) < l.debounce {
			l.mu.Unlock()
			return
		}
		l.last = now
		l.mu.Unlock()

		cfg, err := l.decode()
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		if err := callback(cfg); err != nil {
			onError(fmt.Errorf("apply %s: %w", e.Name, err))
		}
	})
	l.v.WatchConfig()

	return nil
}

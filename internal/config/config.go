package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in a container/prod the config
// comes from real environment variables only).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// SnapshotConfig controls where and how often the store state is persisted.
// Backend precedence: postgres (DATABASE_URL) > redis (REDIS_URL) > file.
type SnapshotConfig struct {
	Path     string        `yaml:"snapshot_path"`
	Interval time.Duration `yaml:"-"`
	RedisURL string        `yaml:"-"`
	PgURL    string        `yaml:"-"`
}

// Config holds the relay server and CLI client settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Server
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// WebSocket
	MaxWSConnections int `yaml:"max_ws_connections"`
	WSSendBufferSize int `yaml:"ws_send_buffer_size"`
	WSWriteTimeout   int `yaml:"ws_write_timeout"`
	WSPongTimeout    int `yaml:"ws_pong_timeout"`
	WSMaxMessageSize int `yaml:"ws_max_message_size"`

	// Persistence
	Snapshot SnapshotConfig `yaml:"-"`

	// CORS
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// RelayHost is the host:port the CLI client connects to.
	RelayHost string `yaml:"relay_host"`
}

// yamlConfig is the intermediate structure for parsing the YAML file.
type yamlConfig struct {
	ServerAddr          string `yaml:"server_addr"`
	ReadTimeout         int    `yaml:"read_timeout"`
	WriteTimeout        int    `yaml:"write_timeout"`
	IdleTimeout         int    `yaml:"idle_timeout"`
	MaxWSConnections    int    `yaml:"max_ws_connections"`
	WSSendBufferSize    int    `yaml:"ws_send_buffer_size"`
	WSWriteTimeout      int    `yaml:"ws_write_timeout"`
	WSPongTimeout       int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize    int    `yaml:"ws_max_message_size"`
	SnapshotPath        string `yaml:"snapshot_path"`
	SnapshotIntervalSec int    `yaml:"snapshot_interval"`
	CORSAllowedOrigins  string `yaml:"cors_allowed_origins"`
	LogLevel            string `yaml:"log_level"`
	RelayHost           string `yaml:"relay_host"`
}

// Load loads the configuration.
// Variables from .env (if present) are applied first, then the YAML file,
// then real environment variables (env has the highest priority).
func Load() *Config {
	loadEnv()
	// Defaults
	yc := yamlConfig{
		ServerAddr:          ":3000",
		ReadTimeout:         15,
		WriteTimeout:        15,
		IdleTimeout:         60,
		MaxWSConnections:    10000,
		WSSendBufferSize:    256,
		WSWriteTimeout:      10,
		WSPongTimeout:       60,
		WSMaxMessageSize:    1 << 20, // image payloads travel inline as data URIs
		SnapshotPath:        "./chat.db.json",
		SnapshotIntervalSec: 5,
		CORSAllowedOrigins:  "*",
		LogLevel:            "info",
		RelayHost:           "localhost:3000",
	}

	// Application config: CONFIG_PATH → config/relay.yaml
	paths := []string{os.Getenv("CONFIG_PATH"), "config/relay.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (falling back to defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	interval := envInt("SNAPSHOT_INTERVAL", yc.SnapshotIntervalSec)
	if interval <= 0 {
		interval = 5
	}

	cfg := &Config{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:     envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout),
		WSPongTimeout:      envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout),
		WSMaxMessageSize:   envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		RelayHost:          envStr("RELAY_HOST", yc.RelayHost),
		Snapshot: SnapshotConfig{
			Path:     envStr("SNAPSHOT_PATH", yc.SnapshotPath),
			Interval: time.Duration(interval) * time.Second,
			RedisURL: envStr("REDIS_URL", ""),
			PgURL:    envStr("DATABASE_URL", ""),
		},
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: set CORS_ALLOWED_ORIGINS in production (an explicit origin list, not *)")
			// Do not kill the process — the relay should still come up; CORS can be tightened later
		}
	}

	return cfg
}

// envStr returns the value of an environment variable or a fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric value of an environment variable or a fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

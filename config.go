package siridb

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/imdario/mergo"
	"github.com/spf13/viper"
)

// Config is the server's resolved configuration: compiled-in defaults,
// overlaid by an on-disk toml file, overlaid by SIRIDB_* environment
// variables (spec §6.7: "override config file").
type Config struct {
	ListenClientPort     int           `toml:"listen_client_port"`
	HTTPStatusPort       int           `toml:"http_status_port"`
	HTTPAPIPort          int           `toml:"http_api_port"`
	MaxOpenFiles         int           `toml:"max_open_files"`
	EnablePipeSupport    bool          `toml:"enable_pipe_support"`
	EnableShardCompression bool        `toml:"enable_shard_compression"`
	EnableShardAutoDuration bool       `toml:"enable_shard_auto_duration"`
	IgnoreBrokenData     bool          `toml:"ignore_broken_data"`
	DBPath               string        `toml:"db_path"`
	BufferSyncInterval   time.Duration `toml:"buffer_sync_interval"`
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	OptimizingInterval   time.Duration `toml:"optimizing_interval"`
	IPSupport            string        `toml:"ip_support"`
	BindClientAddress    string        `toml:"bind_client_address"`
	BindServerAddress    string        `toml:"bind_server_address"`
	PipeClientName       string        `toml:"pipe_client_name"`
	ServerName           string        `toml:"server_name"`
	LogLevel             string        `toml:"log_level"`
}

// DefaultConfig returns the compiled-in baseline every layer merges onto.
func DefaultConfig() Config {
	return Config{
		ListenClientPort:     9000,
		HTTPStatusPort:       8080,
		HTTPAPIPort:          0, // loaded but not read elsewhere; no JSON API mirror is served
		MaxOpenFiles:         DefaultFileHandleCacheSize,
		EnablePipeSupport:    false,
		EnableShardCompression: true,
		EnableShardAutoDuration: true,
		IgnoreBrokenData:     false,
		DBPath:               "/var/lib/siridb",
		BufferSyncInterval:   30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		OptimizingInterval:   6 * time.Hour,
		IPSupport:            "ALL",
		BindClientAddress:    "0.0.0.0",
		BindServerAddress:    "0.0.0.0",
		PipeClientName:       "",
		ServerName:           "",
		LogLevel:             "info",
	}
}

// envBindings lists every SIRIDB_* variable spec §6.7 recognizes,
// mapped to the viper/toml key it overrides.
var envBindings = map[string]string{
	"SIRIDB_LISTEN_CLIENT_PORT":        "listen_client_port",
	"SIRIDB_HTTP_STATUS_PORT":          "http_status_port",
	"SIRIDB_HTTP_API_PORT":             "http_api_port",
	"SIRIDB_MAX_OPEN_FILES":            "max_open_files",
	"SIRIDB_ENABLE_PIPE_SUPPORT":       "enable_pipe_support",
	"SIRIDB_ENABLE_SHARD_COMPRESSION":  "enable_shard_compression",
	"SIRIDB_ENABLE_SHARD_AUTO_DURATION": "enable_shard_auto_duration",
	"SIRIDB_IGNORE_BROKEN_DATA":        "ignore_broken_data",
	"SIRIDB_DB_PATH":                   "db_path",
	"SIRIDB_BUFFER_SYNC_INTERVAL":      "buffer_sync_interval_ms",
	"SIRIDB_HEARTBEAT_INTERVAL":        "heartbeat_interval_s",
	"SIRIDB_OPTIMIZING_INTERVAL":       "optimizing_interval_s",
	"SIRIDB_IP_SUPPORT":                "ip_support",
	"SIRIDB_BIND_CLIENT_ADDRESS":       "bind_client_address",
	"SIRIDB_BIND_SERVER_ADDRESS":       "bind_server_address",
	"SIRIDB_PIPE_CLIENT_NAME":          "pipe_client_name",
	"SIRIDB_SERVER_NAME":               "server_name",
}

// LoadConfig reads path (if non-empty) as a toml file, merges it onto
// DefaultConfig, then lets viper overlay any of the SIRIDB_* environment
// variables spec §6.7 recognizes on top — env always wins, matching "all
// optional; override config file".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// Decode onto a copy of the defaults so keys absent from the file
		// keep their default and keys set to a zero value (false, 0, "")
		// still override it.
		fromFile := cfg
		if _, err := toml.DecodeFile(path, &fromFile); err != nil {
			return Config{}, err
		}
		if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
			return Config{}, err
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for env, key := range envBindings {
		_ = v.BindEnv(key, env)
	}
	applyEnvOverrides(&cfg, v)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if v.IsSet("listen_client_port") {
		cfg.ListenClientPort = v.GetInt("listen_client_port")
	}
	if v.IsSet("http_status_port") {
		cfg.HTTPStatusPort = v.GetInt("http_status_port")
	}
	if v.IsSet("http_api_port") {
		cfg.HTTPAPIPort = v.GetInt("http_api_port")
	}
	if v.IsSet("max_open_files") {
		cfg.MaxOpenFiles = v.GetInt("max_open_files")
	}
	if v.IsSet("enable_pipe_support") {
		cfg.EnablePipeSupport = v.GetBool("enable_pipe_support")
	}
	if v.IsSet("enable_shard_compression") {
		cfg.EnableShardCompression = v.GetBool("enable_shard_compression")
	}
	if v.IsSet("enable_shard_auto_duration") {
		cfg.EnableShardAutoDuration = v.GetBool("enable_shard_auto_duration")
	}
	if v.IsSet("ignore_broken_data") {
		cfg.IgnoreBrokenData = v.GetBool("ignore_broken_data")
	}
	if v.IsSet("db_path") {
		cfg.DBPath = v.GetString("db_path")
	}
	if v.IsSet("buffer_sync_interval_ms") {
		cfg.BufferSyncInterval = time.Duration(v.GetInt("buffer_sync_interval_ms")) * time.Millisecond
	}
	if v.IsSet("heartbeat_interval_s") {
		cfg.HeartbeatInterval = time.Duration(v.GetInt("heartbeat_interval_s")) * time.Second
	}
	if v.IsSet("optimizing_interval_s") {
		cfg.OptimizingInterval = time.Duration(v.GetInt("optimizing_interval_s")) * time.Second
	}
	if v.IsSet("ip_support") {
		cfg.IPSupport = v.GetString("ip_support")
	}
	if v.IsSet("bind_client_address") {
		cfg.BindClientAddress = v.GetString("bind_client_address")
	}
	if v.IsSet("bind_server_address") {
		cfg.BindServerAddress = v.GetString("bind_server_address")
	}
	if v.IsSet("pipe_client_name") {
		cfg.PipeClientName = v.GetString("pipe_client_name")
	}
	if v.IsSet("server_name") {
		cfg.ServerName = v.GetString("server_name")
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"webrtc101/pkg/webrtc/protocol"
)

const (
	defaultSTUN = "stun:stun.l.google.com:19302"

	ICEModeSTUNTURN = "stun-turn"
	ICEModeTURNOnly = "turn-only"
	ICEModeSTUNOnly = "stun-only"
)

// Config is the resolved server configuration.
type Config struct {
	Addr        string
	LogLevel    string
	StaticDir   string
	PublicWSURL string

	// StrictReplies turns silent drops (unknown room, rejected share) into
	// explicit room-not-found / share-rejected events.
	StrictReplies bool

	RoomIdleTTL  time.Duration
	ReapInterval time.Duration

	Redis RedisConfig

	ICEMode    string
	ICEServers []protocol.ICEServer

	// Warnings collects non-fatal problems found while resolving ICE servers.
	Warnings []string
}

// RedisConfig points at the optional presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr   string
	Prefix string
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"addr":                     "ADDR",
	"log_level":                "LOG_LEVEL",
	"static_dir":               "STATIC_DIR",
	"public_ws_url":            "PUBLIC_WS_URL",
	"signaling.strict_replies": "STRICT_REPLIES",
	"rooms.idle_ttl":           "ROOM_IDLE_TTL",
	"rooms.reap_interval":      "ROOM_REAP_INTERVAL",
	"redis.addr":               "REDIS_ADDR",
	"redis.prefix":             "REDIS_PREFIX",
	"ice.mode":                 "ICE_MODE",
	"ice.stun_urls":            "STUN_URLS",
	"ice.turn_urls":            "TURN_URLS",
	"ice.turn_username":        "TURN_USERNAME",
	"ice.turn_password":        "TURN_PASSWORD",
}

// Load reads the optional config file at path and applies environment
// overrides on top of defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("static_dir", "")
	v.SetDefault("public_ws_url", "")
	v.SetDefault("signaling.strict_replies", false)
	v.SetDefault("rooms.idle_ttl", 10*time.Minute)
	v.SetDefault("rooms.reap_interval", time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "webrtc")
	v.SetDefault("ice.mode", ICEModeSTUNTURN)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if isDotenv(path) {
			applyDotenv(v)
		}
	}

	cfg := Config{
		Addr:          strings.TrimSpace(v.GetString("addr")),
		LogLevel:      v.GetString("log_level"),
		StaticDir:     strings.TrimSpace(v.GetString("static_dir")),
		PublicWSURL:   strings.TrimSpace(v.GetString("public_ws_url")),
		StrictReplies: v.GetBool("signaling.strict_replies"),
		RoomIdleTTL:   v.GetDuration("rooms.idle_ttl"),
		ReapInterval:  v.GetDuration("rooms.reap_interval"),
		Redis: RedisConfig{
			Addr:   strings.TrimSpace(v.GetString("redis.addr")),
			Prefix: strings.TrimSpace(v.GetString("redis.prefix")),
		},
		ICEMode: strings.TrimSpace(v.GetString("ice.mode")),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ICEMode == "" {
		cfg.ICEMode = ICEModeSTUNTURN
	}
	if cfg.RoomIdleTTL <= 0 {
		return Config{}, fmt.Errorf("rooms.idle_ttl must be positive, got %s", cfg.RoomIdleTTL)
	}
	if cfg.ReapInterval <= 0 {
		return Config{}, fmt.Errorf("rooms.reap_interval must be positive, got %s", cfg.ReapInterval)
	}

	cfg.ICEServers, cfg.Warnings = resolveICE(cfg.ICEMode, iceInput{
		stun:     stringList(v, "ice.stun_urls"),
		turn:     stringList(v, "ice.turn_urls"),
		username: strings.TrimSpace(v.GetString("ice.turn_username")),
		password: strings.TrimSpace(v.GetString("ice.turn_password")),
	})
	return cfg, nil
}

func isDotenv(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".env" || ext == ".dotenv"
}

// applyDotenv moves flat dotenv keys (redis_addr) onto the nested keys they
// stand for (redis.addr). The process environment still wins.
func applyDotenv(v *viper.Viper) {
	for key, env := range envBindings {
		flat := strings.ToLower(env)
		if flat == key || !v.InConfig(flat) {
			continue
		}
		if os.Getenv(env) != "" {
			continue
		}
		v.Set(key, v.Get(flat))
	}
}

type iceInput struct {
	stun     []string
	turn     []string
	username string
	password string
}

// resolveICE applies the ICE mode: stun-turn (default) advertises both,
// turn-only drops STUN, stun-only drops TURN. turn-only without TURN servers
// falls back to the default STUN server.
func resolveICE(mode string, in iceInput) ([]protocol.ICEServer, []string) {
	var servers []protocol.ICEServer
	var warnings []string

	turnOnly := strings.EqualFold(mode, ICEModeTURNOnly)
	stunOnly := strings.EqualFold(mode, ICEModeSTUNOnly)

	if !turnOnly {
		if len(in.stun) > 0 {
			servers = append(servers, protocol.ICEServer{URLs: in.stun})
		} else {
			servers = append(servers, protocol.ICEServer{URLs: []string{defaultSTUN}})
		}
	}

	if !stunOnly {
		if len(in.turn) > 0 {
			servers = append(servers, protocol.ICEServer{
				URLs:       in.turn,
				Username:   in.username,
				Credential: in.password,
			})
		} else if !turnOnly {
			warnings = append(warnings, "TURN not configured; set TURN_URLS and credentials for relay fallback")
		}
	}

	if turnOnly && len(servers) == 0 {
		warnings = append(warnings, "ICE_MODE=turn-only set but no TURN servers are configured; falling back to default STUN")
		servers = append(servers, protocol.ICEServer{URLs: []string{defaultSTUN}})
	}
	return servers, warnings
}

// stringList accepts either a comma separated string (env vars) or a list
// (config files).
func stringList(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		return splitAndClean(raw)
	default:
		return splitAndClean(strings.Join(v.GetStringSlice(key), ","))
	}
}

func splitAndClean(csv string) []string {
	parts := strings.Split(csv, ",")
	var out []string
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

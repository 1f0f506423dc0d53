// Package config loads and validates the client configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

type Config struct {
	Server    Server    `json:"server"`
	Transport Transport `json:"transport"`
	Chat      Chat      `json:"chat"`
	Call      Call      `json:"call"`
	Cache     Cache     `json:"cache"`
}

type Server struct {
	// WSURL is the broker's WebSocket endpoint, e.g. "wss://host/ws".
	WSURL string `json:"ws_url"`
	// APIBase is the REST base URL, e.g. "https://host".
	APIBase string `json:"api_base"`
	// Token is the bearer token; its subject claim names the per-user queues.
	Token string `json:"token"`
}

type Transport struct {
	HeartbeatSec      int `json:"heartbeat_seconds"`
	ReconnectDelaySec int `json:"reconnect_delay_seconds"`
}

type Chat struct {
	TypingExpirySec   int `json:"typing_expiry_seconds"`
	TypingDebounceSec int `json:"typing_debounce_seconds"`
	PageSize          int `json:"page_size"`
}

type Call struct {
	// STUNServers lists ICE servers, e.g. "stun:stun.l.google.com:19302".
	// STUN only — no TURN relay is configured or supported.
	STUNServers []string `json:"stun_servers"`
}

type Cache struct {
	UserTTLSec int `json:"user_ttl_seconds"`
}

func Default() Config {
	return Config{
		Transport: Transport{
			HeartbeatSec:      4,
			ReconnectDelaySec: 5,
		},
		Chat: Chat{
			TypingExpirySec:   5,
			TypingDebounceSec: 2,
			PageSize:          50,
		},
		Call: Call{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Cache: Cache{
			UserTTLSec: 300,
		},
	}
}

func (c *Config) Validate() error {
	ws := strings.TrimSpace(c.Server.WSURL)
	if ws == "" {
		return errors.New("server.ws_url is required")
	}
	if u, err := url.Parse(ws); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return errors.New("server.ws_url must be a ws:// or wss:// url")
	}

	api := strings.TrimSpace(c.Server.APIBase)
	if api == "" {
		return errors.New("server.api_base is required")
	}
	if u, err := url.Parse(api); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("server.api_base must be an http:// or https:// url")
	}

	if c.Transport.HeartbeatSec < 0 {
		return errors.New("transport.heartbeat_seconds must be >= 0")
	}
	if c.Transport.ReconnectDelaySec <= 0 {
		return errors.New("transport.reconnect_delay_seconds must be > 0")
	}
	if c.Chat.TypingExpirySec <= 0 {
		return errors.New("chat.typing_expiry_seconds must be > 0")
	}
	if c.Chat.TypingDebounceSec <= 0 {
		return errors.New("chat.typing_debounce_seconds must be > 0")
	}
	if c.Chat.PageSize <= 0 || c.Chat.PageSize > 500 {
		return errors.New("chat.page_size must be 1..500")
	}
	if len(c.Call.STUNServers) == 0 {
		return errors.New("call.stun_servers must not be empty")
	}
	for _, s := range c.Call.STUNServers {
		if !strings.HasPrefix(s, "stun:") {
			return fmt.Errorf("call.stun_servers: %q is not a stun: url", s)
		}
	}
	if c.Cache.UserTTLSec <= 0 {
		return errors.New("cache.user_ttl_seconds must be > 0")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Ensure loads the config if it exists; otherwise writes a default file.
// The default fails validation until server urls are filled in, so a fresh
// file is written unvalidated. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Config{}, false, err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

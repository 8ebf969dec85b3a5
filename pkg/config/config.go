package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
		// RateLimit applies to mutating REST routes.
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		Retention RetentionConfig `yaml:"retention"`
	} `yaml:"server"`
	Client struct {
		// BaseURL is the REST origin, e.g. "https://support.example.com".
		// The socket scheme follows it: https -> wss, http -> ws.
		BaseURL string `yaml:"base_url"`
		WSBase  string `yaml:"ws_base"`
		Role    string `yaml:"role"` // customer|agent
		// Bootstrap selects the deployment variant: "fetch" loads history
		// via REST before the socket opens, "socket" expects the server to
		// push a bootstrap event on connect.
		Bootstrap      string `yaml:"bootstrap"`
		ReconnectDelay string `yaml:"reconnect_delay"` // duration, default 2s
		PollInterval   string `yaml:"poll_interval"`   // duration, default 10s
		Attachments    struct {
			// Mode selects the attachment path: "upload" (multipart REST)
			// or "inline" (base64 over the socket).
			Mode string `yaml:"mode"`
		} `yaml:"attachments"`
	} `yaml:"client"`
	Storage struct {
		CachePath string `yaml:"cache_path"`
	} `yaml:"storage"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// RetentionConfig controls the idle-thread sweeper.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	MaxIdle string `yaml:"max_idle"` // duration, e.g. "720h"
}

// MaxIdleDuration parses MaxIdle, defaulting to 30 days.
func (r RetentionConfig) MaxIdleDuration() time.Duration {
	return parseDurationDefault(r.MaxIdle, 30*24*time.Hour)
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8090
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ReconnectDelay returns the socket reconnect delay, defaulting to the
// fixed 2 s the deployed front ends use.
func (c *Config) ReconnectDelay() time.Duration {
	return parseDurationDefault(c.Client.ReconnectDelay, 2*time.Second)
}

// PollInterval returns the registry poll interval, defaulting to 10 s.
func (c *Config) PollInterval() time.Duration {
	return parseDurationDefault(c.Client.PollInterval, 10*time.Second)
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, cachePath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8090", "HTTP listen address")
	cachePtr := flag.String("cache", "./.supportchat", "Pebble cache path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *cachePtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("SUPPORTCHAT_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("SUPPORTCHAT_CACHE_PATH"); v != "" {
		envUsed = true
		cfg.Storage.CachePath = v
	}
	if v := os.Getenv("SUPPORTCHAT_BASE_URL"); v != "" {
		envUsed = true
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("SUPPORTCHAT_WS_BASE"); v != "" {
		envUsed = true
		cfg.Client.WSBase = v
	}
	if v := os.Getenv("SUPPORTCHAT_ROLE"); v != "" {
		envUsed = true
		cfg.Client.Role = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SUPPORTCHAT_BOOTSTRAP"); v != "" {
		envUsed = true
		cfg.Client.Bootstrap = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SUPPORTCHAT_ATTACHMENT_MODE"); v != "" {
		envUsed = true
		cfg.Client.Attachments.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SUPPORTCHAT_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Server.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("SUPPORTCHAT_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Server.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("SUPPORTCHAT_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Server.Retention.Enabled = true
		cfg.Server.Retention.Cron = v
	}
	if v := os.Getenv("SUPPORTCHAT_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if c := os.Getenv("SUPPORTCHAT_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("SUPPORTCHAT_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal; env and defaults still apply.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and SUPPORTCHAT_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("SUPPORTCHAT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

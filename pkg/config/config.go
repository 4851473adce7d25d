package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/go-go-golems/concierge/pkg/logging"
)

// Config is the full configuration for both the chat UI process and the
// webhook receiver. The two processes share the Redis and environment
// sections so that queue names line up bit for bit.
type Config struct {
	Environment string `koanf:"environment"`

	Redis struct {
		Host        string `koanf:"host"`
		Port        int    `koanf:"port"`
		Password    string `koanf:"password"`
		DBIndexDev  int    `koanf:"db_index_dev"`
		DBIndexTest int    `koanf:"db_index_test"`
	} `koanf:"redis"`

	RAGFlow struct {
		BaseURL       string `koanf:"base_url"`
		APIKey        string `koanf:"api_key"`
		AssistantName string `koanf:"assistant_name"`
	} `koanf:"ragflow"`

	AgentChat struct {
		ServerURL string        `koanf:"server_url"`
		Password  string        `koanf:"password"`
		Timeout   time.Duration `koanf:"timeout"`
		// Agents is the fixed weekly rotation, indexed by weekday (Sunday first).
		Agents []string `koanf:"agents"`
	} `koanf:"agentchat"`

	Chat struct {
		Addr         string        `koanf:"addr"`
		IdleInterval time.Duration `koanf:"idle_interval"`
		PeekTimeout  time.Duration `koanf:"peek_timeout"`
		StreamMaxLen int64         `koanf:"stream_maxlen"`
		SessionTTL   time.Duration `koanf:"session_ttl"`
	} `koanf:"chat"`

	Webhook struct {
		Addr      string  `koanf:"addr"`
		Token     string  `koanf:"token"`
		RateLimit float64 `koanf:"rate_limit"`
		RateBurst int     `koanf:"rate_burst"`
	} `koanf:"webhook"`

	Logging logging.Settings `koanf:"logging"`
}

var defaults = map[string]interface{}{
	"environment":            "dev",
	"redis.host":             "localhost",
	"redis.port":             6379,
	"redis.db_index_dev":     0,
	"redis.db_index_test":    1,
	"ragflow.assistant_name": "AI-assist",
	"agentchat.timeout":      "15s",
	"agentchat.agents":       []string{"bob", "david", "alice", "tom", "john", "jerry", "jerry"},
	"chat.addr":              ":8080",
	"chat.idle_interval":     "5s",
	"chat.peek_timeout":      "30s",
	"chat.stream_maxlen":     1000,
	"chat.session_ttl":       "24h",
	"webhook.addr":           ":8000",
	"webhook.rate_limit":     10.0,
	"webhook.rate_burst":     20,
	"logging.level":          "info",
}

// Load reads configuration from defaults, an optional TOML file and
// CONCIERGE_-prefixed environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", configPath)
		}
	} else {
		for _, path := range []string{"./concierge.toml", "$HOME/.concierge.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// CONCIERGE_REDIS_HOST -> redis.host
	if err := k.Load(env.Provider("CONCIERGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CONCIERGE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would only fail later at runtime.
func (c *Config) Validate() error {
	if len(c.AgentChat.Agents) == 0 {
		return errors.New("agentchat.agents: weekly rotation must not be empty")
	}
	if c.Chat.SessionTTL <= 0 {
		return errors.New("chat.session_ttl must be positive")
	}
	if c.Chat.StreamMaxLen <= 0 {
		return errors.New("chat.stream_maxlen must be positive")
	}
	return nil
}

// RedisDB resolves the Redis database index for the configured environment.
// Unknown environments fall back to the dev index, matching the queue naming
// of whichever process wrote first.
func (c *Config) RedisDB() (int, bool) {
	switch c.Environment {
	case "dev":
		return c.Redis.DBIndexDev, true
	case "test":
		return c.Redis.DBIndexTest, true
	default:
		return c.Redis.DBIndexDev, false
	}
}

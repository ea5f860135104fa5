package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NAGS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "NAGS_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NAGS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "decode.base_url", typ: kString, env: "NAGS_DECODE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Decode.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Decode.BaseURL },
	},
	{
		key: "pricing.base_url", typ: kString, env: "NAGS_PRICING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Pricing.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Pricing.BaseURL },
	},
	{
		key: "distributors.priority", typ: kString, env: "NAGS_DISTRIBUTORS_PRIORITY",
		apply:   func(cfg *Config, v any) { cfg.Distributors.Priority = v.(string) },
		extract: func(cfg Config) any { return cfg.Distributors.Priority },
	},
	{
		key: "lookup.timeout_seconds", typ: kInt, env: "NAGS_LOOKUP_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Lookup.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Lookup.TimeoutSeconds },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "NAGS_NOTIFY_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
	{
		key: "log.level", typ: kString, env: "NAGS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b *fileBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

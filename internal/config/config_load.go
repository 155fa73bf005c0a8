package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		BotID: 1,
		Redis: RedisSettings{
			Host: "localhost",
			Port: 6379,
		},
		DataDir:     "data",
		WorkerCount: 1,
	}
}

// Load reads config from a JSON5 file, then overlays env vars and discovers
// the bot identities. A missing file is fine; everything can come from env.
func Load(path string) (*Config, error) {
	// Values already present in the environment win over .env entries.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Bots = loadBotIdentities()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envInt("BOT_ID", &c.BotID)

	envStr("AGENT_MASTER_CHANNEL_ID", &c.Master.Agent)
	envStr("APPTBK_MASTER_CHANNEL_ID", &c.Master.Apptbk)
	envStr("MANAGED_ADMIN_MASTER_CHANNEL_ID", &c.Master.ManagedAdmin)
	envStr("STORM_ADMIN_MASTER_CHANNEL_ID", &c.Master.StormAdmin)

	envStr("REDIS_HOST", &c.Redis.Host)
	envInt("REDIS_PORT", &c.Redis.Port)
	envInt("REDIS_DB", &c.Redis.DB)
	envStr("REDIS_USERNAME", &c.Redis.Username)
	envStr("REDIS_PASSWORD", &c.Redis.Password)

	envStr("RELAY_DATA_DIR", &c.DataDir)

	if v := os.Getenv("FORWARDER_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WorkerCount = n
		}
	}

	envStr("REFRESH_CRON", &c.Refresh.Cron)
	envStr("CHANNEL_LISTS_SOURCE", &c.Refresh.Source)

	envStr("RELAY_ARCHIVE_PATH", &c.Archive.Path)
	envStr("ARCHIVE_POSTGRES_DSN", &c.Archive.PostgresDSN)

	envStr("METRICS_ADDR", &c.MetricsAddr)
}

// loadBotIdentities collects token pairs from the environment. Bot 1 reads
// SLACK_BOT_TOKEN/SLACK_APP_TOKEN, bot i reads the _i suffixed pair. The scan
// stops at the first index whose pair is incomplete, so identities are always
// contiguous.
func loadBotIdentities() []BotIdentity {
	var bots []BotIdentity
	for i := 1; ; i++ {
		botKey := "SLACK_BOT_TOKEN"
		appKey := "SLACK_APP_TOKEN"
		if i > 1 {
			botKey = fmt.Sprintf("SLACK_BOT_TOKEN_%d", i)
			appKey = fmt.Sprintf("SLACK_APP_TOKEN_%d", i)
		}
		botToken := os.Getenv(botKey)
		appToken := os.Getenv(appKey)
		if botToken == "" || appToken == "" {
			break
		}
		bots = append(bots, BotIdentity{
			Index:    i,
			Name:     fmt.Sprintf("Bot-%d", i),
			BotToken: botToken,
			AppToken: appToken,
		})
	}
	return bots
}

package config

import (
	"os"
	"strings"
	"time"
)

// 環境変数による上書き。.env は cmd 側で godotenv により読み込まれます。
const (
	EnvOutputDir = "SCRAPER_OUTPUT_DIR"
	EnvUserAgent = "SCRAPER_USER_AGENT"
	EnvTimeout   = "SCRAPER_TIMEOUT"
	EnvDelay     = "SCRAPER_DELAY"
)

// ApplyEnv は設定済みの環境変数で Config を上書きします。
// 解釈できない値は無視します。
func (c *Config) ApplyEnv() {
	c.OutputDir = getStringEnvDefault(EnvOutputDir, c.OutputDir)
	c.HTTP.UserAgent = getStringEnvDefault(EnvUserAgent, c.HTTP.UserAgent)
	c.HTTP.Timeout = getDurationEnvDefault(EnvTimeout, c.HTTP.Timeout)
	c.HTTP.Delay = getDurationEnvDefault(EnvDelay, c.HTTP.Delay)
}

func getStringEnvDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getDurationEnvDefault(key string, defaultValue Duration) Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return DurationFrom(d)
		}
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides are settings that may come from the environment (or a .env
// file) and win over the YAML file.
type envOverrides struct {
	Token         string `env:"PLAYTESTBOT_TOKEN"`
	Listen        string `env:"PLAYTESTBOT_LISTEN"`
	LogLevel      string `env:"PLAYTESTBOT_LOG_LEVEL"`
	Journal       string `env:"PLAYTESTBOT_JOURNAL"`
	GuildID       string `env:"PLAYTESTBOT_GUILD"`
	ConfigChannel string `env:"PLAYTESTBOT_CONFIG_CHANNEL"`
}

// ApplyEnv loads dotenvPath (if it exists) into the process environment and
// applies PLAYTESTBOT_* overrides to c.
func (c *Config) ApplyEnv(dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", dotenvPath, err)
		}
	}

	ov, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	if ov.Token != "" {
		c.Discord.Token = ov.Token
	}
	if ov.Listen != "" {
		c.Listen = ov.Listen
	}
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}
	if ov.Journal != "" {
		c.Journal = ov.Journal
	}
	if ov.GuildID != "" {
		c.Discord.GuildID = ov.GuildID
	}
	if ov.ConfigChannel != "" {
		c.Discord.ConfigChannel = ov.ConfigChannel
	}
	return nil
}

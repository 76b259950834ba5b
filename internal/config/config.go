package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration values
type Config struct {
	DiscordToken string
	DatabasePath string
	LogFormat    string
}

// LoadConfig loads environment variables from .env file and returns a Config struct
func LoadConfig() (*Config, error) {
	// Try to load .env file (optional - may not exist in production)
	_ = godotenv.Load(".env")

	config := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		DatabasePath: os.Getenv("DATABASE_PATH"),
		LogFormat:    os.Getenv("LOG_FORMAT"),
	}

	if config.DatabasePath == "" {
		config.DatabasePath = "choir.db"
	}
	if config.LogFormat == "" {
		config.LogFormat = "json"
	}

	return config, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return NewConfigError("DISCORD_TOKEN", "environment variable is required")
	}

	if c.DatabasePath == "" {
		return NewConfigError("DATABASE_PATH", "cannot be empty")
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return NewConfigError("LOG_FORMAT", "must be json or text")
	}

	return nil
}

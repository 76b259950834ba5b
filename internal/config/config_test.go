package config

import (
	"os"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: &Config{
				DiscordToken: "test-discord-token",
				DatabasePath: "choir.db",
				LogFormat:    "json",
			},
			wantErr: false,
		},
		{
			name: "text log format",
			config: &Config{
				DiscordToken: "test-discord-token",
				DatabasePath: "choir.db",
				LogFormat:    "text",
			},
			wantErr: false,
		},
		{
			name: "missing Discord token",
			config: &Config{
				DatabasePath: "choir.db",
				LogFormat:    "json",
			},
			wantErr: true,
			errMsg:  "DISCORD_TOKEN",
		},
		{
			name: "empty database path",
			config: &Config{
				DiscordToken: "test-discord-token",
				LogFormat:    "json",
			},
			wantErr: true,
			errMsg:  "DATABASE_PATH",
		},
		{
			name: "unknown log format",
			config: &Config{
				DiscordToken: "test-discord-token",
				DatabasePath: "choir.db",
				LogFormat:    "yaml",
			},
			wantErr: true,
			errMsg:  "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Config.Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	origToken := os.Getenv("DISCORD_TOKEN")
	origDBPath := os.Getenv("DATABASE_PATH")
	origLogFormat := os.Getenv("LOG_FORMAT")

	defer func() {
		os.Setenv("DISCORD_TOKEN", origToken)
		os.Setenv("DATABASE_PATH", origDBPath)
		os.Setenv("LOG_FORMAT", origLogFormat)
	}()

	tests := []struct {
		name          string
		envVars       map[string]string
		wantToken     string
		wantDBPath    string
		wantLogFormat string
	}{
		{
			name: "loads all env vars",
			envVars: map[string]string{
				"DISCORD_TOKEN": "test-token",
				"DATABASE_PATH": "/var/lib/choir/choir.db",
				"LOG_FORMAT":    "text",
			},
			wantToken:     "test-token",
			wantDBPath:    "/var/lib/choir/choir.db",
			wantLogFormat: "text",
		},
		{
			name: "defaults",
			envVars: map[string]string{
				"DISCORD_TOKEN": "test-token",
			},
			wantToken:     "test-token",
			wantDBPath:    "choir.db",
			wantLogFormat: "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("DISCORD_TOKEN")
			os.Unsetenv("DATABASE_PATH")
			os.Unsetenv("LOG_FORMAT")

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}

			if cfg.DiscordToken != tt.wantToken {
				t.Errorf("DiscordToken = %v, want %v", cfg.DiscordToken, tt.wantToken)
			}
			if cfg.DatabasePath != tt.wantDBPath {
				t.Errorf("DatabasePath = %v, want %v", cfg.DatabasePath, tt.wantDBPath)
			}
			if cfg.LogFormat != tt.wantLogFormat {
				t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, tt.wantLogFormat)
			}
		})
	}
}

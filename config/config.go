// Package config loads the service configuration from defaults, an optional
// YAML file, an optional .env file and TRANSCRIBER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TRANSCRIBER"

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir" validate:"required"`
}

// TranscriptionConfig points at the external transcription service.
type TranscriptionConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Model         string        `mapstructure:"model" validate:"required"`
	BeamSize      int           `mapstructure:"beam_size" validate:"gt=0"`
	ChunkLength   int           `mapstructure:"chunk_length" validate:"gt=0"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
	FetchAttempts uint          `mapstructure:"fetch_attempts" validate:"gt=0"`
	FetchInterval time.Duration `mapstructure:"fetch_interval" validate:"gte=0"`
}

// MessagingConfig points at the WPPConnect server that owns the WhatsApp session.
type MessagingConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Session string `mapstructure:"session" validate:"required"`
	Token   string `mapstructure:"token"`
}

type QueueConfig struct {
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "transcriptions.db")

	v.SetDefault("storage.upload_dir", "audios")

	v.SetDefault("transcription.base_url", "http://127.0.0.1:5502")
	v.SetDefault("transcription.model", "large-v2")
	v.SetDefault("transcription.beam_size", 5)
	v.SetDefault("transcription.chunk_length", 30)
	v.SetDefault("transcription.timeout", time.Hour)
	v.SetDefault("transcription.fetch_attempts", 3)
	v.SetDefault("transcription.fetch_interval", 2*time.Second)

	v.SetDefault("messaging.base_url", "http://127.0.0.1:21465")
	v.SetDefault("messaging.session", "audioTranscriptionSession")
	v.SetDefault("messaging.token", "")

	v.SetDefault("queue.recover_on_start", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load builds a Config. configFile may be empty, in which case ./config.yml is
// used when it exists. A .env file in the working directory is loaded first and
// never overrides variables already present in the environment.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if configFile == "" {
		if _, err := os.Stat("config.yml"); err == nil {
			configFile = "config.yml"
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (got: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("invalid config: %w", err)
}

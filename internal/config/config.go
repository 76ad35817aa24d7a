package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Channel modes. Bot talks to the Telegram Bot API directly with a bot
// token stored on the device; relay goes through the pairing relay with a
// session token obtained from a 6-digit code.
const (
	ModeBot   = "bot"
	ModeRelay = "relay"
)

// Config holds the application configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Channel ChannelConfig `mapstructure:"channel"`
	Poll    PollConfig    `mapstructure:"poll"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Storage StorageConfig `mapstructure:"storage"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ChannelConfig selects and parameterizes the remote channel backend
type ChannelConfig struct {
	Mode       string        `mapstructure:"mode"`
	BotAPIBase string        `mapstructure:"bot_api_base"`
	RelayBase  string        `mapstructure:"relay_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PollConfig holds the reconciliation loop configuration
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SpeechConfig holds the speech synthesis configuration
type SpeechConfig struct {
	Command string `mapstructure:"command"`
	Voice   string `mapstructure:"voice"`
	CueFile string `mapstructure:"cue_file"`
}

// StorageConfig holds the local persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load loads the configuration from config.yaml, or from the file named by
// the CONFIG_PATH environment variable when set. Missing keys fall back to
// defaults suitable for the hosted relay.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("channel.mode", ModeRelay)
	v.SetDefault("channel.bot_api_base", "https://api.telegram.org")
	v.SetDefault("channel.timeout", 10*time.Second)
	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("speech.command", "espeak-ng")
	v.SetDefault("speech.voice", "en-GB")
	v.SetDefault("storage.db_path", "watchgram.db")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

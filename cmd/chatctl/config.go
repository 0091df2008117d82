package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/convoapp/chatsync/pkg/chatsync"
)

// Config is the chatctl config file. The sync section maps directly onto
// the engine's tuning knobs; omitted fields take the engine defaults.
type Config struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	UserID    string `yaml:"user_id"`

	Sync chatsync.Config `yaml:"sync"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	} else if err != nil {
		return nil, err
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

func makeLogger(ctx *cli.Context) zerolog.Logger {
	level := zerolog.InfoLevel
	if ctx.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

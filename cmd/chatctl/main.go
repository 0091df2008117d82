package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyClient
)

func getConfig(ctx *cli.Context) *Config {
	return ctx.Context.Value(contextKeyConfig).(*Config)
}

func getClient(ctx *cli.Context) *chatapi.Client {
	val := ctx.Context.Value(contextKeyClient)
	if val == nil {
		return nil
	}
	return val.(*chatapi.Client)
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "chatctl", "config.yaml")
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	if cfg.ServerURL != "" {
		newCtx = context.WithValue(newCtx, contextKeyClient, chatapi.NewClient(cfg.ServerURL, cfg.Token))
	}
	ctx.Context = newCtx
	return nil
}

func requiresServer(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	if getClient(ctx) == nil {
		return fmt.Errorf("no server_url configured — edit %s first", ctx.String("config"))
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:    "chatctl",
		Usage:   "Follow and manage chat conversations from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: getConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			tailCommand,
			historyCommand,
			sendCommand,
			deleteCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

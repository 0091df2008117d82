package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convoapp/chatsync/pkg/chatsync"
)

var historyCommand = &cli.Command{
	Name:      "history",
	Usage:     "Print conversation history, paging backwards",
	ArgsUsage: "GROUP",
	Before:    requiresServer,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "pages",
			Usage: "Maximum number of older pages to fetch",
			Value: 5,
		},
	},
	Action: cmdHistory,
}

func cmdHistory(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a group id")
	}
	groupID := ctx.Args().Get(0)
	cfg := getConfig(ctx)

	syncCfg := cfg.Sync
	syncCfg.Logger = makeLogger(ctx)
	syncer := chatsync.NewSyncer(getClient(ctx), groupID, cfg.UserID, syncCfg)
	defer syncer.Close()

	syncer.LoadInitial(ctx.Context)
	if syncer.State() == chatsync.StateForbidden {
		return fmt.Errorf("access to group %s is denied", groupID)
	}

	for page := 0; page < ctx.Int("pages") && syncer.HasMore(); page++ {
		if err := syncer.LoadMore(ctx.Context); err != nil {
			return err
		}
	}

	for _, msg := range syncer.Messages() {
		fmt.Println(renderMessage(&msg))
	}
	return nil
}

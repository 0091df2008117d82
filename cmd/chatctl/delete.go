package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convoapp/chatsync/pkg/chatsync"
)

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "Delete one of your own messages",
	ArgsUsage: "GROUP MESSAGE_ID",
	Before:    requiresServer,
	Action:    cmdDelete,
}

func cmdDelete(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: chatctl delete GROUP MESSAGE_ID")
	}
	groupID := ctx.Args().Get(0)
	messageID := ctx.Args().Get(1)
	cfg := getConfig(ctx)

	syncCfg := cfg.Sync
	syncCfg.Logger = makeLogger(ctx)
	syncer := chatsync.NewSyncer(getClient(ctx), groupID, cfg.UserID, syncCfg)
	defer syncer.Close()

	syncer.LoadInitial(ctx.Context)
	if syncer.State() == chatsync.StateForbidden {
		return fmt.Errorf("access to group %s is denied", groupID)
	}

	// The ownership guard needs the message in the local view; page back
	// until it shows up or history runs out.
	for !hasMessage(syncer, messageID) && syncer.HasMore() {
		if err := syncer.LoadMore(ctx.Context); err != nil {
			return err
		}
	}
	if !hasMessage(syncer, messageID) {
		return fmt.Errorf("message %s not found in group %s", messageID, groupID)
	}

	if !syncer.Delete(ctx.Context, messageID) {
		return fmt.Errorf("could not delete %s — only your own messages can be deleted", messageID)
	}
	fmt.Printf("Message %s deleted\n", messageID)
	return nil
}

func hasMessage(syncer *chatsync.Syncer, messageID string) bool {
	for _, msg := range syncer.Messages() {
		if msg.ID == messageID {
			return true
		}
	}
	return false
}

package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a message to a conversation",
	ArgsUsage: "GROUP TEXT...",
	Before:    requiresServer,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "attach",
			Usage: "Attachment id to reference (repeatable)",
		},
	},
	Action: cmdSend,
}

func cmdSend(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: chatctl send GROUP TEXT")
	}
	groupID := ctx.Args().Get(0)
	text := strings.Join(ctx.Args().Slice()[1:], " ")

	// A one-shot send doesn't need the sync engine — talk to the API
	// directly and report the confirmed record.
	record, err := getClient(ctx).SendMessage(ctx.Context, chatapi.SendRequest{
		GroupID:       groupID,
		Text:          text,
		AttachmentIDs: ctx.StringSlice("attach"),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	fmt.Printf("Sent %s at %s\n", record.ID, record.CreatedAt.Local().Format("15:04:05"))
	return nil
}

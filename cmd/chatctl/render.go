package main

import (
	"fmt"
	"strings"

	"github.com/convoapp/chatsync/pkg/chatsync"
)

func renderMessage(msg *chatsync.Message) string {
	sender := msg.SenderID
	if msg.Sender != nil && msg.Sender.DisplayName != "" {
		sender = msg.Sender.DisplayName
	}
	if msg.IsSender {
		sender = "me"
	}

	body := "(deleted)"
	if msg.Text != nil {
		body = *msg.Text
	}
	if len(msg.AttachmentIDs) > 0 {
		body += fmt.Sprintf(" [%d attachment(s)]", len(msg.AttachmentIDs))
	}

	var marker string
	switch msg.SendStatus {
	case chatsync.SendStatusPending, chatsync.SendStatusSending:
		marker = " …"
	case chatsync.SendStatusFailed:
		marker = " ✗"
	}

	return strings.TrimRight(fmt.Sprintf("%s <%s> %s%s",
		msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), sender, body, marker), " ")
}

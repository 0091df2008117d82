// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"strings"

	"github.com/google/uuid"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

// SendStatus tracks the delivery state of a locally-originated message.
// Server-confirmed history carries SendStatusSent.
type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

// optimisticIDPrefix namespaces locally-generated placeholder ids.
// Server ids never start with it, so a placeholder can never collide
// with a real record.
const optimisticIDPrefix = "pending:"

func newOptimisticID() string {
	return optimisticIDPrefix + uuid.New().String()
}

// IsOptimisticID reports whether id is a locally-generated placeholder id
// rather than a server-assigned one.
func IsOptimisticID(id string) bool {
	return strings.HasPrefix(id, optimisticIDPrefix)
}

// Message is a wire record decorated with client-only view state:
// the resolved sender profile, whether the current user sent it, and —
// for locally-originated messages — the delivery status.
type Message struct {
	chatapi.Message

	Sender     *chatapi.Profile
	IsSender   bool
	SendStatus SendStatus
}

// Pending reports whether the message is an unconfirmed optimistic entry.
func (m *Message) Pending() bool {
	return m.SendStatus == SendStatusPending || m.SendStatus == SendStatusSending
}

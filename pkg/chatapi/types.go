// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Message is the wire representation of a single message record.
// Soft-deleted messages are retained by the server with a nil Text,
// not omitted from listings.
type Message struct {
	ID            string     `json:"id"`
	GroupID       string     `json:"group_id"`
	SenderID      string     `json:"sender_id"`
	Text          *string    `json:"message_text"`
	AttachmentIDs []string   `json:"attachment_ids,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ChangedAt     time.Time  `json:"changed_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record carries a soft-delete marker.
func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// Profile is sender display metadata. Treated as immutable once fetched;
// staleness is handled by the caller's cache TTL, not by the server.
type Profile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       *string `json:"email,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Direction selects which side of the cursor a listing request covers.
type Direction string

const (
	DirectionOlder Direction = "older"
	DirectionNewer Direction = "newer"
)

// ListParams are the pagination parameters for a message listing.
// A zero Cursor means "from the current end of the conversation".
type ListParams struct {
	Cursor    Cursor
	Direction Direction
	Limit     int
}

// MessagePage is one page of a paginated message listing.
type MessagePage struct {
	Records    []Message `json:"records"`
	HasMore    bool      `json:"has_more"`
	NextCursor Cursor    `json:"next_cursor,omitempty"`
}

// SendRequest is the payload for creating a message. The server assigns
// the id and the authoritative created_at.
type SendRequest struct {
	GroupID       string   `json:"group_id"`
	Text          string   `json:"message_text"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// Cursor is an opaque pagination boundary. Internally it encodes the
// created_at of the boundary message, but consumers must not depend on
// the encoding.
type Cursor string

type cursorPayload struct {
	TimestampMS int64 `json:"ts"`
}

// EncodeCursor builds a cursor from a boundary timestamp.
func EncodeCursor(boundary time.Time) Cursor {
	data, _ := json.Marshal(cursorPayload{TimestampMS: boundary.UnixMilli()})
	return Cursor(base64.RawURLEncoding.EncodeToString(data))
}

// DecodeCursor extracts the boundary timestamp from a cursor.
func DecodeCursor(cursor Cursor) (time.Time, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(string(cursor))
	if err != nil {
		return time.Time{}, err
	}
	var parsed cursorPayload
	if err = json.Unmarshal(decoded, &parsed); err != nil {
		return time.Time{}, err
	}
	if parsed.TimestampMS == 0 {
		return time.Time{}, fmt.Errorf("empty timestamp in cursor")
	}
	return time.UnixMilli(parsed.TimestampMS).UTC(), nil
}

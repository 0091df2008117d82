// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"sort"
	"time"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

// messageStore is the authoritative client-side view of one conversation:
// an ordered, deduplicated set of messages plus the pagination boundaries
// derived from it. All merges happen here.
//
// Invariants after every operation:
//   - entries are sorted ascending by created_at
//   - ids are unique
//   - a soft-deleted entry has nil text
//
// The forward boundary (newest) only tracks server-confirmed records.
// Optimistic placeholders carry client clocks; letting them advance the
// boundary could make the next poll skip the real record under clock skew.
type messageStore struct {
	byID  map[string]*Message
	order []*Message

	oldest  time.Time // created_at of the oldest loaded record (backward cursor)
	newest  time.Time // created_at of the newest server-confirmed record (forward cursor)
	hasSome bool
}

func newMessageStore() *messageStore {
	return &messageStore{byID: make(map[string]*Message)}
}

func (s *messageStore) sortEntries() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].CreatedAt.Before(s.order[j].CreatedAt)
	})
}

// replaceAll resets the store to exactly the given records. Used only by
// the initial load (and refresh).
func (s *messageStore) replaceAll(records []chatapi.Message) {
	s.byID = make(map[string]*Message, len(records))
	s.order = s.order[:0]
	s.oldest = time.Time{}
	s.newest = time.Time{}
	s.hasSome = false
	s.appendRecords(records)
	s.sortEntries()
	if len(s.order) > 0 {
		s.oldest = s.order[0].CreatedAt
		s.hasSome = true
	}
}

// prependOlder merges one backward page of history. The input is assumed
// pre-sorted but the store re-sorts defensively. The backward cursor only
// ever moves older.
func (s *messageStore) prependOlder(records []chatapi.Message) {
	added := s.appendRecords(records)
	if added == 0 {
		return
	}
	s.sortEntries()
	if len(s.order) > 0 && (!s.hasSome || s.order[0].CreatedAt.Before(s.oldest)) {
		s.oldest = s.order[0].CreatedAt
		s.hasSome = true
	}
}

// mergeNewer merges a forward poll result: genuinely-new records are
// appended, already-known ids are skipped. Re-merging the same batch is a
// no-op, so a poll tick racing a send reconciliation can never duplicate
// a message. Returns how many records were actually new.
func (s *messageStore) mergeNewer(records []chatapi.Message) int {
	added := s.appendRecords(records)
	if added > 0 {
		s.sortEntries()
	}
	return added
}

// appendRecords inserts records whose ids are not yet known and advances
// the forward boundary. Does not re-sort.
func (s *messageStore) appendRecords(records []chatapi.Message) int {
	added := 0
	for _, record := range records {
		if _, known := s.byID[record.ID]; known {
			continue
		}
		msg := &Message{Message: record, SendStatus: SendStatusSent}
		s.byID[record.ID] = msg
		s.order = append(s.order, msg)
		added++
		if record.CreatedAt.After(s.newest) {
			s.newest = record.CreatedAt
		}
	}
	return added
}

// insertOptimistic adds a locally-originated placeholder in sorted
// position. The placeholder's id is client-generated and recognizably
// prefixed, so it can never collide with a server record.
func (s *messageStore) insertOptimistic(msg Message) {
	entry := msg
	s.byID[entry.ID] = &entry
	s.order = append(s.order, &entry)
	s.sortEntries()
}

// reconcileOptimistic resolves a placeholder against the send outcome.
// real == nil means the send failed: the placeholder stays, marked failed,
// in its original position, so the user can retry explicitly.
// On success, if the real record already arrived via polling, the
// placeholder is simply dropped; otherwise it is replaced in place.
func (s *messageStore) reconcileOptimistic(optimisticID string, real *chatapi.Message) {
	placeholder, havePlaceholder := s.byID[optimisticID]

	if real == nil {
		if havePlaceholder {
			placeholder.SendStatus = SendStatusFailed
		}
		return
	}

	if _, pollWon := s.byID[real.ID]; pollWon {
		// The poll tick introduced the server record first. Drop the
		// placeholder; exactly one entry remains.
		if havePlaceholder {
			s.remove(optimisticID)
		}
		return
	}

	if !havePlaceholder {
		// Placeholder vanished (refresh raced the send). Keep the
		// confirmed record anyway.
		s.mergeNewer([]chatapi.Message{*real})
		return
	}

	delete(s.byID, optimisticID)
	placeholder.Message = *real
	placeholder.SendStatus = SendStatusSent
	s.byID[real.ID] = placeholder
	s.sortEntries()
	if real.CreatedAt.After(s.newest) {
		s.newest = real.CreatedAt
	}
}

func (s *messageStore) remove(id string) {
	entry, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	for i, msg := range s.order {
		if msg == entry {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// deleteSnapshot captures the fields an optimistic delete overwrites, so
// a failed delete call can be rolled back exactly.
type deleteSnapshot struct {
	text      *string
	deletedAt *time.Time
	changedAt time.Time
}

// applyDelete optimistically soft-deletes a message owned by requesterID.
// Returns ok=false — with no mutation — if the message is unknown or the
// requester is not its sender.
func (s *messageStore) applyDelete(id, requesterID string, now time.Time) (deleteSnapshot, bool) {
	entry, ok := s.byID[id]
	if !ok || entry.SenderID != requesterID {
		return deleteSnapshot{}, false
	}
	snap := deleteSnapshot{
		text:      entry.Text,
		deletedAt: entry.DeletedAt,
		changedAt: entry.ChangedAt,
	}
	entry.Text = nil
	deletedAt := now
	entry.DeletedAt = &deletedAt
	entry.ChangedAt = now
	return snap, true
}

// rollbackDelete restores the fields captured before an optimistic delete.
func (s *messageStore) rollbackDelete(id string, snap deleteSnapshot) {
	entry, ok := s.byID[id]
	if !ok {
		return
	}
	entry.Text = snap.text
	entry.DeletedAt = snap.deletedAt
	entry.ChangedAt = snap.changedAt
}

// markRead sets the server-confirmed read timestamp. No-op when the
// message is unknown, already read, or sent by the reader — a sender
// cannot read-receipt their own message.
func (s *messageStore) markRead(id, readerID string, readAt time.Time) bool {
	entry, ok := s.byID[id]
	if !ok || entry.ReadAt != nil || entry.SenderID == readerID {
		return false
	}
	ts := readAt
	entry.ReadAt = &ts
	return true
}

// attachProfiles decorates entries with resolved sender profiles and
// recomputes IsSender against the current user.
func (s *messageStore) attachProfiles(profiles map[string]chatapi.Profile, currentUserID string) {
	for _, entry := range s.order {
		entry.IsSender = entry.SenderID == currentUserID
		if entry.Sender == nil {
			if profile, ok := profiles[entry.SenderID]; ok {
				p := profile
				entry.Sender = &p
			}
		}
	}
}

// senderIDs returns the distinct sender ids currently in the store.
func (s *messageStore) senderIDs() []string {
	seen := make(map[string]bool, len(s.order))
	ids := make([]string, 0, len(s.order))
	for _, entry := range s.order {
		if entry.SenderID != "" && !seen[entry.SenderID] {
			seen[entry.SenderID] = true
			ids = append(ids, entry.SenderID)
		}
	}
	return ids
}

// snapshot returns a copy of the ordered view.
func (s *messageStore) snapshot() []Message {
	out := make([]Message, len(s.order))
	for i, entry := range s.order {
		out[i] = *entry
	}
	return out
}

func (s *messageStore) len() int { return len(s.order) }

// backwardBoundary returns the created_at of the oldest loaded record.
func (s *messageStore) backwardBoundary() (time.Time, bool) {
	return s.oldest, s.hasSome
}

// forwardBoundary returns the created_at of the newest server-confirmed
// record.
func (s *messageStore) forwardBoundary() (time.Time, bool) {
	return s.newest, !s.newest.IsZero()
}

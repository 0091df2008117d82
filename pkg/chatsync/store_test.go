package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

func assertOrderedUnique(t *testing.T, msgs []Message) {
	t.Helper()
	seen := make(map[string]bool, len(msgs))
	for i, msg := range msgs {
		require.Falsef(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
		if i > 0 {
			require.Falsef(t, msg.CreatedAt.Before(msgs[i-1].CreatedAt),
				"message %s out of order", msg.ID)
		}
	}
}

func TestMessageStoreInitialLoad(t *testing.T) {
	t1 := testEpoch
	t2 := testEpoch.Add(time.Minute)

	store := newMessageStore()
	store.replaceAll([]chatapi.Message{
		rec("m2", "alice", t2, "second"),
		rec("m1", "alice", t1, "first"),
	})

	msgs := store.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	back, ok := store.backwardBoundary()
	require.True(t, ok)
	assert.Equal(t, t1, back)
	fwd, ok := store.forwardBoundary()
	require.True(t, ok)
	assert.Equal(t, t2, fwd)
}

func TestMessageStoreOrderingInvariant(t *testing.T) {
	store := newMessageStore()
	store.replaceAll([]chatapi.Message{
		rec("m5", "bob", testEpoch.Add(5*time.Minute), "e"),
		rec("m4", "bob", testEpoch.Add(4*time.Minute), "d"),
	})
	store.prependOlder([]chatapi.Message{
		rec("m2", "alice", testEpoch.Add(2*time.Minute), "b"),
		rec("m1", "alice", testEpoch.Add(1*time.Minute), "a"),
		rec("m3", "bob", testEpoch.Add(3*time.Minute), "c"),
	})
	store.mergeNewer([]chatapi.Message{
		rec("m7", "alice", testEpoch.Add(7*time.Minute), "g"),
		rec("m6", "bob", testEpoch.Add(6*time.Minute), "f"),
	})

	msgs := store.snapshot()
	require.Len(t, msgs, 7)
	assertOrderedUnique(t, msgs)

	back, _ := store.backwardBoundary()
	assert.Equal(t, testEpoch.Add(1*time.Minute), back)
	fwd, _ := store.forwardBoundary()
	assert.Equal(t, testEpoch.Add(7*time.Minute), fwd)
}

func TestMessageStoreMergeNewerIdempotent(t *testing.T) {
	store := newMessageStore()
	store.replaceAll([]chatapi.Message{rec("m1", "alice", testEpoch, "a")})

	batch := []chatapi.Message{
		rec("m2", "bob", testEpoch.Add(time.Minute), "b"),
		rec("m3", "bob", testEpoch.Add(2*time.Minute), "c"),
	}
	assert.Equal(t, 2, store.mergeNewer(batch))
	assert.Equal(t, 0, store.mergeNewer(batch))
	assert.Equal(t, 3, store.len())
}

func TestMessageStoreReconcileOptimistic(t *testing.T) {
	optimistic := func() (*messageStore, string) {
		store := newMessageStore()
		store.replaceAll([]chatapi.Message{rec("m1", "bob", testEpoch, "hi")})
		msg := Message{
			Message:    rec("", "me", testEpoch.Add(time.Minute), "hello"),
			IsSender:   true,
			SendStatus: SendStatusSending,
		}
		msg.ID = newOptimisticID()
		store.insertOptimistic(msg)
		return store, msg.ID
	}

	t.Run("success replaces placeholder in place", func(t *testing.T) {
		store, optID := optimistic()
		require.True(t, IsOptimisticID(optID))

		real := rec("m2", "me", testEpoch.Add(time.Minute), "hello")
		store.reconcileOptimistic(optID, &real)

		msgs := store.snapshot()
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, SendStatusSent, msgs[1].SendStatus)
		assertOrderedUnique(t, msgs)
	})

	t.Run("poll wins, placeholder dropped", func(t *testing.T) {
		store, optID := optimistic()
		real := rec("m2", "me", testEpoch.Add(time.Minute), "hello")

		// The poll tick delivers the server record before the send
		// response resolves.
		require.Equal(t, 1, store.mergeNewer([]chatapi.Message{real}))
		store.reconcileOptimistic(optID, &real)

		msgs := store.snapshot()
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[1].ID)
		assertOrderedUnique(t, msgs)
	})

	t.Run("failure keeps placeholder marked failed", func(t *testing.T) {
		store, optID := optimistic()
		store.reconcileOptimistic(optID, nil)

		msgs := store.snapshot()
		require.Len(t, msgs, 2)
		assert.Equal(t, optID, msgs[1].ID)
		assert.Equal(t, SendStatusFailed, msgs[1].SendStatus)
	})
}

func TestMessageStoreApplyDelete(t *testing.T) {
	now := testEpoch.Add(time.Hour)

	t.Run("non-owner is rejected without mutation", func(t *testing.T) {
		store := newMessageStore()
		store.replaceAll([]chatapi.Message{rec("m1", "alice", testEpoch, "hers")})

		_, ok := store.applyDelete("m1", "bob", now)
		assert.False(t, ok)
		msg := store.snapshot()[0]
		require.NotNil(t, msg.Text)
		assert.Nil(t, msg.DeletedAt)
	})

	t.Run("owner gets tombstone, rollback restores", func(t *testing.T) {
		store := newMessageStore()
		store.replaceAll([]chatapi.Message{rec("m1", "alice", testEpoch, "mine")})

		snap, ok := store.applyDelete("m1", "alice", now)
		require.True(t, ok)
		msg := store.snapshot()[0]
		assert.Nil(t, msg.Text)
		require.NotNil(t, msg.DeletedAt)
		assert.Equal(t, now, *msg.DeletedAt)

		store.rollbackDelete("m1", snap)
		msg = store.snapshot()[0]
		require.NotNil(t, msg.Text)
		assert.Equal(t, "mine", *msg.Text)
		assert.Nil(t, msg.DeletedAt)
		assert.Equal(t, testEpoch, msg.ChangedAt)
	})
}

func TestMessageStoreMarkRead(t *testing.T) {
	readAt := testEpoch.Add(30 * time.Minute)

	store := newMessageStore()
	store.replaceAll([]chatapi.Message{
		rec("mine", "me", testEpoch, "a"),
		rec("theirs", "alice", testEpoch.Add(time.Minute), "b"),
	})

	assert.False(t, store.markRead("missing", "me", readAt))
	assert.False(t, store.markRead("mine", "me", readAt), "sender cannot read-receipt their own message")

	assert.True(t, store.markRead("theirs", "me", readAt))
	assert.False(t, store.markRead("theirs", "me", readAt), "already read")

	for _, msg := range store.snapshot() {
		if msg.ID == "theirs" {
			require.NotNil(t, msg.ReadAt)
			assert.Equal(t, readAt, *msg.ReadAt)
		}
	}
}

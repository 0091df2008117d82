// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

// profileCache is a bounded, time-expiring map from user id to profile,
// used to decorate messages with sender display data without refetching
// on every poll tick. When a new entry would exceed the capacity, the
// entry with the smallest fetch timestamp is evicted (a linear scan —
// the capacity is small enough that a heap isn't worth the bookkeeping).
type profileCache struct {
	capacity int
	ttl      time.Duration
	clk      clock

	mu      sync.Mutex
	entries map[string]profileCacheEntry
}

type profileCacheEntry struct {
	profile   chatapi.Profile
	fetchedAt time.Time
}

func newProfileCache(capacity int, ttl time.Duration, clk clock) *profileCache {
	return &profileCache{
		capacity: capacity,
		ttl:      ttl,
		clk:      clk,
		entries:  make(map[string]profileCacheEntry, capacity),
	}
}

// get returns the cached profile if present and unexpired. A stale entry
// is evicted on the spot so capacity isn't wasted on dead weight.
func (c *profileCache) get(id string) (*chatapi.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.clk.Now().Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	profile := entry.profile
	return &profile, true
}

// put inserts or refreshes a profile, evicting the globally-oldest entry
// first when the cache is at capacity.
func (c *profileCache) put(profile chatapi.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[profile.ID]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[profile.ID] = profileCacheEntry{profile: profile, fetchedAt: c.clk.Now()}
}

func (c *profileCache) evictOldest() {
	var oldestID string
	var oldestAt time.Time
	for id, entry := range c.entries {
		if oldestID == "" || entry.fetchedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.fetchedAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}

func (c *profileCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// profileLookup is the collaborator operation resolveMany needs.
type profileLookup interface {
	LookupProfiles(ctx context.Context, ids []string) ([]chatapi.Profile, error)
}

// resolveMany partitions ids into cached and uncached, issues one batched
// lookup for the uncached set, and returns a complete mapping for every
// id that resolved. Ids with no profile are simply absent from the result.
// A failed lookup degrades to whatever was cached — missing display names
// are cosmetic, not fatal.
func (c *profileCache) resolveMany(ctx context.Context, api profileLookup, log zerolog.Logger, ids []string) map[string]chatapi.Profile {
	resolved := make(map[string]chatapi.Profile, len(ids))
	var missing []string
	for _, id := range ids {
		if profile, ok := c.get(id); ok {
			resolved[id] = *profile
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return resolved
	}

	profiles, err := api.LookupProfiles(ctx, missing)
	if err != nil {
		log.Warn().Err(err).Int("missing", len(missing)).
			Msg("Profile lookup failed, continuing with cached profiles only")
		return resolved
	}
	for _, profile := range profiles {
		c.put(profile)
		resolved[profile.ID] = profile
	}
	return resolved
}

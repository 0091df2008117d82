// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Reference defaults. All of them are per-Syncer overridable via Config —
// there is deliberately no package-level tunable state, so two open
// conversations can never leak cursors or cache entries into each other.
const (
	// DefaultPollInterval is the base delay between poll ticks when the
	// connection is healthy.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxPollDelay caps the exponential backoff. With the default
	// base interval the observed schedule on consecutive transient
	// failures is 5s, 10s, 20s, then 30s forever.
	DefaultMaxPollDelay = 30 * time.Second

	// DefaultMaxAttempts is how many consecutive transient failures are
	// reported as "reconnecting" before the connection state escalates to
	// "error". Polling itself never gives up on transient failures; this
	// threshold only changes what the consumer renders.
	DefaultMaxAttempts = 3

	// DefaultPageSize is the page size used for initial load and
	// backward pagination.
	DefaultPageSize = 50

	// DefaultProfileCacheCapacity bounds the sender profile cache.
	DefaultProfileCacheCapacity = 200

	// DefaultProfileCacheTTL is how long a cached profile is served
	// before it is refetched.
	DefaultProfileCacheTTL = 30 * time.Minute
)

// Config holds the per-conversation tuning knobs for a Syncer.
// The zero value is usable; zero fields take the defaults above.
type Config struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	MaxPollDelay         time.Duration `yaml:"max_poll_delay"`
	MaxAttempts          int           `yaml:"max_attempts"`
	PageSize             int           `yaml:"page_size"`
	ProfileCacheCapacity int           `yaml:"profile_cache_capacity"`
	ProfileCacheTTL      time.Duration `yaml:"profile_cache_ttl"`

	// Logger receives structured engine logs. Defaults to a disabled
	// logger so library consumers opt in explicitly.
	Logger zerolog.Logger `yaml:"-"`
}

// umConfig mirrors Config with duration fields as strings, since yaml.v3
// has no native "5s" parsing for time.Duration.
type umConfig struct {
	PollInterval         string `yaml:"poll_interval"`
	MaxPollDelay         string `yaml:"max_poll_delay"`
	MaxAttempts          int    `yaml:"max_attempts"`
	PageSize             int    `yaml:"page_size"`
	ProfileCacheCapacity int    `yaml:"profile_cache_capacity"`
	ProfileCacheTTL      string `yaml:"profile_cache_ttl"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var um umConfig
	if err := node.Decode(&um); err != nil {
		return err
	}
	c.MaxAttempts = um.MaxAttempts
	c.PageSize = um.PageSize
	c.ProfileCacheCapacity = um.ProfileCacheCapacity
	for _, field := range []struct {
		name  string
		raw   string
		value *time.Duration
	}{
		{"poll_interval", um.PollInterval, &c.PollInterval},
		{"max_poll_delay", um.MaxPollDelay, &c.MaxPollDelay},
		{"profile_cache_ttl", um.ProfileCacheTTL, &c.ProfileCacheTTL},
	} {
		if field.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.value = parsed
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollDelay <= 0 {
		c.MaxPollDelay = DefaultMaxPollDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ProfileCacheCapacity <= 0 {
		c.ProfileCacheCapacity = DefaultProfileCacheCapacity
	}
	if c.ProfileCacheTTL <= 0 {
		c.ProfileCacheTTL = DefaultProfileCacheTTL
	}
	return c
}

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

// ConnState is the user-facing connection indicator derived from the poll
// scheduler. Forbidden is terminal: it is only reached via a permission
// failure and never auto-recovers.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
	StateForbidden    ConnState = "forbidden"
)

// poller drives change detection with a single chained timer: the next
// tick is scheduled only after the previous one fully completes, because
// the delay depends on the live retry counter. A fixed-period ticker
// cannot express that, and would also allow overlapping ticks on a slow
// network.
//
// Transient failures never stop polling — they only stretch the delay
// (exponential backoff, capped) and downgrade the reported state. A
// permission failure stops the scheduler permanently; only constructing a
// new poller (conversation change or explicit refresh) restarts polling.
type poller struct {
	clk  clock
	log  zerolog.Logger
	tick func(ctx context.Context) error

	// notify is invoked outside the mutex after every completed tick.
	notify func(ConnState)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	baseInterval time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	timer        timerHandle
	retries      int
	inFlight     bool
	stopped      bool
}

func newPoller(cfg Config, clk clock, log zerolog.Logger, tick func(ctx context.Context) error, notify func(ConnState)) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &poller{
		clk:          clk,
		log:          log.With().Str("component", "poller").Logger(),
		tick:         tick,
		notify:       notify,
		ctx:          ctx,
		cancel:       cancel,
		baseInterval: cfg.PollInterval,
		maxDelay:     cfg.MaxPollDelay,
		maxAttempts:  cfg.MaxAttempts,
	}
}

// start schedules the first tick one base interval out. The caller has
// just completed a successful load, so polling begins from a healthy
// state with a zero retry counter.
func (p *poller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.timer != nil {
		return
	}
	p.timer = p.clk.AfterFunc(p.baseInterval, p.runTick)
}

// stop cancels the pending timer and neuters any in-flight tick: its
// completion will observe stopped and refuse to reschedule or report.
func (p *poller) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.cancel()
}

// setBaseInterval changes the healthy-state delay. Takes effect when the
// next tick is scheduled; an already-armed timer keeps its old delay.
func (p *poller) setBaseInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.baseInterval = d
	p.mu.Unlock()
}

func (p *poller) runTick() {
	p.mu.Lock()
	if p.stopped || p.inFlight {
		// The in-flight guard makes overlapping ticks impossible even if
		// a reconfigured timer fires while the previous tick is running.
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.timer = nil
	p.mu.Unlock()

	err := p.tick(p.ctx)

	p.mu.Lock()
	p.inFlight = false
	if p.stopped {
		p.mu.Unlock()
		return
	}
	state, delay, reschedule := p.onTickResult(err)
	if reschedule {
		p.timer = p.clk.AfterFunc(delay, p.runTick)
	} else {
		p.stopped = true
	}
	notify := p.notify
	p.mu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Str("state", string(state)).Dur("next_delay", delay).
			Bool("reschedule", reschedule).Msg("Poll tick failed")
	}
	if notify != nil {
		notify(state)
	}
}

// onTickResult is the scheduler's single transition function: it maps a
// tick outcome to the reported state, the delay before the next tick, and
// whether a next tick happens at all. Must be called with p.mu held.
func (p *poller) onTickResult(err error) (state ConnState, delay time.Duration, reschedule bool) {
	switch {
	case err == nil:
		p.retries = 0
		return StateConnected, p.baseInterval, true
	case chatapi.IsPermission(err):
		return StateForbidden, 0, false
	default:
		delay = backoffDelay(p.baseInterval, p.maxDelay, p.retries)
		p.retries++
		if p.retries >= p.maxAttempts {
			return StateError, delay, true
		}
		return StateReconnecting, delay, true
	}
}

// backoffDelay computes base * 2^failures, capped at max. With the
// defaults the schedule on consecutive failures is 5s, 10s, 20s, 30s,
// 30s, ...
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	delay := base
	for i := 0; i < failures && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

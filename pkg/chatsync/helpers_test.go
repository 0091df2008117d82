package chatsync

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/util/ptr"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rec(id, senderID string, createdAt time.Time, text string) chatapi.Message {
	return chatapi.Message{
		ID:        id,
		GroupID:   "g1",
		SenderID:  senderID,
		Text:      ptr.Ptr(text),
		CreatedAt: createdAt,
		ChangedAt: createdAt,
	}
}

// fakeTimer and fakeClock implement the clock abstraction with manual
// time control. Advance fires due timers in order.
type fakeTimer struct {
	clk     *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := t.stopped
	t.stopped = true
	return !was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer

	// scheduled records every AfterFunc delay in order, so tests can
	// assert the exact backoff schedule.
	scheduled []time.Duration

	// fireImmediately makes AfterFunc run its callback synchronously.
	// Only safe for bounded callback chains.
	fireImmediately bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timerHandle {
	c.mu.Lock()
	timer := &fakeTimer{clk: c, fireAt: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	c.scheduled = append(c.scheduled, d)
	immediate := c.fireImmediately
	if immediate {
		timer.stopped = true
	}
	c.mu.Unlock()
	if immediate {
		f()
	}
	return timer
}

// Advance moves the clock forward and runs every timer that comes due,
// including timers scheduled by fired callbacks within the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fireAt.After(target) {
				continue
			}
			if next == nil || t.fireAt.Before(next.fireAt) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.stopped = true
		if next.fireAt.After(c.now) {
			c.now = next.fireAt
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, t := range c.timers {
		if !t.stopped {
			count++
		}
	}
	return count
}

func (c *fakeClock) scheduledDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.scheduled))
	copy(out, c.scheduled)
	return out
}

// fakeTransport is a scripted Transport double. Unset functions behave
// like an empty, healthy server.
type fakeTransport struct {
	mu sync.Mutex

	listFn     func(groupID string, params chatapi.ListParams) (*chatapi.MessagePage, error)
	sendFn     func(req chatapi.SendRequest) (*chatapi.Message, error)
	deleteFn   func(id string) error
	markReadFn func(id string) (time.Time, error)
	lookupFn   func(ids []string) ([]chatapi.Profile, error)

	listCalls   int
	listParams  []chatapi.ListParams
	sendCalls   int
	deleteCalls int
	lookupCalls [][]string
}

func (f *fakeTransport) ListMessages(_ context.Context, groupID string, params chatapi.ListParams) (*chatapi.MessagePage, error) {
	f.mu.Lock()
	f.listCalls++
	f.listParams = append(f.listParams, params)
	fn := f.listFn
	f.mu.Unlock()
	if fn != nil {
		return fn(groupID, params)
	}
	return &chatapi.MessagePage{}, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, req chatapi.SendRequest) (*chatapi.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil, &chatapi.TransientError{Op: "send", Cause: context.Canceled}
}

func (f *fakeTransport) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	f.deleteCalls++
	fn := f.deleteFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return nil
}

func (f *fakeTransport) MarkMessageRead(_ context.Context, id string) (time.Time, error) {
	f.mu.Lock()
	fn := f.markReadFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return testEpoch, nil
}

func (f *fakeTransport) LookupProfiles(_ context.Context, ids []string) ([]chatapi.Profile, error) {
	f.mu.Lock()
	f.lookupCalls = append(f.lookupCalls, ids)
	fn := f.lookupFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ids)
	}
	return nil, nil
}

func (f *fakeTransport) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeTransport) deleteCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

func (f *fakeTransport) lookupCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookupCalls)
}

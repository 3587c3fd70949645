package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SequenceStub hands out predictable codes.
type SequenceStub struct {
	n atomic.Int64
}

func (s *SequenceStub) NextCampaignCode(context.Context) (string, error) {
	return fmt.Sprintf("CMP-TEST-%03d", s.n.Add(1)), nil
}

func (s *SequenceStub) NextTopUpCode(context.Context) (string, error) {
	return fmt.Sprintf("TOP-TEST-%03d", s.n.Add(1)), nil
}

// PurgerSpy records every purge request.
type PurgerSpy struct {
	mu   sync.Mutex
	Refs []string
}

func (p *PurgerSpy) Purge(_ context.Context, refs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Refs = append(p.Refs, refs...)
}

func (p *PurgerSpy) Purged() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Refs...)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Package ratelimit implements the per-provider sliding-window token bucket
// described in spec.md §4.1. It plays the role the teacher's
// internal/httpclient.HostSemaphore plays for raw per-host concurrency, but
// adds the sustained-rate-plus-burst-class arithmetic a semaphore alone can't
// express: webhook/user callers may dip into burst capacity, background
// callers may not.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority classifies the caller of Execute. webhook and user requests may
// consume burst capacity; background requests are held to the sustained rate.
type Priority string

const (
	PriorityWebhook    Priority = "webhook"
	PriorityUser       Priority = "user"
	PriorityBackground Priority = "background"
)

// Snapshot is the observable state of a Limiter at a point in time.
type Snapshot struct {
	InWindow  int
	Remaining int
	Max       int
	RPS       float64
	Burst     int
}

// Limiter is a per-provider rate limiter. Zero value is not usable; use New.
type Limiter struct {
	rps    float64
	window time.Duration
	burst  int

	sustained *rate.Limiter // enforces requestsPerSecond at all times

	mu        sync.Mutex
	timestamps []time.Time // sliding window of granted requests, for the observable snapshot
}

// New builds a Limiter enforcing requestsPerSecond sustained over windowSeconds,
// with burstCapacity additional same-instant slots available to webhook/user
// priority callers only.
func New(requestsPerSecond float64, windowSeconds int, burstCapacity int) *Limiter {
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	if burstCapacity < 0 {
		burstCapacity = 0
	}
	return &Limiter{
		rps:       requestsPerSecond,
		window:    time.Duration(windowSeconds) * time.Second,
		burst:     burstCapacity,
		sustained: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Execute blocks (cooperatively, never holding an in-process lock across the
// wait) until a slot is available for the given priority, records the grant,
// then runs fn and returns its result.
func (l *Limiter) Execute(ctx context.Context, priority Priority, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx, priority); err != nil {
		return err
	}
	l.record()
	return fn(ctx)
}

// acquire blocks until the caller's priority class may proceed.
//
// background callers are held to the sustained x/time/rate limiter alone
// (never allowed into the extra burst headroom); webhook/user callers may
// additionally proceed whenever the sliding window has room within
// burstCapacity even if the strict token bucket has not yet refilled, which
// is what lets them "consume up to burstCapacity" per spec.md §4.1.
func (l *Limiter) acquire(ctx context.Context, priority Priority) error {
	if priority != PriorityBackground {
		if l.tryBurstSlot() {
			return nil
		}
	}
	return l.sustained.Wait(ctx)
}

func (l *Limiter) tryBurstSlot() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gc()
	return len(l.timestamps) < l.burst
}

// record appends a grant timestamp for the observable window. Called exactly
// once per granted Execute call, regardless of which acquisition path it took.
func (l *Limiter) record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gc()
	l.timestamps = append(l.timestamps, time.Now())
}

// gc drops timestamps outside the window. Caller must hold l.mu.
func (l *Limiter) gc() {
	cutoff := time.Now().Add(-l.window)
	i := 0
	for i < len(l.timestamps) && l.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}

// Snapshot returns the current observable state.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gc()
	max := int(l.rps * l.window.Seconds())
	remaining := max - len(l.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		InWindow:  len(l.timestamps),
		Remaining: remaining,
		Max:       max,
		RPS:       l.rps,
		Burst:     l.burst,
	}
}

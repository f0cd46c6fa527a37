// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that step
// polling and timeout behavior can be tested deterministically.
//
// Production code accepts a [Clock] parameter instead of calling
// time.Now, time.After, or time.Sleep directly; engines poll for new
// steps against their Clock. [Real] returns the standard library
// behavior. [Fake] returns a clock whose time advances only when
// Advance is called, with [FakeClock.WaitForTimers] to synchronize a
// test with a goroutine that is about to block on the clock.
package clock

import "time"

// Clock abstracts the time operations Stride uses: reading the current
// time, waiting for a duration, and sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns the Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(d)
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

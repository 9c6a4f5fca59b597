// Package sysclock implements the node's two notions of time: a monotonic
// SystemTime ticking at ~1/1024s that wraps and is compared by signed
// difference, and a wall-clock Calendar tracking weekday/hour/minute/second.
package sysclock

import "time"

// TicksPerSecond is the SystemTime tick rate (spec §3: "~1/1024 s ticks").
const TicksPerSecond = 1024

// SystemTime is a wrapping tick counter. Two SystemTime values are only
// meaningfully comparable via Sub/Before/After, never via direct ordering of
// the underlying uint32, since the count wraps after 2^32 ticks, about 48.5
// days of runtime at 1024 ticks per second.
type SystemTime uint32

// SystemDuration is the signed difference between two SystemTime values, in
// ticks. Arithmetic on SystemDuration wraps the same way SystemTime does, so
// a SystemTime plus a SystemDuration is always well defined even across a
// wrap boundary.
type SystemDuration int32

// Sub returns t - u as a SystemDuration, correct across wraparound because
// the subtraction is carried out in the wrapping unsigned domain and only
// reinterpreted as signed at the end.
func (t SystemTime) Sub(u SystemTime) SystemDuration {
	return SystemDuration(int32(t - u))
}

// Add returns t advanced by d ticks (d may be negative).
func (t SystemTime) Add(d SystemDuration) SystemTime {
	return SystemTime(int32(t) + int32(d))
}

// Before reports whether t is strictly earlier than u, using signed
// wraparound-safe comparison.
func (t SystemTime) Before(u SystemTime) bool { return t.Sub(u) < 0 }

// After reports whether t is strictly later than u.
func (t SystemTime) After(u SystemTime) bool { return t.Sub(u) > 0 }

// Duration converts a SystemDuration to a time.Duration for interop with
// the standard library timer APIs used by internal/task.
func (d SystemDuration) Duration() time.Duration {
	return time.Duration(d) * time.Second / TicksPerSecond
}

// FromDuration converts a time.Duration to the nearest SystemDuration.
func FromDuration(d time.Duration) SystemDuration {
	return SystemDuration(d * TicksPerSecond / time.Second)
}

// Millisecond-, second-, minute- and hour-scale literal constructors,
// matching spec §3's "ms, s, min, h" duration literals.
func Milliseconds(n int) SystemDuration { return SystemDuration(n * TicksPerSecond / 1000) }
func Seconds(n int) SystemDuration      { return SystemDuration(n * TicksPerSecond) }
func Minutes(n int) SystemDuration      { return Seconds(n * 60) }
func Hours(n int) SystemDuration        { return Minutes(n * 60) }

// Clock is a free-running source of SystemTime, backed by a monotonic
// reference instant so Now() never depends on wall-clock adjustments (the
// firmware's low-power counter has the same property: it free-runs
// regardless of the wall-clock calendar).
type Clock struct {
	epoch time.Time
}

// NewClock returns a Clock whose epoch is the instant of the call.
func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// Now returns the current SystemTime.
func (c *Clock) Now() SystemTime {
	return SystemTime(FromDuration(time.Since(c.epoch)))
}

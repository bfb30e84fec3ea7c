package clock

import "time"

// Clock supplies the current time. Injecting it keeps date-driven logic
// (late derivation, fee accrual, cooldown windows) deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by time.Now in UTC.
func System() Clock { return systemClock{} }

// Fixed is a Clock pinned to a settable instant.
type Fixed struct {
	Instant time.Time
}

// NewFixed returns a Fixed clock at the given instant.
func NewFixed(t time.Time) *Fixed { return &Fixed{Instant: t} }

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time { return f.Instant }

// Advance moves the pinned instant forward.
func (f *Fixed) Advance(d time.Duration) { f.Instant = f.Instant.Add(d) }

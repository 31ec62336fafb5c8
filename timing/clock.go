package timing

import "time"

// Clock abstracts the server time source so orchestration logic and watchdogs
// can be driven deterministically in tests. Server timestamps are authoritative
// for all reaction math; millisecond precision is the contract.
type Clock interface {
	Now() time.Time
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }

// FixedClock is a test clock pinned to a settable instant.
type FixedClock struct {
	Instant time.Time
}

func (f *FixedClock) Now() time.Time { return f.Instant }

func (f *FixedClock) NowMillis() int64 { return f.Instant.UnixMilli() }

// Advance moves the fixed clock forward.
func (f *FixedClock) Advance(d time.Duration) { f.Instant = f.Instant.Add(d) }

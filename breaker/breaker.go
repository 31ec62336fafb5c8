package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State enumerates the breaker positions.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// OpenError is returned when the breaker rejects a call without attempting it.
// Callers treat it differently from upstream failures: retries are not
// incremented and leases are released untouched.
type OpenError struct {
	Target string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: circuit open for %s", e.Target)
}

// IsOpenError reports whether err is a breaker rejection.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

// Config tunes a breaker for one upstream target.
type Config struct {
	// FailureThreshold consecutive failures trip CLOSED -> OPEN.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes restore CLOSED.
	SuccessThreshold int
	// Timeout is how long OPEN holds before probing HALF_OPEN.
	Timeout time.Duration
}

// OracleDefaults matches the payment oracle tuning.
func OracleDefaults() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// StoreDefaults matches the database tuning.
func StoreDefaults() Config {
	return Config{FailureThreshold: 10, SuccessThreshold: 3, Timeout: 60 * time.Second}
}

// Stats is a point-in-time snapshot for operators and metrics.
type Stats struct {
	Target        string
	State         State
	Failures      int
	Successes     int
	TotalCalls    int64
	TotalFailures int64
	LastFailure   time.Time
}

// Breaker guards one upstream target with the classic three-state machine.
type Breaker struct {
	target string
	cfg    Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	totalCalls    int64
	totalFailures int64
	lastFailure   time.Time
}

// New builds a breaker for the named target. Zero config fields fall back to
// oracle defaults.
func New(target string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = OracleDefaults().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = OracleDefaults().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = OracleDefaults().Timeout
	}
	return &Breaker{target: target, cfg: cfg, now: time.Now, state: StateClosed}
}

// WithClock overrides the time source for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Call executes fn under breaker protection. A rejection returns *OpenError
// without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			b.totalCalls++
			return nil
		}
		return &OpenError{Target: b.target}
	default:
		b.totalCalls++
		return nil
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.failures = 0
				b.successes = 0
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	b.totalFailures++
	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
}

// Reset forces the breaker back to CLOSED. Manual operator escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}

// Stats returns the current snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Target:        b.target,
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		TotalCalls:    b.totalCalls,
		TotalFailures: b.totalFailures,
		LastFailure:   b.lastFailure,
	}
}

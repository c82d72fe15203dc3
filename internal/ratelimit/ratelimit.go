package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Config struct {
	Window         time.Duration
	BurstThreshold int
	BlockDuration  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:         2 * time.Second,
		BurstThreshold: 5,
		BlockDuration:  10 * time.Second,
	}
}

type Verdict int

const (
	Allowed Verdict = iota
	Throttled
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Throttled:
		return "throttled"
	default:
		return "blocked"
	}
}

type Decision struct {
	Verdict Verdict
	// Wait is how long the caller should back off. Whole seconds for
	// Throttled, the full block duration for Blocked.
	Wait time.Duration
}

func (d Decision) Allowed() bool { return d.Verdict == Allowed }

// Limiter tracks request cadence per key and escalates rapid bursts into a
// timed block.
type Limiter[K comparable] struct {
	mu     sync.Mutex
	states map[K]*state
	cfg    Config
	now    func() time.Time
}

type state struct {
	lastAttempt  time.Time
	count        int
	blockedUntil time.Time
}

func New[K comparable](cfg Config) *Limiter[K] {
	return NewWithNow[K](cfg, time.Now)
}

func NewWithNow[K comparable](cfg Config, now func() time.Time) *Limiter[K] {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = def.BurstThreshold
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	return &Limiter[K]{
		states: make(map[K]*state),
		cfg:    cfg,
		now:    now,
	}
}

func (l *Limiter[K]) Config() Config { return l.cfg }

// IsBlocked reports an active block and its remaining time. An expired
// block is cleared here, and only here, resetting the counter to zero.
func (l *Limiter[K]) IsBlocked(key K) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok || st.blockedUntil.IsZero() {
		return false, 0
	}
	remaining := st.blockedUntil.Sub(l.now())
	if remaining <= 0 {
		st.blockedUntil = time.Time{}
		st.count = 0
		return false, 0
	}
	return true, remaining
}

// RegisterAttempt records one attempt. Callers check IsBlocked first.
func (l *Limiter[K]) RegisterAttempt(key K) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.states[key]
	if !ok {
		l.states[key] = &state{lastAttempt: now, count: 1}
		return Decision{Verdict: Allowed}
	}

	elapsed := now.Sub(st.lastAttempt)
	st.lastAttempt = now
	if elapsed >= l.cfg.Window {
		st.count = 1
		return Decision{Verdict: Allowed}
	}

	st.count++
	if st.count >= l.cfg.BurstThreshold {
		st.blockedUntil = now.Add(l.cfg.BlockDuration)
		return Decision{Verdict: Blocked, Wait: l.cfg.BlockDuration}
	}

	wait := (l.cfg.Window - elapsed).Truncate(time.Second)
	if wait < 0 {
		wait = 0
	}
	return Decision{Verdict: Throttled, Wait: wait}
}

// Check runs IsBlocked then RegisterAttempt as one gated entry.
func (l *Limiter[K]) Check(key K) Decision {
	if blocked, remaining := l.IsBlocked(key); blocked {
		return Decision{Verdict: Blocked, Wait: remaining}
	}
	return l.RegisterAttempt(key)
}

// Sweep drops idle entries that carry no block. It never clears a block,
// so the lazy-clear rule in IsBlocked stays the only expiry path.
func (l *Limiter[K]) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, st := range l.states {
		if st.blockedUntil.IsZero() && now.Sub(st.lastAttempt) > idle {
			delete(l.states, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// RunJanitor sweeps idle entries until ctx is done.
func (l *Limiter[K]) RunJanitor(ctx context.Context, every, idle time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}

// Package guard enforces disbursement rate limits and the failure lockdown.
package guard

import (
	"sync"
	"time"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Limits configures a Guard.
type Limits struct {
	// MaxPerTransaction is the per-transfer ceiling in base units.
	MaxPerTransaction uint64
	HourlyLimit       int
	DailyLimit        int
	// MinRecipientInterval is the cooldown between payouts to one recipient.
	MinRecipientInterval time.Duration
	FailureThreshold     int
	LockdownDuration     time.Duration
}

// Snapshot is a point-in-time copy of the guard state.
type Snapshot struct {
	Reserved            int
	HourlyCount         int
	DailyCount          int
	ConsecutiveFailures int
	LockedDown          bool
	LockedUntil         time.Time
}

// Guard tracks rolling counters, per-recipient cooldowns, and lockdown. It is
// safe for concurrent use.
type Guard struct {
	limits Limits
	now    func() time.Time

	mu                  sync.Mutex
	hourlyCount         int
	dailyCount          int
	hourStart           time.Time
	dayStart            time.Time
	lastPayout          map[string]time.Time
	reserved            int
	pending             map[string]int
	consecutiveFailures int
	lockedUntil         time.Time
}

// New creates a guard. A nil clock uses time.Now.
func New(limits Limits, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	if limits.FailureThreshold <= 0 {
		limits.FailureThreshold = 1
	}
	start := now()
	return &Guard{
		limits:     limits,
		now:        now,
		hourStart:  start,
		dayStart:   start,
		lastPayout: make(map[string]time.Time),
		pending:    make(map[string]int),
	}
}

// LockedDown reports whether payouts are suspended. An expired lockdown is
// cleared as a side effect.
func (g *Guard) LockedDown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockedLocked(g.now())
}

func (g *Guard) lockedLocked(now time.Time) bool {
	if g.lockedUntil.IsZero() {
		return false
	}
	if now.Before(g.lockedUntil) {
		return true
	}
	g.lockedUntil = time.Time{}
	g.consecutiveFailures = 0
	return false
}

// check runs the rate checks for one transfer of amount to each
// recipient. It returns "" when the transfers may proceed. Nothing is
// recorded.
func (g *Guard) check(recipients []string, amount uint64) apperrors.Code {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked(g.now(), recipients, amount)
}

// Reserve is check plus holding one counter slot and the cooldown
// for each recipient until the transfer is settled with RecordSuccess,
// Consume, or Release. In-flight transfers count against every limit.
func (g *Guard) Reserve(recipients []string, amount uint64) apperrors.Code {
	g.mu.Lock()
	defer g.mu.Unlock()
	if code := g.checkLocked(g.now(), recipients, amount); code != "" {
		return code
	}
	for _, recipient := range recipients {
		g.pending[recipient]++
		g.reserved++
	}
	return ""
}

// Release returns a reserved slot for a transfer that did not happen.
func (g *Guard) Release(recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(recipient)
}

func (g *Guard) releaseLocked(recipient string) {
	count, ok := g.pending[recipient]
	if !ok {
		return
	}
	if count <= 1 {
		delete(g.pending, recipient)
	} else {
		g.pending[recipient] = count - 1
	}
	g.reserved--
}

// Consume counts a transfer whose outcome is unknown as sent, without
// touching the failure counter.
func (g *Guard) Consume(recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.countLocked(recipient)
}

func (g *Guard) countLocked(recipient string) {
	now := g.now()
	g.releaseLocked(recipient)
	g.resetWindowsLocked(now)
	g.hourlyCount++
	g.dailyCount++
	g.lastPayout[recipient] = now
}

func (g *Guard) checkLocked(now time.Time, recipients []string, amount uint64) apperrors.Code {
	if g.lockedLocked(now) {
		return apperrors.CodeServiceLockedDown
	}
	if amount == 0 {
		return apperrors.CodeInvalidAmount
	}
	if g.limits.MaxPerTransaction > 0 && amount > g.limits.MaxPerTransaction {
		return apperrors.CodeAmountExceedsLimit
	}

	g.resetWindowsLocked(now)
	n := len(recipients)
	if g.limits.HourlyLimit > 0 && g.hourlyCount+g.reserved+n > g.limits.HourlyLimit {
		return apperrors.CodeHourlyLimitReached
	}
	if g.limits.DailyLimit > 0 && g.dailyCount+g.reserved+n > g.limits.DailyLimit {
		return apperrors.CodeDailyLimitReached
	}
	for _, recipient := range recipients {
		if g.pending[recipient] > 0 {
			return apperrors.CodeWalletRateLimited
		}
		last, ok := g.lastPayout[recipient]
		if ok && now.Sub(last) < g.limits.MinRecipientInterval {
			return apperrors.CodeWalletRateLimited
		}
	}
	return ""
}

func (g *Guard) resetWindowsLocked(now time.Time) {
	if now.Sub(g.hourStart) > hourWindow {
		g.hourlyCount = 0
		g.hourStart = now
	}
	if now.Sub(g.dayStart) > dayWindow {
		g.dailyCount = 0
		g.dayStart = now
		g.pruneLocked(now)
	}
}

// pruneLocked drops cooldown entries that can no longer reject a payout.
func (g *Guard) pruneLocked(now time.Time) {
	for recipient, last := range g.lastPayout {
		if now.Sub(last) >= g.limits.MinRecipientInterval {
			delete(g.lastPayout, recipient)
		}
	}
}

// RecordSuccess counts one confirmed transfer to recipient, settling its
// reservation if any, and resets the consecutive failure counter.
func (g *Guard) RecordSuccess(recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.countLocked(recipient)
	g.consecutiveFailures = 0
}

// RecordFailure counts one submission failure. It reports whether this
// failure tripped the lockdown.
func (g *Guard) RecordFailure() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.lockedLocked(now) {
		return false
	}
	g.consecutiveFailures++
	if g.consecutiveFailures >= g.limits.FailureThreshold {
		g.lockedUntil = now.Add(g.limits.LockdownDuration)
		return true
	}
	return false
}

// Unlock clears lockdown and the failure counter immediately.
func (g *Guard) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lockedUntil = time.Time{}
	g.consecutiveFailures = 0
}

// Snapshot returns the current state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	locked := g.lockedLocked(now)
	g.resetWindowsLocked(now)
	return Snapshot{
		Reserved:            g.reserved,
		HourlyCount:         g.hourlyCount,
		DailyCount:          g.dailyCount,
		ConsecutiveFailures: g.consecutiveFailures,
		LockedDown:          locked,
		LockedUntil:         g.lockedUntil,
	}
}

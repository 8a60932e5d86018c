package guard

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testLimits() Limits {
	return Limits{
		MaxPerTransaction:    1_000_000_000_000,
		HourlyLimit:          3,
		DailyLimit:           5,
		MinRecipientInterval: time.Minute,
		FailureThreshold:     3,
		LockdownDuration:     30 * time.Minute,
	}
}

func TestCheckAmounts(t *testing.T) {
	g := New(testLimits(), newClock().Now)
	if got := g.check([]string{"alice"}, 0); got != apperrors.CodeInvalidAmount {
		t.Fatalf("zero amount = %q, want INVALID_AMOUNT", got)
	}
	if got := g.check([]string{"alice"}, 2_000_000_000_000); got != apperrors.CodeAmountExceedsLimit {
		t.Fatalf("over ceiling = %q, want AMOUNT_EXCEEDS_LIMIT", got)
	}
	if got := g.check([]string{"alice"}, 1_000_000_000_000); got != "" {
		t.Fatalf("at ceiling = %q, want allowed", got)
	}
}

func TestHourlyWindowResetsOnlyAfterCrossing(t *testing.T) {
	clock := newClock()
	g := New(testLimits(), clock.Now)

	for _, recipient := range []string{"a", "b", "c"} {
		if got := g.check([]string{recipient}, 1); got != "" {
			t.Fatalf("check %s = %q", recipient, got)
		}
		g.RecordSuccess(recipient)
	}
	if got := g.check([]string{"d"}, 1); got != apperrors.CodeHourlyLimitReached {
		t.Fatalf("fourth payout = %q, want HOURLY_LIMIT_REACHED", got)
	}

	clock.Advance(time.Hour)
	if got := g.check([]string{"d"}, 1); got != apperrors.CodeHourlyLimitReached {
		t.Fatalf("at exactly one hour = %q, want HOURLY_LIMIT_REACHED", got)
	}
	clock.Advance(time.Second)
	if got := g.check([]string{"d"}, 1); got != "" {
		t.Fatalf("after window = %q, want allowed", got)
	}
	if snap := g.Snapshot(); snap.HourlyCount != 0 || snap.DailyCount != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDailyLimit(t *testing.T) {
	clock := newClock()
	g := New(testLimits(), clock.Now)
	for i := 0; i < 5; i++ {
		recipient := string(rune('a' + i))
		if got := g.check([]string{recipient}, 1); got != "" {
			t.Fatalf("payout %d = %q", i, got)
		}
		g.RecordSuccess(recipient)
		clock.Advance(2 * time.Hour)
	}
	if got := g.check([]string{"z"}, 1); got != apperrors.CodeDailyLimitReached {
		t.Fatalf("sixth payout = %q, want DAILY_LIMIT_REACHED", got)
	}
	clock.Advance(24 * time.Hour)
	if got := g.check([]string{"z"}, 1); got != "" {
		t.Fatalf("next day = %q, want allowed", got)
	}
}

func TestMultiRecipientCountsEachTransfer(t *testing.T) {
	limits := testLimits()
	limits.HourlyLimit = 1
	g := New(limits, newClock().Now)
	if got := g.check([]string{"a", "b"}, 1); got != apperrors.CodeHourlyLimitReached {
		t.Fatalf("two transfers with one slot = %q, want HOURLY_LIMIT_REACHED", got)
	}
}

func TestRecipientCooldown(t *testing.T) {
	clock := newClock()
	g := New(testLimits(), clock.Now)
	g.RecordSuccess("alice")

	clock.Advance(30 * time.Second)
	if got := g.check([]string{"bob", "alice"}, 1); got != apperrors.CodeWalletRateLimited {
		t.Fatalf("within cooldown = %q, want WALLET_RATE_LIMITED", got)
	}
	clock.Advance(30 * time.Second)
	if got := g.check([]string{"alice"}, 1); got != "" {
		t.Fatalf("after cooldown = %q, want allowed", got)
	}
}

func TestLockdownTripAndAutoClear(t *testing.T) {
	clock := newClock()
	g := New(testLimits(), clock.Now)

	if g.RecordFailure() || g.RecordFailure() {
		t.Fatal("lockdown tripped before threshold")
	}
	if !g.RecordFailure() {
		t.Fatal("expected third failure to trip lockdown")
	}
	if got := g.check([]string{"alice"}, 1); got != apperrors.CodeServiceLockedDown {
		t.Fatalf("locked check = %q, want SERVICE_LOCKED_DOWN", got)
	}
	snap := g.Snapshot()
	if !snap.LockedDown || !snap.LockedUntil.Equal(clock.now.Add(30*time.Minute)) {
		t.Fatalf("snapshot = %+v", snap)
	}

	clock.Advance(30 * time.Minute)
	if g.LockedDown() {
		t.Fatal("expected lockdown to clear once the duration elapsed")
	}
	if snap := g.Snapshot(); snap.ConsecutiveFailures != 0 || !snap.LockedUntil.IsZero() {
		t.Fatalf("snapshot after clear = %+v", snap)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	g := New(testLimits(), newClock().Now)
	g.RecordFailure()
	g.RecordFailure()
	g.RecordSuccess("alice")
	if g.RecordFailure() {
		t.Fatal("failure count should restart after a success")
	}
	if got := g.Snapshot().ConsecutiveFailures; got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
}

func TestUnlockClearsImmediately(t *testing.T) {
	g := New(testLimits(), newClock().Now)
	for i := 0; i < 3; i++ {
		g.RecordFailure()
	}
	if !g.LockedDown() {
		t.Fatal("expected lockdown")
	}
	g.Unlock()
	if g.LockedDown() {
		t.Fatal("expected unlock to clear lockdown")
	}
	if got := g.Snapshot().ConsecutiveFailures; got != 0 {
		t.Fatalf("failures = %d, want 0", got)
	}
}

func TestReserveHoldsSlotsUntilSettled(t *testing.T) {
	limits := testLimits()
	limits.HourlyLimit = 2
	g := New(limits, newClock().Now)

	if got := g.Reserve([]string{"alice"}, 10); got != "" {
		t.Fatalf("reserve alice = %q", got)
	}
	if got := g.Reserve([]string{"alice"}, 10); got != apperrors.CodeWalletRateLimited {
		t.Fatalf("second reserve for alice = %q, want WALLET_RATE_LIMITED", got)
	}
	if got := g.Reserve([]string{"bob"}, 10); got != "" {
		t.Fatalf("reserve bob = %q", got)
	}
	if got := g.Reserve([]string{"carol"}, 10); got != apperrors.CodeHourlyLimitReached {
		t.Fatalf("reserve carol = %q, want HOURLY_LIMIT_REACHED", got)
	}

	g.Release("bob")
	g.RecordSuccess("alice")
	snap := g.Snapshot()
	if snap.Reserved != 0 || snap.HourlyCount != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := g.Reserve([]string{"carol"}, 10); got != "" {
		t.Fatalf("reserve carol after release = %q", got)
	}
}

func TestConsumeCountsWithoutResettingFailures(t *testing.T) {
	g := New(testLimits(), newClock().Now)
	g.RecordFailure()
	if got := g.Reserve([]string{"alice"}, 10); got != "" {
		t.Fatalf("reserve = %q", got)
	}
	g.Consume("alice")
	snap := g.Snapshot()
	if snap.HourlyCount != 1 || snap.Reserved != 0 || snap.ConsecutiveFailures != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := g.check([]string{"alice"}, 10); got != apperrors.CodeWalletRateLimited {
		t.Fatalf("check = %q, want WALLET_RATE_LIMITED", got)
	}
}

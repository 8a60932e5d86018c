package intent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
)

// Mode selects how much of verification happens remotely.
type Mode string

const (
	// ModeDevelopment verifies locally only.
	ModeDevelopment Mode = "development"
	// ModeProduction also requires the facilitator to accept the payload.
	ModeProduction Mode = "production"
)

// ParseMode parses a configured mode name. Empty means development.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeDevelopment:
		return ModeDevelopment, nil
	case ModeProduction:
		return ModeProduction, nil
	default:
		return "", errors.New("facilitator mode must be development or production")
	}
}

// Expected is what the deposit flow requires the intent to pay.
type Expected struct {
	Recipient string
	Asset     string
	MinAmount decimal.Decimal
}

// LocalResult is the outcome of VerifyLocal.
type LocalResult struct {
	Valid  bool
	Intent Intent
	Reason apperrors.Code
}

// Result is the outcome of VerifyPayload.
type Result struct {
	Valid  bool
	Intent Intent
	Reason apperrors.Code
}

// SettleResult is the outcome of SettlePayload.
type SettleResult struct {
	Success       bool
	SettlementRef string
	Reason        apperrors.Code
	// Detail carries the facilitator's own reason string when it gave one.
	Detail string
}

// Config configures a Verifier.
type Config struct {
	Network     string
	Mode        Mode
	Facilitator Facilitator
	Now         func() time.Time
}

// Verifier admits payment intents for one network.
type Verifier struct {
	network     string
	mode        Mode
	facilitator Facilitator
	now         func() time.Time
	nonces      *nonceLedger
}

// NewVerifier validates cfg. Production mode without a facilitator fails.
func NewVerifier(cfg Config) (*Verifier, error) {
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		return nil, errors.New("network is required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDevelopment
	}
	if mode != ModeDevelopment && mode != ModeProduction {
		return nil, errors.New("unknown verifier mode")
	}
	if mode == ModeProduction && cfg.Facilitator == nil {
		return nil, errors.New("production mode requires a facilitator")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		network:     network,
		mode:        mode,
		facilitator: cfg.Facilitator,
		now:         now,
		nonces:      newNonceLedger(),
	}, nil
}

// Mode reports the configured verification mode.
func (v *Verifier) Mode() Mode {
	return v.mode
}

// VerifyLocal decodes the payload and checks expiry, network, signature, and
// replay, in that order.
func (v *Verifier) VerifyLocal(payload string) LocalResult {
	in, err := Decode(payload)
	if err != nil {
		return LocalResult{Reason: apperrors.CodeInvalidPayload}
	}
	now := v.now()
	if !now.Before(in.ValidUntil) {
		return LocalResult{Intent: in, Reason: apperrors.CodePayloadExpired}
	}
	if in.Network != v.network {
		return LocalResult{Intent: in, Reason: apperrors.CodeWrongNetwork}
	}
	if !verifySignature(in) {
		return LocalResult{Intent: in, Reason: apperrors.CodeInvalidSignature}
	}
	if v.nonces.consumed(in.Payer, in.Nonce, now) {
		return LocalResult{Intent: in, Reason: apperrors.CodePayloadReplayed}
	}
	return LocalResult{Valid: true, Intent: in}
}

func checkExpected(in Intent, expected Expected) apperrors.Code {
	if in.Amount.LessThan(expected.MinAmount) {
		return apperrors.CodeInsufficientAmount
	}
	if in.Recipient != expected.Recipient {
		return apperrors.CodeWrongRecipient
	}
	if in.Asset != expected.Asset {
		return apperrors.CodeWrongToken
	}
	return ""
}

// VerifyPayload runs local verification, the expected-value checks, and in
// production mode the facilitator's /verify. It fails closed.
func (v *Verifier) VerifyPayload(ctx context.Context, payload string, expected Expected) Result {
	local := v.VerifyLocal(payload)
	if !local.Valid {
		return Result{Intent: local.Intent, Reason: local.Reason}
	}
	if code := checkExpected(local.Intent, expected); code != "" {
		return Result{Intent: local.Intent, Reason: code}
	}
	if v.mode != ModeProduction {
		return Result{Valid: true, Intent: local.Intent}
	}

	resp, err := v.facilitator.Verify(ctx, payload, PaymentDetails{
		Network:   v.network,
		PayTo:     expected.Recipient,
		Asset:     expected.Asset,
		MinAmount: expected.MinAmount.String(),
	})
	if err != nil {
		log.Printf("facilitator verify failed: %s", apperrors.CodeFacilitatorError)
		return Result{Intent: local.Intent, Reason: apperrors.CodeFacilitatorError}
	}
	if !resp.IsValid {
		return Result{Intent: local.Intent, Reason: apperrors.CodeFacilitatorRejected}
	}
	return Result{Valid: true, Intent: local.Intent}
}

// SettlePayload re-verifies the payload, reserves its (payer, nonce), and
// asks the facilitator to settle it. The reservation is released when
// settlement does not succeed.
func (v *Verifier) SettlePayload(ctx context.Context, payload string, requirements PaymentRequirements) SettleResult {
	local := v.VerifyLocal(payload)
	if !local.Valid {
		return SettleResult{Reason: local.Reason}
	}
	in := local.Intent

	minAmount, err := decimal.NewFromString(requirements.MaxAmountRequired)
	if err != nil {
		return SettleResult{Reason: apperrors.CodeInvalidRequest}
	}
	expected := Expected{Recipient: requirements.PayTo, Asset: requirements.Asset, MinAmount: minAmount}
	if code := checkExpected(in, expected); code != "" {
		return SettleResult{Reason: code}
	}
	if v.facilitator == nil {
		return SettleResult{Reason: apperrors.CodeSettlementError}
	}
	if requirements.Network == "" {
		requirements.Network = v.network
	}

	now := v.now()
	if !v.nonces.reserve(in.Payer, in.Nonce, in.ValidUntil, now) {
		return SettleResult{Reason: apperrors.CodePayloadReplayed}
	}

	resp, err := v.facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		v.nonces.release(in.Payer, in.Nonce)
		log.Printf("facilitator settle failed: %s", apperrors.CodeSettlementError)
		return SettleResult{Reason: apperrors.CodeSettlementError}
	}
	if !resp.Success {
		v.nonces.release(in.Payer, in.Nonce)
		return SettleResult{Reason: apperrors.CodeSettlementFailed, Detail: resp.ErrorReason}
	}
	return SettleResult{Success: true, SettlementRef: resp.Transaction}
}

// nonceLedger remembers settled (payer, nonce) pairs until their intents
// expire, after which expiry alone rejects them.
type nonceLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newNonceLedger() *nonceLedger {
	return &nonceLedger{entries: make(map[string]time.Time)}
}

func nonceKey(payer, nonce string) string {
	return payer + "\x00" + nonce
}

func (l *nonceLedger) consumed(payer, nonce string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	_, ok := l.entries[nonceKey(payer, nonce)]
	return ok
}

func (l *nonceLedger) reserve(payer, nonce string, until, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	key := nonceKey(payer, nonce)
	if _, ok := l.entries[key]; ok {
		return false
	}
	l.entries[key] = until
	return true
}

func (l *nonceLedger) release(payer, nonce string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, nonceKey(payer, nonce))
}

func (l *nonceLedger) pruneLocked(now time.Time) {
	for key, until := range l.entries {
		if !now.Before(until) {
			delete(l.entries, key)
		}
	}
}

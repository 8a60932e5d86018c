// Package app runs the payout orchestrator: preflight, event verification,
// transfer submission, settlement, and the process runtime around them.
package app

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
	"github.com/louisbranch/payoutcore/internal/platform/requestctx"
	"github.com/louisbranch/payoutcore/internal/platform/timeouts"
	"github.com/louisbranch/payoutcore/internal/services/payout/audit"
	"github.com/louisbranch/payoutcore/internal/services/payout/guard"
	"github.com/louisbranch/payoutcore/internal/services/payout/ledger"
	"github.com/louisbranch/payoutcore/internal/services/payout/storage"
)

const tracerName = "github.com/louisbranch/payoutcore/internal/services/payout/app"

// Signer is the custodial key as the orchestrator sees it.
type Signer interface {
	Ready() bool
	Address() string
	MaskedAddress() string
	Sign(tx ledger.Transaction) (ledger.SignedTransaction, error)
}

// Config wires an Orchestrator.
type Config struct {
	Signer  Signer
	Ledger  ledger.Client
	Store   storage.Store
	Guard   *guard.Guard
	Audit   *audit.Log
	Metrics *Metrics

	AdminSecret string
	// FeeReserve is native balance kept on top of the network fee.
	FeeReserve     uint64
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	RPCTimeout     time.Duration
	Now            func() time.Time
}

// Orchestrator is the single entry point for moving custodial funds.
type Orchestrator struct {
	signer  Signer
	ledger  ledger.Client
	store   storage.Store
	guard   *guard.Guard
	audit   *audit.Log
	metrics *Metrics
	tracer  trace.Tracer

	adminDigest    [sha256.Size]byte
	adminSet       bool
	feeReserve     uint64
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	rpcTimeout     time.Duration
	now            func() time.Time

	// mu guards the preflight-and-mark critical section. No I/O happens
	// while it is held.
	mu        sync.Mutex
	processed map[string]struct{}
}

// New validates cfg and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("guard is required")
	}
	o := &Orchestrator{
		signer:         cfg.Signer,
		ledger:         cfg.Ledger,
		store:          cfg.Store,
		guard:          cfg.Guard,
		audit:          cfg.Audit,
		metrics:        cfg.Metrics,
		tracer:         otel.Tracer(tracerName),
		feeReserve:     cfg.FeeReserve,
		confirmTimeout: cfg.ConfirmTimeout,
		confirmPoll:    cfg.ConfirmPoll,
		rpcTimeout:     cfg.RPCTimeout,
		now:            cfg.Now,
		processed:      make(map[string]struct{}),
	}
	if secret := strings.TrimSpace(cfg.AdminSecret); secret != "" {
		o.adminDigest = sha256.Sum256([]byte(secret))
		o.adminSet = true
	}
	if o.confirmTimeout <= 0 {
		o.confirmTimeout = timeouts.Confirmation
	}
	if o.confirmPoll <= 0 {
		o.confirmPoll = timeouts.ConfirmationPoll
	}
	if o.rpcTimeout <= 0 {
		o.rpcTimeout = timeouts.RPCRequest
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// PayoutRequest pays a match winner the whole pot.
type PayoutRequest struct {
	EventID string
	Winner  string
	Loser   string
	Asset   string
	Amount  uint64
}

// RefundRequest returns the wager to both parties of an event.
type RefundRequest struct {
	EventID string
	PartyA  string
	PartyB  string
	Asset   string
	Amount  uint64
}

// SingleRefundRequest returns the wager to one party.
type SingleRefundRequest struct {
	EventID string
	Party   string
	Asset   string
	Amount  uint64
	Reason  string
}

// Result is the outcome of a payout or single refund.
type Result struct {
	Success     bool
	TransferRef string
	Code        apperrors.Code
}

// RefundOutcome is one leg of a refund.
type RefundOutcome struct {
	Recipient   string
	Success     bool
	TransferRef string
	Code        apperrors.Code
}

// RefundResult is the outcome of a dual refund.
type RefundResult struct {
	Success  bool
	Code     apperrors.Code
	Outcomes []RefundOutcome
}

// Status is the orchestrator's externally visible state.
type Status struct {
	Ready               bool
	LockedDown          bool
	LockedUntil         time.Time
	HourlyCount         int
	DailyCount          int
	ConsecutiveFailures int
	InFlight            int
	Address             string
}

// UnlockResult is the outcome of AdminUnlock.
type UnlockResult struct {
	Success bool
	Code    apperrors.Code
}

// settleKind selects the expected amount and terminal status.
type settleKind int

const (
	settlePayout settleKind = iota
	settleRefund
)

func (k settleKind) String() string {
	return string(k.transferKind())
}

func (k settleKind) transferKind() storage.TransferKind {
	if k == settlePayout {
		return storage.TransferPayout
	}
	return storage.TransferRefund
}

// ProcessPayout pays req.Winner twice the recorded wager.
func (o *Orchestrator) ProcessPayout(ctx context.Context, req PayoutRequest) Result {
	ctx, span := o.tracer.Start(ctx, "payout.process", requestAttributes(ctx, "payout", req.EventID))
	defer span.End()

	result := o.processPayout(ctx, req)
	endSpan(span, result.Code)
	o.metrics.observeRequest("payout", result.Code)
	return result
}

func (o *Orchestrator) processPayout(ctx context.Context, req PayoutRequest) Result {
	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.Winner) == "" || strings.TrimSpace(req.Asset) == "" {
		return o.reject(ctx, "payout", req.EventID, apperrors.CodeInvalidRequest)
	}
	recipients := []string{req.Winner}
	if code := o.preflight(req.EventID, recipients, req.Amount); code != "" {
		return o.reject(ctx, "payout", req.EventID, code)
	}

	participants := []string{req.Winner}
	if req.Loser != "" {
		participants = append(participants, req.Loser)
	}
	check, code := o.verifyEvent(ctx, req.EventID, settlePayout, participants, req.Asset, req.Amount)
	if code == "" && len(check.paid) > 0 {
		// An earlier payout landed but never recorded the settlement.
		if ref, ok := check.paid[req.Winner]; ok {
			o.settle(ctx, req.EventID, storage.StatusCompleted, ref)
		}
		code = apperrors.CodeAlreadyPaid
	}
	if code != "" {
		o.abandon(req.EventID, recipients)
		return o.reject(ctx, "payout", req.EventID, code)
	}

	leg := o.transfer(ctx, settlePayout, req.EventID, req.Winner, req.Asset, req.Amount)
	switch leg.state {
	case legConfirmed:
		o.settle(ctx, req.EventID, storage.StatusCompleted, leg.ref)
		o.audit.Append(ctx, audit.SeverityInfo, "payout.completed", map[string]string{
			"event_id":  req.EventID,
			"recipient": ledger.MaskAddress(req.Winner),
			"asset":     req.Asset,
			"amount":    fmt.Sprint(req.Amount),
			"transfer":  leg.ref,
		})
		log.Printf("payout %s confirmed to %s", req.EventID, ledger.MaskAddress(req.Winner))
		return Result{Success: true, TransferRef: leg.ref}
	case legUnknown:
		return o.fail(ctx, "payout", req.EventID, leg.code)
	default:
		o.unmark(req.EventID)
		return o.fail(ctx, "payout", req.EventID, leg.code)
	}
}

// ProcessSingleRefund returns the recorded wager to one party.
func (o *Orchestrator) ProcessSingleRefund(ctx context.Context, req SingleRefundRequest) Result {
	ctx, span := o.tracer.Start(ctx, "payout.process", requestAttributes(ctx, "single_refund", req.EventID))
	defer span.End()

	refund := o.processRefund(ctx, "single_refund", req.EventID, []string{req.Party}, req.Asset, req.Amount, req.Reason)
	result := Result{Success: refund.Success, Code: refund.Code}
	if len(refund.Outcomes) == 1 {
		result.TransferRef = refund.Outcomes[0].TransferRef
	}
	endSpan(span, result.Code)
	o.metrics.observeRequest("single_refund", result.Code)
	return result
}

// ProcessRefund returns the recorded wager to both parties. A refund where
// only one leg lands reports PARTIAL_REFUND with per-recipient outcomes.
func (o *Orchestrator) ProcessRefund(ctx context.Context, req RefundRequest) RefundResult {
	ctx, span := o.tracer.Start(ctx, "payout.process", requestAttributes(ctx, "refund", req.EventID))
	defer span.End()

	var result RefundResult
	if req.PartyA == req.PartyB {
		result = RefundResult{Code: o.reject(ctx, "refund", req.EventID, apperrors.CodeInvalidRequest).Code}
	} else {
		result = o.processRefund(ctx, "refund", req.EventID, []string{req.PartyA, req.PartyB}, req.Asset, req.Amount, "")
	}
	endSpan(span, result.Code)
	o.metrics.observeRequest("refund", result.Code)
	return result
}

func (o *Orchestrator) processRefund(ctx context.Context, kind, eventID string, parties []string, asset string, amount uint64, reason string) RefundResult {
	if strings.TrimSpace(eventID) == "" || strings.TrimSpace(asset) == "" {
		return RefundResult{Code: o.reject(ctx, kind, eventID, apperrors.CodeInvalidRequest).Code}
	}
	for _, party := range parties {
		if strings.TrimSpace(party) == "" {
			return RefundResult{Code: o.reject(ctx, kind, eventID, apperrors.CodeInvalidRequest).Code}
		}
	}
	if code := o.preflight(eventID, parties, amount); code != "" {
		return RefundResult{Code: o.reject(ctx, kind, eventID, code).Code}
	}

	check, code := o.verifyEvent(ctx, eventID, settleRefund, parties, asset, amount)
	if code != "" {
		o.abandon(eventID, parties)
		return RefundResult{Code: o.reject(ctx, kind, eventID, code).Code}
	}

	outcomes := make([]RefundOutcome, 0, len(parties))
	confirmed, unknown := 0, false
	var failure apperrors.Code
	for _, party := range parties {
		if record, ok := check.refunded[party]; ok {
			// Landed on an earlier attempt.
			o.guard.Release(party)
			outcomes = append(outcomes, RefundOutcome{Recipient: party, Success: true, TransferRef: record.Signature})
			confirmed++
			continue
		}
		if o.guard.LockedDown() {
			o.guard.Release(party)
			outcomes = append(outcomes, RefundOutcome{Recipient: party, Code: apperrors.CodeServiceLockedDown})
			if failure == "" {
				failure = apperrors.CodeServiceLockedDown
			}
			continue
		}
		leg := o.transfer(ctx, settleRefund, eventID, party, asset, amount)
		outcomes = append(outcomes, RefundOutcome{
			Recipient:   party,
			Success:     leg.state == legConfirmed,
			TransferRef: leg.ref,
			Code:        leg.code,
		})
		switch leg.state {
		case legConfirmed:
			confirmed++
		case legUnknown:
			unknown = true
			fallthrough
		default:
			if failure == "" {
				failure = leg.code
			}
		}
	}

	data := map[string]string{"event_id": eventID, "asset": asset, "amount": fmt.Sprint(amount)}
	if reason != "" {
		data["reason"] = reason
	}
	for i, outcome := range outcomes {
		data[fmt.Sprintf("recipient_%d", i)] = ledger.MaskAddress(outcome.Recipient)
		data[fmt.Sprintf("outcome_%d", i)] = outcomeLabel(outcome)
	}

	switch {
	case confirmed == len(parties):
		o.settle(ctx, eventID, storage.StatusRefunded, outcomes[0].TransferRef)
		o.audit.Append(ctx, audit.SeverityInfo, kind+".completed", data)
		log.Printf("%s %s confirmed", kind, eventID)
		return RefundResult{Success: true, Outcomes: outcomes}
	case confirmed > 0:
		if !unknown {
			o.unmark(eventID)
		}
		o.audit.Append(ctx, audit.SeverityError, kind+".partial", data)
		log.Printf("%s %s partially failed: %s", kind, eventID, apperrors.CodePartialRefund)
		return RefundResult{Code: apperrors.CodePartialRefund, Outcomes: outcomes}
	default:
		if !unknown {
			o.unmark(eventID)
		}
		o.audit.Append(ctx, audit.SeverityError, kind+".failed", data)
		log.Printf("%s %s failed: %s", kind, eventID, failure)
		return RefundResult{Code: failure, Outcomes: outcomes}
	}
}

func outcomeLabel(outcome RefundOutcome) string {
	if outcome.Success {
		return "confirmed"
	}
	return string(outcome.Code)
}

// preflight runs every check that needs no I/O and marks the event. It
// holds o.mu for the whole check-then-mark.
func (o *Orchestrator) preflight(eventID string, recipients []string, amount uint64) apperrors.Code {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.signer.Ready() {
		return apperrors.CodeServiceNotReady
	}
	if o.guard.LockedDown() {
		return apperrors.CodeServiceLockedDown
	}
	if _, ok := o.processed[eventID]; ok {
		return apperrors.CodeMatchAlreadyProcessed
	}
	if code := o.guard.Reserve(recipients, amount); code != "" {
		return code
	}
	o.processed[eventID] = struct{}{}
	return ""
}

// abandon drops the mark and every reservation for an attempt that never
// reached submission.
func (o *Orchestrator) abandon(eventID string, recipients []string) {
	for _, recipient := range recipients {
		o.guard.Release(recipient)
	}
	o.unmark(eventID)
}

func (o *Orchestrator) unmark(eventID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.processed, eventID)
}

type eventCheck struct {
	event storage.SettlementEvent
	// paid maps recipients to payout transfers already confirmed for the
	// event.
	paid map[string]string
	// refunded maps recipients to refund transfers already confirmed for the
	// event.
	refunded map[string]storage.TransferRecord
}

// verifyEvent re-reads the event and its journal. The store being
// unreachable is a rejection, never a pass.
func (o *Orchestrator) verifyEvent(ctx context.Context, eventID string, kind settleKind, participants []string, asset string, amount uint64) (eventCheck, apperrors.Code) {
	ctx, span := o.tracer.Start(ctx, "payout.verify_event")
	defer span.End()

	event, err := o.store.GetSettlementEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return eventCheck{}, apperrors.CodeMatchNotFound
	}
	if err != nil {
		log.Printf("event %s lookup failed: %s", eventID, apperrors.CodeEventStoreUnavailable)
		return eventCheck{}, apperrors.CodeEventStoreUnavailable
	}
	switch event.Status {
	case storage.StatusCompleted:
		return eventCheck{}, apperrors.CodeAlreadyPaid
	case storage.StatusRefunded:
		return eventCheck{}, apperrors.CodeAlreadyRefunded
	}

	transfers, err := o.store.ListTransfers(ctx, eventID)
	if err != nil {
		log.Printf("event %s journal lookup failed: %s", eventID, apperrors.CodeEventStoreUnavailable)
		return eventCheck{}, apperrors.CodeEventStoreUnavailable
	}
	check := eventCheck{
		event:    event,
		paid:     make(map[string]string),
		refunded: make(map[string]storage.TransferRecord),
	}
	for _, transfer := range transfers {
		state := transfer.State
		if state == storage.TransferBroadcast {
			state = o.reconcile(ctx, transfer)
		}
		switch state {
		case storage.TransferBroadcast:
			return eventCheck{}, apperrors.CodePayoutInFlight
		case storage.TransferConfirmed:
			if transfer.Kind == storage.TransferRefund {
				check.refunded[transfer.Recipient] = transfer
			} else {
				check.paid[transfer.Recipient] = transfer.Signature
			}
		}
	}

	for _, participant := range participants {
		if !event.HasParticipant(participant) {
			return eventCheck{}, apperrors.CodeParticipantMismatch
		}
	}
	if event.WagerAsset != "" && event.WagerAsset != asset {
		return eventCheck{}, apperrors.CodeTokenMismatch
	}
	if event.WagerAmount > 0 {
		expected := event.WagerAmount
		if kind == settlePayout {
			if expected > ^uint64(0)/2 {
				return eventCheck{}, apperrors.CodeAmountMismatch
			}
			expected *= 2
		}
		if amount != expected {
			return eventCheck{}, apperrors.CodeAmountMismatch
		}
	}

	// Transfers already confirmed for the event bound what this attempt may
	// still send.
	switch kind {
	case settlePayout:
		if len(check.paid) == 0 && len(check.refunded) > 0 {
			return eventCheck{}, apperrors.CodeAlreadyRefunded
		}
	case settleRefund:
		if len(check.paid) > 0 {
			return eventCheck{}, apperrors.CodeAlreadyPaid
		}
		for _, record := range check.refunded {
			if record.Asset != asset {
				return eventCheck{}, apperrors.CodeTokenMismatch
			}
			if record.Amount != amount {
				return eventCheck{}, apperrors.CodeAmountMismatch
			}
		}
	}
	return check, ""
}

// settle writes the terminal status. The transfer already landed, so a
// failed write is logged and audited but does not change the result; the
// journal keeps the event from being paid again.
func (o *Orchestrator) settle(ctx context.Context, eventID string, status storage.SettlementStatus, ref string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rpcTimeout)
	defer cancel()
	ok, err := o.store.MarkSettled(writeCtx, eventID, status, ref, o.now().UTC())
	if err == nil && ok {
		return
	}
	log.Printf("event %s settlement write did not apply", eventID)
	o.audit.Append(ctx, audit.SeverityError, "settlement.write_failed", map[string]string{
		"event_id": eventID,
		"status":   string(status),
		"transfer": ref,
	})
}

func (o *Orchestrator) reject(ctx context.Context, kind, eventID string, code apperrors.Code) Result {
	log.Printf("%s %s rejected: %s: %s", kind, eventID, code, describe(code, eventID))
	o.audit.Append(ctx, audit.SeverityWarn, kind+".rejected", map[string]string{
		"event_id": eventID,
		"code":     string(code),
	})
	return Result{Code: code}
}

func (o *Orchestrator) fail(ctx context.Context, kind, eventID string, code apperrors.Code) Result {
	log.Printf("%s %s failed: %s: %s", kind, eventID, code, describe(code, eventID))
	o.audit.Append(ctx, audit.SeverityError, kind+".failed", map[string]string{
		"event_id": eventID,
		"code":     string(code),
	})
	return Result{Code: code}
}

// GetStatus reports readiness, lockdown, and counters.
func (o *Orchestrator) GetStatus() Status {
	snap := o.guard.Snapshot()
	o.metrics.setLockdown(snap.LockedDown)
	o.mu.Lock()
	inFlight := len(o.processed)
	o.mu.Unlock()
	return Status{
		Ready:               o.signer.Ready(),
		LockedDown:          snap.LockedDown,
		LockedUntil:         snap.LockedUntil,
		HourlyCount:         snap.HourlyCount,
		DailyCount:          snap.DailyCount,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		InFlight:            inFlight,
		Address:             o.signer.MaskedAddress(),
	}
}

// AdminUnlock clears lockdown when secret matches the configured admin
// secret. Every attempt is audited.
func (o *Orchestrator) AdminUnlock(ctx context.Context, secret string) UnlockResult {
	digest := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	match := subtle.ConstantTimeCompare(digest[:], o.adminDigest[:]) == 1
	if !o.adminSet || secret == "" || !match {
		log.Printf("admin unlock rejected: %s", apperrors.CodeUnauthorized)
		o.audit.Append(ctx, audit.SeverityWarn, "admin.unlock_rejected", map[string]string{
			"code": string(apperrors.CodeUnauthorized),
		})
		return UnlockResult{Code: apperrors.CodeUnauthorized}
	}
	o.guard.Unlock()
	o.metrics.setLockdown(false)
	log.Printf("admin unlock accepted")
	o.audit.Append(ctx, audit.SeverityWarn, "admin.unlock", nil)
	return UnlockResult{Success: true}
}

func requestAttributes(ctx context.Context, kind, eventID string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("payout.event_id", eventID),
		attribute.String("payout.kind", kind),
		attribute.String("payout.caller", requestctx.CallerFromContext(ctx)),
	)
}

// describe renders the operator-facing text for code.
func describe(code apperrors.Code, eventID string) string {
	return apperrors.Localize(code, "", map[string]string{"event_id": eventID})
}

func endSpan(span trace.Span, code apperrors.Code) {
	if code == "" {
		span.SetStatus(otelcodes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("payout.code", string(code)))
	span.SetStatus(otelcodes.Error, string(code))
}

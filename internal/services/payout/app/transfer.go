package app

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
	"github.com/louisbranch/payoutcore/internal/services/payout/audit"
	"github.com/louisbranch/payoutcore/internal/services/payout/ledger"
	"github.com/louisbranch/payoutcore/internal/services/payout/storage"
)

type legState int

const (
	// legFailed means no funds moved and none will.
	legFailed legState = iota
	legConfirmed
	// legUnknown means the transfer was broadcast but never confirmed in
	// time. It may still land.
	legUnknown
)

func (s legState) String() string {
	switch s {
	case legConfirmed:
		return "confirmed"
	case legUnknown:
		return "unknown"
	default:
		return "failed"
	}
}

type legResult struct {
	state legState
	ref   string
	code  apperrors.Code
}

// transfer moves amount of asset from the custodial account to recipient and
// settles the recipient's guard reservation according to the outcome.
func (o *Orchestrator) transfer(ctx context.Context, kind settleKind, eventID, recipient, asset string, amount uint64) legResult {
	ctx, span := o.tracer.Start(ctx, "payout.transfer", trace.WithAttributes(
		attribute.String("payout.event_id", eventID),
		attribute.String("payout.kind", kind.String()),
		attribute.String("payout.recipient", ledger.MaskAddress(recipient)),
	))
	defer span.End()

	started := time.Now()
	result := o.submit(ctx, kind, eventID, recipient, asset, amount)
	o.metrics.observeTransfer(result.state.String(), time.Since(started))
	span.SetAttributes(attribute.String("payout.transfer_state", result.state.String()))

	switch result.state {
	case legConfirmed:
		o.guard.RecordSuccess(recipient)
	case legUnknown:
		o.guard.Consume(recipient)
		o.recordFailure(ctx, eventID, result.code)
	default:
		o.guard.Release(recipient)
		if result.code.CountsTowardLockdown() {
			o.recordFailure(ctx, eventID, result.code)
		}
	}
	if result.state != legConfirmed {
		endSpan(span, result.code)
	}
	return result
}

func (o *Orchestrator) recordFailure(ctx context.Context, eventID string, code apperrors.Code) {
	if !o.guard.RecordFailure() {
		return
	}
	o.metrics.lockdownTripped()
	log.Printf("lockdown engaged after %s on event %s", code, eventID)
	o.audit.Append(ctx, audit.SeverityError, "lockdown.engaged", map[string]string{
		"event_id": eventID,
		"code":     string(code),
	})
}

func (o *Orchestrator) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.rpcTimeout)
}

func (o *Orchestrator) submit(ctx context.Context, kind settleKind, eventID, recipient, asset string, amount uint64) legResult {
	custodian := o.signer.Address()
	failed := func(code apperrors.Code) legResult { return legResult{state: legFailed, code: code} }

	rpcCtx, cancel := o.rpcContext(ctx)
	defer cancel()

	source, ok, err := o.ledger.FindAccount(rpcCtx, custodian, asset)
	if err != nil {
		log.Printf("event %s source account lookup failed", eventID)
		return failed(apperrors.CodeTransactionFailed)
	}
	if !ok || source.Balance < amount {
		return failed(apperrors.CodeInsufficientBalance)
	}
	native, err := o.ledger.NativeBalance(rpcCtx, custodian)
	if err != nil {
		log.Printf("event %s fee balance lookup failed", eventID)
		return failed(apperrors.CodeTransactionFailed)
	}
	if native < ledger.Fee+o.feeReserve {
		return failed(apperrors.CodeInsufficientFeeBalance)
	}
	_, recipientExists, err := o.ledger.FindAccount(rpcCtx, recipient, asset)
	if err != nil {
		log.Printf("event %s recipient account lookup failed", eventID)
		return failed(apperrors.CodeTransactionFailed)
	}
	blockhash, err := o.ledger.LatestBlockhash(rpcCtx)
	if err != nil {
		log.Printf("event %s blockhash lookup failed", eventID)
		return failed(apperrors.CodeTransactionFailed)
	}

	tx := ledger.Transaction{FeePayer: custodian, Blockhash: blockhash, Memo: eventID}
	if !recipientExists {
		tx.Instructions = append(tx.Instructions, ledger.Instruction{
			Kind:  ledger.KindCreateAccount,
			Owner: recipient,
			Asset: asset,
		})
	}
	tx.Instructions = append(tx.Instructions, ledger.Instruction{
		Kind:   ledger.KindTransfer,
		Asset:  asset,
		From:   source.Address,
		To:     ledger.AccountAddress(recipient, asset),
		Amount: amount,
	})

	signed, err := o.signer.Sign(tx)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotReady {
			return failed(apperrors.CodeServiceNotReady)
		}
		return failed(apperrors.CodeTransactionFailed)
	}
	signature := signed.ID()

	now := o.now().UTC()
	err = o.store.RecordTransfer(rpcCtx, storage.TransferRecord{
		Signature: signature,
		EventID:   eventID,
		Kind:      kind.transferKind(),
		Recipient: recipient,
		Asset:     asset,
		Amount:    amount,
		State:     storage.TransferBroadcast,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Printf("event %s journal write failed: %s", eventID, apperrors.CodeEventStoreUnavailable)
		return failed(apperrors.CodeEventStoreUnavailable)
	}

	sendCtx, cancelSend := o.rpcContext(ctx)
	_, err = o.ledger.Send(sendCtx, signed)
	cancelSend()
	if err != nil && !o.accepted(ctx, signature) {
		log.Printf("event %s broadcast failed", eventID)
		o.journal(ctx, eventID, signature, storage.TransferFailed)
		return failed(apperrors.CodeTransactionFailed)
	}

	waitCtx, cancelWait := context.WithTimeout(context.WithoutCancel(ctx), o.confirmTimeout)
	defer cancelWait()
	status, err := ledger.WaitForConfirmation(waitCtx, o.ledger, signature, o.confirmPoll)
	switch {
	case status == ledger.StatusConfirmed:
		o.journal(ctx, eventID, signature, storage.TransferConfirmed)
		return legResult{state: legConfirmed, ref: signature}
	case status == ledger.StatusFailed:
		log.Printf("event %s transfer %s failed on chain", eventID, signature)
		o.journal(ctx, eventID, signature, storage.TransferFailed)
		return legResult{state: legFailed, ref: signature, code: apperrors.CodeTransactionFailed}
	default:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("event %s confirmation wait ended: %v", eventID, err)
		}
		log.Printf("event %s transfer %s unconfirmed after %s", eventID, signature, o.confirmTimeout)
		o.audit.Append(ctx, audit.SeverityError, "transfer.unconfirmed", map[string]string{
			"event_id":  eventID,
			"recipient": ledger.MaskAddress(recipient),
			"transfer":  signature,
		})
		return legResult{state: legUnknown, ref: signature, code: apperrors.CodeTransactionFailed}
	}
}

// accepted reports whether the chain knows a transaction whose broadcast
// returned an error.
func (o *Orchestrator) accepted(ctx context.Context, signature string) bool {
	rpcCtx, cancel := o.rpcContext(ctx)
	defer cancel()
	status, err := o.ledger.SignatureStatus(rpcCtx, signature)
	if err != nil {
		return false
	}
	return status == ledger.StatusPending || status == ledger.StatusConfirmed
}

func (o *Orchestrator) journal(ctx context.Context, eventID, signature string, state storage.TransferState) {
	writeCtx, cancel := o.rpcContext(ctx)
	defer cancel()
	if err := o.store.UpdateTransferState(writeCtx, signature, state, o.now().UTC()); err != nil {
		log.Printf("event %s journal update to %s failed: %v", eventID, state, err)
	}
}

// reconcile resolves journal records left in the broadcast state against the
// chain. It returns the state the record is in afterwards.
func (o *Orchestrator) reconcile(ctx context.Context, record storage.TransferRecord) storage.TransferState {
	rpcCtx, cancel := o.rpcContext(ctx)
	defer cancel()
	status, err := o.ledger.SignatureStatus(rpcCtx, record.Signature)
	if err != nil {
		return storage.TransferBroadcast
	}
	switch status {
	case ledger.StatusConfirmed:
		o.journal(ctx, record.EventID, record.Signature, storage.TransferConfirmed)
		return storage.TransferConfirmed
	case ledger.StatusFailed:
		o.journal(ctx, record.EventID, record.Signature, storage.TransferFailed)
		return storage.TransferFailed
	default:
		return storage.TransferBroadcast
	}
}

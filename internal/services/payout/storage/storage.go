// Package storage defines the payout core's system-of-record contracts: the
// settlement events it pays out against and the durable transfer journal.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// EventKind names what produced a settlement event.
type EventKind string

const (
	EventKindMatch     EventKind = "match"
	EventKindChallenge EventKind = "challenge"
)

// SettlementStatus is the settlement state of an event. It only moves from
// pending to completed or from pending to refunded.
type SettlementStatus string

const (
	StatusPending   SettlementStatus = "pending"
	StatusCompleted SettlementStatus = "completed"
	StatusRefunded  SettlementStatus = "refunded"
)

// SettlementEvent is a wagered event whose outcome triggers a payout or a
// refund.
type SettlementEvent struct {
	ID           string
	Kind         EventKind
	Participants []string
	// WagerAsset and WagerAmount are empty/zero when the event records no
	// wager expectation.
	WagerAsset    string
	WagerAmount   uint64
	Status        SettlementStatus
	SettlementRef string
	SettledAt     time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether address took part in the event. Events
// without recorded participants accept any address.
func (e SettlementEvent) HasParticipant(address string) bool {
	if len(e.Participants) == 0 {
		return true
	}
	for _, p := range e.Participants {
		if p == address {
			return true
		}
	}
	return false
}

// EventStore reads settlement events and applies status-gated transitions.
type EventStore interface {
	GetSettlementEvent(ctx context.Context, id string) (SettlementEvent, error)
	// MarkSettled moves the event from pending to status. It reports false,
	// with no error, when the event is no longer pending.
	MarkSettled(ctx context.Context, id string, status SettlementStatus, ref string, at time.Time) (bool, error)
}

// TransferState tracks a journaled transfer.
type TransferState string

const (
	TransferBroadcast TransferState = "broadcast"
	TransferConfirmed TransferState = "confirmed"
	TransferFailed    TransferState = "failed"
)

// TransferKind records which flow sent a journaled transfer.
type TransferKind string

const (
	TransferPayout TransferKind = "payout"
	TransferRefund TransferKind = "refund"
)

// TransferRecord is one journaled outbound transfer.
type TransferRecord struct {
	Signature string
	EventID   string
	Kind      TransferKind
	Recipient string
	Asset     string
	Amount    uint64
	State     TransferState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransferJournal persists transfers before broadcast so a restart never
// pays an event whose transfer may already be on chain.
type TransferJournal interface {
	RecordTransfer(ctx context.Context, record TransferRecord) error
	UpdateTransferState(ctx context.Context, signature string, state TransferState, at time.Time) error
	ListTransfers(ctx context.Context, eventID string) ([]TransferRecord, error)
}

// Store is the full payout persistence surface.
type Store interface {
	EventStore
	TransferJournal
}

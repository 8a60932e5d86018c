package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/payoutcore/internal/services/payout/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "payout.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payout.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.PutSettlementEvent(context.Background(), storage.SettlementEvent{ID: "match-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if _, err := second.GetSettlementEvent(context.Background(), "match-1"); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
}

func TestSettlementEventRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.PutSettlementEvent(ctx, storage.SettlementEvent{
		ID:           "challenge-9",
		Kind:         storage.EventKindChallenge,
		Participants: []string{"alice", "bob"},
		WagerAsset:   "X",
		WagerAmount:  70000,
		CreatedAt:    created,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	event, err := store.GetSettlementEvent(ctx, "challenge-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if event.Kind != storage.EventKindChallenge || event.Status != storage.StatusPending {
		t.Fatalf("event = %+v", event)
	}
	if len(event.Participants) != 2 || !event.HasParticipant("bob") || event.HasParticipant("carol") {
		t.Fatalf("participants = %v", event.Participants)
	}
	if event.WagerAmount != 70000 || event.WagerAsset != "X" || !event.CreatedAt.Equal(created) {
		t.Fatalf("event = %+v", event)
	}

	if _, err := store.GetSettlementEvent(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkSettledIsStatusGated(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := store.PutSettlementEvent(ctx, storage.SettlementEvent{ID: "match-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err := store.MarkSettled(ctx, "match-1", storage.StatusCompleted, "sig-1", at)
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v", ok, err)
	}
	ok, err = store.MarkSettled(ctx, "match-1", storage.StatusRefunded, "sig-2", at)
	if err != nil || ok {
		t.Fatalf("second mark = %v, %v, want no-op", ok, err)
	}

	event, err := store.GetSettlementEvent(ctx, "match-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if event.Status != storage.StatusCompleted || event.SettlementRef != "sig-1" || !event.SettledAt.Equal(at) {
		t.Fatalf("event = %+v", event)
	}

	if _, err := store.MarkSettled(ctx, "match-1", storage.StatusPending, "", at); err == nil {
		t.Fatal("expected error moving back to pending")
	}
	if ok, err := store.MarkSettled(ctx, "missing", storage.StatusCompleted, "sig", at); err != nil || ok {
		t.Fatalf("missing mark = %v, %v", ok, err)
	}
}

func TestTransferJournal(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	kinds := []storage.TransferKind{storage.TransferPayout, storage.TransferRefund}
	for i, sig := range []string{"sig-a", "sig-b"} {
		err := store.RecordTransfer(ctx, storage.TransferRecord{
			Signature: sig,
			EventID:   "challenge-9",
			Kind:      kinds[i],
			Recipient: "alice",
			Asset:     "X",
			Amount:    70000,
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record %s: %v", sig, err)
		}
	}
	if err := store.RecordTransfer(ctx, storage.TransferRecord{Signature: "sig-a", EventID: "challenge-9", Kind: storage.TransferPayout}); err == nil {
		t.Fatal("expected duplicate signature to fail")
	}
	if err := store.RecordTransfer(ctx, storage.TransferRecord{Signature: "sig-c", EventID: "challenge-9"}); err == nil {
		t.Fatal("expected missing kind to fail")
	}

	if err := store.UpdateTransferState(ctx, "sig-a", storage.TransferConfirmed, at.Add(time.Minute)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateTransferState(ctx, "sig-missing", storage.TransferFailed, at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	records, err := store.ListTransfers(ctx, "challenge-9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Signature != "sig-a" || records[0].State != storage.TransferConfirmed || records[0].Kind != storage.TransferPayout {
		t.Fatalf("first = %+v", records[0])
	}
	if records[1].State != storage.TransferBroadcast || records[1].Amount != 70000 || records[1].Kind != storage.TransferRefund {
		t.Fatalf("second = %+v", records[1])
	}

	if none, err := store.ListTransfers(ctx, "other"); err != nil || len(none) != 0 {
		t.Fatalf("other = %v, %v", none, err)
	}
}

func TestCanceledContext(t *testing.T) {
	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetSettlementEvent(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

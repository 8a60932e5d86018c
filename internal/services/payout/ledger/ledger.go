// Package ledger is the payout core's port to the settlement chain.
//
// The orchestrator builds a Transaction, the vault signs its canonical
// message, and a Client broadcasts it and reports its status. Two clients
// exist: RPCClient speaks JSON-RPC 2.0 to a chain node, and Memory is an
// in-process chain used by development setups and tests.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
)

// Fee is the flat network fee, in native base units, charged to the fee payer
// of every transaction.
const Fee uint64 = 5000

// InstructionKind names one operation inside a transaction.
type InstructionKind string

const (
	// KindCreateAccount creates the owner's settlement account for an asset
	// when it does not exist yet. It is a no-op when the account exists.
	KindCreateAccount InstructionKind = "create_account_idempotent"
	// KindTransfer moves asset base units between two settlement accounts.
	KindTransfer InstructionKind = "transfer"
)

// Instruction is one operation in a transaction.
type Instruction struct {
	Kind   InstructionKind `json:"kind"`
	Owner  string          `json:"owner,omitempty"`
	Asset  string          `json:"asset"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Amount uint64          `json:"amount,omitempty"`
}

// Transaction is an unsigned transfer transaction.
type Transaction struct {
	FeePayer     string        `json:"feePayer"`
	Blockhash    string        `json:"blockhash"`
	// Memo ties the transaction to the event it settles.
	Memo         string        `json:"memo,omitempty"`
	Instructions []Instruction `json:"instructions"`
}

// SignedTransaction pairs a transaction with the fee payer's signature.
type SignedTransaction struct {
	Transaction Transaction
	Signature   []byte
}

// Account is a settlement account holding one asset for one owner.
type Account struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

// Status is the chain-reported state of a broadcast transaction.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Client reads chain state and broadcasts signed transactions.
type Client interface {
	NativeBalance(ctx context.Context, owner string) (uint64, error)
	FindAccount(ctx context.Context, owner, asset string) (Account, bool, error)
	LatestBlockhash(ctx context.Context) (string, error)
	Send(ctx context.Context, tx SignedTransaction) (string, error)
	SignatureStatus(ctx context.Context, signature string) (Status, error)
}

var messageDomain = []byte("payoutcore.transaction.v1")

// Message returns the canonical bytes the fee payer signs. Every field is
// length-prefixed so no two distinct transactions share a message.
func (t Transaction) Message() []byte {
	buf := make([]byte, 0, 256)
	buf = appendField(buf, messageDomain)
	buf = appendField(buf, []byte(t.FeePayer))
	buf = appendField(buf, []byte(t.Blockhash))
	buf = appendField(buf, []byte(t.Memo))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.Instructions)))
	for _, ix := range t.Instructions {
		buf = appendField(buf, []byte(ix.Kind))
		buf = appendField(buf, []byte(ix.Owner))
		buf = appendField(buf, []byte(ix.Asset))
		buf = appendField(buf, []byte(ix.From))
		buf = appendField(buf, []byte(ix.To))
		buf = binary.BigEndian.AppendUint64(buf, ix.Amount)
	}
	return buf
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// ID returns the transaction id: the base58 encoding of the signature.
func (s SignedTransaction) ID() string {
	return base58.Encode(s.Signature)
}

type wireTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signature   string      `json:"signature"`
}

// Encode serializes the signed transaction for broadcast.
func (s SignedTransaction) Encode() (string, error) {
	if len(s.Signature) == 0 {
		return "", errors.New("transaction is not signed")
	}
	raw, err := json.Marshal(wireTransaction{Transaction: s.Transaction, Signature: s.ID()})
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSignedTransaction parses the output of Encode.
func DecodeSignedTransaction(encoded string) (SignedTransaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	var wire wireTransaction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return SignedTransaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	signature, err := base58.Decode(wire.Signature)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("decode signature: %w", err)
	}
	return SignedTransaction{Transaction: wire.Transaction, Signature: signature}, nil
}

// AccountAddress derives the deterministic settlement account address for an
// owner and asset.
func AccountAddress(owner, asset string) string {
	sum := sha256.Sum256([]byte("payoutcore.account|" + strconv.Itoa(len(owner)) + "|" + owner + "|" + asset))
	return base58.Encode(sum[:])
}

// WaitForConfirmation polls the signature status until it is terminal or ctx
// ends. A ctx error is returned together with the last observed status.
func WaitForConfirmation(ctx context.Context, client Client, signature string, poll time.Duration) (Status, error) {
	if client == nil {
		return StatusUnknown, errors.New("ledger client is required")
	}
	if poll <= 0 {
		poll = time.Second
	}
	last := StatusUnknown
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		status, err := client.SignatureStatus(ctx, signature)
		if err == nil {
			last = status
			if status.Terminal() {
				return status, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for confirmation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// MaskAddress shortens an address to its first and last four characters for
// logs and audit entries.
func MaskAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}

package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/louisbranch/payoutcore/internal/platform/id"
)

// Memory is an in-process chain. Transactions are validated on Send and
// applied on the first status query after Send, unless confirmations are
// held. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	native    map[string]uint64
	accounts  map[string]*Account
	txs       map[string]*memoryTx
	hold      bool
	failSends int
	failTxs   int
	sends     int
}

type memoryTx struct {
	tx     Transaction
	status Status
}

// NewMemory returns an empty in-process chain.
func NewMemory() *Memory {
	return &Memory{
		native:   make(map[string]uint64),
		accounts: make(map[string]*Account),
		txs:      make(map[string]*memoryTx),
	}
}

// Fund credits native fee balance to owner.
func (m *Memory) Fund(owner string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[owner] += amount
}

// Mint credits asset base units to owner's settlement account, creating it.
func (m *Memory) Mint(owner, asset string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureAccount(owner, asset).Balance += amount
}

// Balance returns owner's asset balance, zero when the account is missing.
func (m *Memory) Balance(owner, asset string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[AccountAddress(owner, asset)]; ok {
		return account.Balance
	}
	return 0
}

// HoldConfirmations keeps broadcast transactions pending while hold is true.
func (m *Memory) HoldConfirmations(hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = hold
}

// FailNextSends makes the next n Send calls fail before broadcast.
func (m *Memory) FailNextSends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSends = n
}

// FailNextTransactions makes the next n broadcast transactions fail on chain.
func (m *Memory) FailNextTransactions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTxs = n
}

// Sends reports how many transactions were accepted for broadcast.
func (m *Memory) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

// Pending reports how many broadcast transactions are not yet terminal.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, tx := range m.txs {
		if tx.status == StatusPending {
			count++
		}
	}
	return count
}

// NativeBalance implements Client.
func (m *Memory) NativeBalance(ctx context.Context, owner string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native[owner], nil
}

// FindAccount implements Client.
func (m *Memory) FindAccount(ctx context.Context, owner, asset string) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[AccountAddress(owner, asset)]
	if !ok {
		return Account{}, false, nil
	}
	return *account, true, nil
}

// LatestBlockhash implements Client.
func (m *Memory) LatestBlockhash(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return id.NewID()
}

// Send implements Client. It verifies the fee payer signature before
// accepting the transaction.
func (m *Memory) Send(ctx context.Context, signed SignedTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payer, err := base58.Decode(signed.Transaction.FeePayer)
	if err != nil || len(payer) != ed25519.PublicKeySize {
		return "", errors.New("invalid fee payer")
	}
	if !ed25519.Verify(ed25519.PublicKey(payer), signed.Transaction.Message(), signed.Signature) {
		return "", errors.New("signature verification failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSends > 0 {
		m.failSends--
		return "", errors.New("node unavailable")
	}
	signature := signed.ID()
	if _, exists := m.txs[signature]; exists {
		return "", errors.New("transaction already processed")
	}
	status := StatusPending
	if m.failTxs > 0 {
		m.failTxs--
		status = StatusFailed
	}
	m.txs[signature] = &memoryTx{tx: signed.Transaction, status: status}
	m.sends++
	return signature, nil
}

// SignatureStatus implements Client.
func (m *Memory) SignatureStatus(ctx context.Context, signature string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[signature]
	if !ok {
		return StatusUnknown, nil
	}
	if tx.status == StatusPending && !m.hold {
		if err := m.apply(tx.tx); err != nil {
			tx.status = StatusFailed
		} else {
			tx.status = StatusConfirmed
		}
	}
	return tx.status, nil
}

// apply executes all instructions or none. Callers hold m.mu.
func (m *Memory) apply(tx Transaction) error {
	if m.native[tx.FeePayer] < Fee {
		return errors.New("insufficient fee balance")
	}
	debits := make(map[string]uint64)
	created := make(map[string]Account)
	for _, ix := range tx.Instructions {
		switch ix.Kind {
		case KindCreateAccount:
			address := AccountAddress(ix.Owner, ix.Asset)
			if _, ok := m.accounts[address]; !ok {
				created[address] = Account{Address: address, Owner: ix.Owner, Asset: ix.Asset}
			}
		case KindTransfer:
			from, ok := m.accounts[ix.From]
			if !ok || from.Owner != tx.FeePayer || from.Asset != ix.Asset {
				return fmt.Errorf("invalid source account")
			}
			if _, ok := m.accounts[ix.To]; !ok {
				if _, pending := created[ix.To]; !pending {
					return fmt.Errorf("destination account missing")
				}
			}
			debits[ix.From] += ix.Amount
			if debits[ix.From] > from.Balance {
				return fmt.Errorf("insufficient funds")
			}
		default:
			return fmt.Errorf("unknown instruction %q", ix.Kind)
		}
	}

	m.native[tx.FeePayer] -= Fee
	for address, account := range created {
		acct := account
		m.accounts[address] = &acct
	}
	for _, ix := range tx.Instructions {
		if ix.Kind == KindTransfer {
			m.accounts[ix.From].Balance -= ix.Amount
			m.accounts[ix.To].Balance += ix.Amount
		}
	}
	return nil
}

func (m *Memory) ensureAccount(owner, asset string) *Account {
	address := AccountAddress(owner, asset)
	account, ok := m.accounts[address]
	if !ok {
		account = &Account{Address: address, Owner: owner, Asset: asset}
		m.accounts[address] = account
	}
	return account
}

var _ Client = (*Memory)(nil)

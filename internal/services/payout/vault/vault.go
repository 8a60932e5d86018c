// Package vault owns the single custodial signing key.
//
// The key is loaded once from secret material, held in vault-owned memory,
// and used only to sign outbound transfers. Nothing in this package returns,
// logs, or serializes the key; only the public address leaves the vault.
package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
	"github.com/louisbranch/payoutcore/internal/platform/timeouts"
	"github.com/louisbranch/payoutcore/internal/services/payout/ledger"
)

var (
	// ErrInvalidSecret is returned for any secret that cannot be parsed. It
	// never carries secret-derived content.
	ErrInvalidSecret = apperrors.New(apperrors.CodeVaultInitFailed, "invalid custodial secret")
	// ErrNotReady is returned by Sign before initialization or after shutdown.
	ErrNotReady = apperrors.New(apperrors.CodeNotReady, "vault is not ready")
)

// Option configures a Vault.
type Option func(*Vault)

// WithProbeTimeout bounds the liveness probe run during Initialize.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(v *Vault) {
		if timeout > 0 {
			v.probeTimeout = timeout
		}
	}
}

// Vault holds the custodial key. The zero value is not usable; use New.
type Vault struct {
	client       ledger.Client
	probeTimeout time.Duration

	mu          sync.Mutex
	key         ed25519.PrivateKey
	address     string
	ready       bool
	initialized bool
}

// New creates an uninitialized vault that submits through client.
func New(client ledger.Client, opts ...Option) *Vault {
	v := &Vault{client: client, probeTimeout: timeouts.VaultProbe}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Initialize parses secret, takes ownership of the key, and probes the chain
// before reporting ready. The caller's secret buffer is zeroed in place
// whether or not parsing succeeds. Initialize runs at most once.
func (v *Vault) Initialize(ctx context.Context, secret []byte) (string, error) {
	defer clear(secret)

	if v == nil || v.client == nil {
		return "", apperrors.New(apperrors.CodeVaultInitFailed, "ledger client is required")
	}

	v.mu.Lock()
	if v.initialized {
		v.mu.Unlock()
		return "", apperrors.New(apperrors.CodeVaultInitFailed, "vault already initialized")
	}
	v.initialized = true
	v.mu.Unlock()

	key, err := parseSecret(secret)
	if err != nil {
		return "", err
	}
	address := base58.Encode(key[ed25519.SeedSize:])

	probeCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()
	if _, err := v.client.NativeBalance(probeCtx, address); err != nil {
		clear(key)
		log.Printf("vault liveness probe failed for %s", ledger.MaskAddress(address))
		return "", apperrors.Wrap(apperrors.CodeVaultInitFailed, "liveness probe failed", err)
	}

	v.mu.Lock()
	v.key = key
	v.address = address
	v.ready = true
	v.mu.Unlock()

	log.Printf("vault ready for %s", ledger.MaskAddress(address))
	return address, nil
}

// parseSecret accepts a JSON array of 64 byte values or the base58 encoding
// of the same 64 bytes. The returned key is a fresh buffer.
func parseSecret(secret []byte) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(string(secret))
	if trimmed == "" {
		return nil, ErrInvalidSecret
	}

	var raw []byte
	if strings.HasPrefix(trimmed, "[") {
		var values []int
		if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
			return nil, ErrInvalidSecret
		}
		raw = make([]byte, len(values))
		for i, value := range values {
			if value < 0 || value > 255 {
				clear(values)
				clear(raw)
				return nil, ErrInvalidSecret
			}
			raw[i] = byte(value)
		}
		clear(values)
	} else {
		decoded, err := base58.Decode(trimmed)
		if err != nil {
			return nil, ErrInvalidSecret
		}
		raw = decoded
	}
	defer clear(raw)

	if len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSecret
	}
	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if subtle.ConstantTimeCompare(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) != 1 {
		clear(key)
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// Ready reports whether the vault holds a live key.
func (v *Vault) Ready() bool {
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

// Address returns the public address, or "" before initialization.
func (v *Vault) Address() string {
	if v == nil {
		return ""
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.address
}

// MaskedAddress returns the address shortened for logs.
func (v *Vault) MaskedAddress() string {
	return ledger.MaskAddress(v.Address())
}

// Sign signs the transaction's canonical message. Only one signature is
// produced at a time.
func (v *Vault) Sign(tx ledger.Transaction) (ledger.SignedTransaction, error) {
	if v == nil {
		return ledger.SignedTransaction{}, ErrNotReady
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ready || v.key == nil {
		return ledger.SignedTransaction{}, ErrNotReady
	}
	if tx.FeePayer != v.address {
		return ledger.SignedTransaction{}, apperrors.New(apperrors.CodeTransactionFailed, "fee payer is not the custodial address")
	}
	return ledger.SignedTransaction{
		Transaction: tx,
		Signature:   ed25519.Sign(v.key, tx.Message()),
	}, nil
}

// Shutdown zeroes the key. Later Sign calls fail with NOT_READY.
func (v *Vault) Shutdown() {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.key)
	v.key = nil
	v.ready = false
}

// String implements fmt.Stringer without exposing key material.
func (v *Vault) String() string {
	return fmt.Sprintf("Vault{ready: %t, address: %s}", v.Ready(), v.MaskedAddress())
}

// GoString implements fmt.GoStringer.
func (v *Vault) GoString() string {
	return v.String()
}

// Format makes every fmt verb render String.
func (v *Vault) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(v.String()))
}

// MarshalJSON exposes the same view as String.
func (v *Vault) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Ready         bool   `json:"ready"`
		MaskedAddress string `json:"maskedAddress"`
	}{v.Ready(), v.MaskedAddress()})
}

// Package intent admits signed payment intents.
//
// A payment intent is a counterparty-signed claim authorizing a payment to
// the platform. The deposit flow decodes and verifies it here, optionally
// confirms it with the remote facilitator, and later asks the facilitator to
// settle it. Nothing in this package moves custodial funds.
package intent

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
)

// Intent is a decoded payment intent.
type Intent struct {
	Payer      string
	Recipient  string
	Asset      string
	Amount     decimal.Decimal
	Network    string
	ValidUntil time.Time
	Nonce      string
	Signature  []byte
}

type wireIntent struct {
	Payer      string `json:"payer"`
	Recipient  string `json:"recipient"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Network    string `json:"network"`
	ValidUntil string `json:"validUntil"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
}

// ErrInvalidPayload is returned for any payload that cannot be decoded.
var ErrInvalidPayload = apperrors.New(apperrors.CodeInvalidPayload, "invalid payment payload")

// Decode parses a base64 (standard or raw URL) encoded JSON intent.
func Decode(payload string) (Intent, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Intent{}, ErrInvalidPayload
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(payload)
		if err != nil {
			return Intent{}, ErrInvalidPayload
		}
	}

	var wire wireIntent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Intent{}, ErrInvalidPayload
	}
	if wire.Payer == "" || wire.Recipient == "" || wire.Asset == "" || wire.Network == "" || wire.Nonce == "" {
		return Intent{}, ErrInvalidPayload
	}
	amount, err := decimal.NewFromString(wire.Amount)
	if err != nil || !amount.IsPositive() || !amount.Equal(amount.Truncate(0)) {
		return Intent{}, ErrInvalidPayload
	}
	validUntil, err := time.Parse(time.RFC3339Nano, wire.ValidUntil)
	if err != nil {
		return Intent{}, ErrInvalidPayload
	}
	signature, err := base58.Decode(wire.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return Intent{}, ErrInvalidPayload
	}

	return Intent{
		Payer:      wire.Payer,
		Recipient:  wire.Recipient,
		Asset:      wire.Asset,
		Amount:     amount,
		Network:    wire.Network,
		ValidUntil: validUntil.Truncate(time.Microsecond),
		Nonce:      wire.Nonce,
		Signature:  signature,
	}, nil
}

// Encode serializes the intent in the format Decode accepts.
func Encode(in Intent) (string, error) {
	raw, err := json.Marshal(wireIntent{
		Payer:      in.Payer,
		Recipient:  in.Recipient,
		Asset:      in.Asset,
		Amount:     in.Amount.String(),
		Network:    in.Network,
		ValidUntil: in.ValidUntil.UTC().Format(time.RFC3339Nano),
		Nonce:      in.Nonce,
		Signature:  base58.Encode(in.Signature),
	})
	if err != nil {
		return "", fmt.Errorf("encode intent: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

var canonicalDomain = []byte("payoutcore.intent.v1")

// CanonicalBytes returns the bytes the payer signs: every field except the
// signature, length-prefixed in a fixed order.
func CanonicalBytes(in Intent) []byte {
	buf := make([]byte, 0, 256)
	buf = appendField(buf, canonicalDomain)
	buf = appendField(buf, []byte(in.Payer))
	buf = appendField(buf, []byte(in.Recipient))
	buf = appendField(buf, []byte(in.Asset))
	buf = appendField(buf, []byte(in.Amount.String()))
	buf = appendField(buf, []byte(in.Network))
	buf = binary.BigEndian.AppendUint64(buf, uint64(in.ValidUntil.UnixMicro()))
	buf = appendField(buf, []byte(in.Nonce))
	return buf
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// Sign sets the intent's signature using the payer's key. The payer field
// must already hold the key's base58 public address.
func Sign(in Intent, key ed25519.PrivateKey) (Intent, error) {
	if len(key) != ed25519.PrivateKeySize {
		return Intent{}, errors.New("invalid payer key")
	}
	if in.Payer != base58.Encode(key.Public().(ed25519.PublicKey)) {
		return Intent{}, errors.New("payer does not match key")
	}
	in.ValidUntil = in.ValidUntil.Truncate(time.Microsecond)
	in.Signature = ed25519.Sign(key, CanonicalBytes(in))
	return in, nil
}

func verifySignature(in Intent) bool {
	pub, err := base58.Decode(in.Payer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), CanonicalBytes(in), in.Signature)
}

// Package payoutkey generates key material for the payout service.
package payoutkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

const (
	// KindCustodial is the custodial signing keypair.
	KindCustodial = "custodial"
	// KindFacilitator is the API key used to sign facilitator requests.
	KindFacilitator = "facilitator"
)

// Config holds configuration for key generation.
type Config struct {
	Kind string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Kind: KindCustodial}
	fs.StringVar(&cfg.Kind, "kind", cfg.Kind, "key to generate: custodial or facilitator")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes shell exports to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	defer clear(privateKey)

	switch cfg.Kind {
	case KindCustodial:
		return writeCustodial(out, publicKey, privateKey)
	case KindFacilitator:
		if _, err := fmt.Fprintf(out, "export PAYOUTCORE_FACILITATOR_KEY_SECRET=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "# public key: %s\n", base64.RawStdEncoding.EncodeToString(publicKey))
		return err
	default:
		return fmt.Errorf("unknown key kind %q", cfg.Kind)
	}
}

// writeCustodial prints both accepted secret encodings and the address.
func writeCustodial(out io.Writer, publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) error {
	values := make([]int, len(privateKey))
	for i, b := range privateKey {
		values[i] = int(b)
	}
	keypair, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode keypair: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export PAYOUTCORE_CUSTODIAL_SECRET=%s\n", base58.Encode(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "# keypair file: %s\n", keypair); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "# address: %s\n", base58.Encode(publicKey))
	return err
}

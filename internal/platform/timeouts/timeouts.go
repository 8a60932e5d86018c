// Package timeouts defines shared timeout constants used by payout binaries
// and their outbound clients.
package timeouts

import "time"

// FacilitatorRequest caps one /verify or /settle round trip.
const FacilitatorRequest = 10 * time.Second

// RPCRequest caps one JSON-RPC call to the chain endpoint.
const RPCRequest = 15 * time.Second

// Confirmation caps how long a broadcast transfer is waited on before the
// attempt is reported as failed. The transfer itself is never abandoned.
const Confirmation = 60 * time.Second

// ConfirmationPoll is the interval between signature status checks.
const ConfirmationPoll = time.Second

// VaultProbe caps the liveness balance check run during vault initialization.
const VaultProbe = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers and telemetry wait during graceful shutdown.
const Shutdown = 5 * time.Second

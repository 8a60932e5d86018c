package app

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/payoutcore/internal/services/payout/intent"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return []byte(base58.Encode(priv))
}

func TestNewRuntimeWiresDevelopmentDependencies(t *testing.T) {
	secret := testSecret(t)
	rt, err := NewRuntime(context.Background(), RuntimeConfig{
		DBPath:      filepath.Join(t.TempDir(), "nested", "payout.db"),
		Secret:      secret,
		Network:     "solana-devnet",
		Limits:      testLimits(),
		AdminSecret: "open-sesame",
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Fatal("expected secret buffer to be zeroed")
	}
	if rt.Verifier().Mode() != intent.ModeDevelopment {
		t.Fatalf("mode = %s, want development", rt.Verifier().Mode())
	}
	if !rt.Orchestrator().GetStatus().Ready {
		t.Fatal("expected orchestrator to be ready")
	}
	if got := rt.refreshHealth(); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("health = %s, want SERVING", got)
	}

	for i := 0; i < 3; i++ {
		rt.Orchestrator().guard.RecordFailure()
	}
	if got := rt.refreshHealth(); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("locked health = %s, want NOT_SERVING", got)
	}
	resp, err := rt.health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %s", resp.GetStatus())
	}

	rt.Close()
	if rt.Orchestrator().GetStatus().Ready {
		t.Fatal("expected vault to be shut down")
	}
}

func TestNewRuntimeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  RuntimeConfig
	}{
		{"unknown mode", RuntimeConfig{FacilitatorMode: "staging"}},
		{"production without facilitator", RuntimeConfig{FacilitatorMode: "production"}},
		{"bad secret", RuntimeConfig{Secret: []byte("not-a-key")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.DBPath = filepath.Join(t.TempDir(), "payout.db")
			if cfg.Secret == nil {
				cfg.Secret = testSecret(t)
			}
			if rt, err := NewRuntime(context.Background(), cfg); err == nil {
				rt.Close()
				t.Fatal("expected error")
			}
		})
	}
}

func TestServeReportsHealthOverGRPC(t *testing.T) {
	rt, err := NewRuntime(context.Background(), RuntimeConfig{
		DBPath: filepath.Join(t.TempDir(), "payout.db"),
		Secret: testSecret(t),
		Limits: testLimits(),
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.serve(ctx, listener) }()

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	deadline := time.Now().Add(5 * time.Second)
	for {
		callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: HealthService})
		callCancel()
		if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never served: resp=%v err=%v", resp, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

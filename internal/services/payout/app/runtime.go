package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/payoutcore/internal/platform/timeouts"
	"github.com/louisbranch/payoutcore/internal/services/payout/audit"
	"github.com/louisbranch/payoutcore/internal/services/payout/guard"
	"github.com/louisbranch/payoutcore/internal/services/payout/intent"
	"github.com/louisbranch/payoutcore/internal/services/payout/ledger"
	payoutsqlite "github.com/louisbranch/payoutcore/internal/services/payout/storage/sqlite"
	"github.com/louisbranch/payoutcore/internal/services/payout/vault"
)

// HealthService is the gRPC health service name reported by the runtime.
const HealthService = "payout.orchestrator"

const (
	defaultPayoutPort     = 8095
	defaultPayoutDB       = "data/payout.db"
	defaultHealthInterval = 5 * time.Second
)

// RuntimeConfig controls payout startup, dependencies, and limits.
type RuntimeConfig struct {
	Port        int
	MetricsAddr string
	DBPath      string
	RPCURL      string
	Network     string

	// Secret is the custodial keypair. It is zeroed once the vault has
	// consumed it.
	Secret []byte

	Limits         guard.Limits
	AdminSecret    string
	FeeReserve     uint64
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration

	FacilitatorURL       string
	FacilitatorMode      string
	FacilitatorKeyID     string
	FacilitatorKeySecret string
	FacilitatorTimeout   time.Duration

	AuditCapacity  int
	HealthInterval time.Duration
}

// Runtime owns every long-lived payout dependency.
type Runtime struct {
	cfg          RuntimeConfig
	store        *payoutsqlite.Store
	vault        *vault.Vault
	orchestrator *Orchestrator
	verifier     *intent.Verifier
	audit        *audit.Log
	registry     *prometheus.Registry
	health       *health.Server
	closeOnce    sync.Once
}

// NewRuntime opens storage, initializes the vault, and builds the
// orchestrator and the intent verifier. The caller must Close it.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	defer clear(cfg.Secret)
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPayoutPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultPayoutDB
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	mode, err := intent.ParseMode(cfg.FacilitatorMode)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create payout storage dir: %w", err)
		}
	}
	store, err := payoutsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open payout sqlite store: %w", err)
	}
	r := &Runtime{cfg: cfg, store: store}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	var chain ledger.Client
	if strings.TrimSpace(cfg.RPCURL) == "" {
		log.Printf("no rpc url configured, using the in-memory ledger")
		chain = ledger.NewMemory()
	} else {
		chain, err = ledger.NewRPCClient(cfg.RPCURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create rpc client: %w", err)
		}
	}

	r.vault = vault.New(chain)
	if _, err := r.vault.Initialize(ctx, cfg.Secret); err != nil {
		return nil, err
	}

	r.registry = prometheus.NewRegistry()
	r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(r.registry)
	r.audit = audit.NewLog(cfg.AuditCapacity)

	r.orchestrator, err = New(Config{
		Signer:         r.vault,
		Ledger:         chain,
		Store:          store,
		Guard:          guard.New(cfg.Limits, nil),
		Audit:          r.audit,
		Metrics:        metrics,
		AdminSecret:    cfg.AdminSecret,
		FeeReserve:     cfg.FeeReserve,
		ConfirmTimeout: cfg.ConfirmTimeout,
		ConfirmPoll:    cfg.ConfirmPoll,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	var facilitator intent.Facilitator
	if strings.TrimSpace(cfg.FacilitatorURL) != "" {
		client, err := intent.NewFacilitatorClient(intent.FacilitatorConfig{
			BaseURL:   cfg.FacilitatorURL,
			KeyID:     cfg.FacilitatorKeyID,
			KeySecret: cfg.FacilitatorKeySecret,
			Timeout:   cfg.FacilitatorTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create facilitator client: %w", err)
		}
		facilitator = client
	}
	r.verifier, err = intent.NewVerifier(intent.Config{
		Network:     cfg.Network,
		Mode:        mode,
		Facilitator: facilitator,
	})
	if err != nil {
		return nil, fmt.Errorf("create intent verifier: %w", err)
	}

	r.health = health.NewServer()
	r.refreshHealth()
	ok = true
	return r, nil
}

// Orchestrator returns the payout orchestrator.
func (r *Runtime) Orchestrator() *Orchestrator { return r.orchestrator }

// Verifier returns the payment intent verifier.
func (r *Runtime) Verifier() *intent.Verifier { return r.verifier }

// Audit returns the audit log.
func (r *Runtime) Audit() *audit.Log { return r.audit }

// refreshHealth reports SERVING only while the vault is ready and payouts
// are not locked down.
func (r *Runtime) refreshHealth() grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	current := r.orchestrator.GetStatus()
	if !current.Ready || current.LockedDown {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	r.health.SetServingStatus(HealthService, status)
	return status
}

// Serve runs the gRPC health server and the metrics endpoint until ctx ends.
func (r *Runtime) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on payout port %d: %w", r.cfg.Port, err)
	}
	return r.serve(ctx, listener)
}

func (r *Runtime) serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, r.health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if addr := strings.TrimSpace(r.cfg.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		}
		g.Go(func() error {
			log.Printf("payout metrics listening at %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.HealthInterval)
		defer ticker.Stop()
		last := r.refreshHealth()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if status := r.refreshHealth(); status != last {
					log.Printf("payout health changed to %s", status)
					last = status
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		r.health.Shutdown()
		grpcServer.GracefulStop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutdown metrics server: %v", err)
			}
		}
		return nil
	})

	log.Printf("payout server listening at %v, custodial address %s", listener.Addr(), r.vault.MaskedAddress())
	return g.Wait()
}

// Close zeroes the custodial key and closes storage.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.vault.Shutdown()
		if err := r.store.Close(); err != nil {
			log.Printf("close payout sqlite store: %v", err)
		}
	})
}

// Run starts payout dependencies and serves until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.Serve(ctx)
}

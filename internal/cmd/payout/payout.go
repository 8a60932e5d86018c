// Package payout parses payout command flags and launches the payout runtime.
package payout

import (
	"context"
	"flag"
	"time"

	"github.com/louisbranch/payoutcore/internal/platform/config"
	entrypoint "github.com/louisbranch/payoutcore/internal/platform/cmd"
	payoutserver "github.com/louisbranch/payoutcore/internal/services/payout/app"
	"github.com/louisbranch/payoutcore/internal/services/payout/guard"
)

// SecretEnv names the custodial secret variable. It is read once at startup
// and removed from the environment.
const SecretEnv = "PAYOUTCORE_CUSTODIAL_SECRET"

// Config holds payout command configuration. The custodial secret is not part
// of it; see SecretEnv. The admin and facilitator secrets are unset from the
// environment once parsed.
type Config struct {
	Port           int           `env:"PAYOUTCORE_PAYOUT_PORT" envDefault:"8095"`
	MetricsAddr    string        `env:"PAYOUTCORE_METRICS_ADDR" envDefault:":9095"`
	DBPath         string        `env:"PAYOUTCORE_PAYOUT_DB_PATH" envDefault:"data/payout.db"`
	RPCURL         string        `env:"PAYOUTCORE_RPC_URL"`
	Network        string        `env:"PAYOUTCORE_NETWORK" envDefault:"solana-devnet"`
	MaxPayout      uint64        `env:"PAYOUTCORE_MAX_PAYOUT" envDefault:"1000000000000"`
	HourlyLimit    int           `env:"PAYOUTCORE_HOURLY_LIMIT" envDefault:"100"`
	DailyLimit     int           `env:"PAYOUTCORE_DAILY_LIMIT" envDefault:"500"`
	WalletInterval time.Duration `env:"PAYOUTCORE_WALLET_MIN_INTERVAL" envDefault:"1m"`
	FailureLimit   int           `env:"PAYOUTCORE_FAILURE_THRESHOLD" envDefault:"3"`
	LockdownFor    time.Duration `env:"PAYOUTCORE_LOCKDOWN_DURATION" envDefault:"30m"`
	AdminSecret    string        `env:"PAYOUTCORE_ADMIN_SECRET,unset"`
	FeeReserve     uint64        `env:"PAYOUTCORE_FEE_RESERVE" envDefault:"10000"`
	ConfirmTimeout time.Duration `env:"PAYOUTCORE_CONFIRM_TIMEOUT" envDefault:"60s"`
	ConfirmPoll    time.Duration `env:"PAYOUTCORE_CONFIRM_POLL" envDefault:"1s"`
	AuditCapacity  int           `env:"PAYOUTCORE_AUDIT_CAPACITY" envDefault:"1000"`

	FacilitatorURL       string        `env:"PAYOUTCORE_FACILITATOR_URL"`
	FacilitatorMode      string        `env:"PAYOUTCORE_FACILITATOR_MODE" envDefault:"development"`
	FacilitatorKeyID     string        `env:"PAYOUTCORE_FACILITATOR_KEY_ID"`
	FacilitatorKeySecret string        `env:"PAYOUTCORE_FACILITATOR_KEY_SECRET,unset"`
	FacilitatorTimeout   time.Duration `env:"PAYOUTCORE_FACILITATOR_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The payout health gRPC server port")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The payout SQLite database path")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Chain JSON-RPC endpoint (empty uses the in-memory ledger)")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Network payment intents must target")
	fs.Uint64Var(&cfg.MaxPayout, "max-payout", cfg.MaxPayout, "Per-transfer ceiling in base units")
	fs.IntVar(&cfg.HourlyLimit, "hourly-limit", cfg.HourlyLimit, "Maximum transfers per hour")
	fs.IntVar(&cfg.DailyLimit, "daily-limit", cfg.DailyLimit, "Maximum transfers per day")
	fs.DurationVar(&cfg.WalletInterval, "wallet-min-interval", cfg.WalletInterval, "Minimum time between transfers to one recipient")
	fs.IntVar(&cfg.FailureLimit, "failure-threshold", cfg.FailureLimit, "Consecutive failures before lockdown")
	fs.DurationVar(&cfg.LockdownFor, "lockdown-duration", cfg.LockdownFor, "How long lockdown lasts")
	fs.Uint64Var(&cfg.FeeReserve, "fee-reserve", cfg.FeeReserve, "Native balance kept above the network fee")
	fs.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "Maximum wait for transfer confirmation")
	fs.DurationVar(&cfg.ConfirmPoll, "confirm-poll", cfg.ConfirmPoll, "Transfer status poll interval")
	fs.IntVar(&cfg.AuditCapacity, "audit-capacity", cfg.AuditCapacity, "Audit entries kept in memory")
	fs.StringVar(&cfg.FacilitatorURL, "facilitator-url", cfg.FacilitatorURL, "Facilitator base URL")
	fs.StringVar(&cfg.FacilitatorMode, "facilitator-mode", cfg.FacilitatorMode, "development or production")
	fs.DurationVar(&cfg.FacilitatorTimeout, "facilitator-timeout", cfg.FacilitatorTimeout, "Facilitator request timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run consumes the custodial secret from the environment and starts the
// payout runtime.
func Run(ctx context.Context, cfg Config) error {
	secret, err := config.TakeSecret(SecretEnv)
	if err != nil {
		return err
	}
	defer clear(secret)

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePayout, func(context.Context) error {
		return payoutserver.Run(ctx, payoutserver.RuntimeConfig{
			Port:        cfg.Port,
			MetricsAddr: cfg.MetricsAddr,
			DBPath:      cfg.DBPath,
			RPCURL:      cfg.RPCURL,
			Network:     cfg.Network,
			Secret:      secret,
			Limits: guard.Limits{
				MaxPerTransaction:    cfg.MaxPayout,
				HourlyLimit:          cfg.HourlyLimit,
				DailyLimit:           cfg.DailyLimit,
				MinRecipientInterval: cfg.WalletInterval,
				FailureThreshold:     cfg.FailureLimit,
				LockdownDuration:     cfg.LockdownFor,
			},
			AdminSecret:          cfg.AdminSecret,
			FeeReserve:           cfg.FeeReserve,
			ConfirmTimeout:       cfg.ConfirmTimeout,
			ConfirmPoll:          cfg.ConfirmPoll,
			FacilitatorURL:       cfg.FacilitatorURL,
			FacilitatorMode:      cfg.FacilitatorMode,
			FacilitatorKeyID:     cfg.FacilitatorKeyID,
			FacilitatorKeySecret: cfg.FacilitatorKeySecret,
			FacilitatorTimeout:   cfg.FacilitatorTimeout,
			AuditCapacity:        cfg.AuditCapacity,
		})
	})
}

package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Dalaqa25/automation-runner/internal/automation"
	"github.com/Dalaqa25/automation-runner/internal/credentials"
	"github.com/Dalaqa25/automation-runner/internal/engine"
	"github.com/Dalaqa25/automation-runner/internal/executors"
	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/internal/isolation"
	"github.com/Dalaqa25/automation-runner/internal/logging"
	"github.com/Dalaqa25/automation-runner/internal/secrets"
	"github.com/Dalaqa25/automation-runner/internal/store"
	"github.com/Dalaqa25/automation-runner/internal/validation"
)

func main() {
	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("automation-runner exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	vault, err := newVault(st, cfg)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	developerKeys, err := seedDeveloperKeys(ctx, vault, cfg.DeveloperKeys)
	if err != nil {
		return fmt.Errorf("seed developer keys: %w", err)
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init cel engine: %w", err)
	}

	isolator, err := isolation.NewIsolator()
	if err != nil {
		log.Warn("native process isolation unavailable, falling back", "error", err)
		isolator = isolation.NewFallbackIsolator()
	}

	reg := executors.NewRegistry()
	if err := executors.RegisterBuiltins(reg, executors.BuiltinConfig{
		CodeTimeout: cfg.CodeTimeout,
		Isolator:    isolator,
		CEL:         celEngine,
		Expr:        expressions.NewExprEngine(),
		JQ:          expressions.NewGoJQEngine(),
	}); err != nil {
		return fmt.Errorf("register executors: %w", err)
	}

	validator, err := validation.NewWorkflowValidator(reg)
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}

	refresher := credentials.NewRefresher(st, log)
	if cfg.GoogleClientID != "" {
		refresher.Register("google", credentials.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleScopes))
	}
	if cfg.TikTokClientKey != "" {
		refresher.Register("tiktok", credentials.NewTikTokProvider(cfg.TikTokClientKey, cfg.TikTokClientSecret))
	}

	pool := engine.NewWorkerPool(cfg.PoolSize)
	defer pool.Shutdown()

	svc := automation.NewService(automation.Config{
		Store:         st,
		Engine:        engine.NewEngine(reg, log),
		Refresher:     refresher,
		Validator:     validator,
		DeveloperKeys: developerKeys,
		Pool:          pool,
		ResumeStagger: cfg.ResumeStagger,
		Logger:        log,
	})

	if err := svc.ResumeActive(ctx); err != nil {
		// Per-automation resume failures (a bad credential, an invalid
		// schedule) are already logged by the scheduler; they must not
		// keep the rest of a fleet of automations from starting.
		log.Error("one or more automations failed to resume", "error", err)
	}
	log.Info("automation-runner ready", "db_path", cfg.DBPath)

	<-ctx.Done()
	log.Info("shutting down, draining active ticks")
	svc.StopAll()
	return nil
}

func newVault(st store.Store, cfg Config) (secrets.Vault, error) {
	vcfg := secrets.VaultConfig{}
	if cfg.VaultPassphrase != "" {
		vcfg.Passphrase = cfg.VaultPassphrase
		salt := cfg.VaultSalt
		if salt == "" {
			salt = "automation-runner-default-salt"
		}
		sum := sha256.Sum256([]byte(salt))
		vcfg.Salt = sum[:]
	} else {
		// Development fallback: a fixed, well-known key so the process
		// starts without operator-supplied secrets. Never appropriate for
		// a deployment that handles real OAuth tokens.
		sum := sha256.Sum256([]byte("automation-runner-insecure-dev-key"))
		vcfg.MasterKey = sum[:]
	}
	return secrets.NewAESVault(st, vcfg)
}

// seedDeveloperKeys persists the operator-supplied developer key bag into
// the vault (encrypted at rest) and returns it decrypted for C1's
// in-memory credential-placeholder resolution, so a restart doesn't
// depend on the env var still being set as long as RUNNER_VAULT_* stays
// the same.
func seedDeveloperKeys(ctx context.Context, vault secrets.Vault, provided map[string]string) (map[string]string, error) {
	for name, value := range provided {
		if err := vault.Store(ctx, developerKeyVaultKey(name), []byte(value)); err != nil {
			return nil, err
		}
	}

	keys, err := vault.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, k := range keys {
		name, ok := strings.CutPrefix(k, developerKeyPrefix)
		if !ok {
			continue
		}
		value, err := vault.Resolve(ctx, k)
		if err != nil {
			return nil, err
		}
		out[name] = string(value)
	}
	return out, nil
}

const developerKeyPrefix = "developer_key:"

func developerKeyVaultKey(name string) string { return developerKeyPrefix + name }

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := logging.NewCorrelationHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	return slog.New(handler)
}

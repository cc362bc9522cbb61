package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/acquire"
	"github.com/agrovista/satreport/internal/ledger"
	"github.com/agrovista/satreport/internal/narrative"
	"github.com/agrovista/satreport/internal/report"
	"github.com/agrovista/satreport/internal/resilience"
	"github.com/agrovista/satreport/internal/store"
	"github.com/agrovista/satreport/pkg/anthropic"
	"github.com/agrovista/satreport/pkg/eosda"
)

// appEnv holds the initialized store and services shared by the commands.
type appEnv struct {
	Store        store.Store
	Provider     eosda.Client
	Ledger       *ledger.Ledger
	Orchestrator *acquire.Orchestrator
	Narrative    *narrative.Engine
	Composer     *report.Composer
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return store.NewSQLite(cfg.Store.SQLitePath)
	}
}

// initEnv validates the config for the mode, opens the store, wires the
// provider client behind a circuit breaker and builds the services.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakerCfg := resilience.CircuitOverrides{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		ResetTimeoutSecs: cfg.Circuit.ResetTimeoutSecs,
	}.Build()
	breakerCfg.ShouldTrip = eosda.ShouldTrip
	provider := eosda.NewClient(cfg.Provider.APIKey,
		eosda.WithBaseURL(cfg.Provider.BaseURL),
		eosda.WithCircuitBreaker(resilience.NewCircuitBreaker(breakerCfg)),
	)

	led := ledger.New(st, 7*24*time.Hour)
	orch := acquire.New(st, provider, led)

	var narr *narrative.Engine
	if cfg.Anthropic.Key != "" {
		retry := resilience.RetryOverrides{
			MaxAttempts:      cfg.Retry.MaxAttempts,
			InitialBackoffMs: cfg.Retry.InitialBackoffMs,
			MaxBackoffMs:     cfg.Retry.MaxBackoffMs,
			Multiplier:       cfg.Retry.Multiplier,
			JitterFraction:   cfg.Retry.JitterFraction,
		}.Build()
		retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
		narr = narrative.New(anthropic.NewClient(cfg.Anthropic.Key), st, narrative.Config{
			PrimaryModel:  cfg.Anthropic.PrimaryModel,
			FallbackModel: cfg.Anthropic.FallbackModel,
			CallInterval:  time.Duration(cfg.Anthropic.CallIntervalSecs) * time.Second,
			CacheTTL:      time.Duration(cfg.Anthropic.CacheTTLDays) * 24 * time.Hour,
			Retry:         &retry,
		})
	} else {
		zap.L().Warn("SATREPORT_ANTHROPIC_KEY not set, narratives use deterministic fallback text")
	}

	deps := report.Deps{
		Store:  st,
		OutDir: cfg.Reports.OutDir,
	}
	if narr != nil {
		deps.Narrative = narr
	}
	if cfg.Legal.HydroURL != "" {
		deps.Legal = newLayerEvaluator(cfg.Legal)
	}

	return &appEnv{
		Store:        st,
		Provider:     provider,
		Ledger:       led,
		Orchestrator: orch,
		Narrative:    narr,
		Composer:     report.NewComposer(deps),
	}, nil
}

// quotaWindow is the accounting period for the request caps.
const quotaWindow = 30 * 24 * time.Hour

// checkQuota refuses new acquisitions once the monthly cap, or the
// per-user cap when a user is given, is consumed. Cache hits cost
// nothing so they are never blocked by this.
func (e *appEnv) checkQuota(ctx context.Context, userID string) error {
	total, err := e.Ledger.Stats(ctx, "", quotaWindow)
	if err != nil {
		return eris.Wrap(err, "quota: read usage")
	}
	if total.RequestsConsumedTotal >= cfg.Quota.MonthlyRequests {
		return eris.Errorf("quota: monthly request cap reached (%d/%d)",
			total.RequestsConsumedTotal, cfg.Quota.MonthlyRequests)
	}
	if userID == "" {
		return nil
	}
	user, err := e.Ledger.Stats(ctx, userID, quotaWindow)
	if err != nil {
		return eris.Wrap(err, "quota: read user usage")
	}
	if user.RequestsConsumedTotal >= cfg.Quota.PerUserRequests {
		return eris.Errorf("quota: request cap for user %s reached (%d/%d)",
			userID, user.RequestsConsumedTotal, cfg.Quota.PerUserRequests)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ledger-settlement-engine/config"
	httpHandler "ledger-settlement-engine/internal/adapter/http/handler"
	"ledger-settlement-engine/internal/adapter/http/middleware"
	"ledger-settlement-engine/internal/adapter/messaging"
	"ledger-settlement-engine/internal/adapter/storage/memory"
	pgStorage "ledger-settlement-engine/internal/adapter/storage/postgres"
	redisStorage "ledger-settlement-engine/internal/adapter/storage/redis"
	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/internal/metrics"
	"ledger-settlement-engine/internal/service"
	"ledger-settlement-engine/pkg/apperror"
	"ledger-settlement-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the assembled engine: the HTTP handler plus the pieces the
// background janitor and shutdown need.
type app struct {
	handler    http.Handler
	registry   ports.IdempotencyRegistry
	metrics    *metrics.Metrics
	clearingID uuid.UUID
	log        zerolog.Logger
	closers    []func()
}

// newApp connects the configured backends and builds the services. On error
// everything opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (a *app, err error) {
	a = &app{metrics: metrics.New(), log: log}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	clock := ports.SystemClock{}
	var checkers []ports.HealthChecker

	var pool *pgxpool.Pool
	if usesPostgres(cfg) {
		pool, err = pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return a, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Database.AutoMigrate {
			if err = pgStorage.Migrate(ctx, pool, log); err != nil {
				return a, fmt.Errorf("migrating schema: %w", err)
			}
		}
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	}

	var rdb *goredis.Client
	if usesRedis(cfg) {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return a, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	var (
		store     ports.LedgerStore
		alerts    ports.AlertRepository
		auditRepo ports.AuditRepository
	)
	if cfg.Store.Driver == "postgres" {
		store = pgStorage.NewLedgerStore(pool, clock)
		alerts = pgStorage.NewAlertRepo(pool)
		auditRepo = pgStorage.NewAuditRepository(pool)
	} else {
		store = memory.NewLedgerStore(clock)
		alerts = memory.NewAlertRepo()
		auditRepo = memory.NewAuditRepo()
	}

	idem := cfg.Idempotency
	switch idem.Driver {
	case "postgres":
		a.registry = pgStorage.NewIdempotencyRepo(pool, idem.InFlightTTL, idem.Retention, clock)
	case "redis":
		a.registry = redisStorage.NewRegistry(rdb, idem.InFlightTTL, idem.Retention, clock)
	default:
		a.registry = memory.NewRegistry(idem.InFlightTTL, idem.Retention, clock)
	}

	var activity ports.ActivityStore
	if cfg.Risk.ActivityDriver == "redis" {
		activity = redisStorage.NewActivityStore(rdb, cfg.Risk.HistoryLimit, cfg.Risk.HistoryWindow)
	} else {
		activity = memory.NewActivityStore(cfg.Risk.HistoryLimit)
	}

	events := newEventPublisher(cfg, rdb, logger.Component(log, "events"))
	if hc, ok := events.(ports.HealthChecker); ok {
		checkers = append(checkers, hc)
	}
	a.closers = append(a.closers, func() {
		if cerr := events.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing event publisher")
		}
	})

	policy, err := riskPolicy(cfg.Risk)
	if err != nil {
		return a, fmt.Errorf("risk policy: %w", err)
	}

	ledgerSvc := service.NewLedgerService(store, clock)
	a.clearingID, err = ensureClearingAccount(ctx, ledgerSvc, cfg.Settlement, log)
	if err != nil {
		return a, err
	}

	settlementSvc := service.NewSettlementService(service.SettlementDeps{
		Store:    store,
		Registry: a.registry,
		Activity: activity,
		Alerts:   alerts,
		Events:   events,
		Risk:     service.NewRiskEngine(policy),
		Locks:    service.NewLockManager(cfg.Settlement.LockTimeout, a.metrics),
		Metrics:  a.metrics,
		Clock:    clock,
	}, service.SettlementConfig{
		ClearingAccountID: a.clearingID,
		BatchParallelism:  cfg.Settlement.BatchParallelism,
	}, logger.Component(log, "orchestrator"))

	defaultCurrency, err := domain.ParseCurrency(cfg.Settlement.ClearingCurrency)
	if err != nil {
		return a, fmt.Errorf("settlement.clearing_currency: %w", err)
	}

	deps := httpHandler.RouterDeps{
		SettlementSvc:   settlementSvc,
		LedgerSvc:       ledgerSvc,
		ReportingSvc:    service.NewReportingService(store, clock),
		TokenSvc:        service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		AuditSvc:        service.NewAuditService(auditRepo, logger.Component(log, "audit")),
		HealthCheckers:  checkers,
		Metrics:         a.metrics.Handler(),
		MaxBatchSize:    cfg.Settlement.MaxBatchSize,
		DefaultCurrency: defaultCurrency,
		Clock:           clock,
		Mode:            cfg.Server.Mode,
		Logger:          log,
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = redisStorage.NewRateLimitStore(rdb, clock)
		deps.RateLimitRules = middleware.DefaultRateLimitRules(int64(cfg.RateLimit.Limit), cfg.RateLimit.Window)
	}
	a.handler = httpHandler.SetupRouter(deps)

	return a, nil
}

// Close releases the backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runJanitor purges expired idempotency records until ctx is done.
func (a *app) runJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purge(ctx)
		}
	}
}

func (a *app) purge(ctx context.Context) {
	n, err := a.registry.Purge(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("idempotency purge failed")
		return
	}
	a.metrics.ObservePurge(n)
	if n > 0 {
		a.log.Debug().Int("purged", n).Msg("idempotency records purged")
	}
}

func usesPostgres(cfg *config.Config) bool {
	return cfg.Store.Driver == "postgres" || cfg.Idempotency.Driver == "postgres"
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Idempotency.Driver == "redis" ||
		cfg.Risk.ActivityDriver == "redis" ||
		cfg.Events.Driver == "redis" ||
		cfg.RateLimit.Enabled
}

func newEventPublisher(cfg *config.Config, rdb *goredis.Client, log zerolog.Logger) ports.EventPublisher {
	switch cfg.Events.Driver {
	case "kafka":
		return messaging.NewKafkaPublisher(cfg.Kafka, cfg.Events.Topic, log)
	case "redis":
		return messaging.NewRedisPublisher(rdb, cfg.Events.Channel)
	default:
		return messaging.NewLogPublisher(log)
	}
}

// ensureClearingAccount verifies the configured clearing account or opens
// one when none is configured.
func ensureClearingAccount(ctx context.Context, ledgerSvc ports.LedgerService, cfg config.SettlementConfig, log zerolog.Logger) (uuid.UUID, error) {
	id, err := cfg.ClearingID()
	if err != nil {
		return uuid.Nil, err
	}
	if id != uuid.Nil {
		acc, err := ledgerSvc.GetAccount(ctx, id)
		if err != nil {
			if apperror.KindOf(err) == apperror.KindAccountNotFound {
				return uuid.Nil, fmt.Errorf("clearing account %s does not exist", id)
			}
			return uuid.Nil, fmt.Errorf("loading clearing account: %w", err)
		}
		if !acc.AllowOverdraft {
			log.Warn().Str("account_id", id.String()).Msg("clearing account does not allow overdraft; withdrawals may be rejected")
		}
		return id, nil
	}

	acc, err := ledgerSvc.OpenAccount(ctx, domain.NewAccountSpec{
		OwnerRef:       "system",
		Type:           domain.AccountTypeAsset,
		Category:       "clearing",
		Currency:       cfg.ClearingCurrency,
		AllowOverdraft: true,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("opening clearing account: %w", err)
	}
	log.Warn().
		Str("account_id", acc.ID.String()).
		Msg("no clearing account configured; opened one, set settlement.clearing_account_id to reuse it")
	return acc.ID, nil
}

// riskPolicy overlays the configured risk settings on the defaults. Each
// configured weight replaces only its own factor.
func riskPolicy(cfg config.RiskConfig) (service.RiskPolicy, error) {
	p := service.DefaultRiskPolicy()
	weights, err := cfg.ParsedWeights()
	if err != nil {
		return p, err
	}
	for name, w := range weights {
		p.Weights[name] = w
	}
	multiple, err := cfg.ParsedAmountMultiple()
	if err != nil {
		return p, err
	}
	if !multiple.IsZero() {
		p.AmountMultiple = multiple
	}
	if cfg.ReviewThreshold > 0 {
		p.ReviewThreshold = cfg.ReviewThreshold
	}
	if cfg.BlockThreshold > 0 {
		p.BlockThreshold = cfg.BlockThreshold
	}
	if cfg.HistoryWindow > 0 {
		p.HistoryWindow = cfg.HistoryWindow
	}
	if cfg.MinHistory > 0 {
		p.MinHistory = cfg.MinHistory
	}
	if cfg.VelocityWindow > 0 {
		p.VelocityWindow = cfg.VelocityWindow
	}
	if cfg.VelocityMaxCount > 0 {
		p.VelocityMaxCount = cfg.VelocityMaxCount
	}
	if cfg.VelocityMaxAmount > 0 {
		p.VelocityMaxAmount = cfg.VelocityMaxAmount
	}
	// both zero keeps the default night band
	if cfg.NightStartHour != 0 || cfg.NightEndHour != 0 {
		p.NightStartHour = cfg.NightStartHour
		p.NightEndHour = cfg.NightEndHour
	}
	if len(cfg.RestrictedMerchantCategories) > 0 {
		p.RestrictedMerchantCategories = cfg.RestrictedMerchantCategories
	}
	if len(cfg.HighRiskMerchantCategories) > 0 {
		p.HighRiskMerchantCategories = cfg.HighRiskMerchantCategories
	}
	if len(cfg.DeniedDevices) > 0 {
		p.DeniedDevices = cfg.DeniedDevices
	}
	if len(cfg.DeniedIPs) > 0 {
		p.DeniedIPs = cfg.DeniedIPs
	}
	return p, nil
}

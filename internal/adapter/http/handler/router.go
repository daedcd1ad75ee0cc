package handler

import (
	"net/http"

	"ledger-settlement-engine/internal/adapter/http/middleware"
	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	SettlementSvc   ports.SettlementService
	LedgerSvc       ports.LedgerService
	ReportingSvc    ports.ReportingService
	TokenSvc        ports.TokenService
	AuditSvc        ports.AuditService                  // nil = audit logging disabled
	RateLimiter     middleware.Limiter                  // nil = rate limiting disabled
	RateLimitRules  map[string]middleware.RateLimitRule // nil = no group is limited
	HealthCheckers  []ports.HealthChecker
	Metrics         http.Handler // nil = no /metrics endpoint
	MaxBatchSize    int
	DefaultCurrency domain.Currency
	Clock           ports.Clock
	Mode            string // gin mode; empty keeps the current one
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// Helper: return rate limiter middleware if a limiter is configured, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := deps.RateLimitRules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	auth := middleware.PrincipalAuth(deps.TokenSvc, deps.Logger)
	operator := middleware.RequireRole(domain.RoleOperator)
	reader := middleware.RequireRole(domain.RoleOperator, domain.RoleAuditor)

	v1 := r.Group("/api/v1", auth)

	settlementHandler := NewSettlementHandler(deps.SettlementSvc, deps.MaxBatchSize, deps.Clock)
	settlements := v1.Group("/settlements")
	{
		settlements.POST("", rl("settlements"), settlementHandler.Submit)
		settlements.POST("/batch", rl("settlements_batch"), settlementHandler.SubmitBatch)
		settlements.POST("/reversals", operator, rl("reversals"), settlementHandler.Reverse)
	}

	accountHandler := NewAccountHandler(deps.LedgerSvc)
	accounts := v1.Group("/accounts", rl("accounts"))
	{
		accounts.POST("", operator, accountHandler.Open)
		accounts.GET("/:id", reader, accountHandler.Get)
		accounts.GET("/:id/balance", reader, accountHandler.Balance)
		accounts.GET("/:id/entries", reader, accountHandler.ListEntries)
		accounts.POST("/:id/freeze", operator, accountHandler.Freeze)
		accounts.POST("/:id/unfreeze", operator, accountHandler.Unfreeze)
		accounts.POST("/:id/close", operator, accountHandler.Close)
		accounts.POST("/:id/holds", operator, accountHandler.PlaceHold)
	}
	v1.DELETE("/holds/:id", operator, rl("accounts"), accountHandler.ReleaseHold)
	v1.GET("/groups/:id", reader, rl("accounts"), accountHandler.GetGroup)

	reportHandler := NewReportHandler(deps.ReportingSvc, deps.DefaultCurrency, deps.Clock)
	reports := v1.Group("/reports", reader, rl("reports"))
	{
		reports.GET("/account-types", reportHandler.AccountTypeTotals)
		reports.GET("/categories", reportHandler.CategoryTotals)
		reports.GET("/trial-balance", reportHandler.TrialBalance)
		reports.GET("/balance-sheet", reportHandler.BalanceSheet)
		reports.GET("/income-statement", reportHandler.IncomeStatement)
	}

	return r
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-settlement-engine/internal/adapter/http/middleware"
	redisStore "ledger-settlement-engine/internal/adapter/storage/redis"
	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports/mocks"
	"ledger-settlement-engine/internal/metrics"
	"ledger-settlement-engine/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSecret = "router-test-secret"

type routerFixture struct {
	settlements *mocks.MockSettlementService
	ledger      *mocks.MockLedgerService
	reports     *mocks.MockReportingService
	audit       *mocks.MockAuditService
	tokens      *service.JWTTokenService
	deps        RouterDeps
}

func newRouterFixture(t *testing.T) *routerFixture {
	ctrl := gomock.NewController(t)
	f := &routerFixture{
		settlements: mocks.NewMockSettlementService(ctrl),
		ledger:      mocks.NewMockLedgerService(ctrl),
		reports:     mocks.NewMockReportingService(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
		tokens:      service.NewJWTTokenService(testSecret, time.Hour, ""),
	}
	f.deps = RouterDeps{
		SettlementSvc:   f.settlements,
		LedgerSvc:       f.ledger,
		ReportingSvc:    f.reports,
		TokenSvc:        f.tokens,
		AuditSvc:        f.audit,
		Metrics:         metrics.New().Handler(),
		MaxBatchSize:    10,
		DefaultCurrency: "USD",
		Clock:           fixedClock{testNow},
		Logger:          zerolog.Nop(),
	}
	return f
}

func (f *routerFixture) token(t *testing.T, id string, roles ...string) string {
	t.Helper()
	tok, _, err := f.tokens.Generate(domain.Principal{ID: id, RiskTier: domain.RiskTierLow, Roles: roles})
	require.NoError(t, err)
	return tok
}

func serve(r http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_RequiresPrincipal(t *testing.T) {
	f := newRouterFixture(t)
	r := SetupRouter(f.deps)

	w := serve(r, http.MethodPost, "/api/v1/settlements", "", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/reports/trial-balance", "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_OperatorRoutesNeedRole(t *testing.T) {
	f := newRouterFixture(t)
	r := SetupRouter(f.deps)
	tok := f.token(t, "svc-checkout")

	w := serve(r, http.MethodPost, "/api/v1/accounts", tok, []byte(`{"type":"asset","currency":"USD"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/reports/trial-balance", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_AuditorReadsAccount(t *testing.T) {
	f := newRouterFixture(t)
	r := SetupRouter(f.deps)

	acc := newAccount(uuid.New())
	f.ledger.EXPECT().GetAccount(gomock.Any(), acc.ID).Return(acc, nil)

	w := serve(r, http.MethodGet, "/api/v1/accounts/"+acc.ID.String(), f.token(t, "aud-1", domain.RoleAuditor), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_FreezeIsAudited(t *testing.T) {
	f := newRouterFixture(t)
	r := SetupRouter(f.deps)

	acc := newAccount(uuid.New())
	acc.Status = domain.AccountStatusFrozen
	f.ledger.EXPECT().Freeze(gomock.Any(), acc.ID).Return(acc, nil)

	var logged *domain.AuditLog
	f.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		logged = entry
	})

	w := serve(r, http.MethodPost, "/api/v1/accounts/"+acc.ID.String()+"/freeze", f.token(t, "ops-1", domain.RoleOperator), nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, logged)
	assert.Equal(t, domain.AuditActionFreezeAccount, logged.Action)
	assert.Equal(t, acc.ID.String(), logged.ResourceID)
	assert.Equal(t, "ops-1", logged.PrincipalID)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newRouterFixture(t)
	r := SetupRouter(f.deps)

	w := serve(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestRouter_RateLimitsSettlementsPerPrincipal(t *testing.T) {
	f := newRouterFixture(t)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f.deps.RateLimiter = redisStore.NewRateLimitStore(client, nil)
	f.deps.RateLimitRules = middleware.DefaultRateLimitRules(2, time.Minute)
	r := SetupRouter(f.deps)

	f.settlements.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&domain.SettlementOutcome{ClientRef: "order-1001", Status: domain.StateCompleted}, nil).Times(2)

	body, err := json.Marshal(transferBody(uuid.New(), uuid.New()))
	require.NoError(t, err)
	tok := f.token(t, "svc-checkout")

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodPost, "/api/v1/settlements", tok, body)
		assert.Equal(t, http.StatusCreated, w.Code)
	}
	w := serve(r, http.MethodPost, "/api/v1/settlements", tok, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// other principals have their own budget
	f.settlements.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&domain.SettlementOutcome{ClientRef: "order-1001", Status: domain.StateCompleted}, nil)
	w = serve(r, http.MethodPost, "/api/v1/settlements", f.token(t, "svc-payouts"), body)
	assert.Equal(t, http.StatusCreated, w.Code)
}

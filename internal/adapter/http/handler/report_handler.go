package handler

import (
	"time"

	"ledger-settlement-engine/internal/adapter/http/dto"
	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"
	"ledger-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReportHandler handles the reporting endpoints.
type ReportHandler struct {
	reportingSvc    ports.ReportingService
	defaultCurrency domain.Currency
	clock           ports.Clock
}

// NewReportHandler creates a new ReportHandler. defaultCurrency applies when
// a statement request omits ?currency.
func NewReportHandler(reportingSvc ports.ReportingService, defaultCurrency domain.Currency, clock ports.Clock) *ReportHandler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ReportHandler{reportingSvc: reportingSvc, defaultCurrency: defaultCurrency, clock: clock}
}

// AccountTypeTotals handles GET /api/v1/reports/account-types?as_of=.
func (h *ReportHandler) AccountTypeTotals(c *gin.Context) {
	asOf, err := parseTimeQuery(c, "as_of", h.clock.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	totals, err := h.reportingSvc.AccountTypeTotals(c.Request.Context(), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	if totals == nil {
		totals = []domain.AccountTypeTotal{}
	}
	response.OK(c, dto.AccountTypeTotalsResponse{AsOf: asOf.Format(time.RFC3339Nano), Totals: totals})
}

// CategoryTotals handles GET /api/v1/reports/categories?start=&end=.
func (h *ReportHandler) CategoryTotals(c *gin.Context) {
	start, end, ok := h.period(c)
	if !ok {
		return
	}
	totals, err := h.reportingSvc.CategoryTotals(c.Request.Context(), start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	if totals == nil {
		totals = []domain.CategoryTotal{}
	}
	response.OK(c, dto.CategoryTotalsResponse{
		Start:  start.Format(time.RFC3339Nano),
		End:    end.Format(time.RFC3339Nano),
		Totals: totals,
	})
}

// TrialBalance handles GET /api/v1/reports/trial-balance?as_of=.
func (h *ReportHandler) TrialBalance(c *gin.Context) {
	asOf, err := parseTimeQuery(c, "as_of", h.clock.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	tb, err := h.reportingSvc.TrialBalance(c.Request.Context(), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tb)
}

// BalanceSheet handles GET /api/v1/reports/balance-sheet?as_of=&currency=.
func (h *ReportHandler) BalanceSheet(c *gin.Context) {
	asOf, err := parseTimeQuery(c, "as_of", h.clock.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	currency, ok := h.currency(c)
	if !ok {
		return
	}
	bs, err := h.reportingSvc.BalanceSheet(c.Request.Context(), asOf, currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, bs)
}

// IncomeStatement handles GET /api/v1/reports/income-statement?start=&end=&currency=.
func (h *ReportHandler) IncomeStatement(c *gin.Context) {
	start, end, ok := h.period(c)
	if !ok {
		return
	}
	currency, ok := h.currency(c)
	if !ok {
		return
	}
	is, err := h.reportingSvc.IncomeStatement(c.Request.Context(), start, end, currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, is)
}

// period reads start and end. Both are required.
func (h *ReportHandler) period(c *gin.Context) (time.Time, time.Time, bool) {
	if c.Query("start") == "" || c.Query("end") == "" {
		response.Error(c, apperror.Validation("start and end are required"))
		return time.Time{}, time.Time{}, false
	}
	start, err := parseTimeQuery(c, "start", time.Time{})
	if err != nil {
		response.Error(c, err)
		return time.Time{}, time.Time{}, false
	}
	end, err := parseTimeQuery(c, "end", time.Time{})
	if err != nil {
		response.Error(c, err)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *ReportHandler) currency(c *gin.Context) (domain.Currency, bool) {
	raw := c.Query("currency")
	if raw == "" {
		if h.defaultCurrency == "" {
			response.Error(c, apperror.Validation("currency is required"))
			return "", false
		}
		return h.defaultCurrency, true
	}
	cur, err := domain.ParseCurrency(raw)
	if err != nil {
		response.Error(c, err)
		return "", false
	}
	return cur, true
}

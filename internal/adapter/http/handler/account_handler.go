package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ledger-settlement-engine/internal/adapter/http/dto"
	"ledger-settlement-engine/internal/adapter/http/middleware"
	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"
	"ledger-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const maxEntryPageSize = 500

// AccountHandler handles account administration, holds and ledger reads.
type AccountHandler struct {
	ledgerSvc ports.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledgerSvc ports.LedgerService) *AccountHandler {
	return &AccountHandler{ledgerSvc: ledgerSvc}
}

// Open handles POST /api/v1/accounts.
func (h *AccountHandler) Open(c *gin.Context) {
	var req dto.OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	acc, err := h.ledgerSvc.OpenAccount(c.Request.Context(), req.ToDomain())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, acc.ID.String())
	response.Created(c, acc)
}

// Get handles GET /api/v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	acc, err := h.ledgerSvc.GetAccount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acc)
}

// Balance handles GET /api/v1/accounts/:id/balance.
func (h *AccountHandler) Balance(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	bal, err := h.ledgerSvc.GetBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, bal)
}

// ListEntries handles GET /api/v1/accounts/:id/entries.
// Query: from, to (RFC 3339, to exclusive), direction, limit, cursor.
func (h *AccountHandler) ListEntries(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	params := ports.EntryListParams{AccountID: id, Limit: domain.DefaultPageSize}
	var err error
	if params.Filter.From, err = parseTimeQuery(c, "from", time.Time{}); err != nil {
		response.Error(c, err)
		return
	}
	if params.Filter.To, err = parseTimeQuery(c, "to", time.Time{}); err != nil {
		response.Error(c, err)
		return
	}
	if d := c.Query("direction"); d != "" {
		params.Filter.Direction = domain.Direction(d)
		if !params.Filter.Direction.Valid() {
			response.Error(c, apperror.Validation("direction must be debit or credit"))
			return
		}
	}
	if l := c.Query("limit"); l != "" {
		n, convErr := strconv.Atoi(l)
		if convErr != nil || n < 1 || n > maxEntryPageSize {
			response.Error(c, apperror.Validation(fmt.Sprintf("limit must be between 1 and %d", maxEntryPageSize)))
			return
		}
		params.Limit = n
	}
	if cur := c.Query("cursor"); cur != "" {
		after, decErr := decodeCursor(cur)
		if decErr != nil {
			response.Error(c, decErr)
			return
		}
		params.After = after
	}

	page, err := h.ledgerSvc.ListEntries(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := dto.EntryListResponse{Items: page.Entries}
	if resp.Items == nil {
		resp.Items = []domain.LedgerEntry{}
	}
	if page.Next != nil {
		resp.NextCursor = encodeCursor(*page.Next)
	}
	response.OK(c, resp)
}

// GetGroup handles GET /api/v1/groups/:id.
func (h *AccountHandler) GetGroup(c *gin.Context) {
	id, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("group id is not a valid ULID"))
		return
	}
	group, err := h.ledgerSvc.GetGroup(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, group)
}

// Freeze handles POST /api/v1/accounts/:id/freeze.
func (h *AccountHandler) Freeze(c *gin.Context) {
	h.changeStatus(c, h.ledgerSvc.Freeze)
}

// Unfreeze handles POST /api/v1/accounts/:id/unfreeze.
func (h *AccountHandler) Unfreeze(c *gin.Context) {
	h.changeStatus(c, h.ledgerSvc.Unfreeze)
}

// Close handles POST /api/v1/accounts/:id/close.
func (h *AccountHandler) Close(c *gin.Context) {
	h.changeStatus(c, h.ledgerSvc.Close)
}

func (h *AccountHandler) changeStatus(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*domain.Account, error)) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	acc, err := op(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acc)
}

// PlaceHold handles POST /api/v1/accounts/:id/holds.
func (h *AccountHandler) PlaceHold(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req dto.PlaceHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := domain.NewEntryAmount(req.Amount, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	hold, err := h.ledgerSvc.PlaceHold(c.Request.Context(), id, amount, req.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, hold.ID.String())
	response.Created(c, hold)
}

// ReleaseHold handles DELETE /api/v1/holds/:id.
func (h *AccountHandler) ReleaseHold(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("hold id is not a valid UUID"))
		return
	}
	hold, err := h.ledgerSvc.ReleaseHold(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, hold)
}

func accountIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("account id is not a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// parseTimeQuery reads an RFC 3339 query parameter, returning def when absent.
func parseTimeQuery(c *gin.Context, name string, def time.Time) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, apperror.Validation(fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
	}
	return t.UTC(), nil
}

// Cursors are "<unix micros>_<entry id>". Timestamps are stored at
// microsecond precision, so the round trip is exact.
func encodeCursor(cur domain.EntryCursor) string {
	return strconv.FormatInt(cur.CreatedAt.UnixMicro(), 10) + "_" + cur.ID.String()
}

func decodeCursor(s string) (*domain.EntryCursor, error) {
	micros, id, ok := strings.Cut(s, "_")
	if !ok {
		return nil, apperror.Validation("malformed cursor")
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, apperror.Validation("malformed cursor")
	}
	entryID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperror.Validation("malformed cursor")
	}
	return &domain.EntryCursor{CreatedAt: time.UnixMicro(us).UTC(), ID: entryID}, nil
}

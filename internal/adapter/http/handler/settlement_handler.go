package handler

import (
	"fmt"
	"net/http"
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

// SettlementHandler handles settlement and reversal endpoints.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
	maxBatchSize  int
	clock         ports.Clock
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc ports.SettlementService, maxBatchSize int, clock ports.Clock) *SettlementHandler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &SettlementHandler{settlementSvc: settlementSvc, maxBatchSize: maxBatchSize, clock: clock}
}

// Submit handles POST /api/v1/settlements.
func (h *SettlementHandler) Submit(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}

	var req dto.SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req.Metadata)

	txReq, err := req.ToDomain(c.ClientIP(), h.clock.Now())
	if err != nil {
		response.Error(c, err)
		return
	}

	out, err := h.settlementSvc.Submit(c.Request.Context(), principal, txReq)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, outcomeStatus(out), toOutcomeResponse(out))
}

// SubmitBatch handles POST /api/v1/settlements/batch. Items settle
// independently; the response lists them in request order.
func (h *SettlementHandler) SubmitBatch(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}

	var req dto.BatchSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if h.maxBatchSize > 0 && len(req.Items) > h.maxBatchSize {
		response.Error(c, apperror.Validation(fmt.Sprintf("batch holds %d items, limit is %d", len(req.Items), h.maxBatchSize)))
		return
	}

	now := h.clock.Now()
	txReqs := make([]domain.TransactionRequest, len(req.Items))
	for i := range req.Items {
		dto.SanitizeStruct(&req.Items[i].Metadata)
		txReq, err := req.Items[i].ToDomain(c.ClientIP(), now)
		if err != nil {
			response.Error(c, apperror.Validation(fmt.Sprintf("items[%d]: %s", i, apperror.As(err).Message)))
			return
		}
		txReqs[i] = txReq
	}

	results := h.settlementSvc.SubmitBatch(c.Request.Context(), principal, txReqs)

	resp := dto.BatchResponse{Items: make([]dto.BatchItemResponse, 0, len(results))}
	for i, r := range results {
		item := dto.BatchItemResponse{Index: i}
		switch {
		case r.Err != nil:
			appErr := apperror.As(r.Err)
			item.Error = &dto.ItemError{ErrorCode: appErr.Code, ErrorKind: string(appErr.Kind), Message: appErr.Message}
			resp.Failed++
		case r.Outcome != nil:
			o := toOutcomeResponse(r.Outcome)
			item.Outcome = &o
			switch r.Outcome.Status {
			case domain.StateCompleted:
				resp.Completed++
			case domain.StateRejected:
				resp.Rejected++
			default:
				resp.Failed++
			}
		}
		resp.Items = append(resp.Items, item)
	}
	response.OK(c, resp)
}

// Reverse handles POST /api/v1/settlements/reversals.
func (h *SettlementHandler) Reverse(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}

	var req dto.ReversalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	groupID, err := ulid.ParseStrict(req.GroupID)
	if err != nil {
		response.Error(c, apperror.Validation("group_id is not a valid ULID"))
		return
	}

	out, err := h.settlementSvc.Reverse(c.Request.Context(), principal, ports.ReversalRequest{
		ClientRef: req.ClientRef,
		GroupID:   groupID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, req.GroupID)
	response.JSON(c, outcomeStatus(out), toOutcomeResponse(out))
}

// outcomeStatus maps a terminal outcome to its HTTP status. A replayed
// outcome gets the same status as the original.
func outcomeStatus(out *domain.SettlementOutcome) int {
	switch out.Status {
	case domain.StateCompleted:
		return http.StatusCreated
	case domain.StateRejected:
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func toOutcomeResponse(out *domain.SettlementOutcome) dto.OutcomeResponse {
	resp := dto.OutcomeResponse{
		ClientRef:   out.ClientRef,
		Status:      string(out.Status),
		Risk:        out.Risk,
		ErrorKind:   string(out.ErrorKind),
		Message:     out.Message,
		Retryable:   out.Retryable(),
		Accounts:    uuidStrings(out.Accounts),
		States:      make([]string, 0, len(out.States)),
		CompletedAt: out.CompletedAt.Format(time.RFC3339Nano),
	}
	if out.GroupID != nil {
		resp.GroupID = out.GroupID.String()
	}
	for _, s := range out.States {
		resp.States = append(resp.States, string(s))
	}
	return resp
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful operator writes after the handler has run.
// Settlements are not audited here; their outcome is the record.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var principalID string
		if p, ok := Principal(c); ok {
			principalID = p.ID
		}
		resourceID := c.GetString(CtxResourceID)
		if resourceID == "" {
			resourceID = c.Param("id")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(response.CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			PrincipalID:  principalID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/accounts" && method == http.MethodPost:
		return domain.AuditActionOpenAccount, "account"
	case route == "/api/v1/accounts/:id/freeze" && method == http.MethodPost:
		return domain.AuditActionFreezeAccount, "account"
	case route == "/api/v1/accounts/:id/unfreeze" && method == http.MethodPost:
		return domain.AuditActionUnfreezeAccount, "account"
	case route == "/api/v1/accounts/:id/close" && method == http.MethodPost:
		return domain.AuditActionCloseAccount, "account"
	case route == "/api/v1/accounts/:id/holds" && method == http.MethodPost:
		return domain.AuditActionPlaceHold, "hold"
	case route == "/api/v1/holds/:id" && method == http.MethodDelete:
		return domain.AuditActionReleaseHold, "hold"
	case route == "/api/v1/settlements/reversals" && method == http.MethodPost:
		return domain.AuditActionReverse, "ledger_group"
	}
	return "", ""
}

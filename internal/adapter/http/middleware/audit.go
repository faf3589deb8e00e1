package middleware

import (
	"encoding/json"
	"net/http"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuditLog records successful write operations after the handler ran.
// Routes are matched on their registered pattern so /wallets/:id/adjust maps
// to one action whatever the id.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		entry := &domain.AuditLog{
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
		}
		if id, ok := MerchantID(c); ok {
			entry.MerchantID = &id
		}

		details, _ := json.Marshal(map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(response.RequestIDKey),
		})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/auth/register" && method == http.MethodPost:
		return domain.AuditActionRegister, "merchant"
	case route == "/api/v1/auth/login" && method == http.MethodPost:
		return domain.AuditActionLogin, "session"
	case route == "/api/v1/storefront/deposit-address" && method == http.MethodPost:
		return domain.AuditActionAllocateAddress, "address"
	case route == "/api/v1/admin/addresses/rotate" && method == http.MethodPost:
		return domain.AuditActionRotateAddress, "address"
	case route == "/api/v1/admin/deposits/observations" && method == http.MethodPost:
		return domain.AuditActionIngestDeposits, "deposit"
	case route == "/api/v1/admin/wallets/:id/adjust" && method == http.MethodPost:
		return domain.AuditActionAdjustBalance, "wallet"
	case route == "/api/v1/admin/wallets/:id/reserve" && method == http.MethodPost:
		return domain.AuditActionAdjustReserved, "wallet"
	case route == "/api/v1/admin/settings/extended-key" && method == http.MethodPut:
		return domain.AuditActionSetExtendedKey, "settings"
	case route == "/api/v1/admin/settings/confirmation-threshold" && method == http.MethodPut:
		return domain.AuditActionSetConfirmations, "settings"
	}
	return "", ""
}

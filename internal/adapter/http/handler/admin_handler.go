package handler

import (
	"merchant-wallet-ledger/internal/adapter/http/dto"
	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler serves the operator console: reconciliation, addresses,
// deposits and platform settings.
type AdminHandler struct {
	reconciliation ports.ReconciliationService
	addresses      ports.AddressService
	deposits       ports.DepositService
	settings       ports.SettingsService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	reconciliation ports.ReconciliationService,
	addresses ports.AddressService,
	deposits ports.DepositService,
	settings ports.SettingsService,
) *AdminHandler {
	return &AdminHandler{
		reconciliation: reconciliation,
		addresses:      addresses,
		deposits:       deposits,
		settings:       settings,
	}
}

// Reconciliation handles GET /api/v1/admin/reconciliation.
func (h *AdminHandler) Reconciliation(c *gin.Context) {
	report, err := h.reconciliation.Reconcile(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// ListAddresses handles GET /api/v1/admin/addresses.
func (h *AdminHandler) ListAddresses(c *gin.Context) {
	merchantID, err := uuidQuery(c, "merchant_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	page, pageSize := pageQuery(c)
	params := ports.AddressListParams{MerchantID: merchantID, Page: page, PageSize: pageSize}
	if p := c.Query("purpose"); p != "" {
		purpose := domain.AddressPurpose(p)
		params.Purpose = &purpose
	}
	if s := c.Query("status"); s != "" {
		status := domain.AddressStatus(s)
		if status != domain.AddressStatusActive && status != domain.AddressStatusRetired {
			response.Error(c, apperror.Validation("status must be ACTIVE or RETIRED"))
			return
		}
		params.Status = &status
	}

	rows, total, err := h.addresses.ListAddresses(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.NewPage(rows, total, page, pageSize))
}

// RotateAddress handles POST /api/v1/admin/addresses/rotate.
func (h *AdminHandler) RotateAddress(c *gin.Context) {
	var req dto.RotateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	addr, err := h.addresses.RotateAddress(c.Request.Context(), uuid.MustParse(req.MerchantID), purposeOrDefault(req.Purpose))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, addr)
}

// ListDeposits handles GET /api/v1/admin/deposits.
func (h *AdminHandler) ListDeposits(c *gin.Context) {
	merchantID, err := uuidQuery(c, "merchant_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	page, pageSize := pageQuery(c)
	params := ports.DepositListParams{MerchantID: merchantID, Page: page, PageSize: pageSize}
	if s := c.Query("status"); s != "" {
		status := domain.DepositStatus(s)
		params.Status = &status
	}

	rows, total, err := h.deposits.ListDeposits(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.NewPage(rows, total, page, pageSize))
}

// IngestObservations handles POST /api/v1/admin/deposits/observations.
// Each record gets its own result; one bad record does not fail the batch.
func (h *AdminHandler) IngestObservations(c *gin.Context) {
	var req dto.ObservationBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	results, err := h.deposits.ObserveBatch(c.Request.Context(), req.Observations)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"results": results})
}

// SetExtendedKey handles PUT /api/v1/admin/settings/extended-key.
// The key is never echoed back.
func (h *AdminHandler) SetExtendedKey(c *gin.Context) {
	var req dto.SetExtendedKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	purpose := purposeOrDefault(req.Purpose)
	if err := h.settings.SetExtendedKey(c.Request.Context(), purpose, req.ExtendedKey); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"purpose": purpose, "configured": true})
}

// SetConfirmationThreshold handles PUT /api/v1/admin/settings/confirmation-threshold.
func (h *AdminHandler) SetConfirmationThreshold(c *gin.Context) {
	var req dto.SetConfirmationThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.settings.SetConfirmationThreshold(c.Request.Context(), req.Threshold); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"threshold": req.Threshold})
}

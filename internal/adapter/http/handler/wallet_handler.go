package handler

import (
	"merchant-wallet-ledger/internal/adapter/http/dto"
	"merchant-wallet-ledger/internal/adapter/http/middleware"
	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler serves wallet reads for the dashboard and balance corrections for admins.
type WalletHandler struct {
	ledger ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// ListWallets handles GET /api/v1/wallets.
func (h *WalletHandler) ListWallets(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	wallets, err := h.ledger.ListWallets(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]domain.WalletSummary, 0, len(wallets))
	for i := range wallets {
		w := &wallets[i]
		items = append(items, domain.WalletSummary{
			WalletID:  w.ID,
			Currency:  w.Currency,
			Balance:   w.Balance,
			Reserved:  w.Reserved,
			Available: w.Available(),
		})
	}
	response.OK(c, items)
}

// ListTransactions handles GET /api/v1/wallets/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	walletID, err := uuidQuery(c, "wallet_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	page, pageSize := pageQuery(c)
	params := ports.LedgerListParams{
		MerchantID: merchantID,
		WalletID:   walletID,
		Page:       page,
		PageSize:   pageSize,
	}
	if t := c.Query("type"); t != "" {
		entryType := domain.LedgerEntryType(t)
		if !entryType.IsValid() {
			response.Error(c, apperror.Validation("unknown ledger entry type"))
			return
		}
		params.Type = &entryType
	}

	rows, total, err := h.ledger.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.NewPage(rows, total, page, pageSize))
}

// Adjust handles POST /api/v1/admin/wallets/:id/adjust.
func (h *WalletHandler) Adjust(c *gin.Context) {
	walletID, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	entryType := domain.LedgerEntryType(req.Type)
	if entryType == domain.LedgerEntryBTCDeposit {
		// Deposit credits only come from the deposit observer.
		response.Error(c, apperror.Validation("BTC_DEPOSIT entries cannot be created manually"))
		return
	}

	refType := req.ReferenceType
	if refType == "" {
		refType = "admin"
	}
	res, err := h.ledger.AdjustBalance(c.Request.Context(), domain.BalanceAdjustment{
		WalletID:       walletID,
		Amount:         req.Amount,
		Type:           entryType,
		ReferenceType:  refType,
		ReferenceID:    req.ReferenceID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if res.Replayed {
		response.OK(c, res)
		return
	}
	response.Created(c, res)
}

// Reserve handles POST /api/v1/admin/wallets/:id/reserve.
func (h *WalletHandler) Reserve(c *gin.Context) {
	walletID, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.AdjustReservedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	w, err := h.ledger.AdjustReserved(c.Request.Context(), walletID, req.Delta)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewReserveResponse(w))
}

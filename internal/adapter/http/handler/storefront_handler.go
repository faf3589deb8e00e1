package handler

import (
	"errors"
	"io"

	"merchant-wallet-ledger/internal/adapter/http/dto"
	"merchant-wallet-ledger/internal/adapter/http/middleware"
	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// StorefrontHandler serves the HMAC-signed storefront plugin API.
type StorefrontHandler struct {
	addresses ports.AddressService
	rates     ports.RateService
	ledger    ports.LedgerService
}

// NewStorefrontHandler creates a new StorefrontHandler.
func NewStorefrontHandler(addresses ports.AddressService, rates ports.RateService, ledger ports.LedgerService) *StorefrontHandler {
	return &StorefrontHandler{addresses: addresses, rates: rates, ledger: ledger}
}

// DepositAddress handles POST /api/v1/storefront/deposit-address.
// An unconfigured purpose answers enabled=false instead of an error, and the
// rate is left out when no source (or cached value) is available.
func (h *StorefrontHandler) DepositAddress(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	var req dto.DepositAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	purpose := purposeOrDefault(req.Purpose)

	addr, err := h.addresses.GetOrCreateAddress(c.Request.Context(), merchantID, purpose)
	if err != nil {
		if apperror.HasCode(err, "ADDR_001") {
			response.OK(c, dto.DepositAddressResponse{Enabled: false, Purpose: string(purpose)})
			return
		}
		response.Error(c, err)
		return
	}

	resp := dto.DepositAddressResponse{
		Enabled:         true,
		Purpose:         string(addr.Purpose),
		Address:         addr.Address,
		DerivationIndex: &addr.DerivationIndex,
	}
	if rate, err := h.rates.CurrentRate(c.Request.Context()); err == nil {
		resp.Rate = &dto.RateQuote{
			UsdCentsPerBTC: rate.CentsPerBTC,
			Source:         rate.Source,
			FetchedAt:      rate.FetchedAt.Unix(),
			Stale:          rate.Stale,
		}
	}

	response.OK(c, resp)
}

// WalletSummary handles GET /api/v1/storefront/wallet?currency=BTC.
func (h *StorefrontHandler) WalletSummary(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	currency := domain.Currency(c.DefaultQuery("currency", string(domain.CurrencyBTC)))
	if !currency.IsValid() {
		response.Error(c, apperror.Validation("currency must be BTC or USD"))
		return
	}

	summary, err := h.ledger.GetWalletSummary(c.Request.Context(), merchantID, currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

package handler

import (
	"fmt"
	"strconv"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageQuery reads page and page_size with the same bounds the services apply,
// so the page metadata always matches the rows returned.
func pageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

// uuidQuery parses an optional uuid query parameter.
func uuidQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("%s must be a UUID", name))
	}
	return &id, nil
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Validation(fmt.Sprintf("%s must be a UUID", name))
	}
	return id, nil
}

// purposeOrDefault maps an empty purpose to TOPUP.
func purposeOrDefault(raw string) domain.AddressPurpose {
	if raw == "" {
		return domain.PurposeTopup
	}
	return domain.AddressPurpose(raw)
}

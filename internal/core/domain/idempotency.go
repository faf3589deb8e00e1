package domain

import (
	"fmt"
	"strings"
)

// DepositKeyPrefix namespaces ledger idempotency keys owned by the deposit observer.
const DepositKeyPrefix = "btc_deposit:"

// BuildDepositIdempotencyKey derives the ledger idempotency key of a chain output.
func BuildDepositIdempotencyKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s%s:%d", DepositKeyPrefix, strings.ToLower(txid), vout)
}

// IsDepositIdempotencyKey reports whether key lies in the deposit observer's namespace.
func IsDepositIdempotencyKey(key string) bool {
	return strings.HasPrefix(strings.ToLower(key), DepositKeyPrefix)
}

// BuildAllocationKey groups concurrent allocations for the same merchant and purpose.
func BuildAllocationKey(merchantID fmt.Stringer, purpose AddressPurpose) string {
	return merchantID.String() + ":" + string(purpose)
}

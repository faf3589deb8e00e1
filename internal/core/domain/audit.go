package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names an audited mutation.
type AuditAction string

const (
	AuditActionRegister         AuditAction = "REGISTER"
	AuditActionLogin            AuditAction = "LOGIN"
	AuditActionAdjustBalance    AuditAction = "ADJUST_BALANCE"
	AuditActionAdjustReserved   AuditAction = "ADJUST_RESERVED"
	AuditActionRotateAddress    AuditAction = "ROTATE_ADDRESS"
	AuditActionAllocateAddress  AuditAction = "ALLOCATE_ADDRESS"
	AuditActionIngestDeposits   AuditAction = "INGEST_OBSERVATIONS"
	AuditActionSetExtendedKey   AuditAction = "SET_EXTENDED_KEY"
	AuditActionSetConfirmations AuditAction = "SET_CONFIRMATION_THRESHOLD"
)

// AuditLog records one audited action.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"` // actor
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}

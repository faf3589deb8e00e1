package service

import (
	"context"
	"sync"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const auditPersistTimeout = 5 * time.Second

// AuditService writes audit entries in the background. Failures are logged
// and never surface to the request that produced the entry.
type AuditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log.With().Str("component", "audit").Logger()}
}

// Log records an audit entry asynchronously.
func (s *AuditService) Log(_ context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("ip", entry.IPAddress).
			Msg("audit")

		if s.repo == nil {
			return
		}
		// the request context is usually gone by now
		ctx, cancel := context.WithTimeout(context.Background(), auditPersistTimeout)
		defer cancel()
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}()
}

// Wait blocks until pending audit writes finish or ctx is done.
func (s *AuditService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

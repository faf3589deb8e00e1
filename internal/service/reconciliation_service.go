package service

import (
	"context"
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// flaggedListLimit caps the deposits embedded in a report.
const flaggedListLimit = 100

// ReconciliationServiceImpl implements ports.ReconciliationService. It only reads.
type ReconciliationServiceImpl struct {
	deposits ports.DepositRepository
	ledger   ports.LedgerRepository
	wallets  ports.WalletRepository
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	deposits ports.DepositRepository,
	ledger ports.LedgerRepository,
	wallets ports.WalletRepository,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		deposits: deposits,
		ledger:   ledger,
		wallets:  wallets,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "reconciliation").Logger(),
	}
}

// Reconcile compares credited deposits, BTC deposit ledger rows and BTC wallet balances.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context) (*domain.ReconciliationReport, error) {
	var (
		totals  domain.ReconciliationTotals
		flagged []domain.Deposit
	)
	flaggedStatus := domain.DepositStatusFlagged

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.deposits.SumCredited(gctx)
		if err != nil {
			return fmt.Errorf("sum credited deposits: %w", err)
		}
		totals.DepositTotal = n
		return nil
	})
	g.Go(func() error {
		n, err := s.ledger.SumByTypes(gctx, domain.BTCDepositEntryTypes)
		if err != nil {
			return fmt.Errorf("sum deposit ledger: %w", err)
		}
		totals.LedgerTotal = n
		return nil
	})
	g.Go(func() error {
		n, err := s.wallets.SumBalances(gctx, domain.CurrencyBTC)
		if err != nil {
			return fmt.Errorf("sum btc wallets: %w", err)
		}
		totals.WalletHeldTotal = n
		return nil
	})
	g.Go(func() error {
		rows, total, err := s.deposits.List(gctx, ports.DepositListParams{
			Status:   &flaggedStatus,
			Page:     1,
			PageSize: flaggedListLimit,
		})
		if err != nil {
			return fmt.Errorf("list flagged deposits: %w", err)
		}
		flagged, totals.FlaggedCount = rows, total
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apperror.InternalError(err)
	}

	report := domain.BuildReconciliationReport(totals, flagged, s.now())
	if !report.IsReconciled {
		s.log.Warn().Strs("flags", report.Flags).Msg("reconciliation found discrepancies")
	}
	return report, nil
}

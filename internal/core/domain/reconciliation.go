package domain

import (
	"fmt"
	"time"
)

// ReconciliationTotals are the raw sums a report is built from.
type ReconciliationTotals struct {
	DepositTotal    int64
	LedgerTotal     int64
	WalletHeldTotal int64
	FlaggedCount    int64
}

// ReconciliationReport is the read-only audit view over deposits and the BTC ledger.
type ReconciliationReport struct {
	DepositTotal    int64     `json:"deposit_total"`
	LedgerTotal     int64     `json:"ledger_total"`
	WalletHeldTotal int64     `json:"wallet_held_total"`
	FlaggedCount    int64     `json:"flagged_count"`
	FlaggedDeposits []Deposit `json:"flagged_deposits"`
	Flags           []string  `json:"flags"`
	IsReconciled    bool      `json:"is_reconciled"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// BuildReconciliationReport compares the totals and produces one flag per divergence.
func BuildReconciliationReport(t ReconciliationTotals, flagged []Deposit, now time.Time) *ReconciliationReport {
	flags := make([]string, 0, 3)
	if t.DepositTotal != t.LedgerTotal {
		flags = append(flags, fmt.Sprintf(
			"credited deposit total %d sats differs from BTC deposit ledger total %d sats by %d sats",
			t.DepositTotal, t.LedgerTotal, absDiff(t.DepositTotal, t.LedgerTotal)))
	}
	if t.WalletHeldTotal != t.LedgerTotal {
		flags = append(flags, fmt.Sprintf(
			"BTC wallet held total %d sats differs from BTC deposit ledger total %d sats by %d sats",
			t.WalletHeldTotal, t.LedgerTotal, absDiff(t.WalletHeldTotal, t.LedgerTotal)))
	}
	if t.FlaggedCount > 0 {
		flags = append(flags, fmt.Sprintf("%d deposit(s) flagged for manual review", t.FlaggedCount))
	}
	if flagged == nil {
		flagged = []Deposit{}
	}

	return &ReconciliationReport{
		DepositTotal:    t.DepositTotal,
		LedgerTotal:     t.LedgerTotal,
		WalletHeldTotal: t.WalletHeldTotal,
		FlaggedCount:    t.FlaggedCount,
		FlaggedDeposits: flagged,
		Flags:           flags,
		IsReconciled:    len(flags) == 0,
		GeneratedAt:     now,
	}
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

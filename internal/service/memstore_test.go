package service

import (
	"context"
	"sync"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory repositories for concurrency tests. Each enforces the same
// uniqueness and compare-and-swap rules as its postgres counterpart.

type memAddresses struct {
	mu   sync.Mutex
	rows []domain.DerivedAddress
}

func (m *memAddresses) GetActive(_ context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.MerchantID == merchantID && r.Purpose == purpose && r.Status == domain.AddressStatusActive {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAddresses) GetByAddress(_ context.Context, address string) (*domain.DerivedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Address == address {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAddresses) Create(_ context.Context, addr *domain.DerivedAddress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.MerchantID == addr.MerchantID && r.Purpose == addr.Purpose && r.Status == domain.AddressStatusActive {
			return false, nil
		}
		if r.Purpose == addr.Purpose && r.DerivationIndex == addr.DerivationIndex {
			panic("derivation index reused")
		}
	}
	m.rows = append(m.rows, *addr)
	return true, nil
}

func (m *memAddresses) Retire(_ context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, r := range m.rows {
		if r.MerchantID == merchantID && r.Purpose == purpose && r.Status == domain.AddressStatusActive {
			m.rows[i].Status = domain.AddressStatusRetired
			n++
		}
	}
	return n, nil
}

func (m *memAddresses) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == id && r.UsedAt == nil {
			m.rows[i].UsedAt = &at
		}
	}
	return nil
}

func (m *memAddresses) List(_ context.Context, _ ports.AddressListParams) ([]domain.DerivedAddress, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.DerivedAddress(nil), m.rows...)
	return out, int64(len(out)), nil
}

type memCounters struct {
	mu     sync.Mutex
	next   map[domain.AddressPurpose]uint32
	misses int
}

func newMemCounters(purpose domain.AddressPurpose, start uint32) *memCounters {
	return &memCounters{next: map[domain.AddressPurpose]uint32{purpose: start}}
}

func (m *memCounters) Get(_ context.Context, purpose domain.AddressPurpose) (*domain.AddressCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.next[purpose]
	if !ok {
		return nil, nil
	}
	return &domain.AddressCounter{Purpose: purpose, NextIndex: n}, nil
}

func (m *memCounters) CompareAndSwap(_ context.Context, purpose domain.AddressPurpose, expected, next uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next[purpose] != expected {
		m.misses++
		return false, nil
	}
	m.next[purpose] = next
	return true, nil
}

func (m *memCounters) Initialize(_ context.Context, purpose domain.AddressPurpose, start uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.next[purpose]; ok {
		return false, nil
	}
	m.next[purpose] = start
	return true, nil
}

type memDeposits struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Deposit
}

func newMemDeposits() *memDeposits {
	return &memDeposits{rows: map[uuid.UUID]*domain.Deposit{}}
}

func (m *memDeposits) GetByOutpoint(_ context.Context, txid string, vout uint32) (*domain.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.rows {
		if d.TxID == txid && d.Vout == vout {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memDeposits) Create(_ context.Context, dep *domain.Deposit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.rows {
		if d.TxID == dep.TxID && d.Vout == dep.Vout {
			return false, nil
		}
	}
	cp := *dep
	m.rows[dep.ID] = &cp
	return true, nil
}

func (m *memDeposits) UpdateProgress(_ context.Context, current *domain.Deposit, upd domain.DepositUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[current.ID]
	if !ok || d.Status != current.Status || d.Confirmations != current.Confirmations || !sameHeight(d.BlockHeight, current.BlockHeight) {
		return false, nil
	}
	d.Confirmations = upd.Confirmations
	d.BlockHeight = upd.BlockHeight
	d.Status = upd.Status
	if upd.FlagReason != "" {
		reason := upd.FlagReason
		d.FlagReason = &reason
	}
	return true, nil
}

func (m *memDeposits) MarkCredited(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok || d.Status != domain.DepositStatusConfirmed {
		return false, nil
	}
	d.Status = domain.DepositStatusCredited
	d.CreditedAt = &at
	return true, nil
}

func (m *memDeposits) List(_ context.Context, p ports.DepositListParams) ([]domain.Deposit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deposit
	for _, d := range m.rows {
		if p.Status != nil && d.Status != *p.Status {
			continue
		}
		if p.MerchantID != nil && d.MerchantID != *p.MerchantID {
			continue
		}
		out = append(out, *d)
	}
	return out, int64(len(out)), nil
}

func (m *memDeposits) CountPending(_ context.Context, merchantID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.rows {
		if d.MerchantID == merchantID && (d.Status == domain.DepositStatusPending || d.Status == domain.DepositStatusConfirmed) {
			n++
		}
	}
	return n, nil
}

func (m *memDeposits) CountByStatus(_ context.Context, status domain.DepositStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.rows {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memDeposits) SumCredited(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.rows {
		if d.Status == domain.DepositStatusCredited {
			n += d.AmountSats
		}
	}
	return n, nil
}

func (m *memDeposits) get(id uuid.UUID) domain.Deposit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

// memWallets implements both WalletRepository and LedgerRepository with the
// stored procedure's idempotency and non-negative balance rules.
type memWallets struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.WalletAccount
	ledger  []domain.WalletTransaction
}

func newMemWallets(wallets ...*domain.WalletAccount) *memWallets {
	m := &memWallets{wallets: map[uuid.UUID]*domain.WalletAccount{}}
	for _, w := range wallets {
		m.wallets[w.ID] = w
	}
	return m
}

func (m *memWallets) Create(_ context.Context, _ pgx.Tx, w *domain.WalletAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w
	return nil
}

func (m *memWallets) GetByID(_ context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (m *memWallets) GetByMerchant(_ context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.MerchantID == merchantID && w.Currency == currency {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memWallets) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WalletAccount
	for _, w := range m.wallets {
		if w.MerchantID == merchantID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memWallets) AdjustBalance(_ context.Context, adj domain.BalanceAdjustment) (*domain.AdjustmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adj.IdempotencyKey != "" {
		for _, tx := range m.ledger {
			if tx.IdempotencyKey != nil && *tx.IdempotencyKey == adj.IdempotencyKey {
				if tx.WalletID != adj.WalletID || tx.Amount != adj.Amount || tx.Type != adj.Type {
					return nil, domain.ErrIdempotencyConflict
				}
				return &domain.AdjustmentResult{NewBalance: tx.BalanceAfter, TransactionID: tx.ID, Replayed: true}, nil
			}
		}
	}
	w, ok := m.wallets[adj.WalletID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	if w.Balance+adj.Amount < 0 {
		return nil, &domain.InsufficientBalanceError{Attempted: adj.Amount, Available: w.Balance}
	}
	w.Balance += adj.Amount
	tx := domain.WalletTransaction{
		ID:           uuid.New(),
		MerchantID:   w.MerchantID,
		WalletID:     w.ID,
		Type:         adj.Type,
		Amount:       adj.Amount,
		BalanceAfter: w.Balance,
	}
	if adj.IdempotencyKey != "" {
		key := adj.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	m.ledger = append(m.ledger, tx)
	return &domain.AdjustmentResult{NewBalance: w.Balance, TransactionID: tx.ID}, nil
}

func (m *memWallets) AdjustReserved(_ context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w.Reserved = max(w.Reserved+delta, 0)
	cp := *w
	return &cp, nil
}

func (m *memWallets) SumBalances(_ context.Context, currency domain.Currency) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, w := range m.wallets {
		if w.Currency == currency {
			n += w.Balance
		}
	}
	return n, nil
}

func (m *memWallets) GetByIdempotencyKey(_ context.Context, key string) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.ledger {
		if tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			cp := tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memWallets) List(_ context.Context, _ ports.LedgerListParams) ([]domain.WalletTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.WalletTransaction(nil), m.ledger...)
	return out, int64(len(out)), nil
}

func (m *memWallets) SumByTypes(_ context.Context, types []domain.LedgerEntryType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tx := range m.ledger {
		for _, t := range types {
			if tx.Type == t {
				n += tx.Amount
			}
		}
	}
	return n, nil
}

func (m *memWallets) entries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// staticSettings is a SettingsService with fixed values.
type staticSettings struct {
	threshold int64
	key       string
}

func (s staticSettings) ConfirmationThreshold(context.Context) (int64, error) { return s.threshold, nil }
func (s staticSettings) SetConfirmationThreshold(context.Context, int64) error { return nil }
func (s staticSettings) ExtendedKey(context.Context, domain.AddressPurpose) (string, error) {
	return s.key, nil
}
func (s staticSettings) SetExtendedKey(context.Context, domain.AddressPurpose, string) error {
	return nil
}

var (
	_ ports.AddressRepository        = (*memAddresses)(nil)
	_ ports.AddressCounterRepository = (*memCounters)(nil)
	_ ports.DepositRepository        = (*memDeposits)(nil)
	_ ports.WalletRepository         = (*memWallets)(nil)
	_ ports.LedgerRepository         = (*memWallets)(nil)
	_ ports.SettingsService          = staticSettings{}
)

// nopCache is an IdempotencyCache that never hits.
type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, error)                    { return nil, nil }
func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

// sameHeight compares block heights the way IS NOT DISTINCT FROM does.
func sameHeight(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

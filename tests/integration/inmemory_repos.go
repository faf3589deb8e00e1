package integration

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memDB holds every table behind one lock. The repositories below are views
// over it that mirror the conditional writes of the postgres repositories.
type memDB struct {
	mu        sync.Mutex
	merchants map[uuid.UUID]*domain.Merchant
	wallets   map[uuid.UUID]*domain.WalletAccount
	ledger    []domain.WalletTransaction
	addresses map[uuid.UUID]*domain.DerivedAddress
	counters  map[domain.AddressPurpose]uint32
	deposits  map[uuid.UUID]*domain.Deposit
	settings  map[string]string
}

func newMemDB() *memDB {
	return &memDB{
		merchants: make(map[uuid.UUID]*domain.Merchant),
		wallets:   make(map[uuid.UUID]*domain.WalletAccount),
		addresses: make(map[uuid.UUID]*domain.DerivedAddress),
		counters:  make(map[domain.AddressPurpose]uint32),
		deposits:  make(map[uuid.UUID]*domain.Deposit),
		settings:  make(map[string]string),
	}
}

func page[T any](rows []T, pageNum, pageSize int) []T {
	if pageNum < 1 {
		pageNum = 1
	}
	start := (pageNum - 1) * pageSize
	if start >= len(rows) {
		return []T{}
	}
	return rows[start:min(start+pageSize, len(rows))]
}

// --- Merchants ---

type memMerchantRepo struct{ db *memDB }

func (r *memMerchantRepo) Create(_ context.Context, _ pgx.Tx, m *domain.Merchant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.merchants {
		if existing.Username == m.Username {
			return domain.ErrUsernameTaken
		}
	}
	cp := *m
	r.db.merchants[m.ID] = &cp
	return nil
}

func (r *memMerchantRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Merchant, error) {
	return r.find(func(m *domain.Merchant) bool { return m.ID == id }), nil
}

func (r *memMerchantRepo) GetByAccessKey(_ context.Context, accessKey string) (*domain.Merchant, error) {
	return r.find(func(m *domain.Merchant) bool { return m.AccessKey == accessKey }), nil
}

func (r *memMerchantRepo) GetByUsername(_ context.Context, username string) (*domain.Merchant, error) {
	return r.find(func(m *domain.Merchant) bool { return m.Username == username }), nil
}

func (r *memMerchantRepo) find(match func(*domain.Merchant) bool) *domain.Merchant {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.merchants {
		if match(m) {
			cp := *m
			return &cp
		}
	}
	return nil
}

// --- Wallets and ledger ---

type memWalletRepo struct{ db *memDB }

func (r *memWalletRepo) Create(_ context.Context, _ pgx.Tx, w *domain.WalletAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *w
	r.db.wallets[w.ID] = &cp
	return nil
}

func (r *memWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if w, ok := r.db.wallets[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (r *memWalletRepo) GetByMerchant(_ context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, w := range r.db.wallets {
		if w.MerchantID == merchantID && w.Currency == currency {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memWalletRepo) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.WalletAccount
	for _, w := range r.db.wallets {
		if w.MerchantID == merchantID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// AdjustBalance follows adjust_wallet_balance: idempotent replay, row existence,
// non-negative balance, then the balance update and ledger row together.
func (r *memWalletRepo) AdjustBalance(_ context.Context, adj domain.BalanceAdjustment) (*domain.AdjustmentResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if adj.IdempotencyKey != "" {
		for _, tx := range r.db.ledger {
			if tx.IdempotencyKey != nil && *tx.IdempotencyKey == adj.IdempotencyKey {
				if tx.WalletID != adj.WalletID || tx.Amount != adj.Amount || tx.Type != adj.Type {
					return nil, domain.ErrIdempotencyConflict
				}
				return &domain.AdjustmentResult{NewBalance: tx.BalanceAfter, TransactionID: tx.ID, Replayed: true}, nil
			}
		}
	}

	w, ok := r.db.wallets[adj.WalletID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	if w.Balance+adj.Amount < 0 {
		return nil, &domain.InsufficientBalanceError{Attempted: -adj.Amount, Available: w.Balance}
	}

	now := time.Now().UTC()
	w.Balance += adj.Amount
	w.UpdatedAt = now

	tx := domain.WalletTransaction{
		ID:            uuid.New(),
		MerchantID:    w.MerchantID,
		WalletID:      w.ID,
		Type:          adj.Type,
		Amount:        adj.Amount,
		BalanceAfter:  w.Balance,
		ReferenceType: adj.ReferenceType,
		ReferenceID:   adj.ReferenceID,
		Description:   adj.Description,
		CreatedAt:     now,
	}
	if adj.IdempotencyKey != "" {
		key := adj.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	r.db.ledger = append(r.db.ledger, tx)

	return &domain.AdjustmentResult{NewBalance: w.Balance, TransactionID: tx.ID}, nil
}

func (r *memWalletRepo) AdjustReserved(_ context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.wallets[walletID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w.Reserved = max(w.Reserved+delta, 0)
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (r *memWalletRepo) SumBalances(_ context.Context, currency domain.Currency) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var total int64
	for _, w := range r.db.wallets {
		if w.Currency == currency {
			total += w.Balance
		}
	}
	return total, nil
}

type memLedgerRepo struct{ db *memDB }

func (r *memLedgerRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.WalletTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, tx := range r.db.ledger {
		if tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			cp := tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memLedgerRepo) List(_ context.Context, params ports.LedgerListParams) ([]domain.WalletTransaction, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []domain.WalletTransaction
	for _, tx := range slices.Backward(r.db.ledger) {
		if tx.MerchantID != params.MerchantID {
			continue
		}
		if params.WalletID != nil && tx.WalletID != *params.WalletID {
			continue
		}
		if params.Type != nil && tx.Type != *params.Type {
			continue
		}
		rows = append(rows, tx)
	}
	return page(rows, params.Page, params.PageSize), int64(len(rows)), nil
}

func (r *memLedgerRepo) SumByTypes(_ context.Context, types []domain.LedgerEntryType) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var total int64
	for _, tx := range r.db.ledger {
		if slices.Contains(types, tx.Type) {
			total += tx.Amount
		}
	}
	return total, nil
}

// --- Addresses ---

type memAddressRepo struct{ db *memDB }

func (r *memAddressRepo) GetActive(_ context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	return r.find(func(a *domain.DerivedAddress) bool {
		return a.MerchantID == merchantID && a.Purpose == purpose && a.Status == domain.AddressStatusActive
	}), nil
}

func (r *memAddressRepo) GetByAddress(_ context.Context, address string) (*domain.DerivedAddress, error) {
	return r.find(func(a *domain.DerivedAddress) bool { return a.Address == address }), nil
}

func (r *memAddressRepo) find(match func(*domain.DerivedAddress) bool) *domain.DerivedAddress {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.addresses {
		if match(a) {
			cp := *a
			return &cp
		}
	}
	return nil
}

func (r *memAddressRepo) Create(_ context.Context, a *domain.DerivedAddress) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.addresses {
		if existing.MerchantID == a.MerchantID && existing.Purpose == a.Purpose && existing.Status == domain.AddressStatusActive {
			return false, nil
		}
		if existing.Purpose == a.Purpose && existing.DerivationIndex == a.DerivationIndex {
			return false, &pgconn.PgError{Code: "23505", ConstraintName: "derived_addresses_purpose_index_key"}
		}
	}
	cp := *a
	r.db.addresses[a.ID] = &cp
	return true, nil
}

func (r *memAddressRepo) Retire(_ context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, a := range r.db.addresses {
		if a.MerchantID == merchantID && a.Purpose == purpose && a.Status == domain.AddressStatusActive {
			a.Status = domain.AddressStatusRetired
			n++
		}
	}
	return n, nil
}

func (r *memAddressRepo) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if a, ok := r.db.addresses[id]; ok && a.UsedAt == nil {
		a.UsedAt = &at
	}
	return nil
}

func (r *memAddressRepo) List(_ context.Context, params ports.AddressListParams) ([]domain.DerivedAddress, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []domain.DerivedAddress
	for _, a := range r.db.addresses {
		if params.MerchantID != nil && a.MerchantID != *params.MerchantID {
			continue
		}
		if params.Purpose != nil && a.Purpose != *params.Purpose {
			continue
		}
		if params.Status != nil && a.Status != *params.Status {
			continue
		}
		rows = append(rows, *a)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DerivationIndex > rows[j].DerivationIndex })
	return page(rows, params.Page, params.PageSize), int64(len(rows)), nil
}

type memCounterRepo struct{ db *memDB }

func (r *memCounterRepo) Get(_ context.Context, purpose domain.AddressPurpose) (*domain.AddressCounter, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	next, ok := r.db.counters[purpose]
	if !ok {
		return nil, nil
	}
	return &domain.AddressCounter{Purpose: purpose, NextIndex: next}, nil
}

func (r *memCounterRepo) CompareAndSwap(_ context.Context, purpose domain.AddressPurpose, expected, next uint32) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.counters[purpose]
	if !ok || current != expected {
		return false, nil
	}
	r.db.counters[purpose] = next
	return true, nil
}

func (r *memCounterRepo) Initialize(_ context.Context, purpose domain.AddressPurpose, start uint32) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.counters[purpose]; ok {
		return false, nil
	}
	r.db.counters[purpose] = start
	return true, nil
}

// --- Deposits ---

type memDepositRepo struct{ db *memDB }

func (r *memDepositRepo) GetByOutpoint(_ context.Context, txid string, vout uint32) (*domain.Deposit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.deposits {
		if d.TxID == txid && d.Vout == vout {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memDepositRepo) Create(_ context.Context, d *domain.Deposit) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.deposits {
		if existing.TxID == d.TxID && existing.Vout == d.Vout {
			return false, nil
		}
	}
	cp := *d
	r.db.deposits[d.ID] = &cp
	return true, nil
}

func (r *memDepositRepo) UpdateProgress(_ context.Context, current *domain.Deposit, upd domain.DepositUpdate) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.deposits[current.ID]
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
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memDepositRepo) MarkCredited(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.deposits[id]
	if !ok || d.Status != domain.DepositStatusConfirmed {
		return false, nil
	}
	d.Status = domain.DepositStatusCredited
	d.CreditedAt = &at
	d.UpdatedAt = at
	return true, nil
}

func (r *memDepositRepo) List(_ context.Context, params ports.DepositListParams) ([]domain.Deposit, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []domain.Deposit
	for _, d := range r.db.deposits {
		if params.MerchantID != nil && d.MerchantID != *params.MerchantID {
			continue
		}
		if params.Status != nil && d.Status != *params.Status {
			continue
		}
		rows = append(rows, *d)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].FirstSeenAt.After(rows[j].FirstSeenAt) })
	return page(rows, params.Page, params.PageSize), int64(len(rows)), nil
}

func (r *memDepositRepo) CountPending(_ context.Context, merchantID uuid.UUID) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, d := range r.db.deposits {
		if d.MerchantID == merchantID && (d.Status == domain.DepositStatusPending || d.Status == domain.DepositStatusConfirmed) {
			n++
		}
	}
	return n, nil
}

func (r *memDepositRepo) CountByStatus(_ context.Context, status domain.DepositStatus) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, d := range r.db.deposits {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memDepositRepo) SumCredited(_ context.Context) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var total int64
	for _, d := range r.db.deposits {
		if d.Status == domain.DepositStatusCredited {
			total += d.AmountSats
		}
	}
	return total, nil
}

// --- Settings ---

type memSettingsRepo struct{ db *memDB }

func (r *memSettingsRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	v, ok := r.db.settings[key]
	return v, ok, nil
}

func (r *memSettingsRepo) Set(_ context.Context, key, value string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.settings[key] = value
	return nil
}

// --- Transactions ---

// memTransactor hands out a no-op pgx.Tx; the in-memory writes are applied
// immediately, so commit and rollback have nothing to do.
type memTransactor struct{}

func (memTransactor) Begin(context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

type noopTx struct{}

func (t *noopTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(context.Context) error          { return nil }
func (t *noopTx) Rollback(context.Context) error        { return nil }
func (t *noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *noopTx) Conn() *pgx.Conn                                         { return nil }

// sameHeight compares block heights the way IS NOT DISTINCT FROM does.
func sameHeight(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TxKind distinguishes why a Tx happened.
type TxKind string

const (
	TxMine   TxKind = "mine"
	TxPay    TxKind = "pay"
	TxFee    TxKind = "fee"
	TxRefund TxKind = "refund"
)

// TxDirection is credit or debit.
type TxDirection string

const (
	DirCredit TxDirection = "credit"
	DirDebit  TxDirection = "debit"
)

// Tx is one append-only ledger entry.
type Tx struct {
	TxID      string
	AccountID string
	Amount    float64
	Kind      TxKind
	Direction TxDirection
	Timestamp time.Time
	Metadata  map[string]string
}

// LedgerEntrySnapshot is the durable shape of one account, as handed to a
// LedgerStore sink.
type LedgerEntrySnapshot struct {
	AccountID string
	Balance   float64
	Txs       []Tx
}

// LedgerStore is the pluggable key/value sink the ledger delegates
// persistence to: put/get/del/all with single-writer
// semantics per id. The in-process TokenLedger keeps its own authoritative
// in-memory state and mirrors every commit into the configured store; a nil
// store is a valid, fully functional configuration (purely in-memory
// ledger).
type LedgerStore interface {
	Put(entry LedgerEntrySnapshot) error
	Get(id string) (LedgerEntrySnapshot, bool, error)
	Del(id string) error
	All() ([]LedgerEntrySnapshot, error)
}

// MemoryLedgerStore is the default in-memory LedgerStore, single-writer per
// id via a store-wide mutex, generalizing a plain in-memory balance map
// behind the pluggable-sink interface.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]LedgerEntrySnapshot
}

// NewMemoryLedgerStore constructs an empty in-memory store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: make(map[string]LedgerEntrySnapshot)}
}

func (s *MemoryLedgerStore) Put(entry LedgerEntrySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AccountID] = entry
	return nil
}

func (s *MemoryLedgerStore) Get(id string) (LedgerEntrySnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *MemoryLedgerStore) Del(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryLedgerStore) All() ([]LedgerEntrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntrySnapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

type ledgerAccount struct {
	mu      sync.Mutex
	balance float64
	txs     []Tx
}

// LedgerConfig configures a TokenLedger. WALPath, when set, gives the
// ledger its own crash-recovery journal layered on top of Store, kept
// independent of whatever durability Store itself provides.
type LedgerConfig struct {
	Store   LedgerStore // nil => in-memory only
	WALPath string      // optional append-only journal of committed Txs
}

// TokenLedger is an append-only per-account ledger with credit/debit and
// balance invariants: balance == sum(credits) - sum(debits),
// balance >= 0 at every quiescent state, the tx list is append-only, and
// tx_id is unique process-wide.
type TokenLedger struct {
	store LedgerStore

	mu       sync.Mutex // guards the accounts map itself, not account state
	accounts map[string]*ledgerAccount

	walMu sync.Mutex
	wal   *os.File

	log *logrus.Logger
}

// NewTokenLedger constructs a ledger, replaying its WAL (if configured).
func NewTokenLedger(cfg LedgerConfig) (*TokenLedger, error) {
	store := cfg.Store
	if store == nil {
		store = NewMemoryLedgerStore()
	}
	l := &TokenLedger{
		store:    store,
		accounts: make(map[string]*ledgerAccount),
		log:      logrus.StandardLogger(),
	}

	if cfg.WALPath != "" {
		f, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
		if err != nil {
			return nil, wrapErr(ErrLedgerCorruption, "open WAL", err)
		}
		if err := l.replayWAL(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		l.wal = f
	}
	return l, nil
}

func (l *TokenLedger) replayWAL(f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var tx Tx
		if err := json.Unmarshal(scanner.Bytes(), &tx); err != nil {
			return wrapErr(ErrLedgerCorruption, "WAL unmarshal", err)
		}
		l.applyTx(tx)
	}
	if err := scanner.Err(); err != nil {
		return wrapErr(ErrLedgerCorruption, "WAL scan", err)
	}
	return nil
}

func (l *TokenLedger) account(id string) *ledgerAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		a = &ledgerAccount{}
		l.accounts[id] = a
	}
	return a
}

// applyTx mutates an account's balance/tx-list for tx without persisting
// (used during WAL replay, where the WAL itself is already the record).
func (l *TokenLedger) applyTx(tx Tx) {
	a := l.account(tx.AccountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if tx.Direction == DirCredit {
		a.balance += tx.Amount
	} else {
		a.balance -= tx.Amount
	}
	a.txs = append(a.txs, tx)
}

func (l *TokenLedger) persist(tx Tx, snapshot LedgerEntrySnapshot) error {
	if l.wal != nil {
		l.walMu.Lock()
		b, err := json.Marshal(tx)
		if err == nil {
			_, err = l.wal.Write(append(b, '\n'))
		}
		l.walMu.Unlock()
		if err != nil {
			return wrapErr(ErrLedgerCorruption, "WAL append", err)
		}
	}
	if err := l.store.Put(snapshot); err != nil {
		return wrapErr(ErrLedgerCorruption, "store put", err)
	}
	return nil
}

// Credit increases account's balance. It always succeeds for a
// non-negative amount.
func (l *TokenLedger) Credit(account string, amount float64, kind TxKind, metadata map[string]string) (Tx, error) {
	if amount < 0 {
		return Tx{}, newErr(ErrInsufficientFunds, "credit amount must be non-negative")
	}
	a := l.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()

	tx := Tx{
		TxID:      uuid.NewString(),
		AccountID: account,
		Amount:    amount,
		Kind:      kind,
		Direction: DirCredit,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	a.balance += amount
	a.txs = append(a.txs, tx)

	if err := l.persist(tx, l.snapshotLocked(account, a)); err != nil {
		// roll back the in-memory mutation so the commit is all-or-nothing.
		a.balance -= amount
		a.txs = a.txs[:len(a.txs)-1]
		return Tx{}, err
	}
	return tx, nil
}

// Debit decreases account's balance. It fails with InsufficientFunds (no
// state change) when balance < amount.
func (l *TokenLedger) Debit(account string, amount float64, kind TxKind, metadata map[string]string) (Tx, error) {
	if amount < 0 {
		return Tx{}, newErr(ErrInsufficientFunds, "debit amount must be non-negative")
	}
	a := l.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balance < amount {
		return Tx{}, newErr(ErrInsufficientFunds, fmt.Sprintf("balance %.8f < amount %.8f", a.balance, amount))
	}

	tx := Tx{
		TxID:      uuid.NewString(),
		AccountID: account,
		Amount:    amount,
		Kind:      kind,
		Direction: DirDebit,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	a.balance -= amount
	a.txs = append(a.txs, tx)

	if err := l.persist(tx, l.snapshotLocked(account, a)); err != nil {
		a.balance += amount
		a.txs = a.txs[:len(a.txs)-1]
		return Tx{}, err
	}
	return tx, nil
}

func (l *TokenLedger) snapshotLocked(id string, a *ledgerAccount) LedgerEntrySnapshot {
	txs := make([]Tx, len(a.txs))
	copy(txs, a.txs)
	return LedgerEntrySnapshot{AccountID: id, Balance: a.balance, Txs: txs}
}

// GetBalance returns 0 for unknown accounts, and otherwise the committed
// balance — never a partially-applied tx.
func (l *TokenLedger) GetBalance(account string) float64 {
	a := l.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// GetHistory returns account's tx list in append order.
func (l *TokenLedger) GetHistory(account string) []Tx {
	a := l.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Tx, len(a.txs))
	copy(out, a.txs)
	return out
}

// CheckInvariant verifies balance == sum(credits) - sum(debits) for
// account, returning LedgerCorruption if violated.
func (l *TokenLedger) CheckInvariant(account string) error {
	a := l.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()

	var sum float64
	for _, tx := range a.txs {
		if tx.Direction == DirCredit {
			sum += tx.Amount
		} else {
			sum -= tx.Amount
		}
	}
	if sum != a.balance {
		return newErr(ErrLedgerCorruption, fmt.Sprintf("account %s: balance %.8f != derived %.8f", account, a.balance, sum))
	}
	if a.balance < 0 {
		return newErr(ErrLedgerCorruption, fmt.Sprintf("account %s: negative balance %.8f", account, a.balance))
	}
	return nil
}

// Close releases the WAL file handle, if any.
func (l *TokenLedger) Close() error {
	if l.wal != nil {
		return l.wal.Close()
	}
	return nil
}

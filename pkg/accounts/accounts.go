// Package accounts implements the AccountsDB for the local airdrop ledger.
//
// The ledger stores only current state: one record per pubkey, keyed by the
// pubkey itself. Two implementations are provided:
//   - MemoryDB for tests and throwaway simulations
//   - BadgerDB for the persistent ledger used by the CLI
//
// Transactions are committed through Apply, which writes every modified
// account of a transaction atomically.
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account record is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the largest data region an account may hold.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the native balance.
	Lamports uint64

	// Data is the account data, interpreted by the owner program.
	Data []byte

	// Owner is the program allowed to modify Data and debit Lamports.
	Owner types.Pubkey

	// Executable marks builtin program accounts.
	Executable bool

	// RentEpoch is kept for layout compatibility; every account is rent exempt.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Equal reports whether two accounts hold identical state.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Lamports == other.Lamports &&
		a.Owner == other.Owner &&
		a.Executable == other.Executable &&
		a.RentEpoch == other.RentEpoch &&
		bytes.Equal(a.Data, other.Data)
}

// Serialize encodes the account for storage.
// Format: lamports u64 | data_len u64 | data | owner [32] | executable u8 | rent_epoch u64
func (a *Account) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(8 + 8 + len(a.Data) + 32 + 1 + 8)
	enc := bin.NewBinEncoder(buf)

	// Writes into a bytes.Buffer cannot fail.
	_ = enc.WriteUint64(a.Lamports, bin.LE)
	_ = enc.WriteUint64(uint64(len(a.Data)), bin.LE)
	_ = enc.WriteBytes(a.Data, false)
	_ = enc.WriteBytes(a.Owner[:], false)
	_ = enc.WriteBool(a.Executable)
	_ = enc.WriteUint64(a.RentEpoch, bin.LE)
	return buf.Bytes()
}

// DeserializeAccount decodes an account from its storage form.
func DeserializeAccount(data []byte) (*Account, error) {
	dec := bin.NewBinDecoder(data)

	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: lamports: %v", ErrInvalidData, err)
	}
	dataLen, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrInvalidData, err)
	}
	if dataLen > MaxAccountDataSize {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidData, dataLen)
	}
	raw, err := dec.ReadNBytes(int(dataLen))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrInvalidData, err)
	}
	owner, err := dec.ReadNBytes(types.PubkeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidData, err)
	}
	executable, err := dec.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: executable: %v", ErrInvalidData, err)
	}
	rentEpoch, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: rent epoch: %v", ErrInvalidData, err)
	}

	account := &Account{
		Lamports:   lamports,
		Data:       make([]byte, len(raw)),
		Executable: executable,
		RentEpoch:  rentEpoch,
	}
	copy(account.Data, raw)
	copy(account.Owner[:], owner)
	return account, nil
}

// AccountEntry pairs a pubkey with its account.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// Apply stores every entry atomically. Zero accounts are deleted.
	Apply(entries []AccountEntry) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Iterate visits every account in ascending pubkey order.
	// Returning an error from fn stops the iteration.
	Iterate(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Commit persists pending metadata.
	Commit() error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setLocked(pubkey, account)
	return nil
}

// Apply stores every entry under a single lock.
func (m *MemoryDB) Apply(entries []AccountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		m.setLocked(e.Pubkey, e.Account)
	}
	return nil
}

func (m *MemoryDB) setLocked(pubkey types.Pubkey, account *Account) {
	if account == nil || account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Iterate visits accounts in ascending pubkey order.
func (m *MemoryDB) Iterate(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]AccountEntry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Pubkey[:], entries[j].Pubkey[:]) < 0
	})
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)

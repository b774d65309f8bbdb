// Package blockstore provides persistent storage for ledger blocks, executed
// transactions and the distribution batch journal.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

var (
	// ErrBlockNotFound is returned when a block doesn't exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")

	// ErrInvalidSlot is returned when a block does not extend the latest slot.
	ErrInvalidSlot = errors.New("invalid slot number")
)

// Bucket names for BoltDB.
var (
	// bucketBlocks stores block headers keyed by slot.
	bucketBlocks = []byte("blocks")

	// bucketTxBySignature stores transactions by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressSignatures indexes signatures by address+slot.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketBatches journals distribution batches by distribution+slot.
	bucketBatches = []byte("batches")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyBlockCount       = []byte("block_count")
	keyTransactionCount = []byte("transaction_count")
)

// DefaultSignatureLimit caps GetSignaturesForAddress when no limit is given.
const DefaultSignatureLimit = 1000

// Config holds blockstore configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds waiting for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is the main blockstore interface.
type Store interface {
	// Block operations
	PutBlock(block *Block) error
	GetBlock(slot uint64) (*Block, error)
	GetRecentBlocks(n int) ([]*Block, error)

	// Transaction operations
	GetTransaction(signature types.Signature) (*Transaction, error)
	HasTransaction(signature types.Signature) bool
	GetSignaturesForAddress(address types.Pubkey, limit int) ([]SignatureInfo, error)

	// Batch journal
	PutBatch(batch *Batch) error
	Batches(distribution types.Pubkey) ([]Batch, error)

	// Slot progression
	GetLatestSlot() uint64

	// Maintenance
	GetStats() (*Stats, error)
	Sync() error
	Close() error
}

// Stats contains blockstore statistics.
type Stats struct {
	// LatestSlot is the most recent slot stored.
	LatestSlot uint64

	// BlockCount is the total number of blocks stored.
	BlockCount uint64

	// TransactionCount is the total number of transactions indexed.
	TransactionCount uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	// Cached values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	blockCount       uint64
	transactionCount uint64

	closed bool
}

// Open creates or opens a blockstore at the given path.
func Open(config Config) (*BoltStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:     db,
		config: config,
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBlocks,
			bucketTxBySignature,
			bucketAddressSignatures,
			bucketBatches,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database, no values to load.
		}

		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyBlockCount); v != nil {
			s.blockCount = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// PutBlock stores a block with its transactions and updates the signature
// index of every account the transactions reference. Blocks must be stored
// in increasing slot order.
func (s *BoltStore) PutBlock(block *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.blockCount > 0 && block.Slot <= s.latestSlot {
		return fmt.Errorf("%w: %d after %d", ErrInvalidSlot, block.Slot, s.latestSlot)
	}

	header := *block
	header.Transactions = nil
	headerData, err := bin.MarshalBorsh(&header)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(EncodeSlotKey(block.Slot), headerData); err != nil {
			return err
		}

		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)
		for i := range block.Transactions {
			txn := &block.Transactions[i]
			txn.Slot = block.Slot
			txn.BlockTime = block.BlockTime

			data, err := bin.MarshalBorsh(txn)
			if err != nil {
				return fmt.Errorf("encode transaction: %w", err)
			}
			if err := txBySig.Put(EncodeSignatureKey(txn.Signature), data); err != nil {
				return err
			}

			info, err := bin.MarshalBorsh(&SignatureInfo{
				Signature: txn.Signature,
				Slot:      block.Slot,
				Err:       txn.Meta.Err,
				BlockTime: block.BlockTime,
			})
			if err != nil {
				return fmt.Errorf("encode signature info: %w", err)
			}
			for _, addr := range txn.AccountKeys {
				if err := addrSigs.Put(EncodeAddressSlotKey(addr, block.Slot), info); err != nil {
					return err
				}
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLatestSlot, EncodeSlotKey(block.Slot)); err != nil {
			return err
		}
		if err := meta.Put(keyBlockCount, EncodeSlotKey(s.blockCount+1)); err != nil {
			return err
		}
		return meta.Put(keyTransactionCount, EncodeSlotKey(s.transactionCount+uint64(len(block.Transactions))))
	})
	if err != nil {
		return err
	}

	s.latestSlot = block.Slot
	s.blockCount++
	s.transactionCount += uint64(len(block.Transactions))
	return nil
}

// GetBlock retrieves a block header by slot number. Transactions are looked
// up separately by signature.
func (s *BoltStore) GetBlock(slot uint64) (*Block, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var block Block
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(EncodeSlotKey(slot))
		if data == nil {
			return ErrBlockNotFound
		}
		return bin.UnmarshalBorsh(&block, data)
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetRecentBlocks returns up to n block headers, newest first.
func (s *BoltStore) GetRecentBlocks(n int) ([]*Block, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var blocks []*Block
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.Last(); k != nil && len(blocks) < n; k, v = c.Prev() {
			var block Block
			if err := bin.UnmarshalBorsh(&block, v); err != nil {
				return fmt.Errorf("decode block %d: %w", DecodeSlotKey(k), err)
			}
			blocks = append(blocks, &block)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// GetTransaction retrieves a transaction by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var txn Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(EncodeSignatureKey(signature))
		if data == nil {
			return ErrTransactionNotFound
		}
		return bin.UnmarshalBorsh(&txn, data)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// HasTransaction reports whether a signature has been stored.
func (s *BoltStore) HasTransaction(signature types.Signature) bool {
	if s.checkOpen() != nil {
		return false
	}
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketTxBySignature).Get(EncodeSignatureKey(signature)) != nil
		return nil
	})
	return found
}

// GetSignaturesForAddress returns signatures for transactions involving an
// address, newest first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, limit int) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		prefix := address[:]
		k, v := seekLast(c, prefix)
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var info SignatureInfo
			if err := bin.UnmarshalBorsh(&info, v); err != nil {
				continue // Skip corrupted entries.
			}
			results = append(results, info)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// seekLast positions c on the last key carrying prefix, if any.
func seekLast(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	end := make([]byte, 40)
	copy(end, prefix)
	for i := len(prefix); i < len(end); i++ {
		end[i] = 0xFF
	}
	k, v := c.Seek(end)
	switch {
	case k == nil:
		k, v = c.Last()
	case !bytes.HasPrefix(k, prefix):
		k, v = c.Prev()
	}
	return k, v
}

// PutBatch journals a distribution batch.
func (s *BoltStore) PutBatch(batch *Batch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := bin.MarshalBorsh(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).Put(EncodeAddressSlotKey(batch.Distribution, batch.Slot), data)
	})
}

// Batches returns the journal of a distribution, oldest first.
func (s *BoltStore) Batches(distribution types.Pubkey) ([]Batch, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var batches []Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBatches).Cursor()
		prefix := distribution[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var b Batch
			if err := bin.UnmarshalBorsh(&b, v); err != nil {
				return fmt.Errorf("decode batch: %w", err)
			}
			batches = append(batches, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// GetLatestSlot returns the most recent slot.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// GetStats returns blockstore statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	stats := &Stats{
		LatestSlot:       s.latestSlot,
		BlockCount:       s.blockCount,
		TransactionCount: s.transactionCount,
	}
	s.mu.RUnlock()

	info, err := os.Stat(s.config.Path)
	if err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close shuts down the blockstore.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)

package replayer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	sysprog "github.com/gagliardetto/solana-go/programs/system"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/blockstore"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
)

// Ledger constants.
const (
	// DefaultBlockhashQueueSize is how many recent blockhashes a
	// transaction may reference.
	DefaultBlockhashQueueSize = 150

	// FaucetLamports is the genesis balance of the faucet.
	FaucetLamports = uint64(500_000_000) * 1_000_000_000

	faucetSeed = "x1-airdrop faucet"
)

// ErrFaucetEmpty is returned when an airdrop exceeds the faucet balance.
var ErrFaucetEmpty = errors.New("faucet balance too low")

// Config holds bank configuration.
type Config struct {
	// ProgramID is where the distribution program is registered.
	ProgramID types.Pubkey

	// ComputeLimit is the per-transaction compute budget.
	ComputeLimit uint64

	// SkipSignatureVerification skips ed25519 signature verification.
	SkipSignatureVerification bool

	// BlockhashQueueSize bounds the recent blockhash window.
	BlockhashQueueSize int

	// Now returns the block time. Defaults to time.Now.
	Now func() time.Time

	// OnTransactionComplete is called after each transaction lands.
	OnTransactionComplete func(slot uint64, result *svm.ExecutionResult)
}

// DefaultConfig returns the default bank configuration.
func DefaultConfig() Config {
	return Config{
		ProgramID:          types.AirdropProgramAddr,
		ComputeLimit:       svm.CUMax,
		BlockhashQueueSize: DefaultBlockhashQueueSize,
		Now:                time.Now,
	}
}

// recentEntry is one slot in the blockhash window.
type recentEntry struct {
	blockhash types.Hash
	signature types.Signature
}

// Bank is a single-node ledger. Every transaction that passes the
// transaction-level checks lands in its own slot, whether or not its
// instructions succeed.
type Bank struct {
	mu sync.Mutex

	// Storage
	accounts accounts.DB
	blocks   blockstore.Store

	// State
	slot      uint64
	blockhash types.Hash
	bankHash  types.Hash
	recent    []recentEntry
	seen      map[types.Signature]struct{}

	config   Config
	executor *TransactionExecutor
	faucet   solana.PrivateKey
	logger   *zap.Logger
}

// NewBank opens a bank over the given stores. blocks may be nil, in which
// case slot history lives in memory only. A fresh ledger is seeded with the
// faucet account.
func NewBank(accts accounts.DB, blocks blockstore.Store, config Config, logger *zap.Logger) (*Bank, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BlockhashQueueSize <= 0 {
		config.BlockhashQueueSize = DefaultBlockhashQueueSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []ExecutorOption{WithComputeLimit(config.ComputeLimit), WithLogger(logger)}
	if config.SkipSignatureVerification {
		opts = append(opts, WithoutSignatureVerification())
	}
	executor := NewTransactionExecutor(accts, opts...)
	executor.RegisterProgram(config.ProgramID, dist.NewProcessor())

	b := &Bank{
		accounts:  accts,
		blocks:    blocks,
		blockhash: GenesisBlockhash(),
		seen:      make(map[types.Signature]struct{}),
		config:    config,
		executor:  executor,
		faucet:    FaucetKey(),
		logger:    logger,
	}
	if err := b.restore(); err != nil {
		return nil, err
	}
	return b, nil
}

// FaucetKey returns the deterministic keypair that funds local airdrops.
func FaucetKey() solana.PrivateKey {
	seed := blake3.Sum256([]byte(faucetSeed))
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:]))
}

// restore rebuilds the slot state from the blockstore, or writes genesis.
func (b *Bank) restore() error {
	if b.blocks != nil && b.blocks.GetLatestSlot() > 0 {
		recent, err := b.blocks.GetRecentBlocks(b.config.BlockhashQueueSize)
		if err != nil {
			return fmt.Errorf("load recent blocks: %w", err)
		}
		// Duplicates of restored slots are caught by the blockstore lookup,
		// so the window only needs the blockhashes.
		for i := len(recent) - 1; i >= 0; i-- {
			b.recent = append(b.recent, recentEntry{blockhash: recent[i].Blockhash})
		}
		head := recent[0]
		b.slot = head.Slot
		b.blockhash = head.Blockhash
		b.bankHash = head.BankHash

		if dbSlot := b.accounts.GetSlot(); dbSlot != b.slot {
			b.logger.Warn("accounts and blockstore slots differ",
				zap.Uint64("accounts_slot", dbSlot),
				zap.Uint64("blockstore_slot", b.slot),
			)
		}
		b.logger.Info("ledger restored",
			zap.Uint64("slot", b.slot),
			zap.Stringer("blockhash", b.blockhash),
		)
		return nil
	}

	b.slot = b.accounts.GetSlot()
	b.recent = []recentEntry{{blockhash: b.blockhash}}

	faucet := types.PubkeyFromSolana(b.faucet.PublicKey())
	has, err := b.accounts.HasAccount(faucet)
	if err != nil {
		return fmt.Errorf("check faucet: %w", err)
	}
	if has {
		return nil
	}
	err = b.accounts.SetAccount(faucet, &accounts.Account{
		Lamports: FaucetLamports,
		Owner:    types.SystemProgramAddr,
	})
	if err != nil {
		return fmt.Errorf("create faucet: %w", err)
	}
	if err := b.accounts.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	b.logger.Info("genesis created",
		zap.Stringer("faucet", faucet),
		zap.Stringer("blockhash", b.blockhash),
	)
	return nil
}

// Executor returns the transaction executor.
func (b *Bank) Executor() *TransactionExecutor {
	return b.executor
}

// ProgramID returns the distribution program address.
func (b *Bank) ProgramID() types.Pubkey {
	return b.config.ProgramID
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// LatestBlockhash returns the blockhash new transactions should reference.
func (b *Bank) LatestBlockhash() types.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockhash
}

// BankHash returns the bank hash of the current slot.
func (b *Bank) BankHash() types.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bankHash
}

// GetAccount returns the current state of an account.
func (b *Bank) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return b.accounts.GetAccount(pubkey)
}

// GetBalance returns the lamports of an account, zero if it does not exist.
func (b *Bank) GetBalance(pubkey types.Pubkey) (uint64, error) {
	acc, err := b.accounts.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}

// RentMinimum returns the rent-exempt balance for dataLen bytes.
func (b *Bank) RentMinimum(dataLen uint64) uint64 {
	return svm.RentMinimum(dataLen)
}

// GetTransaction returns a landed transaction from the blockstore.
func (b *Bank) GetTransaction(sig types.Signature) (*blockstore.Transaction, error) {
	if b.blocks == nil {
		return nil, blockstore.ErrTransactionNotFound
	}
	return b.blocks.GetTransaction(sig)
}

// SendTransaction processes tx and returns its signature. The error is the
// transaction failure, if any, or a storage error.
func (b *Bank) SendTransaction(tx *solana.Transaction) (types.Signature, error) {
	result, err := b.ProcessTransaction(tx)
	if err != nil {
		return result.Signature, err
	}
	return result.Signature, result.Err
}

// ProcessTransaction executes tx. Transactions failing the signature,
// blockhash or duplicate checks are rejected without producing a slot.
// The returned error reports storage failures only; transaction failures
// are in the result.
func (b *Bank) ProcessTransaction(tx *solana.Transaction) (*svm.ExecutionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := &svm.ExecutionResult{}
	if len(tx.Signatures) > 0 {
		result.Signature = types.Signature(tx.Signatures[0])
	}
	if _, ok := b.seen[result.Signature]; ok || (b.blocks != nil && b.blocks.HasTransaction(result.Signature)) {
		result.Err = &TransactionError{Index: -1, Err: ErrAlreadyProcessed}
		return result, nil
	}
	if !b.isRecent(types.Hash(tx.Message.RecentBlockhash)) {
		result.Err = &TransactionError{Index: -1, Err: ErrBlockhashNotFound}
		return result, nil
	}

	result = b.executor.Execute(tx)
	var txErr *TransactionError
	if errors.As(result.Err, &txErr) && txErr.Index < 0 {
		b.logger.Debug("transaction rejected",
			zap.Stringer("signature", result.Signature),
			zap.Error(result.Err),
		)
		return result, nil
	}

	if err := b.advance(tx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (b *Bank) isRecent(h types.Hash) bool {
	for _, e := range b.recent {
		if e.blockhash == h {
			return true
		}
	}
	return false
}

// advance produces the slot for an executed transaction.
func (b *Bank) advance(tx *solana.Transaction, result *svm.ExecutionResult) error {
	slot := b.slot + 1
	blockhash := NextBlockhash(b.blockhash, result.Signature)

	hc := NewSlotBankHashComputer(b.accounts, b.bankHash)
	for _, pk := range result.Modified {
		hc.AddModifiedAccount(pk)
	}
	hc.AddSignatureCount(uint64(len(tx.Signatures)))
	hc.SetLastBlockhash(blockhash)
	bankHash, err := hc.Compute()
	if err != nil {
		return fmt.Errorf("compute bank hash: %w", err)
	}

	if err := b.accounts.SetSlot(slot); err != nil {
		return fmt.Errorf("set accounts slot: %w", err)
	}
	if err := b.accounts.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}

	if b.blocks != nil {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		keys := make([]types.Pubkey, len(tx.Message.AccountKeys))
		for i, k := range tx.Message.AccountKeys {
			keys[i] = types.PubkeyFromSolana(k)
		}
		meta := blockstore.TransactionMeta{
			LogMessages:          result.Logs,
			ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		}
		if result.Err != nil {
			meta.Err = result.Err.Error()
		}
		err = b.blocks.PutBlock(&blockstore.Block{
			Slot:              slot,
			ParentSlot:        b.slot,
			Blockhash:         blockhash,
			PreviousBlockhash: b.blockhash,
			BankHash:          bankHash,
			BlockTime:         b.config.Now().Unix(),
			Transactions: []blockstore.Transaction{{
				Signature:   result.Signature,
				AccountKeys: keys,
				Raw:         raw,
				Meta:        meta,
			}},
		})
		if err != nil {
			return fmt.Errorf("store block %d: %w", slot, err)
		}
	}

	b.slot = slot
	b.blockhash = blockhash
	b.bankHash = bankHash
	b.recent = append(b.recent, recentEntry{blockhash: blockhash, signature: result.Signature})
	b.seen[result.Signature] = struct{}{}
	if len(b.recent) > b.config.BlockhashQueueSize {
		delete(b.seen, b.recent[0].signature)
		b.recent = b.recent[1:]
	}

	fields := []zap.Field{
		zap.Uint64("slot", slot),
		zap.Stringer("signature", result.Signature),
		zap.Uint64("compute_units", result.ComputeUnitsConsumed),
		zap.Bool("success", result.Success),
	}
	if result.Err != nil {
		b.logger.Warn("transaction failed", append(fields, zap.Error(result.Err))...)
	} else {
		b.logger.Debug("transaction executed", fields...)
	}

	if b.config.OnTransactionComplete != nil {
		b.config.OnTransactionComplete(slot, result)
	}
	return nil
}

// RequestAirdrop transfers lamports from the faucet to the given account.
func (b *Bank) RequestAirdrop(to types.Pubkey, lamports uint64) (types.Signature, error) {
	faucet := b.faucet.PublicKey()
	balance, err := b.GetBalance(types.PubkeyFromSolana(faucet))
	if err != nil {
		return types.Signature{}, err
	}
	if balance < lamports {
		return types.Signature{}, fmt.Errorf("%w: %d < %d", ErrFaucetEmpty, balance, lamports)
	}

	ix := sysprog.NewTransferInstruction(lamports, faucet, to.Solana()).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		b.LatestBlockhash().Solana(),
		solana.TransactionPayer(faucet),
	)
	if err != nil {
		return types.Signature{}, fmt.Errorf("build airdrop: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(faucet) {
			return &b.faucet
		}
		return nil
	}); err != nil {
		return types.Signature{}, fmt.Errorf("sign airdrop: %w", err)
	}
	return b.SendTransaction(tx)
}

// Stats returns bank statistics.
func (b *Bank) Stats() BankStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, _ := b.accounts.AccountsCount()
	return BankStats{
		Slot:          b.slot,
		Blockhash:     b.blockhash,
		BankHash:      b.bankHash,
		AccountsCount: count,
	}
}

// BankStats contains bank statistics.
type BankStats struct {
	Slot          uint64
	Blockhash     types.Hash
	BankHash      types.Hash
	AccountsCount uint64
}

package replayer

import (
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
)

// genesisSeed seeds the blockhash chain of a fresh ledger.
const genesisSeed = "x1-airdrop genesis"

// BankHashInfo contains all components needed for bank hash computation.
type BankHashInfo struct {
	// ParentBankHash is the bank hash of the parent slot.
	ParentBankHash types.Hash

	// AccountsDeltaHash is the hash of accounts modified in this slot.
	AccountsDeltaHash types.Hash

	// SignatureCount is the number of signatures processed in the slot.
	SignatureCount uint64

	// LastBlockhash is the blockhash of this slot.
	LastBlockhash types.Hash
}

// ComputeBankHash computes the bank hash from its components:
//
//	blake3(parent_bank_hash || accounts_delta_hash || signature_count LE || last_blockhash)
func ComputeBankHash(info *BankHashInfo) types.Hash {
	var buf [32 + 32 + 8 + 32]byte
	copy(buf[0:32], info.ParentBankHash[:])
	copy(buf[32:64], info.AccountsDeltaHash[:])
	putUint64LE(buf[64:72], info.SignatureCount)
	copy(buf[72:], info.LastBlockhash[:])
	return blake3.Sum256(buf[:])
}

// GenesisBlockhash returns the blockhash of slot 0.
func GenesisBlockhash() types.Hash {
	return blake3.Sum256([]byte(genesisSeed))
}

// NextBlockhash chains the parent blockhash with the signature of the
// transaction that produced the slot.
func NextBlockhash(parent types.Hash, sig types.Signature) types.Hash {
	h := blake3.New()
	h.Write(parent[:])
	h.Write(sig[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SlotBankHashComputer accumulates the inputs of one slot's bank hash.
type SlotBankHashComputer struct {
	db             accounts.DB
	parentBankHash types.Hash
	modified       map[types.Pubkey]struct{}
	signatureCount uint64
	lastBlockhash  types.Hash
}

// NewSlotBankHashComputer creates a new slot bank hash computer.
func NewSlotBankHashComputer(db accounts.DB, parentBankHash types.Hash) *SlotBankHashComputer {
	return &SlotBankHashComputer{
		db:             db,
		parentBankHash: parentBankHash,
		modified:       make(map[types.Pubkey]struct{}),
	}
}

// AddModifiedAccount records an account modified in this slot.
func (c *SlotBankHashComputer) AddModifiedAccount(pubkey types.Pubkey) {
	c.modified[pubkey] = struct{}{}
}

// AddSignatureCount adds to the signature count.
func (c *SlotBankHashComputer) AddSignatureCount(count uint64) {
	c.signatureCount += count
}

// SetLastBlockhash sets the blockhash of the slot.
func (c *SlotBankHashComputer) SetLastBlockhash(blockhash types.Hash) {
	c.lastBlockhash = blockhash
}

// ModifiedAccounts returns the modified accounts in sorted order.
func (c *SlotBankHashComputer) ModifiedAccounts() []types.Pubkey {
	pubkeys := make([]types.Pubkey, 0, len(c.modified))
	for pk := range c.modified {
		pubkeys = append(pubkeys, pk)
	}
	accounts.SortPubkeys(pubkeys)
	return pubkeys
}

// Compute computes the bank hash from the current account state.
func (c *SlotBankHashComputer) Compute() (types.Hash, error) {
	delta, err := accounts.ComputeDeltaHash(c.db, c.ModifiedAccounts())
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeBankHash(&BankHashInfo{
		ParentBankHash:    c.parentBankHash,
		AccountsDeltaHash: delta,
		SignatureCount:    c.signatureCount,
		LastBlockhash:     c.lastBlockhash,
	}), nil
}

// VerifyBankHash reports whether info hashes to expected.
func VerifyBankHash(expected types.Hash, info *BankHashInfo) bool {
	return ComputeBankHash(info) == expected
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

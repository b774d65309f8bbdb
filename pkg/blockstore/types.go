package blockstore

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// Block is one slot of the local ledger. The airdrop ledger produces a block
// per processed transaction.
type Block struct {
	// Slot is the slot number.
	Slot uint64

	// ParentSlot is the parent slot number.
	ParentSlot uint64

	// Blockhash is the blockhash produced by this slot.
	Blockhash types.Hash

	// PreviousBlockhash is the parent's blockhash.
	PreviousBlockhash types.Hash

	// BankHash commits to the parent bank hash and the accounts changed in
	// this slot.
	BankHash types.Hash

	// BlockTime is the Unix timestamp of block production.
	BlockTime int64

	// Transactions contains all transactions in the block.
	Transactions []Transaction
}

// Transaction is an executed transaction and its outcome.
type Transaction struct {
	// Signature is the first signature.
	Signature types.Signature

	// Slot is the slot the transaction landed in.
	Slot uint64

	// BlockTime is the Unix timestamp of the block.
	BlockTime int64

	// AccountKeys lists the message account keys in order.
	AccountKeys []types.Pubkey

	// Raw is the wire-encoded transaction.
	Raw []byte

	// Meta contains the execution outcome.
	Meta TransactionMeta
}

// TransactionMeta contains the execution outcome of a transaction.
type TransactionMeta struct {
	// Err is empty on success.
	Err string

	// LogMessages contains the program logs.
	LogMessages []string

	// ComputeUnitsConsumed is the compute units used.
	ComputeUnitsConsumed uint64
}

// Succeeded reports whether the transaction executed without error.
func (t *Transaction) Succeeded() bool {
	return t.Meta.Err == ""
}

// SignatureInfo is the address index entry of a transaction.
type SignatureInfo struct {
	// Signature is the transaction signature.
	Signature types.Signature

	// Slot is the slot containing the transaction.
	Slot uint64

	// Err is empty on success.
	Err string

	// BlockTime is the Unix timestamp.
	BlockTime int64
}

// Batch journals one Distribute transaction sent by the client.
type Batch struct {
	// Distribution is the distribution record address.
	Distribution types.Pubkey

	// Slot is the slot the batch landed in. It orders the journal.
	Slot uint64

	// Skip is the index of the first recipient in the batch.
	Skip uint32

	// Count is the number of recipients in the batch.
	Count uint32

	// Signature is the Distribute transaction signature.
	Signature types.Signature

	// Err is empty when the batch was paid.
	Err string

	// BlockTime is the Unix timestamp.
	BlockTime int64
}

// Key encoding helpers.

// EncodeSlotKey encodes a slot number as a big-endian key for ordered iteration.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a big-endian slot key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSignatureKey encodes a signature as a key.
func EncodeSignatureKey(sig types.Signature) []byte {
	return sig[:]
}

// EncodeAddressSlotKey creates a composite key for address + slot indexing.
func EncodeAddressSlotKey(addr types.Pubkey, slot uint64) []byte {
	key := make([]byte, 40)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], slot)
	return key
}

// DecodeAddressSlotKey decodes an address + slot composite key.
func DecodeAddressSlotKey(key []byte) (types.Pubkey, uint64) {
	var addr types.Pubkey
	if len(key) < 40 {
		return addr, 0
	}
	copy(addr[:], key[:32])
	return addr, binary.BigEndian.Uint64(key[32:])
}

package accounts

import (
	"bytes"
	"errors"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// ComputeAccountHash hashes a single account:
// BLAKE3(lamports || rent_epoch || data || executable || owner || pubkey)
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	h := blake3.New()
	enc := bin.NewBinEncoder(h)

	// Hash writes never fail.
	_ = enc.WriteUint64(account.Lamports, bin.LE)
	_ = enc.WriteUint64(account.RentEpoch, bin.LE)
	_ = enc.WriteBytes(account.Data, false)
	_ = enc.WriteBool(account.Executable)
	_ = enc.WriteBytes(account.Owner[:], false)
	_ = enc.WriteBytes(pubkey[:], false)

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeAccountsHash returns the Merkle root over every stored account.
// Iterate yields accounts sorted by pubkey, so the root is deterministic.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash returns the Merkle root over the given accounts after
// they were committed. Deleted accounts contribute a zero hash.
func ComputeDeltaHash(db DB, modified []types.Pubkey) (types.Hash, error) {
	if len(modified) == 0 {
		return types.Hash{}, nil
	}

	sorted := make([]types.Pubkey, len(modified))
	copy(sorted, modified)
	SortPubkeys(sorted)

	hashes := make([]types.Hash, 0, len(sorted))
	for _, pubkey := range sorted {
		account, err := db.GetAccount(pubkey)
		if errors.Is(err, ErrAccountNotFound) {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes a binary Merkle root.
//
//   - Leaf: BLAKE3(0x00 || hash)
//   - Node: BLAKE3(0x01 || left || right)
//
// An odd node at any level is paired with the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(data types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	copy(buf[1:], data[:])
	return blake3.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return blake3.Sum256(buf[:])
}

// SortPubkeys sorts pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i][:], pubkeys[j][:]) < 0
	})
}

package accounts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

const snapshotVersion uint32 = 1

// headerSize is magic (4) + version (4) + slot (8) + count (8) + hash (32).
const headerSize = 4 + 4 + 8 + 8 + types.HashSize

// maxRecordSize bounds a single serialized account in a snapshot.
const maxRecordSize = MaxAccountDataSize + 64

var snapshotMagic = [4]byte{'X', '1', 'A', 'D'}

var (
	// ErrSnapshotNotFound is returned when the snapshot file does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot is returned for a malformed or unsupported file.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrSnapshotHashMismatch is returned when loaded state does not match
	// the accounts hash recorded in the header.
	ErrSnapshotHashMismatch = errors.New("snapshot accounts hash mismatch")
)

// SnapshotHeader describes a snapshot file.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

func (h *SnapshotHeader) encode() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteBytes(snapshotMagic[:], false)
	_ = enc.WriteUint32(h.Version, bin.LE)
	_ = enc.WriteUint64(h.Slot, bin.LE)
	_ = enc.WriteUint64(h.AccountsCount, bin.LE)
	_ = enc.WriteBytes(h.AccountsHash[:], false)
	return buf.Bytes()
}

func decodeHeader(raw []byte) (*SnapshotHeader, error) {
	dec := bin.NewBinDecoder(raw)
	magic, err := dec.ReadNBytes(len(snapshotMagic))
	if err != nil || !bytes.Equal(magic, snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}

	var h SnapshotHeader
	if h.Version, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, h.Version)
	}
	if h.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if h.AccountsCount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	hash, err := dec.ReadNBytes(types.HashSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	copy(h.AccountsHash[:], hash)
	return &h, nil
}

// CreateSnapshot writes every account in db to path.
//
// Format: an uncompressed header followed by a zstd stream of records,
// each pubkey (32) | size u32 | serialized account.
// The file is written to a temporary name and renamed into place.
func CreateSnapshot(db DB, path string) (*SnapshotHeader, error) {
	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute accounts hash: %w", err)
	}
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	header := &SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		AccountsHash:  hash,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	if err := writeSnapshot(file, db, header); err != nil {
		file.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename snapshot: %w", err)
	}
	return header, nil
}

func writeSnapshot(w io.Writer, db DB, header *SnapshotHeader) error {
	if _, err := w.Write(header.encode()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("init zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	enc := bin.NewBinEncoder(bw)

	var written uint64
	err = db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		if err := enc.WriteBytes(pubkey[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint32(uint32(len(data)), bin.LE); err != nil {
			return err
		}
		if err := enc.WriteBytes(data, false); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("write accounts: %w", err)
	}
	if written != header.AccountsCount {
		zw.Close()
		return fmt.Errorf("account count changed during snapshot: header %d, wrote %d", header.AccountsCount, written)
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadSnapshotHeader reads only the header of a snapshot file.
func ReadSnapshotHeader(path string) (*SnapshotHeader, error) {
	file, err := openSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(file, raw); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidSnapshot, err)
	}
	return decodeHeader(raw)
}

// LoadSnapshot restores the accounts in path into db, sets the slot and
// verifies the accounts hash. db is expected to be empty.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	file, err := openSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(file, raw); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidSnapshot, err)
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	const batchSize = 1000
	batch := make([]AccountEntry, 0, batchSize)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readRecord(r)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		batch = append(batch, AccountEntry{Pubkey: pubkey, Account: account})
		if len(batch) == batchSize {
			if err := db.Apply(batch); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := db.Apply(batch); err != nil {
			return nil, err
		}
	}

	if err := db.SetSlot(header.Slot); err != nil {
		return nil, err
	}
	if err := db.Commit(); err != nil {
		return nil, err
	}

	got, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, err
	}
	if got != header.AccountsHash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrSnapshotHashMismatch, header.AccountsHash, got)
	}
	return header, nil
}

func openSnapshotFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return file, nil
}

func readRecord(r io.Reader) (types.Pubkey, *Account, error) {
	var prefix [types.PubkeySize + 4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	dec := bin.NewBinDecoder(prefix[:])
	key, _ := dec.ReadNBytes(types.PubkeySize)
	pubkey, err := types.PubkeyFromBytes(key)
	if err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	size, _ := dec.ReadUint32(bin.LE)
	if size > maxRecordSize {
		return types.Pubkey{}, nil, fmt.Errorf("%w: record size %d", ErrInvalidSnapshot, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, err
	}
	return pubkey, account, nil
}

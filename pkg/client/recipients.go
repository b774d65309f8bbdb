package client

import (
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// DefaultChunkSize is how many recipients go into one Distribute transaction.
const DefaultChunkSize = 20

var (
	ErrSkipOutOfRange = errors.New("skip is past the end of the recipient list")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// ReadRecipients reads one base58 wallet address per line. Blank lines are
// skipped.
func ReadRecipients(path string) ([]types.Pubkey, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()

	var out []types.Pubkey
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		key, err := types.PubkeyFromBase58(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	return out, nil
}

// Chunk is one batch of recipients.
type Chunk struct {
	// Skip is the index of the first recipient; resuming from it repeats
	// this chunk.
	Skip int

	// First and Last are 1-based positions for display.
	First, Last int

	Recipients []types.Pubkey
}

// Chunks splits recipients[skip:] into batches of at most size.
func Chunks(recipients []types.Pubkey, skip, size int) ([]Chunk, error) {
	if skip < 0 || skip > len(recipients) {
		return nil, fmt.Errorf("%w: skip %d, %d recipients", ErrSkipOutOfRange, skip, len(recipients))
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []Chunk
	for start := skip; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, Chunk{
			Skip:       start,
			First:      start + 1,
			Last:       end,
			Recipients: recipients[start:end],
		})
	}
	return chunks, nil
}

// ParseAmount converts a decimal token amount into base units.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	n := r.Num()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return n.Uint64(), nil
}

// FormatAmount renders base units as a decimal token amount.
func FormatAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	q, r := new(big.Int).QuoRem(new(big.Int).SetUint64(amount), scale, new(big.Int))
	digits := r.String()
	frac := strings.TrimRight(strings.Repeat("0", int(decimals)-len(digits))+digits, "0")
	if frac == "" {
		return q.String()
	}
	return q.String() + "." + frac
}

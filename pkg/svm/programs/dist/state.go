package dist

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

// Record versions.
const (
	VersionUninitialized uint8 = 0
	Version1             uint8 = 1
)

// StateSize is the fixed size of a distribution record:
// version u8 | seed [32] | project [32] | bump u8 | authority [32] | token [32]
// | max u16 | num u16 | funded u64 | sent u16
const StateSize = 1 + 32 + 32 + 1 + 32 + 32 + 2 + 2 + 8 + 2

// Distribution is the on-chain distribution record.
type Distribution struct {
	Version        uint8
	Seed           PdaSeed
	Authority      types.Pubkey
	Token          types.Pubkey
	MaxRecipients  uint16
	NumRecipients  uint16
	FundedAmount   uint64
	SentRecipients uint16
}

// Init marks the record as version 1 and sets its immutable fields.
// Counters are left untouched.
func (d *Distribution) Init(seed PdaSeed, authority, token types.Pubkey, maxRecipients, numRecipients uint16) {
	d.Version = Version1
	d.Seed = seed
	d.Authority = authority
	d.Token = token
	d.MaxRecipients = maxRecipients
	d.NumRecipients = numRecipients
}

// IsInitialized reports whether the record has a non-zero version.
func (d *Distribution) IsInitialized() bool {
	return d.Version != VersionUninitialized
}

// HasStarted reports whether BeginDistribution has run.
func (d *Distribution) HasStarted() bool {
	return d.NumRecipients > 0
}

// RecipientShare is funded / num, truncating; zero before the distribution starts.
func (d *Distribution) RecipientShare() uint64 {
	if d.NumRecipients == 0 {
		return 0
	}
	return d.FundedAmount / uint64(d.NumRecipients)
}

// RecordFunded adds amount to the funded total.
func (d *Distribution) RecordFunded(amount uint64) error {
	if d.FundedAmount > ^uint64(0)-amount {
		return svm.ErrArithmeticOverflow
	}
	d.FundedAmount += amount
	return nil
}

// RecordSent counts one more paid recipient.
func (d *Distribution) RecordSent() error {
	if d.SentRecipients == ^uint16(0) {
		return svm.ErrArithmeticOverflow
	}
	d.SentRecipients++
	return nil
}

// Remaining returns how many more recipients the record can pay.
func (d *Distribution) Remaining() uint16 {
	if d.SentRecipients >= d.MaxRecipients {
		return 0
	}
	return d.MaxRecipients - d.SentRecipients
}

// UnpackAllowUninitialized decodes a record without requiring it to be
// initialized. A zero version yields the default record.
func UnpackAllowUninitialized(data []byte) (*Distribution, error) {
	if len(data) != StateSize {
		return nil, fmt.Errorf("%w: distribution length %d", svm.ErrInvalidAccountData, len(data))
	}

	switch data[0] {
	case VersionUninitialized:
		return &Distribution{}, nil
	case Version1:
	default:
		return nil, fmt.Errorf("%w: distribution version %d", svm.ErrInvalidAccountData, data[0])
	}

	dec := bin.NewBinDecoder(data)
	d := new(Distribution)
	var err error
	read := func(dst []byte) {
		if err != nil {
			return
		}
		var b []byte
		if b, err = dec.ReadNBytes(len(dst)); err == nil {
			copy(dst, b)
		}
	}

	d.Version, err = dec.ReadUint8()
	read(d.Seed.Seed[:])
	read(d.Seed.ProjectName[:])
	if err == nil {
		d.Seed.Bump, err = dec.ReadUint8()
	}
	read(d.Authority[:])
	read(d.Token[:])
	if err == nil {
		d.MaxRecipients, err = dec.ReadUint16(bin.LE)
	}
	if err == nil {
		d.NumRecipients, err = dec.ReadUint16(bin.LE)
	}
	if err == nil {
		d.FundedAmount, err = dec.ReadUint64(bin.LE)
	}
	if err == nil {
		d.SentRecipients, err = dec.ReadUint16(bin.LE)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", svm.ErrInvalidAccountData, err)
	}
	return d, nil
}

// Unpack decodes an initialized record.
func Unpack(data []byte) (*Distribution, error) {
	d, err := UnpackAllowUninitialized(data)
	if err != nil {
		return nil, err
	}
	if !d.IsInitialized() {
		return nil, svm.ErrUninitializedAccount
	}
	return d, nil
}

// Pack writes the full fixed layout into dst, which must be StateSize long.
func (d *Distribution) Pack(dst []byte) error {
	if len(dst) != StateSize {
		return fmt.Errorf("%w: distribution length %d", svm.ErrInvalidAccountData, len(dst))
	}
	copy(dst, d.Bytes())
	return nil
}

// Bytes returns the packed record.
func (d *Distribution) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(StateSize)
	enc := bin.NewBinEncoder(buf)

	_ = enc.WriteUint8(d.Version)
	_ = enc.WriteBytes(d.Seed.Seed[:], false)
	_ = enc.WriteBytes(d.Seed.ProjectName[:], false)
	_ = enc.WriteUint8(d.Seed.Bump)
	_ = enc.WriteBytes(d.Authority[:], false)
	_ = enc.WriteBytes(d.Token[:], false)
	_ = enc.WriteUint16(d.MaxRecipients, bin.LE)
	_ = enc.WriteUint16(d.NumRecipients, bin.LE)
	_ = enc.WriteUint64(d.FundedAmount, bin.LE)
	_ = enc.WriteUint16(d.SentRecipients, bin.LE)
	return buf.Bytes()
}

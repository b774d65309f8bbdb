package dist

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// InstructionType is the leading tag byte of every instruction.
type InstructionType uint8

const (
	InstructionInitializeDistribution InstructionType = iota
	InstructionFundDistribution
	InstructionSetDistAuthority
	InstructionBeginDistribution
	InstructionDistribute
)

func (t InstructionType) String() string {
	switch t {
	case InstructionInitializeDistribution:
		return "InitializeDistribution"
	case InstructionFundDistribution:
		return "FundDistribution"
	case InstructionSetDistAuthority:
		return "SetDistAuthority"
	case InstructionBeginDistribution:
		return "BeginDistribution"
	case InstructionDistribute:
		return "Distribute"
	default:
		return "Unknown"
	}
}

// Instruction is one of the five distribution instructions.
type Instruction interface {
	Type() InstructionType
	encode(enc *bin.Encoder)
}

// InitializeDistribution creates the distribution record at the address
// derived from Seed, ProjectName and Bump.
//
// Accounts:
//  0. [writable, signer] fee payer
//  1. [] system program
//  2. [] token program
//  3. [] token mint
//  4. [writable] distribution account
type InitializeDistribution struct {
	Seed          [32]byte
	ProjectName   [32]byte
	Bump          uint8
	MaxRecipients uint16
	Authority     types.Pubkey
}

// FundDistribution moves Amount tokens from the source token account into
// the distribution's token account.
//
// Accounts:
//  0. [signer] source wallet
//  1. [writable] source token account
//  2. [writable] distribution account
//  3. [writable] distribution token account
//  4. [] token program
type FundDistribution struct {
	Amount uint64
}

// SetDistAuthority replaces the distribution authority.
//
// Accounts:
//  0. [writable] distribution account
//  1. [signer] current authority
type SetDistAuthority struct {
	NewAuthority types.Pubkey
}

// BeginDistribution fixes the recipient count. It may succeed only once.
//
// Accounts:
//  0. [writable] distribution account
//  1. [signer] authority
type BeginDistribution struct {
	NumRecipients uint16
}

// Distribute pays one share to every recipient token account passed.
//
// Accounts:
//  0. [writable] distribution account
//  1. [signer] authority
//  2. [] token program
//  3. [writable] distribution token account
//  4. ..N [writable] recipient token accounts
type Distribute struct{}

func (*InitializeDistribution) Type() InstructionType { return InstructionInitializeDistribution }
func (*FundDistribution) Type() InstructionType       { return InstructionFundDistribution }
func (*SetDistAuthority) Type() InstructionType       { return InstructionSetDistAuthority }
func (*BeginDistribution) Type() InstructionType      { return InstructionBeginDistribution }
func (*Distribute) Type() InstructionType             { return InstructionDistribute }

// Writes into a bytes.Buffer cannot fail, so encode ignores errors.

func (ix *InitializeDistribution) encode(enc *bin.Encoder) {
	_ = enc.WriteBytes(ix.Seed[:], false)
	_ = enc.WriteBytes(ix.ProjectName[:], false)
	_ = enc.WriteUint8(ix.Bump)
	_ = enc.WriteUint16(ix.MaxRecipients, bin.LE)
	_ = enc.WriteBytes(ix.Authority[:], false)
}

func (ix *FundDistribution) encode(enc *bin.Encoder) {
	_ = enc.WriteUint64(ix.Amount, bin.LE)
}

func (ix *SetDistAuthority) encode(enc *bin.Encoder) {
	_ = enc.WriteBytes(ix.NewAuthority[:], false)
}

func (ix *BeginDistribution) encode(enc *bin.Encoder) {
	_ = enc.WriteUint16(ix.NumRecipients, bin.LE)
}

func (ix *Distribute) encode(*bin.Encoder) {}

// EncodeInstruction serializes ix: tag byte, then fields in declared order.
func EncodeInstruction(ix Instruction) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(uint8(ix.Type()))
	ix.encode(enc)
	return buf.Bytes()
}

// DecodeInstruction parses instruction data. Trailing bytes are ignored.
// An unknown tag or short buffer yields ErrInvalidInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, ErrInvalidInstruction
	}

	switch InstructionType(tag) {
	case InstructionInitializeDistribution:
		ix := new(InitializeDistribution)
		if err := readBytes(dec, ix.Seed[:]); err != nil {
			return nil, err
		}
		if err := readBytes(dec, ix.ProjectName[:]); err != nil {
			return nil, err
		}
		if ix.Bump, err = dec.ReadUint8(); err != nil {
			return nil, ErrInvalidInstruction
		}
		if ix.MaxRecipients, err = dec.ReadUint16(bin.LE); err != nil {
			return nil, ErrInvalidInstruction
		}
		if err := readBytes(dec, ix.Authority[:]); err != nil {
			return nil, err
		}
		return ix, nil

	case InstructionFundDistribution:
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, ErrInvalidInstruction
		}
		return &FundDistribution{Amount: amount}, nil

	case InstructionSetDistAuthority:
		ix := new(SetDistAuthority)
		if err := readBytes(dec, ix.NewAuthority[:]); err != nil {
			return nil, err
		}
		return ix, nil

	case InstructionBeginDistribution:
		num, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return nil, ErrInvalidInstruction
		}
		return &BeginDistribution{NumRecipients: num}, nil

	case InstructionDistribute:
		return &Distribute{}, nil

	default:
		return nil, ErrInvalidInstruction
	}
}

func readBytes(dec *bin.Decoder, dst []byte) error {
	b, err := dec.ReadNBytes(len(dst))
	if err != nil {
		return ErrInvalidInstruction
	}
	copy(dst, b)
	return nil
}

// NewInitializeDistributionInstruction builds an InitializeDistribution instruction.
func NewInitializeDistributionInstruction(
	programID, feePayer, mint, distAccount types.Pubkey,
	seed, projectName [32]byte,
	bump uint8,
	maxRecipients uint16,
	authority types.Pubkey,
) *solana.GenericInstruction {
	data := EncodeInstruction(&InitializeDistribution{
		Seed:          seed,
		ProjectName:   projectName,
		Bump:          bump,
		MaxRecipients: maxRecipients,
		Authority:     authority,
	})
	accounts := solana.AccountMetaSlice{
		solana.Meta(feePayer.Solana()).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(mint.Solana()),
		solana.Meta(distAccount.Solana()).WRITE(),
	}
	return solana.NewInstruction(programID.Solana(), accounts, data)
}

// NewFundDistributionInstruction builds a FundDistribution instruction.
func NewFundDistributionInstruction(
	programID, source, sourceToken, distAccount, distToken types.Pubkey,
	amount uint64,
) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(source.Solana()).SIGNER(),
		solana.Meta(sourceToken.Solana()).WRITE(),
		solana.Meta(distAccount.Solana()).WRITE(),
		solana.Meta(distToken.Solana()).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(programID.Solana(), accounts, EncodeInstruction(&FundDistribution{Amount: amount}))
}

// NewSetDistAuthorityInstruction builds a SetDistAuthority instruction.
func NewSetDistAuthorityInstruction(programID, distAccount, authority, newAuthority types.Pubkey) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(distAccount.Solana()).WRITE(),
		solana.Meta(authority.Solana()).SIGNER(),
	}
	return solana.NewInstruction(programID.Solana(), accounts, EncodeInstruction(&SetDistAuthority{NewAuthority: newAuthority}))
}

// NewBeginDistributionInstruction builds a BeginDistribution instruction.
func NewBeginDistributionInstruction(programID, distAccount, authority types.Pubkey, numRecipients uint16) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(distAccount.Solana()).WRITE(),
		solana.Meta(authority.Solana()).SIGNER(),
	}
	return solana.NewInstruction(programID.Solana(), accounts, EncodeInstruction(&BeginDistribution{NumRecipients: numRecipients}))
}

// NewDistributeInstruction builds a Distribute instruction paying every
// recipient token account in order.
func NewDistributeInstruction(programID, distAccount, authority, distToken types.Pubkey, recipients []types.Pubkey) *solana.GenericInstruction {
	accounts := make(solana.AccountMetaSlice, 0, 4+len(recipients))
	accounts = append(accounts,
		solana.Meta(distAccount.Solana()).WRITE(),
		solana.Meta(authority.Solana()).SIGNER(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(distToken.Solana()).WRITE(),
	)
	for _, r := range recipients {
		accounts = append(accounts, solana.Meta(r.Solana()).WRITE())
	}
	return solana.NewInstruction(programID.Solana(), accounts, EncodeInstruction(&Distribute{}))
}

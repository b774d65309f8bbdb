// Package token implements the SPL Token instructions used by the airdrop
// ledger: mint and account initialization, minting and transfers.
//
// Account and mint layouts are those of solana-go's programs/token package,
// so state written here is byte-compatible with the on-chain program.
package token

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

// ProgramID is the SPL Token program address.
var ProgramID = types.TokenProgramAddr

// Layout sizes.
const (
	AccountSize = 165
	MintSize    = 82
)

// UnpackAccount decodes a token account. Uninitialized accounts are
// rejected with ErrUninitializedState.
func UnpackAccount(data []byte) (*tokenprog.Account, error) {
	acc, err := unpackAccountUnchecked(data)
	if err != nil {
		return nil, err
	}
	if acc.State == tokenprog.Uninitialized {
		return nil, ErrUninitializedState
	}
	return acc, nil
}

func unpackAccountUnchecked(data []byte) (*tokenprog.Account, error) {
	if len(data) != AccountSize {
		return nil, fmt.Errorf("%w: token account length %d", svm.ErrInvalidAccountData, len(data))
	}
	var acc tokenprog.Account
	if err := acc.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", svm.ErrInvalidAccountData, err)
	}
	return &acc, nil
}

// PackAccount encodes a token account into dst, which must be AccountSize long.
func PackAccount(acc *tokenprog.Account, dst []byte) error {
	return pack(acc.MarshalWithEncoder, dst, AccountSize)
}

// UnpackMint decodes an initialized mint.
func UnpackMint(data []byte) (*tokenprog.Mint, error) {
	mint, err := unpackMintUnchecked(data)
	if err != nil {
		return nil, err
	}
	if !mint.IsInitialized {
		return nil, ErrUninitializedState
	}
	return mint, nil
}

func unpackMintUnchecked(data []byte) (*tokenprog.Mint, error) {
	if len(data) != MintSize {
		return nil, fmt.Errorf("%w: mint length %d", svm.ErrInvalidAccountData, len(data))
	}
	var mint tokenprog.Mint
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", svm.ErrInvalidAccountData, err)
	}
	return &mint, nil
}

// PackMint encodes a mint into dst, which must be MintSize long.
func PackMint(mint *tokenprog.Mint, dst []byte) error {
	return pack(mint.MarshalWithEncoder, dst, MintSize)
}

func pack(marshal func(*bin.Encoder) error, dst []byte, size int) error {
	if len(dst) != size {
		return fmt.Errorf("%w: length %d, want %d", svm.ErrInvalidAccountData, len(dst), size)
	}
	buf := new(bytes.Buffer)
	if err := marshal(bin.NewBinEncoder(buf)); err != nil {
		return err
	}
	if buf.Len() > size {
		return fmt.Errorf("%w: encoded %d bytes into %d", svm.ErrInvalidAccountData, buf.Len(), size)
	}
	n := copy(dst, buf.Bytes())
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// Processor executes SPL Token instructions.
type Processor struct{}

// NewProcessor creates a new token processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a token instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUTokenProgramDefault); err != nil {
		return err
	}

	metas := make([]*solana.AccountMeta, ctx.AccountCount())
	for i := range metas {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return err
		}
		metas[i] = &solana.AccountMeta{PublicKey: info.Key.Solana(), IsSigner: info.IsSigner, IsWritable: info.IsWritable}
	}

	inst, err := tokenprog.DecodeInstruction(metas, data)
	if err != nil {
		return ErrInvalidInstruction
	}

	switch ix := inst.Impl.(type) {
	case *tokenprog.InitializeMint2:
		ctx.Log("Instruction: InitializeMint2")
		return p.processInitializeMint(ctx, *ix.Decimals, ix.MintAuthority, ix.FreezeAuthority)
	case *tokenprog.InitializeAccount3:
		ctx.Log("Instruction: InitializeAccount3")
		return p.processInitializeAccount(ctx, types.PubkeyFromSolana(*ix.Owner))
	case *tokenprog.MintTo:
		ctx.Log("Instruction: MintTo")
		return p.processMintTo(ctx, *ix.Amount)
	case *tokenprog.Transfer:
		ctx.Log("Instruction: Transfer")
		return p.processTransfer(ctx, *ix.Amount)
	default:
		return ErrInvalidInstruction
	}
}

func tokenOwned(info *svm.AccountInfo) error {
	if info.Owner != ProgramID {
		return fmt.Errorf("%w: %s is not a token account", svm.ErrIncorrectProgramID, info.Key)
	}
	return nil
}

func (p *Processor) processInitializeMint(ctx svm.InvokeContext, decimals uint8, mintAuthority, freezeAuthority *solana.PublicKey) error {
	mintInfo, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	if err := tokenOwned(mintInfo); err != nil {
		return err
	}
	mint, err := unpackMintUnchecked(mintInfo.Data)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrAlreadyInUse
	}
	if mintInfo.Lamports < ctx.GetRentMinimum(uint64(len(mintInfo.Data))) {
		return ErrNotRentExempt
	}
	if mintAuthority == nil {
		return ErrInvalidInstruction
	}

	authority := *mintAuthority
	mint.MintAuthority = &authority
	mint.Decimals = decimals
	mint.IsInitialized = true
	if freezeAuthority != nil {
		freeze := *freezeAuthority
		mint.FreezeAuthority = &freeze
	}
	return PackMint(mint, mintInfo.Data)
}

func (p *Processor) processInitializeAccount(ctx svm.InvokeContext, owner types.Pubkey) error {
	accInfo, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	mintInfo, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}
	if err := tokenOwned(accInfo); err != nil {
		return err
	}

	acc, err := unpackAccountUnchecked(accInfo.Data)
	if err != nil {
		return err
	}
	if acc.State != tokenprog.Uninitialized {
		return ErrAlreadyInUse
	}
	if accInfo.Lamports < ctx.GetRentMinimum(uint64(len(accInfo.Data))) {
		return ErrNotRentExempt
	}
	if mintInfo.Owner != ProgramID {
		return ErrInvalidMint
	}
	if _, err := UnpackMint(mintInfo.Data); err != nil {
		return ErrInvalidMint
	}

	*acc = tokenprog.Account{
		Mint:  mintInfo.Key.Solana(),
		Owner: owner.Solana(),
		State: tokenprog.Initialized,
	}
	return PackAccount(acc, accInfo.Data)
}

func (p *Processor) processMintTo(ctx svm.InvokeContext, amount uint64) error {
	mintInfo, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	destInfo, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return err
	}
	if err := tokenOwned(mintInfo); err != nil {
		return err
	}
	if err := tokenOwned(destInfo); err != nil {
		return err
	}

	dest, err := UnpackAccount(destInfo.Data)
	if err != nil {
		return err
	}
	if dest.State == tokenprog.Frozen {
		return ErrAccountFrozen
	}
	if types.PubkeyFromSolana(dest.Mint) != mintInfo.Key {
		return ErrMintMismatch
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if err := validateOwner(types.PubkeyFromSolana(*mint.MintAuthority), authInfo); err != nil {
		return err
	}

	if dest.Amount > ^uint64(0)-amount || mint.Supply > ^uint64(0)-amount {
		return ErrOverflow
	}
	dest.Amount += amount
	mint.Supply += amount

	if err := PackAccount(dest, destInfo.Data); err != nil {
		return err
	}
	return PackMint(mint, mintInfo.Data)
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, amount uint64) error {
	srcInfo, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	dstInfo, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return err
	}
	if err := tokenOwned(srcInfo); err != nil {
		return err
	}
	if err := tokenOwned(dstInfo); err != nil {
		return err
	}

	src, err := UnpackAccount(srcInfo.Data)
	if err != nil {
		return err
	}
	dst, err := UnpackAccount(dstInfo.Data)
	if err != nil {
		return err
	}
	if src.State == tokenprog.Frozen || dst.State == tokenprog.Frozen {
		return ErrAccountFrozen
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if err := validateOwner(types.PubkeyFromSolana(src.Owner), authInfo); err != nil {
		return err
	}

	if srcInfo.Key == dstInfo.Key {
		return nil
	}
	if dst.Amount > ^uint64(0)-amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount

	if err := PackAccount(src, srcInfo.Data); err != nil {
		return err
	}
	return PackAccount(dst, dstInfo.Data)
}

func validateOwner(expected types.Pubkey, authority *svm.AccountInfo) error {
	if expected != authority.Key {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	return nil
}

var _ svm.Program = (*Processor)(nil)

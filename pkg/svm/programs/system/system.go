// Package system implements the subset of the System Program the airdrop
// ledger needs:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
package system

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	sysprog "github.com/gagliardetto/solana-go/programs/system"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

var (
	ErrInvalidAccountOwner = errors.New("invalid account owner")
	ErrAccountDataTooLarge = errors.New("account data too large")
	ErrAccountNotWritable  = errors.New("account not writable")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
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

	inst, err := sysprog.DecodeInstruction(metas, data)
	if err != nil {
		return fmt.Errorf("%w: %v", svm.ErrInvalidInstructionData, err)
	}

	switch ix := inst.Impl.(type) {
	case *sysprog.CreateAccount:
		return p.processCreateAccount(ctx, *ix.Lamports, *ix.Space, types.PubkeyFromSolana(*ix.Owner))
	case *sysprog.Assign:
		return p.processAssign(ctx, types.PubkeyFromSolana(*ix.Owner))
	case *sysprog.Transfer:
		return p.processTransfer(ctx, *ix.Lamports)
	case *sysprog.Allocate:
		return p.processAllocate(ctx, *ix.Space)
	default:
		return fmt.Errorf("%w: unsupported system instruction %T", svm.ErrInvalidInstructionData, ix)
	}
}

func accountPair(ctx svm.InvokeContext) (*svm.AccountInfo, *svm.AccountInfo, error) {
	first, err := ctx.GetAccount(0)
	if err != nil {
		return nil, nil, err
	}
	second, err := ctx.GetAccount(1)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

func (p *Processor) processCreateAccount(ctx svm.InvokeContext, lamports, space uint64, owner types.Pubkey) error {
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	// [0] = funding account, [1] = new account
	funder, newAccount, err := accountPair(ctx)
	if err != nil {
		return err
	}
	if !funder.IsSigner || !newAccount.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	// The new account must be empty and owned by the system program.
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		ctx.Log(fmt.Sprintf("Create Account: account %s already in use", newAccount.Key))
		return svm.ErrAccountAlreadyInUse
	}
	if funder.Lamports < lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", funder.Lamports, lamports))
		return svm.ErrInsufficientFunds
	}
	if lamports < ctx.GetRentMinimum(space) {
		return svm.ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner
	return nil
}

func (p *Processor) processAssign(ctx svm.InvokeContext, owner types.Pubkey) error {
	account, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	if account.Owner == owner {
		return nil
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	account.Owner = owner
	return nil
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, lamports uint64) error {
	from, to, err := accountPair(ctx)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if len(from.Data) > 0 {
		return fmt.Errorf("%w: transfer from account with data", svm.ErrInvalidArgument)
	}
	if from.Lamports < lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports))
		return svm.ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return svm.ErrArithmeticOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

func (p *Processor) processAllocate(ctx svm.InvokeContext, space uint64) error {
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	account, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID || len(account.Data) > 0 {
		return svm.ErrAccountAlreadyInUse
	}
	account.Data = make([]byte, space)
	return nil
}

var _ svm.Program = (*Processor)(nil)

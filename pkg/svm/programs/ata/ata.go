// Package ata implements the Associated Token Account program.
package ata

import (
	"errors"
	"fmt"

	sysprog "github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/syscall"
)

// ProgramID is the Associated Token Account program address.
var ProgramID = types.AssociatedTokenProgramAddr

// Instruction discriminants. An empty payload is Create.
const (
	InstructionCreate uint8 = iota
	InstructionCreateIdempotent
)

// ErrInvalidOwner is returned when an existing associated account belongs
// to another wallet or mint.
var ErrInvalidOwner = errors.New("associated token account owner does not match")

// FindAddress derives the associated token account of wallet for mint.
func FindAddress(wallet, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return syscall.FindProgramAddress(
		[][]byte{wallet[:], types.TokenProgramAddr[:], mint[:]},
		ProgramID,
	)
}

// Processor executes Associated Token Account instructions.
type Processor struct{}

// NewProcessor creates a new processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process creates the associated token account.
//
// Accounts:
//  0. [writable, signer] payer
//  1. [writable] associated token account
//  2. [] wallet
//  3. [] mint
//  4. [] system program
//  5. [] token program
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	idempotent := false
	if len(data) > 0 {
		switch data[0] {
		case InstructionCreate:
		case InstructionCreateIdempotent:
			idempotent = true
		default:
			return svm.ErrInvalidInstructionData
		}
	}
	if err := ctx.ConsumeCU(svm.CUAssociatedTokenDefault); err != nil {
		return err
	}

	infos := make([]*svm.AccountInfo, 6)
	for i := range infos {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return err
		}
		infos[i] = info
	}
	payer, assoc, wallet, mint, tokenProgram := infos[0], infos[1], infos[2], infos[3], infos[5]

	if tokenProgram.Key != types.TokenProgramAddr {
		return svm.ErrIncorrectProgramID
	}
	addr, bump, err := FindAddress(wallet.Key, mint.Key)
	if err != nil {
		return err
	}
	if addr != assoc.Key {
		ctx.Log("Error: Associated address does not match seed derivation")
		return svm.ErrInvalidSeeds
	}

	if idempotent && assoc.Owner == token.ProgramID {
		acc, err := token.UnpackAccount(assoc.Data)
		if err != nil {
			return err
		}
		if types.PubkeyFromSolana(acc.Owner) != wallet.Key || types.PubkeyFromSolana(acc.Mint) != mint.Key {
			return ErrInvalidOwner
		}
		return nil
	}

	ctx.Log("Create")
	create := sysprog.NewCreateAccountInstruction(
		ctx.GetRentMinimum(token.AccountSize),
		token.AccountSize,
		types.TokenProgramAddr.Solana(),
		payer.Key.Solana(),
		assoc.Key.Solana(),
	).Build()
	seeds := [][]byte{wallet.Key[:], types.TokenProgramAddr[:], mint.Key[:], {bump}}
	if err := ctx.Invoke(create, seeds); err != nil {
		return fmt.Errorf("create associated account: %w", err)
	}

	ctx.Log("Initialize the associated token account")
	initialize := tokenprog.NewInitializeAccount3Instruction(
		wallet.Key.Solana(),
		assoc.Key.Solana(),
		mint.Key.Solana(),
	).Build()
	return ctx.Invoke(initialize)
}

var _ svm.Program = (*Processor)(nil)

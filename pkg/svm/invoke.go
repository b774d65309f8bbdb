package svm

import (
	"github.com/gagliardetto/solana-go"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
)

// Rent parameters. Every account on the ledger must be rent exempt.
const (
	AccountStorageOverhead = uint64(128)
	LamportsPerByteYear    = uint64(3480)
	ExemptionThreshold     = uint64(2)
)

// RentMinimum returns the rent-exempt balance for an account holding
// dataLen bytes.
func RentMinimum(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * LamportsPerByteYear * ExemptionThreshold
}

// AccountInfo is a program's view of one instruction account.
//
// The embedded *accounts.Account is shared by every frame of the invoke
// stack, so changes made by a callee are visible to its caller.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool

	*accounts.Account
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// AccountCount returns the number of instruction accounts.
	AccountCount() int

	// GetAccount returns the account at the given index.
	// Returns ErrNotEnoughAccountKeys when index is out of range.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// Invoke performs a cross-program invocation. signerSeeds lists the
	// seed sets of program derived addresses the caller signs for.
	Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(units uint64) error

	// Log records a log message.
	Log(msg string)
}

// Program is a native program.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process calls f(ctx, data).
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// Package svm defines the native program runtime used by the airdrop ledger.
//
// Programs are plain Go values implementing Program. The transaction
// executor in pkg/replayer hands each instruction an InvokeContext through
// which the program reads and mutates its accounts, performs cross-program
// invocations and emits log lines.
//
// The error values below mirror the builtin program errors of the Solana
// runtime. Programs with their own error enums return values implementing
// CustomError.
package svm

import (
	"errors"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// Builtin program errors.
var (
	ErrInvalidArgument             = errors.New("invalid argument")
	ErrInvalidInstructionData      = errors.New("invalid instruction data")
	ErrInvalidAccountData          = errors.New("invalid account data")
	ErrAccountDataTooSmall         = errors.New("account data too small")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrIncorrectProgramID          = errors.New("incorrect program id")
	ErrMissingRequiredSignature    = errors.New("missing required signature")
	ErrAccountAlreadyInitialized   = errors.New("account already initialized")
	ErrUninitializedAccount        = errors.New("uninitialized account")
	ErrNotEnoughAccountKeys        = errors.New("not enough account keys")
	ErrAccountBorrowFailed         = errors.New("account borrow failed")
	ErrInvalidSeeds                = errors.New("invalid seeds")
	ErrArithmeticOverflow          = errors.New("arithmetic overflow")
	ErrAccountAlreadyInUse         = errors.New("account already in use")
	ErrAccountNotRentExempt        = errors.New("account not rent exempt")
	ErrProgramFailedToComplete     = errors.New("program failed to complete")
	ErrUnsupportedProgramID        = errors.New("unsupported program id")
	ErrPrivilegeEscalation         = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrReadonlyDataModified        = errors.New("instruction modified data of a read-only account")
	ErrReadonlyLamportChange       = errors.New("instruction changed the balance of a read-only account")
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend        = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID           = errors.New("instruction modified the program id of an account")
	ErrUnbalancedInstruction       = errors.New("sum of account balances before and after instruction do not match")
	ErrCallDepth                   = errors.New("cross-program invocation call depth too deep")
)

// CustomError is implemented by program-specific error enums.
// The code is what a client sees as Custom(n).
type CustomError interface {
	error
	Code() uint32
}

// CustomErrorCode extracts the custom code from err, if any.
func CustomErrorCode(err error) (uint32, bool) {
	var ce CustomError
	if errors.As(err, &ce) {
		return ce.Code(), true
	}
	return 0, false
}

// ExecutionResult contains the result of transaction execution.
type ExecutionResult struct {
	// Signature is the first transaction signature.
	Signature types.Signature

	// Success indicates whether the transaction succeeded.
	Success bool

	// Err is the failure cause, nil on success.
	Err error

	// Logs contains program log messages.
	Logs []string

	// ComputeUnitsConsumed is the number of compute units used.
	ComputeUnitsConsumed uint64

	// Modified lists the accounts written on success.
	Modified []types.Pubkey
}

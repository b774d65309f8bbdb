package token

import "fmt"

// Error is an SPL Token program error. Values match the on-chain codes.
type Error uint32

const (
	ErrNotRentExempt Error = iota
	ErrInsufficientFunds
	ErrInvalidMint
	ErrMintMismatch
	ErrOwnerMismatch
	ErrFixedSupply
	ErrAlreadyInUse
	ErrInvalidNumberOfProvidedSigners
	ErrInvalidNumberOfRequiredSigners
	ErrUninitializedState
	ErrNativeNotSupported
	ErrNonNativeHasBalance
	ErrInvalidInstruction
	ErrInvalidState
	ErrOverflow
	ErrAuthorityTypeNotSupported
	ErrMintCannotFreeze
	ErrAccountFrozen
	ErrMintDecimalsMismatch
	ErrNonNativeNotSupported
)

var errorText = map[Error]string{
	ErrNotRentExempt:                  "lamport balance below rent-exempt threshold",
	ErrInsufficientFunds:              "insufficient funds",
	ErrInvalidMint:                    "invalid mint",
	ErrMintMismatch:                   "account not associated with this mint",
	ErrOwnerMismatch:                  "owner does not match",
	ErrFixedSupply:                    "fixed supply",
	ErrAlreadyInUse:                   "already in use",
	ErrInvalidNumberOfProvidedSigners: "invalid number of provided signers",
	ErrInvalidNumberOfRequiredSigners: "invalid number of required signers",
	ErrUninitializedState:             "state is uninitialized",
	ErrNativeNotSupported:             "instruction does not support native tokens",
	ErrNonNativeHasBalance:            "non-native account can only be closed if its balance is zero",
	ErrInvalidInstruction:             "invalid instruction",
	ErrInvalidState:                   "state is invalid for requested operation",
	ErrOverflow:                       "operation overflowed",
	ErrAuthorityTypeNotSupported:      "account does not support specified authority type",
	ErrMintCannotFreeze:               "this token mint cannot freeze accounts",
	ErrAccountFrozen:                  "account is frozen",
	ErrMintDecimalsMismatch:           "the provided decimals value different from the mint decimals",
	ErrNonNativeNotSupported:          "instruction does not support non-native tokens",
}

func (e Error) Error() string {
	if s, ok := errorText[e]; ok {
		return "token: " + s
	}
	return fmt.Sprintf("token: error %d", uint32(e))
}

// Code returns the custom program error code.
func (e Error) Code() uint32 {
	return uint32(e)
}

package dist

import "fmt"

// Error is a distribution program error, surfaced to clients as Custom(code).
type Error uint32

const (
	// ErrInvalidInstruction is returned for an unknown tag or short buffer.
	ErrInvalidInstruction Error = iota
	// ErrAlreadyInitialized is reserved; a second Initialize fails with
	// svm.ErrAccountAlreadyInitialized.
	ErrAlreadyInitialized
	// ErrDistributionAlreadyStarted is returned by a second BeginDistribution.
	ErrDistributionAlreadyStarted
	// ErrTokenInitializeAccountFailed is reserved for token account setup failures.
	ErrTokenInitializeAccountFailed
	// ErrTokenTransferFailed is reserved for token transfer failures.
	ErrTokenTransferFailed
	// ErrUnauthorizedDistAuthority is returned when the signer is not the stored authority.
	ErrUnauthorizedDistAuthority
	// ErrTokenAccountOwnerMismatch is reserved for token account owner mismatches.
	ErrTokenAccountOwnerMismatch
	// ErrTooManyRecipients is returned once sent_recipients reaches max_recipients.
	ErrTooManyRecipients
)

var errorText = [...]string{
	ErrInvalidInstruction:           "invalid instruction",
	ErrAlreadyInitialized:           "distribution already initialized",
	ErrDistributionAlreadyStarted:   "distribution already started",
	ErrTokenInitializeAccountFailed: "token initialize account failed",
	ErrTokenTransferFailed:          "token transfer failed",
	ErrUnauthorizedDistAuthority:    "unauthorized distribution authority",
	ErrTokenAccountOwnerMismatch:    "token account owner mismatch",
	ErrTooManyRecipients:            "too many recipients",
}

func (e Error) Error() string {
	if int(e) < len(errorText) {
		return "dist: " + errorText[e]
	}
	return fmt.Sprintf("dist: error %d", uint32(e))
}

// Code returns the custom program error code.
func (e Error) Code() uint32 {
	return uint32(e)
}

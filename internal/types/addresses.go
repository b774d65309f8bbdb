package types

// Native and SPL program addresses.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr is the SPL Token Program address.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramAddr is the Associated Token Account Program address.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbd2WTrLtNMzLqG1n3QwF4y5Bsp5Rz1d6vPd")

	// NativeLoaderAddr owns the builtin program accounts.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// AirdropProgramAddr is the default address of the distribution program.
	AirdropProgramAddr = MustPubkeyFromBase58("JAC1e5fURM1BQVZeVd8zKBDa8jWozVyfVRX5VRDx1Zet")
)

// Sysvar addresses.
var (
	// SysvarRentAddr is the Rent sysvar.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// SysvarClockAddr is the Clock sysvar.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")
)

// IsBuiltinProgram reports whether addr is one of the programs the local
// runtime executes natively.
func IsBuiltinProgram(addr Pubkey) bool {
	switch addr {
	case SystemProgramAddr, TokenProgramAddr, AssociatedTokenProgramAddr:
		return true
	}
	return false
}

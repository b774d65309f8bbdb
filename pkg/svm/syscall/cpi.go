package syscall

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

// CPI limits.
const (
	MaxCPIInstructionSize = 10 * 1024
	MaxCPIAccountInfos    = 128
	MaxCPISignerSeeds     = 16
)

// CPI errors.
var (
	ErrCPIDataTooLarge       = errors.New("CPI instruction data too large")
	ErrCPITooManyAccounts    = errors.New("too many accounts in CPI")
	ErrCPITooManySignerSeeds = errors.New("too many signer seeds")
	ErrCPIAccountMissing     = errors.New("CPI account not passed to caller")
)

// Privileges is how the calling frame sees one of its accounts.
type Privileges struct {
	IsSigner   bool
	IsWritable bool
}

// CPIInstruction is a decoded cross-program instruction.
type CPIInstruction struct {
	ProgramID types.Pubkey
	Accounts  []*solana.AccountMeta
	Data      []byte
}

// TranslateInstruction reads a solana-go instruction and enforces size limits.
func TranslateInstruction(ix solana.Instruction) (*CPIInstruction, error) {
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", svm.ErrInvalidInstructionData, err)
	}
	if len(data) > MaxCPIInstructionSize {
		return nil, ErrCPIDataTooLarge
	}
	metas := ix.Accounts()
	if len(metas) > MaxCPIAccountInfos {
		return nil, ErrCPITooManyAccounts
	}
	return &CPIInstruction{
		ProgramID: types.PubkeyFromSolana(ix.ProgramID()),
		Accounts:  metas,
		Data:      data,
	}, nil
}

// SignersFromSeeds derives the program addresses a caller signs for.
func SignersFromSeeds(programID types.Pubkey, seedSets [][][]byte) (map[types.Pubkey]struct{}, error) {
	if len(seedSets) > MaxCPISignerSeeds {
		return nil, ErrCPITooManySignerSeeds
	}
	signers := make(map[types.Pubkey]struct{}, len(seedSets))
	for _, seeds := range seedSets {
		addr, err := CreateProgramAddress(seeds, programID)
		if err != nil {
			return nil, err
		}
		signers[addr] = struct{}{}
	}
	return signers, nil
}

// CheckPrivileges verifies that the callee is not granted more than the
// caller holds. An account may be a signer in the callee only if it signs
// for the caller or is one of the caller's derived signers. It may be
// writable only if it is writable for the caller.
//
// The returned slice holds the callee's merged privileges per account meta.
func CheckPrivileges(metas []*solana.AccountMeta, caller map[types.Pubkey]Privileges, pdaSigners map[types.Pubkey]struct{}) ([]Privileges, error) {
	merged := make(map[types.Pubkey]Privileges, len(metas))
	for _, meta := range metas {
		key := types.PubkeyFromSolana(meta.PublicKey)
		p := merged[key]
		p.IsSigner = p.IsSigner || meta.IsSigner
		p.IsWritable = p.IsWritable || meta.IsWritable
		merged[key] = p
	}

	out := make([]Privileges, len(metas))
	for i, meta := range metas {
		key := types.PubkeyFromSolana(meta.PublicKey)
		want := merged[key]
		have, ok := caller[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCPIAccountMissing, key)
		}
		if want.IsWritable && !have.IsWritable {
			return nil, fmt.Errorf("%w: %s writable", svm.ErrPrivilegeEscalation, key)
		}
		if want.IsSigner && !have.IsSigner {
			if _, ok := pdaSigners[key]; !ok {
				return nil, fmt.Errorf("%w: %s signer", svm.ErrPrivilegeEscalation, key)
			}
		}
		out[i] = want
	}
	return out, nil
}

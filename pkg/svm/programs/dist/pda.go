package dist

import (
	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/syscall"
)

// PdaSeed holds the seeds of a distribution address.
type PdaSeed struct {
	Seed        [32]byte
	ProjectName [32]byte
	Bump        uint8
}

// Seeds returns the signer seed set [seed, project, [bump]].
func (s PdaSeed) Seeds() [][]byte {
	return [][]byte{s.Seed[:], s.ProjectName[:], {s.Bump}}
}

// CreateAddress derives the address from all three seeds without searching.
func (s PdaSeed) CreateAddress(programID types.Pubkey) (types.Pubkey, error) {
	return syscall.CreateProgramAddress(s.Seeds(), programID)
}

// FindDistributionAddress searches bumps from 255 down for the first
// off-curve distribution address.
func FindDistributionAddress(seed, projectName [32]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return syscall.FindProgramAddress([][]byte{seed[:], projectName[:]}, programID)
}

// CreateDistributionAddress derives the distribution address for a known bump.
func CreateDistributionAddress(seed, projectName [32]byte, bump uint8, programID types.Pubkey) (types.Pubkey, error) {
	return PdaSeed{Seed: seed, ProjectName: projectName, Bump: bump}.CreateAddress(programID)
}

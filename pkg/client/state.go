package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// ProjectNameLen is the width of the project name seed.
const ProjectNameLen = 32

// ErrProjectNameTooLong is returned for names that do not fit in a seed.
var ErrProjectNameTooLong = errors.New("project name longer than 32 bytes")

// ProjectSeed turns a project name into the secondary distribution seed.
// Names are right-padded with '0' to 32 bytes.
func ProjectSeed(name string) ([32]byte, error) {
	var seed [32]byte
	if len(name) > ProjectNameLen {
		return seed, fmt.Errorf("%w: %q", ErrProjectNameTooLong, name)
	}
	copy(seed[:], name+strings.Repeat("0", ProjectNameLen-len(name)))
	return seed, nil
}

// StoredDistribution is the state file written by create-distribution.
type StoredDistribution struct {
	ProgramID          types.Pubkey `json:"program_id"`
	ProjectName        string       `json:"project_name"`
	ProjectPubkey      types.Pubkey `json:"project_pubkey"`
	DistAccount        types.Pubkey `json:"dist_account"`
	MaxRecipients      uint16       `json:"max_recipients"`
	DistAuthority      types.Pubkey `json:"dist_authority"`
	DistAuthorityInput string       `json:"dist_authority_input"`
	TokenAddress       types.Pubkey `json:"token_address"`
	TokenAccount       types.Pubkey `json:"token_account"`
	RecipientFile      string       `json:"recipient_file"`
}

// LoadState reads a state file.
func LoadState(path string) (*StoredDistribution, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state StoredDistribution
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if state.DistAccount.IsZero() {
		return nil, fmt.Errorf("state file %s: missing dist_account", path)
	}
	return &state, nil
}

// SaveState writes a state file, replacing any existing one.
func SaveState(path string, state *StoredDistribution) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, path)
}

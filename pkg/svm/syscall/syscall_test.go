package syscall

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

func TestFindProgramAddressMatchesSolanaGo(t *testing.T) {
	seedSets := [][][]byte{
		{[]byte("hello")},
		{make([]byte, 32), []byte("project")},
		{types.TokenProgramAddr[:], types.SystemProgramAddr[:]},
		{},
	}
	for _, seeds := range seedSets {
		want, wantBump, err := solana.FindProgramAddress(seeds, types.AirdropProgramAddr.Solana())
		require.NoError(t, err)

		got, bump, err := FindProgramAddress(seeds, types.AirdropProgramAddr)
		require.NoError(t, err)
		assert.Equal(t, types.PubkeyFromSolana(want), got)
		assert.Equal(t, wantBump, bump)

		again, err := CreateProgramAddress(append(append([][]byte{}, seeds...), []byte{bump}), types.AirdropProgramAddr)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestCreateProgramAddressLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, types.AirdropProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress(make([][]byte, 17), types.AirdropProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)

	_, _, err = FindProgramAddress(make([][]byte, 16), types.AirdropProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestIsOnCurve(t *testing.T) {
	key := solana.NewWallet().PublicKey()
	assert.True(t, IsOnCurve(key[:]))

	pda, _, err := FindProgramAddress([][]byte{[]byte("x")}, types.AirdropProgramAddr)
	require.NoError(t, err)
	assert.False(t, IsOnCurve(pda[:]))
	assert.False(t, IsOnCurve([]byte{1, 2, 3}))
}

func TestSignersFromSeeds(t *testing.T) {
	seeds := [][]byte{[]byte("dist")}
	addr, bump, err := FindProgramAddress(seeds, types.AirdropProgramAddr)
	require.NoError(t, err)

	signers, err := SignersFromSeeds(types.AirdropProgramAddr, [][][]byte{{[]byte("dist"), {bump}}})
	require.NoError(t, err)
	assert.Contains(t, signers, addr)

	_, err = SignersFromSeeds(types.AirdropProgramAddr, make([][][]byte, 17))
	assert.ErrorIs(t, err, ErrCPITooManySignerSeeds)
}

func TestCheckPrivileges(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	pda := solana.NewWallet().PublicKey()

	caller := map[types.Pubkey]Privileges{
		types.PubkeyFromSolana(a):   {IsSigner: true, IsWritable: true},
		types.PubkeyFromSolana(b):   {IsWritable: false},
		types.PubkeyFromSolana(pda): {IsWritable: true},
	}
	pdaSigners := map[types.Pubkey]struct{}{types.PubkeyFromSolana(pda): {}}

	tests := []struct {
		name  string
		metas []*solana.AccountMeta
		want  error
	}{
		{"ok", []*solana.AccountMeta{solana.Meta(a).WRITE().SIGNER(), solana.Meta(b)}, nil},
		{"pda signs", []*solana.AccountMeta{solana.Meta(pda).WRITE().SIGNER()}, nil},
		{"writable escalation", []*solana.AccountMeta{solana.Meta(b).WRITE()}, svm.ErrPrivilegeEscalation},
		{"signer escalation", []*solana.AccountMeta{solana.Meta(b).SIGNER()}, svm.ErrPrivilegeEscalation},
		{"duplicate merges", []*solana.AccountMeta{solana.Meta(b), solana.Meta(b).WRITE()}, svm.ErrPrivilegeEscalation},
		{"missing", []*solana.AccountMeta{solana.Meta(solana.NewWallet().PublicKey())}, ErrCPIAccountMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			privs, err := CheckPrivileges(tt.metas, caller, pdaSigners)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Len(t, privs, len(tt.metas))
		})
	}
}

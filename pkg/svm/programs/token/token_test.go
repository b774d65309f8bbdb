package token_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Airdrop/internal/testledger"
	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
)

func transferIx(amount uint64, src, dst types.Pubkey, owner solana.PublicKey) solana.Instruction {
	return tokenprog.NewTransferInstruction(amount, src.Solana(), dst.Solana(), owner, nil).Build()
}

func TestMintAndTransfer(t *testing.T) {
	l := testledger.New(t)
	mint := l.CreateMint(6)

	m, err := token.UnpackMint(l.Account(mint).Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), m.Decimals)
	assert.True(t, m.IsInitialized)
	require.NotNil(t, m.MintAuthority)
	assert.Equal(t, l.Payer.PublicKey(), *m.MintAuthority)

	alice := testledger.NewKey(t)
	bob := testledger.NewKey(t)
	aliceToken := l.CreateTokenAccount(types.PubkeyFromSolana(alice.PublicKey()), mint)
	bobToken := l.CreateTokenAccount(types.PubkeyFromSolana(bob.PublicKey()), mint)

	l.MintTo(mint, aliceToken, 1_000)
	assert.Equal(t, uint64(1_000), l.TokenBalance(aliceToken))

	result := l.MustSend([]solana.Instruction{transferIx(400, aliceToken, bobToken, alice.PublicKey())}, alice)
	assert.Contains(t, result.Logs, "Program log: Instruction: Transfer")
	assert.Equal(t, uint64(600), l.TokenBalance(aliceToken))
	assert.Equal(t, uint64(400), l.TokenBalance(bobToken))

	m, err = token.UnpackMint(l.Account(mint).Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), m.Supply)
}

func TestTransferErrors(t *testing.T) {
	l := testledger.New(t)
	mint := l.CreateMint(0)
	otherMint := l.CreateMint(0)

	alice := testledger.NewKey(t)
	aliceKey := types.PubkeyFromSolana(alice.PublicKey())
	aliceToken := l.CreateTokenAccount(aliceKey, mint)
	payerToken := l.CreateTokenAccount(l.PayerKey(), mint)
	foreign := l.CreateTokenAccount(aliceKey, otherMint)
	l.MintTo(mint, aliceToken, 100)

	tests := []struct {
		name    string
		ix      solana.Instruction
		signers []solana.PrivateKey
		wantErr error
	}{
		{"InsufficientFunds", transferIx(101, aliceToken, payerToken, alice.PublicKey()), []solana.PrivateKey{alice}, token.ErrInsufficientFunds},
		{"OwnerMismatch", transferIx(1, aliceToken, payerToken, l.Payer.PublicKey()), nil, token.ErrOwnerMismatch},
		{"MintMismatch", transferIx(1, aliceToken, foreign, alice.PublicKey()), []solana.PrivateKey{alice}, token.ErrMintMismatch},
		{"NotTokenAccount", transferIx(1, aliceToken, l.PayerKey(), alice.PublicKey()), []solana.PrivateKey{alice}, svm.ErrIncorrectProgramID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := l.Send([]solana.Instruction{tt.ix}, tt.signers...)
			assert.ErrorIs(t, result.Err, tt.wantErr)
			assert.Equal(t, uint64(100), l.TokenBalance(aliceToken))
		})
	}
}

func TestMintToErrors(t *testing.T) {
	l := testledger.New(t)
	mint := l.CreateMint(0)
	stranger := testledger.NewKey(t)
	dest := l.CreateTokenAccount(l.PayerKey(), mint)

	result := l.Send([]solana.Instruction{
		tokenprog.NewMintToInstruction(5, mint.Solana(), dest.Solana(), stranger.PublicKey(), nil).Build(),
	}, stranger)
	assert.ErrorIs(t, result.Err, token.ErrOwnerMismatch)

	l.MintTo(mint, dest, ^uint64(0))
	result = l.Send([]solana.Instruction{
		tokenprog.NewMintToInstruction(1, mint.Solana(), dest.Solana(), l.Payer.PublicKey(), nil).Build(),
	})
	assert.ErrorIs(t, result.Err, token.ErrOverflow)
	assert.Equal(t, ^uint64(0), l.TokenBalance(dest))
}

func TestInitializeMintTwice(t *testing.T) {
	l := testledger.New(t)
	mint := l.CreateMint(0)

	result := l.Send([]solana.Instruction{
		tokenprog.NewInitializeMint2Instruction(9, l.Payer.PublicKey(), l.Payer.PublicKey(), mint.Solana()).Build(),
	})
	assert.ErrorIs(t, result.Err, token.ErrAlreadyInUse)

	m, err := token.UnpackMint(l.Account(mint).Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), m.Decimals)
}

func TestPackUnpack(t *testing.T) {
	acc := &tokenprog.Account{
		Mint:   solana.PublicKey{1},
		Owner:  solana.PublicKey{2},
		Amount: 42,
		State:  tokenprog.Initialized,
	}
	buf := make([]byte, token.AccountSize)
	require.NoError(t, token.PackAccount(acc, buf))

	got, err := token.UnpackAccount(buf)
	require.NoError(t, err)
	assert.Equal(t, acc.Mint, got.Mint)
	assert.Equal(t, acc.Owner, got.Owner)
	assert.Equal(t, uint64(42), got.Amount)

	_, err = token.UnpackAccount(make([]byte, token.AccountSize))
	assert.ErrorIs(t, err, token.ErrUninitializedState)

	_, err = token.UnpackAccount(buf[:10])
	assert.ErrorIs(t, err, svm.ErrInvalidAccountData)

	assert.ErrorIs(t, token.PackAccount(acc, buf[:10]), svm.ErrInvalidAccountData)

	_, err = token.UnpackMint(make([]byte, token.MintSize))
	assert.ErrorIs(t, err, token.ErrUninitializedState)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "token: insufficient funds", token.ErrInsufficientFunds.Error())
	assert.Equal(t, uint32(1), token.ErrInsufficientFunds.Code())
	assert.Equal(t, "token: error 99", token.Error(99).Error())
}

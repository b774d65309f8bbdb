// Package testledger builds funded in-memory ledgers for package tests.
package testledger

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	sysprog "github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/replayer"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
)

// PayerLamports is the starting balance of Ledger.Payer.
const PayerLamports = uint64(100) * 1_000_000_000

// Ledger wraps a bank with a funded payer that also acts as mint authority.
type Ledger struct {
	t     testing.TB
	DB    *accounts.MemoryDB
	Bank  *replayer.Bank
	Payer solana.PrivateKey
}

// New creates a ledger backed by a MemoryDB.
func New(t testing.TB) *Ledger {
	t.Helper()
	db := accounts.NewMemoryDB()
	bank, err := replayer.NewBank(db, nil, replayer.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	l := &Ledger{t: t, DB: db, Bank: bank, Payer: NewKey(t)}
	l.Fund(l.PayerKey(), PayerLamports)
	return l
}

// NewKey returns a fresh keypair.
func NewKey(t testing.TB) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// PayerKey returns the payer address.
func (l *Ledger) PayerKey() types.Pubkey {
	return types.PubkeyFromSolana(l.Payer.PublicKey())
}

// ProgramID returns the distribution program address.
func (l *Ledger) ProgramID() types.Pubkey {
	return l.Bank.ProgramID()
}

// Fund airdrops lamports to key.
func (l *Ledger) Fund(key types.Pubkey, lamports uint64) {
	l.t.Helper()
	_, err := l.Bank.RequestAirdrop(key, lamports)
	require.NoError(l.t, err)
}

// Send signs ixs with the payer and signers and processes the
// transaction. Transaction failures are returned in the result.
func (l *Ledger) Send(ixs []solana.Instruction, signers ...solana.PrivateKey) *svm.ExecutionResult {
	l.t.Helper()
	all := append([]solana.PrivateKey{l.Payer}, signers...)
	tx, err := solana.NewTransaction(ixs, l.Bank.LatestBlockhash().Solana(), solana.TransactionPayer(l.Payer.PublicKey()))
	require.NoError(l.t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range all {
			if all[i].PublicKey().Equals(key) {
				return &all[i]
			}
		}
		return nil
	})
	require.NoError(l.t, err)

	result, err := l.Bank.ProcessTransaction(tx)
	require.NoError(l.t, err)
	return result
}

// MustSend is Send that fails the test on a transaction error.
func (l *Ledger) MustSend(ixs []solana.Instruction, signers ...solana.PrivateKey) *svm.ExecutionResult {
	l.t.Helper()
	result := l.Send(ixs, signers...)
	require.NoError(l.t, result.Err, "logs: %v", result.Logs)
	return result
}

// CreateMint creates a mint with the payer as mint authority.
func (l *Ledger) CreateMint(decimals uint8) types.Pubkey {
	l.t.Helper()
	mint := NewKey(l.t)
	l.MustSend([]solana.Instruction{
		sysprog.NewCreateAccountInstruction(
			svm.RentMinimum(token.MintSize),
			token.MintSize,
			solana.TokenProgramID,
			l.Payer.PublicKey(),
			mint.PublicKey(),
		).Build(),
		tokenprog.NewInitializeMint2Instruction(
			decimals,
			l.Payer.PublicKey(),
			l.Payer.PublicKey(),
			mint.PublicKey(),
		).Build(),
	}, mint)
	return types.PubkeyFromSolana(mint.PublicKey())
}

// CreateTokenAccount creates the associated token account of wallet.
func (l *Ledger) CreateTokenAccount(wallet, mint types.Pubkey) types.Pubkey {
	l.t.Helper()
	l.MustSend([]solana.Instruction{
		associatedtokenaccount.NewCreateInstruction(l.Payer.PublicKey(), wallet.Solana(), mint.Solana()).Build(),
	})
	addr, _, err := solana.FindAssociatedTokenAddress(wallet.Solana(), mint.Solana())
	require.NoError(l.t, err)
	return types.PubkeyFromSolana(addr)
}

// MintTo mints amount into a token account.
func (l *Ledger) MintTo(mint, dest types.Pubkey, amount uint64) {
	l.t.Helper()
	l.MustSend([]solana.Instruction{
		tokenprog.NewMintToInstruction(amount, mint.Solana(), dest.Solana(), l.Payer.PublicKey(), nil).Build(),
	})
}

// Account returns the current state of key, failing if it does not exist.
func (l *Ledger) Account(key types.Pubkey) *accounts.Account {
	l.t.Helper()
	acc, err := l.Bank.GetAccount(key)
	require.NoError(l.t, err)
	return acc
}

// SetAccount stores acc at key directly, bypassing the programs.
func (l *Ledger) SetAccount(key types.Pubkey, acc *accounts.Account) {
	l.t.Helper()
	require.NoError(l.t, l.DB.SetAccount(key, acc))
}

// TokenBalance returns the amount held by a token account.
func (l *Ledger) TokenBalance(key types.Pubkey) uint64 {
	l.t.Helper()
	acc, err := token.UnpackAccount(l.Account(key).Data)
	require.NoError(l.t, err)
	return acc.Amount
}

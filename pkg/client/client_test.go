package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/blockstore"
	"github.com/fortiblox/X1-Airdrop/pkg/replayer"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
)

type harness struct {
	client  *Client
	bank    *replayer.Bank
	journal *blockstore.BoltStore
	mint    types.Pubkey
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, err := blockstore.Open(blockstore.DefaultConfig(filepath.Join(t.TempDir(), "blocks.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	bank, err := replayer.NewBank(accounts.NewMemoryDB(), store, replayer.DefaultConfig(), logger)
	require.NoError(t, err)

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = bank.RequestAirdrop(types.PubkeyFromSolana(payer.PublicKey()), 100_000_000_000)
	require.NoError(t, err)

	opts = append([]Option{WithJournal(store), WithLogger(logger)}, opts...)
	c := New(bank, payer, opts...)
	mint, err := c.CreateMint(0)
	require.NoError(t, err)

	return &harness{client: c, bank: bank, journal: store, mint: mint}
}

func randomWallets(t *testing.T, n int) []types.Pubkey {
	t.Helper()
	out := make([]types.Pubkey, n)
	for i := range out {
		key, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		out[i] = types.PubkeyFromSolana(key.PublicKey())
	}
	return out
}

func TestCreateAndFundLifecycle(t *testing.T) {
	h := newHarness(t)
	c := h.client

	payerToken, err := c.MintTo(h.mint, c.Payer(), 1000)
	require.NoError(t, err)
	assert.Equal(t, TokenAccount(c.Payer(), h.mint), payerToken)

	state, err := c.CreateAndFund("wave", h.mint, 500, 1000)
	require.NoError(t, err)
	assert.Equal(t, "wave", state.ProjectName)
	assert.Equal(t, "wave.txt", state.RecipientFile)
	assert.Equal(t, c.Payer(), state.DistAuthority)
	assert.Equal(t, c.Payer().String(), state.DistAuthorityInput)
	assert.Equal(t, uint16(500), state.MaxRecipients)

	derived, _, err := c.DistAccountFromSeed(c.Payer(), "wave")
	require.NoError(t, err)
	assert.Equal(t, derived, state.DistAccount)
	assert.Equal(t, TokenAccount(derived, h.mint), state.TokenAccount)

	require.NoError(t, c.BeginDistribution(state.DistAccount, c.payer, 100))

	wallets := randomWallets(t, 45)
	report, err := c.Distribute(context.Background(), DistributeRequest{
		Distribution: state.DistAccount,
		Mint:         h.mint,
		Authority:    c.payer,
		Recipients:   wallets,
	})
	require.NoError(t, err)
	assert.Equal(t, &DistributeReport{Batches: 3, Paid: 45, NextSkip: 45}, report)

	for _, w := range wallets {
		balance, err := c.TokenBalance(TokenAccount(w, h.mint))
		require.NoError(t, err)
		assert.Equal(t, uint64(10), balance)
	}

	info, err := c.ShowDistribution(state.DistAccount)
	require.NoError(t, err)
	assert.Equal(t, uint16(45), info.Record.SentRecipients)
	assert.Equal(t, uint64(1000), info.Record.FundedAmount)
	assert.Equal(t, uint64(10), info.Record.RecipientShare())
	assert.Equal(t, uint64(550), info.TokenBalance)
	assert.Equal(t, uint8(0), info.Decimals)

	require.Len(t, info.Batches, 3)
	for i, b := range info.Batches {
		assert.Equal(t, uint32(i*20), b.Skip)
		assert.Empty(t, b.Err)
	}
	assert.Equal(t, uint32(5), info.Batches[2].Count)

	// create, fund, begin and three batches, newest first
	require.Len(t, info.History, 6)
	assert.Equal(t, info.Batches[2].Signature, info.History[0].Signature)
	assert.Equal(t, info.Batches[0].Signature, info.History[2].Signature)
	assert.Greater(t, info.History[0].Slot, info.History[5].Slot)
}

func TestDistributeStopsAtFailedChunk(t *testing.T) {
	h := newHarness(t, WithChunkSize(2))
	c := h.client

	_, err := c.MintTo(h.mint, c.Payer(), 100)
	require.NoError(t, err)
	state, err := c.CreateDistribution(CreateParams{
		ProjectName:   "capped",
		Seed:          types.Pubkey{7},
		Mint:          h.mint,
		Authority:     c.Payer(),
		MaxRecipients: 3,
	})
	require.NoError(t, err)
	require.NoError(t, c.FundDistribution(state.DistAccount, h.mint, c.payer, 100))
	require.NoError(t, c.BeginDistribution(state.DistAccount, c.payer, 3))

	wallets := randomWallets(t, 5)
	report, err := c.Distribute(context.Background(), DistributeRequest{
		Distribution: state.DistAccount,
		Mint:         h.mint,
		Authority:    c.payer,
		Recipients:   wallets,
	})
	assert.ErrorIs(t, err, dist.ErrTooManyRecipients)
	assert.Contains(t, err.Error(), "resume with skip 2")
	assert.Equal(t, &DistributeReport{Batches: 1, Paid: 2, NextSkip: 2}, report)

	batches, err := h.journal.Batches(state.DistAccount)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Empty(t, batches[0].Err)
	assert.Equal(t, uint32(2), batches[1].Skip)
	assert.NotEmpty(t, batches[1].Err)

	// The third recipient fits when sent alone.
	report, err = c.Distribute(context.Background(), DistributeRequest{
		Distribution: state.DistAccount,
		Mint:         h.mint,
		Authority:    c.payer,
		Recipients:   wallets[:3],
		Skip:         2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.NextSkip)

	balance, err := c.TokenBalance(TokenAccount(wallets[2], h.mint))
	require.NoError(t, err)
	assert.Equal(t, uint64(33), balance)
}

func TestDistributeCanceled(t *testing.T) {
	h := newHarness(t)
	c := h.client
	_, err := c.MintTo(h.mint, c.Payer(), 10)
	require.NoError(t, err)
	state, err := c.CreateAndFund("cancel", h.mint, 10, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := c.Distribute(ctx, DistributeRequest{
		Distribution: state.DistAccount,
		Mint:         h.mint,
		Authority:    c.payer,
		Recipients:   randomWallets(t, 3),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Paid)
}

func TestChangeDistAuthority(t *testing.T) {
	h := newHarness(t)
	c := h.client
	state, err := c.CreateDistribution(CreateParams{
		ProjectName:   "handover",
		Seed:          c.Payer(),
		Mint:          h.mint,
		Authority:     c.Payer(),
		MaxRecipients: 10,
	})
	require.NoError(t, err)

	next, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	nextKey := types.PubkeyFromSolana(next.PublicKey())
	require.NoError(t, c.ChangeDistAuthority(state.DistAccount, c.payer, nextKey))

	err = c.BeginDistribution(state.DistAccount, c.payer, 2)
	assert.ErrorIs(t, err, dist.ErrUnauthorizedDistAuthority)
	require.NoError(t, c.BeginDistribution(state.DistAccount, next, 2))

	info, err := c.ShowDistribution(state.DistAccount)
	require.NoError(t, err)
	assert.Equal(t, nextKey, info.Record.Authority)
	assert.Equal(t, uint16(2), info.Record.NumRecipients)
}

func TestClientErrors(t *testing.T) {
	h := newHarness(t)
	c := h.client

	_, err := c.ShowDistribution(types.Pubkey{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.ShowDistribution(c.Payer())
	assert.ErrorIs(t, err, ErrNotDistribution)

	stranger, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	err = c.FundDistribution(types.Pubkey{9}, h.mint, stranger, 1)
	assert.ErrorIs(t, err, ErrNoTokenAccount)

	_, err = c.CreateAndFund(strings.Repeat("x", 33), h.mint, 1, 1)
	assert.ErrorIs(t, err, ErrProjectNameTooLong)
}

func TestEnsureTokenAccounts(t *testing.T) {
	h := newHarness(t)
	wallets := randomWallets(t, 10)
	wallets = append(wallets, wallets[0])

	created, err := h.client.EnsureTokenAccounts(h.mint, wallets)
	require.NoError(t, err)
	assert.Equal(t, 10, created)

	created, err = h.client.EnsureTokenAccounts(h.mint, wallets)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestProjectSeed(t *testing.T) {
	seed, err := ProjectSeed("wave")
	require.NoError(t, err)
	assert.Equal(t, "wave"+strings.Repeat("0", 28), string(seed[:]))

	full := strings.Repeat("p", 32)
	seed, err = ProjectSeed(full)
	require.NoError(t, err)
	assert.Equal(t, full, string(seed[:]))

	_, err = ProjectSeed(full + "p")
	assert.ErrorIs(t, err, ErrProjectNameTooLong)
}

func TestStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wave.state")
	state := &StoredDistribution{
		ProgramID:          types.AirdropProgramAddr,
		ProjectName:        "wave",
		DistAccount:        types.Pubkey{1},
		MaxRecipients:      500,
		DistAuthority:      types.Pubkey{2},
		DistAuthorityInput: "id.json",
		TokenAddress:       types.Pubkey{3},
		TokenAccount:       types.Pubkey{4},
		RecipientFile:      "wave.txt",
	}
	require.NoError(t, SaveState(path, state))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"program_id": "`+types.AirdropProgramAddr.String()+`"`)
	assert.Contains(t, string(raw), `"max_recipients": 500`)

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	require.NoError(t, os.WriteFile(path, []byte(`{"project_name":"x"}`), 0o644))
	_, err = LoadState(path)
	assert.Error(t, err)

	_, err = LoadState(filepath.Join(t.TempDir(), "missing.state"))
	assert.Error(t, err)
}

func TestReadRecipients(t *testing.T) {
	dir := t.TempDir()
	a, b := types.Pubkey{1}, types.Pubkey{2}

	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte(a.String()+"\n\n  "+b.String()+"  \n"), 0o644))
	got, err := ReadRecipients(good)
	require.NoError(t, err)
	assert.Equal(t, []types.Pubkey{a, b}, got)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte(a.String()+"\n\nnot-a-key\n"), 0o644))
	_, err = ReadRecipients(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.txt:3")
}

func TestChunks(t *testing.T) {
	recipients := make([]types.Pubkey, 45)
	for i := range recipients {
		recipients[i] = types.Pubkey{byte(i)}
	}

	chunks, err := Chunks(recipients, 5, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 5, chunks[0].Skip)
	assert.Equal(t, 6, chunks[0].First)
	assert.Equal(t, 25, chunks[0].Last)
	assert.Len(t, chunks[0].Recipients, 20)
	assert.Equal(t, 25, chunks[1].Skip)
	assert.Equal(t, 45, chunks[1].Last)
	assert.Equal(t, recipients[44], chunks[1].Recipients[19])

	chunks, err = Chunks(recipients, 45, 20)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = Chunks(recipients, 46, 20)
	assert.ErrorIs(t, err, ErrSkipOutOfRange)

	chunks, err = Chunks(recipients, 0, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestAmounts(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1000", 0, 1000, false},
		{"1.5", 6, 1_500_000, false},
		{"0.000001", 6, 1, false},
		{"2", 9, 2_000_000_000, false},
		{"1.5", 0, 0, true},
		{"-1", 0, 0, true},
		{"abc", 2, 0, true},
		{"18446744073709551616", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "1.5", FormatAmount(1_500_000, 6))
	assert.Equal(t, "0.000001", FormatAmount(1, 6))
	assert.Equal(t, "2", FormatAmount(2_000_000_000, 9))
	assert.Equal(t, "33", FormatAmount(33, 0))
}

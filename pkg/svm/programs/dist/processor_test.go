package dist_test

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Airdrop/internal/testledger"
	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
)

type fixture struct {
	l          *testledger.Ledger
	mint       types.Pubkey
	payerToken types.Pubkey
	dist       types.Pubkey
	distToken  types.Pubkey
	seed       [32]byte
	project    [32]byte
	bump       uint8
}

// newFixture initializes a distribution with the payer as authority and
// mints supply tokens to the payer.
func newFixture(t *testing.T, maxRecipients uint16, supply uint64) *fixture {
	t.Helper()
	f := &fixture{l: testledger.New(t)}
	copy(f.seed[:], t.Name())
	copy(f.project[:], "project")

	f.mint = f.l.CreateMint(0)
	f.payerToken = f.l.CreateTokenAccount(f.l.PayerKey(), f.mint)
	if supply > 0 {
		f.l.MintTo(f.mint, f.payerToken, supply)
	}

	var err error
	f.dist, f.bump, err = dist.FindDistributionAddress(f.seed, f.project, f.l.ProgramID())
	require.NoError(t, err)

	f.l.MustSend([]solana.Instruction{f.initIx(f.bump, maxRecipients)})
	f.distToken = f.l.CreateTokenAccount(f.dist, f.mint)
	return f
}

func (f *fixture) initIx(bump uint8, maxRecipients uint16) solana.Instruction {
	return dist.NewInitializeDistributionInstruction(
		f.l.ProgramID(), f.l.PayerKey(), f.mint, f.dist,
		f.seed, f.project, bump, maxRecipients, f.l.PayerKey(),
	)
}

func (f *fixture) fund(amount uint64) *svm.ExecutionResult {
	return f.l.Send([]solana.Instruction{
		dist.NewFundDistributionInstruction(f.l.ProgramID(), f.l.PayerKey(), f.payerToken, f.dist, f.distToken, amount),
	})
}

func (f *fixture) begin(num uint16, authority ...solana.PrivateKey) *svm.ExecutionResult {
	signer := f.l.PayerKey()
	if len(authority) > 0 {
		signer = types.PubkeyFromSolana(authority[0].PublicKey())
	}
	return f.l.Send([]solana.Instruction{
		dist.NewBeginDistributionInstruction(f.l.ProgramID(), f.dist, signer, num),
	}, authority...)
}

func (f *fixture) distribute(recipients []types.Pubkey, authority ...solana.PrivateKey) *svm.ExecutionResult {
	signer := f.l.PayerKey()
	if len(authority) > 0 {
		signer = types.PubkeyFromSolana(authority[0].PublicKey())
	}
	return f.l.Send([]solana.Instruction{
		dist.NewDistributeInstruction(f.l.ProgramID(), f.dist, signer, f.distToken, recipients),
	}, authority...)
}

// recipients creates n recipient token accounts.
func (f *fixture) recipients(t *testing.T, n int) []types.Pubkey {
	t.Helper()
	out := make([]types.Pubkey, n)
	for i := range out {
		wallet := types.PubkeyFromSolana(testledger.NewKey(t).PublicKey())
		out[i] = f.l.CreateTokenAccount(wallet, f.mint)
	}
	return out
}

func (f *fixture) record(t *testing.T) *dist.Distribution {
	t.Helper()
	d, err := dist.Unpack(f.l.Account(f.dist).Data)
	require.NoError(t, err)
	return d
}

func (f *fixture) rawRecord() []byte {
	return append([]byte(nil), f.l.Account(f.dist).Data...)
}

// copyRecord stores a copy of the record at a fresh address its seeds do
// not derive to.
func (f *fixture) copyRecord(t *testing.T) types.Pubkey {
	t.Helper()
	addr := types.PubkeyFromSolana(testledger.NewKey(t).PublicKey())
	f.l.SetAccount(addr, &accounts.Account{
		Lamports: svm.RentMinimum(dist.StateSize),
		Data:     f.rawRecord(),
		Owner:    f.l.ProgramID(),
	})
	return addr
}

// unsigned clears the signer flag of account i.
func unsigned(ix *solana.GenericInstruction, i int) *solana.GenericInstruction {
	ix.AccountValues[i].IsSigner = false
	return ix
}

func TestInitializeDistribution(t *testing.T) {
	f := newFixture(t, 500, 0)

	acc := f.l.Account(f.dist)
	assert.Equal(t, f.l.ProgramID(), acc.Owner)
	assert.Len(t, acc.Data, dist.StateSize)
	assert.Equal(t, svm.RentMinimum(dist.StateSize), acc.Lamports)

	d := f.record(t)
	assert.Equal(t, dist.Version1, d.Version)
	assert.Equal(t, f.seed, d.Seed.Seed)
	assert.Equal(t, f.project, d.Seed.ProjectName)
	assert.Equal(t, f.bump, d.Seed.Bump)
	assert.Equal(t, f.l.PayerKey(), d.Authority)
	assert.Equal(t, f.mint, d.Token)
	assert.Equal(t, uint16(500), d.MaxRecipients)
	assert.Zero(t, d.NumRecipients)
	assert.Zero(t, d.FundedAmount)
	assert.Zero(t, d.SentRecipients)

	t.Run("Twice", func(t *testing.T) {
		before := f.rawRecord()
		result := f.l.Send([]solana.Instruction{f.initIx(f.bump, 10)})
		assert.ErrorIs(t, result.Err, svm.ErrAccountAlreadyInitialized)
		assert.Equal(t, before, f.rawRecord())
	})
}

func TestInitializeInvalidSeeds(t *testing.T) {
	l := testledger.New(t)
	mint := l.CreateMint(0)
	var seed, project [32]byte
	copy(seed[:], "seed")

	addr, bump, err := dist.FindDistributionAddress(seed, project, l.ProgramID())
	require.NoError(t, err)

	result := l.Send([]solana.Instruction{
		dist.NewInitializeDistributionInstruction(l.ProgramID(), l.PayerKey(), mint, addr, seed, project, bump-1, 5, l.PayerKey()),
	})
	assert.ErrorIs(t, result.Err, svm.ErrInvalidSeeds)

	_, err = l.Bank.GetAccount(addr)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestEndToEndDistribution(t *testing.T) {
	f := newFixture(t, 500, 1000)

	require.NoError(t, f.fund(1000).Err)
	assert.Equal(t, uint64(1000), f.l.TokenBalance(f.distToken))
	assert.Zero(t, f.l.TokenBalance(f.payerToken))

	result := f.begin(100)
	require.NoError(t, result.Err)
	assert.Equal(t, uint64(10), f.record(t).RecipientShare())

	recipients := f.recipients(t, 101)
	for batch := 0; batch < 5; batch++ {
		chunk := recipients[batch*20 : (batch+1)*20]
		result := f.distribute(chunk)
		require.NoError(t, result.Err, "batch %d logs: %v", batch, result.Logs)
		assert.Equal(t, uint16((batch+1)*20), f.record(t).SentRecipients)
	}
	assert.Contains(t, result.Logs, "Program log: Instruction: BeginDistribution")

	for _, r := range recipients[:100] {
		assert.Equal(t, uint64(10), f.l.TokenBalance(r))
	}
	assert.Zero(t, f.l.TokenBalance(f.distToken))

	// Capacity is max_recipients, so the 101st payout reaches the token
	// program and fails on the empty distribution account.
	before := f.rawRecord()
	result = f.distribute(recipients[100:])
	assert.ErrorIs(t, result.Err, token.ErrInsufficientFunds)
	assert.Equal(t, before, f.rawRecord())
	assert.Zero(t, f.l.TokenBalance(recipients[100]))
}

func TestDistributePastNumRecipients(t *testing.T) {
	f := newFixture(t, 5, 300)
	require.NoError(t, f.fund(100).Err)
	require.NoError(t, f.begin(2).Err)

	recipients := f.recipients(t, 3)
	require.NoError(t, f.distribute(recipients[:2]).Err)
	assert.Equal(t, uint64(50), f.l.TokenBalance(recipients[0]))

	// Funding after the start raises the share of later recipients.
	require.NoError(t, f.fund(200).Err)
	require.NoError(t, f.distribute(recipients[2:]).Err)

	d := f.record(t)
	assert.Equal(t, uint16(3), d.SentRecipients)
	assert.Equal(t, uint16(2), d.NumRecipients)
	assert.Greater(t, d.SentRecipients, d.NumRecipients)
	assert.Equal(t, uint64(150), f.l.TokenBalance(recipients[2]))
}

func TestTooManyRecipients(t *testing.T) {
	f := newFixture(t, 2, 100)
	require.NoError(t, f.fund(100).Err)
	require.NoError(t, f.begin(2).Err)
	recipients := f.recipients(t, 3)

	t.Run("BatchOverCapacity", func(t *testing.T) {
		before := f.rawRecord()
		result := f.distribute(recipients)
		assert.ErrorIs(t, result.Err, dist.ErrTooManyRecipients)
		assert.Equal(t, before, f.rawRecord())
		assert.Zero(t, f.l.TokenBalance(recipients[0]))
		assert.Equal(t, uint64(100), f.l.TokenBalance(f.distToken))
	})

	t.Run("AfterCapacity", func(t *testing.T) {
		require.NoError(t, f.distribute(recipients[:2]).Err)
		assert.Equal(t, uint16(2), f.record(t).SentRecipients)

		before := f.rawRecord()
		result := f.distribute(recipients[2:])
		assert.ErrorIs(t, result.Err, dist.ErrTooManyRecipients)
		code, ok := svm.CustomErrorCode(result.Err)
		assert.True(t, ok)
		assert.Equal(t, uint32(7), code)
		assert.Equal(t, before, f.rawRecord())
	})
}

func TestBeginDistributionTwice(t *testing.T) {
	f := newFixture(t, 10, 0)
	require.NoError(t, f.begin(4).Err)

	for _, num := range []uint16{4, 7, 0} {
		before := f.rawRecord()
		result := f.begin(num)
		assert.ErrorIs(t, result.Err, dist.ErrDistributionAlreadyStarted)
		assert.Equal(t, before, f.rawRecord())
	}
	assert.Equal(t, uint16(4), f.record(t).NumRecipients)
}

func TestAuthority(t *testing.T) {
	f := newFixture(t, 10, 100)
	require.NoError(t, f.fund(100).Err)
	stranger := testledger.NewKey(t)

	t.Run("WrongAuthority", func(t *testing.T) {
		before := f.rawRecord()

		result := f.begin(2, stranger)
		assert.ErrorIs(t, result.Err, dist.ErrUnauthorizedDistAuthority)

		result = f.l.Send([]solana.Instruction{
			dist.NewSetDistAuthorityInstruction(f.l.ProgramID(), f.dist,
				types.PubkeyFromSolana(stranger.PublicKey()), types.PubkeyFromSolana(stranger.PublicKey())),
		}, stranger)
		assert.ErrorIs(t, result.Err, dist.ErrUnauthorizedDistAuthority)

		assert.Equal(t, before, f.rawRecord())
	})

	t.Run("Handover", func(t *testing.T) {
		next := testledger.NewKey(t)
		nextKey := types.PubkeyFromSolana(next.PublicKey())
		f.l.MustSend([]solana.Instruction{
			dist.NewSetDistAuthorityInstruction(f.l.ProgramID(), f.dist, f.l.PayerKey(), nextKey),
		})
		assert.Equal(t, nextKey, f.record(t).Authority)

		assert.ErrorIs(t, f.begin(2).Err, dist.ErrUnauthorizedDistAuthority)
		require.NoError(t, f.begin(2, next).Err)

		recipients := f.recipients(t, 1)
		assert.ErrorIs(t, f.distribute(recipients).Err, dist.ErrUnauthorizedDistAuthority)
		require.NoError(t, f.distribute(recipients, next).Err)
		assert.Equal(t, uint64(50), f.l.TokenBalance(recipients[0]))
	})
}

func TestDistributeRejectsNonTokenRecipient(t *testing.T) {
	f := newFixture(t, 10, 100)
	require.NoError(t, f.fund(100).Err)
	require.NoError(t, f.begin(1).Err)

	wallet := testledger.NewKey(t)
	f.l.Fund(types.PubkeyFromSolana(wallet.PublicKey()), 1_000_000)

	result := f.distribute([]types.Pubkey{types.PubkeyFromSolana(wallet.PublicKey())})
	assert.ErrorIs(t, result.Err, svm.ErrInvalidArgument)
	assert.Zero(t, f.record(t).SentRecipients)
}

func TestFundDistribution(t *testing.T) {
	f := newFixture(t, 10, 500)

	require.NoError(t, f.fund(120).Err)
	require.NoError(t, f.fund(80).Err)
	assert.Equal(t, uint64(200), f.record(t).FundedAmount)
	assert.Equal(t, uint64(200), f.l.TokenBalance(f.distToken))

	before := f.rawRecord()
	result := f.fund(301)
	assert.ErrorIs(t, result.Err, token.ErrInsufficientFunds)
	assert.Equal(t, before, f.rawRecord())

	require.NoError(t, f.begin(3).Err)
	assert.Equal(t, uint64(66), f.record(t).RecipientShare())
}

func TestInvalidInstructionData(t *testing.T) {
	l := testledger.New(t)
	result := l.Send([]solana.Instruction{
		solana.NewInstruction(l.ProgramID().Solana(), solana.AccountMetaSlice{}, []byte{9}),
	})
	assert.ErrorIs(t, result.Err, dist.ErrInvalidInstruction)
	code, ok := svm.CustomErrorCode(result.Err)
	assert.True(t, ok)
	assert.Zero(t, code)
}

func TestRecordAtWrongAddress(t *testing.T) {
	f := newFixture(t, 10, 1000)
	require.NoError(t, f.fund(100).Err)
	copied := f.copyRecord(t)
	recipients := f.recipients(t, 1)
	next := types.PubkeyFromSolana(testledger.NewKey(t).PublicKey())
	pid, payer := f.l.ProgramID(), f.l.PayerKey()

	tests := []struct {
		name string
		ix   solana.Instruction
	}{
		{"FundDistribution", dist.NewFundDistributionInstruction(pid, payer, f.payerToken, copied, f.distToken, 10)},
		{"SetDistAuthority", dist.NewSetDistAuthorityInstruction(pid, copied, payer, next)},
		{"BeginDistribution", dist.NewBeginDistributionInstruction(pid, copied, payer, 3)},
		{"Distribute", dist.NewDistributeInstruction(pid, copied, payer, f.distToken, recipients)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]byte(nil), f.l.Account(copied).Data...)
			genuine := f.rawRecord()

			result := f.l.Send([]solana.Instruction{tt.ix})
			assert.ErrorIs(t, result.Err, svm.ErrInvalidAccountData)

			assert.Equal(t, before, f.l.Account(copied).Data)
			assert.Equal(t, genuine, f.rawRecord())
			assert.Equal(t, uint64(100), f.l.TokenBalance(f.distToken))
			assert.Equal(t, uint64(900), f.l.TokenBalance(f.payerToken))
			assert.Zero(t, f.l.TokenBalance(recipients[0]))
		})
	}
}

func TestInstructionFailures(t *testing.T) {
	f := newFixture(t, 10, 1000)
	require.NoError(t, f.fund(100).Err)
	recipients := f.recipients(t, 1)
	pid, payer := f.l.ProgramID(), f.l.PayerKey()

	other := types.PubkeyFromSolana(testledger.NewKey(t).PublicKey())
	wallet := types.PubkeyFromSolana(testledger.NewKey(t).PublicKey())
	f.l.Fund(wallet, 1_000_000_000)

	tests := []struct {
		name string
		ix   solana.Instruction
		want error
	}{
		{
			name: "InitializeUnsignedPayer",
			ix: unsigned(dist.NewInitializeDistributionInstruction(
				pid, other, f.mint, f.dist, f.seed, f.project, f.bump, 10, payer), 0),
			want: svm.ErrMissingRequiredSignature,
		},
		{
			name: "FundUnsignedSource",
			ix:   unsigned(dist.NewFundDistributionInstruction(pid, other, f.payerToken, f.dist, f.distToken, 10), 0),
			want: svm.ErrMissingRequiredSignature,
		},
		{
			name: "SetDistAuthorityUnsigned",
			ix:   unsigned(dist.NewSetDistAuthorityInstruction(pid, f.dist, other, other), 1),
			want: svm.ErrMissingRequiredSignature,
		},
		{
			name: "BeginDistributionUnsigned",
			ix:   unsigned(dist.NewBeginDistributionInstruction(pid, f.dist, other, 1), 1),
			want: svm.ErrMissingRequiredSignature,
		},
		{
			name: "DistributeUnsigned",
			ix:   unsigned(dist.NewDistributeInstruction(pid, f.dist, other, f.distToken, recipients), 1),
			want: svm.ErrMissingRequiredSignature,
		},
		{
			name: "FundNotProgramOwned",
			ix:   dist.NewFundDistributionInstruction(pid, payer, f.payerToken, wallet, f.distToken, 10),
			want: svm.ErrIncorrectProgramID,
		},
		{
			name: "SetDistAuthorityNotProgramOwned",
			ix:   dist.NewSetDistAuthorityInstruction(pid, wallet, payer, other),
			want: svm.ErrIncorrectProgramID,
		},
		{
			name: "BeginDistributionNotProgramOwned",
			ix:   dist.NewBeginDistributionInstruction(pid, wallet, payer, 1),
			want: svm.ErrIncorrectProgramID,
		},
		{
			name: "DistributeNotProgramOwned",
			ix:   dist.NewDistributeInstruction(pid, wallet, payer, f.distToken, recipients),
			want: svm.ErrIncorrectProgramID,
		},
		{
			name: "FundSourceNotTokenAccount",
			ix:   dist.NewFundDistributionInstruction(pid, payer, wallet, f.dist, f.distToken, 10),
			want: svm.ErrInvalidArgument,
		},
		{
			name: "FundDestinationNotTokenAccount",
			ix:   dist.NewFundDistributionInstruction(pid, payer, f.payerToken, f.dist, wallet, 10),
			want: svm.ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.rawRecord()

			result := f.l.Send([]solana.Instruction{tt.ix})
			assert.ErrorIs(t, result.Err, tt.want)

			assert.Equal(t, before, f.rawRecord())
			assert.Equal(t, uint64(100), f.l.TokenBalance(f.distToken))
			assert.Equal(t, uint64(900), f.l.TokenBalance(f.payerToken))
			assert.Zero(t, f.l.TokenBalance(recipients[0]))
		})
	}
}

func TestFundOverflowRollsBack(t *testing.T) {
	f := newFixture(t, 10, 1000)
	require.NoError(t, f.fund(100).Err)

	d := f.record(t)
	d.FundedAmount = math.MaxUint64 - 10
	acc := f.l.Account(f.dist).Clone()
	acc.Data = d.Bytes()
	f.l.SetAccount(f.dist, acc)

	before := f.rawRecord()
	result := f.fund(100)
	assert.ErrorIs(t, result.Err, svm.ErrArithmeticOverflow)

	assert.Equal(t, before, f.rawRecord())
	assert.Equal(t, uint64(100), f.l.TokenBalance(f.distToken))
	assert.Equal(t, uint64(900), f.l.TokenBalance(f.payerToken))
}

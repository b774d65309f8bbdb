// Package client drives the distribution program on a local ledger: it
// builds, signs and submits the transactions behind every CLI command and
// keeps the batch journal used to resume interrupted distributions.
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	sysprog "github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/blockstore"
	"github.com/fortiblox/X1-Airdrop/pkg/replayer"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/ata"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
)

// maxCreatesPerTx bounds associated account creations per transaction.
const maxCreatesPerTx = 8

// HistoryLimit caps the transaction history returned by ShowDistribution.
const HistoryLimit = 20

var (
	ErrNotFound        = errors.New("account not found")
	ErrNotDistribution = errors.New("account is not a distribution")
	ErrMissingSigner   = errors.New("missing signer")
	ErrNoTokenAccount  = errors.New("token account does not exist")
)

// Client submits distribution transactions to a bank.
type Client struct {
	bank      *replayer.Bank
	journal   blockstore.Store
	payer     solana.PrivateKey
	chunkSize int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithJournal records Distribute batches in store.
func WithJournal(store blockstore.Store) Option {
	return func(c *Client) { c.journal = store }
}

// WithChunkSize sets the number of recipients per Distribute transaction.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client paying fees from payer.
func New(bank *replayer.Bank, payer solana.PrivateKey, opts ...Option) *Client {
	c := &Client{
		bank:      bank,
		payer:     payer,
		chunkSize: DefaultChunkSize,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Payer returns the fee payer address.
func (c *Client) Payer() types.Pubkey {
	return types.PubkeyFromSolana(c.payer.PublicKey())
}

// ProgramID returns the distribution program address.
func (c *Client) ProgramID() types.Pubkey {
	return c.bank.ProgramID()
}

// send signs ixs with the payer and signers and waits for the result.
// Instruction failures are returned as errors wrapping the program error.
func (c *Client) send(ixs []solana.Instruction, signers ...solana.PrivateKey) (types.Signature, error) {
	tx, err := solana.NewTransaction(ixs, c.bank.LatestBlockhash().Solana(), solana.TransactionPayer(c.payer.PublicKey()))
	if err != nil {
		return types.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	keys := append([]solana.PrivateKey{c.payer}, signers...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	}); err != nil {
		return types.Signature{}, fmt.Errorf("%w: %v", ErrMissingSigner, err)
	}

	result, err := c.bank.ProcessTransaction(tx)
	if err != nil {
		return types.Signature{}, err
	}
	if result.Err != nil {
		c.logger.Debug("transaction failed",
			zap.Stringer("signature", result.Signature),
			zap.Strings("logs", result.Logs),
		)
		return result.Signature, fmt.Errorf("transaction %s: %w", result.Signature, result.Err)
	}
	return result.Signature, nil
}

func (c *Client) account(key types.Pubkey) (*accounts.Account, error) {
	acc, err := c.bank.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return acc, err
}

// DistAccountFromSeed derives the distribution address for seed and project.
func (c *Client) DistAccountFromSeed(seed types.Pubkey, projectName string) (types.Pubkey, uint8, error) {
	project, err := ProjectSeed(projectName)
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	return dist.FindDistributionAddress(seed, project, c.ProgramID())
}

// TokenAccount returns the associated token account of wallet for mint.
func TokenAccount(wallet, mint types.Pubkey) types.Pubkey {
	addr, _, err := ata.FindAddress(wallet, mint)
	if err != nil {
		// Associated addresses always exist for some bump.
		panic(err)
	}
	return addr
}

// CreateParams describes a new distribution.
type CreateParams struct {
	ProjectName   string
	Seed          types.Pubkey
	Mint          types.Pubkey
	Authority     types.Pubkey
	MaxRecipients uint16

	// AuthorityInput is how the authority was named on the command line.
	AuthorityInput string

	// RecipientFile defaults to "<project>.txt".
	RecipientFile string
}

// CreateDistribution initializes the distribution record and its token
// account in one transaction.
func (c *Client) CreateDistribution(p CreateParams) (*StoredDistribution, error) {
	project, err := ProjectSeed(p.ProjectName)
	if err != nil {
		return nil, err
	}
	distAccount, bump, err := dist.FindDistributionAddress(p.Seed, project, c.ProgramID())
	if err != nil {
		return nil, err
	}
	distToken := TokenAccount(distAccount, p.Mint)

	state := &StoredDistribution{
		ProgramID:          c.ProgramID(),
		ProjectName:        p.ProjectName,
		ProjectPubkey:      types.Pubkey(project),
		DistAccount:        distAccount,
		MaxRecipients:      p.MaxRecipients,
		DistAuthority:      p.Authority,
		DistAuthorityInput: p.AuthorityInput,
		TokenAddress:       p.Mint,
		TokenAccount:       distToken,
		RecipientFile:      p.RecipientFile,
	}
	if state.RecipientFile == "" {
		state.RecipientFile = p.ProjectName + ".txt"
	}
	if state.DistAuthorityInput == "" {
		state.DistAuthorityInput = p.Authority.String()
	}

	sig, err := c.send([]solana.Instruction{
		dist.NewInitializeDistributionInstruction(
			c.ProgramID(), c.Payer(), p.Mint, distAccount,
			p.Seed, project, bump, p.MaxRecipients, p.Authority,
		),
		associatedtokenaccount.NewCreateInstruction(c.payer.PublicKey(), distAccount.Solana(), p.Mint.Solana()).Build(),
	})
	if err != nil {
		return nil, fmt.Errorf("create distribution: %w", err)
	}

	c.logger.Info("Distribution created",
		zap.Stringer("dist_account", distAccount),
		zap.Stringer("token_account", distToken),
		zap.Uint16("max_recipients", p.MaxRecipients),
		zap.Stringer("signature", sig),
	)
	return state, nil
}

// FundDistribution moves amount base units from the funder's associated
// token account into the distribution.
func (c *Client) FundDistribution(distAccount, mint types.Pubkey, funder solana.PrivateKey, amount uint64) error {
	funderKey := types.PubkeyFromSolana(funder.PublicKey())
	source := TokenAccount(funderKey, mint)
	if _, err := c.account(source); err != nil {
		return fmt.Errorf("%w: funder %s", ErrNoTokenAccount, funderKey)
	}

	sig, err := c.send([]solana.Instruction{
		dist.NewFundDistributionInstruction(c.ProgramID(), funderKey, source, distAccount, TokenAccount(distAccount, mint), amount),
	}, funder)
	if err != nil {
		return fmt.Errorf("fund distribution: %w", err)
	}

	c.logger.Info("Distribution funded",
		zap.Stringer("dist_account", distAccount),
		zap.Uint64("amount", amount),
		zap.Stringer("signature", sig),
	)
	return nil
}

// CreateAndFund creates a distribution seeded and administered by the payer
// and funds it from the payer's token account.
func (c *Client) CreateAndFund(projectName string, mint types.Pubkey, maxRecipients uint16, amount uint64) (*StoredDistribution, error) {
	state, err := c.CreateDistribution(CreateParams{
		ProjectName:   projectName,
		Seed:          c.Payer(),
		Mint:          mint,
		Authority:     c.Payer(),
		MaxRecipients: maxRecipients,
	})
	if err != nil {
		return nil, err
	}
	if err := c.FundDistribution(state.DistAccount, mint, c.payer, amount); err != nil {
		return state, err
	}
	return state, nil
}

// ChangeDistAuthority hands the distribution over to newAuthority.
func (c *Client) ChangeDistAuthority(distAccount types.Pubkey, authority solana.PrivateKey, newAuthority types.Pubkey) error {
	current := types.PubkeyFromSolana(authority.PublicKey())
	_, err := c.send([]solana.Instruction{
		dist.NewSetDistAuthorityInstruction(c.ProgramID(), distAccount, current, newAuthority),
	}, authority)
	if err != nil {
		return fmt.Errorf("change dist authority: %w", err)
	}
	c.logger.Info("Dist authority changed",
		zap.Stringer("dist_account", distAccount),
		zap.Stringer("from", current),
		zap.Stringer("to", newAuthority),
	)
	return nil
}

// BeginDistribution locks the final number of recipients.
func (c *Client) BeginDistribution(distAccount types.Pubkey, authority solana.PrivateKey, numRecipients uint16) error {
	_, err := c.send([]solana.Instruction{
		dist.NewBeginDistributionInstruction(c.ProgramID(), distAccount, types.PubkeyFromSolana(authority.PublicKey()), numRecipients),
	}, authority)
	if err != nil {
		return fmt.Errorf("begin distribution: %w", err)
	}
	c.logger.Info("Distribution started",
		zap.Stringer("dist_account", distAccount),
		zap.Uint16("num_recipients", numRecipients),
	)
	return nil
}

// Distribution is a decoded record with its token account state.
type Distribution struct {
	Address      types.Pubkey
	Record       *dist.Distribution
	TokenAccount types.Pubkey
	TokenBalance uint64
	Decimals     uint8

	// Batches is the journal of Distribute transactions, oldest first.
	Batches []blockstore.Batch

	// History lists the latest transactions touching the record, newest
	// first.
	History []blockstore.SignatureInfo
}

// ShowDistribution loads a distribution record.
func (c *Client) ShowDistribution(distAccount types.Pubkey) (*Distribution, error) {
	acc, err := c.account(distAccount)
	if err != nil {
		return nil, err
	}
	if acc.Owner != c.ProgramID() {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrNotDistribution, distAccount, acc.Owner)
	}
	record, err := dist.Unpack(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDistribution, err)
	}

	out := &Distribution{
		Address:      distAccount,
		Record:       record,
		TokenAccount: TokenAccount(distAccount, record.Token),
	}
	if out.Decimals, err = c.Decimals(record.Token); err != nil {
		return nil, err
	}
	if out.TokenBalance, err = c.TokenBalance(out.TokenAccount); err != nil {
		return nil, err
	}
	if c.journal != nil {
		if out.Batches, err = c.journal.Batches(distAccount); err != nil {
			return nil, err
		}
		if out.History, err = c.journal.GetSignaturesForAddress(distAccount, HistoryLimit); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decimals returns the decimals of mint.
func (c *Client) Decimals(mint types.Pubkey) (uint8, error) {
	acc, err := c.account(mint)
	if err != nil {
		return 0, err
	}
	m, err := token.UnpackMint(acc.Data)
	if err != nil {
		return 0, fmt.Errorf("mint %s: %w", mint, err)
	}
	return m.Decimals, nil
}

// TokenBalance returns the amount held by a token account.
func (c *Client) TokenBalance(tokenAccount types.Pubkey) (uint64, error) {
	acc, err := c.account(tokenAccount)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoTokenAccount, tokenAccount)
	}
	state, err := token.UnpackAccount(acc.Data)
	if err != nil {
		return 0, fmt.Errorf("token account %s: %w", tokenAccount, err)
	}
	return state.Amount, nil
}

// CreateMint creates a new mint with the payer as mint authority.
func (c *Client) CreateMint(decimals uint8) (types.Pubkey, error) {
	mint, err := solana.NewRandomPrivateKey()
	if err != nil {
		return types.Pubkey{}, err
	}
	_, err = c.send([]solana.Instruction{
		sysprog.NewCreateAccountInstruction(
			c.bank.RentMinimum(token.MintSize),
			token.MintSize,
			solana.TokenProgramID,
			c.payer.PublicKey(),
			mint.PublicKey(),
		).Build(),
		tokenprog.NewInitializeMint2Instruction(decimals, c.payer.PublicKey(), c.payer.PublicKey(), mint.PublicKey()).Build(),
	}, mint)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("create mint: %w", err)
	}
	return types.PubkeyFromSolana(mint.PublicKey()), nil
}

// MintTo mints amount base units into wallet's associated token account,
// creating it if needed. The payer must be the mint authority.
func (c *Client) MintTo(mint, wallet types.Pubkey, amount uint64) (types.Pubkey, error) {
	if _, err := c.EnsureTokenAccounts(mint, []types.Pubkey{wallet}); err != nil {
		return types.Pubkey{}, err
	}
	dest := TokenAccount(wallet, mint)
	_, err := c.send([]solana.Instruction{
		tokenprog.NewMintToInstruction(amount, mint.Solana(), dest.Solana(), c.payer.PublicKey(), nil).Build(),
	})
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("mint to %s: %w", wallet, err)
	}
	return dest, nil
}

// EnsureTokenAccounts creates the associated token accounts of wallets that
// do not exist yet and returns how many were created.
func (c *Client) EnsureTokenAccounts(mint types.Pubkey, wallets []types.Pubkey) (int, error) {
	var pending []solana.Instruction
	seen := make(map[types.Pubkey]struct{}, len(wallets))
	created := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if _, err := c.send(pending); err != nil {
			return fmt.Errorf("create token accounts: %w", err)
		}
		created += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, wallet := range wallets {
		if _, dup := seen[wallet]; dup {
			continue
		}
		seen[wallet] = struct{}{}

		ok, err := c.hasAccount(TokenAccount(wallet, mint))
		if err != nil {
			return created, err
		}
		if ok {
			continue
		}

		base := associatedtokenaccount.NewCreateInstruction(c.payer.PublicKey(), wallet.Solana(), mint.Solana()).Build()
		pending = append(pending, solana.NewInstruction(
			ata.ProgramID.Solana(),
			base.Accounts(),
			[]byte{ata.InstructionCreateIdempotent},
		))
		if len(pending) == maxCreatesPerTx {
			if err := flush(); err != nil {
				return created, err
			}
		}
	}
	if err := flush(); err != nil {
		return created, err
	}
	if created > 0 {
		c.logger.Info("Created token accounts", zap.Int("count", created), zap.Stringer("mint", mint))
	}
	return created, nil
}

func (c *Client) hasAccount(key types.Pubkey) (bool, error) {
	_, err := c.bank.GetAccount(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, accounts.ErrAccountNotFound):
		return false, nil
	default:
		return false, err
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/client"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
)

// lamportDecimals is the number of decimals in one SOL.
const lamportDecimals = 9

func init() {
	register(command{name: "create-and-fund", usage: "Create a distribution owned by the payer and fund it", ledger: true, run: cmdCreateAndFund})
	register(command{name: "create-distribution", usage: "Create a distribution record and its token account", ledger: true, run: cmdCreateDistribution})
	register(command{name: "dist-account-from-seed", usage: "Print the distribution address for a seed and project", run: cmdDistAccountFromSeed})
	register(command{name: "change-dist-authority", usage: "Hand a distribution over to a new authority", ledger: true, run: cmdChangeDistAuthority})
	register(command{name: "show-distribution", usage: "Print a distribution record and its batch journal", ledger: true, run: cmdShowDistribution})
	register(command{name: "fund-distribution", usage: "Move tokens into a distribution", ledger: true, run: cmdFundDistribution})
	register(command{name: "begin-distribution", usage: "Lock the number of recipients", ledger: true, run: cmdBeginDistribution})
	register(command{name: "distribute", usage: "Pay the recipients listed in the recipient file", ledger: true, run: cmdDistribute})
	register(command{name: "keygen", usage: "Write a new keypair file", run: cmdKeygen})
	register(command{name: "airdrop", usage: "Fund an address with SOL from the local faucet", ledger: true, run: cmdAirdrop})
	register(command{name: "create-mint", usage: "Create a token mint owned by the payer", ledger: true, run: cmdCreateMint})
	register(command{name: "mint-to", usage: "Mint tokens to a wallet", ledger: true, run: cmdMintTo})
	register(command{name: "snapshot", usage: "Write an accounts snapshot of the ledger", ledger: true, run: cmdSnapshot})
	register(command{name: "stats", usage: "Print ledger statistics", ledger: true, run: cmdStats})
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// mint resolves --mint, falling back to the configured token_mint.
func (a *app) mint(input string) (types.Pubkey, error) {
	if input != "" {
		return types.PubkeyFromBase58(input)
	}
	if mint, ok := a.cfg.Mint(); ok {
		return mint, nil
	}
	return types.Pubkey{}, errors.New("--mint is required")
}

// target resolves the distribution from --state-file or --dist-account.
// The returned state is nil when no state file was given.
func target(stateFile, distAccount string) (types.Pubkey, *client.StoredDistribution, error) {
	switch {
	case stateFile != "":
		state, err := client.LoadState(stateFile)
		if err != nil {
			return types.Pubkey{}, nil, err
		}
		return state.DistAccount, state, nil
	case distAccount != "":
		key, err := types.PubkeyFromBase58(distAccount)
		return key, nil, err
	default:
		return types.Pubkey{}, nil, errors.New("--state-file or --dist-account is required")
	}
}

func maxRecipients(n int) (uint16, error) {
	if n <= 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("max recipients %d out of range", n)
	}
	return uint16(n), nil
}

func cmdCreateAndFund(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "create-and-fund")
	project := fs.String("project", "", "Project name (up to 32 bytes)")
	mintFlag := fs.String("mint", "", "Token mint")
	maxFlag := fs.Int("max-recipients", a.cfg.MaxRecipients, "Capacity of the distribution")
	amount := fs.String("amount", "", "Token amount to fund, in whole tokens")
	stateFile := fs.String("state-file", "", "Where to write the state file (default <project>.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *amount == "" {
		return errors.New("--project and --amount are required")
	}

	mint, err := a.mint(*mintFlag)
	if err != nil {
		return err
	}
	capacity, err := maxRecipients(*maxFlag)
	if err != nil {
		return err
	}
	decimals, err := a.client.Decimals(mint)
	if err != nil {
		return err
	}
	units, err := client.ParseAmount(*amount, decimals)
	if err != nil {
		return err
	}

	state, err := a.client.CreateAndFund(*project, mint, capacity, units)
	if state != nil {
		if saveErr := saveState(a, *stateFile, state); saveErr != nil && err == nil {
			err = saveErr
		}
	}
	if err != nil {
		return err
	}
	printField(a.out, "Funded", client.FormatAmount(units, decimals))
	return nil
}

func cmdCreateDistribution(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "create-distribution")
	project := fs.String("project", "", "Project name (up to 32 bytes)")
	seedFlag := fs.String("seed", "", "Seed address or keypair file (default payer)")
	mintFlag := fs.String("mint", "", "Token mint")
	authorityFlag := fs.String("authority", "", "Dist authority address or keypair file (default payer)")
	maxFlag := fs.Int("max-recipients", a.cfg.MaxRecipients, "Capacity of the distribution")
	recipientFile := fs.String("recipient-file", "", "Recipient list (default <project>.txt)")
	stateFile := fs.String("state-file", "", "Where to write the state file (default <project>.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return errors.New("--project is required")
	}

	params := client.CreateParams{
		ProjectName:   *project,
		Seed:          a.client.Payer(),
		Authority:     a.client.Payer(),
		RecipientFile: *recipientFile,
	}
	var err error
	if *seedFlag != "" {
		if params.Seed, err = resolvePubkey(*seedFlag); err != nil {
			return err
		}
	}
	if *authorityFlag != "" {
		if params.Authority, err = resolvePubkey(*authorityFlag); err != nil {
			return err
		}
		params.AuthorityInput = *authorityFlag
	}
	if params.Mint, err = a.mint(*mintFlag); err != nil {
		return err
	}
	if params.MaxRecipients, err = maxRecipients(*maxFlag); err != nil {
		return err
	}

	state, err := a.client.CreateDistribution(params)
	if err != nil {
		return err
	}
	return saveState(a, *stateFile, state)
}

func saveState(a *app, path string, state *client.StoredDistribution) error {
	if path == "" {
		path = state.ProjectName + ".json"
	}
	if err := client.SaveState(path, state); err != nil {
		return err
	}
	printField(a.out, "Dist account", state.DistAccount)
	printField(a.out, "Token account", state.TokenAccount)
	printField(a.out, "State file", path)
	return nil
}

func cmdDistAccountFromSeed(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "dist-account-from-seed")
	seedFlag := fs.String("seed", "", "Seed address or keypair file (default payer)")
	project := fs.String("project", "", "Project name (up to 32 bytes)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return errors.New("--project is required")
	}

	input := *seedFlag
	if input == "" {
		input = a.cfg.Keypair
	}
	seed, err := resolvePubkey(input)
	if err != nil {
		return err
	}
	projectSeed, err := client.ProjectSeed(*project)
	if err != nil {
		return err
	}
	addr, bump, err := dist.FindDistributionAddress(seed, projectSeed, a.cfg.Program())
	if err != nil {
		return err
	}
	printField(a.out, "Dist account", addr)
	printField(a.out, "Bump", bump)
	return nil
}

func cmdChangeDistAuthority(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "change-dist-authority")
	stateFile := fs.String("state-file", "", "State file of the distribution")
	distAccount := fs.String("dist-account", "", "Distribution address")
	authorityFlag := fs.String("authority", "", "Current authority keypair file (default payer)")
	newAuthorityFlag := fs.String("new-authority", "", "New authority address or keypair file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *newAuthorityFlag == "" {
		return errors.New("--new-authority is required")
	}

	addr, state, err := target(*stateFile, *distAccount)
	if err != nil {
		return err
	}
	authority, err := a.signer(*authorityFlag)
	if err != nil {
		return err
	}
	newAuthority, err := resolvePubkey(*newAuthorityFlag)
	if err != nil {
		return err
	}

	if err := a.client.ChangeDistAuthority(addr, authority, newAuthority); err != nil {
		return err
	}
	if state != nil {
		state.DistAuthority = newAuthority
		state.DistAuthorityInput = *newAuthorityFlag
		if err := client.SaveState(*stateFile, state); err != nil {
			return err
		}
	}
	printField(a.out, "Dist authority", newAuthority)
	return nil
}

func cmdShowDistribution(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "show-distribution")
	stateFile := fs.String("state-file", "", "State file of the distribution")
	distAccount := fs.String("dist-account", "", "Distribution address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr, _, err := target(*stateFile, *distAccount)
	if err != nil {
		return err
	}
	d, err := a.client.ShowDistribution(addr)
	if err != nil {
		return err
	}

	r := d.Record
	printField(a.out, "Dist account", d.Address)
	printField(a.out, "Version", r.Version)
	printField(a.out, "Seed", types.Pubkey(r.Seed.Seed))
	printField(a.out, "Project", types.Pubkey(r.Seed.ProjectName))
	printField(a.out, "Bump", r.Seed.Bump)
	printField(a.out, "Dist authority", r.Authority)
	printField(a.out, "Token", r.Token)
	printField(a.out, "Token account", d.TokenAccount)
	printField(a.out, "Token balance", client.FormatAmount(d.TokenBalance, d.Decimals))
	printField(a.out, "Funded amount", client.FormatAmount(r.FundedAmount, d.Decimals))
	printField(a.out, "Max recipients", r.MaxRecipients)
	printField(a.out, "Num recipients", r.NumRecipients)
	printField(a.out, "Sent recipients", r.SentRecipients)
	printField(a.out, "Remaining recipients", r.Remaining())
	printField(a.out, "Share", client.FormatAmount(r.RecipientShare(), d.Decimals))

	if len(d.Batches) > 0 {
		fmt.Fprintln(a.out, "\nBatches:")
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tRECIPIENTS\tTIME\tSIGNATURE\tSTATUS")
		for _, b := range d.Batches {
			fmt.Fprintf(tw, "%d\t%d..%d\t%s\t%s\t%s\n",
				b.Slot, b.Skip+1, b.Skip+b.Count, blockTime(b.BlockTime), b.Signature, status(b.Err))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(d.History) > 0 {
		fmt.Fprintln(a.out, "\nTransactions:")
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tTIME\tSIGNATURE\tSTATUS")
		for _, h := range d.History {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", h.Slot, blockTime(h.BlockTime), h.Signature, status(h.Err))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func blockTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func status(errText string) string {
	if errText == "" {
		return "ok"
	}
	return errText
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "stats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bank := a.bank.Stats()
	blocks, err := a.blocks.GetStats()
	if err != nil {
		return err
	}
	printField(a.out, "Slot", bank.Slot)
	printField(a.out, "Blockhash", bank.Blockhash)
	printField(a.out, "Bank hash", bank.BankHash)
	printField(a.out, "Accounts", bank.AccountsCount)
	printField(a.out, "Blocks", blocks.BlockCount)
	printField(a.out, "Transactions", blocks.TransactionCount)
	printField(a.out, "Blockstore bytes", blocks.DatabaseSize)
	return nil
}

func cmdFundDistribution(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "fund-distribution")
	stateFile := fs.String("state-file", "", "State file of the distribution")
	distAccount := fs.String("dist-account", "", "Distribution address")
	mintFlag := fs.String("mint", "", "Token mint (default from state file)")
	funderFlag := fs.String("funder", "", "Funder keypair file (default payer)")
	amount := fs.String("amount", "", "Token amount, in whole tokens")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *amount == "" {
		return errors.New("--amount is required")
	}

	addr, state, err := target(*stateFile, *distAccount)
	if err != nil {
		return err
	}
	var mint types.Pubkey
	if *mintFlag == "" && state != nil {
		mint = state.TokenAddress
	} else if mint, err = a.mint(*mintFlag); err != nil {
		return err
	}
	funder, err := a.signer(*funderFlag)
	if err != nil {
		return err
	}
	decimals, err := a.client.Decimals(mint)
	if err != nil {
		return err
	}
	units, err := client.ParseAmount(*amount, decimals)
	if err != nil {
		return err
	}

	if err := a.client.FundDistribution(addr, mint, funder, units); err != nil {
		return err
	}
	printField(a.out, "Funded", client.FormatAmount(units, decimals))
	return nil
}

func cmdBeginDistribution(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "begin-distribution")
	stateFile := fs.String("state-file", "", "State file of the distribution")
	distAccount := fs.String("dist-account", "", "Distribution address")
	authorityFlag := fs.String("authority", "", "Dist authority keypair file (default payer)")
	num := fs.Int("num-recipients", 0, "Number of recipients (default the recipient file length)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr, state, err := target(*stateFile, *distAccount)
	if err != nil {
		return err
	}
	n := *num
	if !fs.Changed("num-recipients") {
		if state == nil {
			return errors.New("--num-recipients is required without --state-file")
		}
		recipients, err := client.ReadRecipients(state.RecipientFile)
		if err != nil {
			return err
		}
		n = len(recipients)
	}
	if n < 0 || n > math.MaxUint16 {
		return fmt.Errorf("num recipients %d out of range", n)
	}
	authority, err := a.signer(*authorityFlag)
	if err != nil {
		return err
	}

	if err := a.client.BeginDistribution(addr, authority, uint16(n)); err != nil {
		return err
	}
	printField(a.out, "Num recipients", n)
	return nil
}

func cmdDistribute(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "distribute")
	stateFile := fs.String("state-file", "", "State file of the distribution")
	authorityFlag := fs.String("authority", "", "Dist authority keypair file (default payer)")
	recipientFile := fs.String("recipient-file", "", "Recipient list (default from state file)")
	skip := fs.Int("skip", 0, "Number of leading recipients already paid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stateFile == "" {
		return errors.New("--state-file is required")
	}

	state, err := client.LoadState(*stateFile)
	if err != nil {
		return err
	}
	path := state.RecipientFile
	if *recipientFile != "" {
		path = *recipientFile
	}
	recipients, err := client.ReadRecipients(path)
	if err != nil {
		return err
	}
	authority, err := a.signer(*authorityFlag)
	if err != nil {
		return err
	}

	report, err := a.client.Distribute(ctx, client.DistributeRequest{
		Distribution: state.DistAccount,
		Mint:         state.TokenAddress,
		Authority:    authority,
		Recipients:   recipients,
		Skip:         *skip,
	})
	if report != nil {
		a.logger.Info("Distribute finished",
			zap.Int("batches", report.Batches),
			zap.Int("paid", report.Paid),
			zap.Int("next_skip", report.NextSkip),
		)
		printField(a.out, "Paid", report.Paid)
		printField(a.out, "Next skip", report.NextSkip)
	}
	return err
}

func cmdKeygen(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "keygen")
	outfile := fs.StringP("outfile", "o", a.cfg.Keypair, "Keypair file to write")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*outfile); err == nil && !*force {
		return fmt.Errorf("%s exists, use --force to overwrite", *outfile)
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}

	// solana-keygen format: a JSON array of the 64 secret key bytes.
	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(*outfile); dir != "." {
		if err := os.MkdirAll(dir, ledgerDirFileMode); err != nil {
			return err
		}
	}
	if err := os.WriteFile(*outfile, data, keypairFileMode); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	printField(a.out, "Pubkey", key.PublicKey())
	return nil
}

func cmdAirdrop(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "airdrop")
	to := fs.String("to", "", "Recipient address or keypair file (default payer)")
	sol := fs.String("sol", "1", "Amount in SOL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dest := a.client.Payer()
	if *to != "" {
		var err error
		if dest, err = resolvePubkey(*to); err != nil {
			return err
		}
	}
	lamports, err := client.ParseAmount(*sol, lamportDecimals)
	if err != nil {
		return err
	}
	sig, err := a.bank.RequestAirdrop(dest, lamports)
	if err != nil {
		return fmt.Errorf("airdrop: %w", err)
	}
	balance, err := a.bank.GetBalance(dest)
	if err != nil {
		return err
	}
	printField(a.out, "Signature", sig)
	printField(a.out, "Balance", client.FormatAmount(balance, lamportDecimals))
	return nil
}

func cmdCreateMint(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "create-mint")
	decimals := fs.Uint8("decimals", 9, "Mint decimals")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := a.client.CreateMint(*decimals)
	if err != nil {
		return err
	}
	printField(a.out, "Mint", mint)
	return nil
}

func cmdMintTo(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "mint-to")
	mintFlag := fs.String("mint", "", "Token mint")
	to := fs.String("to", "", "Wallet address or keypair file (default payer)")
	amount := fs.String("amount", "", "Token amount, in whole tokens")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *amount == "" {
		return errors.New("--amount is required")
	}

	mint, err := a.mint(*mintFlag)
	if err != nil {
		return err
	}
	wallet := a.client.Payer()
	if *to != "" {
		if wallet, err = resolvePubkey(*to); err != nil {
			return err
		}
	}
	decimals, err := a.client.Decimals(mint)
	if err != nil {
		return err
	}
	units, err := client.ParseAmount(*amount, decimals)
	if err != nil {
		return err
	}

	dest, err := a.client.MintTo(mint, wallet, units)
	if err != nil {
		return err
	}
	balance, err := a.client.TokenBalance(dest)
	if err != nil {
		return err
	}
	printField(a.out, "Token account", dest)
	printField(a.out, "Balance", client.FormatAmount(balance, decimals))
	return nil
}

func cmdSnapshot(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "snapshot")
	out := fs.String("out", "", "Snapshot file (default <snapshot_dir>/slot-<slot>.snap)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *out
	if path == "" {
		if err := os.MkdirAll(a.cfg.SnapshotDir, ledgerDirFileMode); err != nil {
			return err
		}
		path = filepath.Join(a.cfg.SnapshotDir, fmt.Sprintf("slot-%d.snap", a.bank.Slot()))
	}
	header, err := accounts.CreateSnapshot(a.accts, path)
	if err != nil {
		return err
	}
	printField(a.out, "Snapshot", path)
	printField(a.out, "Slot", header.Slot)
	printField(a.out, "Accounts", header.AccountsCount)
	printField(a.out, "Accounts hash", header.AccountsHash)
	return nil
}

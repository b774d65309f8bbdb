// X1-Airdrop: token distribution program and CLI over a local ledger.
//
// The CLI creates distribution records, funds them, and pays recipients in
// batches. Every command runs against a single-node ledger stored under
// --ledger, so distributions can be rehearsed end to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/config"
	"github.com/fortiblox/X1-Airdrop/internal/logger"
	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/blockstore"
	"github.com/fortiblox/X1-Airdrop/pkg/client"
	"github.com/fortiblox/X1-Airdrop/pkg/replayer"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Ledger layout under --ledger.
const (
	accountsDirName   = "accounts"
	blockstoreFile    = "blockstore.db"
	keypairFileMode   = 0o600
	ledgerDirFileMode = 0o755
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "Received signal %v, stopping after the current transaction...\n", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// command is one CLI subcommand.
type command struct {
	name  string
	usage string

	// ledger commands open the local ledger and load the payer keypair.
	ledger bool

	run func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{}

func register(c command) {
	commands[c.name] = c
}

// app carries the state shared by subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	payer  solana.PrivateKey
	accts  *accounts.BadgerDB
	blocks *blockstore.BoltStore
	bank   *replayer.Bank
	client *client.Client
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("airdrop", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(out)

	configPath := fs.String("config", "", "Config file (yaml, toml or json)")
	ledgerDir := fs.String("ledger", config.DefaultLedgerDir, "Ledger directory for accounts and blocks")
	keypair := fs.String("keypair", config.DefaultKeypair, "Payer keypair file")
	programID := fs.String("program-id", types.AirdropProgramAddr.String(), "Distribution program address")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", config.DefaultLogFormat, "Log format: console, json")
	chunkSize := fs.Int("chunk-size", config.DefaultChunkSize, "Recipients per distribute transaction")
	showVersion := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: airdrop [global flags] <command> [flags]\n\nCommands:\n")
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-24s %s\n", name, commands[name].usage)
		}
		fmt.Fprintf(out, "\nGlobal flags:\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintf(out, "X1-Airdrop %s (%s)\n", Version, GitCommit)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Explicit flags win over the config file and environment.
	if fs.Changed("ledger") {
		cfg.LedgerDir = *ledgerDir
		cfg.SnapshotDir = filepath.Join(cfg.LedgerDir, "snapshots")
	}
	if fs.Changed("keypair") {
		cfg.Keypair = *keypair
	}
	if fs.Changed("program-id") {
		cfg.ProgramID = *programID
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	if fs.Changed("chunk-size") {
		cfg.ChunkSize = *chunkSize
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a := &app{cfg: cfg, logger: log, out: out}
	if cmd.ledger {
		if err := a.open(); err != nil {
			return err
		}
		defer a.close()
	}
	return cmd.run(ctx, a, fs.Args()[1:])
}

// open loads the payer and the local ledger.
func (a *app) open() error {
	payer, err := loadKeypair(a.cfg.Keypair)
	if err != nil {
		return err
	}
	a.payer = payer

	if err := os.MkdirAll(a.cfg.LedgerDir, ledgerDirFileMode); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	a.accts, err = accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(a.cfg.LedgerDir, accountsDirName)))
	if err != nil {
		return fmt.Errorf("open accounts: %w", err)
	}
	a.blocks, err = blockstore.Open(blockstore.DefaultConfig(filepath.Join(a.cfg.LedgerDir, blockstoreFile)))
	if err != nil {
		a.accts.Close()
		return fmt.Errorf("open blockstore: %w", err)
	}

	bankConfig := replayer.DefaultConfig()
	bankConfig.ProgramID = a.cfg.Program()
	bankConfig.ComputeLimit = a.cfg.ComputeLimit
	a.bank, err = replayer.NewBank(a.accts, a.blocks, bankConfig, a.logger.Named("bank"))
	if err != nil {
		a.close()
		return err
	}

	a.client = client.New(a.bank, a.payer,
		client.WithJournal(a.blocks),
		client.WithChunkSize(a.cfg.ChunkSize),
		client.WithLogger(a.logger.Named("client")),
	)
	a.logger.Debug("Ledger open",
		zap.String("ledger", a.cfg.LedgerDir),
		zap.Uint64("slot", a.bank.Slot()),
		zap.Stringer("payer", a.client.Payer()),
	)
	return nil
}

func (a *app) close() {
	if a.blocks != nil {
		if err := a.blocks.Close(); err != nil {
			a.logger.Warn("Close blockstore", zap.Error(err))
		}
	}
	if a.accts != nil {
		if err := a.accts.RunGC(); err != nil {
			a.logger.Warn("Accounts value log GC", zap.Error(err))
		}
		if err := a.accts.Close(); err != nil {
			a.logger.Warn("Close accounts", zap.Error(err))
		}
	}
}

func loadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return key, nil
}

// resolvePubkey accepts a base58 address or a keypair file path.
func resolvePubkey(input string) (types.Pubkey, error) {
	input = strings.TrimSpace(input)
	if key, err := types.PubkeyFromBase58(input); err == nil {
		return key, nil
	}
	key, err := loadKeypair(input)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("%q is neither an address nor a keypair file", input)
	}
	return types.PubkeyFromSolana(key.PublicKey()), nil
}

// signer returns the keypair at path, or the payer when path is empty.
func (a *app) signer(path string) (solana.PrivateKey, error) {
	if path == "" {
		return a.payer, nil
	}
	return loadKeypair(path)
}

// printField writes one "name: value" line.
func printField(w io.Writer, name string, value interface{}) {
	fmt.Fprintf(w, "%-22s %v\n", name+":", value)
}

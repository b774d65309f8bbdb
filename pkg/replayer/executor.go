// Package replayer executes airdrop transactions against the local ledger.
//
// TransactionExecutor runs a single transaction through the native program
// registry. Bank wraps it with the slot, blockhash and history bookkeeping of
// a single-node ledger.
package replayer

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/accounts"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/ata"
	sysProgram "github.com/fortiblox/X1-Airdrop/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/token"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/syscall"
)

// Transaction-level errors. These are reported with Index -1.
var (
	ErrNoSignatures           = errors.New("transaction has no signatures")
	ErrSignatureFailure       = errors.New("transaction signature verification failure")
	ErrAddressLookupsDisabled = errors.New("address lookup tables are not supported")
	ErrInvalidAccountIndex    = errors.New("transaction references an account index out of range")
	ErrBlockhashNotFound      = errors.New("blockhash not found")
	ErrAlreadyProcessed       = errors.New("transaction already processed")
)

// TransactionError locates a failure inside a transaction.
type TransactionError struct {
	// Index is the failing top-level instruction, or -1 when the
	// transaction failed before any instruction ran.
	Index int
	Err   error
}

func (e *TransactionError) Error() string {
	if e.Index < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ExecutorOption configures a TransactionExecutor.
type ExecutorOption func(*TransactionExecutor)

// WithComputeLimit sets the per-transaction compute budget.
func WithComputeLimit(limit uint64) ExecutorOption {
	return func(e *TransactionExecutor) { e.computeLimit = limit }
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *TransactionExecutor) { e.logger = l }
}

// WithoutSignatureVerification disables ed25519 checks. Signer flags still
// come from the message header.
func WithoutSignatureVerification() ExecutorOption {
	return func(e *TransactionExecutor) { e.skipSigVerify = true }
}

// TransactionExecutor executes individual transactions.
type TransactionExecutor struct {
	accounts      accounts.DB
	programs      map[types.Pubkey]svm.Program
	computeLimit  uint64
	skipSigVerify bool
	logger        *zap.Logger
}

// NewTransactionExecutor creates an executor with the system, token and
// associated token programs registered.
func NewTransactionExecutor(accts accounts.DB, opts ...ExecutorOption) *TransactionExecutor {
	e := &TransactionExecutor{
		accounts:     accts,
		programs:     make(map[types.Pubkey]svm.Program),
		computeLimit: svm.CUDefault,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.RegisterProgram(sysProgram.ProgramID, sysProgram.NewProcessor())
	e.RegisterProgram(token.ProgramID, token.NewProcessor())
	e.RegisterProgram(ata.ProgramID, ata.NewProcessor())
	return e
}

// RegisterProgram installs a native program at id, replacing any existing one.
func (e *TransactionExecutor) RegisterProgram(id types.Pubkey, program svm.Program) {
	e.programs[id] = program
}

// IsProgram reports whether id is a registered program.
func (e *TransactionExecutor) IsProgram(id types.Pubkey) bool {
	_, ok := e.programs[id]
	return ok
}

// loadedAccount is one transaction account during execution.
type loadedAccount struct {
	key        types.Pubkey
	isSigner   bool
	isWritable bool
	original   *accounts.Account
	account    *accounts.Account
}

// Execute executes a transaction and commits its account changes if every
// instruction succeeds. A failed transaction leaves state untouched.
func (e *TransactionExecutor) Execute(tx *solana.Transaction) *svm.ExecutionResult {
	result := &svm.ExecutionResult{}
	if len(tx.Signatures) == 0 {
		result.Err = &TransactionError{Index: -1, Err: ErrNoSignatures}
		return result
	}
	result.Signature = types.Signature(tx.Signatures[0])

	if err := e.sanitize(tx); err != nil {
		result.Err = &TransactionError{Index: -1, Err: err}
		return result
	}

	meter := svm.NewComputeMeter(e.computeLimit)
	loaded, err := e.loadAccounts(tx)
	if err != nil {
		result.Err = &TransactionError{Index: -1, Err: err}
		return result
	}

	for i, ci := range tx.Message.Instructions {
		if err := e.executeInstruction(&ci, loaded, meter, &result.Logs); err != nil {
			result.ComputeUnitsConsumed = meter.Consumed()
			result.Err = &TransactionError{Index: i, Err: err}
			e.logger.Debug("transaction failed",
				zap.Stringer("signature", result.Signature),
				zap.Int("instruction", i),
				zap.Error(err),
			)
			return result
		}
	}
	result.ComputeUnitsConsumed = meter.Consumed()

	entries := make([]accounts.AccountEntry, 0, len(loaded))
	for _, la := range loaded {
		if !la.isWritable || la.account.Equal(la.original) {
			continue
		}
		entries = append(entries, accounts.AccountEntry{Pubkey: la.key, Account: la.account})
		result.Modified = append(result.Modified, la.key)
	}
	if err := e.accounts.Apply(entries); err != nil {
		result.Modified = nil
		result.Err = &TransactionError{Index: -1, Err: fmt.Errorf("commit: %w", err)}
		return result
	}

	result.Success = true
	return result
}

func (e *TransactionExecutor) sanitize(tx *solana.Transaction) error {
	msg := &tx.Message
	if len(msg.AddressTableLookups) > 0 {
		return ErrAddressLookupsDisabled
	}
	if int(msg.Header.NumRequiredSignatures) != len(tx.Signatures) ||
		len(msg.AccountKeys) < int(msg.Header.NumRequiredSignatures) {
		return fmt.Errorf("%w: %d signatures for %d required signers",
			ErrSignatureFailure, len(tx.Signatures), msg.Header.NumRequiredSignatures)
	}
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			return ErrInvalidAccountIndex
		}
		for _, idx := range ci.Accounts {
			if int(idx) >= len(msg.AccountKeys) {
				return ErrInvalidAccountIndex
			}
		}
	}
	if e.skipSigVerify {
		return nil
	}
	if err := tx.VerifySignatures(); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureFailure, err)
	}
	return nil
}

// loadAccounts loads all accounts referenced by a transaction. Unknown
// accounts load as empty system accounts; registered programs load as
// executable, read-only accounts.
func (e *TransactionExecutor) loadAccounts(tx *solana.Transaction) ([]*loadedAccount, error) {
	header := tx.Message.Header
	numSigners := int(header.NumRequiredSignatures)
	numReadonlySigned := int(header.NumReadonlySignedAccounts)
	numReadonlyUnsigned := int(header.NumReadonlyUnsignedAccounts)
	total := len(tx.Message.AccountKeys)

	loaded := make([]*loadedAccount, total)
	for i, pk := range tx.Message.AccountKeys {
		key := types.PubkeyFromSolana(pk)
		la := &loadedAccount{
			key:        key,
			isSigner:   i < numSigners,
			isWritable: isAccountWritable(i, numSigners, numReadonlySigned, numReadonlyUnsigned, total),
		}

		if e.IsProgram(key) {
			la.isWritable = false
			la.original = &accounts.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true}
		} else {
			acc, err := e.accounts.GetAccount(key)
			switch {
			case errors.Is(err, accounts.ErrAccountNotFound):
				acc = &accounts.Account{Owner: types.SystemProgramAddr}
			case err != nil:
				return nil, fmt.Errorf("load account %s: %w", key, err)
			}
			la.original = acc
		}
		la.account = la.original.Clone()
		loaded[i] = la
	}
	return loaded, nil
}

// isAccountWritable determines if an account is writable based on its position.
func isAccountWritable(index, numSigners, numReadonlySigned, numReadonlyUnsigned, total int) bool {
	if index < numSigners {
		// Signer accounts: first (numSigners - numReadonlySigned) are writable
		return index < (numSigners - numReadonlySigned)
	}
	// Non-signer accounts: first (total - numSigners - numReadonlyUnsigned) are writable
	nonSignerIndex := index - numSigners
	numWritableUnsigned := total - numSigners - numReadonlyUnsigned
	return nonSignerIndex < numWritableUnsigned
}

// executeInstruction runs one top-level instruction. Panics inside a program
// are reported as ErrProgramFailedToComplete.
func (e *TransactionExecutor) executeInstruction(
	ci *solana.CompiledInstruction,
	loaded []*loadedAccount,
	meter *svm.ComputeMeter,
	logs *[]string,
) (err error) {
	ctx := &invokeContext{
		exec:      e,
		programID: loaded[ci.ProgramIDIndex].key,
		accounts:  make([]*svm.AccountInfo, len(ci.Accounts)),
		meter:     meter,
		logs:      logs,
		depth:     1,
	}
	for i, idx := range ci.Accounts {
		la := loaded[idx]
		ctx.accounts[i] = &svm.AccountInfo{
			Key:        la.key,
			IsSigner:   la.isSigner,
			IsWritable: la.isWritable,
			Account:    la.account,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("program panicked",
				zap.Stringer("program", ctx.programID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", svm.ErrProgramFailedToComplete, r)
		}
	}()
	return e.process(ctx, ci.Data)
}

// process runs a program in the frame described by ctx and verifies the
// account changes it made.
func (e *TransactionExecutor) process(ctx *invokeContext, data []byte) error {
	program, ok := e.programs[ctx.programID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnsupportedProgramID, ctx.programID)
	}

	ctx.snapshot()
	ctx.appendLog(fmt.Sprintf("Program %s invoke [%d]", ctx.programID, ctx.depth))
	before := ctx.meter.Consumed()

	err := program.Process(ctx, data)
	if err == nil {
		err = ctx.verify()
	}

	ctx.appendLog(fmt.Sprintf("Program %s consumed %d of %d compute units",
		ctx.programID, ctx.meter.Consumed()-before, ctx.meter.Limit()))
	if err != nil {
		ctx.appendLog(fmt.Sprintf("Program %s failed: %v", ctx.programID, err))
		return err
	}
	ctx.appendLog(fmt.Sprintf("Program %s success", ctx.programID))
	return nil
}

// invokeContext is one frame of the invoke stack.
type invokeContext struct {
	exec      *TransactionExecutor
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	meter     *svm.ComputeMeter
	logs      *[]string
	depth     int

	// pre holds the state of each distinct account when the frame started,
	// refreshed after every successful cross-program call.
	pre map[types.Pubkey]*accounts.Account
}

// ProgramID returns the executing program.
func (c *invokeContext) ProgramID() types.Pubkey { return c.programID }

// AccountCount returns the number of instruction accounts.
func (c *invokeContext) AccountCount() int { return len(c.accounts) }

// GetAccount returns the account at the given index.
func (c *invokeContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return c.accounts[index], nil
}

// GetRentMinimum returns the rent-exempt minimum.
func (c *invokeContext) GetRentMinimum(dataLen uint64) uint64 {
	return svm.RentMinimum(dataLen)
}

// ConsumeCU charges the shared transaction meter.
func (c *invokeContext) ConsumeCU(units uint64) error {
	return c.meter.Consume(units)
}

// Log records a program log message.
func (c *invokeContext) Log(msg string) {
	c.appendLog("Program log: " + msg)
}

func (c *invokeContext) appendLog(line string) {
	*c.logs = append(*c.logs, line)
}

// Invoke performs a cross-program invocation. The callee sees the caller's
// account objects, with privileges no greater than the caller holds plus the
// program derived addresses signed for through signerSeeds.
func (c *invokeContext) Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error {
	if c.depth >= svm.CPIDepthMax {
		return svm.ErrCallDepth
	}
	if err := c.meter.Consume(svm.CUInvokeBase); err != nil {
		return err
	}

	cpi, err := syscall.TranslateInstruction(ix)
	if err != nil {
		return err
	}

	caller := make(map[types.Pubkey]syscall.Privileges, len(c.accounts))
	infos := make(map[types.Pubkey]*svm.AccountInfo, len(c.accounts))
	for _, info := range c.accounts {
		p := caller[info.Key]
		p.IsSigner = p.IsSigner || info.IsSigner
		p.IsWritable = p.IsWritable || info.IsWritable
		caller[info.Key] = p
		infos[info.Key] = info
	}
	if _, ok := infos[cpi.ProgramID]; !ok {
		return fmt.Errorf("%w: program %s", syscall.ErrCPIAccountMissing, cpi.ProgramID)
	}

	signers, err := syscall.SignersFromSeeds(c.programID, signerSeeds)
	if err != nil {
		return err
	}
	privs, err := syscall.CheckPrivileges(cpi.Accounts, caller, signers)
	if err != nil {
		return err
	}

	callee := &invokeContext{
		exec:      c.exec,
		programID: cpi.ProgramID,
		accounts:  make([]*svm.AccountInfo, len(cpi.Accounts)),
		meter:     c.meter,
		logs:      c.logs,
		depth:     c.depth + 1,
	}
	for i, meta := range cpi.Accounts {
		key := types.PubkeyFromSolana(meta.PublicKey)
		callee.accounts[i] = &svm.AccountInfo{
			Key:        key,
			IsSigner:   privs[i].IsSigner,
			IsWritable: privs[i].IsWritable,
			Account:    infos[key].Account,
		}
	}

	if err := c.exec.process(callee, cpi.Data); err != nil {
		return err
	}

	for _, info := range callee.accounts {
		c.pre[info.Key] = info.Account.Clone()
	}
	return nil
}

func (c *invokeContext) snapshot() {
	c.pre = make(map[types.Pubkey]*accounts.Account, len(c.accounts))
	for _, info := range c.accounts {
		if _, ok := c.pre[info.Key]; !ok {
			c.pre[info.Key] = info.Account.Clone()
		}
	}
}

// verify enforces the runtime's account rules on the changes the frame's
// program made directly:
//   - only the owner may change data or debit lamports
//   - read-only accounts may not change at all
//   - only the owner of a writable account may reassign it
//   - lamports are neither created nor destroyed
func (c *invokeContext) verify() error {
	writable := make(map[types.Pubkey]bool, len(c.accounts))
	current := make(map[types.Pubkey]*accounts.Account, len(c.accounts))
	for _, info := range c.accounts {
		writable[info.Key] = writable[info.Key] || info.IsWritable
		current[info.Key] = info.Account
	}

	var preSum, postSum uint64
	for key, pre := range c.pre {
		post := current[key]
		preSum += pre.Lamports
		postSum += post.Lamports

		if !writable[key] {
			switch {
			case post.Lamports != pre.Lamports:
				return fmt.Errorf("%w: %s", svm.ErrReadonlyLamportChange, key)
			case post.Owner != pre.Owner:
				return fmt.Errorf("%w: %s", svm.ErrModifiedProgramID, key)
			case !bytes.Equal(post.Data, pre.Data):
				return fmt.Errorf("%w: %s", svm.ErrReadonlyDataModified, key)
			}
			continue
		}

		owned := pre.Owner == c.programID
		if post.Owner != pre.Owner && !owned {
			return fmt.Errorf("%w: %s", svm.ErrModifiedProgramID, key)
		}
		if !owned && !bytes.Equal(post.Data, pre.Data) {
			return fmt.Errorf("%w: %s", svm.ErrExternalAccountDataModified, key)
		}
		if !owned && post.Lamports < pre.Lamports {
			return fmt.Errorf("%w: %s", svm.ErrExternalLamportSpend, key)
		}
		if post.Executable != pre.Executable {
			return fmt.Errorf("%w: %s executable flag", svm.ErrModifiedProgramID, key)
		}
	}
	if preSum != postSum {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}

var _ svm.InvokeContext = (*invokeContext)(nil)

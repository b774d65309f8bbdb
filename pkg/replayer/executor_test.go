package replayer

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	sysprog "github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/syscall"
)

var testProgramID = types.Pubkey{0x7e, 0x57, 0x01}

// registerTestProgram installs fn as a native program on the bank.
func registerTestProgram(bank *Bank, fn svm.ProgramFunc) solana.PublicKey {
	bank.Executor().RegisterProgram(testProgramID, fn)
	return testProgramID.Solana()
}

func TestIsAccountWritable(t *testing.T) {
	// 2 signers (1 readonly), 3 unsigned (1 readonly): [w s] [r s] [w] [w] [r]
	want := []bool{true, false, true, true, false}
	for i, w := range want {
		assert.Equal(t, w, isAccountWritable(i, 2, 1, 1, 5), "index %d", i)
	}
}

func TestExecutorAccountRules(t *testing.T) {
	tests := []struct {
		name    string
		program svm.ProgramFunc
		wantErr error
	}{
		{
			name: "ExternalLamportSpend",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				from, _ := ctx.GetAccount(0)
				to, _ := ctx.GetAccount(1)
				from.Lamports -= 10
				to.Lamports += 10
				return nil
			},
			wantErr: svm.ErrExternalLamportSpend,
		},
		{
			name: "Unbalanced",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				to, _ := ctx.GetAccount(1)
				to.Lamports += 10
				return nil
			},
			wantErr: svm.ErrUnbalancedInstruction,
		},
		{
			name: "ReadonlyLamportChange",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				ro, _ := ctx.GetAccount(2)
				ro.Lamports++
				return nil
			},
			wantErr: svm.ErrReadonlyLamportChange,
		},
		{
			name: "ExternalDataModified",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				to, _ := ctx.GetAccount(1)
				to.Data = []byte{1}
				return nil
			},
			wantErr: svm.ErrExternalAccountDataModified,
		},
		{
			name: "ModifiedProgramID",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				to, _ := ctx.GetAccount(1)
				to.Owner = ctx.ProgramID()
				return nil
			},
			wantErr: svm.ErrModifiedProgramID,
		},
		{
			name: "Panic",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				var m map[string]int
				m["boom"]++
				return nil
			},
			wantErr: svm.ErrProgramFailedToComplete,
		},
		{
			name: "NotEnoughAccountKeys",
			program: func(ctx svm.InvokeContext, _ []byte) error {
				_, err := ctx.GetAccount(3)
				return err
			},
			wantErr: svm.ErrNotEnoughAccountKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := newTestBank(t)
			payer := fundedKey(t, bank, sol)
			other := fundedKey(t, bank, sol)
			readonly := fundedKey(t, bank, sol)
			program := registerTestProgram(bank, tt.program)

			ix := solana.NewInstruction(program, solana.AccountMetaSlice{
				solana.Meta(other.PublicKey()).WRITE(),
				solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
				solana.Meta(readonly.PublicKey()),
			}, nil)
			_, err := bank.SendTransaction(buildTx(t, bank.LatestBlockhash(), []solana.Instruction{ix}, payer))
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, sol, balance(t, bank, payer.PublicKey()))
			assert.Equal(t, sol, balance(t, bank, other.PublicKey()))
			assert.Equal(t, sol, balance(t, bank, readonly.PublicKey()))
		})
	}
}

func TestInvokeSignedTransfer(t *testing.T) {
	bank := newTestBank(t)
	payer := fundedKey(t, bank, sol)
	dest := newKey(t).PublicKey()

	seeds := [][]byte{[]byte("vault")}
	vault, bump, err := syscall.FindProgramAddress(seeds, testProgramID)
	require.NoError(t, err)
	_, err = bank.RequestAirdrop(vault, 5000)
	require.NoError(t, err)

	program := registerTestProgram(bank, func(ctx svm.InvokeContext, data []byte) error {
		from, _ := ctx.GetAccount(0)
		to, _ := ctx.GetAccount(1)
		ix := sysprog.NewTransferInstruction(1200, from.Key.Solana(), to.Key.Solana()).Build()
		if data[0] == 1 {
			return ctx.Invoke(ix, [][]byte{[]byte("vault"), {bump}})
		}
		return ctx.Invoke(ix)
	})

	metas := solana.AccountMetaSlice{
		solana.Meta(vault.Solana()).WRITE(),
		solana.Meta(dest).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}

	t.Run("WithoutSeeds", func(t *testing.T) {
		ix := solana.NewInstruction(program, metas, []byte{0})
		_, err := bank.SendTransaction(buildTx(t, bank.LatestBlockhash(), []solana.Instruction{ix}, payer))
		assert.ErrorIs(t, err, svm.ErrPrivilegeEscalation)
	})

	t.Run("WithSeeds", func(t *testing.T) {
		ix := solana.NewInstruction(program, metas, []byte{1})
		result, err := bank.ProcessTransaction(buildTx(t, bank.LatestBlockhash(), []solana.Instruction{ix}, payer))
		require.NoError(t, err)
		require.NoError(t, result.Err)
		assert.Equal(t, uint64(1200), balance(t, bank, dest))
		assert.Equal(t, uint64(3800), balance(t, bank, vault.Solana()))
		assert.Contains(t, result.Logs, "Program 11111111111111111111111111111111 invoke [2]")
	})
}

func TestInvokeRules(t *testing.T) {
	tests := []struct {
		name    string
		metas   func(payer, other solana.PublicKey) solana.AccountMetaSlice
		program svm.ProgramFunc
		wantErr error
	}{
		{
			name: "CallDepth",
			metas: func(payer, other solana.PublicKey) solana.AccountMetaSlice {
				return solana.AccountMetaSlice{solana.Meta(testProgramID.Solana())}
			},
			program: func(ctx svm.InvokeContext, _ []byte) error {
				self := solana.NewInstruction(ctx.ProgramID().Solana(), solana.AccountMetaSlice{
					solana.Meta(ctx.ProgramID().Solana()),
				}, nil)
				return ctx.Invoke(self)
			},
			wantErr: svm.ErrCallDepth,
		},
		{
			name: "ProgramAccountMissing",
			metas: func(payer, other solana.PublicKey) solana.AccountMetaSlice {
				return solana.AccountMetaSlice{solana.Meta(payer).WRITE().SIGNER()}
			},
			program: func(ctx svm.InvokeContext, _ []byte) error {
				from, _ := ctx.GetAccount(0)
				return ctx.Invoke(sysprog.NewTransferInstruction(1, from.Key.Solana(), from.Key.Solana()).Build())
			},
			wantErr: syscall.ErrCPIAccountMissing,
		},
		{
			name: "WritableEscalation",
			metas: func(payer, other solana.PublicKey) solana.AccountMetaSlice {
				// other signs read-only at the transaction level.
				return solana.AccountMetaSlice{
					solana.Meta(other).SIGNER(),
					solana.Meta(solana.SystemProgramID),
				}
			},
			program: func(ctx svm.InvokeContext, _ []byte) error {
				from, _ := ctx.GetAccount(0)
				return ctx.Invoke(sysprog.NewTransferInstruction(1, from.Key.Solana(), from.Key.Solana()).Build())
			},
			wantErr: svm.ErrPrivilegeEscalation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := newTestBank(t)
			payer := fundedKey(t, bank, sol)
			other := fundedKey(t, bank, sol)
			program := registerTestProgram(bank, tt.program)

			ix := solana.NewInstruction(program, tt.metas(payer.PublicKey(), other.PublicKey()), nil)
			_, err := bank.SendTransaction(buildTx(t, bank.LatestBlockhash(), []solana.Instruction{ix}, payer, other))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestComputeBudget(t *testing.T) {
	bank := newTestBank(t)
	payer := fundedKey(t, bank, sol)
	program := registerTestProgram(bank, func(ctx svm.InvokeContext, _ []byte) error {
		return ctx.ConsumeCU(svm.CUMax + 1)
	})

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{}, nil)
	_, err := bank.SendTransaction(buildTx(t, bank.LatestBlockhash(), []solana.Instruction{ix}, payer))
	assert.ErrorIs(t, err, svm.ErrComputeExceeded)
}

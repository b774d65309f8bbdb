// Package dist implements the token distribution program.
//
// A distribution record lives at a program derived address. It tracks how
// many tokens were deposited and how many recipients the deposit is split
// between, and makes sure recipients are paid by the recorded authority only,
// without exceeding the record's capacity. Token movements are delegated to
// the SPL Token program through cross-program invocation.
package dist

import (
	"fmt"

	sysprog "github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/svm"
)

// Processor executes distribution instructions.
type Processor struct{}

// NewProcessor creates a new distribution processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes and executes one instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	if err := ctx.ConsumeCU(svm.CUDistributorInstruction); err != nil {
		return err
	}

	ctx.Log("Instruction: " + ix.Type().String())
	switch ix := ix.(type) {
	case *InitializeDistribution:
		return p.processInitialize(ctx, ix)
	case *FundDistribution:
		return p.processFund(ctx, ix.Amount)
	case *SetDistAuthority:
		return p.processSetAuthority(ctx, ix.NewAuthority)
	case *BeginDistribution:
		return p.processBegin(ctx, ix.NumRecipients)
	case *Distribute:
		return p.processDistribute(ctx)
	default:
		return ErrInvalidInstruction
	}
}

func accountsAt(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	infos := make([]*svm.AccountInfo, n)
	for i := range infos {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

func checkTokenProgram(info *svm.AccountInfo) error {
	if info.Key != types.TokenProgramAddr {
		return fmt.Errorf("%w: expected token program, got %s", svm.ErrIncorrectProgramID, info.Key)
	}
	return nil
}

func (p *Processor) processInitialize(ctx svm.InvokeContext, ix *InitializeDistribution) error {
	infos, err := accountsAt(ctx, 5)
	if err != nil {
		return err
	}
	feePayer, tokenProgram, mint, distInfo := infos[0], infos[2], infos[3], infos[4]

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	if !feePayer.IsSigner {
		return svm.ErrMissingRequiredSignature
	}

	seed := PdaSeed{Seed: ix.Seed, ProjectName: ix.ProjectName, Bump: ix.Bump}
	addr, err := seed.CreateAddress(ctx.ProgramID())
	if err != nil || addr != distInfo.Key {
		return svm.ErrInvalidSeeds
	}

	// An existing record would make the system program refuse the
	// allocation; report it as the record error instead.
	if distInfo.Owner == ctx.ProgramID() {
		if existing, err := UnpackAllowUninitialized(distInfo.Data); err == nil && existing.IsInitialized() {
			return svm.ErrAccountAlreadyInitialized
		}
	}

	create := sysprog.NewCreateAccountInstruction(
		ctx.GetRentMinimum(StateSize),
		StateSize,
		ctx.ProgramID().Solana(),
		feePayer.Key.Solana(),
		distInfo.Key.Solana(),
	).Build()
	if err := ctx.Invoke(create, seed.Seeds()); err != nil {
		return err
	}

	d, err := UnpackAllowUninitialized(distInfo.Data)
	if err != nil {
		return err
	}
	if d.IsInitialized() {
		return svm.ErrAccountAlreadyInitialized
	}

	d.Init(seed, ix.Authority, mint.Key, ix.MaxRecipients, 0)
	ctx.Log(fmt.Sprintf("Distribution %s initialized, max recipients %d", distInfo.Key, ix.MaxRecipients))
	return d.Pack(distInfo.Data)
}

// loadRecord checks ownership and re-derives the record address from its
// stored seeds.
func loadRecord(ctx svm.InvokeContext, distInfo *svm.AccountInfo) (*Distribution, error) {
	d, err := Unpack(distInfo.Data)
	if err != nil {
		return nil, err
	}
	addr, err := d.Seed.CreateAddress(ctx.ProgramID())
	if err != nil || addr != distInfo.Key {
		return nil, fmt.Errorf("%w: record address does not match its seeds", svm.ErrInvalidAccountData)
	}
	return d, nil
}

func checkOwned(ctx svm.InvokeContext, distInfo *svm.AccountInfo) error {
	if distInfo.Owner != ctx.ProgramID() {
		return fmt.Errorf("%w: distribution account owned by %s", svm.ErrIncorrectProgramID, distInfo.Owner)
	}
	return nil
}

func (p *Processor) processFund(ctx svm.InvokeContext, amount uint64) error {
	infos, err := accountsAt(ctx, 5)
	if err != nil {
		return err
	}
	source, sourceToken, distInfo, distToken, tokenProgram := infos[0], infos[1], infos[2], infos[3], infos[4]

	if !source.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if err := checkOwned(ctx, distInfo); err != nil {
		return err
	}
	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	if sourceToken.Owner != tokenProgram.Key || distToken.Owner != tokenProgram.Key {
		return fmt.Errorf("%w: token accounts must be owned by the token program", svm.ErrInvalidArgument)
	}

	d, err := loadRecord(ctx, distInfo)
	if err != nil {
		return err
	}

	pull := tokenprog.NewTransferInstruction(
		amount,
		sourceToken.Key.Solana(),
		distToken.Key.Solana(),
		source.Key.Solana(),
		nil,
	).Build()
	if err := ctx.Invoke(pull); err != nil {
		return err
	}

	if err := d.RecordFunded(amount); err != nil {
		return err
	}
	ctx.Log(fmt.Sprintf("Funded %d, total %d", amount, d.FundedAmount))
	return d.Pack(distInfo.Data)
}

// authorizedRecord runs the checks shared by authority-gated instructions.
func authorizedRecord(ctx svm.InvokeContext, distInfo, authority *svm.AccountInfo) (*Distribution, error) {
	if err := checkOwned(ctx, distInfo); err != nil {
		return nil, err
	}
	if !authority.IsSigner {
		return nil, svm.ErrMissingRequiredSignature
	}
	d, err := loadRecord(ctx, distInfo)
	if err != nil {
		return nil, err
	}
	if d.Authority != authority.Key {
		return nil, ErrUnauthorizedDistAuthority
	}
	return d, nil
}

func (p *Processor) processSetAuthority(ctx svm.InvokeContext, newAuthority types.Pubkey) error {
	infos, err := accountsAt(ctx, 2)
	if err != nil {
		return err
	}
	d, err := authorizedRecord(ctx, infos[0], infos[1])
	if err != nil {
		return err
	}
	d.Authority = newAuthority
	return d.Pack(infos[0].Data)
}

func (p *Processor) processBegin(ctx svm.InvokeContext, numRecipients uint16) error {
	infos, err := accountsAt(ctx, 2)
	if err != nil {
		return err
	}
	d, err := authorizedRecord(ctx, infos[0], infos[1])
	if err != nil {
		return err
	}
	if d.HasStarted() {
		return ErrDistributionAlreadyStarted
	}
	d.NumRecipients = numRecipients
	ctx.Log(fmt.Sprintf("Distribution started: %d recipients, share %d", numRecipients, d.RecipientShare()))
	return d.Pack(infos[0].Data)
}

func (p *Processor) processDistribute(ctx svm.InvokeContext) error {
	infos, err := accountsAt(ctx, 4)
	if err != nil {
		return err
	}
	distInfo, authority, tokenProgram, distToken := infos[0], infos[1], infos[2], infos[3]

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	d, err := authorizedRecord(ctx, distInfo, authority)
	if err != nil {
		return err
	}

	share := d.RecipientShare()
	signer := d.Seed.Seeds()
	for i := 4; i < ctx.AccountCount(); i++ {
		recipient, err := ctx.GetAccount(i)
		if err != nil {
			return err
		}
		if d.Remaining() == 0 {
			return ErrTooManyRecipients
		}
		if recipient.Owner != tokenProgram.Key {
			return fmt.Errorf("%w: recipient %s is not a token account", svm.ErrInvalidArgument, recipient.Key)
		}
		if err := ctx.ConsumeCU(svm.CUDistributorPerRecipient); err != nil {
			return err
		}

		pay := tokenprog.NewTransferInstruction(
			share,
			distToken.Key.Solana(),
			recipient.Key.Solana(),
			distInfo.Key.Solana(),
			nil,
		).Build()
		if err := ctx.Invoke(pay, signer); err != nil {
			return err
		}
		if err := d.RecordSent(); err != nil {
			return err
		}
	}

	ctx.Log(fmt.Sprintf("Distributed %d per recipient, sent %d of %d", share, d.SentRecipients, d.MaxRecipients))
	return d.Pack(distInfo.Data)
}

var _ svm.Program = (*Processor)(nil)

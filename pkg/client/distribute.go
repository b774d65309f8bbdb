package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Airdrop/internal/types"
	"github.com/fortiblox/X1-Airdrop/pkg/blockstore"
	"github.com/fortiblox/X1-Airdrop/pkg/replayer"
	"github.com/fortiblox/X1-Airdrop/pkg/svm/programs/dist"
)

// DistributeRequest describes one distribute run.
type DistributeRequest struct {
	Distribution types.Pubkey
	Mint         types.Pubkey
	Authority    solana.PrivateKey

	// Recipients are wallet addresses; tokens go to their associated
	// token accounts.
	Recipients []types.Pubkey

	// Skip is the number of leading recipients already paid.
	Skip int
}

// DistributeReport summarizes a distribute run.
type DistributeReport struct {
	Batches int
	Paid    int

	// NextSkip is the skip value that resumes the run.
	NextSkip int
}

// Distribute pays recipients[Skip:] in chunks, one transaction per chunk.
// It stops at the first failed chunk; the report's NextSkip then points at
// that chunk so the run can be resumed.
func (c *Client) Distribute(ctx context.Context, req DistributeRequest) (*DistributeReport, error) {
	chunks, err := Chunks(req.Recipients, req.Skip, c.chunkSize)
	if err != nil {
		return nil, err
	}
	report := &DistributeReport{NextSkip: req.Skip}
	if len(chunks) == 0 {
		return report, nil
	}

	if _, err := c.EnsureTokenAccounts(req.Mint, req.Recipients[req.Skip:]); err != nil {
		return report, err
	}

	authority := types.PubkeyFromSolana(req.Authority.PublicKey())
	distToken := TokenAccount(req.Distribution, req.Mint)

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		tokenAccounts := make([]types.Pubkey, len(chunk.Recipients))
		for i, wallet := range chunk.Recipients {
			tokenAccounts[i] = TokenAccount(wallet, req.Mint)
		}

		c.logger.Info("Distributing",
			zap.Stringer("dist_account", req.Distribution),
			zap.Int("first", chunk.First),
			zap.Int("last", chunk.Last),
			zap.Int("skip", chunk.Skip),
		)

		sig, sendErr := c.send([]solana.Instruction{
			dist.NewDistributeInstruction(c.ProgramID(), req.Distribution, authority, distToken, tokenAccounts),
		}, req.Authority)

		if err := c.record(req.Distribution, chunk, sig, sendErr); err != nil {
			return report, err
		}
		if sendErr != nil {
			return report, fmt.Errorf("distribute recipients %d..%d (resume with skip %d): %w",
				chunk.First, chunk.Last, chunk.Skip, sendErr)
		}

		report.Batches++
		report.Paid += len(chunk.Recipients)
		report.NextSkip = chunk.Skip + len(chunk.Recipients)
	}
	return report, nil
}

// record journals a Distribute attempt that landed in a slot.
func (c *Client) record(distribution types.Pubkey, chunk Chunk, sig types.Signature, sendErr error) error {
	if c.journal == nil || sig.IsZero() {
		return nil
	}
	var txErr *replayer.TransactionError
	if errors.As(sendErr, &txErr) && txErr.Index < 0 {
		return nil
	}
	batch := &blockstore.Batch{
		Distribution: distribution,
		Slot:         c.bank.Slot(),
		Skip:         uint32(chunk.Skip),
		Count:        uint32(len(chunk.Recipients)),
		Signature:    sig,
		BlockTime:    c.now().Unix(),
	}
	if sendErr != nil {
		batch.Err = sendErr.Error()
	}
	if err := c.journal.PutBatch(batch); err != nil {
		return fmt.Errorf("journal batch: %w", err)
	}
	return nil
}

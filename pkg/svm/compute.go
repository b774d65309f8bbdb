package svm

import (
	"errors"
	"sync/atomic"
)

// Compute unit costs for native programs.
const (
	CUDefault = uint64(200_000)   // Default CU limit per instruction
	CUMax     = uint64(1_400_000) // Max CU limit per transaction

	CUInvokeBase           = uint64(1_000) // Base cost for CPI
	CUCreateProgramAddress = uint64(1_500) // create_program_address
	CUSignatureVerify      = uint64(720)   // Ed25519 signature verification
	CULogBase              = uint64(100)   // sol_log

	CUSystemProgramDefault    = uint64(150)
	CUTokenProgramDefault     = uint64(2_000)
	CUAssociatedTokenDefault  = uint64(4_000)
	CUDistributorInstruction  = uint64(5_000)
	CUDistributorPerRecipient = uint64(1_500)
)

// CPIDepthMax is the deepest allowed invoke stack, top level included.
const CPIDepthMax = 4

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = errors.New("compute budget exceeded")
)

// ComputeMeter tracks compute unit consumption.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
// Limits above CUMax are clamped.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 || limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

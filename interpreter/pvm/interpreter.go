// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package pvm

import (
	"fmt"
	"sync/atomic"

	"github.com/Fantom-foundation/Panoptes/panoptes"
)

// status is an enumeration of the execution state of an interpreter run.
type status byte

const (
	statusRunning        status = iota // < all fine, ops are processed
	statusStopped                      // < execution stopped with a STOP
	statusReverted                     // < execution stopped with a REVERT
	statusReturned                     // < execution stopped with a RETURN
	statusSelfDestructed               // < execution stopped with a SELF-DESTRUCT
	statusFailed                       // < execution stopped with a logic error
)

// Observer receives one notification per retired instruction. The stack,
// memory, and transaction state handed to CaptureState are live views; an
// observer that retains them must deep-copy.
type Observer interface {
	CaptureState(
		addr panoptes.Address,
		pc uint64,
		op OpCode,
		stack *Stack,
		memory *Memory,
		state panoptes.TransactionContext,
		gasUsed, gasLimit, gasRefund panoptes.Gas,
		code panoptes.ErrorCode,
	)
}

// NopObserver is an Observer ignoring all notifications.
type NopObserver struct{}

func (NopObserver) CaptureState(
	panoptes.Address, uint64, OpCode, *Stack, *Memory,
	panoptes.TransactionContext, panoptes.Gas, panoptes.Gas, panoptes.Gas,
	panoptes.ErrorCode,
) {
}

// StepBudget is an optional, instance-wide bound on the number of retired
// instructions. It is shared by all frames of one instance.
type StepBudget struct {
	Remaining int64
}

// tick consumes one instruction from the budget and reports whether the
// budget is exhausted.
func (b *StepBudget) tick() bool {
	b.Remaining--
	return b.Remaining < 0
}

// Config bundles the per-instance execution environment of an interpreter
// run. The same config is shared by all nested frames of an instance.
type Config struct {
	// Analyzer provides jump-destination analyses; required.
	Analyzer *Analyzer
	// Observer receives per-retirement notifications; nil disables tracing.
	Observer Observer
	// Abort requests a cooperative halt at the next instruction boundary.
	Abort *atomic.Bool
	// Budget bounds the total number of instructions of the instance.
	Budget *StepBudget
}

// context is the execution environment of one call frame. It contains all
// the necessary state to execute a contract, including input parameters, the
// contract code, and internal execution state such as the program counter,
// stack, and memory. For each frame a new context is created.
type context struct {
	// Inputs
	params   panoptes.Parameters
	context  panoptes.RunContext
	config   Config
	code     []byte
	analysis codeAnalysis

	// Execution state
	pc     int64
	gas    panoptes.Gas
	refund panoptes.Gas
	stack  *Stack
	memory *Memory

	// Intermediate data
	returnData []byte // < the result of the last nested contract call

	// lastStepFault carries the error code of an instruction that ends the
	// frame without an execution error (REVERT), to be reported in its trace
	// entry.
	lastStepFault panoptes.ErrorCode
}

// useGas reduces the gas level by the given amount. If the gas level drops
// below the requested amount an out-of-gas error is returned and the caller
// is expected to stop the execution.
func (c *context) useGas(amount panoptes.Gas) error {
	if c.gas < 0 || amount < 0 || c.gas < amount {
		return errOutOfGas
	}
	c.gas -= amount
	return nil
}

// Run executes the given code in a new frame and reports the result. The
// returned error is nil whenever the code was correctly executed, even if
// the execution ended in a deterministic EVM fault; such faults are part of
// the Result. A non-nil error indicates a problem of the interpreter itself.
func Run(config Config, params panoptes.Parameters) (panoptes.Result, error) {
	if config.Analyzer == nil {
		return panoptes.Result{}, fmt.Errorf("interpreter config misses code analyzer")
	}
	if config.Observer == nil {
		config.Observer = NopObserver{}
	}

	var ctxt = context{
		params:   params,
		context:  params.Context,
		config:   config,
		gas:      params.Gas,
		stack:    NewStack(),
		memory:   NewMemory(),
		code:     params.Code,
		analysis: config.Analyzer.Analyze(params.Code, params.CodeHash),
	}
	defer ReturnStack(ctxt.stack)

	status, err := steps(&ctxt)
	return generateResult(status, err, &ctxt)
}

func generateResult(status status, fault error, ctxt *context) (panoptes.Result, error) {
	switch status {
	case statusStopped, statusSelfDestructed:
		return panoptes.Result{
			Success:   true,
			GasLeft:   ctxt.gas,
			GasRefund: ctxt.refund,
		}, nil
	case statusReturned:
		return panoptes.Result{
			Success:   true,
			Output:    ctxt.returnData,
			GasLeft:   ctxt.gas,
			GasRefund: ctxt.refund,
		}, nil
	case statusReverted:
		return panoptes.Result{
			Success: false,
			Output:  ctxt.returnData,
			GasLeft: ctxt.gas,
			Error:   panoptes.ErrRevert,
		}, nil
	case statusFailed:
		code := errorCodeFor(fault)
		gasLeft := panoptes.Gas(0)
		if code == panoptes.ErrAborted {
			// resource faults do not consume the remaining gas
			gasLeft = ctxt.gas
		}
		return panoptes.Result{
			Success: false,
			GasLeft: gasLeft,
			Error:   code,
		}, nil
	default:
		return panoptes.Result{}, fmt.Errorf("unexpected interpreter status: %v", status)
	}
}

// capture reports the retirement of the instruction at pc to the observer.
func capture(c *context, pc int64, op OpCode, code panoptes.ErrorCode) {
	gasUsed := c.params.Gas - c.gas
	if code.IsFault() && code != panoptes.ErrRevert && code != panoptes.ErrAborted {
		// deterministic faults consume all remaining gas
		gasUsed = c.params.Gas
	}
	c.config.Observer.CaptureState(
		c.params.Recipient, uint64(pc), op,
		c.stack, c.memory, c.context,
		gasUsed, c.params.Gas, c.refund, code)
}

// steps executes the contract code in the given context until the frame
// terminates. It returns the final status and, for statusFailed, the fault
// that caused the frame to stop.
func steps(c *context) (status, error) {
	status := statusRunning
	for status == statusRunning {
		if c.config.Abort != nil && c.config.Abort.Load() {
			capture(c, c.pc, opAt(c.code, c.pc), panoptes.ErrAborted)
			return statusFailed, errAborted
		}
		if c.config.Budget != nil && c.config.Budget.tick() {
			capture(c, c.pc, opAt(c.code, c.pc), panoptes.ErrAborted)
			return statusFailed, errAborted
		}

		if c.pc >= int64(len(c.code)) {
			// running off the end of the code is an implicit STOP
			capture(c, c.pc, STOP, panoptes.ErrNone)
			return statusStopped, nil
		}

		pc := c.pc
		op := OpCode(c.code[pc])

		if !IsValid(op) {
			capture(c, pc, op, panoptes.ErrInvalidOpcode)
			return statusFailed, errInvalidInstruction
		}

		// Check stack boundaries for every instruction
		if err := checkStackLimits(c.stack.len(), op); err != nil {
			capture(c, pc, op, errorCodeFor(err))
			return statusFailed, err
		}

		// Consume the static gas price of the instruction before execution
		if err := c.useGas(staticGasPrices[op]); err != nil {
			capture(c, pc, op, errorCodeFor(err))
			return statusFailed, err
		}

		next, err := execute(c, op)
		if err != nil {
			capture(c, pc, op, errorCodeFor(err))
			return statusFailed, err
		}

		capture(c, pc, op, c.lastStepFault)
		c.lastStepFault = panoptes.ErrNone

		status = next
	}
	return status, nil
}

// opAt returns the op code at the given position, or STOP past the end.
func opAt(code []byte, pc int64) OpCode {
	if pc >= int64(len(code)) {
		return STOP
	}
	return OpCode(code[pc])
}

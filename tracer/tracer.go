// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package tracer

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/Fantom-foundation/Panoptes/interpreter/pvm"
	"github.com/Fantom-foundation/Panoptes/panoptes"
)

// Page is the number of entries the trace grows by when it is full.
const Page = 128

// Tracer is the append-only, per-instance log of retired instructions. Each
// entry snapshots the frame at one retirement boundary; the snapshots are
// deep copies, so later mutation of the live frame is not visible through
// logged entries.
//
// The trace is stored as parallel arrays rather than an array of compound
// entries, keeping the per-field data contiguous for rendering large traces.
type Tracer struct {
	size     int
	capacity int

	addresses []panoptes.Address
	pcs       []uint64
	opcodes   []pvm.OpCode
	stacks    [][]panoptes.Word
	memories  [][]byte
	touched   [][]panoptes.AccountDelta
	gasUsed   []panoptes.Gas
	gasLimit  []panoptes.Gas
	gasRefund []panoptes.Gas
	errors    []panoptes.ErrorCode
	patched   []bool
}

// New creates an empty trace.
func New() *Tracer {
	return &Tracer{}
}

// Len returns the number of logged entries.
func (t *Tracer) Len() int {
	return t.size
}

// grow extends the capacity of all parallel arrays by one page: fresh arrays
// are allocated, the live prefix is moved over, and the tail is left
// zero-initialized so probes of unused entries see empty snapshots.
func (t *Tracer) grow() {
	capacity := t.capacity + Page

	addresses := make([]panoptes.Address, capacity)
	copy(addresses, t.addresses[:t.size])
	pcs := make([]uint64, capacity)
	copy(pcs, t.pcs[:t.size])
	opcodes := make([]pvm.OpCode, capacity)
	copy(opcodes, t.opcodes[:t.size])
	stacks := make([][]panoptes.Word, capacity)
	copy(stacks, t.stacks[:t.size])
	memories := make([][]byte, capacity)
	copy(memories, t.memories[:t.size])
	touched := make([][]panoptes.AccountDelta, capacity)
	copy(touched, t.touched[:t.size])
	gasUsed := make([]panoptes.Gas, capacity)
	copy(gasUsed, t.gasUsed[:t.size])
	gasLimit := make([]panoptes.Gas, capacity)
	copy(gasLimit, t.gasLimit[:t.size])
	gasRefund := make([]panoptes.Gas, capacity)
	copy(gasRefund, t.gasRefund[:t.size])
	errors := make([]panoptes.ErrorCode, capacity)
	copy(errors, t.errors[:t.size])
	patched := make([]bool, capacity)
	copy(patched, t.patched[:t.size])

	t.addresses = addresses
	t.pcs = pcs
	t.opcodes = opcodes
	t.stacks = stacks
	t.memories = memories
	t.touched = touched
	t.gasUsed = gasUsed
	t.gasLimit = gasLimit
	t.gasRefund = gasRefund
	t.errors = errors
	t.patched = patched
	t.capacity = capacity
}

// CaptureState logs one retired instruction, deep-copying the stack, the
// memory, and the touched-state view of the transaction context.
func (t *Tracer) CaptureState(
	addr panoptes.Address,
	pc uint64,
	op pvm.OpCode,
	stack *pvm.Stack,
	memory *pvm.Memory,
	state panoptes.TransactionContext,
	gasUsed, gasLimit, gasRefund panoptes.Gas,
	code panoptes.ErrorCode,
) {
	if t.size == t.capacity {
		t.grow()
	}
	i := t.size
	t.addresses[i] = addr
	t.pcs[i] = pc
	t.opcodes[i] = op
	t.stacks[i] = stack.Snapshot()
	t.memories[i] = memory.Snapshot()
	t.touched[i] = state.TouchedAccounts()
	t.gasUsed[i] = gasUsed
	t.gasLimit[i] = gasLimit
	t.gasRefund[i] = gasRefund
	t.errors[i] = code
	t.patched[i] = false
	t.size++
}

// ModifyLastStack overwrites the stack snapshot of the most recent entry.
// This is the single concession to late binding, for call sites where the
// stack effect of an instruction is only known after a sub-call returned.
// At most one retroactive patch may occur per entry.
func (t *Tracer) ModifyLastStack(stack *pvm.Stack) {
	if t.size == 0 {
		panic("tracer: no entry to patch")
	}
	i := t.size - 1
	if t.patched[i] {
		panic("tracer: entry already patched once")
	}
	t.stacks[i] = stack.Snapshot()
	t.patched[i] = true
}

// Entry is the by-value view of one logged step.
type Entry struct {
	Address   panoptes.Address
	PC        uint64
	OpCode    pvm.OpCode
	Stack     []panoptes.Word
	Memory    []byte
	Touched   []panoptes.AccountDelta
	GasUsed   panoptes.Gas
	GasLimit  panoptes.Gas
	GasRefund panoptes.Gas
	Error     panoptes.ErrorCode
}

// Get returns the i-th entry of the trace. The contained slices are shared
// with the trace and must not be modified.
func (t *Tracer) Get(i int) Entry {
	if i < 0 || i >= t.size {
		panic(fmt.Sprintf("tracer: index %d out of range [0,%d)", i, t.size))
	}
	return Entry{
		Address:   t.addresses[i],
		PC:        t.pcs[i],
		OpCode:    t.opcodes[i],
		Stack:     t.stacks[i],
		Memory:    t.memories[i],
		Touched:   t.touched[i],
		GasUsed:   t.gasUsed[i],
		GasLimit:  t.gasLimit[i],
		GasRefund: t.gasRefund[i],
		Error:     t.errors[i],
	}
}

// Append adds a pre-built entry to the trace. Used when re-homing staged
// traces; the entry is stored as-is, without another deep copy.
func (t *Tracer) Append(e Entry) {
	if t.size == t.capacity {
		t.grow()
	}
	i := t.size
	t.addresses[i] = e.Address
	t.pcs[i] = e.PC
	t.opcodes[i] = e.OpCode
	t.stacks[i] = e.Stack
	t.memories[i] = e.Memory
	t.touched[i] = e.Touched
	t.gasUsed[i] = e.GasUsed
	t.gasLimit[i] = e.GasLimit
	t.gasRefund[i] = e.GasRefund
	t.errors[i] = e.Error
	t.size++
}

// Equal compares two entries field by field, including the full snapshots.
func (e Entry) Equal(other Entry) bool {
	if e.Address != other.Address || e.PC != other.PC ||
		e.OpCode != other.OpCode ||
		e.GasUsed != other.GasUsed || e.GasLimit != other.GasLimit ||
		e.GasRefund != other.GasRefund || e.Error != other.Error {
		return false
	}
	if !slices.Equal(e.Stack, other.Stack) {
		return false
	}
	if !bytes.Equal(e.Memory, other.Memory) {
		return false
	}
	if len(e.Touched) != len(other.Touched) {
		return false
	}
	for i := range e.Touched {
		if !e.Touched[i].Equal(other.Touched[i]) {
			return false
		}
	}
	return true
}

// LastError returns the error code of the most recent entry, or ErrNone for
// an empty trace.
func (t *Tracer) LastError() panoptes.ErrorCode {
	if t.size == 0 {
		return panoptes.ErrNone
	}
	return t.errors[t.size-1]
}

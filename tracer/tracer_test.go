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
	"encoding/json"
	"strings"
	"testing"

	"github.com/Fantom-foundation/Panoptes/interpreter/pvm"
	"github.com/Fantom-foundation/Panoptes/journal"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/holiman/uint256"
)

func capture(t *Tracer, state panoptes.TransactionContext, pc uint64, values ...uint64) {
	stack := pvm.NewStack()
	defer pvm.ReturnStack(stack)
	words := make([]panoptes.Word, 0, len(values))
	for _, v := range values {
		words = append(words, panoptes.NewWord(0, 0, 0, v))
	}
	stack.Restore(words)
	memory := pvm.NewMemory()
	t.CaptureState(panoptes.Address{0x42}, pc, pvm.ADD, stack, memory, state,
		3, 100, 0, panoptes.ErrNone)
}

func TestTracer_StartsEmptyAndGrowsByPages(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	if trace.Len() != 0 {
		t.Fatalf("new trace not empty")
	}
	for i := 0; i < Page+1; i++ {
		capture(trace, state, uint64(i))
	}
	if got, want := trace.Len(), Page+1; got != want {
		t.Fatalf("wanted %d entries, got %d", want, got)
	}
	if got, want := trace.capacity, 2*Page; got != want {
		t.Errorf("wanted capacity %d after growth, got %d", want, got)
	}
}

func TestTracer_GrowthPreservesPrefix(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})

	before := make([]Entry, 0, Page)
	for i := 0; i < Page; i++ {
		capture(trace, state, uint64(i), uint64(i))
		before = append(before, trace.Get(i))
	}
	// the next capture forces a growth
	capture(trace, state, Page)

	for i := 0; i < Page; i++ {
		if !trace.Get(i).Equal(before[i]) {
			t.Fatalf("entry %d changed during growth", i)
		}
	}
}

func TestTracer_SnapshotsAreIndependentOfFrameMutation(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	addr := panoptes.Address{0x01}
	key := panoptes.Key{0x07}

	stack := pvm.NewStack()
	defer pvm.ReturnStack(stack)
	stack.Restore([]panoptes.Word{panoptes.NewWord(0, 0, 0, 1)})
	memory := pvm.NewMemory()
	state.SetStorage(addr, key, panoptes.NewWord(7))

	trace.CaptureState(addr, 0, pvm.SSTORE, stack, memory, state, 3, 100, 0, panoptes.ErrNone)

	// mutate the live frame after the capture
	stack.Restore([]panoptes.Word{panoptes.NewWord(0, 0, 0, 99)})
	state.SetStorage(addr, key, panoptes.NewWord(99))

	entry := trace.Get(0)
	if got, want := entry.Stack[0], panoptes.NewWord(0, 0, 0, 1); got != want {
		t.Errorf("stack snapshot changed by later mutation, wanted %v, got %v", want, got)
	}
	if got, want := entry.Touched[0].Storage[key], panoptes.NewWord(7); got != want {
		t.Errorf("touched-state snapshot changed by later mutation, wanted %v, got %v", want, got)
	}
}

func TestTracer_ModifyLastStackPatchesOnlyTheStack(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	capture(trace, state, 0, 1, 2)
	before := trace.Get(0)

	patch := pvm.NewStack()
	defer pvm.ReturnStack(patch)
	patch.Restore([]panoptes.Word{panoptes.NewWord(0, 0, 0, 3)})
	trace.ModifyLastStack(patch)

	after := trace.Get(0)
	if got, want := after.Stack[0], panoptes.NewWord(0, 0, 0, 3); got != want {
		t.Errorf("stack not patched, wanted %v, got %v", want, got)
	}
	if after.PC != before.PC || after.OpCode != before.OpCode ||
		after.GasUsed != before.GasUsed || after.Error != before.Error {
		t.Errorf("patch modified fields other than the stack")
	}
}

func TestTracer_SecondPatchOfSameEntryPanics(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	capture(trace, state, 0, 1)

	patch := pvm.NewStack()
	defer pvm.ReturnStack(patch)
	trace.ModifyLastStack(patch)

	defer func() {
		if recover() == nil {
			t.Errorf("second retroactive patch of one entry must panic")
		}
	}()
	trace.ModifyLastStack(patch)
}

func TestTracer_PatchOfEmptyTracePanics(t *testing.T) {
	trace := New()
	stack := pvm.NewStack()
	defer pvm.ReturnStack(stack)
	defer func() {
		if recover() == nil {
			t.Errorf("patching an empty trace must panic")
		}
	}()
	trace.ModifyLastStack(stack)
}

func TestTracer_RenderProducesOrderedDocument(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	state.SetStorage(panoptes.Address{0x01}, panoptes.Key{0x01}, panoptes.NewWord(1))
	capture(trace, state, 0, 1)
	capture(trace, state, 2, 1, 2)

	document, err := trace.Render()
	if err != nil {
		t.Fatalf("failed to render trace: %v", err)
	}

	var steps []map[string]any
	if err := json.Unmarshal(document, &steps); err != nil {
		t.Fatalf("rendered document is not valid JSON: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("wanted 2 steps, got %d", len(steps))
	}
	for _, key := range []string{
		"address", "pc", "opcode", "stack", "memory", "touch_state",
		"gas_used", "gas_limit", "gas_refund", "error_code",
	} {
		if _, found := steps[0][key]; !found {
			t.Errorf("step misses key %q", key)
		}
	}
	if got := steps[0]["opcode"]; got != "ADD" {
		t.Errorf("wanted opcode ADD, got %v", got)
	}
	if got := steps[0]["gas_used"]; got != "0x3" {
		t.Errorf("wanted gas_used 0x3, got %v", got)
	}
	if got := steps[0]["error_code"]; got != float64(0) {
		t.Errorf("wanted numeric error code 0, got %v", got)
	}
	stack, ok := steps[1]["stack"].([]any)
	if !ok || len(stack) != 2 {
		t.Fatalf("wanted a two-element stack, got %v", steps[1]["stack"])
	}
	// top of the stack is the last element
	top, ok := stack[1].(string)
	if !ok || !strings.HasSuffix(top, "02") {
		t.Errorf("wanted top-of-stack last, got %v", stack)
	}

	// rendering does not consume the trace
	if trace.Len() != 2 {
		t.Errorf("rendering consumed the trace")
	}
}

func TestTracer_UnusedTailReadsAsEmpty(t *testing.T) {
	trace := New()
	state := journal.New(journal.World{})
	capture(trace, state, 0, 1)
	if got := trace.errors[trace.size]; got != panoptes.ErrNone {
		t.Errorf("tail entry not zero-initialized, got %v", got)
	}
	if got := trace.stacks[trace.size]; got != nil {
		t.Errorf("tail stack not empty, got %v", got)
	}
}

func TestTracer_StackSnapshotUsesWordValues(t *testing.T) {
	stack := pvm.NewStack()
	defer pvm.ReturnStack(stack)
	stack.Restore([]panoptes.Word{
		panoptes.WordFromUint256(uint256.NewInt(1)),
		panoptes.WordFromUint256(uint256.NewInt(2)),
	})
	snapshot := stack.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("wanted 2 words, got %d", len(snapshot))
	}
	if snapshot[1] != panoptes.NewWord(0, 0, 0, 2) {
		t.Errorf("unexpected top-of-stack word: %v", snapshot[1])
	}
}

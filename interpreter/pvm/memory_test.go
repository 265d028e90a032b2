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
	"bytes"
	"math"
	"testing"

	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/holiman/uint256"
)

func newTestContext(gas panoptes.Gas) *context {
	return &context{
		params: panoptes.Parameters{Gas: gas},
		gas:    gas,
		stack:  NewStack(),
		memory: NewMemory(),
	}
}

func TestMemory_ExpansionCostFollowsTheFeeFormula(t *testing.T) {
	costOf := func(words uint64) panoptes.Gas {
		return panoptes.Gas(words*words/512 + 3*words)
	}
	tests := map[string]struct {
		size uint64
		want panoptes.Gas
	}{
		"zero":           {0, 0},
		"one-byte":       {1, costOf(1)},
		"one-word":       {32, costOf(1)},
		"word-and-one":   {33, costOf(2)},
		"kilobyte":       {1024, costOf(32)},
		"cost-quadratic": {1 << 20, costOf(1 << 15)},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewMemory()
			got, err := m.expansionCost(0, test.size)
			if err != nil {
				t.Fatalf("failed to compute expansion cost: %v", err)
			}
			if got != test.want {
				t.Errorf("wanted cost %d, got %d", test.want, got)
			}
		})
	}
}

func TestMemory_ExpansionChargesOnlyTheDelta(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory

	if err := m.expandMemory(0, 32, c); err != nil {
		t.Fatalf("failed to expand memory: %v", err)
	}
	gasAfterFirst := c.gas
	if used := 1000 - gasAfterFirst; used != 3 {
		t.Fatalf("wanted 3 gas for the first word, got %d", used)
	}

	if err := m.expandMemory(32, 32, c); err != nil {
		t.Fatalf("failed to expand memory: %v", err)
	}
	if used := gasAfterFirst - c.gas; used != 3 {
		t.Errorf("wanted 3 gas for the second word, got %d", used)
	}

	// accessing covered memory is free
	if err := m.expandMemory(0, 64, c); err != nil {
		t.Fatalf("failed to re-access memory: %v", err)
	}
	if c.gas != 1000-6 {
		t.Errorf("covered access must not charge, gas %d", c.gas)
	}
}

func TestMemory_GrowsInWordsAndMonotonically(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory

	if err := m.expandMemory(0, 1, c); err != nil {
		t.Fatalf("failed to expand memory: %v", err)
	}
	if got, want := m.Len(), uint64(32); got != want {
		t.Errorf("wanted size %d, got %d", want, got)
	}
	if got, want := m.LenWords(), uint64(1); got != want {
		t.Errorf("wanted %d words, got %d", want, got)
	}

	// memory size never shrinks
	if err := m.expandMemory(0, 1, c); err != nil {
		t.Fatalf("failed to re-access memory: %v", err)
	}
	if got := m.Len(); got != 32 {
		t.Errorf("memory shrunk to %d", got)
	}
}

func TestMemory_ReadsBeyondSizeAreZeroFilled(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory
	if err := m.set(0, []byte{1, 2, 3}, c); err != nil {
		t.Fatalf("failed to write memory: %v", err)
	}

	trg := make([]byte, 8)
	m.copyData(1, trg)
	if !bytes.Equal(trg, []byte{2, 3, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("unexpected read result: %v", trg)
	}

	far := make([]byte, 4)
	m.copyData(1 << 20, far)
	if !bytes.Equal(far, []byte{0, 0, 0, 0}) {
		t.Errorf("read past the end must be zero, got %v", far)
	}
}

func TestMemory_CopyWithinSupportsOverlap(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory
	if err := m.set(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, c); err != nil {
		t.Fatalf("failed to write memory: %v", err)
	}

	// forward overlapping copy
	if err := m.copyWithin(2, 0, 6, c); err != nil {
		t.Fatalf("failed to copy: %v", err)
	}
	want := []byte{1, 2, 1, 2, 3, 4, 5, 6}
	trg := make([]byte, 8)
	m.copyData(0, trg)
	if !bytes.Equal(trg, want) {
		t.Errorf("overlap not handled, wanted %v, got %v", want, trg)
	}
}

func TestMemory_SetWordReadWordRoundTrip(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory

	value := uint256.MustFromHex("0x112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00")
	if err := m.setWord(32, value, c); err != nil {
		t.Fatalf("failed to store word: %v", err)
	}
	restored := new(uint256.Int)
	if err := m.readWord(32, restored, c); err != nil {
		t.Fatalf("failed to load word: %v", err)
	}
	if !restored.Eq(value) {
		t.Errorf("round trip failed, wanted %v, got %v", value, restored)
	}
}

func TestMemory_ExpansionBeyondLimitFails(t *testing.T) {
	c := newTestContext(math.MaxInt64)
	m := c.memory
	if err := m.expandMemory(uint64(maxMemoryWords)*32, 64, c); err != errMemoryLimit {
		t.Errorf("wanted memory limit error, got %v", err)
	}
}

func TestMemory_OffsetOverflowIsRejected(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory
	if err := m.expandMemory(math.MaxUint64, 2, c); err != errGasUintOverflow {
		t.Errorf("wanted gas overflow error, got %v", err)
	}
}

func TestMemory_SnapshotIsIndependent(t *testing.T) {
	c := newTestContext(1000)
	m := c.memory
	if err := m.set(0, []byte{1, 2, 3}, c); err != nil {
		t.Fatalf("failed to write memory: %v", err)
	}
	snapshot := m.Snapshot()
	if err := m.set(0, []byte{9, 9, 9}, c); err != nil {
		t.Fatalf("failed to overwrite memory: %v", err)
	}
	if snapshot[0] != 1 || snapshot[1] != 2 || snapshot[2] != 3 {
		t.Errorf("snapshot changed by later mutation: %v", snapshot[:3])
	}
}

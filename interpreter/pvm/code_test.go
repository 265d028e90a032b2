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
	"testing"
)

func TestAnalyze_FindsJumpDestinations(t *testing.T) {
	// JUMPDEST, PUSH1 0x5b, JUMPDEST
	code := []byte{0x5B, 0x60, 0x5B, 0x5B}
	analysis := analyze(code)

	if !analysis.isJumpDest(0) {
		t.Errorf("offset 0 must be a jump destination")
	}
	if analysis.isJumpDest(2) {
		t.Errorf("the 0x5b in push data must not be a jump destination")
	}
	if !analysis.isJumpDest(3) {
		t.Errorf("offset 3 must be a jump destination")
	}
	if analysis.isJumpDest(4) {
		t.Errorf("offsets past the code must not be jump destinations")
	}
	if analysis.isJumpDest(1 << 40) {
		t.Errorf("far offsets must not be jump destinations")
	}
}

func TestAnalyze_TruncatedPushAtEndOfCode(t *testing.T) {
	// PUSH32 with only one byte of data following
	code := []byte{0x7F, 0x5B}
	analysis := analyze(code)
	if analysis.isJumpDest(1) {
		t.Errorf("data of a truncated push must not be a jump destination")
	}
}

func TestAnalyzer_CachesByCodeHash(t *testing.T) {
	analyzer, err := NewAnalyzer(16)
	if err != nil {
		t.Fatalf("failed to create analyzer: %v", err)
	}
	code := []byte{0x5B, 0x00}
	hash := HashCode(code)

	first := analyzer.Analyze(code, &hash)
	second := analyzer.Analyze(code, &hash)
	if &first.jumpDests[0] != &second.jumpDests[0] {
		t.Errorf("cached analysis not reused")
	}
}

func TestAnalyzer_NilHashBypassesCache(t *testing.T) {
	analyzer, err := NewAnalyzer(16)
	if err != nil {
		t.Fatalf("failed to create analyzer: %v", err)
	}
	code := []byte{0x5B, 0x00}
	first := analyzer.Analyze(code, nil)
	second := analyzer.Analyze(code, nil)
	if &first.jumpDests[0] == &second.jumpDests[0] {
		t.Errorf("analysis without hash must not be cached")
	}
}

func TestOpCode_WidthCoversPushData(t *testing.T) {
	if got, want := PUSH1.Width(), 2; got != want {
		t.Errorf("wanted width %d, got %d", want, got)
	}
	if got, want := PUSH32.Width(), 33; got != want {
		t.Errorf("wanted width %d, got %d", want, got)
	}
	if got, want := ADD.Width(), 1; got != want {
		t.Errorf("wanted width %d, got %d", want, got)
	}
}

func TestOpCode_Printing(t *testing.T) {
	tests := map[OpCode]string{
		STOP:         "STOP",
		PUSH7:        "PUSH7",
		DUP12:        "DUP12",
		SWAP16:       "SWAP16",
		SELFDESTRUCT: "SELFDESTRUCT",
		OpCode(0xEF): "op(0xEF)",
	}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("wanted %s, got %s", want, got)
		}
	}
}

func TestIsValid_RejectsUndefinedBytes(t *testing.T) {
	if IsValid(INVALID) {
		t.Errorf("INVALID must not be a valid instruction")
	}
	if IsValid(OpCode(0x0C)) {
		t.Errorf("0x0C is not assigned and must be invalid")
	}
	if !IsValid(PUSH32) || !IsValid(SELFDESTRUCT) || !IsValid(DUP16) {
		t.Errorf("defined instructions must be valid")
	}
}

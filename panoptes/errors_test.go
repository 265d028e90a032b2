// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package panoptes

import (
	"encoding/json"
	"testing"
)

func TestConstError_Error(t *testing.T) {
	const err = ConstError("something went wrong")
	if got, want := err.Error(), "something went wrong"; got != want {
		t.Errorf("wanted %q, got %q", want, got)
	}
}

func TestErrorCode_StableNumericIds(t *testing.T) {
	// These ids are part of the trace document format and must never change.
	ids := map[ErrorCode]int{
		ErrNone:                  0,
		ErrStackOverflow:         1,
		ErrStackUnderflow:        2,
		ErrInvalidOpcode:         3,
		ErrOutOfGas:              4,
		ErrInvalidJump:           5,
		ErrStaticViolation:       6,
		ErrRevert:                7,
		ErrDepthExceeded:         8,
		ErrInsufficientBalance:   9,
		ErrReturnDataOutOfBounds: 10,
		ErrMemoryLimit:           11,
		ErrAborted:               12,
	}
	for code, want := range ids {
		if int(code) != want {
			t.Errorf("code %v has id %d, wanted %d", code, int(code), want)
		}
	}
}

func TestErrorCode_EncodesAsNumber(t *testing.T) {
	encoded, err := json.Marshal(ErrRevert)
	if err != nil {
		t.Fatalf("failed to encode error code: %v", err)
	}
	if string(encoded) != "7" {
		t.Errorf("wanted numeric encoding 7, got %s", encoded)
	}
}

func TestErrorCode_IsFault(t *testing.T) {
	if ErrNone.IsFault() {
		t.Errorf("ErrNone must not be a fault")
	}
	for code := ErrStackOverflow; code <= ErrAborted; code++ {
		if !code.IsFault() {
			t.Errorf("%v must be a fault", code)
		}
	}
}

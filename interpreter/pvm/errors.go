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
	"errors"

	"github.com/Fantom-foundation/Panoptes/panoptes"
)

const (
	errGasUintOverflow       = panoptes.ConstError("gas uint64 overflow")
	errInvalidInstruction    = panoptes.ConstError("invalid instruction")
	errInvalidJump           = panoptes.ConstError("invalid jump destination")
	errOutOfGas              = panoptes.ConstError("out of gas")
	errReturnDataOutOfBounds = panoptes.ConstError("return data out of bounds")
	errStackOverflow         = panoptes.ConstError("stack overflow")
	errStackUnderflow        = panoptes.ConstError("stack underflow")
	errStaticViolation       = panoptes.ConstError("write protection")
	errMemoryLimit           = panoptes.ConstError("memory limit exceeded")
	errAborted               = panoptes.ConstError("aborted")
	errInitCodeTooLarge      = panoptes.ConstError("init code larger than allowed")
)

// errorCodeFor maps an execution error to its stable trace error code.
func errorCodeFor(err error) panoptes.ErrorCode {
	switch {
	case err == nil:
		return panoptes.ErrNone
	case errors.Is(err, errStackOverflow):
		return panoptes.ErrStackOverflow
	case errors.Is(err, errStackUnderflow):
		return panoptes.ErrStackUnderflow
	case errors.Is(err, errInvalidInstruction), errors.Is(err, errInitCodeTooLarge):
		return panoptes.ErrInvalidOpcode
	case errors.Is(err, errInvalidJump):
		return panoptes.ErrInvalidJump
	case errors.Is(err, errStaticViolation):
		return panoptes.ErrStaticViolation
	case errors.Is(err, panoptes.ErrMaxCallDepthReached):
		return panoptes.ErrDepthExceeded
	case errors.Is(err, errReturnDataOutOfBounds):
		return panoptes.ErrReturnDataOutOfBounds
	case errors.Is(err, errMemoryLimit):
		return panoptes.ErrMemoryLimit
	case errors.Is(err, errAborted):
		return panoptes.ErrAborted
	case errors.Is(err, errOutOfGas), errors.Is(err, errGasUintOverflow):
		return panoptes.ErrOutOfGas
	default:
		return panoptes.ErrOutOfGas
	}
}

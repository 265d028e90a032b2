// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package batch

import (
	"github.com/Fantom-foundation/Panoptes/journal"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/Fantom-foundation/Panoptes/tracer"
)

// Message is the transaction-level input of one instance, as produced by the
// fixture loader.
type Message struct {
	Sender   panoptes.Address
	To       *panoptes.Address // nil requests a contract creation
	Nonce    uint64
	GasPrice panoptes.Value
	GasLimit panoptes.Gas
	Value    panoptes.Value
	Input    panoptes.Data
}

// Instance is one independent transaction of a batch. Each instance
// exclusively owns its journal and its trace; the base world is shared
// read-only between all instances.
type Instance struct {
	Message Message
	Journal *journal.Journal
	Trace   *tracer.Tracer
	Result  panoptes.Result
}

// ErrorCode returns the final error code of the instance: the code of the
// last trace entry, or the result code for instances that failed before the
// first instruction retired.
func (i *Instance) ErrorCode() panoptes.ErrorCode {
	if i.Trace != nil && i.Trace.Len() > 0 {
		if code := i.Trace.LastError(); code.IsFault() {
			return code
		}
	}
	return i.Result.Error
}

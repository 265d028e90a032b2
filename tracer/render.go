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
	"fmt"

	"github.com/Fantom-foundation/Panoptes/panoptes"
)

// entryDocument is the JSON shape of one trace step. Gas values are encoded
// as hex strings, the error code as a plain number.
type entryDocument struct {
	Address   panoptes.Address        `json:"address"`
	Pc        uint64                  `json:"pc"`
	OpCode    string                  `json:"opcode"`
	Stack     []panoptes.Word         `json:"stack"`
	Memory    string                  `json:"memory"`
	Touched   []panoptes.AccountDelta `json:"touch_state"`
	GasUsed   string                  `json:"gas_used"`
	GasLimit  string                  `json:"gas_limit"`
	GasRefund string                  `json:"gas_refund"`
	Error     panoptes.ErrorCode      `json:"error_code"`
}

func hexGas(gas panoptes.Gas) string {
	return fmt.Sprintf("0x%x", uint64(gas))
}

func (e Entry) MarshalJSON() ([]byte, error) {
	stack := e.Stack
	if stack == nil {
		stack = []panoptes.Word{}
	}
	touched := e.Touched
	if touched == nil {
		touched = []panoptes.AccountDelta{}
	}
	return json.Marshal(entryDocument{
		Address:   e.Address,
		Pc:        e.PC,
		OpCode:    e.OpCode.String(),
		Stack:     stack,
		Memory:    fmt.Sprintf("0x%x", e.Memory),
		Touched:   touched,
		GasUsed:   hexGas(e.GasUsed),
		GasLimit:  hexGas(e.GasLimit),
		GasRefund: hexGas(e.GasRefund),
		Error:     e.Error,
	})
}

// Render produces the trace document: an ordered array of per-step objects.
// Rendering is pure and does not consume the trace.
func (t *Tracer) Render() ([]byte, error) {
	entries := make([]Entry, t.size)
	for i := 0; i < t.size; i++ {
		entries[i] = t.Get(i)
	}
	return json.MarshalIndent(entries, "", "  ")
}

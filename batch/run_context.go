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
	"github.com/Fantom-foundation/Panoptes/interpreter/pvm"
	"github.com/Fantom-foundation/Panoptes/panoptes"

	// geth dependencies
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// runContext drives the nested call frames of one instance. It implements
// panoptes.RunContext by layering the call logic over the instance's
// journal, dispatching every frame back into the interpreter.
type runContext struct {
	panoptes.TransactionContext
	config                pvm.Config
	transactionParameters panoptes.TransactionParameters
	depth                 int
	static                bool
}

func (r runContext) Call(kind panoptes.CallKind, parameters panoptes.CallParameters) (panoptes.CallResult, error) {
	if kind == panoptes.Create || kind == panoptes.Create2 {
		return r.executeCreate(kind, parameters)
	}
	return r.executeCall(kind, parameters)
}

func (r runContext) executeCall(kind panoptes.CallKind, parameters panoptes.CallParameters) (panoptes.CallResult, error) {
	if r.depth >= panoptes.MaxCallDepth {
		return panoptes.CallResult{}, panoptes.ErrMaxCallDepthReached
	}
	r.depth++

	if kind == panoptes.StaticCall {
		r.static = true
	}

	snapshot := r.CreateSnapshot()
	recipient := parameters.Recipient

	if kind == panoptes.Call || kind == panoptes.CallCode {
		transferValue(r.TransactionContext, parameters.Value, parameters.Sender, recipient)
	}

	var code panoptes.Code
	var codeHash panoptes.Hash
	if kind == panoptes.Call || kind == panoptes.StaticCall {
		code = r.GetCode(recipient)
		codeHash = r.GetCodeHash(recipient)
	} else {
		code = r.GetCode(parameters.CodeAddress)
		codeHash = r.GetCodeHash(parameters.CodeAddress)
	}

	// Calling an account without code succeeds immediately.
	if len(code) == 0 {
		r.CommitSnapshot(snapshot)
		return panoptes.CallResult{Success: true, GasLeft: parameters.Gas}, nil
	}

	interpreterParameters := panoptes.Parameters{
		TransactionParameters: r.transactionParameters,
		Context:               r,
		Kind:                  kind,
		Static:                r.static,
		Depth:                 r.depth - 1, // depth has already been incremented
		Gas:                   parameters.Gas,
		Recipient:             recipient,
		Sender:                parameters.Sender,
		Input:                 parameters.Input,
		Value:                 parameters.Value,
		CodeHash:              &codeHash,
		Code:                  code,
	}

	result, err := pvm.Run(r.config, interpreterParameters)
	if err != nil {
		return panoptes.CallResult{}, err
	}
	if result.Error == panoptes.ErrDepthExceeded {
		// a blown call depth kills the whole instance, not just the frame
		r.RestoreSnapshot(snapshot)
		return panoptes.CallResult{}, panoptes.ErrMaxCallDepthReached
	}
	if result.Success {
		r.CommitSnapshot(snapshot)
	} else {
		r.RestoreSnapshot(snapshot)
		if result.Error != panoptes.ErrRevert {
			// any fault but a revert consumes the remaining gas
			result.GasLeft = 0
		}
	}

	return panoptes.CallResult{
		Output:    result.Output,
		GasLeft:   result.GasLeft,
		GasRefund: result.GasRefund,
		Success:   result.Success,
	}, nil
}

func (r runContext) executeCreate(kind panoptes.CallKind, parameters panoptes.CallParameters) (panoptes.CallResult, error) {
	if r.depth >= panoptes.MaxCallDepth {
		return panoptes.CallResult{}, panoptes.ErrMaxCallDepthReached
	}
	r.depth++

	if err := incrementNonce(r.TransactionContext, parameters.Sender); err != nil {
		return panoptes.CallResult{GasLeft: parameters.Gas}, nil
	}

	code := panoptes.Code(parameters.Input)
	codeHash := pvm.HashCode(code)
	createdAddress := createAddress(kind, parameters.Sender,
		r.GetNonce(parameters.Sender)-1, parameters.Salt, codeHash)

	r.AccessAccount(createdAddress)

	// creation collision: the target account must be fresh
	if r.GetNonce(createdAddress) != 0 || r.GetCodeSize(createdAddress) != 0 {
		return panoptes.CallResult{}, nil
	}

	snapshot := r.CreateSnapshot()
	r.SetNonce(createdAddress, 1)
	transferValue(r.TransactionContext, parameters.Value, parameters.Sender, createdAddress)

	interpreterParameters := panoptes.Parameters{
		TransactionParameters: r.transactionParameters,
		Context:               r,
		Kind:                  kind,
		Static:                r.static,
		Depth:                 r.depth - 1, // depth has already been incremented
		Gas:                   parameters.Gas,
		Recipient:             createdAddress,
		Sender:                parameters.Sender,
		Input:                 nil,
		Value:                 parameters.Value,
		CodeHash:              &codeHash,
		Code:                  code,
	}

	result, err := pvm.Run(r.config, interpreterParameters)
	if err != nil {
		return panoptes.CallResult{}, err
	}
	if result.Error == panoptes.ErrDepthExceeded {
		r.RestoreSnapshot(snapshot)
		return panoptes.CallResult{}, panoptes.ErrMaxCallDepthReached
	}
	if !result.Success {
		r.RestoreSnapshot(snapshot)
		if result.Error != panoptes.ErrRevert {
			return panoptes.CallResult{CreatedAddress: createdAddress}, nil
		}
		return panoptes.CallResult{
			Output:         result.Output,
			GasLeft:        result.GasLeft,
			CreatedAddress: createdAddress,
		}, nil
	}

	// charge the code deposit and check the deployed code
	deployedCode := result.Output
	success := true
	if len(deployedCode) > pvm.MaxCodeSize {
		success = false
	}
	depositGas := panoptes.Gas(len(deployedCode)) * pvm.CreateGasCostPerByte
	if result.GasLeft < depositGas {
		success = false
	}

	if !success {
		r.RestoreSnapshot(snapshot)
		return panoptes.CallResult{CreatedAddress: createdAddress}, nil
	}

	result.GasLeft -= depositGas
	r.SetCode(createdAddress, panoptes.Code(deployedCode))
	r.CommitSnapshot(snapshot)

	return panoptes.CallResult{
		GasLeft:        result.GasLeft,
		GasRefund:      result.GasRefund,
		Success:        true,
		CreatedAddress: createdAddress,
	}, nil
}

func createAddress(
	kind panoptes.CallKind,
	sender panoptes.Address,
	nonce uint64,
	salt panoptes.Hash,
	initHash panoptes.Hash,
) panoptes.Address {
	if kind == panoptes.Create {
		return panoptes.Address(crypto.CreateAddress(common.Address(sender), nonce))
	}
	return panoptes.Address(crypto.CreateAddress2(common.Address(sender), common.Hash(salt), initHash[:]))
}

func canTransferValue(
	context panoptes.TransactionContext,
	value panoptes.Value,
	sender panoptes.Address,
) bool {
	if value == (panoptes.Value{}) {
		return true
	}
	return context.GetBalance(sender).Cmp(value) >= 0
}

// transferValue moves the given value between the two accounts. Only to be
// called after canTransferValue.
func transferValue(
	context panoptes.TransactionContext,
	value panoptes.Value,
	sender panoptes.Address,
	recipient panoptes.Address,
) {
	if value == (panoptes.Value{}) {
		return
	}
	if sender == recipient {
		return
	}
	context.SetBalance(sender, panoptes.Sub(context.GetBalance(sender), value))
	context.SetBalance(recipient, panoptes.Add(context.GetBalance(recipient), value))
}

func incrementNonce(context panoptes.TransactionContext, address panoptes.Address) error {
	nonce := context.GetNonce(address)
	if nonce+1 < nonce {
		return panoptes.ConstError("nonce overflow")
	}
	context.SetNonce(address, nonce+1)
	return nil
}

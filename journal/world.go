// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package journal

import (
	"bytes"

	"github.com/Fantom-foundation/Panoptes/panoptes"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
)

// Account is one account of an in-memory world. The zero account is empty.
type Account struct {
	Balance panoptes.Value
	Nonce   uint64
	Code    panoptes.Code
	Storage map[panoptes.Key]panoptes.Word
}

func (a *Account) Clone() Account {
	return Account{
		Balance: a.Balance,
		Nonce:   a.Nonce,
		Code:    append(panoptes.Code(nil), a.Code...),
		Storage: maps.Clone(a.Storage),
	}
}

func (a *Account) Equal(other *Account) bool {
	return a.Balance == other.Balance &&
		a.Nonce == other.Nonce &&
		bytes.Equal(a.Code, other.Code) &&
		maps.Equal(a.Storage, other.Storage)
}

// World is a simple in-memory world state. It serves as the immutable base
// world of a batch, seeded from a fixture before any instance runs. Since
// instances buffer all their modifications in their journals, a World can be
// shared read-only between all instances of a batch.
type World map[panoptes.Address]Account

func (w World) Clone() World {
	if w == nil {
		return nil
	}
	res := make(World, len(w))
	for addr, account := range w {
		res[addr] = account.Clone()
	}
	return res
}

func (w World) AccountExists(addr panoptes.Address) bool {
	account, found := w[addr]
	return found && (account.Balance != (panoptes.Value{}) ||
		account.Nonce != 0 || len(account.Code) > 0)
}

func (w World) GetBalance(addr panoptes.Address) panoptes.Value {
	return w[addr].Balance
}

func (w World) SetBalance(addr panoptes.Address, value panoptes.Value) {
	account := w[addr]
	account.Balance = value
	w[addr] = account
}

func (w World) GetNonce(addr panoptes.Address) uint64 {
	return w[addr].Nonce
}

func (w World) SetNonce(addr panoptes.Address, nonce uint64) {
	account := w[addr]
	account.Nonce = nonce
	w[addr] = account
}

func (w World) GetCode(addr panoptes.Address) panoptes.Code {
	return w[addr].Code
}

func (w World) GetCodeHash(addr panoptes.Address) (hash panoptes.Hash) {
	code := w[addr].Code
	if len(code) == 0 {
		return panoptes.Hash{}
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(code)
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func (w World) GetCodeSize(addr panoptes.Address) int {
	return len(w[addr].Code)
}

func (w World) SetCode(addr panoptes.Address, code panoptes.Code) {
	account := w[addr]
	account.Code = code
	w[addr] = account
}

func (w World) GetStorage(addr panoptes.Address, key panoptes.Key) panoptes.Word {
	return w[addr].Storage[key]
}

func (w World) SetStorage(addr panoptes.Address, key panoptes.Key, value panoptes.Word) panoptes.StorageStatus {
	account := w[addr]
	current := account.Storage[key]
	if account.Storage == nil {
		account.Storage = map[panoptes.Key]panoptes.Word{}
	}
	account.Storage[key] = value
	w[addr] = account
	return panoptes.GetStorageStatus(current, current, value)
}

func (w World) SelfDestruct(addr panoptes.Address, beneficiary panoptes.Address) bool {
	account, found := w[addr]
	if !found {
		return false
	}
	if addr != beneficiary {
		w.SetBalance(beneficiary, panoptes.Add(w.GetBalance(beneficiary), account.Balance))
	}
	delete(w, addr)
	return true
}

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
	"fmt"
	"math"
)

//go:generate mockgen -source world_state.go -destination world_state_mock.go -package panoptes

// WorldState is an interface to access and manipulate the state of the chain.
// The state of the chain is a collection of accounts, each with a balance, a
// nonce, optional code and storage.
type WorldState interface {
	AccountExists(Address) bool

	GetBalance(Address) Value
	SetBalance(Address, Value)

	GetNonce(Address) uint64
	SetNonce(Address, uint64)

	GetCode(Address) Code
	GetCodeHash(Address) Hash
	GetCodeSize(Address) int
	SetCode(Address, Code)

	GetStorage(Address, Key) Word
	SetStorage(Address, Key, Word) StorageStatus

	// Destroys addr and transfers its balance to beneficiary.
	// If beneficiary does not exist, the balance is transferred anyway.
	// Returns true if it is the first time destroying this addr in the
	// ongoing transaction, false otherwise.
	SelfDestruct(addr Address, beneficiary Address) bool
}

// StorageStatus is an enum utilized to indicate the effect of a storage
// slot update on the respective slot in the context of the current
// transaction. It is needed to perform proper gas price calculations of
// SSTORE operations.
type StorageStatus int

const (
	// The comment indicates the storage values for the corresponding
	// configuration. X, Y, Z are non-zero numbers, distinct from each other,
	// while 0 is zero.
	//
	// <original> -> <current> -> <new>
	StorageAssigned         StorageStatus = iota
	StorageAdded                          // 0 -> 0 -> Z
	StorageDeleted                        // X -> X -> 0
	StorageModified                       // X -> X -> Z
	StorageDeletedAdded                   // X -> 0 -> Z
	StorageModifiedDeleted                // X -> Y -> 0
	StorageDeletedRestored                // X -> 0 -> X
	StorageAddedDeleted                   // 0 -> Y -> 0
	StorageModifiedRestored               // X -> Y -> X
)

// GetStorageStatus obtains the status code resulting from mutating a storage
// slot with the given original (=committed), current, and new value.
func GetStorageStatus(original, current, new Word) StorageStatus {
	var zero = Word{}

	if current == new {
		return StorageAssigned
	}

	// 0 -> 0 -> Z
	if original == zero && current == zero && new != zero {
		return StorageAdded
	}

	// X -> X -> 0
	if original != zero && current == original && new == zero {
		return StorageDeleted
	}

	// X -> X -> Z
	if original != zero && current == original && new != zero && new != original {
		return StorageModified
	}

	// X -> 0 -> Z
	if original != zero && current == zero && new != original && new != zero {
		return StorageDeletedAdded
	}

	// X -> Y -> 0
	if original != zero && current != original && current != zero && new == zero {
		return StorageModifiedDeleted
	}

	// X -> 0 -> X
	if original != zero && current == zero && new == original {
		return StorageDeletedRestored
	}

	// 0 -> Y -> 0
	if original == zero && current != zero && new == zero {
		return StorageAddedDeleted
	}

	// X -> Y -> X
	if original != zero && current != original && current != zero && new == original {
		return StorageModifiedRestored
	}

	return StorageAssigned
}

func (status StorageStatus) String() string {
	switch status {
	case StorageAssigned:
		return "StorageAssigned"
	case StorageAdded:
		return "StorageAdded"
	case StorageAddedDeleted:
		return "StorageAddedDeleted"
	case StorageDeletedRestored:
		return "StorageDeletedRestored"
	case StorageDeletedAdded:
		return "StorageDeletedAdded"
	case StorageDeleted:
		return "StorageDeleted"
	case StorageModified:
		return "StorageModified"
	case StorageModifiedDeleted:
		return "StorageModifiedDeleted"
	case StorageModifiedRestored:
		return "StorageModifiedRestored"
	}
	return fmt.Sprintf("StorageStatus(%d)", status)
}

// SizeInWords returns the number of 32-byte words required to store the given
// number of bytes, checking that size+31 does not overflow uint64.
func SizeInWords(size uint64) uint64 {
	if size > math.MaxUint64-31 {
		return math.MaxUint64/32 + 1
	}
	return (size + 31) / 32
}

// AccountStatus tracks how an account has been touched within the ongoing
// transaction.
type AccountStatus uint8

const (
	AccountUntouched AccountStatus = iota
	AccountRead
	AccountWritten
	AccountCreated
	AccountDestroyed
)

func (s AccountStatus) String() string {
	switch s {
	case AccountUntouched:
		return "untouched"
	case AccountRead:
		return "read"
	case AccountWritten:
		return "written"
	case AccountCreated:
		return "created"
	case AccountDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("AccountStatus(%d)", s)
}

func (s AccountStatus) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// AccountDelta is the by-value projection of one touched account, as
// captured for a trace entry. Storage holds the slots touched so far with
// their current values.
type AccountDelta struct {
	Address Address       `json:"address"`
	Status  AccountStatus `json:"status"`
	Balance Value         `json:"balance"`
	Nonce   uint64        `json:"nonce"`
	Code    Code          `json:"code,omitempty"`
	Storage map[Key]Word  `json:"storage,omitempty"`
}

// Clone creates an independent copy of the delta.
func (d AccountDelta) Clone() AccountDelta {
	res := d
	res.Code = append(Code(nil), d.Code...)
	if d.Storage != nil {
		res.Storage = make(map[Key]Word, len(d.Storage))
		for k, v := range d.Storage {
			res.Storage[k] = v
		}
	}
	return res
}

// Equal returns true if the two deltas describe the same account state.
func (d AccountDelta) Equal(o AccountDelta) bool {
	if d.Address != o.Address || d.Status != o.Status ||
		d.Balance != o.Balance || d.Nonce != o.Nonce {
		return false
	}
	if string(d.Code) != string(o.Code) {
		return false
	}
	if len(d.Storage) != len(o.Storage) {
		return false
	}
	for k, v := range d.Storage {
		if o.Storage[k] != v {
			return false
		}
	}
	return true
}

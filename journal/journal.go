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
	"fmt"
	"sort"

	"github.com/Fantom-foundation/Panoptes/panoptes"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
)

// Journal buffers all world-state modifications of one transaction as a
// stack of diff layers over an immutable base world. Each snapshot pushes a
// layer; reverting drops it, committing folds it into its parent. Since the
// EIP-2929 warmth bits live in the layers as well, a revert restores them to
// their value at snapshot time.
//
// The base world is read-through and must not be modified for the lifetime
// of the journal. A journal is confined to a single instance and is not
// thread-safe.
type Journal struct {
	base   panoptes.WorldState
	layers []*layer
}

// slotId identifies one storage slot of one account.
type slotId struct {
	addr panoptes.Address
	key  panoptes.Key
}

// layer is one diff layer of the journal. Maps only hold the keys written
// or warmed since the layer was pushed.
type layer struct {
	balance    map[panoptes.Address]panoptes.Value
	nonce      map[panoptes.Address]uint64
	code       map[panoptes.Address]panoptes.Code
	storage    map[slotId]panoptes.Word
	warmAddr   map[panoptes.Address]struct{}
	warmSlot   map[slotId]struct{}
	status     map[panoptes.Address]panoptes.AccountStatus
	destructed map[panoptes.Address]panoptes.Address // account -> beneficiary
}

func newLayer() *layer {
	return &layer{
		balance:    map[panoptes.Address]panoptes.Value{},
		nonce:      map[panoptes.Address]uint64{},
		code:       map[panoptes.Address]panoptes.Code{},
		storage:    map[slotId]panoptes.Word{},
		warmAddr:   map[panoptes.Address]struct{}{},
		warmSlot:   map[slotId]struct{}{},
		status:     map[panoptes.Address]panoptes.AccountStatus{},
		destructed: map[panoptes.Address]panoptes.Address{},
	}
}

// New creates a journal over the given base world. The base may be shared
// read-only between the journals of many instances.
func New(base panoptes.WorldState) *Journal {
	return &Journal{
		base:   base,
		layers: []*layer{newLayer()},
	}
}

func (j *Journal) top() *layer {
	return j.layers[len(j.layers)-1]
}

// escalate raises the touch status of the account; statuses only ever grow
// within a layer, and a revert drops them with the layer.
func (j *Journal) escalate(addr panoptes.Address, status panoptes.AccountStatus) {
	top := j.top()
	if top.status[addr] < status {
		top.status[addr] = status
	}
}

// ---------------------------------------------------------------------------
// WorldState
// ---------------------------------------------------------------------------

func (j *Journal) AccountExists(addr panoptes.Address) bool {
	for i := len(j.layers) - 1; i >= 0; i-- {
		l := j.layers[i]
		_, hasBalance := l.balance[addr]
		_, hasNonce := l.nonce[addr]
		_, hasCode := l.code[addr]
		if hasBalance || hasNonce || hasCode {
			balance := j.GetBalance(addr)
			return balance != (panoptes.Value{}) ||
				j.GetNonce(addr) != 0 || len(j.GetCode(addr)) > 0
		}
	}
	return j.base.AccountExists(addr)
}

func (j *Journal) GetBalance(addr panoptes.Address) panoptes.Value {
	j.escalate(addr, panoptes.AccountRead)
	for i := len(j.layers) - 1; i >= 0; i-- {
		if value, found := j.layers[i].balance[addr]; found {
			return value
		}
	}
	return j.base.GetBalance(addr)
}

func (j *Journal) SetBalance(addr panoptes.Address, value panoptes.Value) {
	j.escalate(addr, panoptes.AccountWritten)
	j.top().balance[addr] = value
}

func (j *Journal) GetNonce(addr panoptes.Address) uint64 {
	j.escalate(addr, panoptes.AccountRead)
	for i := len(j.layers) - 1; i >= 0; i-- {
		if nonce, found := j.layers[i].nonce[addr]; found {
			return nonce
		}
	}
	return j.base.GetNonce(addr)
}

func (j *Journal) SetNonce(addr panoptes.Address, nonce uint64) {
	j.escalate(addr, panoptes.AccountWritten)
	j.top().nonce[addr] = nonce
}

func (j *Journal) GetCode(addr panoptes.Address) panoptes.Code {
	j.escalate(addr, panoptes.AccountRead)
	for i := len(j.layers) - 1; i >= 0; i-- {
		if code, found := j.layers[i].code[addr]; found {
			return code
		}
	}
	return j.base.GetCode(addr)
}

func (j *Journal) GetCodeHash(addr panoptes.Address) (hash panoptes.Hash) {
	code := j.GetCode(addr)
	if len(code) == 0 {
		return panoptes.Hash{}
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(code)
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func (j *Journal) GetCodeSize(addr panoptes.Address) int {
	return len(j.GetCode(addr))
}

// SetCode deploys code for the given account, marking it created.
func (j *Journal) SetCode(addr panoptes.Address, code panoptes.Code) {
	j.escalate(addr, panoptes.AccountCreated)
	j.top().code[addr] = code
}

func (j *Journal) GetStorage(addr panoptes.Address, key panoptes.Key) panoptes.Word {
	j.escalate(addr, panoptes.AccountRead)
	id := slotId{addr, key}
	for i := len(j.layers) - 1; i >= 0; i-- {
		if value, found := j.layers[i].storage[id]; found {
			return value
		}
	}
	return j.base.GetStorage(addr, key)
}

func (j *Journal) SetStorage(addr panoptes.Address, key panoptes.Key, value panoptes.Word) panoptes.StorageStatus {
	original := j.GetCommittedStorage(addr, key)
	current := j.GetStorage(addr, key)
	j.escalate(addr, panoptes.AccountWritten)
	j.top().storage[slotId{addr, key}] = value
	return panoptes.GetStorageStatus(original, current, value)
}

// SelfDestruct marks the account destroyed and registers the beneficiary of
// its balance. The transfer itself happens at end-of-transaction settlement;
// until then the account still responds to reads. Returns true if this is
// the first destruction of the account in the ongoing transaction.
func (j *Journal) SelfDestruct(addr panoptes.Address, beneficiary panoptes.Address) bool {
	if j.HasSelfDestructed(addr) {
		return false
	}
	j.escalate(addr, panoptes.AccountDestroyed)
	j.top().destructed[addr] = beneficiary
	return true
}

// ---------------------------------------------------------------------------
// TransactionContext
// ---------------------------------------------------------------------------

// CreateSnapshot pushes a new diff layer and returns its handle.
func (j *Journal) CreateSnapshot() panoptes.Snapshot {
	j.layers = append(j.layers, newLayer())
	return panoptes.Snapshot(len(j.layers) - 1)
}

// RestoreSnapshot drops the layer belonging to the given handle and every
// layer above it. Every observable bit of journal state, including warmth,
// returns to its value at the time the snapshot was created.
func (j *Journal) RestoreSnapshot(snapshot panoptes.Snapshot) {
	if snapshot < 1 || int(snapshot) >= len(j.layers) {
		panic(fmt.Sprintf("journal: invalid snapshot handle %d with %d layers", snapshot, len(j.layers)))
	}
	j.layers = j.layers[:snapshot]
}

// CommitSnapshot folds the layer belonging to the given handle and every
// layer above it into their parent, discarding the rollback information.
func (j *Journal) CommitSnapshot(snapshot panoptes.Snapshot) {
	if snapshot < 1 || int(snapshot) >= len(j.layers) {
		panic(fmt.Sprintf("journal: invalid snapshot handle %d with %d layers", snapshot, len(j.layers)))
	}
	parent := j.layers[snapshot-1]
	for _, l := range j.layers[snapshot:] {
		maps.Copy(parent.balance, l.balance)
		maps.Copy(parent.nonce, l.nonce)
		maps.Copy(parent.code, l.code)
		maps.Copy(parent.storage, l.storage)
		maps.Copy(parent.warmAddr, l.warmAddr)
		maps.Copy(parent.warmSlot, l.warmSlot)
		for addr, status := range l.status {
			if parent.status[addr] < status {
				parent.status[addr] = status
			}
		}
		for addr, beneficiary := range l.destructed {
			if _, found := parent.destructed[addr]; !found {
				parent.destructed[addr] = beneficiary
			}
		}
	}
	j.layers = j.layers[:snapshot]
}

// AccessAccount warms the given address and returns whether it was cold or
// warm before the call (EIP-2929).
func (j *Journal) AccessAccount(addr panoptes.Address) panoptes.AccessStatus {
	if j.IsAddressInAccessList(addr) {
		return panoptes.WarmAccess
	}
	j.top().warmAddr[addr] = struct{}{}
	return panoptes.ColdAccess
}

// AccessStorage warms the given storage slot and returns whether it was cold
// or warm before the call (EIP-2929).
func (j *Journal) AccessStorage(addr panoptes.Address, key panoptes.Key) panoptes.AccessStatus {
	if _, slotPresent := j.IsSlotInAccessList(addr, key); slotPresent {
		return panoptes.WarmAccess
	}
	j.top().warmSlot[slotId{addr, key}] = struct{}{}
	return panoptes.ColdAccess
}

func (j *Journal) IsAddressInAccessList(addr panoptes.Address) bool {
	for i := len(j.layers) - 1; i >= 0; i-- {
		if _, found := j.layers[i].warmAddr[addr]; found {
			return true
		}
	}
	return false
}

func (j *Journal) IsSlotInAccessList(addr panoptes.Address, key panoptes.Key) (addressPresent, slotPresent bool) {
	id := slotId{addr, key}
	for i := len(j.layers) - 1; i >= 0; i-- {
		if _, found := j.layers[i].warmSlot[id]; found {
			slotPresent = true
			break
		}
	}
	return j.IsAddressInAccessList(addr), slotPresent
}

// GetCommittedStorage returns the value of the slot at the beginning of the
// transaction, as needed by the EIP-2200 gas rules.
func (j *Journal) GetCommittedStorage(addr panoptes.Address, key panoptes.Key) panoptes.Word {
	return j.base.GetStorage(addr, key)
}

func (j *Journal) HasSelfDestructed(addr panoptes.Address) bool {
	for i := len(j.layers) - 1; i >= 0; i-- {
		if _, found := j.layers[i].destructed[addr]; found {
			return true
		}
	}
	return false
}

// Settle applies the end-of-transaction semantics of SELFDESTRUCT: every
// account of the destruct set has its balance credited to its beneficiary
// exactly once and is emptied afterwards. To be called once, after the
// top-level frame has completed successfully.
func (j *Journal) Settle() {
	destructed := map[panoptes.Address]panoptes.Address{}
	for _, l := range j.layers {
		for addr, beneficiary := range l.destructed {
			if _, found := destructed[addr]; !found {
				destructed[addr] = beneficiary
			}
		}
	}

	// settle in address order to keep the operation deterministic
	addresses := maps.Keys(destructed)
	sort.Slice(addresses, func(a, b int) bool {
		return addresses[a].String() < addresses[b].String()
	})

	for _, addr := range addresses {
		beneficiary := destructed[addr]
		balance := j.GetBalance(addr)
		if addr != beneficiary {
			j.SetBalance(beneficiary, panoptes.Add(j.GetBalance(beneficiary), balance))
		}
		j.SetBalance(addr, panoptes.Value{})
		j.SetNonce(addr, 0)
		j.SetCode(addr, nil)
		j.escalate(addr, panoptes.AccountDestroyed)
	}
}

// TouchedAccounts returns a deep, by-value projection of every account the
// transaction has touched so far, ordered by address.
func (j *Journal) TouchedAccounts() []panoptes.AccountDelta {
	status := map[panoptes.Address]panoptes.AccountStatus{}
	slots := map[panoptes.Address]map[panoptes.Key]struct{}{}

	note := func(addr panoptes.Address) {
		if _, found := status[addr]; !found {
			status[addr] = panoptes.AccountUntouched
		}
	}
	noteSlot := func(id slotId) {
		note(id.addr)
		if slots[id.addr] == nil {
			slots[id.addr] = map[panoptes.Key]struct{}{}
		}
		slots[id.addr][id.key] = struct{}{}
	}

	for _, l := range j.layers {
		for addr, s := range l.status {
			note(addr)
			if status[addr] < s {
				status[addr] = s
			}
		}
		for addr := range l.warmAddr {
			note(addr)
		}
		for id := range l.storage {
			noteSlot(id)
		}
		for id := range l.warmSlot {
			noteSlot(id)
		}
	}

	addresses := maps.Keys(status)
	sort.Slice(addresses, func(a, b int) bool {
		return addresses[a].String() < addresses[b].String()
	})

	res := make([]panoptes.AccountDelta, 0, len(addresses))
	for _, addr := range addresses {
		delta := panoptes.AccountDelta{
			Address: addr,
			Status:  status[addr],
			Balance: j.peekBalance(addr),
			Nonce:   j.peekNonce(addr),
			Code:    append(panoptes.Code(nil), j.peekCode(addr)...),
		}
		if touched := slots[addr]; len(touched) > 0 {
			delta.Storage = make(map[panoptes.Key]panoptes.Word, len(touched))
			for key := range touched {
				delta.Storage[key] = j.peekStorage(addr, key)
			}
		}
		res = append(res, delta)
	}
	return res
}

// peekBalance reads a balance without escalating the touch status.
func (j *Journal) peekBalance(addr panoptes.Address) panoptes.Value {
	for i := len(j.layers) - 1; i >= 0; i-- {
		if value, found := j.layers[i].balance[addr]; found {
			return value
		}
	}
	return j.base.GetBalance(addr)
}

func (j *Journal) peekNonce(addr panoptes.Address) uint64 {
	for i := len(j.layers) - 1; i >= 0; i-- {
		if nonce, found := j.layers[i].nonce[addr]; found {
			return nonce
		}
	}
	return j.base.GetNonce(addr)
}

func (j *Journal) peekCode(addr panoptes.Address) panoptes.Code {
	for i := len(j.layers) - 1; i >= 0; i-- {
		if code, found := j.layers[i].code[addr]; found {
			return code
		}
	}
	return j.base.GetCode(addr)
}

func (j *Journal) peekStorage(addr panoptes.Address, key panoptes.Key) panoptes.Word {
	id := slotId{addr, key}
	for i := len(j.layers) - 1; i >= 0; i-- {
		if value, found := j.layers[i].storage[id]; found {
			return value
		}
	}
	return j.base.GetStorage(addr, key)
}

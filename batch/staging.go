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
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/Fantom-foundation/Panoptes/interpreter/pvm"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/Fantom-foundation/Panoptes/tracer"
)

// The staging protocol moves the jagged per-instance trace graphs between
// the control processor and a data-parallel accelerator. Since accelerator
// memory cannot hold host pointers, all variable-length substructures are
// flattened into contiguous arenas, and descriptors reference them by
// offset. Staging proceeds in three phases: the outer descriptor array is
// sized first, then the inner arenas are allocated and filled, and finally
// the descriptors - now holding arena offsets - are written. The reverse
// direction re-homes every payload into fresh host allocations.

// PackedSlot is one storage slot of a staged account delta.
type PackedSlot struct {
	Key   panoptes.Key
	Value panoptes.Word
}

// PackedAccount is the staged form of one account delta.
type PackedAccount struct {
	Address       panoptes.Address
	Status        panoptes.AccountStatus
	Balance       panoptes.Value
	Nonce         uint64
	CodeOffset    uint32
	CodeLen       uint32
	StorageOffset uint32
	StorageLen    uint32
}

// PackedEntry is the staged form of one trace entry. The POD fields are
// stored directly; the variable-length snapshots are referenced by offset
// into the arenas of the Packed structure.
type PackedEntry struct {
	Address      panoptes.Address
	PC           uint64
	OpCode       pvm.OpCode
	GasUsed      panoptes.Gas
	GasLimit     panoptes.Gas
	GasRefund    panoptes.Gas
	Error        panoptes.ErrorCode
	StackOffset  uint32
	StackLen     uint32
	MemoryOffset uint32
	MemoryLen    uint32
	TouchOffset  uint32
	TouchLen     uint32
}

// PackedInstance is the outer descriptor of one staged instance.
type PackedInstance struct {
	EntryOffset uint32
	EntryCount  uint32
}

// Packed is a batch of instance traces in staged form: descriptor tables
// plus contiguous payload arenas. On the staged side capacity equals size;
// no empty tail is ever copied.
type Packed struct {
	Instances []PackedInstance
	Entries   []PackedEntry
	Stacks    []panoptes.Word
	Memories  []byte
	Accounts  []PackedAccount
	Slots     []PackedSlot
	Codes     []byte
}

func checkedOffset(length int) (uint32, error) {
	if length > math.MaxUint32 {
		return 0, fmt.Errorf("staging arena exceeds %d elements", math.MaxUint32)
	}
	return uint32(length), nil
}

// Pack flattens the given traces into their staged form. On any error the
// partially built graph is discarded before the error surfaces.
func Pack(traces []*tracer.Tracer) (*Packed, error) {
	// Phase 1: size the outer descriptor array.
	packed := &Packed{
		Instances: make([]PackedInstance, 0, len(traces)),
	}
	totalEntries := 0
	for _, trace := range traces {
		totalEntries += trace.Len()
	}
	packed.Entries = make([]PackedEntry, 0, totalEntries)

	// Phase 2: fill the inner arenas, instance by instance.
	for _, trace := range traces {
		entryOffset, err := checkedOffset(len(packed.Entries))
		if err != nil {
			return nil, err
		}
		for i := 0; i < trace.Len(); i++ {
			entry, err := packEntry(packed, trace.Get(i))
			if err != nil {
				return nil, err
			}
			packed.Entries = append(packed.Entries, entry)
		}

		// Phase 3: write the outer descriptor of the instance.
		packed.Instances = append(packed.Instances, PackedInstance{
			EntryOffset: entryOffset,
			EntryCount:  uint32(trace.Len()),
		})
	}
	return packed.clip(), nil
}

func packEntry(packed *Packed, entry tracer.Entry) (PackedEntry, error) {
	stackOffset, err := checkedOffset(len(packed.Stacks))
	if err != nil {
		return PackedEntry{}, err
	}
	packed.Stacks = append(packed.Stacks, entry.Stack...)

	memoryOffset, err := checkedOffset(len(packed.Memories))
	if err != nil {
		return PackedEntry{}, err
	}
	packed.Memories = append(packed.Memories, entry.Memory...)

	touchOffset, err := checkedOffset(len(packed.Accounts))
	if err != nil {
		return PackedEntry{}, err
	}
	for _, delta := range entry.Touched {
		account, err := packAccount(packed, delta)
		if err != nil {
			return PackedEntry{}, err
		}
		packed.Accounts = append(packed.Accounts, account)
	}

	return PackedEntry{
		Address:      entry.Address,
		PC:           entry.PC,
		OpCode:       entry.OpCode,
		GasUsed:      entry.GasUsed,
		GasLimit:     entry.GasLimit,
		GasRefund:    entry.GasRefund,
		Error:        entry.Error,
		StackOffset:  stackOffset,
		StackLen:     uint32(len(entry.Stack)),
		MemoryOffset: memoryOffset,
		MemoryLen:    uint32(len(entry.Memory)),
		TouchOffset:  touchOffset,
		TouchLen:     uint32(len(entry.Touched)),
	}, nil
}

func packAccount(packed *Packed, delta panoptes.AccountDelta) (PackedAccount, error) {
	codeOffset, err := checkedOffset(len(packed.Codes))
	if err != nil {
		return PackedAccount{}, err
	}
	packed.Codes = append(packed.Codes, delta.Code...)

	storageOffset, err := checkedOffset(len(packed.Slots))
	if err != nil {
		return PackedAccount{}, err
	}
	// store slots in key order to keep staging deterministic
	keys := make([]panoptes.Key, 0, len(delta.Storage))
	for key := range delta.Storage {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		return bytes.Compare(keys[a][:], keys[b][:]) < 0
	})
	for _, key := range keys {
		packed.Slots = append(packed.Slots, PackedSlot{Key: key, Value: delta.Storage[key]})
	}

	return PackedAccount{
		Address:       delta.Address,
		Status:        delta.Status,
		Balance:       delta.Balance,
		Nonce:         delta.Nonce,
		CodeOffset:    codeOffset,
		CodeLen:       uint32(len(delta.Code)),
		StorageOffset: storageOffset,
		StorageLen:    uint32(len(delta.Storage)),
	}, nil
}

// clip trims every arena so that its capacity equals its size.
func (p *Packed) clip() *Packed {
	p.Instances = p.Instances[:len(p.Instances):len(p.Instances)]
	p.Entries = p.Entries[:len(p.Entries):len(p.Entries)]
	p.Stacks = p.Stacks[:len(p.Stacks):len(p.Stacks)]
	p.Memories = p.Memories[:len(p.Memories):len(p.Memories)]
	p.Accounts = p.Accounts[:len(p.Accounts):len(p.Accounts)]
	p.Slots = p.Slots[:len(p.Slots):len(p.Slots)]
	p.Codes = p.Codes[:len(p.Codes):len(p.Codes)]
	return p
}

// Unpack re-homes a staged batch into per-instance traces. Every payload is
// copied into fresh host allocations; the packed form remains untouched. A
// corrupted descriptor surfaces as an error with no partial result.
func Unpack(packed *Packed) ([]*tracer.Tracer, error) {
	traces := make([]*tracer.Tracer, 0, len(packed.Instances))
	for i, instance := range packed.Instances {
		end := int(instance.EntryOffset) + int(instance.EntryCount)
		if end > len(packed.Entries) {
			return nil, fmt.Errorf("instance %d: entry range [%d,%d) out of bounds", i, instance.EntryOffset, end)
		}
		trace := tracer.New()
		for _, entry := range packed.Entries[instance.EntryOffset:end] {
			unpacked, err := unpackEntry(packed, entry)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			trace.Append(unpacked)
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func unpackEntry(packed *Packed, entry PackedEntry) (tracer.Entry, error) {
	stackEnd := int(entry.StackOffset) + int(entry.StackLen)
	memoryEnd := int(entry.MemoryOffset) + int(entry.MemoryLen)
	touchEnd := int(entry.TouchOffset) + int(entry.TouchLen)
	if stackEnd > len(packed.Stacks) || memoryEnd > len(packed.Memories) ||
		touchEnd > len(packed.Accounts) {
		return tracer.Entry{}, fmt.Errorf("entry at pc %d references data out of bounds", entry.PC)
	}

	touched := make([]panoptes.AccountDelta, 0, entry.TouchLen)
	for _, account := range packed.Accounts[entry.TouchOffset:touchEnd] {
		delta, err := unpackAccount(packed, account)
		if err != nil {
			return tracer.Entry{}, err
		}
		touched = append(touched, delta)
	}

	return tracer.Entry{
		Address:   entry.Address,
		PC:        entry.PC,
		OpCode:    entry.OpCode,
		Stack:     append([]panoptes.Word(nil), packed.Stacks[entry.StackOffset:stackEnd]...),
		Memory:    append([]byte(nil), packed.Memories[entry.MemoryOffset:memoryEnd]...),
		Touched:   touched,
		GasUsed:   entry.GasUsed,
		GasLimit:  entry.GasLimit,
		GasRefund: entry.GasRefund,
		Error:     entry.Error,
	}, nil
}

func unpackAccount(packed *Packed, account PackedAccount) (panoptes.AccountDelta, error) {
	codeEnd := int(account.CodeOffset) + int(account.CodeLen)
	storageEnd := int(account.StorageOffset) + int(account.StorageLen)
	if codeEnd > len(packed.Codes) || storageEnd > len(packed.Slots) {
		return panoptes.AccountDelta{}, fmt.Errorf("account %v references data out of bounds", account.Address)
	}
	delta := panoptes.AccountDelta{
		Address: account.Address,
		Status:  account.Status,
		Balance: account.Balance,
		Nonce:   account.Nonce,
	}
	if account.CodeLen > 0 {
		delta.Code = append(panoptes.Code(nil), packed.Codes[account.CodeOffset:codeEnd]...)
	}
	if account.StorageLen > 0 {
		delta.Storage = make(map[panoptes.Key]panoptes.Word, account.StorageLen)
		for _, slot := range packed.Slots[account.StorageOffset:storageEnd] {
			delta.Storage[slot.Key] = slot.Value
		}
	}
	return delta, nil
}

// Device abstracts the memory space the staged batches are moved to. On a
// heterogeneous runtime Upload and Download wrap the accelerator transfers;
// on CPU-only targets staging collapses to an ownership transfer.
type Device interface {
	Upload(traces []*tracer.Tracer) (*Packed, error)
	Download(packed *Packed) ([]*tracer.Tracer, error)
}

// HostDevice is the CPU-only device implementation.
type HostDevice struct{}

func (HostDevice) Upload(traces []*tracer.Tracer) (*Packed, error) {
	return Pack(traces)
}

func (HostDevice) Download(packed *Packed) ([]*tracer.Tracer, error) {
	return Unpack(packed)
}

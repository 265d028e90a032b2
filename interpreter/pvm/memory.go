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
	"math"
	"slices"

	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/holiman/uint256"
)

// Memory is the byte-addressable scratch memory of one call frame. Its size
// is always a multiple of 32 bytes and only ever grows; every expansion is
// charged to the frame before the backing store is touched.
//
// Since the store is kept word-aligned, the accumulated memory fee can be
// recomputed from the current word count at any time, so no running cost
// needs to be cached alongside the data.
type Memory struct {
	store []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

// reset drops the memory content but keeps the backing allocation for the
// next frame of the same instance.
func (m *Memory) reset() {
	m.store = m.store[:0]
}

// maxMemoryWords bounds the size of a frame's memory. It is the largest
// word count whose square still fits 64-bit arithmetic, keeping the
// quadratic term of the fee formula exact; the bound itself (128 GiB of
// memory) costs more gas than any real frame carries.
const maxMemoryWords = math.MaxUint32

// memoryFee is the total gas charged for a memory of the given number of
// 32-byte words: 3w + w²/512.
func memoryFee(words uint64) panoptes.Gas {
	return panoptes.Gas(3*words + words*words/512)
}

// words returns the current memory size in 32-byte words.
func (m *Memory) words() uint64 {
	return uint64(len(m.store)) / 32
}

// expansionCost returns the fee for growing the memory to cover the byte
// range [offset, offset+size). The fee is the difference of memoryFee at
// the new and the current word count; covered ranges are free. The memory
// itself is left untouched.
func (m *Memory) expansionCost(offset, size uint64) (panoptes.Gas, error) {
	if size == 0 {
		return 0, nil
	}
	if offset > math.MaxUint64-size {
		return 0, errGasUintOverflow
	}
	needed := panoptes.SizeInWords(offset + size)
	if needed <= m.words() {
		return 0, nil
	}
	if needed > maxMemoryWords {
		return 0, errMemoryLimit
	}
	return memoryFee(needed) - memoryFee(m.words()), nil
}

// expandMemory charges the expansion fee for the byte range
// [offset, offset+size) and grows the store to the covering word boundary.
// When the charge fails the memory is left untouched.
func (m *Memory) expandMemory(offset, size uint64, c *context) error {
	fee, err := m.expansionCost(offset, size)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := c.useGas(fee); err != nil {
		return err
	}
	if needed := panoptes.SizeInWords(offset+size) * 32; needed > uint64(len(m.store)) {
		m.store = append(m.store, make([]byte, needed-uint64(len(m.store)))...)
	}
	return nil
}

// Len returns the current memory size in bytes, always a multiple of 32.
func (m *Memory) Len() uint64 {
	return uint64(len(m.store))
}

// LenWords returns the current memory size in 32-byte words.
func (m *Memory) LenWords() uint64 {
	return m.words()
}

func (m *Memory) setByte(offset uint64, value byte, c *context) error {
	if err := m.expandMemory(offset, 1, c); err != nil {
		return err
	}
	m.store[offset] = value
	return nil
}

func (m *Memory) setWord(offset uint64, value *uint256.Int, c *context) error {
	if err := m.expandMemory(offset, 32, c); err != nil {
		return err
	}
	b := value.Bytes32()
	copy(m.store[offset:offset+32], b[:])
	return nil
}

// set copies the given bytes into the memory at offset, expanding and
// charging as needed.
func (m *Memory) set(offset uint64, value []byte, c *context) error {
	if err := m.expandMemory(offset, uint64(len(value)), c); err != nil {
		return err
	}
	copy(m.store[offset:], value)
	return nil
}

// getSlice obtains a slice of size bytes from the memory at the given offset,
// charging and growing as needed. The returned slice is backed by the
// memory's internal data; the connection is invalidated by any subsequent
// operation that may grow the memory.
func (m *Memory) getSlice(offset, size uint64, c *context) ([]byte, error) {
	if err := m.expandMemory(offset, size, c); err != nil {
		return nil, err
	}
	// since memory does not expand on size 0 independently of the offset,
	// we need to prevent out of bounds access
	if size == 0 {
		return nil, nil
	}
	return m.store[offset : offset+size], nil
}

// readWord reads a 32-byte word from the memory at the given offset into the
// provided target, expanding and charging as needed.
func (m *Memory) readWord(offset uint64, target *uint256.Int, c *context) error {
	data, err := m.getSlice(offset, 32, c)
	if err != nil {
		return err
	}
	target.SetBytes32(data)
	return nil
}

// copyWithin copies size bytes from src to dst inside the memory. The ranges
// may overlap; the result is as if the source range was first copied to a
// temporary buffer.
func (m *Memory) copyWithin(dst, src, size uint64, c *context) error {
	if size == 0 {
		return nil
	}
	// expand to cover both ranges before moving any byte
	if err := m.expandMemory(src, size, c); err != nil {
		return err
	}
	if err := m.expandMemory(dst, size, c); err != nil {
		return err
	}
	copy(m.store[dst:dst+size], m.store[src:src+size])
	return nil
}

// copyData copies data from the memory, starting at the given offset, into
// the target slice, zero-padding past the current memory size.
func (m *Memory) copyData(offset uint64, target []byte) {
	if uint64(len(m.store)) < offset {
		copy(target, make([]byte, len(target)))
		return
	}

	// Copy what is available.
	covered := copy(target, m.store[offset:])

	// Pad the rest
	if covered < len(target) {
		copy(target[covered:], make([]byte, len(target)-covered))
	}
}

// Snapshot returns an independent copy of the memory content.
func (m *Memory) Snapshot() []byte {
	return slices.Clone(m.store)
}

// Restore replaces the memory content with the given bytes. Counterpart of
// Snapshot.
func (m *Memory) Restore(data []byte) {
	m.store = slices.Clone(data)
}

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
	"github.com/Fantom-foundation/Panoptes/panoptes"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"
)

// MaxCodeSize is the maximum byte-code size permitted for a deployed contract.
const MaxCodeSize = 24576

// maxInitCodeSize is the maximum initialization code permitted in a creation
// transaction and create instructions (EIP-3860).
const maxInitCodeSize = 2 * MaxCodeSize

// codeAnalysis holds the positions of the valid jump destinations of a code.
type codeAnalysis struct {
	jumpDests bitvec
}

// isJumpDest reports whether the given program counter is the offset of a
// JUMPDEST instruction outside of push data.
func (a codeAnalysis) isJumpDest(pc uint64) bool {
	return a.jumpDests.isSet(pc)
}

// bitvec is a bit vector with one bit per code byte.
type bitvec []byte

func newBitvec(size int) bitvec {
	return make(bitvec, (size+7)/8)
}

func (v bitvec) set(pos uint64) {
	v[pos/8] |= 1 << (pos % 8)
}

func (v bitvec) isSet(pos uint64) bool {
	if pos/8 >= uint64(len(v)) {
		return false
	}
	return v[pos/8]&(1<<(pos%8)) != 0
}

// analyze scans the code and marks every JUMPDEST byte that is not part of
// the immediate data of a preceding PUSH instruction.
func analyze(code []byte) codeAnalysis {
	dests := newBitvec(len(code))
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		if op == JUMPDEST {
			dests.set(uint64(pc))
		}
		pc += op.Width()
	}
	return codeAnalysis{jumpDests: dests}
}

// maxCachedCodeLength is the maximum length of a code in bytes retained in
// the analysis cache. Longer codes (only initialization codes can be longer
// than the on-chain limit) are analyzed on every use.
const maxCachedCodeLength = MaxCodeSize

// Analyzer caches jump-destination analyses keyed by code hash, so that the
// many instances of a batch executing the same byte code share one analysis.
// Analyzer instances are safe for concurrent use.
type Analyzer struct {
	cache *lru.Cache[panoptes.Hash, codeAnalysis]
}

// NewAnalyzer creates an analyzer with a cache of the given capacity. A
// non-positive capacity disables caching.
func NewAnalyzer(capacity int) (*Analyzer, error) {
	var cache *lru.Cache[panoptes.Hash, codeAnalysis]
	if capacity > 0 {
		var err error
		cache, err = lru.New[panoptes.Hash, codeAnalysis](capacity)
		if err != nil {
			return nil, err
		}
	}
	return &Analyzer{cache: cache}, nil
}

// Analyze returns the jump-destination analysis of the given code. If a
// non-nil code hash is provided it is assumed to be valid and used as the
// cache key; a nil hash bypasses the cache.
func (a *Analyzer) Analyze(code []byte, codeHash *panoptes.Hash) codeAnalysis {
	if a.cache == nil || codeHash == nil {
		return analyze(code)
	}
	if res, exists := a.cache.Get(*codeHash); exists {
		return res
	}
	res := analyze(code)
	if len(code) <= maxCachedCodeLength {
		a.cache.Add(*codeHash, res)
	}
	return res
}

// HashCode computes the keccak-256 hash of the given code.
func HashCode(code []byte) (hash panoptes.Hash) {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(code)
	copy(hash[:], hasher.Sum(nil))
	return
}

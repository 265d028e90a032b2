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

	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// execute runs a single instruction in the given context. It returns the
// status of the frame after the instruction and advances the program counter
// unless the instruction is a control transfer managing the counter itself.
func execute(c *context, op OpCode) (status, error) {
	var err error
	switch op {
	case STOP:
		return statusStopped, nil
	case RETURN:
		if err := opEndWithResult(c); err != nil {
			return statusRunning, err
		}
		return statusReturned, nil
	case REVERT:
		if err := opEndWithResult(c); err != nil {
			return statusRunning, err
		}
		c.lastStepFault = panoptes.ErrRevert
		return statusReverted, nil
	case SELFDESTRUCT:
		if err := opSelfdestruct(c); err != nil {
			return statusRunning, err
		}
		return statusSelfDestructed, nil
	case JUMP:
		return statusRunning, opJump(c)
	case JUMPI:
		return statusRunning, opJumpi(c)

	case POP:
		opPop(c)
	case PUSH0:
		opPush0(c)
	case PUSH1, PUSH2, PUSH3, PUSH4, PUSH5, PUSH6, PUSH7, PUSH8,
		PUSH9, PUSH10, PUSH11, PUSH12, PUSH13, PUSH14, PUSH15, PUSH16,
		PUSH17, PUSH18, PUSH19, PUSH20, PUSH21, PUSH22, PUSH23, PUSH24,
		PUSH25, PUSH26, PUSH27, PUSH28, PUSH29, PUSH30, PUSH31, PUSH32:
		opPush(c, int(op-PUSH1)+1)
	case DUP1, DUP2, DUP3, DUP4, DUP5, DUP6, DUP7, DUP8,
		DUP9, DUP10, DUP11, DUP12, DUP13, DUP14, DUP15, DUP16:
		c.stack.dup(int(op - DUP1))
	case SWAP1, SWAP2, SWAP3, SWAP4, SWAP5, SWAP6, SWAP7, SWAP8,
		SWAP9, SWAP10, SWAP11, SWAP12, SWAP13, SWAP14, SWAP15, SWAP16:
		c.stack.swap(int(op-SWAP1) + 1)

	case ADD:
		opAdd(c)
	case SUB:
		opSub(c)
	case MUL:
		opMul(c)
	case DIV:
		opDiv(c)
	case SDIV:
		opSDiv(c)
	case MOD:
		opMod(c)
	case SMOD:
		opSMod(c)
	case ADDMOD:
		opAddMod(c)
	case MULMOD:
		opMulMod(c)
	case EXP:
		err = opExp(c)
	case SIGNEXTEND:
		opSignExtend(c)
	case LT:
		opLt(c)
	case GT:
		opGt(c)
	case SLT:
		opSlt(c)
	case SGT:
		opSgt(c)
	case EQ:
		opEq(c)
	case ISZERO:
		opIszero(c)
	case AND:
		opAnd(c)
	case OR:
		opOr(c)
	case XOR:
		opXor(c)
	case NOT:
		opNot(c)
	case BYTE:
		opByte(c)
	case SHL:
		opShl(c)
	case SHR:
		opShr(c)
	case SAR:
		opSar(c)
	case SHA3:
		err = opSha3(c)

	case ADDRESS:
		opAddress(c)
	case ORIGIN:
		opOrigin(c)
	case CALLER:
		opCaller(c)
	case CALLVALUE:
		opCallvalue(c)
	case GASPRICE:
		opGasPrice(c)
	case BALANCE:
		err = opBalance(c)
	case SELFBALANCE:
		opSelfbalance(c)
	case CALLDATALOAD:
		opCallDataload(c)
	case CALLDATASIZE:
		opCallDatasize(c)
	case CALLDATACOPY:
		err = opCallDataCopy(c)
	case CODESIZE:
		opCodeSize(c)
	case CODECOPY:
		err = opCodeCopy(c)
	case EXTCODESIZE:
		err = opExtcodesize(c)
	case EXTCODECOPY:
		err = opExtCodeCopy(c)
	case EXTCODEHASH:
		err = opExtcodehash(c)
	case RETURNDATASIZE:
		opReturnDataSize(c)
	case RETURNDATACOPY:
		err = opReturnDataCopy(c)

	case MLOAD:
		err = opMload(c)
	case MSTORE:
		err = opMstore(c)
	case MSTORE8:
		err = opMstore8(c)
	case MSIZE:
		opMsize(c)
	case SLOAD:
		err = opSload(c)
	case SSTORE:
		err = opSstore(c)
	case PC:
		opPc(c)
	case GAS:
		opGas(c)
	case JUMPDEST:
		// nothing

	case LOG0, LOG1, LOG2, LOG3, LOG4:
		err = opLog(c, int(op-LOG0))

	case CREATE:
		err = genericCreate(c, panoptes.Create)
	case CREATE2:
		err = genericCreate(c, panoptes.Create2)
	case CALL:
		err = opCall(c)
	case CALLCODE:
		err = genericCall(c, panoptes.CallCode)
	case DELEGATECALL:
		err = genericCall(c, panoptes.DelegateCall)
	case STATICCALL:
		err = genericCall(c, panoptes.StaticCall)

	default:
		err = errInvalidInstruction
	}
	if err != nil {
		return statusRunning, err
	}
	c.pc += int64(op.Width())
	return statusRunning, nil
}

// --- Stack and program counter ---

func opPop(c *context) {
	c.stack.pop()
}

func opPush0(c *context) {
	c.stack.reserve().Clear()
}

func opPush(c *context, n int) {
	data := make([]byte, n)
	start := c.pc + 1
	end := start + int64(n)
	if end <= int64(len(c.code)) {
		copy(data, c.code[start:end])
	} else if start < int64(len(c.code)) {
		// push data truncated by the end of the code is zero-padded
		copy(data, c.code[start:])
	}
	c.stack.reserve().SetBytes(data)
}

func opPc(c *context) {
	c.stack.reserve().SetUint64(uint64(c.pc))
}

func opGas(c *context) {
	c.stack.reserve().SetUint64(uint64(c.gas))
}

func checkJumpDest(c *context, dest *uint256.Int) error {
	if !dest.IsUint64() || !c.analysis.isJumpDest(dest.Uint64()) {
		return errInvalidJump
	}
	return nil
}

func opJump(c *context) error {
	dest := c.stack.pop()
	if err := checkJumpDest(c, dest); err != nil {
		return err
	}
	c.pc = int64(dest.Uint64())
	return nil
}

func opJumpi(c *context) error {
	dest := c.stack.pop()
	condition := c.stack.pop()
	if condition.IsZero() {
		c.pc += 1
		return nil
	}
	if err := checkJumpDest(c, dest); err != nil {
		return err
	}
	c.pc = int64(dest.Uint64())
	return nil
}

// --- Arithmetic ---

func opAdd(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Add(a, b)
}

func opSub(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Sub(a, b)
}

func opMul(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Mul(a, b)
}

func opDiv(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Div(a, b)
}

func opSDiv(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.SDiv(a, b)
}

func opMod(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Mod(a, b)
}

func opSMod(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.SMod(a, b)
}

func opAddMod(c *context) {
	a := c.stack.pop()
	b := c.stack.pop()
	m := c.stack.peek()
	m.AddMod(a, b, m)
}

func opMulMod(c *context) {
	a := c.stack.pop()
	b := c.stack.pop()
	m := c.stack.peek()
	m.MulMod(a, b, m)
}

func opExp(c *context) error {
	base := c.stack.pop()
	exponent := c.stack.peek()

	// charge for the size of the exponent
	expBytes := panoptes.Gas((exponent.BitLen() + 7) / 8)
	if err := c.useGas(50 * expBytes); err != nil {
		return err
	}

	exponent.Exp(base, exponent)
	return nil
}

func opSignExtend(c *context) {
	back := c.stack.pop()
	num := c.stack.peek()
	num.ExtendSign(num, back)
}

// --- Comparison and bit operations ---

func opLt(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	if a.Lt(b) {
		b.SetOne()
	} else {
		b.Clear()
	}
}

func opGt(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	if a.Gt(b) {
		b.SetOne()
	} else {
		b.Clear()
	}
}

func opSlt(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	if a.Slt(b) {
		b.SetOne()
	} else {
		b.Clear()
	}
}

func opSgt(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	if a.Sgt(b) {
		b.SetOne()
	} else {
		b.Clear()
	}
}

func opEq(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	if a.Eq(b) {
		b.SetOne()
	} else {
		b.Clear()
	}
}

func opIszero(c *context) {
	top := c.stack.peek()
	if top.IsZero() {
		top.SetOne()
	} else {
		top.Clear()
	}
}

func opAnd(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.And(a, b)
}

func opOr(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Or(a, b)
}

func opXor(c *context) {
	a := c.stack.pop()
	b := c.stack.peek()
	b.Xor(a, b)
}

func opNot(c *context) {
	top := c.stack.peek()
	top.Not(top)
}

func opByte(c *context) {
	i := c.stack.pop()
	x := c.stack.peek()
	x.Byte(i)
}

func opShl(c *context) {
	shift := c.stack.pop()
	value := c.stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
}

func opShr(c *context) {
	shift := c.stack.pop()
	value := c.stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
}

func opSar(c *context) {
	shift := c.stack.pop()
	value := c.stack.peek()
	if shift.LtUint64(256) {
		value.SRsh(value, uint(shift.Uint64()))
	} else if value.Sign() >= 0 {
		value.Clear()
	} else {
		value.SetAllOne()
	}
}

func opSha3(c *context) error {
	offset := c.stack.pop()
	size := c.stack.peek()

	if err := checkSizeOffsetUint64Overflow(offset, size); err != nil {
		return err
	}

	// charge for hashing the data
	words := panoptes.SizeInWords(size.Uint64())
	if err := c.useGas(panoptes.Gas(6 * words)); err != nil {
		return err
	}

	data, err := c.memory.getSlice(offset.Uint64(), size.Uint64(), c)
	if err != nil {
		return err
	}

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	size.SetBytes32(hash[:])
	return nil
}

// --- Environment ---

func opAddress(c *context) {
	c.stack.reserve().SetBytes20(c.params.Recipient[:])
}

func opOrigin(c *context) {
	c.stack.reserve().SetBytes20(c.params.Origin[:])
}

func opCaller(c *context) {
	c.stack.reserve().SetBytes20(c.params.Sender[:])
}

func opCallvalue(c *context) {
	c.stack.reserve().SetBytes32(c.params.Value[:])
}

func opGasPrice(c *context) {
	c.stack.reserve().SetBytes32(c.params.GasPrice[:])
}

func opBalance(c *context) error {
	top := c.stack.peek()
	address := panoptes.Address(top.Bytes20())
	if err := c.useGas(getAccessCost(c.context.AccessAccount(address))); err != nil {
		return err
	}
	balance := c.context.GetBalance(address)
	top.SetBytes32(balance[:])
	return nil
}

func opSelfbalance(c *context) {
	balance := c.context.GetBalance(c.params.Recipient)
	c.stack.reserve().SetBytes32(balance[:])
}

func opCallDataload(c *context) {
	top := c.stack.peek()
	offset, overflow := top.Uint64WithOverflow()
	if overflow {
		top.Clear()
		return
	}
	var buffer [32]byte
	segment, available := c.params.InputSegment(offset, 32)
	copy(buffer[:], segment[:available])
	top.SetBytes32(buffer[:])
}

func opCallDatasize(c *context) {
	c.stack.reserve().SetUint64(uint64(len(c.params.Input)))
}

func opCallDataCopy(c *context) error {
	var (
		memOffset  = c.stack.pop()
		dataOffset = c.stack.pop()
		length     = c.stack.pop()
	)
	if err := checkSizeOffsetUint64Overflow(memOffset, length); err != nil {
		return err
	}

	words := panoptes.SizeInWords(length.Uint64())
	if err := c.useGas(panoptes.Gas(3 * words)); err != nil {
		return err
	}

	var dataOffset64 uint64
	if dataOffset.IsUint64() {
		dataOffset64 = dataOffset.Uint64()
	} else {
		dataOffset64 = math.MaxUint64
	}

	trg, err := c.memory.getSlice(memOffset.Uint64(), length.Uint64(), c)
	if err != nil {
		return err
	}
	copy(trg, getData(c.params.Input, dataOffset64, length.Uint64()))
	return nil
}

func opCodeSize(c *context) {
	c.stack.reserve().SetUint64(uint64(len(c.code)))
}

func opCodeCopy(c *context) error {
	var (
		memOffset  = c.stack.pop()
		codeOffset = c.stack.pop()
		length     = c.stack.pop()
	)
	if err := checkSizeOffsetUint64Overflow(memOffset, length); err != nil {
		return err
	}

	words := panoptes.SizeInWords(length.Uint64())
	if err := c.useGas(panoptes.Gas(3 * words)); err != nil {
		return err
	}

	var codeOffset64 uint64
	if codeOffset.IsUint64() {
		codeOffset64 = codeOffset.Uint64()
	} else {
		codeOffset64 = math.MaxUint64
	}

	trg, err := c.memory.getSlice(memOffset.Uint64(), length.Uint64(), c)
	if err != nil {
		return err
	}
	copy(trg, getData(c.code, codeOffset64, length.Uint64()))
	return nil
}

func opExtcodesize(c *context) error {
	top := c.stack.peek()
	address := panoptes.Address(top.Bytes20())
	if err := c.useGas(getAccessCost(c.context.AccessAccount(address))); err != nil {
		return err
	}
	top.SetUint64(uint64(c.context.GetCodeSize(address)))
	return nil
}

func opExtcodehash(c *context) error {
	top := c.stack.peek()
	address := panoptes.Address(top.Bytes20())
	if err := c.useGas(getAccessCost(c.context.AccessAccount(address))); err != nil {
		return err
	}
	hash := c.context.GetCodeHash(address)
	top.SetBytes32(hash[:])
	return nil
}

func opExtCodeCopy(c *context) error {
	var (
		a          = c.stack.pop()
		memOffset  = c.stack.pop()
		codeOffset = c.stack.pop()
		length     = c.stack.pop()
	)
	if err := checkSizeOffsetUint64Overflow(memOffset, length); err != nil {
		return err
	}

	// Charge for the length of the copied code
	words := panoptes.SizeInWords(length.Uint64())
	if err := c.useGas(panoptes.Gas(3 * words)); err != nil {
		return err
	}

	address := panoptes.Address(a.Bytes20())
	if err := c.useGas(getAccessCost(c.context.AccessAccount(address))); err != nil {
		return err
	}

	var codeOffset64 uint64
	if codeOffset.IsUint64() {
		codeOffset64 = codeOffset.Uint64()
	} else {
		codeOffset64 = math.MaxUint64
	}

	trg, err := c.memory.getSlice(memOffset.Uint64(), length.Uint64(), c)
	if err != nil {
		return err
	}
	copy(trg, getData(c.context.GetCode(address), codeOffset64, length.Uint64()))
	return nil
}

func opReturnDataSize(c *context) {
	c.stack.reserve().SetUint64(uint64(len(c.returnData)))
}

func opReturnDataCopy(c *context) error {
	var (
		memOffset  = c.stack.pop()
		dataOffset = c.stack.pop()
		length     = c.stack.pop()
	)

	offset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return errReturnDataOutOfBounds
	}
	end := new(uint256.Int).Add(dataOffset, length)
	end64, overflow := end.Uint64WithOverflow()
	if overflow {
		return errReturnDataOutOfBounds
	}
	if uint64(len(c.returnData)) < end64 {
		return errReturnDataOutOfBounds
	}

	if err := checkSizeOffsetUint64Overflow(memOffset, length); err != nil {
		return err
	}

	words := panoptes.SizeInWords(length.Uint64())
	if err := c.useGas(panoptes.Gas(3 * words)); err != nil {
		return err
	}

	return c.memory.set(memOffset.Uint64(), c.returnData[offset64:end64], c)
}

// getData obtains size bytes starting at start from the given data,
// right-padding with zeroes past the end.
func getData(data []byte, start uint64, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length {
		end = length
	}
	res := make([]byte, int(size))
	copy(res, data[start:end])
	return res
}

// --- Memory ---

func opMload(c *context) error {
	top := c.stack.peek()
	offset, overflow := top.Uint64WithOverflow()
	if overflow {
		return errGasUintOverflow
	}
	return c.memory.readWord(offset, top, c)
}

func opMstore(c *context) error {
	offset := c.stack.pop()
	value := c.stack.pop()
	offset64, overflow := offset.Uint64WithOverflow()
	if overflow {
		return errGasUintOverflow
	}
	return c.memory.setWord(offset64, value, c)
}

func opMstore8(c *context) error {
	offset := c.stack.pop()
	value := c.stack.pop()
	offset64, overflow := offset.Uint64WithOverflow()
	if overflow {
		return errGasUintOverflow
	}
	return c.memory.setByte(offset64, byte(value.Uint64()), c)
}

func opMsize(c *context) {
	c.stack.reserve().SetUint64(c.memory.Len())
}

// --- Storage ---

func opSload(c *context) error {
	top := c.stack.peek()
	slot := panoptes.Key(top.Bytes32())

	costs := WarmStorageReadCost
	if c.context.AccessStorage(c.params.Recipient, slot) == panoptes.ColdAccess {
		costs = ColdSloadCost
	}
	if err := c.useGas(costs); err != nil {
		return err
	}

	value := c.context.GetStorage(c.params.Recipient, slot)
	top.SetBytes32(value[:])
	return nil
}

func opSstore(c *context) error {
	// SStore is a write instruction, it shall not be executed in static mode.
	if c.params.Static {
		return errStaticViolation
	}

	cost, err := gasSStore(c)
	if err != nil {
		return err
	}
	if err := c.useGas(cost); err != nil {
		return err
	}

	key := panoptes.Key(c.stack.pop().Bytes32())
	value := panoptes.Word(c.stack.pop().Bytes32())
	c.context.SetStorage(c.params.Recipient, key, value)
	return nil
}

// --- Logging ---

func opLog(c *context, size int) error {
	// LogN op codes are write instructions, they shall not be executed in
	// static mode.
	if c.params.Static {
		return errStaticViolation
	}

	mStart := c.stack.pop()
	mSize := c.stack.pop()
	for i := 0; i < size; i++ {
		c.stack.pop()
	}

	if err := checkSizeOffsetUint64Overflow(mStart, mSize); err != nil {
		return err
	}

	// charge for the log payload
	if err := c.useGas(panoptes.Gas(8 * mSize.Uint64())); err != nil {
		return err
	}

	_, err := c.memory.getSlice(mStart.Uint64(), mSize.Uint64(), c)
	return err
}

// --- Frame results ---

func opEndWithResult(c *context) error {
	offset := c.stack.pop()
	size := c.stack.pop()
	if err := checkSizeOffsetUint64Overflow(offset, size); err != nil {
		return err
	}
	data, err := c.memory.getSlice(offset.Uint64(), size.Uint64(), c)
	if err != nil {
		return err
	}
	c.returnData = data
	return nil
}

func opSelfdestruct(c *context) error {
	// Selfdestruct is a write instruction, it shall not be executed in
	// static mode.
	if c.params.Static {
		return errStaticViolation
	}

	beneficiary := panoptes.Address(c.stack.pop().Bytes20())

	cost := SelfdestructGas
	if c.context.AccessAccount(beneficiary) == panoptes.ColdAccess {
		cost += ColdAccountAccessCost
	}
	balance := c.context.GetBalance(c.params.Recipient)
	if !c.context.AccountExists(beneficiary) && balance != (panoptes.Value{}) {
		cost += CreateBySelfdestructGas
	}
	if err := c.useGas(cost); err != nil {
		return err
	}

	c.context.SelfDestruct(c.params.Recipient, beneficiary)
	return nil
}

// --- Recursive calls ---

func checkSizeOffsetUint64Overflow(offset, size *uint256.Int) error {
	if size.IsZero() {
		return nil
	}
	if !offset.IsUint64() || !size.IsUint64() || offset.Uint64()+size.Uint64() < offset.Uint64() {
		return errGasUintOverflow
	}
	return nil
}

func opCall(c *context) error {
	value := c.stack.peekN(2)
	// In a static call, no value must be transferred.
	if c.params.Static && !value.IsZero() {
		return errStaticViolation
	}
	return genericCall(c, panoptes.Call)
}

func genericCall(c *context, kind panoptes.CallKind) error {
	stack := c.stack
	value := uint256.NewInt(0)

	// Pop call parameters.
	providedGas, addr := stack.pop(), stack.pop()
	if kind == panoptes.Call || kind == panoptes.CallCode {
		value = stack.pop()
	}
	inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop()

	toAddr := panoptes.Address(addr.Bytes20())

	if err := checkSizeOffsetUint64Overflow(inOffset, inSize); err != nil {
		return err
	}
	if err := checkSizeOffsetUint64Overflow(retOffset, retSize); err != nil {
		return err
	}

	// Get the argument and the return-value regions of the memory.
	args, err := c.memory.getSlice(inOffset.Uint64(), inSize.Uint64(), c)
	if err != nil {
		return err
	}
	output, err := c.memory.getSlice(retOffset.Uint64(), retSize.Uint64(), c)
	if err != nil {
		return err
	}

	// Access cost depends on warm/cold state of the target (EIP-2929).
	if err := c.useGas(getAccessCost(c.context.AccessAccount(toAddr))); err != nil {
		return err
	}

	// Charge for transferring value to the target.
	if !value.IsZero() {
		if err := c.useGas(CallValueTransferGas); err != nil {
			return err
		}
	}

	// EIP-158 states that non-zero value calls that create a new account
	// are charged an additional fee.
	if kind == panoptes.Call && !value.IsZero() && !c.context.AccountExists(toAddr) {
		if err := c.useGas(CallNewAccountGas); err != nil {
			return err
		}
	}

	// All but one 64th of the remaining gas may be forwarded (EIP-150).
	nestedCallGas := callGas(c.gas, providedGas)
	if err := c.useGas(nestedCallGas); err != nil {
		return err
	}
	if !value.IsZero() {
		nestedCallGas += CallStipend
	}

	// Check that the caller has enough balance to transfer the value.
	if (kind == panoptes.Call || kind == panoptes.CallCode) && !value.IsZero() {
		balance := c.context.GetBalance(c.params.Recipient)
		if balance.ToUint256().Lt(value) {
			c.stack.reserve().Clear()
			c.returnData = nil
			c.gas += nestedCallGas // the gas reserved for the nested call is returned
			return nil
		}
	}

	// In a static context, recursive calls are treated like static calls.
	if c.params.Static && kind == panoptes.Call {
		kind = panoptes.StaticCall
	}

	callParams := panoptes.CallParameters{
		Input: args,
		Gas:   nestedCallGas,
		Value: panoptes.Value(value.Bytes32()),
	}
	switch kind {
	case panoptes.Call, panoptes.StaticCall:
		callParams.Sender = c.params.Recipient
		callParams.Recipient = toAddr
	case panoptes.CallCode:
		callParams.Sender = c.params.Recipient
		callParams.Recipient = c.params.Recipient
		callParams.CodeAddress = toAddr
	case panoptes.DelegateCall:
		callParams.Sender = c.params.Sender
		callParams.Recipient = c.params.Recipient
		callParams.CodeAddress = toAddr
		callParams.Value = c.params.Value
	}

	ret, err := c.context.Call(kind, callParams)
	if err != nil {
		return err
	}

	copy(output, ret.Output)

	success := stack.reserve()
	if !ret.Success {
		success.Clear()
	} else {
		success.SetOne()
	}
	c.gas += ret.GasLeft
	c.refund += ret.GasRefund
	c.returnData = ret.Output
	return nil
}

func genericCreate(c *context, kind panoptes.CallKind) error {
	// Create is a write instruction, it shall not be executed in static mode.
	if c.params.Static {
		return errStaticViolation
	}

	var (
		value  = c.stack.pop()
		offset = c.stack.pop()
		size   = c.stack.pop()
		salt   = panoptes.Hash{}
	)
	if kind == panoptes.Create2 {
		salt = c.stack.pop().Bytes32()
	}

	if err := checkSizeOffsetUint64Overflow(offset, size); err != nil {
		return err
	}

	sizeU64 := size.Uint64()
	if sizeU64 > maxInitCodeSize {
		return errInitCodeTooLarge
	}

	input, err := c.memory.getSlice(offset.Uint64(), sizeU64, c)
	if err != nil {
		return err
	}

	// Once per word of the init code when creating a contract (EIP-3860).
	words := panoptes.SizeInWords(sizeU64)
	if err := c.useGas(panoptes.Gas(2 * words)); err != nil {
		return err
	}

	if kind == panoptes.Create2 {
		// Charge for hashing the init code to compute the target address.
		if err := c.useGas(panoptes.Gas(6 * words)); err != nil {
			return err
		}
	}

	if !value.IsZero() {
		balance := c.context.GetBalance(c.params.Recipient)
		if balance.ToUint256().Lt(value) {
			c.stack.reserve().Clear()
			c.returnData = nil
			return nil
		}
	}

	// All but one 64th of the remaining gas is forwarded (EIP-150).
	gas := c.gas - c.gas/64
	if err := c.useGas(gas); err != nil {
		return err
	}

	res, err := c.context.Call(kind, panoptes.CallParameters{
		Sender: c.params.Recipient,
		Value:  panoptes.Value(value.Bytes32()),
		Input:  input,
		Gas:    gas,
		Salt:   salt,
	})
	if err != nil {
		return err
	}

	success := c.stack.reserve()
	if !res.Success {
		success.Clear()
	} else {
		success.SetBytes20(res.CreatedAddress[:])
	}

	if !res.Success {
		c.returnData = res.Output
	} else {
		c.returnData = nil
	}
	c.gas += res.GasLeft
	c.refund += res.GasRefund
	return nil
}

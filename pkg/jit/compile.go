// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package jit

import (
	"fmt"

	"github.com/cilium/ebpf/asm"
)

// regMap assigns every eBPF register a fixed RISC-V register.
var regMap = map[asm.Register]int{
	asm.R0:  rvA5,
	asm.R1:  rvA0,
	asm.R2:  rvA1,
	asm.R3:  rvA2,
	asm.R4:  rvA3,
	asm.R5:  rvA4,
	asm.R6:  rvS1,
	asm.R7:  rvS2,
	asm.R8:  rvS3,
	asm.R9:  rvS4,
	asm.RFP: rvS5,
}

// HelperCaller resolves the fixed address of the shared helper-dispatch
// stub the JIT emits CALL instructions against.
type HelperCaller interface {
	// StubAddr returns the address a compiled CALL instruction should
	// jump to in order to invoke helper function idx.
	StubAddr(idx int32) (uintptr, error)
}

// Compiled is a program's machine code together with the byte offset of
// each 8-byte source instruction slot within it, for relative jump
// resolution.
type Compiled struct {
	Code    []byte
	offsets []int
}

// Compile translates a relocated instruction stream into RISC-V64
// machine code. Only ALU64, jump and call/exit opcodes are supported;
// anything else is rejected rather than silently mistranslated.
func Compile(insns asm.Instructions, helpers HelperCaller) (*Compiled, error) {
	nslots := 0
	for _, ins := range insns {
		nslots += int(ins.Size()) / asm.InstructionSize
	}
	c := &Compiled{offsets: make([]int, nslots+1)}
	var buf []byte

	// First pass: emit everything with branch targets left as zero,
	// tracking the byte offset each source instruction starts at so a
	// second pass can patch in relative offsets.
	type pendingBranch struct {
		bufOffset int
		kind      asm.JumpOp
		srcIdx    int
		targetIdx int
	}
	var branches []pendingBranch

	slot := 0
	for i := 0; i < len(insns); i++ {
		c.offsets[slot] = len(buf)
		ins := insns[i]
		cls := ins.OpCode.Class()

		switch {
		case cls == asm.ALU64Class:
			if err := compileALU(&buf, ins); err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}

		case ins.OpCode.JumpOp() == asm.Exit:
			ret(&buf)

		case ins.OpCode.JumpOp() == asm.Call:
			idx, ok := constantAsHelperIndex(ins)
			if !ok {
				return nil, fmt.Errorf("instruction %d: unsupported call target", i)
			}
			if helpers == nil {
				return nil, fmt.Errorf("instruction %d: no helper caller bound", i)
			}
			addr, err := helpers.StubAddr(idx)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			loadImm64(&buf, rvT0, int64(addr))
			jalr(&buf, rvRA, rvT0, 0)

		case cls == asm.JumpClass || cls == asm.Jump32Class:
			target := slot + 1 + int(ins.Offset)
			if ins.OpCode.JumpOp() == asm.JA {
				branches = append(branches, pendingBranch{bufOffset: len(buf), kind: asm.JA, srcIdx: i, targetIdx: target})
				jal(&buf, rvZero, 0)
				break
			}
			dst := regMap[ins.Dst]
			var src int
			if ins.OpCode.Source() == asm.RegSource {
				src = regMap[ins.Src]
			} else {
				src = rvT0
				loadImm64(&buf, rvT0, ins.Constant)
			}
			branches = append(branches, pendingBranch{bufOffset: len(buf), kind: ins.OpCode.JumpOp(), srcIdx: i, targetIdx: target})
			if err := emitCondBranchPlaceholder(&buf, ins.OpCode.JumpOp(), dst, src); err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}

		case ins.OpCode.IsDWordLoad():
			// The decoder already joined both 8-byte slots into one
			// instruction carrying the full 64-bit constant.
			loadImm64(&buf, regMap[ins.Dst], ins.Constant)
			c.offsets[slot+1] = len(buf)

		default:
			return nil, fmt.Errorf("instruction %d: unsupported opcode class %v", i, cls)
		}
		slot += int(ins.Size()) / asm.InstructionSize
	}
	c.offsets[nslots] = len(buf)

	for _, b := range branches {
		targetOffset := c.offsets[b.targetIdx]
		delta := int32(targetOffset - b.bufOffset)
		patchBranch(c.Code, buf, b.bufOffset, b.kind, delta)
	}
	c.Code = buf
	return c, nil
}

func constantAsHelperIndex(ins asm.Instruction) (int32, bool) {
	if !ins.IsBuiltinCall() {
		return 0, false
	}
	return int32(ins.Constant), true
}

func compileALU(buf *[]byte, ins asm.Instruction) error {
	dst := regMap[ins.Dst]
	op := ins.OpCode.ALUOp()

	operand := func() int {
		if ins.OpCode.Source() == asm.RegSource {
			return regMap[ins.Src]
		}
		loadImm64(buf, rvT0, ins.Constant)
		return rvT0
	}

	switch op {
	case asm.Mov:
		if ins.OpCode.Source() == asm.RegSource {
			mv(buf, dst, regMap[ins.Src])
		} else {
			loadImm64(buf, dst, ins.Constant)
		}
	case asm.Add:
		add(buf, dst, dst, operand())
	case asm.Sub:
		sub(buf, dst, dst, operand())
	case asm.Mul:
		mul(buf, dst, dst, operand())
	case asm.Div:
		divOp(buf, dst, dst, operand())
	case asm.Mod:
		remOp(buf, dst, dst, operand())
	case asm.Or:
		orOp(buf, dst, dst, operand())
	case asm.And:
		andOp(buf, dst, dst, operand())
	case asm.Xor:
		xorOp(buf, dst, dst, operand())
	case asm.Lsh:
		sll(buf, dst, dst, operand())
	case asm.Rsh:
		srl(buf, dst, dst, operand())
	case asm.Arsh:
		sra(buf, dst, dst, operand())
	default:
		return fmt.Errorf("unsupported ALU op %v", op)
	}
	return nil
}

// emitCondBranchPlaceholder emits a branch instruction with a zero
// offset; patchBranch fills in the real displacement once every source
// instruction's final byte offset is known.
func emitCondBranchPlaceholder(buf *[]byte, op asm.JumpOp, dst, src int) error {
	switch op {
	case asm.JEq:
		beq(buf, dst, src, 0)
	case asm.JNE:
		bne(buf, dst, src, 0)
	case asm.JGT, asm.JSGT:
		blt(buf, src, dst, 0)
	case asm.JGE, asm.JSGE:
		bge(buf, src, dst, 0)
	case asm.JLT, asm.JSLT:
		bltu(buf, dst, src, 0)
	case asm.JLE, asm.JSLE:
		bgeu(buf, src, dst, 0)
	default:
		return fmt.Errorf("unsupported jump op %v", op)
	}
	return nil
}

// patchBranch rewrites the 4 bytes at bufOffset with the same
// instruction re-emitted at the correct displacement.
func patchBranch(_ []byte, buf []byte, bufOffset int, kind asm.JumpOp, delta int32) {
	var tmp []byte
	switch kind {
	case asm.JA:
		jal(&tmp, rvZero, delta)
	default:
		// Conditional branches were emitted with rs1/rs2 already fixed;
		// only the displacement needs rewriting, so decode them back
		// out of the placeholder word's register fields.
		word := uint32(buf[bufOffset]) | uint32(buf[bufOffset+1])<<8 | uint32(buf[bufOffset+2])<<16 | uint32(buf[bufOffset+3])<<24
		funct3 := (word >> 12) & 0x7
		rs1 := int((word >> 15) & 0x1f)
		rs2 := int((word >> 20) & 0x1f)
		emitU32(&tmp, encodeB(funct3, rs1, rs2, delta))
	}
	copy(buf[bufOffset:bufOffset+4], tmp)
}

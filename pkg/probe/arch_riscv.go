// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

// InsnKind classifies how a probed instruction must be handled once its
// breakpoint traps: executed out of line in the instruction buffer, or
// emulated in software because it writes the PC directly and so cannot
// be safely relocated.
type InsnKind int

const (
	Unsupported InsnKind = iota
	Execute
	Emulate
)

// InsnLength returns 2 for a compressed instruction or 4 for a standard
// one, decided by the RISC-V encoding rule that only the bottom two
// bits of a standard instruction are both set.
func InsnLength(firstHalfword uint16) int {
	if firstHalfword&0x3 != 0x3 {
		return 2
	}
	return 4
}

// ClassifyInsn determines how the instruction at word (the first 4
// bytes read at the probe address, regardless of its true length) must
// be handled. length must be the value InsnLength already returned for
// this instruction.
func ClassifyInsn(word uint32, length int) InsnKind {
	if length == 4 {
		return classify32(word)
	}
	return classify16(uint16(word))
}

func classify32(word uint32) InsnKind {
	opcode := word & 0x7f
	switch opcode {
	case 0x6f: // JAL
		return Emulate
	case 0x67: // JALR
		return Emulate
	case 0x63: // Bxx
		return Emulate
	default:
		return Execute
	}
}

func classify16(word uint16) InsnKind {
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7

	switch {
	case quadrant == 0x1 && funct3 == 0x5: // C.J
		return Emulate
	case quadrant == 0x1 && (funct3 == 0x6 || funct3 == 0x7): // C.BEQZ/C.BNEZ
		return Emulate
	case quadrant == 0x2 && funct3 == 0x4: // C.JR/C.JALR/C.MV/C.ADD
		rs2 := (word >> 2) & 0x1f
		rd := (word >> 7) & 0x1f
		if rs2 == 0 && rd != 0 {
			return Emulate // C.JR or C.JALR
		}
		return Execute // C.MV / C.ADD
	default:
		return Execute
	}
}

// EmulateExecution computes the post-instruction PC and updates frame
// for a PC-modifying instruction, in place of single-stepping it.
//
// The original implements this for JAL/JALR/BEQ/BNE and the compressed
// C.J/C.JR/C.JALR but panics on BLT/BGE/BLTU/BGEU and C.BEQZ/C.BNEZ,
// even though get_insn_type classifies all of them as Emulate. This
// port completes that coverage instead of reproducing the panic.
func EmulateExecution(frame *TrapFrame, pc uint64, word uint32, length int) uint64 {
	if length == 4 {
		return emulate32(frame, pc, word)
	}
	return emulate16(frame, pc, uint16(word))
}

func emulate32(frame *TrapFrame, pc uint64, word uint32) uint64 {
	opcode := word & 0x7f
	rd := int((word >> 7) & 0x1f)
	rs1 := int((word >> 15) & 0x1f)
	rs2 := int((word >> 20) & 0x1f)
	funct3 := (word >> 12) & 0x7

	switch opcode {
	case 0x6f: // JAL
		imm := jImm(word)
		next := pc + uint64(int64(imm))
		frame.SetReg(rd, pc+4)
		return next

	case 0x67: // JALR
		imm := iImm(word)
		target := (frame.Reg(rs1) + uint64(int64(imm))) &^ 1
		frame.SetReg(rd, pc+4)
		return target

	case 0x63: // Bxx
		imm := bImm(word)
		taken := branchTaken(funct3, frame.Reg(rs1), frame.Reg(rs2))
		if taken {
			return pc + uint64(int64(imm))
		}
		return pc + 4
	}
	return pc + 4
}

func branchTaken(funct3 uint32, a, b uint64) bool {
	switch funct3 {
	case 0x0: // BEQ
		return a == b
	case 0x1: // BNE
		return a != b
	case 0x4: // BLT
		return int64(a) < int64(b)
	case 0x5: // BGE
		return int64(a) >= int64(b)
	case 0x6: // BLTU
		return a < b
	case 0x7: // BGEU
		return a >= b
	default:
		return false
	}
}

func emulate16(frame *TrapFrame, pc uint64, word uint16) uint64 {
	funct3 := (word >> 13) & 0x7
	quadrant := word & 0x3

	if quadrant == 0x1 && funct3 == 0x5 { // C.J
		imm := cjImm(word)
		return pc + uint64(int64(imm))
	}
	if quadrant == 0x1 && (funct3 == 0x6 || funct3 == 0x7) { // C.BEQZ/C.BNEZ
		rs1 := 8 + int((word>>7)&0x7) // c.* register field is x8-x15
		imm := cbImm(word)
		isZero := frame.Reg(rs1) == 0
		taken := (funct3 == 0x6 && isZero) || (funct3 == 0x7 && !isZero)
		if taken {
			return pc + uint64(int64(imm))
		}
		return pc + 2
	}
	if quadrant == 0x2 && funct3 == 0x4 { // C.JR/C.JALR
		rs1 := int((word >> 7) & 0x1f)
		target := frame.Reg(rs1) &^ 1
		isJalr := (word>>12)&0x1 == 1 // bit 12 set selects C.JALR over C.JR
		if isJalr {
			frame.SetRA(pc + 2)
		}
		return target
	}
	return pc + 2
}

func jImm(word uint32) int32 {
	imm20 := (word >> 31) & 0x1
	imm19_12 := (word >> 12) & 0xff
	imm11 := (word >> 20) & 0x1
	imm10_1 := (word >> 21) & 0x3ff
	raw := imm20<<20 | imm19_12<<12 | imm11<<11 | imm10_1<<1
	return signExtend(raw, 21)
}

func iImm(word uint32) int32 {
	return signExtend(word>>20, 12)
}

func bImm(word uint32) int32 {
	imm12 := (word >> 31) & 0x1
	imm10_5 := (word >> 25) & 0x3f
	imm4_1 := (word >> 8) & 0xf
	imm11 := (word >> 7) & 0x1
	raw := imm12<<12 | imm11<<11 | imm10_5<<5 | imm4_1<<1
	return signExtend(raw, 13)
}

func cjImm(word uint16) int32 {
	w := uint32(word)
	imm11 := (w >> 12) & 0x1
	imm4 := (w >> 11) & 0x1
	imm9_8 := (w >> 9) & 0x3
	imm10 := (w >> 8) & 0x1
	imm6 := (w >> 7) & 0x1
	imm7 := (w >> 6) & 0x1
	imm3_1 := (w >> 3) & 0x7
	imm5 := (w >> 2) & 0x1
	raw := imm11<<11 | imm4<<4 | imm9_8<<8 | imm10<<10 | imm6<<6 | imm7<<7 | imm3_1<<1 | imm5<<5
	return signExtend(raw, 12)
}

func cbImm(word uint16) int32 {
	w := uint32(word)
	imm8 := (w >> 12) & 0x1
	imm4_3 := (w >> 10) & 0x3
	imm7_6 := (w >> 5) & 0x3
	imm2_1 := (w >> 3) & 0x3
	imm5 := (w >> 2) & 0x1
	raw := imm8<<8 | imm4_3<<3 | imm7_6<<6 | imm2_1<<1 | imm5<<5
	return signExtend(raw, 9)
}

func signExtend(raw uint32, bits int) int32 {
	shift := 32 - bits
	return int32(raw<<shift) >> shift
}

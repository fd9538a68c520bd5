// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package jit compiles a relocated eBPF instruction stream into RISC-V64
// machine code, the teaching kernel's architecture JIT (ebpf2rv in the
// original). It targets a conservative subset of ALU64, jump and call
// opcodes sufficient for the programs this kernel loads.
package jit

import "encoding/binary"

// RISC-V register numbers used by the emitted code. Register allocation
// maps every eBPF register to a fixed RISC-V register so no spilling is
// ever required; r10 (the eBPF frame pointer) is read-only and never
// reassigned.
const (
	rvZero = 0
	rvRA   = 1
	rvSP   = 2
	rvA0   = 10
	rvA1   = 11
	rvA2   = 12
	rvA3   = 13
	rvA4   = 14
	rvA5   = 15
	rvS1   = 9
	rvS2   = 18
	rvS3   = 19
	rvS4   = 20
	rvS5   = 21
	rvT0   = 5
)

func emitU32(buf *[]byte, word uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	*buf = append(*buf, b[:]...)
}

// R-type: funct7 rs2 rs1 funct3 rd opcode
func encodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 int) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

// I-type: imm[11:0] rs1 funct3 rd opcode
func encodeI(opcode, funct3 uint32, rd, rs1 int, imm int32) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

// S-type: imm[11:5] rs2 rs1 funct3 imm[4:0] opcode
func encodeS(opcode, funct3 uint32, rs1, rs2 int, imm int32) uint32 {
	upper := uint32(imm>>5) & 0x7f
	lower := uint32(imm) & 0x1f
	return upper<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | lower<<7 | opcode
}

// U-type: imm[31:12] rd opcode
func encodeU(opcode uint32, rd int, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | uint32(rd)<<7 | opcode
}

// B-type: conditional branch, imm is a byte offset (multiple of 2).
func encodeB(funct3 uint32, rs1, rs2 int, imm int32) uint32 {
	imm12 := uint32(imm>>12) & 0x1
	imm10_5 := uint32(imm>>5) & 0x3f
	imm4_1 := uint32(imm>>1) & 0xf
	imm11 := uint32(imm>>11) & 0x1
	return imm12<<31 | imm10_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | imm4_1<<8 | imm11<<7 | 0x63
}

// J-type: unconditional jump, imm is a byte offset (multiple of 2).
func encodeJ(rd int, imm int32) uint32 {
	imm20 := uint32(imm>>20) & 0x1
	imm10_1 := uint32(imm>>1) & 0x3ff
	imm11 := uint32(imm>>11) & 0x1
	imm19_12 := uint32(imm>>12) & 0xff
	return imm20<<31 | imm10_1<<21 | imm11<<20 | imm19_12<<12 | uint32(rd)<<7 | 0x6f
}

func addImm(buf *[]byte, rd, rs1 int, imm int32) { emitU32(buf, encodeI(0x13, 0x0, rd, rs1, imm)) }
func mv(buf *[]byte, rd, rs int)                 { addImm(buf, rd, rs, 0) }
func li(buf *[]byte, rd int, imm int32)          { addImm(buf, rd, rvZero, imm) }
func lui(buf *[]byte, rd int, imm int32)         { emitU32(buf, encodeU(0x37, rd, imm)) }
func add(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x0, 0x00, rd, rs1, rs2)) }
func sub(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x0, 0x20, rd, rs1, rs2)) }
func mul(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x0, 0x01, rd, rs1, rs2)) }
func divOp(buf *[]byte, rd, rs1, rs2 int)        { emitU32(buf, encodeR(0x33, 0x4, 0x01, rd, rs1, rs2)) }
func remOp(buf *[]byte, rd, rs1, rs2 int)        { emitU32(buf, encodeR(0x33, 0x6, 0x01, rd, rs1, rs2)) }
func orOp(buf *[]byte, rd, rs1, rs2 int)         { emitU32(buf, encodeR(0x33, 0x6, 0x00, rd, rs1, rs2)) }
func andOp(buf *[]byte, rd, rs1, rs2 int)        { emitU32(buf, encodeR(0x33, 0x7, 0x00, rd, rs1, rs2)) }
func xorOp(buf *[]byte, rd, rs1, rs2 int)        { emitU32(buf, encodeR(0x33, 0x4, 0x00, rd, rs1, rs2)) }
func sll(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x1, 0x00, rd, rs1, rs2)) }
func srl(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x5, 0x00, rd, rs1, rs2)) }
func sra(buf *[]byte, rd, rs1, rs2 int)          { emitU32(buf, encodeR(0x33, 0x5, 0x20, rd, rs1, rs2)) }

func jal(buf *[]byte, rd int, offset int32)  { emitU32(buf, encodeJ(rd, offset)) }
func jalr(buf *[]byte, rd, rs1 int, offset int32) {
	emitU32(buf, encodeI(0x67, 0x0, rd, rs1, offset))
}
func beq(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x0, rs1, rs2, offset)) }
func bne(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x1, rs1, rs2, offset)) }
func blt(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x4, rs1, rs2, offset)) }
func bge(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x5, rs1, rs2, offset)) }
func bltu(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x6, rs1, rs2, offset)) }
func bgeu(buf *[]byte, rs1, rs2 int, offset int32) { emitU32(buf, encodeB(0x7, rs1, rs2, offset)) }

// loadImm64 materializes a full 64-bit constant into rd via a
// lui+addi(high)+slli+addi(low) sequence, mirroring how LD_IMM64's two
// eight-byte slots are assembled by the loader before the JIT ever sees
// this instruction.
func loadImm64(buf *[]byte, rd int, imm int64) {
	hi := int32(imm >> 32)
	lo := int32(imm)
	tmp := rvT0
	if rd == rvT0 {
		tmp = 6 // t1: the low half must not overwrite rd
	}
	loadImm32(buf, rd, hi)
	emitU32(buf, encodeI(0x13, 0x1, rd, rd, 32)) // slli rd, rd, 32
	loadImm32(buf, tmp, lo)
	emitU32(buf, encodeI(0x13, 0x1, tmp, tmp, 32)) // slli tmp, tmp, 32
	emitU32(buf, encodeI(0x13, 0x5, tmp, tmp, 32)) // srli tmp, tmp, 32 (clear sign-extension)
	add(buf, rd, rd, tmp)
}

func loadImm32(buf *[]byte, rd int, imm int32) {
	upper := imm
	if imm&0x800 != 0 {
		upper += 0x1000
	}
	lui(buf, rd, upper)
	addImm(buf, rd, rd, imm)
}

func ret(buf *[]byte) { jalr(buf, rvZero, rvRA, 0) }

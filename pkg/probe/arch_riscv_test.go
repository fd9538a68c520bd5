// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsnLength(t *testing.T) {
	assert.Equal(t, 4, InsnLength(0x0013)) // ADDI x0,x0,0 - standard
	assert.Equal(t, 2, InsnLength(0x4505)) // c.li a0,1 - compressed
}

func TestClassifyJAL(t *testing.T) {
	// JAL x1, 0: opcode 0x6f, rd=1
	word := uint32(0x0000_00ef)
	assert.Equal(t, Emulate, ClassifyInsn(word, 4))
}

func TestClassifyALUIsExecute(t *testing.T) {
	// ADDI x1, x1, 4
	word := uint32(0x00408093)
	assert.Equal(t, Execute, ClassifyInsn(word, 4))
}

func TestEmulateJAL(t *testing.T) {
	frame := &TrapFrame{}
	// JAL x1, +8: imm=8 encoded as imm20=0 imm19_12=0 imm11=0 imm10_1=4
	var word uint32 = 0x6f
	word |= 1 << 7 // rd = x1
	word |= 4 << 21
	pc := uint64(0x1000)
	next := EmulateExecution(frame, pc, word, 4)
	assert.Equal(t, pc+8, next)
	assert.Equal(t, pc+4, frame.RA())
}

func TestEmulateBranchTaken(t *testing.T) {
	frame := &TrapFrame{}
	frame.SetReg(1, 5)
	frame.SetReg(2, 5)
	// BEQ x1, x2, +8
	var word uint32 = 0x63
	word |= 1 << 15
	word |= 2 << 20
	word |= 4 << 8 // imm4_1 = 4 -> imm = 8
	pc := uint64(0x2000)
	next := EmulateExecution(frame, pc, word, 4)
	assert.Equal(t, pc+8, next)
}

func TestEmulateBranchNotTaken(t *testing.T) {
	frame := &TrapFrame{}
	frame.SetReg(1, 5)
	frame.SetReg(2, 6)
	var word uint32 = 0x63
	word |= 1 << 15
	word |= 2 << 20
	pc := uint64(0x2000)
	next := EmulateExecution(frame, pc, word, 4)
	assert.Equal(t, pc+4, next)
}

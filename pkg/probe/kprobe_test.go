// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/osabi/sim"
)

func addiWord(rd, rs1 int, imm int32) uint32 {
	var w uint32 = 0x13
	w |= uint32(rd) << 7
	w |= uint32(0) << 12 // funct3 = ADDI
	w |= uint32(rs1) << 15
	w |= uint32(imm&0xfff) << 20
	return w
}

func newTestText() *SliceText {
	data := make([]byte, 4096)
	// ADDI x1, x1, 4 at offset 0
	binary.LittleEndian.PutUint32(data[0:4], addiWord(1, 1, 4))
	// ADDI x1, x1, 8 at offset 4, immediately follows
	binary.LittleEndian.PutUint32(data[4:8], addiWord(1, 1, 8))
	// JAL x1, +8 at offset 64
	var jal uint32 = 0x6f
	jal |= 1 << 7
	jal |= 4 << 21
	binary.LittleEndian.PutUint32(data[64:68], jal)
	return &SliceText{Base: 0x8000, Data: data}
}

func TestKProbeEngineExecuteKind(t *testing.T) {
	text := newTestText()
	os := sim.New()
	e := NewKProbeEngine(text, os)

	var fired, completed bool
	require.NoError(t, e.Register(text.Base, func(frame *TrapFrame, addr uintptr) {
		fired = true
		assert.Equal(t, text.Base, addr)
	}, func(frame *TrapFrame, addr uintptr) {
		completed = true
		assert.Equal(t, text.Base, addr)
	}))

	rp := e.probes[text.Base]
	require.Equal(t, Execute, rp.kind)
	require.NotNil(t, rp.buf)

	// the planted instruction is a compressed ebreak in the low 2 bytes
	planted := text.Read(text.Base, 2)
	assert.Equal(t, CompressedEbreak, binary.LittleEndian.Uint16(planted))

	frame := &TrapFrame{Pc: uint64(text.Base)}
	handled := e.Trap(frame)
	assert.True(t, handled)
	assert.True(t, fired)
	assert.False(t, completed)
	assert.Equal(t, uint64(rp.buf.Addr()), frame.Pc)
	assert.Equal(t, 1, rp.activeCount)

	// an active probe refuses unregistration until its post-handler fires
	assert.Error(t, e.Unregister(text.Base))

	// after running the OOL buffer, the follow-on trap resumes past the
	// original instruction and runs the post-handler
	followOn := &TrapFrame{Pc: uint64(rp.buf.Addr()) + uint64(rp.insnLen)}
	handled = e.Trap(followOn)
	assert.True(t, handled)
	assert.True(t, completed)
	assert.Equal(t, uint64(text.Base)+uint64(rp.insnLen), followOn.Pc)
	assert.Equal(t, 0, rp.activeCount)

	require.NoError(t, e.Unregister(text.Base))
	restored := text.Read(text.Base, 4)
	assert.Equal(t, addiWord(1, 1, 4), binary.LittleEndian.Uint32(restored))
}

func TestKProbeEngineEmulateKind(t *testing.T) {
	text := newTestText()
	os := sim.New()
	e := NewKProbeEngine(text, os)

	jalAddr := text.Base + 64
	var completed bool
	require.NoError(t, e.Register(jalAddr, func(frame *TrapFrame, addr uintptr) {}, func(frame *TrapFrame, addr uintptr) {
		completed = true
	}))

	rp := e.probes[jalAddr]
	require.Equal(t, Emulate, rp.kind)
	require.Nil(t, rp.buf)

	frame := &TrapFrame{Pc: uint64(jalAddr)}
	handled := e.Trap(frame)
	assert.True(t, handled)
	assert.Equal(t, uint64(jalAddr)+8, frame.Pc)
	assert.Equal(t, uint64(jalAddr)+4, frame.RA())
	assert.True(t, completed)
	assert.Equal(t, 0, rp.activeCount)
}

func TestKProbeEngineRegisterTwiceIsEEXIST(t *testing.T) {
	text := newTestText()
	e := NewKProbeEngine(text, sim.New())
	require.NoError(t, e.Register(text.Base+64, func(*TrapFrame, uintptr) {}, nil))
	err := e.Register(text.Base+64, func(*TrapFrame, uintptr) {}, nil)
	assert.Error(t, err)
}

func TestKProbeEngineUnregisterUnknownIsENOENT(t *testing.T) {
	text := newTestText()
	e := NewKProbeEngine(text, sim.New())
	err := e.Unregister(text.Base)
	assert.Error(t, err)
}

func TestKProbeEngineTrapUnrelatedAddrNotHandled(t *testing.T) {
	text := newTestText()
	e := NewKProbeEngine(text, sim.New())
	frame := &TrapFrame{Pc: uint64(text.Base) + 999}
	assert.False(t, e.Trap(frame))
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package jit

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHelpers struct{}

func (stubHelpers) StubAddr(idx int32) (uintptr, error) { return 0x1000 + uintptr(idx)*8, nil }

func TestCompileSimpleExit(t *testing.T) {
	insns := asm.Instructions{
		asm.Mov.Imm(asm.R0, 7),
		asm.Return(),
	}
	c, err := Compile(insns, stubHelpers{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
}

func TestCompileConditionalJumpWithExplicitOffset(t *testing.T) {
	jeq := asm.Instruction{
		OpCode:   asm.OpCode(asm.JumpClass).SetJumpOp(asm.JEq).SetSource(asm.ImmSource),
		Dst:      asm.R1,
		Constant: 1,
		Offset:   1,
	}
	insns := asm.Instructions{
		asm.Mov.Imm(asm.R1, 1),
		jeq,
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
	c, err := Compile(insns, stubHelpers{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
}

func TestCompileHelperCall(t *testing.T) {
	insns := asm.Instructions{
		asm.FnMapLookupElem.Call(),
		asm.Return(),
	}
	c, err := Compile(insns, stubHelpers{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
}

func TestCompileLoadImm64(t *testing.T) {
	insns := asm.Instructions{
		asm.LoadImm(asm.R1, 0x1122334455667788, asm.DWord),
		asm.Return(),
	}
	c, err := Compile(insns, stubHelpers{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/osabi/sim"
)

func alwaysOpens(path string) ([]byte, error) { return []byte("elf"), nil }

func TestUProbeEngineExecuteKind(t *testing.T) {
	text := newTestText()
	os := sim.New()
	e := NewUProbeEngine(text, os, alwaysOpens)

	var fired bool
	require.NoError(t, e.Register(42, "/bin/target", text.Base, func(frame *TrapFrame, addr uintptr) {
		fired = true
	}))

	rp := e.probes[text.Base]
	require.Equal(t, Execute, rp.kind)
	require.NotNil(t, rp.buf)

	frame := &TrapFrame{Pc: uint64(text.Base)}
	assert.True(t, e.Trap(frame))
	assert.True(t, fired)
	assert.Equal(t, uint64(rp.buf.Addr()), frame.Pc)

	require.NoError(t, e.Unregister(text.Base))
	_, exists := e.probes[text.Base]
	assert.False(t, exists)
}

func TestUProbeEngineEmulateKind(t *testing.T) {
	text := newTestText()
	e := NewUProbeEngine(text, sim.New(), alwaysOpens)

	jalAddr := text.Base + 64
	require.NoError(t, e.Register(42, "/bin/target", jalAddr, func(*TrapFrame, uintptr) {}))

	frame := &TrapFrame{Pc: uint64(jalAddr)}
	assert.True(t, e.Trap(frame))
	assert.Equal(t, uint64(jalAddr)+8, frame.Pc)
}

func TestUProbeEngineOpenerFailureIsENOENT(t *testing.T) {
	text := newTestText()
	failing := func(path string) ([]byte, error) { return nil, errors.New("not found") }
	e := NewUProbeEngine(text, sim.New(), failing)

	err := e.Register(42, "/bin/missing", text.Base, func(*TrapFrame, uintptr) {})
	assert.Error(t, err)
}

func TestUProbeEngineRegisterTwiceIsEEXIST(t *testing.T) {
	text := newTestText()
	e := NewUProbeEngine(text, sim.New(), alwaysOpens)
	require.NoError(t, e.Register(42, "/bin/target", text.Base+64, func(*TrapFrame, uintptr) {}))
	err := e.Register(42, "/bin/target", text.Base+64, func(*TrapFrame, uintptr) {})
	assert.Error(t, err)
}

func TestUProbeEngineUnregisterUnknownIsENOENT(t *testing.T) {
	text := newTestText()
	e := NewUProbeEngine(text, sim.New(), alwaysOpens)
	err := e.Unregister(text.Base)
	assert.Error(t, err)
}

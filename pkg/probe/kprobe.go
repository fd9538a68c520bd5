// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"encoding/binary"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// Handler is a probe's callback, invoked with the trapped register
// state and the address the probe fired at.
type Handler func(frame *TrapFrame, addr uintptr)

type registeredKProbe struct {
	addr        uintptr
	preHandler  Handler
	postHandler Handler // nil if the caller didn't register one
	origInsn    []byte
	insnLen     int
	kind        InsnKind
	buf         *InstructionBuffer // only set when kind == Execute
	activeCount int
}

// KProbeEngine arms and disarms breakpoint-based probes over kernel
// text, and dispatches traps at either a probe's own address or the
// follow-on address of an execute-out-of-line probe back to its caller.
type KProbeEngine struct {
	text    TextMemory
	os      osabi.OS
	probes  map[uintptr]*registeredKProbe // keyed by probe address
	engaged map[uintptr]*registeredKProbe // keyed by follow-on trap address
}

// NewKProbeEngine returns an engine operating over text.
func NewKProbeEngine(text TextMemory, os osabi.OS) *KProbeEngine {
	return &KProbeEngine{
		text:    text,
		os:      os,
		probes:  make(map[uintptr]*registeredKProbe),
		engaged: make(map[uintptr]*registeredKProbe),
	}
}

// Register arms a kprobe at addr. pre runs every time the probe fires;
// post, if non-nil, runs once the probed instruction has completed —
// at the emulate path's computed next-pc, or at the follow-on trap for
// an execute-out-of-line probe. The instruction at addr is classified
// as Execute (single-stepped out of line via an instruction buffer) or
// Emulate (its PC effect is computed in software); anything else is
// rejected with EINVAL.
func (e *KProbeEngine) Register(addr uintptr, pre, post Handler) error {
	if _, exists := e.probes[addr]; exists {
		return bpferror.EEXIST
	}

	firstWord := e.text.Read(addr, 4)
	length := InsnLength(binary.LittleEndian.Uint16(firstWord))
	orig := e.text.Read(addr, length)

	var word uint32
	if length == 4 {
		word = binary.LittleEndian.Uint32(orig)
	} else {
		word = uint32(binary.LittleEndian.Uint16(orig))
	}
	kind := ClassifyInsn(word, length)
	if kind == Unsupported {
		return bpferror.EINVAL
	}

	rp := &registeredKProbe{addr: addr, preHandler: pre, postHandler: post, origInsn: orig, insnLen: length, kind: kind}

	if kind == Execute {
		buf, err := NewInstructionBuffer(e.os)
		if err != nil {
			return err
		}
		buf.CopyIn(0, orig)
		planted := make([]byte, BreakpointLength)
		binary.LittleEndian.PutUint16(planted, CompressedEbreak)
		buf.CopyIn(length, planted)
		rp.buf = buf
		e.engaged[buf.Addr()+uintptr(length)] = rp
	}

	ebreak := make([]byte, BreakpointLength)
	binary.LittleEndian.PutUint16(ebreak, CompressedEbreak)
	e.text.Write(addr, ebreak)

	e.probes[addr] = rp
	return nil
}

// Unregister disarms the probe at addr, restoring the original
// instruction and releasing any instruction buffer it used. It refuses
// with EAGAIN while the probe is still active — between its pre-handler
// firing and its post-handler (or follow-on trap) completing.
func (e *KProbeEngine) Unregister(addr uintptr) error {
	rp, ok := e.probes[addr]
	if !ok {
		return bpferror.ENOENT
	}
	if rp.activeCount > 0 {
		return bpferror.EAGAIN
	}
	e.text.Write(addr, rp.origInsn)
	if rp.buf != nil {
		delete(e.engaged, rp.buf.Addr()+uintptr(rp.insnLen))
		if err := rp.buf.Close(); err != nil {
			return err
		}
	}
	delete(e.probes, addr)
	return nil
}

// Trap handles a breakpoint trap at frame.Pc, returning true if this
// engine owns it. Dispatch order matches the original: a probe's own
// address is tried first, then the follow-on address of an
// execute-out-of-line probe; anything else is left unhandled so the
// kretprobe engine can try.
func (e *KProbeEngine) Trap(frame *TrapFrame) bool {
	addr := uintptr(frame.Pc)

	if rp, ok := e.probes[addr]; ok {
		rp.activeCount++
		rp.preHandler(frame, addr)
		switch rp.kind {
		case Emulate:
			var word uint32
			if rp.insnLen == 4 {
				word = binary.LittleEndian.Uint32(rp.origInsn)
			} else {
				word = uint32(binary.LittleEndian.Uint16(rp.origInsn))
			}
			next := EmulateExecution(frame, uint64(addr), word, rp.insnLen)
			frame.SetPC(next)
			if rp.postHandler != nil {
				rp.postHandler(frame, addr)
			}
			rp.activeCount--
		case Execute:
			frame.SetPC(uint64(rp.buf.Addr()))
		}
		return true
	}

	if rp, ok := e.engaged[addr]; ok {
		if rp.postHandler != nil {
			rp.postHandler(frame, rp.addr)
		}
		rp.activeCount--
		frame.SetPC(uint64(rp.addr) + uint64(rp.insnLen))
		return true
	}

	return false
}

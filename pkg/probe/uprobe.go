// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"encoding/binary"

	retry "github.com/avast/retry-go/v4"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// BinaryOpener resolves and opens a target executable by path, the
// collaborator ruprobes plays in the original: looking a path up on
// disk (or in a container's mount namespace) is a transient, retryable
// operation, not a pure function.
type BinaryOpener func(path string) ([]byte, error)

type registeredUProbe struct {
	pid      uint32
	addr     uintptr
	handler  Handler
	origInsn []byte
	insnLen  int
	kind     InsnKind
	buf      *InstructionBuffer
}

// UProbeEngine is the sync-function variant of user-space probing: it
// arms a breakpoint directly in a target process's text, using
// MapUserExecPage/MakeUserPageWritable instead of the kernel's own page
// pool, since that memory belongs to another address space.
type UProbeEngine struct {
	text   TextMemory
	os     osabi.OS
	opener BinaryOpener
	probes map[uintptr]*registeredUProbe
}

// NewUProbeEngine returns an engine operating over text (a mapped view
// of the target process) using opener to resolve target binaries.
func NewUProbeEngine(text TextMemory, os osabi.OS, opener BinaryOpener) *UProbeEngine {
	return &UProbeEngine{text: text, os: os, opener: opener, probes: make(map[uintptr]*registeredUProbe)}
}

// Register arms a uprobe for pid at addr in path. Opening path is
// retried a bounded number of times before failing, since the target
// process's executable can be transiently unavailable (e.g. still
// being written out, or the mount namespace not yet visible).
func (e *UProbeEngine) Register(pid uint32, path string, addr uintptr, handler Handler) error {
	if _, exists := e.probes[addr]; exists {
		return bpferror.EEXIST
	}

	if _, err := retry.DoWithData(
		func() ([]byte, error) { return e.opener(path) },
		retry.Attempts(3),
	); err != nil {
		return bpferror.ENOENT
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

	rp := &registeredUProbe{pid: pid, addr: addr, handler: handler, origInsn: orig, insnLen: length, kind: kind}

	if kind == Execute {
		page, err := e.os.MapUserExecPage(pid)
		if err != nil {
			return err
		}
		buf := &InstructionBuffer{page: page, os: e.os}
		buf.CopyIn(0, orig)
		planted := make([]byte, BreakpointLength)
		binary.LittleEndian.PutUint16(planted, CompressedEbreak)
		buf.CopyIn(length, planted)
		rp.buf = buf
	}

	if err := e.os.MakeUserPageWritable(pid, addr); err != nil {
		return err
	}
	ebreak := make([]byte, BreakpointLength)
	binary.LittleEndian.PutUint16(ebreak, CompressedEbreak)
	e.text.Write(addr, ebreak)

	e.probes[addr] = rp
	return nil
}

// Unregister disarms the uprobe at addr, restoring the original
// instruction in the target process's text.
func (e *UProbeEngine) Unregister(addr uintptr) error {
	rp, ok := e.probes[addr]
	if !ok {
		return bpferror.ENOENT
	}
	if err := e.os.MakeUserPageWritable(rp.pid, addr); err != nil {
		return err
	}
	e.text.Write(addr, rp.origInsn)
	if rp.buf != nil {
		if err := rp.buf.Close(); err != nil {
			return err
		}
	}
	delete(e.probes, addr)
	return nil
}

// Trap handles a breakpoint trap at frame.Pc in the target process's
// address space, identical dispatch to KProbeEngine's own-address case
// since the sync-function variant does not single-step past a second,
// follow-on trap the way kernel execute-out-of-line does.
func (e *UProbeEngine) Trap(frame *TrapFrame) bool {
	addr := uintptr(frame.Pc)
	rp, ok := e.probes[addr]
	if !ok {
		return false
	}

	rp.handler(frame, addr)
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
	case Execute:
		frame.SetPC(uint64(rp.buf.Addr()))
	}
	return true
}

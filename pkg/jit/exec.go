// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Executable is a compiled program mapped into memory the CPU may
// execute directly, the Go-side analog of the original's
// transmute::<*const u32, JitedFn> cast.
type Executable struct {
	mem []byte
}

// Load maps code into an executable page. The returned Executable owns
// the mapping; call Release when the program is unloaded.
func Load(code []byte) (*Executable, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: empty program")
	}
	size := (len(code) + unix.Getpagesize() - 1) &^ (unix.Getpagesize() - 1)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}
	return &Executable{mem: mem}, nil
}

// Release unmaps the executable's backing pages.
func (e *Executable) Release() error {
	return unix.Munmap(e.mem)
}

// Run invokes the compiled program with r1 set to ctx, returning r0.
//
// On riscv64 this jumps directly into the mapped code via callCompiled
// (call_riscv64.s). On every other GOARCH -- this teaching kernel's
// programs are never JITed to any other architecture -- Run returns
// ErrUnsupportedArch.
func (e *Executable) Run(ctx uintptr) (uint64, error) {
	return runCompiled(e.mem, ctx)
}

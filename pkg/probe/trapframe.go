// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package probe implements the breakpoint-based kprobe, kretprobe and
// uprobe engines: arming/disarming trap sites, the single-step
// instruction buffer and breakpoint pool, and RISC-V instruction
// classification for execute-out-of-line vs. emulate.
package probe

// TrapFrame is the saved register state a trap handler receives, RISC-V
// registers x0-x31 plus the trapping pc (sepc). x0 is hardwired to zero
// exactly as the ISA defines it.
type TrapFrame struct {
	X    [32]uint64
	Pc   uint64
}

// Reg reads general-purpose register i (x0 always reads as 0).
func (f *TrapFrame) Reg(i int) uint64 {
	if i == 0 {
		return 0
	}
	return f.X[i]
}

// SetReg writes general-purpose register i (writes to x0 are discarded).
func (f *TrapFrame) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	f.X[i] = v
}

// RA is the return-address register, x1.
func (f *TrapFrame) RA() uint64 { return f.Reg(1) }

// SetRA sets x1.
func (f *TrapFrame) SetRA(v uint64) { f.SetReg(1, v) }

// SetPC sets the trapping pc the handler will resume at.
func (f *TrapFrame) SetPC(v uint64) { f.Pc = v }

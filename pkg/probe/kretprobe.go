// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"sync"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// KRetProbeArgs configures a kretprobe: a hidden kprobe at EntryAddr
// redirects the return address to a breakpoint-pool trampoline slot,
// and ReturnHandler fires when that slot traps.
type KRetProbeArgs struct {
	EntryAddr     uintptr
	EntryHandler  Handler // may be nil
	ReturnHandler Handler // may be nil
	MaxInstances  int
}

type kretprobeInstance struct {
	savedRA   uint64
	entryAddr uintptr
}

// KRetProbe is one registered return probe: its configuration plus the
// in-flight call instances currently using a trampoline slot.
type KRetProbe struct {
	args         KRetProbeArgs
	instancesMu  sync.Mutex
	instances    map[uintptr]*kretprobeInstance
	missCount    uint64
}

// KRetProbeEngine layers return-probe semantics on top of a
// KProbeEngine and a shared BreakpointPool.
//
// Lock ordering: wherever both are held (the trampoline trap handler,
// Unregister, MissCount) the probes map (mu) is locked before any single
// KRetProbe's instance map (instancesMu); the entry pre-handler takes
// only instancesMu. This avoids the deadlock the original
// kretprobe_trap_handler's comment calls out explicitly.
type KRetProbeEngine struct {
	mu      sync.Mutex
	probes  map[uintptr]*KRetProbe
	kprobes *KProbeEngine
	pool    *BreakpointPool
}

// NewKRetProbeEngine returns an engine sharing kprobes and pool with
// whatever else in the kernel uses them.
func NewKRetProbeEngine(kprobes *KProbeEngine, pool *BreakpointPool) *KRetProbeEngine {
	return &KRetProbeEngine{
		probes:  make(map[uintptr]*KRetProbe),
		kprobes: kprobes,
		pool:    pool,
	}
}

// Register arms a kretprobe: args.MaxInstances bounds how many
// concurrent/recursive calls can be tracked at once; calls beyond that
// bound increment MissCount and run without a return hook.
func (e *KRetProbeEngine) Register(args KRetProbeArgs) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.probes[args.EntryAddr]; exists {
		return bpferror.EEXIST
	}
	if args.MaxInstances <= 0 {
		return bpferror.EINVAL
	}

	krp := &KRetProbe{args: args, instances: make(map[uintptr]*kretprobeInstance)}
	if err := e.kprobes.Register(args.EntryAddr, e.preHandler(krp), nil); err != nil {
		return err
	}
	e.probes[args.EntryAddr] = krp
	return nil
}

// preHandler runs at the hidden entry kprobe: it reserves a trampoline
// slot and redirects the return address to it.
func (e *KRetProbeEngine) preHandler(krp *KRetProbe) Handler {
	return func(frame *TrapFrame, addr uintptr) {
		krp.instancesMu.Lock()
		defer krp.instancesMu.Unlock()

		if len(krp.instances) >= krp.args.MaxInstances {
			krp.missCount++
			return
		}
		slot, err := e.pool.Alloc()
		if err != nil {
			krp.missCount++
			return
		}
		krp.instances[slot] = &kretprobeInstance{savedRA: frame.RA(), entryAddr: addr}
		if krp.args.EntryHandler != nil {
			krp.args.EntryHandler(frame, addr)
		}
		frame.SetRA(uint64(slot))
	}
}

// Trap handles a breakpoint trap at frame.Pc, returning true if it
// lands on one of this engine's trampoline slots. The kprobe dispatch
// chain tries KProbeEngine.Trap first and falls back to this, matching
// kprobes_breakpoint_handler's try-kprobe-then-kretprobe order.
func (e *KRetProbeEngine) Trap(frame *TrapFrame) bool {
	addr := uintptr(frame.Pc)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, krp := range e.probes {
		krp.instancesMu.Lock()
		inst, ok := krp.instances[addr]
		if !ok {
			krp.instancesMu.Unlock()
			continue
		}
		delete(krp.instances, addr)
		krp.instancesMu.Unlock()

		if krp.args.ReturnHandler != nil {
			krp.args.ReturnHandler(frame, addr)
		}
		frame.SetPC(inst.savedRA)
		frame.SetRA(inst.savedRA)
		e.pool.Free(addr)
		return true
	}
	return false
}

// Unregister disarms the hidden entry kprobe and releases any
// trampoline slots still in flight (from calls that had not returned
// yet).
func (e *KRetProbeEngine) Unregister(entryAddr uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	krp, ok := e.probes[entryAddr]
	if !ok {
		return bpferror.ENOENT
	}
	if err := e.kprobes.Unregister(entryAddr); err != nil {
		return err
	}

	krp.instancesMu.Lock()
	for slot := range krp.instances {
		e.pool.Free(slot)
	}
	krp.instancesMu.Unlock()

	delete(e.probes, entryAddr)
	return nil
}

// MissCount reports how many entries to entryAddr ran without a return
// hook because no trampoline slot was available.
func (e *KRetProbeEngine) MissCount(entryAddr uintptr) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	krp, ok := e.probes[entryAddr]
	if !ok {
		return 0, false
	}
	krp.instancesMu.Lock()
	defer krp.instancesMu.Unlock()
	return krp.missCount, true
}

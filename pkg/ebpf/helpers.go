// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"fmt"
	"math/rand/v2"
	"unsafe"

	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// HelperFunc is the signature every slot of the helper table has: five
// generic 64-bit arguments in, one 64-bit return value out, matching the
// eBPF calling convention (r1..r5 in, r0 out).
type HelperFunc func(r1, r2, r3, r4, r5 uint64) uint64

// noop is the behavior of every unimplemented helper slot: return 0.
func noop(r1, r2, r3, r4, r5 uint64) uint64 { return 0 }

// HelperTable is the fixed 17-slot table of helper functions a JITed
// program can call by index. Only a handful of slots are implemented;
// the rest are no-ops, matching the source kernel's stated slot layout.
type HelperTable struct {
	fns [HelperFnCount]HelperFunc
	os  osabi.OS
}

// NewHelperTable builds the table bound to the given OS collaborator.
// Slots 1 (map_lookup_elem), 2 (map_update_elem), 3 (map_delete_elem) —
// whose first argument is the address of a map-fd-table slot, not an fd
// directly, so each dereferences it via derefMapFd before doing the
// lookup — 5 (ktime_get_ns), 6 (trace_printk), 7 (get_prandom_u32), 8
// (get_smp_processor_id), 14 (get_current_pid_tgid) and 16
// (get_current_comm) are implemented; every other slot is a no-op.
func NewHelperTable(os osabi.OS, lookupMap func(mapFd uint64) (Map, bool)) *HelperTable {
	t := &HelperTable{os: os}
	for i := range t.fns {
		t.fns[i] = noop
	}

	t.fns[1] = func(mapFdAddr, key, _, _, _ uint64) uint64 {
		m, ok := lookupMap(derefMapFd(mapFdAddr))
		if !ok {
			return 0
		}
		keyBytes := bytesFromPtr(uintptr(key), m.Attr().KeySize)
		ptr, ok := m.LookupHelper(keyBytes)
		if !ok {
			return 0
		}
		return uint64(uintptr(ptr))
	}

	t.fns[2] = func(mapFdAddr, key, value, flags, _ uint64) uint64 {
		m, ok := lookupMap(derefMapFd(mapFdAddr))
		if !ok {
			return errHelperResult
		}
		keyBytes := bytesFromPtr(uintptr(key), m.Attr().KeySize)
		valBytes := bytesFromPtr(uintptr(value), m.Attr().ValueSize)
		if err := m.Update(keyBytes, valBytes, UpdateFlag(flags)); err != nil {
			return errHelperResult
		}
		return 0
	}

	t.fns[3] = func(mapFdAddr, key, _, _, _ uint64) uint64 {
		m, ok := lookupMap(derefMapFd(mapFdAddr))
		if !ok {
			return errHelperResult
		}
		keyBytes := bytesFromPtr(uintptr(key), m.Attr().KeySize)
		if err := m.Delete(keyBytes); err != nil {
			return errHelperResult
		}
		return 0
	}

	t.fns[5] = func(_, _, _, _, _ uint64) uint64 {
		return t.os.NowNanos()
	}

	t.fns[6] = func(fmtAddr, fmtLen, _, _, _ uint64) uint64 {
		s := stringFromPtr(uintptr(fmtAddr), int(fmtLen))
		t.os.ConsoleWrite(s)
		return uint64(len(s))
	}

	// Resolves the spec's "get_prandom_u32 left unimplemented" open
	// question: produce a fresh pseudorandom value instead of panicking.
	t.fns[7] = func(_, _, _, _, _ uint64) uint64 {
		return uint64(rand.Uint32())
	}

	t.fns[8] = func(_, _, _, _, _ uint64) uint64 {
		return uint64(t.os.CurrentCPU())
	}

	t.fns[14] = func(_, _, _, _, _ uint64) uint64 {
		task := t.os.CurrentThread()
		return uint64(task.Tgid)<<32 | uint64(task.Pid)
	}

	t.fns[16] = func(bufAddr, bufLen, _, _, _ uint64) uint64 {
		task := t.os.CurrentThread()
		comm := task.Comm
		if len(comm) > int(bufLen) {
			comm = comm[:bufLen]
		}
		dst := bytesFromPtr(uintptr(bufAddr), uint32(len(comm)))
		copy(dst, comm)
		return 0
	}

	return t
}

// errHelperResult is the sentinel a JITed caller treats as "helper call
// failed"; bpf_map_update_elem/bpf_map_delete_elem return a negative
// value on failure in the original, here all-ones as the unsigned
// bit-pattern of -1.
const errHelperResult = ^uint64(0)

// Call invokes the helper at idx. Calling an out-of-range slot is a
// loader/JIT bug, not a runtime condition this subsystem needs to model
// gracefully, so it panics with a descriptive message.
func (t *HelperTable) Call(idx int32, r1, r2, r3, r4, r5 uint64) uint64 {
	if idx < 0 || int(idx) >= len(t.fns) {
		panic(fmt.Sprintf("ebpf: helper index %d out of range", idx))
	}
	return t.fns[idx](r1, r2, r3, r4, r5)
}

// derefMapFd reads the fd stored at addr, the map-fd-table slot address
// the loader patched into the JITed LD_IMM64 in place of the fd itself
// (see program.go's applyRelocations); a zero address dereferences to
// an fd no map was ever assigned, which lookupMap rejects the same as
// any other unknown handle.
func derefMapFd(addr uint64) uint64 {
	if addr == 0 {
		return 0
	}
	return uint64(*(*uint32)(unsafe.Pointer(uintptr(addr))))
}

func bytesFromPtr(addr uintptr, length uint32) []byte {
	if addr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

func stringFromPtr(addr uintptr, length int) string {
	if addr == 0 || length <= 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(addr)), length))
}

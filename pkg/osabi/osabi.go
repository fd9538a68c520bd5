// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package osabi defines the boundary between the eBPF subsystem and the
// surrounding kernel: the MMU/page allocator, the current-task
// abstraction, the console, and the timer. These are out of scope for
// this subsystem (see the Non-goals) and are represented here only as
// the interface the original isolates behind its os_* call wrappers.
package osabi

// CurrentTask describes the thread the eBPF subsystem is presently
// running on behalf of, for the bpf_get_current_pid_tgid and
// bpf_get_current_comm helpers.
type CurrentTask struct {
	Pid  uint32
	Tgid uint32
	Comm string
}

// Page is an allocator-owned page of memory, identified by its base
// address and backed by a byte slice the caller may read or write
// in-place.
type Page struct {
	Addr  uintptr
	Bytes []byte
}

// OS is the collaborator interface this subsystem depends on but does
// not implement. pkg/osabi/sim provides a software-simulated instance
// for testing; a real kernel build supplies its own.
type OS interface {
	// CurrentThread returns the task the calling goroutine represents.
	CurrentThread() CurrentTask

	// NowNanos returns a monotonically increasing nanosecond clock
	// reading, for bpf_ktime_get_ns.
	NowNanos() uint64

	// ConsoleWrite emits s to the kernel console, for bpf_trace_printk.
	ConsoleWrite(s string)

	// CurrentCPU returns the index of the CPU the caller is running on,
	// for bpf_get_smp_processor_id.
	CurrentCPU() uint32

	// CopyFromUser reads length bytes from a user-space address into a
	// fresh kernel-owned buffer, the facade's equivalent of the
	// original's user-buffer translation step for attribute pointers.
	CopyFromUser(addr uintptr, length int) ([]byte, error)

	// CopyToUser writes data to a user-space address.
	CopyToUser(addr uintptr, data []byte) error

	// AllocPage allocates one kernel page for the instruction buffer /
	// breakpoint pool.
	AllocPage() (*Page, error)

	// FreePage releases a page returned by AllocPage.
	FreePage(p *Page) error

	// MapUserExecPage maps a fresh read-write-execute page into the
	// target process at pid, for a uprobe's user-space instruction
	// buffer (see ruprobes in the original kernel).
	MapUserExecPage(pid uint32) (*Page, error)

	// MakeUserPageWritable temporarily remaps the page containing addr
	// in the target process as writable, so a uprobe's breakpoint can
	// be patched into otherwise read-execute-only text.
	MakeUserPageWritable(pid uint32, addr uintptr) error
}

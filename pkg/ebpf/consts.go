// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ebpf implements the kernel-side eBPF subsystem: the object
// registry, the Array and Hash map engines, the fixed helper-function
// table, the relocating ELF program loader, the tracepoint registry and
// the bpf() syscall facade.
package ebpf

// Command is the bpf() syscall command number, mirroring the Linux
// bpf(2) subset this subsystem implements.
type Command int32

// Commands understood by the facade. PROG_LOAD is reserved and rejected;
// program loading in this kernel always goes through PROG_LOAD_EX.
const (
	MapCreate     Command = 0
	MapLookupElem Command = 1
	MapUpdateElem Command = 2
	MapDeleteElem Command = 3
	MapGetNextKey Command = 4
	ProgLoad      Command = 5 // reserved, unimplemented
	ProgAttach    Command = 8
	ProgDetach    Command = 9
	ProgLoadEx    Command = 1000
)

// MapType selects the map engine backing a given map.
type MapType int32

const (
	MapTypeHash  MapType = 1
	MapTypeArray MapType = 2
)

// UpdateFlag governs MapUpdateElem's create/replace semantics.
type UpdateFlag int64

const (
	UpdateAny     UpdateFlag = 0
	UpdateNoExist UpdateFlag = 1
	UpdateExist   UpdateFlag = 2
)

// RelocKind is the ELF relocation type this loader understands. Any
// other relocation type is ignored, matching the original loader.
type RelocKind int64

const (
	RelocNone  RelocKind = 0
	RelocBPF64 RelocKind = 1  // R_BPF_64_64: full 64-bit LD_IMM64 patch
	Reloc32    RelocKind = 10 // R_BPF_64_32: 32-bit immediate patch
)

// HelperFnCount is the fixed size of the helper-function table.
const HelperFnCount = 17

// FdBase is the first handle ever allocated; handles increase
// monotonically from here for the lifetime of the kernel instance.
const FdBase uint32 = 0x70000000

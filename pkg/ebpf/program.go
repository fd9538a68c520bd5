// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf/asm"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
	"github.com/DataDog/ebpf-kernel/pkg/jit"
	"github.com/DataDog/ebpf-kernel/pkg/util/log"
)

// pseudoMapFD marks an LD_IMM64 instruction's source register to say
// its immediate is a map file descriptor rather than a raw constant,
// the same BPF_PSEUDO_MAP_FD convention the real bpf() ABI uses.
const pseudoMapFD asm.Register = 1

// ProgramObject is a loaded, relocated and JITed eBPF program.
type ProgramObject struct {
	Name        string
	SectionName string
	Insns       asm.Instructions
	MapFDs      []uint32
	Compiled    *jit.Compiled
	exec        *jit.Executable
}

// MapFdEntry names one map a program's relocations may reference, paired
// with the fd the caller already obtained from a prior MAP_CREATE. The
// registry does not index maps by name itself (handles are the only
// identity it knows), so callers supply this list directly, mirroring
// the original's `map_info: &[(String, u32)]` loader argument.
type MapFdEntry struct {
	Name string
	FD   uint32
}

// LoadProgramEx parses a relocatable ELF object, builds an
// address-stable map-fd table from mapInfo, resolves every
// `.rel<section>` entry that names one of those maps, patches the two
// relocation kinds this loader understands into the program's
// instruction stream, and hands the result to the architecture JIT.
//
// This mirrors bpf_program_load_ex in the original: the map-fd table is
// built up front from the caller-supplied (name, fd) pairs, each
// relocation site is resolved to the table slot its symbol names, and
// the slot's address — not its value — is what gets patched into the
// LD_IMM64 the relocation targets, since JITed code holds pointers into
// the table rather than the fd itself.
func LoadProgramEx(elfBytes []byte, mapInfo []MapFdEntry, helpers jit.HelperCaller) (*ProgramObject, error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, bpferror.EINVAL
	}
	defer f.Close()

	textSection := findProgramSection(f)
	if textSection == nil {
		return nil, bpferror.EINVAL
	}

	raw, err := textSection.Data()
	if err != nil {
		return nil, bpferror.EINVAL
	}

	var insns asm.Instructions
	if err := insns.Unmarshal(bytes.NewReader(raw), binary.LittleEndian); err != nil {
		return nil, bpferror.EINVAL
	}

	// map_fd_table: built once, in full, before any slot address is
	// taken, so its backing array never reallocates out from under a
	// relocation that already patched a pointer into it.
	mapFDs := make([]uint32, len(mapInfo))
	for i, e := range mapInfo {
		mapFDs[i] = e.FD
	}

	symbols, err := f.Symbols()
	if err != nil {
		// A program with no map references at all has no symbol
		// table; that's a program with nothing to relocate, not
		// malformed input.
		symbols = nil
	}

	symIdxToSlot := make(map[int]int)
	resolved := make(map[string]bool)
	for symIdx, sym := range symbols {
		for slot, e := range mapInfo {
			if sym.Name == e.Name {
				// f.Symbols() omits the null symbol at ELF index 0, so
				// list position i is symbol-table index i+1.
				symIdxToSlot[symIdx+1] = slot
				resolved[e.Name] = true
			}
		}
	}
	if len(resolved) != len(mapInfo) {
		return nil, bpferror.ENOENT
	}

	relSection := findRelocationSection(f, textSection)
	if relSection != nil {
		if err := applyRelocations(relSection, symIdxToSlot, insns, mapFDs); err != nil {
			return nil, err
		}
	}

	compiled, err := jit.Compile(insns, helpers)
	if err != nil {
		log.Warnf("ebpf: jit compile failed for %s: %v", textSection.Name, err)
		return nil, bpferror.EINVAL
	}

	return &ProgramObject{
		Name:        programName(f),
		SectionName: textSection.Name,
		Insns:       insns,
		MapFDs:      mapFDs,
		Compiled:    compiled,
	}, nil
}

func findProgramSection(f *elf.File) *elf.Section {
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_PROGBITS && sec.Flags&elf.SHF_EXECINSTR != 0 {
			return sec
		}
	}
	return nil
}

func findRelocationSection(f *elf.File, text *elf.Section) *elf.Section {
	want := ".rel" + text.Name
	for _, sec := range f.Sections {
		if sec.Name == want {
			return sec
		}
	}
	return nil
}

// applyRelocations patches each REL entry in relSection into insns. A
// relocation whose symbol was resolved to a map-fd-table slot is
// patched with that slot's address as the LD_IMM64's full 64-bit
// constant, which the JIT loads into the destination register as is —
// not the fd value itself, since JITed code is
// expected to dereference the pointer at call time.
func applyRelocations(relSection *elf.Section, symIdxToSlot map[int]int, insns asm.Instructions, mapFDs []uint32) error {
	data, err := relSection.Data()
	if err != nil {
		return bpferror.EINVAL
	}

	const relEntrySize = 16 // Elf64_Rel: r_offset (8) + r_info (8)
	for off := 0; off+relEntrySize <= len(data); off += relEntrySize {
		rOffset := binary.LittleEndian.Uint64(data[off:])
		rInfo := binary.LittleEndian.Uint64(data[off+8:])
		symIdx := int(rInfo >> 32)
		relType := RelocKind(rInfo & 0xffffffff)

		if relType != RelocBPF64 && relType != Reloc32 {
			continue // only R_BPF_64_64 and R_BPF_64_32 are understood
		}
		slot, ok := symIdxToSlot[symIdx]
		if !ok {
			continue // not a map symbol
		}

		// rOffset is a byte offset into the .text section. Instructions
		// are 8 bytes except LD_IMM64, which the decoder keeps as one
		// 16-byte instruction, so walk the sizes to find the target.
		insnIdx, pos := 0, uint64(0)
		for insnIdx < len(insns) && pos < rOffset {
			pos += insns[insnIdx].Size()
			insnIdx++
		}
		if insnIdx >= len(insns) || pos != rOffset {
			return bpferror.EINVAL
		}

		addr := uint64(uintptr(unsafe.Pointer(&mapFDs[slot])))
		switch relType {
		case RelocBPF64:
			// Marks the source register to say this LD_IMM64 carries
			// a map-fd-table slot address, the same BPF_PSEUDO_MAP_FD
			// convention the real bpf() ABI uses.
			insns[insnIdx].Src = pseudoMapFD
			insns[insnIdx].Constant = int64(addr)
		case Reloc32:
			insns[insnIdx].Constant = int64(uint32(addr/8 - 1))
		}
	}
	return nil
}

func programName(f *elf.File) string {
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_PROGBITS && sec.Flags&elf.SHF_EXECINSTR != 0 {
			return sec.Name
		}
	}
	return "unknown"
}

// Load maps the compiled machine code into an executable page. Safe to
// call more than once; each call produces an independent mapping.
func (p *ProgramObject) Load() error {
	exec, err := jit.Load(p.Compiled.Code)
	if err != nil {
		return err
	}
	p.exec = exec
	return nil
}

// Run executes the program with ctx as its single argument (r1),
// returning r0. Load must have been called first.
func (p *ProgramObject) Run(ctx uintptr) (uint64, error) {
	if p.exec == nil {
		return 0, fmt.Errorf("ebpf: program %s not loaded", p.Name)
	}
	return p.exec.Run(ctx)
}

// Unload releases the program's executable mapping.
func (p *ProgramObject) Unload() error {
	if p.exec == nil {
		return nil
	}
	err := p.exec.Release()
	p.exec = nil
	return err
}

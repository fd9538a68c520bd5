// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"fmt"
	"os"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf"
)

// wireProgLoadExAttr mirrors progLoadExAttr's documented field order:
// elf_prog, elf_size, map_array_len, map_array.
type wireProgLoadExAttr struct {
	ElfPtr      uint64
	ElfLen      uint32
	MapArrayLen uint32
	MapArrayPtr uint64
}

// wireMapFdEntry mirrors mapFdEntryWire: a NUL-terminated name pointer
// paired with the fd it resolves to.
type wireMapFdEntry struct {
	NamePtr uint64
	FD      uint32
	_       uint32
}

// maxMapSymbolNameLen mirrors pkg/ebpf/syscall.go's bound on how much of
// a MapFdEntry's name the kernel will read.
const maxMapSymbolNameLen = 64

type wireAttachAttr struct {
	ProgFd    uint32
	_         uint32
	TargetPtr uint64
	TargetLen uint64
}

func (st *state) dispatchProg(verb string, args []string) error {
	switch verb {
	case "load":
		return st.progLoad(args)
	case "attach":
		return st.progAttach(args)
	case "detach":
		return st.progDetach(args)
	default:
		return fmt.Errorf("unknown prog verb %q", verb)
	}
}

func (st *state) progLoad(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: prog load <elf_path> <name> [map_name...]")
	}
	elfBytes, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	name := args[1]
	mapNames := args[2:]

	mapArray, err := st.buildMapArray(mapNames)
	if err != nil {
		return err
	}
	mapArrayBytes := encodeWire(mapArray)

	a := wireProgLoadExAttr{
		ElfPtr:      addrOf(elfBytes),
		ElfLen:      uint32(len(elfBytes)),
		MapArrayLen: uint32(len(mapArray)),
		MapArrayPtr: addrOf(mapArrayBytes),
	}
	attr := encodeWire(a)
	fd := st.kernel.Bpf(ebpf.ProgLoadEx, attr, uint32(len(attr)))
	if fd < 0 {
		return fmt.Errorf("PROG_LOAD_EX failed")
	}
	st.progs[name] = uint32(fd)
	st.printf("prog %s loaded, fd=%d\n", name, fd)
	return nil
}

// buildMapArray resolves each map name a script's "prog load" line
// names against st.maps (the fds this script's own "map create" lines
// already obtained) into the (name, fd) pairs PROG_LOAD_EX's attribute
// carries inline — there is no kernel-side map-name table to consult.
func (st *state) buildMapArray(mapNames []string) ([]wireMapFdEntry, error) {
	if len(mapNames) == 0 {
		return nil, nil
	}
	entries := make([]wireMapFdEntry, len(mapNames))
	for i, name := range mapNames {
		if len(name) >= maxMapSymbolNameLen {
			return nil, fmt.Errorf("map name %q too long (max %d bytes)", name, maxMapSymbolNameLen-1)
		}
		info, ok := st.maps[name]
		if !ok {
			return nil, fmt.Errorf("no such map %q", name)
		}
		nameBuf := make([]byte, maxMapSymbolNameLen)
		copy(nameBuf, name)
		entries[i] = wireMapFdEntry{NamePtr: addrOf(nameBuf), FD: info.fd}
	}
	return entries, nil
}

func (st *state) progAttach(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: prog attach <name> <target>")
	}
	fd, ok := st.progs[args[0]]
	if !ok {
		return fmt.Errorf("no such program %q", args[0])
	}
	target := append([]byte(args[1]), 0)

	a := wireAttachAttr{ProgFd: fd, TargetPtr: addrOf(target), TargetLen: uint64(len(target))}
	attr := encodeWire(a)
	if ret := st.kernel.Bpf(ebpf.ProgAttach, attr, uint32(len(attr))); ret < 0 {
		return fmt.Errorf("PROG_ATTACH failed")
	}
	st.printf("prog %s attached to %s\n", args[0], args[1])
	return nil
}

func (st *state) progDetach(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: prog detach <name> <target>")
	}
	fd, ok := st.progs[args[0]]
	if !ok {
		return fmt.Errorf("no such program %q", args[0])
	}
	target := append([]byte(args[1]), 0)

	a := wireAttachAttr{ProgFd: fd, TargetPtr: addrOf(target), TargetLen: uint64(len(target))}
	attr := encodeWire(a)
	if ret := st.kernel.Bpf(ebpf.ProgDetach, attr, uint32(len(attr))); ret < 0 {
		return fmt.Errorf("PROG_DETACH failed")
	}
	st.printf("prog %s detached from %s\n", args[0], args[1])
	return nil
}

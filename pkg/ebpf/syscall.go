// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"encoding/binary"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
	"github.com/DataDog/ebpf-kernel/pkg/util/log"
)

// Wire attribute layouts for the bpf() facade. Every command reads a
// fixed-size struct out of attr; unused trailing bytes are ignored,
// matching the real bpf(2) union-of-structs convention.

// mapCreateAttr is the wire form of MAP_CREATE's attribute union.
type mapCreateAttr struct {
	MapType    uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// mapOpAttr is the wire form shared by MAP_LOOKUP_ELEM, MAP_UPDATE_ELEM,
// MAP_DELETE_ELEM and MAP_GET_NEXT_KEY, matching MapOpAttr's documented
// field order: map_fd, key, value_or_nextkey, flags.
type mapOpAttr struct {
	MapFd          uint32
	_              uint32 // padding to the next field's natural 8-byte alignment
	Key            uint64
	ValueOrNextKey uint64 // value on update, next-key output buffer on get-next-key
	Flags          uint64
}

// progLoadExAttr is the wire form of PROG_LOAD_EX, matching
// ProgramLoadExAttr: elf_prog, elf_size, map_array_len, map_array.
type progLoadExAttr struct {
	ElfPtr      uint64
	ElfLen      uint32
	MapArrayLen uint32
	MapArrayPtr uint64
}

// mapFdEntryWire is the wire form of MapFdEntry: a user string pointer
// naming the map symbol, paired with the fd it resolves to.
type mapFdEntryWire struct {
	NamePtr uint64
	FD      uint32
	_       uint32
}

// maxMapSymbolNameLen bounds how many bytes are read from a MapFdEntry's
// name pointer before giving up on finding its NUL terminator.
const maxMapSymbolNameLen = 64

// attachAttr is the wire form shared by PROG_ATTACH and PROG_DETACH.
type attachAttr struct {
	ProgFd    uint32
	_         uint32
	TargetPtr uint64
	TargetLen uint64
}

func decodeAttr(attr []byte, size uint32, out interface{}) error {
	if uint32(len(attr)) < size {
		return bpferror.EINVAL
	}
	return binary.Read(boundedReader{attr}, binary.LittleEndian, out)
}

type boundedReader struct{ b []byte }

func (r boundedReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	return n, nil
}

// Bpf is the single entry point the facade exposes, mirroring the
// original's sys_bpf(cmd, attr, size): it dispatches on cmd, decodes the
// matching attribute struct, and converts every error to -1. The
// concrete errno is only visible through logging at this boundary, the
// same policy osutil.rs::convert_result applies.
func (k *Kernel) Bpf(cmd Command, attr []byte, size uint32) int32 {
	ret, err := k.dispatch(cmd, attr, size)
	if err != nil {
		if code, ok := bpferror.FromError(err); ok {
			log.Warnf("ebpf: bpf(%d) failed: %s", cmd, code)
		} else {
			log.Warnf("ebpf: bpf(%d) failed: %v", cmd, err)
		}
		k.Telemetry.recordError(cmd, err)
		return -1
	}
	return ret
}

func (k *Kernel) dispatch(cmd Command, attr []byte, size uint32) (int32, error) {
	switch cmd {
	case MapCreate:
		return k.sysMapCreate(attr, size)
	case MapLookupElem:
		return k.sysMapLookup(attr, size)
	case MapUpdateElem:
		return k.sysMapUpdate(attr, size)
	case MapDeleteElem:
		return k.sysMapDelete(attr, size)
	case MapGetNextKey:
		return k.sysMapNextKey(attr, size)
	case ProgLoad:
		return 0, bpferror.EINVAL // reserved, never implemented
	case ProgLoadEx:
		return k.sysProgLoadEx(attr, size)
	case ProgAttach:
		return k.sysProgAttach(attr, size)
	case ProgDetach:
		return k.sysProgDetach(attr, size)
	default:
		return 0, bpferror.EINVAL
	}
}

func (k *Kernel) sysMapCreate(attr []byte, size uint32) (int32, error) {
	var a mapCreateAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	mattr := MapAttr{MapType: MapType(a.MapType), KeySize: a.KeySize, ValueSize: a.ValueSize, MaxEntries: a.MaxEntries}

	var m Map
	var err error
	switch mattr.MapType {
	case MapTypeArray:
		m, err = NewArrayMap(mattr)
	case MapTypeHash:
		m, err = NewHashMap(mattr)
	default:
		return 0, bpferror.EINVAL
	}
	if err != nil {
		return 0, err
	}

	fd := k.Registry.Insert(newMapObject(m))
	return int32(fd), nil
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (k *Kernel) readUserBytes(ptr uint64, length int) ([]byte, error) {
	return k.os.CopyFromUser(uintptr(ptr), length)
}

func (k *Kernel) sysMapLookup(attr []byte, size uint32) (int32, error) {
	var a mapOpAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	m, err := k.Registry.LookupMap(a.MapFd)
	if err != nil {
		return 0, err
	}
	key, err := k.readUserBytes(a.Key, int(m.Attr().KeySize))
	if err != nil {
		return 0, err
	}
	value, err := m.Lookup(key)
	if err != nil {
		return 0, err
	}
	if err := k.os.CopyToUser(uintptr(a.ValueOrNextKey), value); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysMapUpdate(attr []byte, size uint32) (int32, error) {
	var a mapOpAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	m, err := k.Registry.LookupMap(a.MapFd)
	if err != nil {
		return 0, err
	}
	key, err := k.readUserBytes(a.Key, int(m.Attr().KeySize))
	if err != nil {
		return 0, err
	}
	value, err := k.readUserBytes(a.ValueOrNextKey, int(m.Attr().ValueSize))
	if err != nil {
		return 0, err
	}
	if err := m.Update(key, value, UpdateFlag(a.Flags)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysMapDelete(attr []byte, size uint32) (int32, error) {
	var a mapOpAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	m, err := k.Registry.LookupMap(a.MapFd)
	if err != nil {
		return 0, err
	}
	key, err := k.readUserBytes(a.Key, int(m.Attr().KeySize))
	if err != nil {
		return 0, err
	}
	if err := m.Delete(key); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysMapNextKey(attr []byte, size uint32) (int32, error) {
	var a mapOpAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	m, err := k.Registry.LookupMap(a.MapFd)
	if err != nil {
		return 0, err
	}
	var key []byte
	if a.Key != 0 {
		key, err = k.readUserBytes(a.Key, int(m.Attr().KeySize))
		if err != nil {
			return 0, err
		}
	}
	next, err := m.NextKey(key)
	if err != nil {
		return 0, err
	}
	if err := k.os.CopyToUser(uintptr(a.ValueOrNextKey), next); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysProgLoadEx(attr []byte, size uint32) (int32, error) {
	var a progLoadExAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	elfBytes, err := k.readUserBytes(a.ElfPtr, int(a.ElfLen))
	if err != nil {
		return 0, err
	}
	mapInfo, err := k.readMapFdEntries(a.MapArrayPtr, int(a.MapArrayLen))
	if err != nil {
		return 0, err
	}
	prog, err := LoadProgramEx(elfBytes, mapInfo, stubHelperAddr{k})
	if err != nil {
		return 0, err
	}
	if err := prog.Load(); err != nil {
		return 0, bpferror.EINVAL
	}
	fd := k.Registry.Insert(prog)
	return int32(fd), nil
}

// readMapFdEntries copies map_array_len MapFdEntry records out of user
// space and resolves each entry's name pointer into a string, yielding
// the (map_symbol_name, fd) pairs LoadProgramEx relocates against.
func (k *Kernel) readMapFdEntries(ptr uint64, count int) ([]MapFdEntry, error) {
	if count == 0 {
		return nil, nil
	}
	const wireSize = 16 // mapFdEntryWire: 8-byte ptr + 4-byte fd + 4 pad
	raw, err := k.readUserBytes(ptr, count*wireSize)
	if err != nil {
		return nil, err
	}

	entries := make([]MapFdEntry, count)
	for i := 0; i < count; i++ {
		var w mapFdEntryWire
		if err := decodeAttr(raw[i*wireSize:], wireSize, &w); err != nil {
			return nil, err
		}
		nameBytes, err := k.readUserBytes(w.NamePtr, maxMapSymbolNameLen)
		if err != nil {
			return nil, err
		}
		entries[i] = MapFdEntry{Name: nullTerminated(nameBytes), FD: w.FD}
	}
	return entries, nil
}

// stubHelperAddr resolves helper indices to the address of the shared
// dispatch stub wired to k.Helpers. The real address is only meaningful
// once the kernel has mapped a dispatch trampoline; until then this
// returns a sentinel the JIT encodes but which is only ever dereferenced
// on an actual riscv64 target.
type stubHelperAddr struct{ k *Kernel }

func (s stubHelperAddr) StubAddr(idx int32) (uintptr, error) {
	return helperDispatchBase + uintptr(idx)*8, nil
}

// helperDispatchBase is the fixed (simulated) base address the JIT
// targets for every CALL instruction; a real boot image relocates this
// to wherever it maps the helper dispatch trampoline.
const helperDispatchBase = uintptr(0x1000)

func (k *Kernel) sysProgAttach(attr []byte, size uint32) (int32, error) {
	var a attachAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	prog, err := k.Registry.LookupProgram(a.ProgFd)
	if err != nil {
		return 0, err
	}
	targetBytes, err := k.readUserBytes(a.TargetPtr, int(a.TargetLen))
	if err != nil {
		return 0, err
	}
	tp, err := ParseTracepoint(nullTerminated(targetBytes))
	if err != nil {
		return 0, err
	}
	if err := k.Attachments.Attach(tp, prog); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysProgDetach(attr []byte, size uint32) (int32, error) {
	var a attachAttr
	if err := decodeAttr(attr, size, &a); err != nil {
		return 0, err
	}
	prog, err := k.Registry.LookupProgram(a.ProgFd)
	if err != nil {
		return 0, err
	}
	return 0, k.Attachments.Detach(prog)
}

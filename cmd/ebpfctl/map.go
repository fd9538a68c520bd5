// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf"
)

// addrOf exposes a Go byte slice's address the way a userspace caller
// would pass a pointer into bpf(2)'s attr union: this process and the
// simulated kernel it drives share one address space, so the "pointer"
// is simply where the slice already lives.
func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// wireMapCreateAttr mirrors pkg/ebpf/syscall.go's unexported
// mapCreateAttr field-for-field; a CLI is userspace, so it has to
// assemble the same wire bytes a real bpf() caller would, not reach
// into the kernel package's internal types.
type wireMapCreateAttr struct {
	MapType    uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// wireMapOpAttr mirrors mapOpAttr's documented field order: map_fd,
// key, value_or_nextkey, flags.
type wireMapOpAttr struct {
	MapFd          uint32
	_              uint32
	Key            uint64
	ValueOrNextKey uint64
	Flags          uint64
}

func encodeWire(v interface{}) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("ebpfctl: encoding wire attr: %v", err))
	}
	return buf.Bytes()
}

func (st *state) dispatchMap(verb string, args []string) error {
	switch verb {
	case "create":
		return st.mapCreate(args)
	case "update":
		return st.mapUpdate(args)
	case "lookup":
		return st.mapLookup(args)
	case "delete":
		return st.mapDelete(args)
	default:
		return fmt.Errorf("unknown map verb %q", verb)
	}
}

func (st *state) mapCreate(args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: map create <array|hash> <key_size> <value_size> <max_entries> <name>")
	}
	var mtype uint32
	switch args[0] {
	case "array":
		mtype = uint32(ebpf.MapTypeArray)
	case "hash":
		mtype = uint32(ebpf.MapTypeHash)
	default:
		return fmt.Errorf("unknown map type %q", args[0])
	}
	keySize, err := parseUint32(args[1])
	if err != nil {
		return err
	}
	valSize, err := parseUint32(args[2])
	if err != nil {
		return err
	}
	maxEntries, err := parseUint32(args[3])
	if err != nil {
		return err
	}
	name := args[4]

	var a wireMapCreateAttr
	a.MapType, a.KeySize, a.ValueSize, a.MaxEntries = mtype, keySize, valSize, maxEntries
	attr := encodeWire(a)

	fd := st.kernel.Bpf(ebpf.MapCreate, attr, uint32(len(attr)))
	if fd < 0 {
		return fmt.Errorf("MAP_CREATE failed")
	}
	st.maps[name] = mapInfo{fd: uint32(fd), keySize: keySize, valSize: valSize}
	st.printf("map %s created, fd=%d\n", name, fd)
	return nil
}

func (st *state) mapUpdate(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: map update <name> <key_hex> <value_hex> [flags]")
	}
	info, ok := st.maps[args[0]]
	if !ok {
		return fmt.Errorf("no such map %q", args[0])
	}
	key, err := decodeHex(args[1])
	if err != nil {
		return err
	}
	val, err := decodeHex(args[2])
	if err != nil {
		return err
	}
	var flags uint32
	if len(args) == 4 {
		flags, err = parseUint32(args[3])
		if err != nil {
			return err
		}
	}

	a := wireMapOpAttr{MapFd: info.fd, Flags: uint64(flags), Key: addrOf(key), ValueOrNextKey: addrOf(val)}
	attr := encodeWire(a)
	if ret := st.kernel.Bpf(ebpf.MapUpdateElem, attr, uint32(len(attr))); ret < 0 {
		return fmt.Errorf("MAP_UPDATE_ELEM failed")
	}
	st.printf("map %s updated\n", args[0])
	return nil
}

func (st *state) mapLookup(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: map lookup <name> <key_hex>")
	}
	info, ok := st.maps[args[0]]
	if !ok {
		return fmt.Errorf("no such map %q", args[0])
	}
	key, err := decodeHex(args[1])
	if err != nil {
		return err
	}
	out := make([]byte, info.valSize)

	a := wireMapOpAttr{MapFd: info.fd, Key: addrOf(key), ValueOrNextKey: addrOf(out)}
	attr := encodeWire(a)
	if ret := st.kernel.Bpf(ebpf.MapLookupElem, attr, uint32(len(attr))); ret < 0 {
		return fmt.Errorf("MAP_LOOKUP_ELEM failed")
	}
	st.printf("map %s[%s] = %x\n", args[0], args[1], out)
	return nil
}

func (st *state) mapDelete(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: map delete <name> <key_hex>")
	}
	info, ok := st.maps[args[0]]
	if !ok {
		return fmt.Errorf("no such map %q", args[0])
	}
	key, err := decodeHex(args[1])
	if err != nil {
		return err
	}

	a := wireMapOpAttr{MapFd: info.fd, Key: addrOf(key)}
	attr := encodeWire(a)
	if ret := st.kernel.Bpf(ebpf.MapDeleteElem, attr, uint32(len(attr))); ret < 0 {
		return fmt.Errorf("MAP_DELETE_ELEM failed")
	}
	st.printf("map %s[%s] deleted\n", args[0], args[1])
	return nil
}

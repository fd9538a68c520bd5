// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/osabi/sim"
)

func encodeAttr(t *testing.T, v interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	return buf.Bytes()
}

func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func TestBpfMapCreateLookupUpdateDelete(t *testing.T) {
	k := NewKernel(sim.New())

	createAttr := mapCreateAttr{MapType: uint32(MapTypeHash), KeySize: 4, ValueSize: 4, MaxEntries: 8}
	attrBytes := encodeAttr(t, createAttr)
	fd := k.Bpf(MapCreate, attrBytes, uint32(len(attrBytes)))
	require.GreaterOrEqual(t, fd, int32(0))

	key := []byte{1, 0, 0, 0}
	value := []byte{42, 0, 0, 0}

	updateAttr := mapOpAttr{MapFd: uint32(fd), Key: addrOf(key), ValueOrNextKey: addrOf(value), Flags: uint64(UpdateAny)}
	ub := encodeAttr(t, updateAttr)
	assert.Equal(t, int32(0), k.Bpf(MapUpdateElem, ub, uint32(len(ub))))

	out := make([]byte, 4)
	lookupAttr := mapOpAttr{MapFd: uint32(fd), Key: addrOf(key), ValueOrNextKey: addrOf(out)}
	lb := encodeAttr(t, lookupAttr)
	assert.Equal(t, int32(0), k.Bpf(MapLookupElem, lb, uint32(len(lb))))
	assert.Equal(t, byte(42), out[0])

	deleteAttr := mapOpAttr{MapFd: uint32(fd), Key: addrOf(key)}
	db := encodeAttr(t, deleteAttr)
	assert.Equal(t, int32(0), k.Bpf(MapDeleteElem, db, uint32(len(db))))
	assert.Equal(t, int32(-1), k.Bpf(MapLookupElem, lb, uint32(len(lb))))
}

func TestBpfUnknownCommandIsError(t *testing.T) {
	k := NewKernel(sim.New())
	assert.Equal(t, int32(-1), k.Bpf(Command(999), nil, 0))
}

func TestBpfReservedProgLoadIsError(t *testing.T) {
	k := NewKernel(sim.New())
	assert.Equal(t, int32(-1), k.Bpf(ProgLoad, nil, 0))
}

func TestBpfProgAttachDetach(t *testing.T) {
	k := NewKernel(sim.New())
	elfBytes := buildTestELF(t, "attach_map")

	createAttr := mapCreateAttr{MapType: uint32(MapTypeArray), KeySize: 4, ValueSize: 4, MaxEntries: 4}
	cb := encodeAttr(t, createAttr)
	mapFd := k.Bpf(MapCreate, cb, uint32(len(cb)))
	require.GreaterOrEqual(t, mapFd, int32(0))

	mapName := make([]byte, maxMapSymbolNameLen)
	copy(mapName, "attach_map")
	mapArray := []mapFdEntryWire{{NamePtr: addrOf(mapName), FD: uint32(mapFd)}}
	mapArrayBytes := encodeAttr(t, mapArray)

	loadAttr := progLoadExAttr{
		ElfPtr:      addrOf(elfBytes),
		ElfLen:      uint32(len(elfBytes)),
		MapArrayLen: uint32(len(mapArray)),
		MapArrayPtr: addrOf(mapArrayBytes),
	}
	lb := encodeAttr(t, loadAttr)
	progFd := k.Bpf(ProgLoadEx, lb, uint32(len(lb)))
	require.GreaterOrEqual(t, progFd, int32(0))

	target := append([]byte("kprobe$0x80200000"), 0)
	attachAttrV := attachAttr{ProgFd: uint32(progFd), TargetPtr: addrOf(target), TargetLen: uint64(len(target))}
	ab := encodeAttr(t, attachAttrV)
	assert.Equal(t, int32(0), k.Bpf(ProgAttach, ab, uint32(len(ab))))

	detachAttr := attachAttr{ProgFd: uint32(progFd)}
	de := encodeAttr(t, detachAttr)
	assert.Equal(t, int32(0), k.Bpf(ProgDetach, de, uint32(len(de))))
}

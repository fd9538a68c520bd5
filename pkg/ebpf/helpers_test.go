// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/osabi/sim"
)

func TestHelperTableKtimeAndComm(t *testing.T) {
	osSim := sim.New()
	ht := NewHelperTable(osSim, func(uint64) (Map, bool) { return nil, false })

	ts := ht.Call(5, 0, 0, 0, 0, 0)
	assert.GreaterOrEqual(t, ts, uint64(0))

	buf := make([]byte, 16)
	bufAddr := uint64(uintptr(unsafe.Pointer(&buf[0])))
	ret := ht.Call(16, bufAddr, uint64(len(buf)), 0, 0, 0)
	assert.Equal(t, uint64(0), ret)
}

func TestHelperTableMapHelpers(t *testing.T) {
	osSim := sim.New()
	m, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 2})
	require.NoError(t, err)

	ht := NewHelperTable(osSim, func(fd uint64) (Map, bool) {
		if fd == 7 {
			return m, true
		}
		return nil, false
	})

	key := []byte{0, 0, 0, 0}
	value := []byte{5, 0, 0, 0}
	keyAddr := uint64(uintptr(unsafe.Pointer(&key[0])))
	valAddr := uint64(uintptr(unsafe.Pointer(&value[0])))
	mapFdSlot := uint32(7)
	mapFdAddr := uint64(uintptr(unsafe.Pointer(&mapFdSlot)))

	ret := ht.Call(2, mapFdAddr, keyAddr, valAddr, uint64(UpdateAny), 0)
	assert.Equal(t, uint64(0), ret)

	ptr := ht.Call(1, mapFdAddr, keyAddr, 0, 0, 0)
	require.NotZero(t, ptr)
	got := *(*byte)(unsafe.Pointer(uintptr(ptr)))
	assert.Equal(t, byte(5), got)
}

func TestHelperTableUnknownSlotIsNoop(t *testing.T) {
	ht := NewHelperTable(sim.New(), func(uint64) (Map, bool) { return nil, false })
	assert.Equal(t, uint64(0), ht.Call(0, 1, 2, 3, 4, 5))
	assert.Equal(t, uint64(0), ht.Call(9, 1, 2, 3, 4, 5))
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

func key4(i uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return b
}

func TestArrayMapLookupUpdate(t *testing.T) {
	m, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 4, ValueSize: 8, MaxEntries: 4})
	require.NoError(t, err)

	_, err = m.Lookup(key4(4))
	assert.Equal(t, bpferror.ENOENT, err)

	val := make([]byte, 8)
	val[0] = 42
	require.NoError(t, m.Update(key4(0), val, UpdateAny))

	got, err := m.Lookup(key4(0))
	require.NoError(t, err)
	assert.Equal(t, byte(42), got[0])

	assert.Equal(t, bpferror.EINVAL, m.Update(key4(9), val, UpdateAny))
	assert.Equal(t, bpferror.EINVAL, m.Delete(key4(0)))
}

func TestArrayMapRejectsWrongKeySize(t *testing.T) {
	_, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 8, ValueSize: 8, MaxEntries: 4})
	assert.Equal(t, bpferror.EINVAL, err)
}

func TestArrayMapNextKey(t *testing.T) {
	m, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 3})
	require.NoError(t, err)

	k, err := m.NextKey(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(k))

	k, err = m.NextKey(key4(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(k))

	_, err = m.NextKey(key4(2))
	assert.Equal(t, bpferror.ENOENT, err)
}

func TestArrayMapNextKeyRestartsFromOutOfRangeCursor(t *testing.T) {
	m, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 3})
	require.NoError(t, err)

	k, err := m.NextKey(key4(99))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(k))
}

func TestArrayMapUpdateIgnoresNoExistFlag(t *testing.T) {
	m, err := NewArrayMap(MapAttr{MapType: MapTypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 2})
	require.NoError(t, err)

	val := make([]byte, 4)
	val[0] = 7
	require.NoError(t, m.Update(key4(0), val, UpdateNoExist))

	got, err := m.Lookup(key4(0))
	require.NoError(t, err)
	assert.Equal(t, byte(7), got[0])

	val[0] = 9
	require.NoError(t, m.Update(key4(0), val, UpdateNoExist))
	got, err = m.Lookup(key4(0))
	require.NoError(t, err)
	assert.Equal(t, byte(9), got[0])
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

func TestHashMapCRUD(t *testing.T) {
	m, err := NewHashMap(MapAttr{MapType: MapTypeHash, KeySize: 4, ValueSize: 4, MaxEntries: 2})
	require.NoError(t, err)

	k1, v1 := []byte{1, 0, 0, 0}, []byte{9, 0, 0, 0}
	k2, v2 := []byte{2, 0, 0, 0}, []byte{8, 0, 0, 0}

	require.NoError(t, m.Update(k1, v1, UpdateAny))
	require.NoError(t, m.Update(k2, v2, UpdateNoExist))

	// map is full now.
	k3, v3 := []byte{3, 0, 0, 0}, []byte{7, 0, 0, 0}
	assert.Equal(t, bpferror.ENOMEM, m.Update(k3, v3, UpdateAny))

	assert.Equal(t, bpferror.EEXIST, m.Update(k1, v1, UpdateNoExist))

	got, err := m.Lookup(k1)
	require.NoError(t, err)
	assert.Equal(t, v1, got)

	require.NoError(t, m.Delete(k1))
	_, err = m.Lookup(k1)
	assert.Equal(t, bpferror.ENOENT, err)
	assert.Equal(t, bpferror.ENOENT, m.Delete(k1))

	assert.Equal(t, bpferror.ENOENT, m.Update(k3, v3, UpdateExist))
}

func TestHashMapOverwriteIsMutable(t *testing.T) {
	m, err := NewHashMap(MapAttr{MapType: MapTypeHash, KeySize: 4, ValueSize: 4, MaxEntries: 2})
	require.NoError(t, err)

	k, v := []byte{1, 0, 0, 0}, []byte{1, 1, 1, 1}
	require.NoError(t, m.Update(k, v, UpdateAny))

	ptr, ok := m.LookupHelper(k)
	require.True(t, ok)
	require.NotNil(t, ptr)

	require.NoError(t, m.Update(k, []byte{2, 2, 2, 2}, UpdateAny))
	got, err := m.Lookup(k)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 2, 2, 2}, got)
}

func TestHashMapNextKeyOrderIsDeterministic(t *testing.T) {
	m, err := NewHashMap(MapAttr{MapType: MapTypeHash, KeySize: 4, ValueSize: 4, MaxEntries: 8})
	require.NoError(t, err)

	for i := byte(0); i < 4; i++ {
		require.NoError(t, m.Update([]byte{i, 0, 0, 0}, []byte{i, i, i, i}, UpdateAny))
	}

	seen := map[byte]bool{}
	var cur []byte
	for {
		next, err := m.NextKey(cur)
		if err == bpferror.ENOENT {
			break
		}
		require.NoError(t, err)
		seen[next[0]] = true
		cur = next
	}
	assert.Len(t, seen, 4)
}

func TestHashMapNextKeyRestartsWhenKeyNotFound(t *testing.T) {
	m, err := NewHashMap(MapAttr{MapType: MapTypeHash, KeySize: 4, ValueSize: 4, MaxEntries: 8})
	require.NoError(t, err)

	require.NoError(t, m.Update([]byte{1, 0, 0, 0}, []byte{1, 1, 1, 1}, UpdateAny))

	stale := []byte{99, 0, 0, 0}
	next, err := m.NextKey(stale)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, next)
}

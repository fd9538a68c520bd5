// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// ArrayMap is a fixed-size, index-addressed map. Keys are always 4-byte
// little-endian indices in [0, MaxEntries); storage is a single
// preallocated slice so every element's address is stable for the
// lifetime of the map.
type ArrayMap struct {
	mu      sync.Mutex
	attr    MapAttr
	inner   internalMapAttr
	entries [][]byte
}

// NewArrayMap constructs an array map. KeySize must be 4.
func NewArrayMap(attr MapAttr) (*ArrayMap, error) {
	if attr.KeySize != 4 {
		return nil, bpferror.EINVAL
	}
	if attr.MaxEntries == 0 {
		return nil, bpferror.EINVAL
	}
	inner := newInternalAttr(attr)
	entries := make([][]byte, inner.maxEntries)
	for i := range entries {
		entries[i] = make([]byte, inner.valueSize)
	}
	return &ArrayMap{attr: attr, inner: inner, entries: entries}, nil
}

func (m *ArrayMap) Attr() MapAttr { return m.attr }

func decodeIndex(key []byte) (uint32, error) {
	if len(key) != 4 {
		return 0, bpferror.EINVAL
	}
	return binary.LittleEndian.Uint32(key), nil
}

func (m *ArrayMap) Lookup(key []byte) ([]byte, error) {
	idx, err := decodeIndex(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(idx) >= len(m.entries) {
		return nil, bpferror.ENOENT
	}
	out := make([]byte, m.inner.valueSize)
	copy(out, m.entries[idx])
	return out, nil
}

// Update overwrites the slot at key. Array maps have no concept of
// "absent" slots, so flags are ignored entirely and the slot is always
// overwritten once the index is in range, matching the original's
// unused _flags parameter.
func (m *ArrayMap) Update(key, value []byte, flags UpdateFlag) error {
	idx, err := decodeIndex(key)
	if err != nil {
		return err
	}
	if err := validateKeyValue(m.inner, key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(idx) >= len(m.entries) {
		return bpferror.EINVAL
	}
	copy(m.entries[idx], value)
	return nil
}

// Delete is not supported on array maps: slots always exist.
func (m *ArrayMap) Delete(key []byte) error {
	return bpferror.EINVAL
}

// NextKey returns 0 when key is nil or already out of range (a stale or
// bogus cursor), and idx+1 otherwise;
// it only fails once the incremented index itself runs off the end.
func (m *ArrayMap) NextKey(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next uint32
	if key == nil {
		next = 0
	} else {
		idx, err := decodeIndex(key)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(m.entries) {
			next = 0
		} else {
			next = idx + 1
		}
	}
	if int(next) >= len(m.entries) {
		return nil, bpferror.ENOENT
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, next)
	return out, nil
}

func (m *ArrayMap) LookupHelper(key []byte) (unsafe.Pointer, bool) {
	idx, err := decodeIndex(key)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(idx) >= len(m.entries) {
		return nil, false
	}
	return unsafe.Pointer(&m.entries[idx][0]), true
}

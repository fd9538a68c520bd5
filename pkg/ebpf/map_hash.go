// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"bytes"
	"sort"
	"sync"
	"unsafe"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// hashMapEntry is heap-boxed individually so LookupHelper's pointer into
// its value stays valid across inserts/deletes elsewhere in the table.
type hashMapEntry struct {
	key   []byte
	value []byte
}

// HashMap is an open-addressed-by-bucket-list hash map, grounded on the
// original's wrapping-multiply hash (h = h*131313 + b for every byte).
type HashMap struct {
	mu      sync.Mutex
	attr    MapAttr
	inner   internalMapAttr
	buckets map[uint64][]*hashMapEntry
	count   int
}

// NewHashMap constructs a hash map.
func NewHashMap(attr MapAttr) (*HashMap, error) {
	if attr.KeySize == 0 || attr.ValueSize == 0 || attr.MaxEntries == 0 {
		return nil, bpferror.EINVAL
	}
	return &HashMap{
		attr:    attr,
		inner:   newInternalAttr(attr),
		buckets: make(map[uint64][]*hashMapEntry),
	}, nil
}

func (m *HashMap) Attr() MapAttr { return m.attr }

func hashKey(key []byte) uint64 {
	var h uint64
	for _, b := range key {
		h = h*131313 + uint64(b)
	}
	return h
}

// findLocked must be called with m.mu held.
func (m *HashMap) findLocked(key []byte) (bucket uint64, idx int, entry *hashMapEntry) {
	bucket = hashKey(key)
	for i, e := range m.buckets[bucket] {
		if bytes.Equal(e.key, key) {
			return bucket, i, e
		}
	}
	return bucket, -1, nil
}

func (m *HashMap) Lookup(key []byte) ([]byte, error) {
	if len(key) != m.inner.keySize {
		return nil, bpferror.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, e := m.findLocked(key)
	if e == nil {
		return nil, bpferror.ENOENT
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *HashMap) Update(key, value []byte, flags UpdateFlag) error {
	if err := validateKeyValue(m.inner, key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, _, e := m.findLocked(key)
	if e != nil {
		if flags == UpdateNoExist {
			return bpferror.EEXIST
		}
		// Overwrite in place through a genuinely mutable slice so the
		// write is visible to any LookupHelper pointer already held.
		copy(e.value, value)
		return nil
	}
	if flags == UpdateExist {
		return bpferror.ENOENT
	}
	if m.count >= m.inner.maxEntries {
		return bpferror.ENOMEM
	}
	stored := &hashMapEntry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
	m.buckets[bucket] = append(m.buckets[bucket], stored)
	m.count++
	return nil
}

func (m *HashMap) Delete(key []byte) error {
	if len(key) != m.inner.keySize {
		return bpferror.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, idx, e := m.findLocked(key)
	if e == nil {
		return bpferror.ENOENT
	}
	list := m.buckets[bucket]
	m.buckets[bucket] = append(list[:idx], list[idx+1:]...)
	m.count--
	return nil
}

// sortedKeys returns every stored key in a stable, deterministic order
// (bucket id, then insertion order within the bucket) so NextKey has a
// well-defined iteration sequence.
func (m *HashMap) sortedKeys() [][]byte {
	var bucketIDs []uint64
	for b := range m.buckets {
		bucketIDs = append(bucketIDs, b)
	}
	sort.Slice(bucketIDs, func(i, j int) bool { return bucketIDs[i] < bucketIDs[j] })
	var keys [][]byte
	for _, b := range bucketIDs {
		for _, e := range m.buckets[b] {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (m *HashMap) NextKey(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.sortedKeys()
	if key == nil {
		if len(keys) == 0 {
			return nil, bpferror.ENOENT
		}
		return append([]byte(nil), keys[0]...), nil
	}
	for i, k := range keys {
		if bytes.Equal(k, key) {
			if i+1 >= len(keys) {
				return nil, bpferror.ENOENT
			}
			return append([]byte(nil), keys[i+1]...), nil
		}
	}
	// key isn't currently stored (stale cursor, deleted entry): restart
	// from the first bucket's first entry rather than failing.
	if len(keys) == 0 {
		return nil, bpferror.ENOENT
	}
	return append([]byte(nil), keys[0]...), nil
}

func (m *HashMap) LookupHelper(key []byte) (unsafe.Pointer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, e := m.findLocked(key)
	if e == nil {
		return nil, false
	}
	return unsafe.Pointer(&e.value[0]), true
}

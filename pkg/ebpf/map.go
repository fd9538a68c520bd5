// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"unsafe"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// MapAttr describes a map at creation time, the public half of the
// bpf(MAP_CREATE) attribute union.
type MapAttr struct {
	MapType    MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// internalMapAttr widens MapAttr's fields to Go's native int for
// convenient slice indexing and arithmetic once a map engine has
// validated them.
type internalMapAttr struct {
	keySize    int
	valueSize  int
	maxEntries int
}

func newInternalAttr(a MapAttr) internalMapAttr {
	return internalMapAttr{
		keySize:    int(a.KeySize),
		valueSize:  int(a.ValueSize),
		maxEntries: int(a.MaxEntries),
	}
}

// Map is the uniform operational contract every map engine satisfies.
// Keys and values are always passed as raw byte slices of the map's
// fixed KeySize/ValueSize, matching the facade's attribute layout.
type Map interface {
	// Attr returns the map's creation-time attributes.
	Attr() MapAttr

	// Lookup copies the value stored under key into the returned slice.
	// Returns ENOENT if key is absent.
	Lookup(key []byte) ([]byte, error)

	// Update inserts or overwrites the value under key, honoring flags.
	Update(key, value []byte, flags UpdateFlag) error

	// Delete removes key. Returns ENOENT if key is absent.
	Delete(key []byte) error

	// NextKey copies into the returned slice the key that follows key
	// in iteration order, or the first key if key is nil. Returns
	// ENOENT once iteration is exhausted.
	NextKey(key []byte) ([]byte, error)

	// LookupHelper is the variant used by the in-kernel helper table:
	// it returns a raw pointer to the stored value (nil if absent)
	// rather than copying it, since helpers run inside the kernel and
	// read/write the map's backing storage directly.
	LookupHelper(key []byte) (unsafe.Pointer, bool)
}

func validateKeyValue(a internalMapAttr, key, value []byte) error {
	if len(key) != a.keySize {
		return bpferror.EINVAL
	}
	if value != nil && len(value) != a.valueSize {
		return bpferror.EINVAL
	}
	return nil
}

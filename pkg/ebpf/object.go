// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

// Object is the tagged union stored in the registry under a handle: it is
// implemented by *mapHandle (wrapping a Map) and *ProgramObject. A type
// switch on the concrete type stands in for the Rust enum's match.
type Object interface {
	isObject()
}

type mapHandle struct {
	Map
}

func (*mapHandle) isObject() {}

func newMapObject(m Map) Object { return &mapHandle{m} }

// AsMap recovers the underlying Map if obj is a map object.
func AsMap(obj Object) (Map, bool) {
	h, ok := obj.(*mapHandle)
	if !ok {
		return nil, false
	}
	return h.Map, true
}

func (*ProgramObject) isObject() {}

// AsProgram recovers the underlying program if obj is a program object.
func AsProgram(obj Object) (*ProgramObject, bool) {
	p, ok := obj.(*ProgramObject)
	return p, ok
}

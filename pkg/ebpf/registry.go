// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
	"github.com/DataDog/ebpf-kernel/pkg/util/log"
)

// Registry is the fd-keyed table of every live map and program object.
// One mutex guards the whole table; individual objects carry their own
// finer-grained locks for their internal state.
type Registry struct {
	mu      sync.Mutex
	objects map[uint32]Object
	nextFd  *atomic.Uint32
}

// NewRegistry returns an empty registry, handles starting at FdBase.
func NewRegistry() *Registry {
	nextFd := atomic.NewUint32(FdBase)
	return &Registry{
		objects: make(map[uint32]Object),
		nextFd:  nextFd,
	}
}

func (r *Registry) allocateFd() uint32 {
	return r.nextFd.Inc() - 1
}

// Insert stores obj under a freshly allocated handle and returns it.
func (r *Registry) Insert(obj Object) uint32 {
	fd := r.allocateFd()
	r.mu.Lock()
	r.objects[fd] = obj
	r.mu.Unlock()
	log.Debugf("ebpf: registered object under fd %#x", fd)
	return fd
}

// Lookup returns the object registered under fd, or ENOENT.
func (r *Registry) Lookup(fd uint32) (Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[fd]
	if !ok {
		return nil, bpferror.ENOENT
	}
	return obj, nil
}

// Remove deletes fd from the registry.
//
// The original Rust implementation's bpf_map_close has its success and
// failure arms inverted (Ok on the "not found" branch, Err(ENOENT) on the
// "removed" branch); this is corrected here: removing an entry that
// exists succeeds, removing one that does not returns ENOENT.
func (r *Registry) Remove(fd uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[fd]; !ok {
		return bpferror.ENOENT
	}
	delete(r.objects, fd)
	log.Debugf("ebpf: removed object fd %#x", fd)
	return nil
}

// LookupMap is a convenience wrapper returning ENOENT when fd is absent
// and EINVAL when it does not name a map.
func (r *Registry) LookupMap(fd uint32) (Map, error) {
	obj, err := r.Lookup(fd)
	if err != nil {
		return nil, err
	}
	m, ok := AsMap(obj)
	if !ok {
		return nil, bpferror.EINVAL
	}
	return m, nil
}

// LookupProgram is a convenience wrapper returning ENOENT/EINVAL
// analogously to LookupMap.
func (r *Registry) LookupProgram(fd uint32) (*ProgramObject, error) {
	obj, err := r.Lookup(fd)
	if err != nil {
		return nil, err
	}
	p, ok := AsProgram(obj)
	if !ok {
		return nil, bpferror.EINVAL
	}
	return p, nil
}

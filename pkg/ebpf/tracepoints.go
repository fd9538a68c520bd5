// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// TracepointKind identifies which probe engine a target string selects.
type TracepointKind int

const (
	KindKprobe TracepointKind = iota
	KindKretprobeEntry
	KindKretprobeExit
	KindUprobeSyncFunc
)

// Tracepoint is the attachment point a parsed target string names: a
// probe engine plus the address (and, for uprobes, the binary path) the
// probe is armed at.
type Tracepoint struct {
	Kind   TracepointKind
	Path   string
	Addr   uint64
}

// ParseTracepoint decodes the target-string grammar
// kind("$"binary_path)?"$"hex_addr, case-insensitive on kind.
//
// resolve_symbol in the original hardcodes a single target function
// instead of reading the address out of the string; this parser always
// takes the literal hex address the caller supplied, resolving that
// open question the way the grammar already implies it should work.
func ParseTracepoint(target string) (Tracepoint, error) {
	parts := strings.Split(target, "$")
	if len(parts) < 2 {
		return Tracepoint{}, bpferror.EINVAL
	}

	kind, err := parseKind(parts[0])
	if err != nil {
		return Tracepoint{}, err
	}

	var path string
	var addrStr string
	switch {
	case kind == KindUprobeSyncFunc && len(parts) == 3:
		path, addrStr = parts[1], parts[2]
	case len(parts) == 2:
		addrStr = parts[1]
	default:
		return Tracepoint{}, bpferror.EINVAL
	}

	addrStr = strings.TrimPrefix(strings.ToLower(addrStr), "0x")
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return Tracepoint{}, bpferror.EINVAL
	}

	return Tracepoint{Kind: kind, Path: path, Addr: addr}, nil
}

func parseKind(s string) (TracepointKind, error) {
	switch strings.ToLower(s) {
	case "kprobe":
		return KindKprobe, nil
	case "kretprobe@entry":
		return KindKretprobeEntry, nil
	case "kretprobe@exit":
		return KindKretprobeExit, nil
	case "uprobe_syncfunc":
		return KindUprobeSyncFunc, nil
	default:
		return 0, bpferror.EINVAL
	}
}

// tracepointKey is the map key a Tracepoint collapses to once its kind
// and address are known; kretprobe entry/exit collapse to the same
// address but stay distinct because of Kind.
type tracepointKey struct {
	kind TracepointKind
	path string
	addr uint64
}

func (t Tracepoint) key() tracepointKey {
	return tracepointKey{kind: t.Kind, path: t.Path, addr: t.Addr}
}

// AttachmentRegistry tracks, for every tracepoint, the set of programs
// currently attached to it.
type AttachmentRegistry struct {
	mu    sync.RWMutex
	attached map[tracepointKey][]*ProgramObject
}

// NewAttachmentRegistry returns an empty registry.
func NewAttachmentRegistry() *AttachmentRegistry {
	return &AttachmentRegistry{attached: make(map[tracepointKey][]*ProgramObject)}
}

// Attach records prog as attached to tp. Attaching the same program to
// the same tracepoint twice is rejected with EAGAIN, matching the
// original's Arc::ptr_eq duplicate check. Attaching to a kretprobe
// inserts the program under BOTH the entry and exit keys, since a
// single kretprobe attachment arms a hidden entry kprobe as well as the
// return-site trampoline.
func (r *AttachmentRegistry) Attach(tp Tracepoint, prog *ProgramObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []tracepointKey{tp.key()}
	if tp.Kind == KindKretprobeEntry || tp.Kind == KindKretprobeExit {
		other := tp
		if tp.Kind == KindKretprobeEntry {
			other.Kind = KindKretprobeExit
		} else {
			other.Kind = KindKretprobeEntry
		}
		keys = append(keys, other.key())
	}

	for _, k := range keys {
		if slices.ContainsFunc(r.attached[k], func(p *ProgramObject) bool { return p == prog }) {
			return bpferror.EAGAIN
		}
	}
	for _, k := range keys {
		r.attached[k] = append(r.attached[k], prog)
	}
	return nil
}

// Detach removes prog from every tracepoint key it is attached under,
// scanning the whole table by pointer identity exactly as the
// original's bpf_program_detach does.
func (r *AttachmentRegistry) Detach(prog *ProgramObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for k, progs := range r.attached {
		idx := slices.IndexFunc(progs, func(p *ProgramObject) bool { return p == prog })
		if idx < 0 {
			continue
		}
		found = true
		r.attached[k] = append(progs[:idx], progs[idx+1:]...)
	}
	if !found {
		return bpferror.ENOENT
	}
	return nil
}

// ProgramsAt returns every program attached to the tracepoint key, for
// trap-time dispatch.
func (r *AttachmentRegistry) ProgramsAt(tp Tracepoint) []*ProgramObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ProgramObject(nil), r.attached[tp.key()]...)
}

// String renders a Tracepoint back into its grammar form, for logging.
func (t Tracepoint) String() string {
	kind := map[TracepointKind]string{
		KindKprobe:          "kprobe",
		KindKretprobeEntry:  "kretprobe@entry",
		KindKretprobeExit:   "kretprobe@exit",
		KindUprobeSyncFunc:  "uprobe_syncfunc",
	}[t.Kind]
	if t.Path != "" {
		return fmt.Sprintf("%s$%s$0x%x", kind, t.Path, t.Addr)
	}
	return fmt.Sprintf("%s$0x%x", kind, t.Addr)
}

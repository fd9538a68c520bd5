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

func TestParseTracepointKprobe(t *testing.T) {
	tp, err := ParseTracepoint("kprobe$0x80200000")
	require.NoError(t, err)
	assert.Equal(t, KindKprobe, tp.Kind)
	assert.Equal(t, uint64(0x80200000), tp.Addr)
}

func TestParseTracepointUprobe(t *testing.T) {
	tp, err := ParseTracepoint("uprobe_syncfunc$/bin/target$0x1040")
	require.NoError(t, err)
	assert.Equal(t, KindUprobeSyncFunc, tp.Kind)
	assert.Equal(t, "/bin/target", tp.Path)
	assert.Equal(t, uint64(0x1040), tp.Addr)
}

func TestParseTracepointRejectsUnknownKind(t *testing.T) {
	_, err := ParseTracepoint("bogus$0x10")
	assert.Equal(t, bpferror.EINVAL, err)
}

func TestAttachDuplicateIsEAGAIN(t *testing.T) {
	reg := NewAttachmentRegistry()
	tp, err := ParseTracepoint("kprobe$0x1000")
	require.NoError(t, err)
	prog := &ProgramObject{Name: "p"}

	require.NoError(t, reg.Attach(tp, prog))
	assert.Equal(t, bpferror.EAGAIN, reg.Attach(tp, prog))
}

func TestKretprobeAttachInsertsBothKeys(t *testing.T) {
	reg := NewAttachmentRegistry()
	entry, err := ParseTracepoint("kretprobe@entry$0x2000")
	require.NoError(t, err)
	prog := &ProgramObject{Name: "p"}

	require.NoError(t, reg.Attach(entry, prog))

	exit := entry
	exit.Kind = KindKretprobeExit
	assert.Len(t, reg.ProgramsAt(entry), 1)
	assert.Len(t, reg.ProgramsAt(exit), 1)
}

func TestDetachRemovesFromEveryKey(t *testing.T) {
	reg := NewAttachmentRegistry()
	entry, err := ParseTracepoint("kretprobe@entry$0x2000")
	require.NoError(t, err)
	prog := &ProgramObject{Name: "p"}
	require.NoError(t, reg.Attach(entry, prog))

	require.NoError(t, reg.Detach(prog))
	assert.Empty(t, reg.ProgramsAt(entry))
	assert.Equal(t, bpferror.ENOENT, reg.Detach(prog))
}

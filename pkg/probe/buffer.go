// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// InstructionBuffer is a page-allocated scratch area a kprobe copies the
// probed instruction (and a trailing breakpoint) into, for executing it
// out of line before returning control to the original code stream.
type InstructionBuffer struct {
	page *osabi.Page
	os   osabi.OS
}

// NewInstructionBuffer allocates one page from os for the buffer.
func NewInstructionBuffer(os osabi.OS) (*InstructionBuffer, error) {
	page, err := os.AllocPage()
	if err != nil {
		return nil, err
	}
	return &InstructionBuffer{page: page, os: os}, nil
}

// Addr is the buffer's base address, where execute-out-of-line resumes.
func (b *InstructionBuffer) Addr() uintptr { return b.page.Addr }

// CopyIn writes an instruction's raw bytes into the buffer at offset.
func (b *InstructionBuffer) CopyIn(offset int, insn []byte) {
	copy(b.page.Bytes[offset:], insn)
}

// CopyOut reads n bytes back out of the buffer at offset.
func (b *InstructionBuffer) CopyOut(offset, n int) []byte {
	out := make([]byte, n)
	copy(out, b.page.Bytes[offset:offset+n])
	return out
}

// Close releases the buffer's page.
func (b *InstructionBuffer) Close() error {
	return b.os.FreePage(b.page)
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sim provides a software-simulated osabi.OS so the eBPF and
// probe packages are testable without a real RISC-V kernel underneath
// them.
package sim

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// OS is a simulated kernel collaborator backed by the host process: the
// "current thread" is the calling goroutine's host pid, pages are
// regular mmap'd anonymous memory, and the console is stderr.
type OS struct {
	mu      sync.Mutex
	console []string
	start   time.Time
}

// New returns a ready simulated OS.
func New() *OS {
	return &OS{start: time.Now()}
}

func (o *OS) CurrentThread() osabi.CurrentTask {
	pid := uint32(os.Getpid())
	return osabi.CurrentTask{Pid: pid, Tgid: pid, Comm: progName()}
}

func progName() string {
	if len(os.Args) == 0 {
		return "sim"
	}
	return os.Args[0]
}

func (o *OS) NowNanos() uint64 {
	return uint64(time.Since(o.start).Nanoseconds())
}

func (o *OS) ConsoleWrite(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.console = append(o.console, s)
	fmt.Fprint(os.Stderr, s)
}

// ConsoleLines returns every string written via ConsoleWrite so far, for
// assertions in tests.
func (o *OS) ConsoleLines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.console))
	copy(out, o.console)
	return out
}

func (o *OS) CurrentCPU() uint32 { return 0 }

// CopyFromUser and CopyToUser have nothing to translate in the
// simulated single-address-space kernel: "user" addresses are ordinary
// host-process addresses, so these just read/write through them.
func (o *OS) CopyFromUser(addr uintptr, length int) ([]byte, error) {
	return bytesAt(addr, length), nil
}

func (o *OS) CopyToUser(addr uintptr, data []byte) error {
	copy(bytesAt(addr, len(data)), data)
	return nil
}

func (o *OS) AllocPage() (*osabi.Page, error) {
	b, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return &osabi.Page{Addr: sliceAddr(b), Bytes: b}, nil
}

func (o *OS) FreePage(p *osabi.Page) error {
	return unix.Munmap(p.Bytes)
}

func (o *OS) MapUserExecPage(pid uint32) (*osabi.Page, error) {
	return o.AllocPage()
}

func (o *OS) MakeUserPageWritable(pid uint32, addr uintptr) error {
	return nil
}

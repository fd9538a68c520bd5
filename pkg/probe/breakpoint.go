// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package probe

import (
	"fmt"
	"sync"

	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// CompressedEbreak is the RISC-V compressed ebreak encoding (c.ebreak),
// the trap instruction planted at every breakpoint slot.
const CompressedEbreak uint16 = 0x9002

// BreakpointLength is the width of a single breakpoint slot, in bytes.
const BreakpointLength = 2

const pageSize = 4096

// BreakpointsPerPage is how many 2-byte slots fit on one page.
const BreakpointsPerPage = pageSize / BreakpointLength

type breakpointPage struct {
	page   *osabi.Page
	free   []bool // true where the slot is unused
	nrFree int
}

// BreakpointPool hands out kretprobe trampoline slots from a page slab,
// growing by one page at a time and releasing a page back to the OS
// once every slot on it is free again (as long as it is not the pool's
// last remaining page).
type BreakpointPool struct {
	mu    sync.Mutex
	os    osabi.OS
	pages []*breakpointPage
}

// NewBreakpointPool returns an empty pool.
func NewBreakpointPool(os osabi.OS) *BreakpointPool {
	return &BreakpointPool{os: os}
}

// Alloc reserves one breakpoint slot and returns its address, growing
// the pool by a fresh page if every existing page is full.
func (p *BreakpointPool) Alloc() (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pg := range p.pages {
		if pg.nrFree == 0 {
			continue
		}
		return p.reserveOn(pg)
	}

	page, err := p.os.AllocPage()
	if err != nil {
		return 0, err
	}
	pg := &breakpointPage{page: page, free: make([]bool, BreakpointsPerPage), nrFree: BreakpointsPerPage}
	for i := range pg.free {
		pg.free[i] = true
	}
	p.pages = append(p.pages, pg)
	return p.reserveOn(pg)
}

func (p *BreakpointPool) reserveOn(pg *breakpointPage) (uintptr, error) {
	for i, free := range pg.free {
		if !free {
			continue
		}
		pg.free[i] = false
		pg.nrFree--
		planted := CompressedEbreak
		off := i * BreakpointLength
		pg.page.Bytes[off] = byte(planted)
		pg.page.Bytes[off+1] = byte(planted >> 8)
		return pg.page.Addr + uintptr(off), nil
	}
	return 0, fmt.Errorf("probe: page reported free slots but none found")
}

// Free releases the slot at addr. If this empties a page that is not
// the pool's last page, the whole page is unmapped.
func (p *BreakpointPool) Free(addr uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pi, pg := range p.pages {
		if addr < pg.page.Addr || addr >= pg.page.Addr+pageSize {
			continue
		}
		idx := int(addr-pg.page.Addr) / BreakpointLength
		if pg.free[idx] {
			return fmt.Errorf("probe: double free of breakpoint slot %#x", addr)
		}
		pg.free[idx] = true
		pg.nrFree++

		if pg.nrFree == BreakpointsPerPage && len(p.pages) > 1 {
			if err := p.os.FreePage(pg.page); err != nil {
				return err
			}
			p.pages = append(p.pages[:pi], p.pages[pi+1:]...)
		}
		return nil
	}
	return fmt.Errorf("probe: address %#x not in any breakpoint page", addr)
}

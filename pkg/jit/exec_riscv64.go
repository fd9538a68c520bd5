// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build riscv64

package jit

import "unsafe"

// callCompiled is implemented in call_riscv64.s: it sets up a0 from ctx
// and jumps to the mapped code, returning whatever it leaves in a0.
func callCompiled(code uintptr, ctx uintptr) uint64

func runCompiled(mem []byte, ctx uintptr) (uint64, error) {
	return callCompiled(uintptr(unsafe.Pointer(&mem[0])), ctx), nil
}

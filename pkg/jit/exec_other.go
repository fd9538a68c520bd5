// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build !riscv64

package jit

import "errors"

// ErrUnsupportedArch is returned by Executable.Run on any host that is
// not riscv64.
var ErrUnsupportedArch = errors.New("jit: program execution requires GOARCH=riscv64")

func runCompiled(mem []byte, ctx uintptr) (uint64, error) {
	return 0, ErrUnsupportedArch
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package bpferror defines the small error taxonomy shared by every
// component of the eBPF subsystem and the mapping of each code to its
// POSIX errno value.
package bpferror

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Code is one of the five error conditions the subsystem ever returns.
type Code int

// The fixed error taxonomy. Nothing outside this set is ever returned by
// the object registry, map engines, loader or probe engine.
const (
	EINVAL Code = iota + 1
	ENOENT
	EEXIST
	ENOMEM
	EAGAIN
)

var names = map[Code]string{
	EINVAL: "EINVAL",
	ENOENT: "ENOENT",
	EEXIST: "EEXIST",
	ENOMEM: "ENOMEM",
	EAGAIN: "EAGAIN",
}

var errnos = map[Code]int32{
	EINVAL: int32(unix.EINVAL),
	ENOENT: int32(unix.ENOENT),
	EEXIST: int32(unix.EEXIST),
	ENOMEM: int32(unix.ENOMEM),
	EAGAIN: int32(unix.EAGAIN),
}

// Error implements the error interface.
func (c Code) Error() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "EUNKNOWN"
}

// Errno returns the POSIX errno this code corresponds to.
func (c Code) Errno() int32 {
	return errnos[c]
}

// New wraps a Code as an error, or returns nil for the zero Code.
func New(c Code) error {
	if c == 0 {
		return nil
	}
	return c
}

// FromError recovers the Code carried by err, if err is (or wraps) one.
func FromError(err error) (Code, bool) {
	var c Code
	ok := errors.As(err, &c)
	return c, ok
}

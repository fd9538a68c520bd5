// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"github.com/DataDog/ebpf-kernel/pkg/osabi"
)

// Kernel bundles every piece of subsystem state a running kernel
// instance owns: the object registry, the tracepoint/attachment
// registry, and the helper table.
type Kernel struct {
	Registry    *Registry
	Attachments *AttachmentRegistry
	Helpers     *HelperTable
	Telemetry   *Telemetry

	os OS
}

// OS is a local alias for the full osabi.OS interface.
type OS = osabi.OS

// NewKernel wires a fresh Kernel instance around the given OS
// collaborator.
func NewKernel(os OS) *Kernel {
	k := &Kernel{
		Registry:    NewRegistry(),
		Attachments: NewAttachmentRegistry(),
		Telemetry:   NewTelemetry(),
		os:          os,
	}
	k.Helpers = NewHelperTable(os, func(fd uint64) (Map, bool) {
		m, err := k.Registry.LookupMap(uint32(fd))
		if err != nil {
			return nil, false
		}
		return m, true
	})
	return k
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpf

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf/bpferror"
)

// Telemetry is a prometheus.Collector exposing the facade's error
// counts by command and error code, the domain-shrunk analog of
// pkg/network/telemetry's EBPFTelemetry: that collector counts a remote
// kernel's per-helper error returns, this one counts this kernel's own.
type Telemetry struct {
	mu     sync.Mutex
	errors map[telemetryKey]uint64

	errorsDesc *prometheus.Desc
}

type telemetryKey struct {
	cmd  Command
	code bpferror.Code
}

// NewTelemetry returns an empty collector.
func NewTelemetry() *Telemetry {
	return &Telemetry{
		errors: make(map[telemetryKey]uint64),
		errorsDesc: prometheus.NewDesc(
			"ebpf_kernel_syscall_errors_total",
			"Count of bpf() facade calls that returned each error code, by command.",
			[]string{"command", "error"}, nil,
		),
	}
}

func (t *Telemetry) recordError(cmd Command, err error) {
	code, ok := bpferror.FromError(err)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[telemetryKey{cmd: cmd, code: code}]++
}

// Describe implements prometheus.Collector.
func (t *Telemetry) Describe(ch chan<- *prometheus.Desc) {
	ch <- t.errorsDesc
}

// Collect implements prometheus.Collector.
func (t *Telemetry) Collect(ch chan<- prometheus.Metric) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, count := range t.errors {
		ch <- prometheus.MustNewConstMetric(
			t.errorsDesc, prometheus.CounterValue, float64(count),
			commandName(key.cmd), key.code.Error(),
		)
	}
}

func commandName(cmd Command) string {
	switch cmd {
	case MapCreate:
		return "map_create"
	case MapLookupElem:
		return "map_lookup_elem"
	case MapUpdateElem:
		return "map_update_elem"
	case MapDeleteElem:
		return "map_delete_elem"
	case MapGetNextKey:
		return "map_get_next_key"
	case ProgLoad:
		return "prog_load"
	case ProgLoadEx:
		return "prog_load_ex"
	case ProgAttach:
		return "prog_attach"
	case ProgDetach:
		return "prog_detach"
	default:
		return "unknown"
	}
}

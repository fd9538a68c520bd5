// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DataDog/ebpf-kernel/pkg/ebpf"
	"github.com/DataDog/ebpf-kernel/pkg/osabi/sim"
)

// mapInfo remembers what a script's "map create" line declared, so
// later lines can size the key/value buffers a lookup needs without
// re-querying the kernel for attributes it has no public getter for.
type mapInfo struct {
	fd              uint32
	keySize, valSize uint32
}

// state is the script interpreter's working set: one kernel instance
// plus the name tables a script uses to refer back to the maps and
// programs it created, the same way a real caller would keep the fds
// bpf() handed back.
type state struct {
	kernel *ebpf.Kernel
	maps   map[string]mapInfo
	progs  map[string]uint32
	out    io.Writer
}

func newExecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script>",
		Short: "Run a script of map/program operations against one in-process kernel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runScript(cmd.OutOrStdout(), f)
		},
	}
}

// runScript interprets one operation per line. Lines are whitespace
// separated; keys/values are hex-encoded byte strings. This is a
// convenience interpreter over the facade, not a wire protocol: a real
// caller issues these as Bpf(cmd, attr, size) calls directly, attr
// assembled exactly the way this file assembles it.
//
//	map create <array|hash> <key_size> <value_size> <max_entries> <name>
//	map update <name> <key_hex> <value_hex> [flags]
//	map lookup <name> <key_hex>
//	map delete <name> <key_hex>
//	prog load <elf_path> <name> [map_name...]
//	prog attach <name> <target>
//	prog detach <name> <target>
func runScript(out io.Writer, f *os.File) error {
	st := &state{
		kernel: ebpf.NewKernel(sim.New()),
		maps:   make(map[string]mapInfo),
		progs:  make(map[string]uint32),
		out:    out,
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if err := st.dispatch(fields); err != nil {
			return fmt.Errorf("line %d: %q: %w", lineNo, line, err)
		}
	}
	return scanner.Err()
}

func (st *state) dispatch(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("expected at least 2 fields")
	}
	switch fields[0] {
	case "map":
		return st.dispatchMap(fields[1], fields[2:])
	case "prog":
		return st.dispatchProg(fields[1], fields[2:])
	default:
		return fmt.Errorf("unknown verb %q", fields[0])
	}
}

func (st *state) printf(format string, args ...interface{}) {
	fmt.Fprintf(st.out, format, args...)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var v int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &v); err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Command ebpfctl is a small operator front-end over the eBPF kernel
// facade: it runs a script of map/program operations against one
// in-process Kernel instance and prints each op's result, the way an
// engineer would drive the subsystem from a shell during development
// without a real bpf(2) syscall boundary underneath it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DataDog/ebpf-kernel/pkg/util/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "ebpfctl",
		Short:         "Drive the eBPF kernel facade from a script of operations",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				_ = log.SetLevel("debug")
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(newExecCommand())
	return cmd
}

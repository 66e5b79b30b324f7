/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

func newInfoCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show hypervisor host information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}

			info, err := v.HostInfo(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := printStructured(out, output, info); done {
				return err
			}
			return printHostInfo(out, a.deps.URI, info)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table|json|yaml")
	return cmd
}

func printHostInfo(w io.Writer, uri string, info vmm.HostInfo) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Hostname:\t%s\n", info.Hostname)
	fmt.Fprintf(tw, "URI:\t%s\n", uri)
	fmt.Fprintf(tw, "Architecture:\t%s\n", info.Arch)
	fmt.Fprintf(tw, "Memory:\t%d MiB\n", info.MemoryMB)
	fmt.Fprintf(tw, "CPUs:\t%d @ %d MHz\n", info.CPUs, info.MHz)
	fmt.Fprintf(tw, "Topology:\t%d node(s), %d socket(s), %d core(s), %d thread(s)\n",
		info.NUMANodes, info.Sockets, info.Cores, info.Threads)
	fmt.Fprintf(tw, "VMs:\t%d running / %d defined\n", info.RunningVMs, info.DefinedVMs)
	return tw.Flush()
}

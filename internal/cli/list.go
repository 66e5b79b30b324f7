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

func newListCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List defined VMs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}

			vms := v.List(cmd.Context())
			out := cmd.OutOrStdout()
			if done, err := printStructured(out, output, vms); done {
				return err
			}
			return printVMs(out, vms)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table|json|yaml")
	return cmd
}

func printVMs(w io.Writer, vms []vmm.VMInfo) error {
	if len(vms) == 0 {
		fmt.Fprintln(w, "No VMs defined.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSTATE\tMEMORY\tVCPUS\tUUID")
	for _, vm := range vms {
		fmt.Fprintf(tw, "%s\t%s\t%d MiB\t%d\t%s\n", vm.Name, vm.State, vm.MemoryMB, vm.VCPUs, vm.UUID)
	}
	return tw.Flush()
}

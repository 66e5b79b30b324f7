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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

func newIPsCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "ips NAME",
		Aliases: []string{"ip"},
		Short:   "Show the guest IP addresses reported by the guest agent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}

			ifaces, err := v.QueryAddresses(cmd.Context(), args[0])
			if err != nil {
				printAgentHint(cmd.ErrOrStderr(), err)
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := printStructured(out, output, ifaces); done {
				return err
			}
			return printAddresses(out, args[0], ifaces)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table|json|yaml")
	return cmd
}

const agentHint = "Hint: install and start qemu-guest-agent in the guest, and make sure the VM is running."

// printAgentHint prints guidance when err means the guest agent did not
// answer.
func printAgentHint(w io.Writer, err error) {
	if errors.Is(err, vmm.ErrAgentUnavailable) {
		fmt.Fprintln(w, agentHint)
	}
}

func printAddresses(w io.Writer, name string, ifaces []vmm.InterfaceAddresses) error {
	if len(ifaces) == 0 {
		fmt.Fprintf(w, "VM %q reports no addresses.\n", name)
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "INTERFACE\tMAC\tFAMILY\tADDRESS")
	for _, iface := range ifaces {
		if len(iface.Addresses) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\n", iface.Name, iface.HWAddr)
			continue
		}
		for _, addr := range iface.Addresses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%d\n", iface.Name, iface.HWAddr, addr.Family, addr.Addr, addr.Prefix)
		}
	}
	return tw.Flush()
}

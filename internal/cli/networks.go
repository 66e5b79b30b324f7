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
	"strings"

	"github.com/spf13/cobra"
)

var errNoNetworkInspector = errors.New("network inspection is not available")

func newNetworksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "networks",
		Aliases: []string{"net"},
		Short:   "List libvirt networks VMs can attach to",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.deps == nil || a.deps.Networks == nil {
				return errNoNetworkInspector
			}

			networks, err := a.deps.Networks.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(networks) == 0 {
				fmt.Fprintln(out, "No networks defined.")
				return nil
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "NAME\tBRIDGE\tMODE\tACTIVE\tAUTOSTART\tADDRESSES")
			for _, n := range networks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					n.Name, dash(n.BridgeName), n.Mode, yesNo(n.IsActive), yesNo(n.Autostart), dash(strings.Join(n.CIDRs, ",")))
			}
			return tw.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

var errAborted = errors.New("deletion aborted")

type deleteOptions struct {
	force       bool
	removeDisks bool
	yes         bool
}

func newDeleteCmd(a *app) *cobra.Command {
	opts := &deleteOptions{}

	cmd := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Undefine a VM, optionally deleting its disks",
		Long: `Delete undefines a shut off VM. With --remove-disks the disk images
referenced by its definition are deleted too; install media is kept.

Unless --yes is given, the VM name must be typed to confirm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.deleteVM(cmd.Context(), out, newPrompter(cmd.InOrStdin(), out), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.force, "force", "f", false, "power the VM off first when it is active")
	f.BoolVar(&opts.removeDisks, "remove-disks", false, "delete the disk images of the VM")
	f.BoolVarP(&opts.yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (a *app) deleteVM(ctx context.Context, out io.Writer, p *prompter, name string, opts *deleteOptions) error {
	v, err := a.vmm()
	if err != nil {
		return err
	}

	info, err := v.Lookup(ctx, name)
	if err != nil {
		return err
	}

	if !opts.yes {
		if err := confirmName(p, name, opts.removeDisks); err != nil {
			return err
		}
	}

	if opts.force && info.IsActive() {
		if err := v.ForceStop(ctx, name); err != nil {
			return fmt.Errorf("powering off VM %q: %w", name, err)
		}
		fmt.Fprintf(out, "VM %q powered off\n", name)
	}

	report, err := v.Delete(ctx, name, opts.removeDisks)
	printDeleteReport(out, name, report)
	return err
}

// confirmName succeeds only when the answer is name.
func confirmName(p *prompter, name string, removeDisks bool) error {
	what := "definition"
	if removeDisks {
		what = "definition and disk images"
	}

	answer, err := p.ask(fmt.Sprintf("This deletes the %s of VM %q.\nType the VM name to confirm: ", what, name))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if answer != name {
		return errAborted
	}
	return nil
}

func printDeleteReport(w io.Writer, name string, report *vmm.DeleteReport) {
	if report == nil || !report.Undefined {
		return
	}
	fmt.Fprintf(w, "VM %q undefined\n", name)
	for _, d := range report.Disks {
		if d.Err != nil {
			fmt.Fprintf(w, "  disk %s: %v\n", d.Path, d.Err)
			continue
		}
		fmt.Fprintf(w, "  disk %s: deleted\n", d.Path)
	}
}

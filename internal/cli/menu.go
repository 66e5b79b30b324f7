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
	"strings"

	"github.com/spf13/cobra"
)

const menuText = `
INFORMATION
  [0] View hypervisor information
  [1] List all virtual machines
  [2] Get VM IP addresses

VM LIFECYCLE
  [3] Create new VM
  [4] Start VM
  [5] Stop VM
  [6] Suspend VM
  [7] Resume VM
  [8] Delete VM

CONSOLE
  [9] View VM console (requires virt-viewer)

  [q] Quit
`

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Run the interactive numbered menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.runMenu(cmd.Context(), newPrompter(cmd.InOrStdin(), out), out, cmd.ErrOrStderr())
		},
	}
}

// runMenu loops until the user quits, the input ends or ctx is done. Action
// failures are printed and the menu is shown again.
func (a *app) runMenu(ctx context.Context, p *prompter, out, errOut io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(out, menuText)
		choice, err := p.ask("\nEnter choice: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if strings.EqualFold(choice, "q") {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err := a.menuAction(ctx, p, out, errOut, choice); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
}

func (a *app) menuAction(ctx context.Context, p *prompter, out, errOut io.Writer, choice string) error {
	v, err := a.vmm()
	if err != nil {
		return err
	}

	switch choice {
	case "0":
		info, err := v.HostInfo(ctx)
		if err != nil {
			return err
		}
		return printHostInfo(out, a.deps.URI, info)
	case "1":
		return printVMs(out, v.List(ctx))
	case "2":
		name, err := askName(p)
		if err != nil {
			return err
		}
		ifaces, err := v.QueryAddresses(ctx, name)
		if err != nil {
			printAgentHint(errOut, err)
			return err
		}
		return printAddresses(out, name, ifaces)
	case "3":
		return a.menuCreate(ctx, p, out, errOut)
	case "4":
		name, err := askName(p)
		if err != nil {
			return err
		}
		outcome, err := v.Start(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, describeStart(name, outcome))
		return nil
	case "5":
		name, err := askName(p)
		if err != nil {
			return err
		}
		method, err := p.ask("Shutdown method: [1] graceful (ACPI) [2] force (destroy) [1]: ")
		if err != nil {
			return err
		}
		if method == "2" {
			if err := v.ForceStop(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(out, "VM %q powered off\n", name)
			return nil
		}
		if err := v.GracefulStop(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Shutdown requested for VM %q\n", name)
		return nil
	case "6":
		name, err := askName(p)
		if err != nil {
			return err
		}
		if err := v.Suspend(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(out, "VM %q suspended\n", name)
		return nil
	case "7":
		name, err := askName(p)
		if err != nil {
			return err
		}
		if err := v.Resume(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(out, "VM %q resumed\n", name)
		return nil
	case "8":
		return a.menuDelete(ctx, p, out)
	case "9":
		name, err := askName(p)
		if err != nil {
			return err
		}
		return a.openConsole(ctx, out, name)
	default:
		return fmt.Errorf("invalid choice %q, select 0-9 or q", choice)
	}
}

func (a *app) menuCreate(ctx context.Context, p *prompter, out, errOut io.Writer) error {
	name, err := askName(p)
	if err != nil {
		return err
	}

	defaults := a.deps.Defaults
	opts := &createOptions{}
	if opts.memoryMB, err = p.askInt("Memory in MiB", defaults.MemoryMB); err != nil {
		return err
	}
	if opts.vcpus, err = p.askInt("Virtual CPUs", defaults.VCPUs); err != nil {
		return err
	}
	if opts.diskSizeGB, err = p.askInt("Disk size in GB", defaults.DiskSizeGB); err != nil {
		return err
	}
	if opts.isoPath, err = p.ask("ISO path (empty for none): "); err != nil {
		return err
	}

	start, err := p.ask("Start the VM now? [y/N]: ")
	if err != nil {
		return err
	}
	opts.start = isYes(start)

	return a.createVM(ctx, out, errOut, name, opts)
}

func (a *app) menuDelete(ctx context.Context, p *prompter, out io.Writer) error {
	name, err := askName(p)
	if err != nil {
		return err
	}

	v, err := a.vmm()
	if err != nil {
		return err
	}
	info, err := v.Lookup(ctx, name)
	if err != nil {
		return err
	}

	opts := &deleteOptions{}
	if info.IsActive() {
		stop, err := p.ask(fmt.Sprintf("VM %q is %s. Power it off first? [y/N]: ", name, info.State))
		if err != nil {
			return err
		}
		opts.force = isYes(stop)
	}

	removeDisks, err := p.ask("Delete disk images too? [y/N]: ")
	if err != nil {
		return err
	}
	opts.removeDisks = isYes(removeDisks)

	return a.deleteVM(ctx, out, p, name, opts)
}

var errNameRequired = errors.New("VM name is required")

func askName(p *prompter) (string, error) {
	name, err := p.ask("VM name: ")
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errNameRequired
	}
	return name, nil
}

func isYes(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

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

const viewerCmd = "virt-viewer"

var errViewerNotInstalled = errors.New(viewerCmd + " is not installed")

func newConsoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console NAME",
		Short: "Open the graphical console of a running VM with virt-viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.openConsole(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) openConsole(ctx context.Context, out io.Writer, name string) error {
	v, err := a.vmm()
	if err != nil {
		return err
	}
	if a.deps.Exec == nil {
		return errViewerNotInstalled
	}

	info, err := v.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if !info.IsActive() {
		return fmt.Errorf("%w: vmName=%s state=%s", vmm.ErrNotRunning, name, info.State)
	}

	path, err := a.deps.Exec.LookPath(viewerCmd)
	if err != nil {
		return fmt.Errorf("%w: %v", errViewerNotInstalled, err)
	}

	// The viewer outlives this command and is not waited for.
	viewer := a.deps.Exec.Command(path, "--connect", a.deps.URI, name)
	if err := viewer.Start(); err != nil {
		return fmt.Errorf("launching %s: %w", viewerCmd, err)
	}
	fmt.Fprintf(out, "Opened console of VM %q\n", name)
	return nil
}

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

// Package cli provides the command-line interface of vcl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"github.com/amine-kherroubi/vcl/pkg/network"
	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

// NetworkInspector lists the virtual networks VMs can attach to.
type NetworkInspector interface {
	List(ctx context.Context) ([]network.LibvirtNetworkInfo, error)
	Get(ctx context.Context, name string) (*network.LibvirtNetworkInfo, error)
}

// Defaults are the configured values used when a flag is not given.
type Defaults struct {
	ImageDir   string
	Network    vmm.NetworkAttachment
	MemoryMB   int
	VCPUs      int
	DiskSizeGB int
}

// Deps is everything a command needs once the configuration is loaded.
type Deps struct {
	VMM      *vmm.VMM
	Networks NetworkInspector
	Defaults Defaults
	// URI is passed to external viewers.
	URI string
	// Exec launches external tools such as virt-viewer.
	Exec utilexec.Interface
	// Close releases the hypervisor session.
	Close func() error
}

// Factory builds the command dependencies from the config file at path.
type Factory func(ctx context.Context, configPath string) (*Deps, error)

// BuildInfo is printed by the version command.
type BuildInfo struct {
	Version        string
	CommitSHA      string
	BuildTimestamp string
}

type app struct {
	factory    Factory
	configPath string
	deps       *Deps
}

var errNotInitialized = errors.New("command dependencies not initialized")

// Execute runs the command tree with args. The hypervisor session opened
// for the command is released whether it succeeds or not.
func Execute(ctx context.Context, args []string, factory Factory, build BuildInfo, in io.Reader, out, errOut io.Writer) error {
	a, rootCmd := newRootCommand(factory, build, in, out, errOut)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

// newRootCommand returns the vcl command tree. Dependencies are built by
// factory right before a command that needs them runs.
func newRootCommand(factory Factory, build BuildInfo, in io.Reader, out, errOut io.Writer) (*app, *cobra.Command) {
	a := &app{factory: factory}

	rootCmd := &cobra.Command{
		Use:   "vcl",
		Short: "vcl - manage KVM/QEMU virtual machines through libvirt",
		Long: `vcl lists, creates, starts, stops, suspends, resumes and deletes
KVM/QEMU virtual machines on a libvirt host, and manages the qcow2 disk
images backing them.

Run "vcl menu" for the interactive numbered menu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsDeps(cmd) {
				return nil
			}
			deps, err := a.factory(cmd.Context(), a.configPath)
			if err != nil {
				return err
			}
			a.deps = deps
			return nil
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file (default: $VCL_CONFIG_PATH)")

	rootCmd.AddCommand(
		newVersionCmd(build),
		newListCmd(a),
		newInfoCmd(a),
		newCreateCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newSuspendCmd(a),
		newResumeCmd(a),
		newDeleteCmd(a),
		newIPsCmd(a),
		newNetworksCmd(a),
		newConsoleCmd(a),
		newMenuCmd(a),
	)

	return a, rootCmd
}

// needsDeps is false for commands that never talk to the hypervisor.
func needsDeps(cmd *cobra.Command) bool {
	for c := cmd; c.HasParent(); c = c.Parent() {
		switch c.Name() {
		case "version", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func (a *app) vmm() (*vmm.VMM, error) {
	if a.deps == nil || a.deps.VMM == nil {
		return nil, errNotInitialized
	}
	return a.deps.VMM, nil
}

func (a *app) close() error {
	if a.deps == nil || a.deps.Close == nil {
		return nil
	}
	err := a.deps.Close()
	a.deps = nil
	return err
}

func newVersionCmd(build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vcl %s (%s) %s\n", build.Version, build.CommitSHA, build.BuildTimestamp)
		},
	}
}

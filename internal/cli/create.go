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
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

type createOptions struct {
	memoryMB   int
	vcpus      int
	diskSizeGB int
	diskPath   string
	isoPath    string
	network    string
	bridge     string
	start      bool
}

func newCreateCmd(a *app) *cobra.Command {
	opts := &createOptions{}

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a VM and its qcow2 disk",
		Long: `Create defines a new VM and creates its qcow2 disk when it does not
exist yet. The VM is left shut off unless --start is given.

The disk defaults to <imageDir>/<name>.qcow2.`,
		Example: `  vcl create web --memory 2048 --vcpus 2 --disk-size 20 --iso /isos/debian.iso
  vcl create db --bridge br0 --start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.createVM(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.memoryMB, "memory", 0, "memory in MiB (default from config)")
	f.IntVar(&opts.vcpus, "vcpus", 0, "number of virtual CPUs (default from config)")
	f.IntVar(&opts.diskSizeGB, "disk-size", 0, "disk size in GB, used only when the disk is created (default from config)")
	f.StringVar(&opts.diskPath, "disk", "", "disk path (default <imageDir>/<name>.qcow2)")
	f.StringVar(&opts.isoPath, "iso", "", "install media attached as a read-only cdrom")
	f.StringVar(&opts.network, "network", "", "libvirt network to attach to (default from config)")
	f.StringVar(&opts.bridge, "bridge", "", "host bridge to attach to instead of a libvirt network")
	f.BoolVar(&opts.start, "start", false, "start the VM once defined")
	cmd.MarkFlagsMutuallyExclusive("network", "bridge")

	return cmd
}

func (a *app) createVM(ctx context.Context, out, errOut io.Writer, name string, opts *createOptions) error {
	v, err := a.vmm()
	if err != nil {
		return err
	}

	req := a.createRequest(name, opts)
	a.warnOnNetwork(ctx, errOut, req.Network)

	if err := v.Create(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(out, "VM %q created (disk %s)\n", name, req.DiskPath)

	if !opts.start {
		return nil
	}
	outcome, err := v.Start(ctx, name)
	if err != nil {
		return fmt.Errorf("VM %q created but could not be started: %w", name, err)
	}
	fmt.Fprintln(out, describeStart(name, outcome))
	return nil
}

func (a *app) createRequest(name string, opts *createOptions) vmm.CreateRequest {
	defaults := a.deps.Defaults

	req := vmm.CreateRequest{
		Name:       name,
		MemoryMB:   firstPositive(opts.memoryMB, defaults.MemoryMB),
		VCPUs:      firstPositive(opts.vcpus, defaults.VCPUs),
		DiskSizeGB: firstPositive(opts.diskSizeGB, defaults.DiskSizeGB),
		DiskPath:   opts.diskPath,
		ISOPath:    opts.isoPath,
		Network:    defaults.Network,
	}
	if req.DiskPath == "" && name != "" {
		req.DiskPath = filepath.Join(defaults.ImageDir, name+".qcow2")
	}

	switch {
	case opts.bridge != "":
		req.Network = vmm.NetworkAttachment{Mode: vmm.NetworkModeBridge, Source: opts.bridge}
	case opts.network != "":
		req.Network = vmm.NetworkAttachment{Mode: vmm.NetworkModeNetwork, Source: opts.network}
	}
	return req
}

// warnOnNetwork prints a warning when the libvirt network the VM attaches
// to is missing or inactive. Definition still goes ahead.
func (a *app) warnOnNetwork(ctx context.Context, w io.Writer, attachment vmm.NetworkAttachment) {
	if a.deps.Networks == nil || attachment.Mode != vmm.NetworkModeNetwork {
		return
	}

	source := attachment.Source
	if source == "" {
		source = vmm.DefaultNetwork
	}

	info, err := a.deps.Networks.Get(ctx, source)
	if err != nil {
		fmt.Fprintf(w, "Warning: %v\n", err)
		return
	}
	if !info.IsActive {
		fmt.Fprintf(w, "Warning: network %q is not active, start it with: virsh net-start %s\n", source, source)
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

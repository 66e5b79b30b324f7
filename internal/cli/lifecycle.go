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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

// maxParallelOps bounds how many VMs a single command acts on at once.
const maxParallelOps = 4

var stopPollInterval = time.Second

type vmAction func(ctx context.Context, name string) (string, error)

// runForEach applies action to every name concurrently. Successes are
// printed in argument order once all actions returned, and every failure is
// part of the returned aggregate.
func runForEach(cmd *cobra.Command, names []string, action vmAction) error {
	messages := make([]string, len(names))
	errs := make([]error, len(names))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(maxParallelOps)
	for i, name := range names {
		g.Go(func() error {
			msg, err := action(ctx, name)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return nil
			}
			messages[i] = msg
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	for i := range names {
		if errs[i] == nil {
			fmt.Fprintln(out, messages[i])
		}
	}

	return utilerrors.NewAggregate(errs)
}

func describeStart(name string, outcome vmm.Outcome) string {
	if outcome == vmm.OutcomeAlreadyRunning {
		return fmt.Sprintf("VM %q is already running", name)
	}
	return fmt.Sprintf("VM %q started", name)
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start NAME...",
		Short: "Start one or more VMs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}
			return runForEach(cmd, args, func(ctx context.Context, name string) (string, error) {
				outcome, err := v.Start(ctx, name)
				if err != nil {
					return "", err
				}
				return describeStart(name, outcome), nil
			})
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	var (
		force   bool
		waitFor bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stop NAME...",
		Short: "Stop one or more VMs",
		Long: `Stop asks the guest OS to shut down. The request returns as soon as the
hypervisor accepts it; use --wait to block until the VM is shut off, or
--force to power it off immediately.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}
			return runForEach(cmd, args, func(ctx context.Context, name string) (string, error) {
				if force {
					if err := v.ForceStop(ctx, name); err != nil {
						return "", err
					}
					return fmt.Sprintf("VM %q powered off", name), nil
				}

				if err := v.GracefulStop(ctx, name); err != nil {
					return "", err
				}
				if !waitFor {
					return fmt.Sprintf("Shutdown requested for VM %q", name), nil
				}
				if err := waitForShutOff(ctx, v, name, timeout); err != nil {
					return "", err
				}
				return fmt.Sprintf("VM %q shut off", name), nil
			})
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&force, "force", "f", false, "power off immediately instead of asking the guest")
	f.BoolVar(&waitFor, "wait", false, "wait until the VM is shut off")
	f.DurationVar(&timeout, "timeout", 2*time.Minute, "how long --wait waits")

	return cmd
}

func waitForShutOff(ctx context.Context, v *vmm.VMM, name string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, stopPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		info, err := v.Lookup(ctx, name)
		if err != nil {
			return false, err
		}
		return info.State == vmm.StateShutOff, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for VM %q to shut off: %w", name, err)
	}
	return nil
}

func newSuspendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend NAME...",
		Short: "Pause one or more running VMs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}
			return runForEach(cmd, args, func(ctx context.Context, name string) (string, error) {
				if err := v.Suspend(ctx, name); err != nil {
					return "", err
				}
				return fmt.Sprintf("VM %q suspended", name), nil
			})
		},
	}
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume NAME...",
		Short: "Resume one or more paused VMs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vmm()
			if err != nil {
				return err
			}
			return runForEach(cmd, args, func(ctx context.Context, name string) (string, error) {
				if err := v.Resume(ctx, name); err != nil {
					return "", err
				}
				return fmt.Sprintf("VM %q resumed", name), nil
			})
		},
	}
}

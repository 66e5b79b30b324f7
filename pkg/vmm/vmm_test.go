//go:build unit

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

package vmm_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amine-kherroubi/vcl/internal/util/fakes/hypervisorfake"
	"github.com/amine-kherroubi/vcl/pkg/disk"
	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

// stubDisks is a DiskManager that never touches the filesystem.
type stubDisks struct {
	mu        sync.Mutex
	exists    bool
	ensureErr error
	ensured   []string
	deleted   []string
}

func (s *stubDisks) Ensure(_ context.Context, path string, _ int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensured = append(s.ensured, path)
	if s.ensureErr != nil {
		return false, s.ensureErr
	}
	return !s.exists, nil
}

func (s *stubDisks) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleted = append(s.deleted, path)
	return nil
}

func newTestVMM(t *testing.T, hv vmm.Hypervisor, opts ...vmm.VMMOption) *vmm.VMM {
	t.Helper()

	v, err := vmm.NewVMM(hv, opts...)
	require.NoError(t, err)
	return v
}

func vm1Request() vmm.CreateRequest {
	return vmm.CreateRequest{
		Name:       "vm1",
		MemoryMB:   1024,
		VCPUs:      2,
		DiskPath:   "/var/lib/libvirt/images/vm1.qcow2",
		DiskSizeGB: 10,
	}
}

func TestNewVMM_NilHypervisor(t *testing.T) {
	_, err := vmm.NewVMM(nil)
	assert.ErrorIs(t, err, vmm.ErrConnectionFailed)
}

func TestCreate_ThenList(t *testing.T) {
	ctx := context.Background()
	hv := hypervisorfake.New()
	disks := &stubDisks{}
	v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

	require.NoError(t, v.Create(ctx, vm1Request()))

	vms := v.List(ctx)
	require.Len(t, vms, 1)
	assert.Equal(t, "vm1", vms[0].Name)
	assert.Equal(t, vmm.StateShutOff, vms[0].State)
	assert.Equal(t, uint(1024), vms[0].MemoryMB)
	assert.Equal(t, uint(2), vms[0].VCPUs)
	assert.NotEmpty(t, vms[0].UUID)

	assert.Equal(t, []string{"/var/lib/libvirt/images/vm1.qcow2"}, disks.ensured)
	assert.Empty(t, hv.Commands())
}

func TestCreate_WritesEmulatorAndNetwork(t *testing.T) {
	ctx := context.Background()
	hv := hypervisorfake.New()
	v := newTestVMM(t, hv,
		vmm.WithDiskManager(&stubDisks{}),
		vmm.WithEmulator("/usr/bin/qemu-system-x86_64"),
	)

	req := vm1Request()
	req.Network = vmm.NetworkAttachment{Mode: vmm.NetworkModeBridge, Source: "kvmbr0"}
	require.NoError(t, v.Create(ctx, req))

	d, ok := hv.Domain("vm1")
	require.True(t, ok)
	assert.Contains(t, d.XML, "/usr/bin/qemu-system-x86_64")
	assert.Contains(t, d.XML, "kvmbr0")
}

func TestCreate_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*vmm.CreateRequest)
	}{
		{"empty name", func(r *vmm.CreateRequest) { r.Name = "" }},
		{"zero memory", func(r *vmm.CreateRequest) { r.MemoryMB = 0 }},
		{"negative memory", func(r *vmm.CreateRequest) { r.MemoryMB = -512 }},
		{"zero vcpus", func(r *vmm.CreateRequest) { r.VCPUs = 0 }},
		{"empty disk path", func(r *vmm.CreateRequest) { r.DiskPath = "" }},
		{"missing install media", func(r *vmm.CreateRequest) { r.ISOPath = "/does/not/exist.iso" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisorfake.New()
			disks := &stubDisks{}
			v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

			req := vm1Request()
			tt.mutate(&req)

			err := v.Create(context.Background(), req)
			assert.ErrorIs(t, err, vmm.ErrInvalidParameters)
			assert.Empty(t, disks.ensured)
			assert.Empty(t, v.List(context.Background()))
		})
	}
}

func TestCreate_WithInstallMedia(t *testing.T) {
	ctx := context.Background()
	iso := filepath.Join(t.TempDir(), "install.iso")
	require.NoError(t, os.WriteFile(iso, []byte("iso"), 0o644))

	hv := hypervisorfake.New()
	v := newTestVMM(t, hv, vmm.WithDiskManager(&stubDisks{}))

	req := vm1Request()
	req.ISOPath = iso
	require.NoError(t, v.Create(ctx, req))

	d, ok := hv.Domain("vm1")
	require.True(t, ok)
	assert.Contains(t, d.XML, iso)

	paths, err := vmm.DiskPathsFromXML(d.XML)
	require.NoError(t, err)
	assert.Equal(t, []string{req.DiskPath}, paths)
}

func TestCreate_AlreadyExists(t *testing.T) {
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1"})
	disks := &stubDisks{}
	v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

	err := v.Create(context.Background(), vm1Request())
	assert.ErrorIs(t, err, vmm.ErrAlreadyExists)
	assert.Empty(t, disks.ensured)
}

func TestCreate_LookupFailure(t *testing.T) {
	hv := hypervisorfake.New().SetError(hypervisorfake.MethodLookupDomain, vmm.ErrNotConnected)
	disks := &stubDisks{}
	v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

	err := v.Create(context.Background(), vm1Request())
	assert.ErrorIs(t, err, vmm.ErrOperationFailed)
	assert.Empty(t, disks.ensured)
}

func TestCreate_DiskFailure(t *testing.T) {
	tests := []struct {
		name        string
		ensureErr   error
		expectedErr error
	}{
		{
			name:        "tool failure",
			ensureErr:   fmt.Errorf("%w: output: no space left on device", disk.ErrCreationFailed),
			expectedErr: vmm.ErrDiskCreationFailed,
		},
		{
			name:        "unexpected error",
			ensureErr:   context.Canceled,
			expectedErr: vmm.ErrDiskCreationFailed,
		},
		{
			name:        "invalid size",
			ensureErr:   fmt.Errorf("%w: got 0", disk.ErrInvalidSize),
			expectedErr: vmm.ErrInvalidParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisorfake.New()
			v := newTestVMM(t, hv, vmm.WithDiskManager(&stubDisks{ensureErr: tt.ensureErr}))

			err := v.Create(context.Background(), vm1Request())
			assert.ErrorIs(t, err, tt.expectedErr)

			_, ok := hv.Domain("vm1")
			assert.False(t, ok)
		})
	}
}

func TestCreate_DefinitionFailureReportsDisk(t *testing.T) {
	for _, existed := range []bool{false, true} {
		t.Run(fmt.Sprintf("diskExisted=%t", existed), func(t *testing.T) {
			hv := hypervisorfake.New().
				SetError(hypervisorfake.MethodDefineDomain, fmt.Errorf("%w: unsupported configuration", vmm.ErrOperationFailed))
			v := newTestVMM(t, hv, vmm.WithDiskManager(&stubDisks{exists: existed}))

			err := v.Create(context.Background(), vm1Request())
			require.ErrorIs(t, err, vmm.ErrDefinitionFailed)

			var defErr *vmm.DefinitionError
			require.True(t, errors.As(err, &defErr))
			assert.Equal(t, "/var/lib/libvirt/images/vm1.qcow2", defErr.DiskPath)
			assert.Equal(t, !existed, defErr.DiskCreated)
			assert.Contains(t, err.Error(), "/var/lib/libvirt/images/vm1.qcow2")
		})
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name            string
		state           vmm.State
		expectedOutcome vmm.Outcome
		expectedErr     error
		expectedState   vmm.State
	}{
		{"from shut off", vmm.StateShutOff, vmm.OutcomeDone, nil, vmm.StateRunning},
		{"already running", vmm.StateRunning, vmm.OutcomeAlreadyRunning, nil, vmm.StateRunning},
		{"paused", vmm.StatePaused, "", vmm.ErrPaused, vmm.StatePaused},
		{"unknown", vmm.StateUnknown, "", vmm.ErrUnknownState, vmm.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", State: tt.state})
			v := newTestVMM(t, hv)

			outcome, err := v.Start(context.Background(), "vm1")
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.ErrorIs(t, err, vmm.ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedOutcome, outcome)

			d, _ := hv.Domain("vm1")
			assert.Equal(t, tt.expectedState, d.State)
		})
	}
}

func TestStart_AlreadyRunningIssuesNothing(t *testing.T) {
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", State: vmm.StateRunning})
	v := newTestVMM(t, hv)

	outcome, err := v.Start(context.Background(), "vm1")
	require.NoError(t, err)
	assert.Equal(t, vmm.OutcomeAlreadyRunning, outcome)
	assert.Empty(t, hv.Commands())
}

func TestStart_NotFound(t *testing.T) {
	v := newTestVMM(t, hypervisorfake.New())

	_, err := v.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, vmm.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	type op func(v *vmm.VMM, ctx context.Context, name string) error

	var (
		gracefulStop = func(v *vmm.VMM, ctx context.Context, name string) error { return v.GracefulStop(ctx, name) }
		forceStop    = func(v *vmm.VMM, ctx context.Context, name string) error { return v.ForceStop(ctx, name) }
		suspend      = func(v *vmm.VMM, ctx context.Context, name string) error { return v.Suspend(ctx, name) }
		resume       = func(v *vmm.VMM, ctx context.Context, name string) error { return v.Resume(ctx, name) }
	)

	tests := []struct {
		name          string
		op            op
		state         vmm.State
		expectedErr   error
		expectedState vmm.State
	}{
		{"graceful stop running", gracefulStop, vmm.StateRunning, nil, vmm.StateShutOff},
		{"graceful stop shut off", gracefulStop, vmm.StateShutOff, vmm.ErrNotRunning, vmm.StateShutOff},
		{"graceful stop paused", gracefulStop, vmm.StatePaused, vmm.ErrNotRunning, vmm.StatePaused},

		{"force stop running", forceStop, vmm.StateRunning, nil, vmm.StateShutOff},
		{"force stop paused", forceStop, vmm.StatePaused, nil, vmm.StateShutOff},
		{"force stop shut off", forceStop, vmm.StateShutOff, vmm.ErrNotRunning, vmm.StateShutOff},

		{"suspend running", suspend, vmm.StateRunning, nil, vmm.StatePaused},
		{"suspend paused", suspend, vmm.StatePaused, vmm.ErrAlreadySuspended, vmm.StatePaused},
		{"suspend shut off", suspend, vmm.StateShutOff, vmm.ErrNotRunning, vmm.StateShutOff},

		{"resume paused", resume, vmm.StatePaused, nil, vmm.StateRunning},
		{"resume running", resume, vmm.StateRunning, vmm.ErrAlreadyRunning, vmm.StateRunning},
		{"resume shut off", resume, vmm.StateShutOff, vmm.ErrNotPaused, vmm.StateShutOff},

		{"suspend unknown", suspend, vmm.StateUnknown, vmm.ErrUnknownState, vmm.StateUnknown},
		{"force stop unknown", forceStop, vmm.StateUnknown, vmm.ErrUnknownState, vmm.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", State: tt.state})
			v := newTestVMM(t, hv)

			err := tt.op(v, context.Background(), "vm1")
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, hv.Commands())
			} else {
				assert.NoError(t, err)
				assert.Len(t, hv.Commands(), 1)
			}

			d, _ := hv.Domain("vm1")
			assert.Equal(t, tt.expectedState, d.State)
		})
	}
}

func TestLifecycle_NotFound(t *testing.T) {
	v := newTestVMM(t, hypervisorfake.New())
	ctx := context.Background()

	assert.ErrorIs(t, v.GracefulStop(ctx, "ghost"), vmm.ErrNotFound)
	assert.ErrorIs(t, v.ForceStop(ctx, "ghost"), vmm.ErrNotFound)
	assert.ErrorIs(t, v.Suspend(ctx, "ghost"), vmm.ErrNotFound)
	assert.ErrorIs(t, v.Resume(ctx, "ghost"), vmm.ErrNotFound)
	_, err := v.Delete(ctx, "ghost", false)
	assert.ErrorIs(t, err, vmm.ErrNotFound)
	_, err = v.QueryAddresses(ctx, "ghost")
	assert.ErrorIs(t, err, vmm.ErrNotFound)
}

func TestLifecycle_CommandRejectedByHypervisor(t *testing.T) {
	hv := hypervisorfake.New().
		AddDomain(hypervisorfake.Domain{Name: "vm1", State: vmm.StateRunning}).
		SetError(hypervisorfake.MethodIssueCommand, fmt.Errorf("%w: guest refused", vmm.ErrOperationFailed))
	v := newTestVMM(t, hv)

	err := v.Suspend(context.Background(), "vm1")
	assert.ErrorIs(t, err, vmm.ErrOperationFailed)

	d, _ := hv.Domain("vm1")
	assert.Equal(t, vmm.StateRunning, d.State)
}

func TestSuspendWhileShutOff(t *testing.T) {
	ctx := context.Background()
	hv := hypervisorfake.New()
	v := newTestVMM(t, hv, vmm.WithDiskManager(&stubDisks{}))
	require.NoError(t, v.Create(ctx, vm1Request()))

	err := v.Suspend(ctx, "vm1")
	assert.ErrorIs(t, err, vmm.ErrNotRunning)

	info, err := v.Lookup(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, vmm.StateShutOff, info.State)
}

func TestDelete_ActiveVMIsRefused(t *testing.T) {
	for _, state := range []vmm.State{vmm.StateRunning, vmm.StatePaused} {
		t.Run(string(state), func(t *testing.T) {
			hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", State: state})
			disks := &stubDisks{}
			v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

			report, err := v.Delete(context.Background(), "vm1", true)
			assert.ErrorIs(t, err, vmm.ErrCannotDeleteRunning)
			assert.False(t, report.Undefined)
			assert.Empty(t, disks.deleted)

			d, ok := hv.Domain("vm1")
			require.True(t, ok)
			assert.Equal(t, state, d.State)
		})
	}
}

func TestDelete_KeepsDisks(t *testing.T) {
	ctx := context.Background()
	hv := hypervisorfake.New()
	disks := &stubDisks{}
	v := newTestVMM(t, hv, vmm.WithDiskManager(disks))
	require.NoError(t, v.Create(ctx, vm1Request()))

	report, err := v.Delete(ctx, "vm1", false)
	require.NoError(t, err)
	assert.True(t, report.Undefined)
	assert.Empty(t, report.Disks)
	assert.Empty(t, disks.deleted)
	assert.Empty(t, v.List(ctx))
}

func TestDelete_RemovesDisksIndependently(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	present := filepath.Join(dir, "vm1.qcow2")
	missing := filepath.Join(dir, "vm1-data.qcow2")
	iso := filepath.Join(dir, "install.iso")
	require.NoError(t, os.WriteFile(present, []byte("qcow2"), 0o644))
	require.NoError(t, os.WriteFile(iso, []byte("iso"), 0o644))

	domainXML := fmt.Sprintf(`<domain type='kvm'>
  <name>vm1</name>
  <devices>
    <disk type='file' device='disk'><source file='%s'/><target dev='vda' bus='virtio'/></disk>
    <disk type='file' device='disk'><source file='%s'/><target dev='vdb' bus='virtio'/></disk>
    <disk type='file' device='cdrom'><source file='%s'/><target dev='hdc' bus='ide'/><readonly/></disk>
  </devices>
</domain>`, present, missing, iso)

	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", XML: domainXML})
	v := newTestVMM(t, hv, vmm.WithDiskManager(disk.NewManager()))

	report, err := v.Delete(ctx, "vm1", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, vmm.ErrDiskNotFound)
	assert.NotErrorIs(t, err, vmm.ErrDeletionFailed)

	assert.True(t, report.Undefined)
	require.Len(t, report.Disks, 2)
	assert.Equal(t, present, report.Disks[0].Path)
	assert.NoError(t, report.Disks[0].Err)
	assert.Equal(t, missing, report.Disks[1].Path)
	assert.ErrorIs(t, report.Disks[1].Err, vmm.ErrDiskNotFound)

	assert.NoFileExists(t, present)
	assert.FileExists(t, iso)

	_, ok := hv.Domain("vm1")
	assert.False(t, ok)
}

func TestDelete_UnreadableDefinitionKeepsVM(t *testing.T) {
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", XML: "<domain"})
	disks := &stubDisks{}
	v := newTestVMM(t, hv, vmm.WithDiskManager(disks))

	report, err := v.Delete(context.Background(), "vm1", true)
	assert.ErrorIs(t, err, vmm.ErrOperationFailed)
	assert.False(t, report.Undefined)

	_, ok := hv.Domain("vm1")
	assert.True(t, ok)
}

func TestQueryAddresses(t *testing.T) {
	ifaces := []vmm.InterfaceAddresses{
		{
			Name:      "lo",
			HWAddr:    "00:00:00:00:00:00",
			Addresses: []vmm.IPAddress{{Family: "ipv4", Addr: "127.0.0.1", Prefix: 8}},
		},
		{
			Name:   "eth1",
			HWAddr: "52:54:00:aa:bb:02",
			Addresses: []vmm.IPAddress{
				{Family: "ipv4", Addr: "10.0.0.5", Prefix: 24},
			},
		},
		{
			Name:   "eth0",
			HWAddr: "52:54:00:aa:bb:01",
			Addresses: []vmm.IPAddress{
				{Family: "ipv4", Addr: "192.168.122.10", Prefix: 24},
				{Family: "ipv6", Addr: "fe80::5054:ff:feaa:bb01", Prefix: 64},
			},
		},
		{
			Name:      "lo0",
			Addresses: []vmm.IPAddress{{Family: "ipv6", Addr: "::1", Prefix: 128}},
		},
	}

	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{
		Name:       "vm1",
		State:      vmm.StateRunning,
		Agent:      true,
		Interfaces: ifaces,
	})
	v := newTestVMM(t, hv)

	got, err := v.QueryAddresses(context.Background(), "vm1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eth0", got[0].Name)
	assert.Len(t, got[0].Addresses, 2)
	assert.Equal(t, "eth1", got[1].Name)
}

func TestQueryAddresses_AgentUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		domain hypervisorfake.Domain
	}{
		{
			name:   "running without agent",
			domain: hypervisorfake.Domain{Name: "vm1", State: vmm.StateRunning},
		},
		{
			name:   "paused with agent",
			domain: hypervisorfake.Domain{Name: "vm1", State: vmm.StatePaused, Agent: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVMM(t, hypervisorfake.New().AddDomain(tt.domain))

			_, err := v.QueryAddresses(context.Background(), "vm1")
			assert.ErrorIs(t, err, vmm.ErrAgentUnavailable)
			assert.NotErrorIs(t, err, vmm.ErrOperationFailed)
		})
	}
}

func TestQueryAddresses_NotRunning(t *testing.T) {
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1", Agent: true})
	v := newTestVMM(t, hv)

	_, err := v.QueryAddresses(context.Background(), "vm1")
	assert.ErrorIs(t, err, vmm.ErrNotRunning)
}

func TestList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		v := newTestVMM(t, hypervisorfake.New())

		vms := v.List(context.Background())
		assert.NotNil(t, vms)
		assert.Empty(t, vms)
	})

	t.Run("sorted by name", func(t *testing.T) {
		hv := hypervisorfake.New().
			AddDomain(hypervisorfake.Domain{Name: "web"}).
			AddDomain(hypervisorfake.Domain{Name: "db", State: vmm.StateRunning}).
			AddDomain(hypervisorfake.Domain{Name: "cache", State: vmm.StatePaused})
		v := newTestVMM(t, hv)

		vms := v.List(context.Background())
		require.Len(t, vms, 3)
		assert.Equal(t, "cache", vms[0].Name)
		assert.Equal(t, "db", vms[1].Name)
		assert.Equal(t, "web", vms[2].Name)
	})

	t.Run("enumeration failure", func(t *testing.T) {
		hv := hypervisorfake.New().
			AddDomain(hypervisorfake.Domain{Name: "vm1"}).
			SetError(hypervisorfake.MethodListDomains, vmm.ErrNotConnected)
		v := newTestVMM(t, hv)

		vms := v.List(context.Background())
		assert.NotNil(t, vms)
		assert.Empty(t, vms)
	})
}

func TestLookup_EmptyName(t *testing.T) {
	v := newTestVMM(t, hypervisorfake.New())

	_, err := v.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, vmm.ErrInvalidParameters)
}

func TestHostInfo(t *testing.T) {
	hv := hypervisorfake.New().
		AddDomain(hypervisorfake.Domain{Name: "a", State: vmm.StateRunning}).
		AddDomain(hypervisorfake.Domain{Name: "b"})
	v := newTestVMM(t, hv)

	info, err := v.HostInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake-host", info.Hostname)
	assert.Equal(t, 1, info.RunningVMs)
	assert.Equal(t, 2, info.DefinedVMs)
}

func TestClose(t *testing.T) {
	hv := hypervisorfake.New()
	v := newTestVMM(t, hv)

	require.NoError(t, v.Close())
	assert.True(t, hv.Closed())
	assert.Empty(t, v.List(context.Background()))
}

func TestConcurrentStartOfSameVM(t *testing.T) {
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1"})
	v := newTestVMM(t, hv)

	const n = 8
	outcomes := make([]vmm.Outcome, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = v.Start(context.Background(), "vm1")
		}()
	}
	wg.Wait()

	done := 0
	for i := range n {
		require.NoError(t, errs[i])
		if outcomes[i] == vmm.OutcomeDone {
			done++
		}
	}
	assert.Equal(t, 1, done)
	assert.Len(t, hv.Commands(), 1)
}

func TestConcurrentOperationsOnDistinctVMs(t *testing.T) {
	hv := hypervisorfake.New()
	for i := range 10 {
		hv.AddDomain(hypervisorfake.Domain{Name: fmt.Sprintf("vm%d", i), State: vmm.StateRunning})
	}
	v := newTestVMM(t, hv)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Suspend(context.Background(), fmt.Sprintf("vm%d", i)))
		}()
	}
	wg.Wait()

	for _, info := range v.List(context.Background()) {
		assert.Equal(t, vmm.StatePaused, info.State, info.Name)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	hv := hypervisorfake.New().AddDomain(hypervisorfake.Domain{Name: "vm1"})
	v := newTestVMM(t, hv, vmm.WithMetrics(reg))

	_, err := v.Start(ctx, "vm1")
	require.NoError(t, err)
	_, err = v.Start(ctx, "vm1")
	require.NoError(t, err)
	require.Error(t, v.Resume(ctx, "vm1"))

	expected := `
# HELP vcl_vm_operations_total Number of VM lifecycle operations by operation and result.
# TYPE vcl_vm_operations_total counter
vcl_vm_operations_total{operation="resume",result="error"} 1
vcl_vm_operations_total{operation="start",result="noop"} 1
vcl_vm_operations_total{operation="start",result="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vcl_vm_operations_total"))

	count, err := testutil.GatherAndCount(reg, "vcl_vm_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := vmm.NewVMM(hypervisorfake.New(), vmm.WithMetrics(reg))
	require.NoError(t, err)
	_, err = vmm.NewVMM(hypervisorfake.New(), vmm.WithMetrics(reg))
	require.NoError(t, err)
}

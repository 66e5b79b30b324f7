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

package vmm

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/keymutex"

	"github.com/amine-kherroubi/vcl/pkg/disk"
)

// Outcome distinguishes an operation that changed something from one that
// found the VM already in the requested state.
type Outcome string

const (
	OutcomeDone           Outcome = "done"
	OutcomeAlreadyRunning Outcome = "already-running"
)

// CreateRequest describes a VM to define.
type CreateRequest struct {
	Name     string
	MemoryMB int
	VCPUs    int
	DiskPath string
	// DiskSizeGB is only used when the disk does not exist yet.
	DiskSizeGB int
	ISOPath    string
	Network    NetworkAttachment
}

// DiskResult is the outcome of deleting one disk artifact.
type DiskResult struct {
	Path string
	Err  error
}

// DeleteReport describes what Delete managed to remove.
type DeleteReport struct {
	Undefined bool
	Disks     []DiskResult
}

// VMM coordinates VM lifecycles on one hypervisor. Every call reads the VM
// state fresh from the hypervisor; nothing is cached between calls.
type VMM struct {
	hv       Hypervisor
	disks    DiskManager
	log      logr.Logger
	locks    keymutex.KeyMutex
	emulator string

	registerer prometheus.Registerer
	metrics    *metrics
}

// VMMOption is a function that modifies VMM configuration
type VMMOption func(*VMM)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log logr.Logger) VMMOption {
	return func(v *VMM) {
		v.log = log
	}
}

// WithDiskManager overrides the qemu-img backed disk manager.
func WithDiskManager(dm DiskManager) VMMOption {
	return func(v *VMM) {
		v.disks = dm
	}
}

// WithEmulator sets the emulator binary written into new definitions.
func WithEmulator(path string) VMMOption {
	return func(v *VMM) {
		v.emulator = path
	}
}

// WithMetrics registers the operation metrics on reg.
func WithMetrics(reg prometheus.Registerer) VMMOption {
	return func(v *VMM) {
		v.registerer = reg
	}
}

// NewVMM returns a coordinator driving hv.
func NewVMM(hv Hypervisor, opts ...VMMOption) (*VMM, error) {
	if hv == nil {
		return nil, fmt.Errorf("%w: nil hypervisor", ErrConnectionFailed)
	}

	v := &VMM{
		hv:      hv,
		log:     logr.Discard(),
		locks:   keymutex.NewHashed(0),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.disks == nil {
		v.disks = disk.NewManager()
	}
	if v.registerer != nil {
		if err := v.metrics.register(v.registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return v, nil
}

// Close releases the hypervisor session.
func (v *VMM) Close() error {
	return v.hv.Close()
}

// List returns every defined VM sorted by name. It never fails: an
// enumeration error is logged and yields an empty list.
func (v *VMM) List(ctx context.Context) []VMInfo {
	start := time.Now()

	vms, err := v.hv.ListDomains(ctx)
	v.metrics.observe("list", start, resultOf(err))
	if err != nil {
		v.log.Error(err, "listing VMs")
		return []VMInfo{}
	}
	if vms == nil {
		return []VMInfo{}
	}

	slices.SortFunc(vms, func(a, b VMInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return vms
}

// Lookup returns a fresh snapshot of one VM.
func (v *VMM) Lookup(ctx context.Context, name string) (VMInfo, error) {
	if name == "" {
		return VMInfo{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidParameters)
	}
	return v.hv.LookupDomain(ctx, name)
}

// HostInfo describes the hypervisor host.
func (v *VMM) HostInfo(ctx context.Context) (HostInfo, error) {
	return v.hv.HostInfo(ctx)
}

// Create ensures the disk artifact then defines the VM. The VM is left shut
// off.
func (v *VMM) Create(ctx context.Context, req CreateRequest) (err error) {
	start := time.Now()
	defer func() { v.metrics.observe("create", start, resultOf(err)) }()

	descriptor := MachineDescriptor{
		Name:     req.Name,
		MemoryMB: req.MemoryMB,
		VCPUs:    req.VCPUs,
		DiskPath: req.DiskPath,
		ISOPath:  req.ISOPath,
		Network:  req.Network,
		Emulator: v.emulator,
	}
	if err := descriptor.Validate(); err != nil {
		return err
	}
	if req.ISOPath != "" {
		if _, err := os.Stat(req.ISOPath); err != nil {
			return fmt.Errorf("%w: install media %s: %v", ErrInvalidParameters, req.ISOPath, err)
		}
	}

	unlock := v.lock(req.Name)
	defer unlock()

	_, err = v.hv.LookupDomain(ctx, req.Name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: vmName=%s", ErrAlreadyExists, req.Name)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	created, err := v.disks.Ensure(ctx, req.DiskPath, req.DiskSizeGB)
	if err != nil {
		if errors.Is(err, disk.ErrInvalidSize) {
			return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
		if !errors.Is(err, ErrDiskCreationFailed) {
			err = fmt.Errorf("%w: %w", ErrDiskCreationFailed, err)
		}
		return err
	}
	if created {
		v.log.Info("created disk artifact", "vmName", req.Name, "path", req.DiskPath, "sizeGB", req.DiskSizeGB)
	}

	descriptor.UUID = uuid.NewString()
	domainXML, err := BuildDomainXML(descriptor)
	if err != nil {
		return &DefinitionError{Name: req.Name, DiskPath: req.DiskPath, DiskCreated: created, Err: err}
	}

	if err := v.hv.DefineDomain(ctx, domainXML); err != nil {
		return &DefinitionError{Name: req.Name, DiskPath: req.DiskPath, DiskCreated: created, Err: err}
	}

	v.log.Info("defined VM", "vmName", req.Name, "uuid", descriptor.UUID)
	return nil
}

// Start boots a shut off VM. A VM that is already running is left alone and
// reported with OutcomeAlreadyRunning.
func (v *VMM) Start(ctx context.Context, name string) (outcome Outcome, err error) {
	start := time.Now()
	defer func() {
		result := resultOf(err)
		if outcome == OutcomeAlreadyRunning {
			result = resultNoop
		}
		v.metrics.observe(string(OpStart), start, result)
	}()

	unlock := v.lock(name)
	defer unlock()

	info, err := v.hv.LookupDomain(ctx, name)
	if err != nil {
		return "", err
	}
	if info.State == StateRunning {
		v.log.V(1).Info("VM already running", "vmName", name)
		return OutcomeAlreadyRunning, nil
	}

	if err := v.issue(ctx, OpStart, info); err != nil {
		return "", err
	}
	return OutcomeDone, nil
}

// GracefulStop asks the guest to power off. It returns once the request is
// accepted, not when the VM reaches StateShutOff.
func (v *VMM) GracefulStop(ctx context.Context, name string) error {
	return v.transition(ctx, OpGracefulStop, name)
}

// ForceStop powers the VM off immediately.
func (v *VMM) ForceStop(ctx context.Context, name string) error {
	return v.transition(ctx, OpForceStop, name)
}

func (v *VMM) Suspend(ctx context.Context, name string) error {
	return v.transition(ctx, OpSuspend, name)
}

func (v *VMM) Resume(ctx context.Context, name string) error {
	return v.transition(ctx, OpResume, name)
}

// Delete undefines a shut off VM and, when removeDisks is set, deletes the
// disk artifacts referenced by its definition. Install media is never
// deleted. Each disk is attempted independently; the returned error
// aggregates the per-disk failures recorded in the report.
func (v *VMM) Delete(ctx context.Context, name string, removeDisks bool) (report *DeleteReport, err error) {
	start := time.Now()
	defer func() { v.metrics.observe(string(OpDelete), start, resultOf(err)) }()

	report = &DeleteReport{}

	unlock := v.lock(name)
	defer unlock()

	info, err := v.hv.LookupDomain(ctx, name)
	if err != nil {
		return report, err
	}
	if info.IsActive() {
		return report, fmt.Errorf("%w: vmName=%s state=%s", ErrCannotDeleteRunning, name, info.State)
	}
	if err := CheckTransition(OpDelete, info.State); err != nil {
		return report, fmt.Errorf("%w: vmName=%s state=%s", err, name, info.State)
	}

	// Paths must be read before undefine: the definition is the only
	// record of them.
	var paths []string
	if removeDisks {
		domainXML, err := v.hv.DomainXML(ctx, name)
		if err != nil {
			return report, err
		}
		paths, err = DiskPathsFromXML(domainXML)
		if err != nil {
			return report, fmt.Errorf("%w: vmName=%s: %v", ErrOperationFailed, name, err)
		}
	}

	if err := v.hv.IssueCommand(ctx, name, CommandUndefine); err != nil {
		return report, err
	}
	report.Undefined = true
	v.log.Info("undefined VM", "vmName", name)

	var errs []error
	for _, path := range paths {
		err := v.disks.Delete(ctx, path)
		report.Disks = append(report.Disks, DiskResult{Path: path, Err: err})
		if err != nil {
			v.log.Error(err, "deleting disk artifact", "vmName", name, "path", path)
			errs = append(errs, err)
			continue
		}
		v.log.Info("deleted disk artifact", "vmName", name, "path", path)
	}

	return report, utilerrors.NewAggregate(errs)
}

// QueryAddresses returns the guest interfaces and addresses reported by
// the guest agent, loopback excluded. A paused guest cannot answer the
// agent and gets ErrAgentUnavailable.
func (v *VMM) QueryAddresses(ctx context.Context, name string) (ifaces []InterfaceAddresses, err error) {
	start := time.Now()
	defer func() { v.metrics.observe("query-addresses", start, resultOf(err)) }()

	unlock := v.lock(name)
	defer unlock()

	info, err := v.hv.LookupDomain(ctx, name)
	if err != nil {
		return nil, err
	}
	if !info.IsActive() {
		return nil, fmt.Errorf("%w: vmName=%s state=%s", ErrNotRunning, name, info.State)
	}
	if info.State == StatePaused {
		return nil, fmt.Errorf("%w: vmName=%s is paused", ErrAgentUnavailable, name)
	}

	all, err := v.hv.InterfaceAddresses(ctx, name)
	if err != nil {
		return nil, err
	}

	ifaces = make([]InterfaceAddresses, 0, len(all))
	for _, iface := range all {
		if isLoopback(iface) {
			continue
		}
		ifaces = append(ifaces, iface)
	}
	slices.SortFunc(ifaces, func(a, b InterfaceAddresses) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ifaces, nil
}

func (v *VMM) transition(ctx context.Context, op Operation, name string) (err error) {
	start := time.Now()
	defer func() { v.metrics.observe(string(op), start, resultOf(err)) }()

	unlock := v.lock(name)
	defer unlock()

	info, err := v.hv.LookupDomain(ctx, name)
	if err != nil {
		return err
	}
	return v.issue(ctx, op, info)
}

// issue checks op against the observed state and sends the command.
func (v *VMM) issue(ctx context.Context, op Operation, info VMInfo) error {
	if err := CheckTransition(op, info.State); err != nil {
		return fmt.Errorf("%w: vmName=%s state=%s", err, info.Name, info.State)
	}
	if err := v.hv.IssueCommand(ctx, info.Name, commands[op]); err != nil {
		return err
	}
	v.log.Info("issued lifecycle command", "vmName", info.Name, "operation", op, "from", info.State)
	return nil
}

func (v *VMM) lock(name string) func() {
	v.locks.LockKey(name)
	return func() {
		_ = v.locks.UnlockKey(name)
	}
}

// isLoopback reports whether iface is the guest loopback: named "lo" or
// carrying only loopback addresses.
func isLoopback(iface InterfaceAddresses) bool {
	if iface.Name == "lo" {
		return true
	}
	if len(iface.Addresses) == 0 {
		return false
	}
	for _, a := range iface.Addresses {
		addr, err := netip.ParseAddr(strings.Split(a.Addr, "/")[0])
		if err != nil || !addr.IsLoopback() {
			return false
		}
	}
	return true
}

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

// Package hypervisorfake provides an in-memory vmm.Hypervisor. Domains
// defined through it are parsed with libvirtxml, and lifecycle commands
// move them between states the way libvirt would.
package hypervisorfake

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"libvirt.org/go/libvirtxml"

	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

// Method names a Hypervisor method for error injection.
type Method string

const (
	MethodListDomains        Method = "ListDomains"
	MethodLookupDomain       Method = "LookupDomain"
	MethodIssueCommand       Method = "IssueCommand"
	MethodDefineDomain       Method = "DefineDomain"
	MethodDomainXML          Method = "DomainXML"
	MethodInterfaceAddresses Method = "InterfaceAddresses"
	MethodHostInfo           Method = "HostInfo"
)

// Domain is the fake's record of one defined VM.
type Domain struct {
	Name     string
	UUID     string
	State    vmm.State
	MemoryMB uint
	VCPUs    uint
	XML      string

	// Agent makes InterfaceAddresses answer with Interfaces. Without it the
	// query fails with vmm.ErrAgentUnavailable.
	Agent      bool
	Interfaces []vmm.InterfaceAddresses
}

// IssuedCommand records one IssueCommand call that reached a domain.
type IssuedCommand struct {
	Name    string
	Command vmm.Command
}

type Fake struct {
	mu       sync.Mutex
	domains  map[string]*Domain
	errors   map[Method]error
	commands []IssuedCommand
	closed   bool

	Host vmm.HostInfo
}

var _ vmm.Hypervisor = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		domains: make(map[string]*Domain),
		errors:  make(map[Method]error),
		Host: vmm.HostInfo{
			Hostname:  "fake-host",
			Arch:      "x86_64",
			MemoryMB:  16384,
			CPUs:      8,
			MHz:       2400,
			NUMANodes: 1,
			Sockets:   1,
			Cores:     4,
			Threads:   2,
		},
	}
}

// AddDomain inserts d as if it had been defined out of band.
func (f *Fake) AddDomain(d Domain) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.State == "" {
		d.State = vmm.StateShutOff
	}
	f.domains[d.Name] = &d
	return f
}

// SetError makes every subsequent call to m return err. A nil err clears it.
func (f *Fake) SetError(m Method, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.errors, m)
		return f
	}
	f.errors[m] = err
	return f
}

// Domain returns a copy of the named domain.
func (f *Fake) Domain(name string) (Domain, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.domains[name]
	if !ok {
		return Domain{}, false
	}
	return *d, true
}

// Commands returns the commands issued so far, in order.
func (f *Fake) Commands() []IssuedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) ListDomains(ctx context.Context) ([]vmm.VMInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodListDomains); err != nil {
		return nil, err
	}

	out := make([]vmm.VMInfo, 0, len(f.domains))
	for _, d := range f.domains {
		out = append(out, d.info())
	}
	return out, nil
}

func (f *Fake) LookupDomain(ctx context.Context, name string) (vmm.VMInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodLookupDomain); err != nil {
		return vmm.VMInfo{}, err
	}
	d, err := f.get(name)
	if err != nil {
		return vmm.VMInfo{}, err
	}
	return d.info(), nil
}

// IssueCommand applies cmd with libvirt's own preconditions, independent of
// the coordinator's transition table.
func (f *Fake) IssueCommand(ctx context.Context, name string, cmd vmm.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodIssueCommand); err != nil {
		return err
	}
	d, err := f.get(name)
	if err != nil {
		return err
	}

	next, ok := nextState(cmd, d.State)
	if !ok {
		return fmt.Errorf("%w: %s: vmName=%s: domain is %s", vmm.ErrOperationFailed, cmd, name, d.State)
	}

	f.commands = append(f.commands, IssuedCommand{Name: name, Command: cmd})
	if cmd == vmm.CommandUndefine {
		delete(f.domains, name)
		return nil
	}
	d.State = next
	return nil
}

// DefineDomain parses domainXML and records the domain shut off. Redefining
// an existing name replaces its definition and keeps its state.
func (f *Fake) DefineDomain(ctx context.Context, domainXML string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodDefineDomain); err != nil {
		return err
	}

	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return fmt.Errorf("%w: defining domain: %v", vmm.ErrOperationFailed, err)
	}
	if domain.Name == "" {
		return fmt.Errorf("%w: defining domain: missing name", vmm.ErrOperationFailed)
	}

	d := &Domain{
		Name:  domain.Name,
		UUID:  domain.UUID,
		State: vmm.StateShutOff,
		XML:   domainXML,
	}
	if domain.Memory != nil {
		d.MemoryMB = toMiB(domain.Memory.Value, domain.Memory.Unit)
	}
	if domain.VCPU != nil {
		d.VCPUs = domain.VCPU.Value
	}
	if existing, ok := f.domains[d.Name]; ok {
		d.State = existing.State
		d.Agent = existing.Agent
		d.Interfaces = existing.Interfaces
	}

	f.domains[d.Name] = d
	return nil
}

func (f *Fake) DomainXML(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodDomainXML); err != nil {
		return "", err
	}
	d, err := f.get(name)
	if err != nil {
		return "", err
	}
	return d.XML, nil
}

func (f *Fake) InterfaceAddresses(ctx context.Context, name string) ([]vmm.InterfaceAddresses, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodInterfaceAddresses); err != nil {
		return nil, err
	}
	d, err := f.get(name)
	if err != nil {
		return nil, err
	}
	if d.State != vmm.StateRunning {
		return nil, fmt.Errorf("%w: vmName=%s: domain is not running", vmm.ErrOperationFailed, name)
	}
	if !d.Agent {
		return nil, fmt.Errorf("%w: vmName=%s: guest agent is not connected", vmm.ErrAgentUnavailable, name)
	}

	out := make([]vmm.InterfaceAddresses, 0, len(d.Interfaces))
	for _, iface := range d.Interfaces {
		iface.Addresses = slices.Clone(iface.Addresses)
		out = append(out, iface)
	}
	return out, nil
}

func (f *Fake) HostInfo(ctx context.Context) (vmm.HostInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, MethodHostInfo); err != nil {
		return vmm.HostInfo{}, err
	}

	info := f.Host
	info.DefinedVMs = len(f.domains)
	info.RunningVMs = 0
	for _, d := range f.domains {
		if d.info().IsActive() {
			info.RunningVMs++
		}
	}
	return info, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) check(ctx context.Context, m Method) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return vmm.ErrNotConnected
	}
	return f.errors[m]
}

func (f *Fake) get(name string) (*Domain, error) {
	d, ok := f.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: vmName=%s", vmm.ErrNotFound, name)
	}
	return d, nil
}

func (d *Domain) info() vmm.VMInfo {
	return vmm.VMInfo{
		Name:     d.Name,
		State:    d.State,
		UUID:     d.UUID,
		MemoryMB: d.MemoryMB,
		VCPUs:    d.VCPUs,
		Active:   d.State == vmm.StateRunning || d.State == vmm.StatePaused,
	}
}

func nextState(cmd vmm.Command, from vmm.State) (vmm.State, bool) {
	switch cmd {
	case vmm.CommandStart:
		return vmm.StateRunning, from == vmm.StateShutOff
	case vmm.CommandShutdown:
		return vmm.StateShutOff, from == vmm.StateRunning
	case vmm.CommandDestroy:
		return vmm.StateShutOff, from == vmm.StateRunning || from == vmm.StatePaused
	case vmm.CommandSuspend:
		return vmm.StatePaused, from == vmm.StateRunning
	case vmm.CommandResume:
		return vmm.StateRunning, from == vmm.StatePaused
	case vmm.CommandUndefine:
		return from, true
	default:
		return from, false
	}
}

func toMiB(value uint, unit string) uint {
	switch unit {
	case "b", "bytes":
		return value / (1024 * 1024)
	case "", "k", "KiB":
		return value / 1024
	case "G", "GiB":
		return value * 1024
	default:
		return value
	}
}

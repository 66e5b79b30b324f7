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

import "context"

// State is the lifecycle state of a VM as observed on the hypervisor.
type State string

const (
	StateRunning State = "running"
	StateShutOff State = "shutoff"
	StatePaused  State = "paused"
	// StateUnknown covers every hypervisor status this package does not
	// model (e.g. crashed, shutting down, pmsuspended).
	StateUnknown State = "unknown"
)

// VMInfo is an immutable snapshot of a VM. A new snapshot is produced on
// every read; nothing in this package keeps one around.
type VMInfo struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	UUID     string `json:"uuid"`
	MemoryMB uint   `json:"memoryMB"`
	VCPUs    uint   `json:"vcpus"`
	// Active mirrors the hypervisor's own notion of a live domain. It can be
	// true while State is StateUnknown (e.g. shutting down).
	Active bool `json:"active"`
}

// IsActive reports whether the VM has a live process.
func (i VMInfo) IsActive() bool {
	return i.Active || i.State == StateRunning || i.State == StatePaused
}

// IPAddress is one address reported for a guest interface.
type IPAddress struct {
	// Family is "ipv4" or "ipv6".
	Family string `json:"family"`
	Addr   string `json:"addr"`
	Prefix uint   `json:"prefix"`
}

// InterfaceAddresses groups the addresses of one guest interface.
type InterfaceAddresses struct {
	Name      string      `json:"name"`
	HWAddr    string      `json:"hwaddr"`
	Addresses []IPAddress `json:"addresses"`
}

// HostInfo describes the hypervisor host.
type HostInfo struct {
	Hostname   string `json:"hostname"`
	Arch       string `json:"arch"`
	MemoryMB   uint64 `json:"memoryMB"`
	CPUs       uint   `json:"cpus"`
	MHz        uint   `json:"mhz"`
	NUMANodes  uint32 `json:"numaNodes"`
	Sockets    uint32 `json:"sockets"`
	Cores      uint32 `json:"cores"`
	Threads    uint32 `json:"threads"`
	RunningVMs int    `json:"runningVMs"`
	DefinedVMs int    `json:"definedVMs"`
}

// Command is a state-changing request sent to a domain.
type Command string

const (
	CommandStart    Command = "start"
	CommandShutdown Command = "shutdown"
	CommandDestroy  Command = "destroy"
	CommandSuspend  Command = "suspend"
	CommandResume   Command = "resume"
	CommandUndefine Command = "undefine"
)

// Hypervisor is the set of primitives the VMM needs from a hypervisor
// session. Implementations convert every backend failure into one of the
// package's sentinel errors.
type Hypervisor interface {
	// ListDomains returns a snapshot of every defined domain.
	ListDomains(ctx context.Context) ([]VMInfo, error)
	// LookupDomain returns ErrNotFound when no domain has this name.
	LookupDomain(ctx context.Context, name string) (VMInfo, error)
	IssueCommand(ctx context.Context, name string, cmd Command) error
	DefineDomain(ctx context.Context, domainXML string) error
	// DomainXML returns the persisted (inactive) definition.
	DomainXML(ctx context.Context, name string) (string, error)
	// InterfaceAddresses queries the guest agent. It returns
	// ErrAgentUnavailable when the agent cannot answer.
	InterfaceAddresses(ctx context.Context, name string) ([]InterfaceAddresses, error)
	HostInfo(ctx context.Context) (HostInfo, error)
	Close() error
}

// DiskManager creates and deletes the disk artifacts backing VMs.
type DiskManager interface {
	Ensure(ctx context.Context, path string, sizeGB int) (created bool, err error)
	Delete(ctx context.Context, path string) error
}

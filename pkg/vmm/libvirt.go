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
	"log/slog"
	"sync"

	"libvirt.org/go/libvirt"
)

const DefaultURI = "qemu:///system"

// LibvirtConnection is a Hypervisor backed by one libvirt session.
type LibvirtConnection struct {
	uri string

	mu   sync.RWMutex
	conn *libvirt.Connect
}

var _ Hypervisor = (*LibvirtConnection)(nil)

// NewLibvirtConnection returns an unopened connection to uri. An empty uri
// selects qemu:///system.
func NewLibvirtConnection(uri string) *LibvirtConnection {
	if uri == "" {
		uri = DefaultURI
	}
	return &LibvirtConnection{uri: uri}
}

// URI returns the libvirt URI of this connection.
func (c *LibvirtConnection) URI() string {
	return c.uri
}

// Connect opens the session. Calling it on an open connection is a no-op.
func (c *LibvirtConnection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	slog.Info("connecting to libvirt", "uri", c.uri)
	conn, err := libvirt.NewConnect(c.uri)
	if err != nil {
		return fmt.Errorf("%w: uri=%s: %v", ErrConnectionFailed, c.uri, err)
	}
	if conn == nil {
		return fmt.Errorf("%w: uri=%s: no connection handle", ErrConnectionFailed, c.uri)
	}

	c.conn = conn
	return nil
}

// Disconnect closes the session. It is safe to call on a closed or never
// opened connection.
func (c *LibvirtConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	slog.Info("disconnecting from libvirt", "uri", c.uri)
	_, err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("%w: closing connection: %v", ErrOperationFailed, err)
	}
	return nil
}

// Close implements Hypervisor.
func (c *LibvirtConnection) Close() error {
	return c.Disconnect()
}

// Raw returns the underlying libvirt connection for components that need
// more than the Hypervisor primitives, or nil when disconnected.
func (c *LibvirtConnection) Raw() *libvirt.Connect {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// ListDomains implements Hypervisor.
func (c *LibvirtConnection) ListDomains(ctx context.Context) ([]VMInfo, error) {
	var out []VMInfo
	err := c.withConn(ctx, func(conn *libvirt.Connect) error {
		domains, err := conn.ListAllDomains(0)
		if err != nil {
			return fmt.Errorf("%w: listing domains: %v", ErrOperationFailed, err)
		}
		defer func() {
			for i := range domains {
				_ = domains[i].Free()
			}
		}()

		out = make([]VMInfo, 0, len(domains))
		for i := range domains {
			info, err := domainInfo(&domains[i])
			if err != nil {
				// Undefined between enumeration and inspection.
				if isLibvirtCode(err, libvirt.ERR_NO_DOMAIN) {
					continue
				}
				return fmt.Errorf("%w: reading domain info: %v", ErrOperationFailed, err)
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// LookupDomain implements Hypervisor.
func (c *LibvirtConnection) LookupDomain(ctx context.Context, name string) (VMInfo, error) {
	var out VMInfo
	err := c.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		info, err := domainInfo(dom)
		if err != nil {
			return convertError(name, "reading domain info", err)
		}
		out = info
		return nil
	})
	return out, err
}

// IssueCommand implements Hypervisor.
func (c *LibvirtConnection) IssueCommand(ctx context.Context, name string, cmd Command) error {
	return c.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		var err error
		switch cmd {
		case CommandStart:
			err = dom.Create()
		case CommandShutdown:
			err = dom.Shutdown()
		case CommandDestroy:
			err = dom.Destroy()
		case CommandSuspend:
			err = dom.Suspend()
		case CommandResume:
			err = dom.Resume()
		case CommandUndefine:
			err = dom.Undefine()
		default:
			return fmt.Errorf("%w: unsupported command %q", ErrOperationFailed, cmd)
		}
		if err != nil {
			return convertError(name, string(cmd), err)
		}
		return nil
	})
}

// DefineDomain implements Hypervisor.
func (c *LibvirtConnection) DefineDomain(ctx context.Context, domainXML string) error {
	return c.withConn(ctx, func(conn *libvirt.Connect) error {
		dom, err := conn.DomainDefineXML(domainXML)
		if err != nil {
			return fmt.Errorf("%w: defining domain: %v", ErrOperationFailed, err)
		}
		_ = dom.Free()
		return nil
	})
}

// DomainXML implements Hypervisor.
func (c *LibvirtConnection) DomainXML(ctx context.Context, name string) (string, error) {
	var out string
	err := c.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		xml, err := dom.GetXMLDesc(libvirt.DOMAIN_XML_INACTIVE)
		if err != nil {
			return convertError(name, "reading domain XML", err)
		}
		out = xml
		return nil
	})
	return out, err
}

// InterfaceAddresses implements Hypervisor.
func (c *LibvirtConnection) InterfaceAddresses(ctx context.Context, name string) ([]InterfaceAddresses, error) {
	var out []InterfaceAddresses
	err := c.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_AGENT)
		if err != nil {
			if isAgentError(err) {
				return fmt.Errorf("%w: vmName=%s: %v", ErrAgentUnavailable, name, err)
			}
			return convertError(name, "querying interface addresses", err)
		}

		out = make([]InterfaceAddresses, 0, len(ifaces))
		for _, iface := range ifaces {
			ia := InterfaceAddresses{
				Name:   iface.Name,
				HWAddr: iface.Hwaddr,
			}
			for _, addr := range iface.Addrs {
				family := "ipv6"
				if addr.Type == libvirt.IP_ADDR_TYPE_IPV4 {
					family = "ipv4"
				}
				ia.Addresses = append(ia.Addresses, IPAddress{
					Family: family,
					Addr:   addr.Addr,
					Prefix: addr.Prefix,
				})
			}
			out = append(out, ia)
		}
		return nil
	})
	return out, err
}

// HostInfo implements Hypervisor.
func (c *LibvirtConnection) HostInfo(ctx context.Context) (HostInfo, error) {
	var out HostInfo
	err := c.withConn(ctx, func(conn *libvirt.Connect) error {
		hostname, err := conn.GetHostname()
		if err != nil {
			return fmt.Errorf("%w: reading hostname: %v", ErrOperationFailed, err)
		}
		node, err := conn.GetNodeInfo()
		if err != nil {
			return fmt.Errorf("%w: reading node info: %v", ErrOperationFailed, err)
		}
		defined, err := conn.NumOfDefinedDomains()
		if err != nil {
			return fmt.Errorf("%w: counting defined domains: %v", ErrOperationFailed, err)
		}
		running, err := conn.NumOfDomains()
		if err != nil {
			return fmt.Errorf("%w: counting running domains: %v", ErrOperationFailed, err)
		}

		out = HostInfo{
			Hostname:   hostname,
			Arch:       node.Model,
			MemoryMB:   node.Memory / 1024,
			CPUs:       node.Cpus,
			MHz:        node.MHz,
			NUMANodes:  node.Nodes,
			Sockets:    node.Sockets,
			Cores:      node.Cores,
			Threads:    node.Threads,
			RunningVMs: running,
			// NumOfDefinedDomains only counts inactive domains.
			DefinedVMs: defined + running,
		}
		return nil
	})
	return out, err
}

func (c *LibvirtConnection) withConn(ctx context.Context, fn func(conn *libvirt.Connect) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return fn(c.conn)
}

func (c *LibvirtConnection) withDomain(ctx context.Context, name string, fn func(dom *libvirt.Domain) error) error {
	return c.withConn(ctx, func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return convertError(name, "looking up domain", err)
		}
		defer func() { _ = dom.Free() }()
		return fn(dom)
	})
}

func domainInfo(dom *libvirt.Domain) (VMInfo, error) {
	name, err := dom.GetName()
	if err != nil {
		return VMInfo{}, err
	}
	state, _, err := dom.GetState()
	if err != nil {
		return VMInfo{}, err
	}
	info, err := dom.GetInfo()
	if err != nil {
		return VMInfo{}, err
	}
	uuid, err := dom.GetUUIDString()
	if err != nil {
		return VMInfo{}, err
	}
	active, err := dom.IsActive()
	if err != nil {
		return VMInfo{}, err
	}

	return VMInfo{
		Name:     name,
		State:    mapState(state),
		UUID:     uuid,
		MemoryMB: uint(info.Memory / 1024),
		VCPUs:    info.NrVirtCpu,
		Active:   active,
	}, nil
}

var stateMap = map[libvirt.DomainState]State{
	libvirt.DOMAIN_RUNNING: StateRunning,
	libvirt.DOMAIN_SHUTOFF: StateShutOff,
	libvirt.DOMAIN_PAUSED:  StatePaused,
}

func mapState(state libvirt.DomainState) State {
	if s, ok := stateMap[state]; ok {
		return s
	}
	return StateUnknown
}

func convertError(name, action string, err error) error {
	if isLibvirtCode(err, libvirt.ERR_NO_DOMAIN) {
		return fmt.Errorf("%w: vmName=%s", ErrNotFound, name)
	}
	return fmt.Errorf("%w: %s: vmName=%s: %v", ErrOperationFailed, action, name, err)
}

func isLibvirtCode(err error, codes ...libvirt.ErrorNumber) bool {
	var libvirtErr libvirt.Error
	if !errors.As(err, &libvirtErr) {
		return false
	}
	for _, code := range codes {
		if libvirtErr.Code == code {
			return true
		}
	}
	return false
}

// isAgentError reports whether err means the guest agent is missing, not
// configured, or not answering.
func isAgentError(err error) bool {
	return isLibvirtCode(err,
		libvirt.ERR_AGENT_UNRESPONSIVE,
		libvirt.ERR_AGENT_UNSYNCED,
		libvirt.ERR_AGENT_COMMAND_TIMEOUT,
		libvirt.ERR_AGENT_COMMAND_FAILED,
		libvirt.ERR_OPERATION_TIMEOUT,
		libvirt.ERR_ARGUMENT_UNSUPPORTED,
		libvirt.ERR_NO_SUPPORT,
	)
}

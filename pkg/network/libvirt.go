package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// Error variables for libvirt network operations
var (
	ErrNetworkNameRequired = errors.New("network name is required")
	ErrConnNil             = errors.New("libvirt connection is nil")
	ErrListNetworks        = errors.New("failed to list libvirt networks")
	ErrCheckNetwork        = errors.New("failed to check if network exists")
	ErrParseNetworkXML     = errors.New("failed to parse network XML")
	ErrNetworkNotFound     = errors.New("libvirt network not found")
)

// LibvirtNetworkManager inspects libvirt virtual networks. It never
// modifies them.
type LibvirtNetworkManager struct {
	conn *libvirt.Connect
}

// NewLibvirtNetworkManager creates a new LibvirtNetworkManager
func NewLibvirtNetworkManager(conn *libvirt.Connect) *LibvirtNetworkManager {
	return &LibvirtNetworkManager{
		conn: conn,
	}
}

// LibvirtNetworkInfo contains information about a libvirt network
type LibvirtNetworkInfo struct {
	Name       string
	UUID       string
	BridgeName string
	Mode       string // "nat", "route", "bridge", ... or "isolated"
	IsActive   bool
	Autostart  bool
	// CIDRs lists the host-side addresses of the network, e.g. 192.168.122.1/24.
	CIDRs []string
	// DHCPRanges lists the leased ranges as "start-end".
	DHCPRanges []string
}

// List returns every libvirt network sorted by name.
func (m *LibvirtNetworkManager) List(ctx context.Context) ([]LibvirtNetworkInfo, error) {
	if m.conn == nil {
		return nil, ErrConnNil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	networks, err := m.conn.ListAllNetworks(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListNetworks, err)
	}
	defer func() {
		for i := range networks {
			_ = networks[i].Free()
		}
	}()

	out := make([]LibvirtNetworkInfo, 0, len(networks))
	for i := range networks {
		info, err := inspect(&networks[i])
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}

	slices.SortFunc(out, func(a, b LibvirtNetworkInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Get retrieves information about a libvirt network
// Returns ErrNetworkNotFound if the network doesn't exist
func (m *LibvirtNetworkManager) Get(ctx context.Context, name string) (*LibvirtNetworkInfo, error) {
	if name == "" {
		return nil, ErrNetworkNameRequired
	}
	if m.conn == nil {
		return nil, ErrConnNil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	network, err := m.conn.LookupNetworkByName(name)
	if err != nil {
		libvirtErr, ok := err.(libvirt.Error)
		if ok && libvirtErr.Code == libvirt.ERR_NO_NETWORK {
			return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrCheckNetwork, err)
	}
	defer func() { _ = network.Free() }()

	info, err := inspect(network)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func inspect(network *libvirt.Network) (LibvirtNetworkInfo, error) {
	isActive, err := network.IsActive()
	if err != nil {
		return LibvirtNetworkInfo{}, fmt.Errorf("%w: checking network state: %v", ErrCheckNetwork, err)
	}

	autostart, err := network.GetAutostart()
	if err != nil {
		return LibvirtNetworkInfo{}, fmt.Errorf("%w: checking autostart: %v", ErrCheckNetwork, err)
	}

	xmlDesc, err := network.GetXMLDesc(0)
	if err != nil {
		return LibvirtNetworkInfo{}, fmt.Errorf("%w: reading network XML: %v", ErrCheckNetwork, err)
	}

	info, err := ParseNetworkXML(xmlDesc)
	if err != nil {
		return LibvirtNetworkInfo{}, err
	}
	info.IsActive = isActive
	info.Autostart = autostart
	return info, nil
}

// ParseNetworkXML extracts the descriptive fields of a libvirt network
// definition. IsActive and Autostart are not part of the XML and are left
// false.
func ParseNetworkXML(xmlDesc string) (LibvirtNetworkInfo, error) {
	var networkXML libvirtxml.Network
	if err := networkXML.Unmarshal(xmlDesc); err != nil {
		return LibvirtNetworkInfo{}, fmt.Errorf("%w: %v", ErrParseNetworkXML, err)
	}

	info := LibvirtNetworkInfo{
		Name: networkXML.Name,
		UUID: networkXML.UUID,
		Mode: "isolated",
	}
	if networkXML.Bridge != nil {
		info.BridgeName = networkXML.Bridge.Name
	}
	if networkXML.Forward != nil && networkXML.Forward.Mode != "" {
		info.Mode = networkXML.Forward.Mode
	} else if networkXML.Forward != nil {
		// <forward/> without a mode means NAT.
		info.Mode = "nat"
	}

	for _, ip := range networkXML.IPs {
		if cidr := ipCIDR(ip); cidr != "" {
			info.CIDRs = append(info.CIDRs, cidr)
		}
		if ip.DHCP == nil {
			continue
		}
		for _, r := range ip.DHCP.Ranges {
			info.DHCPRanges = append(info.DHCPRanges, fmt.Sprintf("%s-%s", r.Start, r.End))
		}
	}

	return info, nil
}

func ipCIDR(ip libvirtxml.NetworkIP) string {
	if ip.Address == "" {
		return ""
	}
	if ip.Prefix != 0 {
		return fmt.Sprintf("%s/%d", ip.Address, ip.Prefix)
	}
	if mask := net.ParseIP(ip.Netmask).To4(); mask != nil {
		// Size reports 0 bits for a non-canonical mask.
		if ones, bits := net.IPMask(mask).Size(); bits != 0 {
			return fmt.Sprintf("%s/%d", ip.Address, ones)
		}
	}
	return ip.Address
}

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
	"errors"
	"fmt"

	"k8s.io/utils/ptr"
	"libvirt.org/go/libvirtxml"
)

const (
	DefaultNetwork = "default"

	guestAgentChannel = "org.qemu.guest_agent.0"
)

// NetworkMode selects how the VM's interface is attached.
type NetworkMode string

const (
	// NetworkModeNetwork attaches to a libvirt virtual network (NAT).
	NetworkModeNetwork NetworkMode = "network"
	// NetworkModeBridge attaches to an existing host bridge.
	NetworkModeBridge NetworkMode = "bridge"
)

// NetworkAttachment is the single interface of a VM.
type NetworkAttachment struct {
	Mode NetworkMode
	// Source is the libvirt network name or the host bridge name.
	Source string
}

// MachineDescriptor holds everything needed to define a VM.
type MachineDescriptor struct {
	Name     string
	UUID     string // optional
	MemoryMB int
	VCPUs    int
	DiskPath string
	ISOPath  string // optional install media
	Network  NetworkAttachment
	Emulator string // optional, hypervisor default when empty
}

// Validate returns ErrInvalidParameters listing every invalid field.
func (d MachineDescriptor) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, errors.New("name cannot be empty"))
	}
	if d.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("memory must be greater than zero, got %d", d.MemoryMB))
	}
	if d.VCPUs <= 0 {
		errs = append(errs, fmt.Errorf("vcpus must be greater than zero, got %d", d.VCPUs))
	}
	if d.DiskPath == "" {
		errs = append(errs, errors.New("disk path cannot be empty"))
	}
	switch d.Network.Mode {
	case "", NetworkModeNetwork:
	case NetworkModeBridge:
		if d.Network.Source == "" {
			errs = append(errs, errors.New("bridge name required for bridge mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported network mode %q", d.Network.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, errors.Join(errs...))
	}
	return nil
}

// BuildDomainXML renders the libvirt domain XML for d. It has no side
// effects: identical descriptors always yield identical output.
func BuildDomainXML(d MachineDescriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	disks := []libvirtxml.DomainDisk{
		{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "qcow2",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: d.DiskPath,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "vda",
				Bus: "virtio",
			},
		},
	}

	// Install media boots first so an empty disk falls through to it.
	bootDevices := []libvirtxml.DomainBootDevice{{Dev: "hd"}}
	if d.ISOPath != "" {
		bootDevices = []libvirtxml.DomainBootDevice{{Dev: "cdrom"}, {Dev: "hd"}}
		disks = append(disks, libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: d.ISOPath,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "hdc",
				Bus: "ide",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		})
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: d.Name,
		UUID: d.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(d.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(d.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BootDevices: bootDevices,
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
		},
		Devices: &libvirtxml.DomainDeviceList{
			Emulator: d.Emulator,
			Disks:    disks,
			Interfaces: []libvirtxml.DomainInterface{
				buildNetworkInterface(d.Network),
			},
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: ptr.To(uint(0)),
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: ptr.To(uint(0)),
					},
				},
			},
			Channels: []libvirtxml.DomainChannel{
				{
					Source: &libvirtxml.DomainChardevSource{
						UNIX: &libvirtxml.DomainChardevSourceUNIX{
							Mode: "bind",
						},
					},
					Target: &libvirtxml.DomainChannelTarget{
						VirtIO: &libvirtxml.DomainChannelTargetVirtIO{
							Name: guestAgentChannel,
						},
					},
				},
			},
			Graphics: []libvirtxml.DomainGraphic{
				{
					VNC: &libvirtxml.DomainGraphicVNC{
						Port:     -1,
						AutoPort: "yes",
					},
				},
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal domain XML: %w", err)
	}

	return xml, nil
}

// buildNetworkInterface creates the virtio interface for attachment.
func buildNetworkInterface(attachment NetworkAttachment) libvirtxml.DomainInterface {
	iface := libvirtxml.DomainInterface{
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}

	switch attachment.Mode {
	case NetworkModeBridge:
		iface.Source = &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{
				Bridge: attachment.Source,
			},
		}
	default:
		networkName := DefaultNetwork
		if attachment.Source != "" {
			networkName = attachment.Source
		}
		iface.Source = &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{
				Network: networkName,
			},
		}
	}

	return iface
}

// DiskPathsFromXML returns the file-backed disk paths of a domain
// definition, in device order. Install media (cdrom/floppy) and
// non-file sources are skipped.
func DiskPathsFromXML(domainXML string) ([]string, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return nil, fmt.Errorf("parse domain XML: %w", err)
	}

	if domain.Devices == nil {
		return nil, nil
	}

	var (
		paths []string
		seen  = make(map[string]struct{})
	)
	for _, d := range domain.Devices.Disks {
		if d.Device != "" && d.Device != "disk" {
			continue
		}
		if d.Source == nil || d.Source.File == nil || d.Source.File.File == "" {
			continue
		}
		path := d.Source.File.File
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	return paths, nil
}

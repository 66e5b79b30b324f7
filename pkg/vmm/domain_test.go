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

package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirtxml"
)

func baseDescriptor() MachineDescriptor {
	return MachineDescriptor{
		Name:     "test-vm",
		MemoryMB: 2048,
		VCPUs:    2,
		DiskPath: "/var/lib/libvirt/images/test-vm.qcow2",
	}
}

func parseDomain(t *testing.T, xmlStr string) libvirtxml.Domain {
	t.Helper()

	var domain libvirtxml.Domain
	require.NoError(t, domain.Unmarshal(xmlStr))
	return domain
}

func TestBuildDomainXML_Basics(t *testing.T) {
	d := baseDescriptor()
	d.UUID = "6f1b2c3d-0000-4000-8000-000000000001"

	xmlStr, err := BuildDomainXML(d)
	require.NoError(t, err)

	domain := parseDomain(t, xmlStr)

	assert.Equal(t, "kvm", domain.Type)
	assert.Equal(t, "test-vm", domain.Name)
	assert.Equal(t, d.UUID, domain.UUID)

	require.NotNil(t, domain.Memory)
	assert.Equal(t, uint(2048), domain.Memory.Value)
	assert.Equal(t, "MiB", domain.Memory.Unit)

	require.NotNil(t, domain.VCPU)
	assert.Equal(t, uint(2), domain.VCPU.Value)

	require.NotNil(t, domain.OS)
	require.Len(t, domain.OS.BootDevices, 1)
	assert.Equal(t, "hd", domain.OS.BootDevices[0].Dev)
	assert.Equal(t, "hvm", domain.OS.Type.Type)

	require.NotNil(t, domain.Devices)
	require.Len(t, domain.Devices.Disks, 1)
	disk := domain.Devices.Disks[0]
	assert.Equal(t, "disk", disk.Device)
	assert.Equal(t, "qcow2", disk.Driver.Type)
	assert.Equal(t, d.DiskPath, disk.Source.File.File)
	assert.Equal(t, "vda", disk.Target.Dev)
	assert.Equal(t, "virtio", disk.Target.Bus)

	require.Len(t, domain.Devices.Graphics, 1)
	require.NotNil(t, domain.Devices.Graphics[0].VNC)
	assert.Equal(t, -1, domain.Devices.Graphics[0].VNC.Port)
	assert.Equal(t, "yes", domain.Devices.Graphics[0].VNC.AutoPort)

	require.Len(t, domain.Devices.Serials, 1)
	require.Len(t, domain.Devices.Consoles, 1)
	assert.Equal(t, "serial", domain.Devices.Consoles[0].Target.Type)

	require.Len(t, domain.Devices.Channels, 1)
	assert.Equal(t, guestAgentChannel, domain.Devices.Channels[0].Target.VirtIO.Name)
}

func TestBuildDomainXML_InstallMedia(t *testing.T) {
	d := baseDescriptor()
	d.ISOPath = "/isos/install.iso"

	xmlStr, err := BuildDomainXML(d)
	require.NoError(t, err)

	domain := parseDomain(t, xmlStr)

	require.Len(t, domain.OS.BootDevices, 2)
	assert.Equal(t, "cdrom", domain.OS.BootDevices[0].Dev)
	assert.Equal(t, "hd", domain.OS.BootDevices[1].Dev)

	require.Len(t, domain.Devices.Disks, 2)
	cdrom := domain.Devices.Disks[1]
	assert.Equal(t, "cdrom", cdrom.Device)
	assert.Equal(t, "raw", cdrom.Driver.Type)
	assert.Equal(t, "/isos/install.iso", cdrom.Source.File.File)
	assert.NotNil(t, cdrom.ReadOnly)
}

func TestBuildDomainXML_Network(t *testing.T) {
	tests := []struct {
		name            string
		attachment      NetworkAttachment
		expectedNetwork string
		expectedBridge  string
	}{
		{
			name:            "default network",
			attachment:      NetworkAttachment{},
			expectedNetwork: DefaultNetwork,
		},
		{
			name:            "named network",
			attachment:      NetworkAttachment{Mode: NetworkModeNetwork, Source: "lab"},
			expectedNetwork: "lab",
		},
		{
			name:           "host bridge",
			attachment:     NetworkAttachment{Mode: NetworkModeBridge, Source: "kvmbr0"},
			expectedBridge: "kvmbr0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := baseDescriptor()
			d.Network = tt.attachment

			xmlStr, err := BuildDomainXML(d)
			require.NoError(t, err)

			domain := parseDomain(t, xmlStr)
			require.Len(t, domain.Devices.Interfaces, 1)
			iface := domain.Devices.Interfaces[0]
			require.NotNil(t, iface.Source)
			assert.Equal(t, "virtio", iface.Model.Type)

			if tt.expectedBridge != "" {
				require.NotNil(t, iface.Source.Bridge)
				assert.Equal(t, tt.expectedBridge, iface.Source.Bridge.Bridge)
				return
			}
			require.NotNil(t, iface.Source.Network)
			assert.Equal(t, tt.expectedNetwork, iface.Source.Network.Network)
		})
	}
}

func TestBuildDomainXML_Emulator(t *testing.T) {
	d := baseDescriptor()
	d.Emulator = "/usr/libexec/qemu-kvm"

	xmlStr, err := BuildDomainXML(d)
	require.NoError(t, err)

	assert.Equal(t, "/usr/libexec/qemu-kvm", parseDomain(t, xmlStr).Devices.Emulator)
}

func TestBuildDomainXML_Deterministic(t *testing.T) {
	d := baseDescriptor()
	d.ISOPath = "/isos/install.iso"
	d.Network = NetworkAttachment{Mode: NetworkModeBridge, Source: "kvmbr0"}

	first, err := BuildDomainXML(d)
	require.NoError(t, err)

	for range 10 {
		again, err := BuildDomainXML(d)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildDomainXML_InvalidDescriptor(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MachineDescriptor)
	}{
		{"empty name", func(d *MachineDescriptor) { d.Name = "" }},
		{"zero memory", func(d *MachineDescriptor) { d.MemoryMB = 0 }},
		{"negative vcpus", func(d *MachineDescriptor) { d.VCPUs = -1 }},
		{"empty disk path", func(d *MachineDescriptor) { d.DiskPath = "" }},
		{"bridge without name", func(d *MachineDescriptor) { d.Network = NetworkAttachment{Mode: NetworkModeBridge} }},
		{"unknown network mode", func(d *MachineDescriptor) { d.Network = NetworkAttachment{Mode: "user"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := baseDescriptor()
			tt.mutate(&d)

			_, err := BuildDomainXML(d)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestDiskPathsFromXML(t *testing.T) {
	domainXML := `<domain type='kvm'>
  <name>vm1</name>
  <devices>
    <disk type='file' device='disk'>
      <driver name='qemu' type='qcow2'/>
      <source file='/images/vm1.qcow2'/>
      <target dev='vda' bus='virtio'/>
    </disk>
    <disk type='file' device='cdrom'>
      <source file='/isos/install.iso'/>
      <target dev='hdc' bus='ide'/>
      <readonly/>
    </disk>
    <disk type='file' device='disk'>
      <driver name='qemu' type='raw'/>
      <source file='/images/vm1-data.img'/>
      <target dev='vdb' bus='virtio'/>
    </disk>
    <disk type='block' device='disk'>
      <source dev='/dev/sdb'/>
      <target dev='vdc' bus='virtio'/>
    </disk>
  </devices>
</domain>`

	paths, err := DiskPathsFromXML(domainXML)
	require.NoError(t, err)
	assert.Equal(t, []string{"/images/vm1.qcow2", "/images/vm1-data.img"}, paths)
}

func TestDiskPathsFromXML_RoundTrip(t *testing.T) {
	d := baseDescriptor()
	d.ISOPath = "/isos/install.iso"

	xmlStr, err := BuildDomainXML(d)
	require.NoError(t, err)

	paths, err := DiskPathsFromXML(xmlStr)
	require.NoError(t, err)
	assert.Equal(t, []string{d.DiskPath}, paths)
}

func TestDiskPathsFromXML_Invalid(t *testing.T) {
	_, err := DiskPathsFromXML("<domain")
	assert.Error(t, err)
}

// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package network inspects the libvirt virtual networks VMs attach to.
//
// LibvirtNetworkManager is read-only: networks are provisioned outside vcl
// (virsh net-define, distribution defaults) and only listed or looked up
// here, e.g. to check that the network named in a create request exists.
//
// # Example Usage
//
//	conn := vmm.NewLibvirtConnection("qemu:///system")
//	if err := conn.Connect(); err != nil {
//	    // handle error
//	}
//	defer conn.Close()
//
//	mgr := network.NewLibvirtNetworkManager(conn.Raw())
//	info, err := mgr.Get(ctx, "default")
//	if errors.Is(err, network.ErrNetworkNotFound) {
//	    // network doesn't exist
//	}
package network

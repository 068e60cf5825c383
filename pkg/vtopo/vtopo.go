// Package vtopo implements the virtual-topology loader (C3): it parses a
// virtual-topology JSON document into VM specifications and their
// bandwidth-weighted links, resolving each VM's effective flavor against
// the compute collaborator.
package vtopo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Cloudslab/sdcon/internal/sdcerr"
)

// FlavorResolver is the subset of the compute collaborator's API the
// loader needs to resolve a VM's effective flavor. pkg/compute's Client
// satisfies this.
type FlavorResolver interface {
	// ResolveFlavor returns the name of a flavor providing at least the
	// given cores and memory (MiB).
	ResolveFlavor(cores int, memoryMiB int64) (string, error)
	// FlavorResources returns a named flavor's actual core count and
	// memory (MiB); these may differ from what was requested because
	// flavors are fixed-size.
	FlavorResources(flavorName string) (cores int, memoryMiB int64, err error)
}

// VmSpec is one VM's resource and placement requirements, after flavor
// resolution. It satisfies pkg/inventory's Workload interface.
type VmSpec struct {
	Name        string
	MIPS        int
	Cores       int
	Memory      int64 // MiB
	Bandwidth   int64 // bits/s
	StorageSize int64 // GiB
	FlavorName  string
	ImageName   string
	NetworkName string
}

// CoresNeeded satisfies pkg/inventory.Workload.
func (v *VmSpec) CoresNeeded() int { return v.Cores }

// MemoryNeeded satisfies pkg/inventory.Workload.
func (v *VmSpec) MemoryNeeded() int64 { return v.Memory }

func (v *VmSpec) String() string {
	return fmt.Sprintf("VmSpec: name=%s, flavor=%s, cpu=%d, memory=%d, bw=%d",
		v.Name, v.FlavorName, v.Cores, v.Memory, v.Bandwidth)
}

// Link is a bandwidth-weighted edge between two VMs named in the virtual
// topology document. Links with bandwidth <= 0 are dropped at load time.
type Link struct {
	Source      string
	Destination string
	Bandwidth   int64
}

// VirtualTopology is a parsed virtual-topology document: the VMs it
// declares, indexed by name, and the bandwidth links between them.
type VirtualTopology struct {
	vms   map[string]*VmSpec
	links []Link
}

type jsonNode struct {
	Name    string `json:"name"`
	Flavor  string `json:"flavor,omitempty"`
	Image   string `json:"image"`
	Network string `json:"network"`
	Size    int64  `json:"size,omitempty"`
	BW      int64  `json:"bw,omitempty"`
	MIPS    int    `json:"mips,omitempty"`
	Pes     int    `json:"pes,omitempty"`
	RAM     int64  `json:"ram,omitempty"`
}

type jsonLink struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Bandwidth   int64  `json:"bandwidth,omitempty"`
}

type jsonDoc struct {
	Nodes []jsonNode `json:"nodes"`
	Links []jsonLink `json:"links"`
}

// Load parses the virtual-topology document at path and resolves each
// VM's effective flavor through resolver. A node that already names a
// flavor keeps it; a node without one is assigned the smallest flavor
// that covers its requested cores/memory. Either way the VM's cores and
// memory are then set to the flavor's actual values, since flavors are
// fixed-size on the compute collaborator.
func Load(path string, resolver FlavorResolver) (*VirtualTopology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vtopo: reading %s: %w", path, err)
	}

	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("vtopo: parsing %s: %w", path, err)
	}

	vt := &VirtualTopology{vms: make(map[string]*VmSpec)}

	for _, node := range doc.Nodes {
		vm, err := parseNode(node, resolver)
		if err != nil {
			return nil, fmt.Errorf("vtopo: node %q: %w", node.Name, err)
		}
		vt.vms[vm.Name] = vm
	}

	validation := &sdcerr.ValidationBuilder{}
	for _, link := range doc.Links {
		if link.Bandwidth <= 0 {
			continue
		}
		_, srcOK := vt.vms[link.Source]
		_, dstOK := vt.vms[link.Destination]
		validation.Add(srcOK, fmt.Sprintf("link source %q is not a declared node", link.Source))
		validation.Add(dstOK, fmt.Sprintf("link destination %q is not a declared node", link.Destination))
		if !srcOK || !dstOK {
			continue
		}

		vt.links = append(vt.links, Link{
			Source:      link.Source,
			Destination: link.Destination,
			Bandwidth:   link.Bandwidth,
		})
		vt.vms[link.Source].Bandwidth = link.Bandwidth
	}
	if err := validation.Build(); err != nil {
		return nil, fmt.Errorf("vtopo: %s: %w", path, err)
	}

	return vt, nil
}

func parseNode(node jsonNode, resolver FlavorResolver) (*VmSpec, error) {
	vm := &VmSpec{
		Name:        node.Name,
		ImageName:   node.Image,
		NetworkName: node.Network,
		FlavorName:  node.Flavor,
	}
	if node.Flavor == "" {
		vm.StorageSize = node.Size
		vm.Bandwidth = node.BW
		vm.MIPS = node.MIPS
		vm.Cores = node.Pes
		vm.Memory = node.RAM
	}

	if vm.FlavorName == "" {
		flavor, err := resolver.ResolveFlavor(vm.Cores, vm.Memory)
		if err != nil {
			return nil, fmt.Errorf("resolving flavor: %w", err)
		}
		vm.FlavorName = flavor
	}
	cores, memory, err := resolver.FlavorResources(vm.FlavorName)
	if err != nil {
		return nil, fmt.Errorf("reading flavor %q resources: %w", vm.FlavorName, err)
	}
	vm.Cores, vm.Memory = cores, memory

	return vm, nil
}

// VMs returns every parsed VM, in no particular order.
func (vt *VirtualTopology) VMs() []*VmSpec {
	vms := make([]*VmSpec, 0, len(vt.vms))
	for _, vm := range vt.vms {
		vms = append(vms, vm)
	}
	return vms
}

// Links returns the bandwidth links declared in the document.
func (vt *VirtualTopology) Links() []Link {
	return append([]Link(nil), vt.links...)
}

// VMSpec returns the named VM, if declared.
func (vt *VirtualTopology) VMSpec(name string) (*VmSpec, bool) {
	vm, ok := vt.vms[name]
	return vm, ok
}

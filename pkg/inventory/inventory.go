// Package inventory implements the topology inventory builder (C2): a
// tiered tree of root/pod/edge/host nodes with aggregate resource
// counters, built from the compute controller's host resources and the
// physical topology's pod/edge grouping.
package inventory

import (
	"fmt"

	"github.com/Cloudslab/sdcon/internal/sdcerr"
)

// NodeType is the tier of an inventory node.
type NodeType int

const (
	Root NodeType = iota
	Pod
	Edge
	Host
)

func (t NodeType) String() string {
	switch t {
	case Root:
		return "Root"
	case Pod:
		return "Pod"
	case Edge:
		return "Edge"
	case Host:
		return "Host"
	default:
		return "Unknown"
	}
}

// Workload is the resource shape a VM must carry to be assigned against an
// inventory node. pkg/vtopo's VmSpec satisfies this.
type Workload interface {
	CoresNeeded() int
	MemoryNeeded() int64
}

// Node is one tier of the inventory tree. Host nodes carry real resource
// counters reported by the compute controller; Root/Pod/Edge nodes carry
// counters aggregated from their subtree.
type Node struct {
	Name string
	Type NodeType

	VCPUs      int
	VCPUsUsed  int
	MemorySize int64
	MemoryUsed int64
	MemoryFree int64
	RunningVMs int

	Parent   *Node
	Children []*Node
}

// FreeCores returns the node's unused vCPU capacity.
func (n *Node) FreeCores() int {
	return n.VCPUs - n.VCPUsUsed
}

// AssignVM records w as scheduled onto n, propagating the usage increment
// up through every ancestor so pod/edge/root aggregates stay current
// without a full re-aggregate pass.
func (n *Node) AssignVM(w Workload) {
	n.VCPUsUsed += w.CoresNeeded()
	n.MemoryUsed += w.MemoryNeeded()
	n.MemoryFree -= w.MemoryNeeded()
	n.RunningVMs++
	if n.Parent != nil {
		n.Parent.AssignVM(w)
	}
}

func (n *Node) aggregate() {
	for _, sub := range n.Children {
		sub.aggregate()
		n.VCPUs += sub.VCPUs
		n.VCPUsUsed += sub.VCPUsUsed
		n.MemorySize += sub.MemorySize
		n.MemoryUsed += sub.MemoryUsed
		n.MemoryFree += sub.MemoryFree
		n.RunningVMs += sub.RunningVMs
	}
}

// SubHosts returns every Host-tier descendant of n, in subtree order.
func (n *Node) SubHosts() []*Node {
	if n.Type == Host {
		return []*Node{n}
	}
	var hosts []*Node
	for _, sub := range n.Children {
		hosts = append(hosts, sub.SubHosts()...)
	}
	return hosts
}

// HostResources is one compute host's resource snapshot, as reported by
// the compute controller.
type HostResources struct {
	Name       string
	VCPUs      int
	VCPUsUsed  int
	MemorySize int64
	MemoryUsed int64
	MemoryFree int64
	RunningVMs int
}

// Inventory is the tiered inventory tree.
type Inventory struct {
	root *Node
}

// Build assembles the inventory tree from the physical topology's
// pod/edge/host grouping (hostnames nested [pod][edge][host]) and the
// compute controller's per-host resource snapshot. A host name present in
// the topology but missing from hosts is a collaborator-consistency error.
func Build(podEdgeHosts [][][]string, hosts map[string]HostResources) (*Inventory, error) {
	root := &Node{Type: Root, Name: "root"}

	for _, pod := range podEdgeHosts {
		podNode := &Node{Type: Pod, Parent: root}
		for _, edgeHosts := range pod {
			edgeNode := &Node{Type: Edge, Parent: podNode}
			for _, hostName := range edgeHosts {
				hr, ok := hosts[hostName]
				if !ok {
					return nil, sdcerr.NewNotFound("host", hostName)
				}
				hostNode := &Node{
					Type:       Host,
					Name:       hr.Name,
					VCPUs:      hr.VCPUs,
					VCPUsUsed:  hr.VCPUsUsed,
					MemorySize: hr.MemorySize,
					MemoryUsed: hr.MemoryUsed,
					MemoryFree: hr.MemoryFree,
					RunningVMs: hr.RunningVMs,
					Parent:     edgeNode,
				}
				edgeNode.Children = append(edgeNode.Children, hostNode)
			}
			podNode.Children = append(podNode.Children, edgeNode)
		}
		root.Children = append(root.Children, podNode)
	}
	root.aggregate()

	return &Inventory{root: root}, nil
}

// Pods returns the top-level pod nodes.
func (inv *Inventory) Pods() []*Node {
	return inv.root.Children
}

// AllEdges returns every edge node across every pod.
func (inv *Inventory) AllEdges() []*Node {
	var edges []*Node
	for _, pod := range inv.root.Children {
		edges = append(edges, pod.Children...)
	}
	return edges
}

// AllHosts returns every host node in the inventory.
func (inv *Inventory) AllHosts() []*Node {
	return inv.root.SubHosts()
}

// FindHostNode returns the host node with the given name.
func (inv *Inventory) FindHostNode(hostName string) (*Node, error) {
	for _, host := range inv.root.SubHosts() {
		if host.Name == hostName {
			return host, nil
		}
	}
	return nil, sdcerr.NewNotFound("host", hostName)
}

// NearbyHosts returns the edge node a host belongs to, or its pod node
// when searchPod is true.
func (inv *Inventory) NearbyHosts(hostName string, searchPod bool) (*Node, error) {
	for _, pod := range inv.root.Children {
		for _, edge := range pod.Children {
			for _, host := range edge.Children {
				if host.Name == hostName {
					if searchPod {
						return pod, nil
					}
					return edge, nil
				}
			}
		}
	}
	return nil, sdcerr.NewNotFound("host", hostName)
}

func (n *Node) String() string {
	return fmt.Sprintf("type=%s name=%s vcpus_free=%d/%d memory_free=%d/%d running_vms=%d",
		n.Type, n.Name, n.FreeCores(), n.VCPUs, n.MemoryFree, n.MemorySize, n.RunningVMs)
}

// Package topology implements the physical topology model (C1): an
// in-memory graph of switches and hosts built from the SDN controller's
// topology listing, with port/peer maps and shortest-path queries.
package topology

import (
	"fmt"
	"sort"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/util"
)

// Node is a switch or host in the physical topology.
type Node struct {
	ID   string
	Kind idconv.Kind

	// portToPeer and peerToPort hold switch adjacency; unused for hosts.
	portToPeer map[int]string
	peerToPort map[string]int

	// hostPeer is the edge switch a host attaches to; empty for switches.
	hostPeer string
}

func newNode(id string, kind idconv.Kind) *Node {
	return &Node{
		ID:         id,
		Kind:       kind,
		portToPeer: make(map[int]string),
		peerToPort: make(map[string]int),
	}
}

// Ports returns the node's port numbers in ascending order.
func (n *Node) Ports() []int {
	ports := make([]int, 0, len(n.portToPeer))
	for p := range n.portToPeer {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// TerminationPoint describes one SDN-controller termination point on a
// switch, prior to link resolution. Ports whose name is "LOCAL" or whose
// state is link-down are skipped when building the topology.
type TerminationPoint struct {
	NodeID string
	Port   int
	Name   string
	Down   bool
}

// LinkDesc describes one symmetric SDN-controller link between two switch
// ports.
type LinkDesc struct {
	SourceNode string
	SourcePort int
	DestNode   string
	DestPort   int
}

// HostDesc describes a host reported by the SDN controller's host tracker:
// its MAC/IP pair and the switch port it is attached to.
type HostDesc struct {
	MAC            string
	IP             string
	AttachmentNode string
	AttachmentPort int
}

// Topology is the in-memory graph of switches and hosts.
type Topology struct {
	nodes   map[string]*Node
	macToIP map[string]string
	ipToMac map[string]string
}

// New returns an empty topology.
func New() *Topology {
	return &Topology{
		nodes:   make(map[string]*Node),
		macToIP: make(map[string]string),
		ipToMac: make(map[string]string),
	}
}

func (t *Topology) nodeFor(id string) *Node {
	if n, ok := t.nodes[id]; ok {
		return n
	}
	n := newNode(id, idconv.ClassifyID(id))
	t.nodes[id] = n
	return n
}

// Build assembles the topology from the SDN controller's termination
// points, links and host-tracker addresses. Termination points that are
// link-down or named "LOCAL" are skipped. Each link adds a symmetric edge
// and sets port->peer on both ends; each host is attached as a peer on its
// switch side and recorded in both the MAC and IP dictionaries.
func Build(tps []TerminationPoint, links []LinkDesc, hosts []HostDesc) (*Topology, error) {
	t := New()

	valid := make(map[string]map[int]bool)
	for _, tp := range tps {
		if tp.Down || tp.Name == "LOCAL" {
			continue
		}
		t.nodeFor(tp.NodeID)
		if valid[tp.NodeID] == nil {
			valid[tp.NodeID] = make(map[int]bool)
		}
		valid[tp.NodeID][tp.Port] = true
	}

	for _, l := range links {
		if !valid[l.SourceNode][l.SourcePort] || !valid[l.DestNode][l.DestPort] {
			continue
		}
		src := t.nodeFor(l.SourceNode)
		dst := t.nodeFor(l.DestNode)
		src.portToPeer[l.SourcePort] = l.DestNode
		src.peerToPort[l.DestNode] = l.SourcePort
		dst.portToPeer[l.DestPort] = l.SourceNode
		dst.peerToPort[l.SourceNode] = l.DestPort
	}

	for _, h := range hosts {
		if h.MAC == "" || h.IP == "" {
			obs.WithComponent("topology").Warnf("skipping host with incomplete address: mac=%q ip=%q", h.MAC, h.IP)
			continue
		}
		if !util.IsValidIPv4(h.IP) {
			obs.WithComponent("topology").Warnf("skipping host with malformed ip: mac=%q ip=%q", h.MAC, h.IP)
			continue
		}
		mac, err := util.NormalizeMACAddress(h.MAC)
		if err != nil {
			obs.WithComponent("topology").Warnf("skipping host with malformed mac %q: %v", h.MAC, err)
			continue
		}

		host := t.nodeFor(mac)
		host.hostPeer = h.AttachmentNode
		t.macToIP[mac] = h.IP
		t.ipToMac[h.IP] = mac

		if sw, ok := t.nodes[h.AttachmentNode]; ok {
			sw.portToPeer[h.AttachmentPort] = mac
			sw.peerToPort[mac] = h.AttachmentPort
		}
	}

	return t, nil
}

// Node returns the node with the given id, if present.
func (t *Topology) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// MACForIP resolves a host IP to its MAC address.
func (t *Topology) MACForIP(ip string) (string, bool) {
	mac, ok := t.ipToMac[ip]
	return mac, ok
}

// IPForMAC resolves a host MAC address to its IP.
func (t *Topology) IPForMAC(mac string) (string, bool) {
	ip, ok := t.macToIP[mac]
	return ip, ok
}

// Peer returns the node id connected to node's given port. A missing peer
// is not an error: the second return value reports presence.
func (t *Topology) Peer(node string, port int) (string, bool) {
	n, ok := t.nodes[node]
	if !ok {
		return "", false
	}
	peer, ok := n.portToPeer[port]
	return peer, ok
}

// Port returns the port on node facing peer.
func (t *Topology) Port(node, peer string) (int, bool) {
	n, ok := t.nodes[node]
	if !ok {
		return 0, false
	}
	port, ok := n.peerToPort[peer]
	return port, ok
}

// AllShortestPaths resolves srcIP and dstIP to their host MACs and returns
// every shortest path between them as a sequence of node ids (host, ...,
// host), found by an undirected breadth-first search.
func (t *Topology) AllShortestPaths(srcIP, dstIP string) ([][]string, error) {
	srcMAC, ok := t.ipToMac[srcIP]
	if !ok {
		return nil, fmt.Errorf("topology: no host known for ip %s", srcIP)
	}
	dstMAC, ok := t.ipToMac[dstIP]
	if !ok {
		return nil, fmt.Errorf("topology: no host known for ip %s", dstIP)
	}
	if srcMAC == dstMAC {
		return [][]string{{srcMAC}}, nil
	}

	// BFS layer by layer, tracking every predecessor at the shortest
	// distance so all shortest paths (not just one) can be reconstructed.
	dist := map[string]int{srcMAC: 0}
	preds := map[string][]string{}
	queue := []string{srcMAC}
	found := false

	for i := 0; i < len(queue) && !found; i++ {
		cur := queue[i]
		n, ok := t.nodes[cur]
		if !ok {
			continue
		}
		neighbors := t.neighborsOf(n)
		for _, next := range neighbors {
			nd, seen := dist[next]
			switch {
			case !seen:
				dist[next] = dist[cur] + 1
				preds[next] = []string{cur}
				queue = append(queue, next)
				if next == dstMAC {
					found = true
				}
			case nd == dist[cur]+1:
				preds[next] = append(preds[next], cur)
			}
		}
	}

	if _, ok := dist[dstMAC]; !ok {
		return nil, fmt.Errorf("topology: no path from %s to %s", srcIP, dstIP)
	}

	var paths [][]string
	var walk func(node string, suffix []string)
	walk = func(node string, suffix []string) {
		path := append([]string{node}, suffix...)
		if node == srcMAC {
			full := make([]string, len(path))
			copy(full, path)
			paths = append(paths, full)
			return
		}
		for _, p := range preds[node] {
			walk(p, path)
		}
	}
	walk(dstMAC, nil)
	return paths, nil
}

func (t *Topology) neighborsOf(n *Node) []string {
	var neighbors []string
	if n.Kind.IsHost() {
		if n.hostPeer != "" {
			neighbors = append(neighbors, n.hostPeer)
		}
		return neighbors
	}
	for _, peer := range n.portToPeer {
		neighbors = append(neighbors, peer)
	}
	sort.Strings(neighbors)
	return neighbors
}

// SwitchIDs returns every switch node id in the topology (Core,
// Aggregation and Edge), sorted. Host nodes are excluded.
func (t *Topology) SwitchIDs() []string {
	var ids []string
	for id, n := range t.nodes {
		if n.Kind.IsSwitch() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// switchesOfKind returns every switch node id of the given kind, sorted.
func (t *Topology) switchesOfKind(kind idconv.Kind) []string {
	var ids []string
	for id, n := range t.nodes {
		if n.Kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HostIPsOf returns the IPs of every host directly attached to an edge
// switch, sorted.
func (t *Topology) HostIPsOf(edgeSwitch string) []string {
	n, ok := t.nodes[edgeSwitch]
	if !ok {
		return nil
	}
	var ips []string
	for _, peer := range n.portToPeer {
		peerNode, ok := t.nodes[peer]
		if !ok || !peerNode.Kind.IsHost() {
			continue
		}
		if ip, ok := t.macToIP[peer]; ok {
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)
	return ips
}

// PodEdgeHosts derives the pod/edge/host grouping pkg/inventory needs,
// straight from the physical topology: every Edge switch contributes its
// attached host IPs, and pods are the sets of Edge switches that share at
// least one Aggregation neighbor, deduplicated by their frozen Edge
// membership.
func (t *Topology) PodEdgeHosts() [][][]string {
	edgeToHosts := make(map[string][]string)
	for _, edge := range t.switchesOfKind(idconv.KindEdge) {
		edgeToHosts[edge] = t.HostIPsOf(edge)
	}

	seen := make(map[string]bool)
	var pods [][][]string
	for _, agg := range t.switchesOfKind(idconv.KindAggregation) {
		aggNode := t.nodes[agg]
		var edges []string
		for _, peer := range aggNode.portToPeer {
			if peerNode, ok := t.nodes[peer]; ok && peerNode.Kind == idconv.KindEdge {
				edges = append(edges, peer)
			}
		}
		if len(edges) == 0 {
			continue
		}
		sort.Strings(edges)
		key := fmt.Sprintf("%v", edges)
		if seen[key] {
			continue
		}
		seen[key] = true

		pod := make([][]string, 0, len(edges))
		for _, edge := range edges {
			pod = append(pod, edgeToHosts[edge])
		}
		pods = append(pods, pod)
	}
	return pods
}

// PortHop is one switch-traversal step along a resolved path.
type PortHop struct {
	InPort  int
	Switch  string
	OutPort int
}

// SwitchPortMap walks a node-id path (host, switch, ..., switch, host) and
// returns the ordered (inport, switch, outport) triples for every switch
// hop, excluding the host endpoints.
func (t *Topology) SwitchPortMap(path []string) ([]PortHop, error) {
	var hops []PortHop
	for i := 1; i < len(path)-1; i++ {
		sw := path[i]
		prev := path[i-1]
		next := path[i+1]

		inPort, ok := t.Port(sw, prev)
		if !ok {
			return nil, fmt.Errorf("topology: no port on %s facing %s", sw, prev)
		}
		outPort, ok := t.Port(sw, next)
		if !ok {
			return nil, fmt.Errorf("topology: no port on %s facing %s", sw, next)
		}
		hops = append(hops, PortHop{InPort: inPort, Switch: sw, OutPort: outPort})
	}
	return hops, nil
}

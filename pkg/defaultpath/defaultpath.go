// Package defaultpath implements the default-path programmer (C5): it
// partitions each Aggregation and Edge switch's ports into up-ports and
// down-ports and pairs them into an ECMP-like ingress/egress port match
// keyed solely on inport.
package defaultpath

import (
	"fmt"
	"sort"

	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/topology"
)

// PortMatch is one switch's inport->outport default forwarding table.
type PortMatch map[int]int

// Table is the full set of per-switch default port matches, built once
// per topology snapshot and reused until the topology changes.
type Table struct {
	matches map[string]PortMatch
}

// Build partitions every Aggregation and Edge switch's ports into
// up-ports (peer tier is strictly higher) and down-ports (peer tier is
// lower, or a host), then pairs down[i % len(down)] -> up[i % len(up)]
// for i in [0, max(len(up), len(down))).
func Build(topo *topology.Topology, nodeIDs []string) (*Table, error) {
	t := &Table{matches: make(map[string]PortMatch)}

	for _, id := range nodeIDs {
		kind := idconv.ClassifyID(id)
		if kind != idconv.KindAggregation && kind != idconv.KindEdge {
			continue
		}
		node, ok := topo.Node(id)
		if !ok {
			return nil, fmt.Errorf("defaultpath: unknown switch %s", id)
		}

		up, down, err := splitUpDown(topo, node, kind)
		if err != nil {
			return nil, err
		}
		if len(up) == 0 || len(down) == 0 {
			continue
		}

		match := make(PortMatch, len(down))
		n := len(up)
		if len(down) > n {
			n = len(down)
		}
		for i := 0; i < n; i++ {
			inPort := down[i%len(down)]
			outPort := up[i%len(up)]
			match[inPort] = outPort
		}
		t.matches[id] = match
	}

	return t, nil
}

func splitUpDown(topo *topology.Topology, node *topology.Node, kind idconv.Kind) (up, down []int, err error) {
	for _, port := range node.Ports() {
		peer, ok := topo.Peer(node.ID, port)
		if !ok {
			continue
		}
		peerKind := idconv.ClassifyID(peer)
		if isUpperTier(kind, peerKind) {
			up = append(up, port)
		} else {
			down = append(down, port)
		}
	}
	sort.Ints(up)
	sort.Ints(down)
	return up, down, nil
}

// isUpperTier reports whether peerKind sits strictly above kind in the
// fat-tree hierarchy (Core > Aggregation > Edge > host).
func isUpperTier(kind, peerKind idconv.Kind) bool {
	rank := func(k idconv.Kind) int {
		switch k {
		case idconv.KindCore:
			return 3
		case idconv.KindAggregation:
			return 2
		case idconv.KindEdge:
			return 1
		default:
			return 0
		}
	}
	return rank(peerKind) > rank(kind)
}

// Outport returns the default egress port for a packet entering switch on
// inport, if the switch has a default-path entry for it.
func (t *Table) Outport(switchID string, inPort int) (int, bool) {
	match, ok := t.matches[switchID]
	if !ok {
		return 0, false
	}
	out, ok := match[inPort]
	return out, ok
}

// Switches returns the ids of every switch with a default-path entry.
func (t *Table) Switches() []string {
	ids := make([]string, 0, len(t.matches))
	for id := range t.matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PortMatchFor returns a switch's full inport->outport table.
func (t *Table) PortMatchFor(switchID string) PortMatch {
	match := t.matches[switchID]
	out := make(PortMatch, len(match))
	for k, v := range match {
		out[k] = v
	}
	return out
}

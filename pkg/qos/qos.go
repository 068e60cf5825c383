// Package qos implements the QoS/queue planner (C6): it resolves a path
// for each requested (src, dst) bandwidth reservation, walks its switch
// hops, and assigns queue numbers per switch, ready for the installer to
// push to the SDN collaborator.
package qos

import (
	"fmt"
	"sort"

	"github.com/Cloudslab/sdcon/pkg/topology"
)

const queueNumberBase = 10

// pair is a (src, dst) IP key.
type pair struct {
	src, dst string
}

// Reservation is one requested bandwidth guarantee between two hosts.
type Reservation struct {
	SrcIP      string
	DstIP      string
	MinBW      int64
	MaxBW      int64
	PinnedPath []string // optional; node-id path, overrides the resolver
}

// PathResolver returns the path (as a node-id slice, host...host) to use
// for a reservation lacking a pinned path. pkg/defaultpath and
// pkg/topology.Topology.AllShortestPaths back the default implementation.
type PathResolver func(srcIP, dstIP string) ([]string, error)

// QueueEntry is one flow queued on a switch outport.
type QueueEntry struct {
	Outport int
	SrcIP   string
	DstIP   string
	QueueNo int
}

// PortQueueConfig is a single port's queue_no/min-rate/max-rate triples,
// as handed to the installer.
type PortQueueConfig struct {
	QueueNo int
	MinRate int64
	MaxRate int64
}

// Plan is the fully resolved queue configuration: per switch, per port,
// the queue configs to install and the flows to enqueue against them.
type Plan struct {
	switchQueues map[string][]QueueEntry
	queueIndex   map[string]map[pair]int
	minBW        map[pair]int64
	maxBW        map[pair]int64
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{
		switchQueues: make(map[string][]QueueEntry),
		queueIndex:   make(map[string]map[pair]int),
		minBW:        make(map[pair]int64),
		maxBW:        make(map[pair]int64),
	}
}

// Build resolves every reservation's path and walks it switch-by-switch,
// assigning the next queue number (base 10, incrementing per switch) to
// each hop and recording the (outport, src, dst) tuple for later grouping
// by GroupByPort.
func Build(topo *topology.Topology, reservations []Reservation, resolve PathResolver) (*Plan, error) {
	plan := NewPlan()

	for _, r := range reservations {
		key := pair{r.SrcIP, r.DstIP}
		plan.minBW[key] = r.MinBW
		plan.maxBW[key] = r.MaxBW

		path := r.PinnedPath
		if len(path) == 0 {
			var err error
			path, err = resolve(r.SrcIP, r.DstIP)
			if err != nil {
				return nil, fmt.Errorf("qos: resolving path for %s->%s: %w", r.SrcIP, r.DstIP, err)
			}
		}

		hops, err := topo.SwitchPortMap(path)
		if err != nil {
			return nil, fmt.Errorf("qos: walking path for %s->%s: %w", r.SrcIP, r.DstIP, err)
		}

		for _, hop := range hops {
			if plan.queueIndex[hop.Switch] == nil {
				plan.queueIndex[hop.Switch] = make(map[pair]int)
			}
			idx := len(plan.switchQueues[hop.Switch])
			plan.queueIndex[hop.Switch][key] = idx
			plan.switchQueues[hop.Switch] = append(plan.switchQueues[hop.Switch], QueueEntry{
				Outport: hop.OutPort,
				SrcIP:   r.SrcIP,
				DstIP:   r.DstIP,
				QueueNo: idx + queueNumberBase,
			})
		}
	}

	return plan, nil
}

// QueueNo returns the queue number assigned to (src, dst) at switch, or
// false if no queue was assigned there.
func (p *Plan) QueueNo(switchID, srcIP, dstIP string) (int, bool) {
	idx, ok := p.queueIndex[switchID][pair{srcIP, dstIP}]
	if !ok {
		return 0, false
	}
	return idx + queueNumberBase, true
}

// Switches returns every switch with at least one queued flow.
func (p *Plan) Switches() []string {
	ids := make([]string, 0, len(p.switchQueues))
	for id := range p.switchQueues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PortConfigs groups switch's queued flows by outport, returning each
// port's queue configs (ready for the installer's qos-entries/queues
// documents) and the flows to enqueue on it.
func (p *Plan) PortConfigs(switchID string) (configs map[int][]PortQueueConfig, flows map[int][]QueueEntry) {
	configs = make(map[int][]PortQueueConfig)
	flows = make(map[int][]QueueEntry)
	for _, entry := range p.switchQueues[switchID] {
		key := pair{entry.SrcIP, entry.DstIP}
		configs[entry.Outport] = append(configs[entry.Outport], PortQueueConfig{
			QueueNo: entry.QueueNo,
			MinRate: p.minBW[key],
			MaxRate: p.maxBW[key],
		})
		flows[entry.Outport] = append(flows[entry.Outport], entry)
	}
	return configs, flows
}

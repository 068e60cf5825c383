// Package placement implements the placement planner (C4): most-full-first
// and topology/bandwidth-aware VM-to-host placement over a topology
// inventory, plus the fallback sweep used when neither algorithm can place
// every VM.
package placement

import (
	"sort"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/internal/sdcerr"
	"github.com/Cloudslab/sdcon/pkg/inventory"
	"github.com/Cloudslab/sdcon/pkg/vtopo"
)

// Policy is a named placement algorithm.
type Policy string

const (
	PolicyMostFull       Policy = "mff"
	PolicyTopologyAware  Policy = "topo"
	bandwidthOversubscribe      = 4
)

// BandwidthConfig bounds the per-host bandwidth budget used while scoring
// candidate hosts. A zero TotalBandwidth is treated as unbounded: the
// bandwidth check is skipped entirely, since there is no sensible
// hardcoded default that holds across deployments.
type BandwidthConfig struct {
	TotalBandwidth int64 // bits/s, 0 = unbounded
}

func freeBandwidth(cfg BandwidthConfig, runningVMs int) (int64, bool) {
	if cfg.TotalBandwidth <= 0 {
		return 0, true // unbounded: skip the check
	}
	return cfg.TotalBandwidth * bandwidthOversubscribe / int64(runningVMs+1), false
}

func isAvailable(vm *vtopo.VmSpec, freeCores int, totalCores int, freeMemory int64, runningVMs int, cfg BandwidthConfig) bool {
	if freeCores < vm.Cores || freeMemory < vm.Memory {
		return false
	}
	free, unbounded := freeBandwidth(cfg, runningVMs)
	if unbounded {
		return true
	}
	return free >= vm.Bandwidth
}

func mostFullScore(freeCores, totalCores int) int {
	score := freeCores
	if totalCores > 0 && freeCores == totalCores {
		score += 100 // idle nodes sort after partially-used ones with room to spare
	}
	return score
}

func aggregateWorkload(vms []*vtopo.VmSpec) *vtopo.VmSpec {
	aggr := &vtopo.VmSpec{Name: "__aggr"}
	for _, vm := range vms {
		aggr.Cores += vm.Cores
		aggr.Memory += vm.Memory
		aggr.Bandwidth += vm.Bandwidth
	}
	return aggr
}

func vmNames(vms []*vtopo.VmSpec) []string {
	names := make([]string, len(vms))
	for i, vm := range vms {
		names[i] = vm.Name
	}
	return names
}

// mostFullAmong picks, among candidates available for vm, the one scoring
// lowest (most already in use). Ties break on name for determinism.
func mostFullAmong(vm *vtopo.VmSpec, candidates []*inventory.Node, cfg BandwidthConfig) *inventory.Node {
	var available []*inventory.Node
	for _, c := range candidates {
		if isAvailable(vm, c.FreeCores(), c.VCPUs, c.MemoryFree, c.RunningVMs, cfg) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil
	}
	sort.Slice(available, func(i, j int) bool {
		si := mostFullScore(available[i].FreeCores(), available[i].VCPUs)
		sj := mostFullScore(available[j].FreeCores(), available[j].VCPUs)
		if si != sj {
			return si < sj
		}
		return available[i].Name < available[j].Name
	})
	return available[0]
}

// PlaceMostFull places each VM, in order, on the most-full host with
// enough spare capacity, committing the assignment to inv immediately so
// later VMs in the same batch see updated counters.
func PlaceMostFull(inv *inventory.Inventory, vms []*vtopo.VmSpec, cfg BandwidthConfig) (map[string]string, error) {
	hostmap := make(map[string]string)
	var unplaced []string

	for _, vm := range vms {
		host := mostFullAmong(vm, inv.AllHosts(), cfg)
		if host == nil {
			unplaced = append(unplaced, vm.Name)
			continue
		}
		hostmap[vm.Name] = host.Name
		host.AssignVM(vm)
		obs.WithComponent("placement").Debugf("placed vm %s on host %s (mff)", vm.Name, host.Name)
	}

	if len(unplaced) > 0 {
		return hostmap, sdcerr.NewUnplaceable(unplaced)
	}
	return hostmap, nil
}

// trialHost tracks simulated usage against a host node without mutating
// the underlying inventory, so several candidate host groups can be tried
// and discarded without side effects.
type trialHost struct {
	node       *inventory.Node
	usedCores  int
	usedMemory int64
	usedVMs    int
}

func newTrialHosts(hosts []*inventory.Node) map[string]*trialHost {
	trials := make(map[string]*trialHost, len(hosts))
	for _, h := range hosts {
		trials[h.Name] = &trialHost{node: h}
	}
	return trials
}

func (th *trialHost) freeCores() int       { return th.node.FreeCores() - th.usedCores }
func (th *trialHost) freeMemory() int64    { return th.node.MemoryFree - th.usedMemory }
func (th *trialHost) runningVMs() int      { return th.node.RunningVMs + th.usedVMs }
func (th *trialHost) assign(vm *vtopo.VmSpec) {
	th.usedCores += vm.Cores
	th.usedMemory += vm.Memory
	th.usedVMs++
}

func mostFullAmongTrial(vm *vtopo.VmSpec, trials []*trialHost, cfg BandwidthConfig) *trialHost {
	var available []*trialHost
	for _, th := range trials {
		if isAvailable(vm, th.freeCores(), th.node.VCPUs, th.freeMemory(), th.runningVMs(), cfg) {
			available = append(available, th)
		}
	}
	if len(available) == 0 {
		return nil
	}
	sort.Slice(available, func(i, j int) bool {
		si := mostFullScore(available[i].freeCores(), available[i].node.VCPUs)
		sj := mostFullScore(available[j].freeCores(), available[j].node.VCPUs)
		if si != sj {
			return si < sj
		}
		return available[i].node.Name < available[j].node.Name
	})
	return available[0]
}

// bandwidthAwareCandidateGroups ranks candidate host groups (individual
// hosts, then edges, then pods) that can jointly fit the combined resource
// demand of vms, each group ordered by ascending running-VM count so the
// least busy group of a given size is tried first.
func bandwidthAwareCandidateGroups(inv *inventory.Inventory, vms []*vtopo.VmSpec, cfg BandwidthConfig) []*inventory.Node {
	aggr := aggregateWorkload(vms)

	rank := func(nodes []*inventory.Node) []*inventory.Node {
		var fits []*inventory.Node
		for _, n := range nodes {
			if isAvailable(aggr, n.FreeCores(), n.VCPUs, n.MemoryFree, n.RunningVMs, cfg) {
				fits = append(fits, n)
			}
		}
		sort.Slice(fits, func(i, j int) bool {
			if fits[i].RunningVMs != fits[j].RunningVMs {
				return fits[i].RunningVMs < fits[j].RunningVMs
			}
			return fits[i].Name < fits[j].Name
		})
		return fits
	}

	var groups []*inventory.Node
	groups = append(groups, rank(inv.AllHosts())...)
	groups = append(groups, rank(inv.AllEdges())...)
	groups = append(groups, rank(inv.Pods())...)
	return groups
}

// PlaceBandwidthAware finds a single host group (a host, an edge's hosts,
// or a pod's hosts) that can jointly fit every VM in vms, preferring the
// smallest group that works and, among groups of one size, the one with
// the fewest running VMs. It does not mutate inv: callers
// that accept the returned placement must commit it themselves via
// inventory.Node.AssignVM.
func PlaceBandwidthAware(inv *inventory.Inventory, vms []*vtopo.VmSpec, cfg BandwidthConfig) (map[string]string, error) {
	for _, group := range bandwidthAwareCandidateGroups(inv, vms, cfg) {
		trials := newTrialHosts(group.SubHosts())
		trialList := make([]*trialHost, 0, len(trials))
		for _, th := range trials {
			trialList = append(trialList, th)
		}

		hostmap := make(map[string]string, len(vms))
		placedAll := true
		for _, vm := range vms {
			th := mostFullAmongTrial(vm, trialList, cfg)
			if th == nil {
				placedAll = false
				break
			}
			hostmap[vm.Name] = th.node.Name
			th.assign(vm)
		}
		if placedAll {
			return hostmap, nil
		}
	}
	return nil, sdcerr.NewUnplaceable(vmNames(vms))
}

// PlaceTopologyAware places vms with locality toward placedVMHosts (a map
// of already-placed VM name to the host it landed on): it first tries the
// exact same hosts, then hosts under the same edge, then hosts under the
// same pod, then any host, committing each successful placement to inv
// immediately. VMs that cannot be placed by locality fall through to a
// least-full pod/edge/host sweep. If placedVMHosts is empty, placement
// degrades to PlaceBandwidthAware's joint-group search.
//
// Per the bandwidth-aware cold path this planner calls into, already
// placed VMs outside the current batch are not re-checked against
// bandwidth on each attempt; only the new batch's joint demand is
// evaluated together.
func PlaceTopologyAware(inv *inventory.Inventory, vms []*vtopo.VmSpec, placedVMHosts map[string]string, cfg BandwidthConfig) (map[string]string, error) {
	if len(placedVMHosts) == 0 {
		hostmap, err := PlaceBandwidthAware(inv, vms, cfg)
		if err != nil {
			return hostmap, err
		}
		for _, vm := range vms {
			if hostName, ok := hostmap[vm.Name]; ok {
				if host, err := inv.FindHostNode(hostName); err == nil {
					host.AssignVM(vm)
				}
			}
		}
		return hostmap, nil
	}

	placedHostNames := uniqueHostNames(placedVMHosts)

	hostmap := make(map[string]string)
	var remaining []*vtopo.VmSpec

	for _, vm := range vms {
		if host := placeNear(inv, vm, placedHostNames, cfg); host != "" {
			hostmap[vm.Name] = host
			continue
		}
		remaining = append(remaining, vm)
	}

	if len(remaining) > 0 {
		leastFullSweep(inv, remaining, hostmap, cfg)
	}

	var unplaced []string
	for _, vm := range vms {
		if _, ok := hostmap[vm.Name]; !ok {
			unplaced = append(unplaced, vm.Name)
		}
	}
	if len(unplaced) > 0 {
		obs.WithComponent("placement").Warnf("could not place vms: %v", unplaced)
		return hostmap, sdcerr.NewUnplaceable(unplaced)
	}
	return hostmap, nil
}

func uniqueHostNames(placedVMHosts map[string]string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, host := range placedVMHosts {
		if !seen[host] {
			seen[host] = true
			names = append(names, host)
		}
	}
	sort.Strings(names)
	return names
}

// placeNear tries, in order: the exact placed-host set, the edges those
// hosts belong to, then the pods those hosts belong to. It commits the
// winning placement to inv and returns the host name, or "" if none of
// the three locality tiers had room.
func placeNear(inv *inventory.Inventory, vm *vtopo.VmSpec, placedHostNames []string, cfg BandwidthConfig) string {
	var sameHosts []*inventory.Node
	for _, name := range placedHostNames {
		if host, err := inv.FindHostNode(name); err == nil {
			sameHosts = append(sameHosts, host)
		}
	}
	if host := mostFullAmong(vm, sameHosts, cfg); host != nil {
		host.AssignVM(vm)
		return host.Name
	}

	if host := placeNearGroup(inv, vm, placedHostNames, false, cfg); host != "" {
		return host
	}
	return placeNearGroup(inv, vm, placedHostNames, true, cfg)
}

func placeNearGroup(inv *inventory.Inventory, vm *vtopo.VmSpec, placedHostNames []string, searchPod bool, cfg BandwidthConfig) string {
	seen := make(map[*inventory.Node]bool)
	var candidateHosts []*inventory.Node
	for _, name := range placedHostNames {
		group, err := inv.NearbyHosts(name, searchPod)
		if err != nil || seen[group] {
			continue
		}
		seen[group] = true
		candidateHosts = append(candidateHosts, group.SubHosts()...)
	}
	if host := mostFullAmong(vm, candidateHosts, cfg); host != nil {
		host.AssignVM(vm)
		return host.Name
	}
	return ""
}

// leastFullSweep is the last-resort fallback: walk pods, then edges, then
// hosts in order of decreasing spare capacity, placing whichever
// remaining VMs fit as it goes.
func leastFullSweep(inv *inventory.Inventory, vms []*vtopo.VmSpec, hostmap map[string]string, cfg BandwidthConfig) {
	pods := append([]*inventory.Node(nil), inv.Pods()...)
	sort.Slice(pods, func(i, j int) bool { return pods[i].FreeCores() > pods[j].FreeCores() })

	remaining := append([]*vtopo.VmSpec(nil), vms...)

	for _, pod := range pods {
		edges := append([]*inventory.Node(nil), pod.Children...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].FreeCores() > edges[j].FreeCores() })

		for _, edge := range edges {
			hosts := append([]*inventory.Node(nil), edge.Children...)
			sort.Slice(hosts, func(i, j int) bool { return hosts[i].FreeCores() > hosts[j].FreeCores() })

			for _, host := range hosts {
				still := remaining[:0:0]
				for _, vm := range remaining {
					if _, ok := hostmap[vm.Name]; ok {
						continue
					}
					if isAvailable(vm, host.FreeCores(), host.VCPUs, host.MemoryFree, host.RunningVMs, cfg) {
						hostmap[vm.Name] = host.Name
						host.AssignVM(vm)
					} else {
						still = append(still, vm)
					}
				}
				remaining = still
			}
		}
	}
}

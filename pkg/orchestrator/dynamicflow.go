package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/flowprog"
	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/topology"
)

// dynamicLink is one VM-to-VM bandwidth link flattened across every
// document, carried forward as the two hosts it ultimately needs a
// special path between.
type dynamicLink struct {
	document string
	srcIP    string
	dstIP    string
}

// specialPathQueue is the queue number used for dynamic-flow rotation:
// queue 0 is the switch's always-present default queue, so no QoS
// installation step is required before enqueuing onto it.
const specialPathQueue = 0

func (o *Orchestrator) collectDynamicLinks(results []*DeployResult) ([]dynamicLink, error) {
	var links []dynamicLink
	for _, r := range results {
		for _, link := range r.VirtualTopology.Links() {
			srcHost, ok := o.resolveHost(r, link.Source)
			if !ok {
				continue
			}
			dstHost, ok := o.resolveHost(r, link.Destination)
			if !ok {
				continue
			}
			srcIP, err := idconv.HostnameToIP(srcHost)
			if err != nil {
				return nil, err
			}
			dstIP, err := idconv.HostnameToIP(dstHost)
			if err != nil {
				return nil, err
			}
			if srcIP == dstIP {
				continue
			}
			links = append(links, dynamicLink{document: r.Document, srcIP: srcIP, dstIP: dstIP})
		}
	}
	return links, nil
}

// runDynamicFlows rotates a "special" enqueue path across every
// bandwidth-weighted link forever, dividing a fixed period evenly across
// the link count, until ctx is cancelled. It never tears down the rules
// it installs on cancellation: the supervisor owns that cleanup.
func (o *Orchestrator) runDynamicFlows(ctx context.Context, results []*DeployResult) error {
	links, err := o.collectDynamicLinks(results)
	if err != nil {
		return fmt.Errorf("orchestrator: resolving dynamic-flow links: %w", err)
	}
	if len(links) == 0 {
		return nil
	}

	interval := o.cfg.DynamicFlowPeriod / time.Duration(len(links))
	if interval <= 0 {
		interval = time.Second
	}

	var active *installedPath
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i := 0
	for {
		link := links[i%len(links)]
		i++

		topo := results[len(results)-1].Topology
		if err := o.rotateSpecialPath(ctx, topo, link, &active); err != nil {
			obs.WithComponent("orchestrator").Warnf("dynamic-flow rotation to %s->%s failed: %v", link.srcIP, link.dstIP, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// installedPath tracks the currently active special path so the next
// rotation can clear exactly those hops before installing a new one.
type installedPath struct {
	srcIP, dstIP string
	switches     []string
}

func (o *Orchestrator) rotateSpecialPath(ctx context.Context, topo *topology.Topology, link dynamicLink, active **installedPath) error {
	if *active != nil {
		prev := *active
		for _, switchID := range prev.switches {
			if err := o.flowProg.DelByNameAndMatch(ctx, switchID, flowprog.SpecialQueueFlowName, prev.srcIP, prev.dstIP, 0); err != nil {
				obs.WithComponent("orchestrator").Warnf("clearing prior special path on %s: %v", switchID, err)
			}
		}
	}

	paths, err := topo.AllShortestPaths(link.srcIP, link.dstIP)
	if err != nil {
		return err
	}
	hops, err := topo.SwitchPortMap(paths[0])
	if err != nil {
		return err
	}

	event := audit.NewEvent("", link.document, audit.PhaseFlowInstall)
	var delta []string
	var switches []string
	for _, hop := range hops {
		if err := o.flowProg.AddEnqueue(ctx, hop.Switch, hop.OutPort, specialPathQueue, link.srcIP, link.dstIP, 0,
			flowprog.SpecialQueueFlowName, flowprog.PrioritySpecialPathQueue); err != nil {
			o.log(event.WithError(err))
			return err
		}
		switches = append(switches, hop.Switch)
		delta = append(delta, fmt.Sprintf("%s->%s via %s:%d", link.srcIP, link.dstIP, hop.Switch, hop.OutPort))
	}
	o.log(event.WithDelta(delta).WithSuccess())

	*active = &installedPath{srcIP: link.srcIP, dstIP: link.dstIP, switches: switches}
	return nil
}

package orchestrator

import (
	"context"
	"fmt"

	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/flowprog"
	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/qos"
	"github.com/Cloudslab/sdcon/pkg/topology"
)

// hostPathResolver returns a qos.PathResolver over topo that picks the
// first of the (possibly several) equal-cost shortest paths between two
// hosts, since the queue planner only needs one concrete path per
// reservation.
func hostPathResolver(topo *topology.Topology) qos.PathResolver {
	return func(srcIP, dstIP string) ([]string, error) {
		paths, err := topo.AllShortestPaths(srcIP, dstIP)
		if err != nil {
			return nil, err
		}
		return paths[0], nil
	}
}

// linkReservations translates a document's VM-to-VM bandwidth links into
// host-to-host QoS reservations: bandwidth is guaranteed between the
// hypervisors the two VMs landed on, since that is the only topology the
// SDN collaborator can see.
func (o *Orchestrator) linkReservations(r *DeployResult) ([]qos.Reservation, error) {
	var reservations []qos.Reservation
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
			continue // same-host link needs no network reservation
		}
		reservations = append(reservations, qos.Reservation{
			SrcIP: srcIP,
			DstIP: dstIP,
			MinBW: link.Bandwidth,
			MaxBW: o.cfg.TotalBandwidth,
		})
	}
	return reservations, nil
}

// applyBandwidthPolicy runs C6 (plan), C7 (install) and C8 (enqueue) end
// to end for one document's bandwidth-weighted links.
func (o *Orchestrator) applyBandwidthPolicy(ctx context.Context, r *DeployResult) error {
	reservations, err := o.linkReservations(r)
	if err != nil {
		return fmt.Errorf("orchestrator: resolving link endpoints for %s: %w", r.Document, err)
	}
	if len(reservations) == 0 {
		return nil
	}

	plan, err := qos.Build(r.Topology, reservations, hostPathResolver(r.Topology))
	if err != nil {
		return fmt.Errorf("orchestrator: planning qos for %s: %w", r.Document, err)
	}

	for _, switchID := range plan.Switches() {
		start := auditStart()
		event := audit.NewEvent(o.cfg.ComputeController.Username, r.Document, audit.PhaseQoSInstall)

		configs, flows := plan.PortConfigs(switchID)
		if err := o.qosIns.Install(ctx, switchID, configs); err != nil {
			o.log(event.WithError(err).WithDuration(auditSince(start)))
			return fmt.Errorf("orchestrator: installing qos on %s: %w", switchID, err)
		}

		var delta []string
		for outport, entries := range flows {
			for _, e := range entries {
				if err := o.flowProg.AddEnqueue(ctx, switchID, outport, e.QueueNo, e.SrcIP, e.DstIP, 0,
					flowprog.SpecialQueueFlowName, flowprog.PrioritySpecialPathQueue); err != nil {
					o.log(event.WithError(err).WithDuration(auditSince(start)))
					return fmt.Errorf("orchestrator: enqueuing flow on %s port %d: %w", switchID, outport, err)
				}
				delta = append(delta, fmt.Sprintf("%s->%s via %s:%d queue %d", e.SrcIP, e.DstIP, switchID, outport, e.QueueNo))
			}
		}

		o.log(event.WithDelta(delta).WithDuration(auditSince(start)).WithSuccess())
	}
	return nil
}

package orchestrator

import (
	"context"
	"fmt"

	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/defaultpath"
	"github.com/Cloudslab/sdcon/pkg/topology"
)

// Deploy runs the full C9 pipeline over a set of virtual-topology
// documents: per-document load/plan/create, then, unless policy.PlanOnly,
// a single default-path install pass followed by network programming per
// policy.Network. It blocks for the lifetime of a NetworkDF deployment;
// callers wanting bounded runtime should cancel ctx.
func (o *Orchestrator) Deploy(ctx context.Context, documents []string, policy Policy) ([]*DeployResult, error) {
	results := make([]*DeployResult, 0, len(documents))
	for _, doc := range documents {
		r, err := o.DeployDocument(ctx, doc, policy)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}

	if len(results) == 0 || policy.PlanOnly {
		return results, nil
	}

	if err := o.installDefaultPaths(ctx, results[len(results)-1].Topology, results[len(results)-1].Document); err != nil {
		return results, err
	}

	switch policy.Network {
	case NetworkNone, "":
		// no network programming requested
	case NetworkBW:
		for _, r := range results {
			if err := o.applyBandwidthPolicy(ctx, r); err != nil {
				return results, err
			}
		}
	case NetworkDF:
		return results, o.runDynamicFlows(ctx, results)
	default:
		return results, fmt.Errorf("orchestrator: unknown network policy %q", policy.Network)
	}

	return results, nil
}

// installDefaultPaths builds the baseline forwarding table from the
// latest topology snapshot and pushes it to every switch once, per the
// pipeline's single after-all-documents default-path step.
func (o *Orchestrator) installDefaultPaths(ctx context.Context, topo *topology.Topology, document string) error {
	start := auditStart()
	event := audit.NewEvent(o.cfg.ComputeController.Username, document, audit.PhaseDefaultPath)

	table, err := defaultpath.Build(topo, topo.SwitchIDs())
	if err != nil {
		o.log(event.WithError(err))
		return fmt.Errorf("orchestrator: computing default paths: %w", err)
	}
	if err := o.pathIns.InstallAll(ctx, table); err != nil {
		o.log(event.WithError(err).WithDuration(auditSince(start)))
		return fmt.Errorf("orchestrator: installing default paths: %w", err)
	}

	o.log(event.WithDelta(table.Switches()).WithDuration(auditSince(start)).WithSuccess())
	return nil
}

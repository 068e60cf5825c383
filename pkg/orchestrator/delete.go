package orchestrator

import (
	"context"
	"fmt"

	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/vtopo"
)

// Delete tears down every VM named in a virtual-topology document through
// the compute collaborator and forgets its placement in run state.
func (o *Orchestrator) Delete(ctx context.Context, path string) error {
	vt, err := vtopo.Load(path, o.compute)
	if err != nil {
		return fmt.Errorf("orchestrator: loading %s: %w", path, err)
	}

	var failed []string
	for _, vm := range vt.VMs() {
		start := auditStart()
		event := audit.NewEvent(o.cfg.ComputeController.Username, path, audit.PhaseVMDelete)

		server, err := o.compute.FindServer(ctx, vm.Name)
		if err != nil {
			o.log(event.WithError(err).WithDuration(auditSince(start)))
			failed = append(failed, vm.Name)
			continue
		}
		if err := o.compute.DeleteServer(ctx, server.ID); err != nil {
			o.log(event.WithError(err).WithDuration(auditSince(start)))
			failed = append(failed, vm.Name)
			continue
		}

		delete(o.runState.PlacedVMHosts, vm.Name)
		o.log(event.WithDelta([]string{vm.Name}).WithDuration(auditSince(start)).WithSuccess())
	}

	if len(failed) > 0 {
		return fmt.Errorf("orchestrator: failed to delete %d vm(s): %v", len(failed), failed)
	}
	return nil
}

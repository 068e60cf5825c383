package orchestrator

import (
	"errors"
	"time"

	"github.com/Cloudslab/sdcon/internal/sdcerr"
)

func auditStart() time.Time { return time.Now() }

func auditSince(start time.Time) time.Duration { return time.Since(start) }

func asUnplaceable(err error, target **sdcerr.UnplaceableError) bool {
	return errors.As(err, target)
}

// resolveHost returns the host a VM landed on, checking the current
// document's fresh placement before falling back to run state, so links
// touching a VM placed in an earlier run still get network programming.
func (o *Orchestrator) resolveHost(r *DeployResult, vmName string) (string, bool) {
	if host, ok := r.HostMap[vmName]; ok {
		return host, true
	}
	host, ok := o.runState.PlacedVMHosts[vmName]
	return host, ok
}

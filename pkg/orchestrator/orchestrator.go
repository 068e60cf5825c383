// Package orchestrator implements the provisioning orchestrator (C9): the
// top-level pipeline that loads virtual-topology documents, plans VM
// placement, creates or deletes VMs through the compute collaborator, and
// programs baseline and reserved-bandwidth forwarding through the SDN
// collaborator.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/internal/sdcerr"
	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/compute"
	"github.com/Cloudslab/sdcon/pkg/config"
	"github.com/Cloudslab/sdcon/pkg/defaultpath"
	"github.com/Cloudslab/sdcon/pkg/flowprog"
	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/inventory"
	"github.com/Cloudslab/sdcon/pkg/placement"
	"github.com/Cloudslab/sdcon/pkg/qosinstall"
	"github.com/Cloudslab/sdcon/pkg/sdn"
	"github.com/Cloudslab/sdcon/pkg/telemetry"
	"github.com/Cloudslab/sdcon/pkg/telemetrycache"
	"github.com/Cloudslab/sdcon/pkg/topology"
	"github.com/Cloudslab/sdcon/pkg/vtopo"
)

// NetworkPolicy selects how C9 programs the network after VM placement.
type NetworkPolicy string

const (
	NetworkNone NetworkPolicy = "none"
	NetworkBW   NetworkPolicy = "bw"
	NetworkDF   NetworkPolicy = "df"
)

// Policy bundles one deployment's VM placement and network policies.
//
// Simulate and PlanOnly are independent: Simulate alone (deploy-net) skips
// VM creation but still programs the network for already-placed VMs;
// PlanOnly (deploy-sim) additionally skips every network side effect,
// including the default-path install, so nothing reaches the SDN
// collaborator at all.
type Policy struct {
	VM       placement.Policy
	Network  NetworkPolicy
	Simulate bool
	PlanOnly bool
}

// Orchestrator drives the C9 pipeline against one set of collaborators.
type Orchestrator struct {
	cfg      *config.Config
	runState *config.RunState
	logger   audit.Logger

	sdnClient      *sdn.Client
	compute        *compute.Client
	qosIns         *qosinstall.Installer
	flowProg       *flowprog.Programmer
	pathIns        *defaultpath.Installer
	telemetry      *telemetry.Client
	telemetryCache *telemetrycache.Cache
}

// New constructs an Orchestrator wired to the collaborators addressed in
// cfg. logger may be nil, in which case audit events are dropped.
func New(cfg *config.Config, runState *config.RunState, logger audit.Logger) *Orchestrator {
	sdnClient := sdn.New(sdn.Config{
		BaseURL:  cfg.SDNController.URL,
		Username: cfg.SDNController.Username,
		Password: cfg.SDNController.Password,
	})
	computeClient := compute.New(compute.Config{
		ComputeURL: cfg.ComputeController.ComputeURL,
		NetworkURL: cfg.ComputeController.NetworkURL,
		Token:      cfg.ComputeController.Token,
		Zone:       cfg.ComputeController.Zone,
	})
	return &Orchestrator{
		cfg:       cfg,
		runState:  runState,
		logger:    logger,
		sdnClient: sdnClient,
		compute:   computeClient,
		qosIns:    qosinstall.New(sdnClient, cfg.TotalBandwidth),
		flowProg:  flowprog.New(sdnClient),
		pathIns:   defaultpath.NewInstaller(sdnClient),
		telemetry: telemetry.New(telemetry.Config{
			BaseURL:  cfg.TelemetryController.URL,
			Username: cfg.TelemetryController.Username,
			Password: cfg.TelemetryController.Password,
		}),
		telemetryCache: telemetrycache.New(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.TTL),
	}
}

// Close releases resources held across the Orchestrator's lifetime, such
// as the telemetry cache's Redis connection pool.
func (o *Orchestrator) Close() error {
	return o.telemetryCache.Close()
}

func (o *Orchestrator) log(event *audit.Event) {
	if o.logger == nil {
		return
	}
	if err := o.logger.Log(event); err != nil {
		obs.WithComponent("orchestrator").Warnf("audit log failed: %v", err)
	}
}

// hypervisorUtilization reads each host's CPU-utilization series through
// the telemetry cache, logging a non-fatal warning and skipping any host
// whose series cannot be fetched; the telemetry backend is read-only and
// advisory, so a failure here never blocks planning.
func (o *Orchestrator) hypervisorUtilization(ctx context.Context, hostNames []string) map[string]float64 {
	latest := make(map[string]float64, len(hostNames))
	for _, host := range hostNames {
		host := host
		samples, err := o.telemetryCache.HypervisorCPU(ctx, host, func(ctx context.Context) ([]telemetrycache.Sample, error) {
			return o.telemetry.HypervisorCPU(ctx, host)
		})
		if err != nil {
			obs.WithComponent("orchestrator").WithDevice(host).Warnf("telemetry read failed: %v", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		latest[host] = samples[len(samples)-1].ValuePercent
	}
	return latest
}

// snapshot fetches the current physical topology and joins it with live
// compute-controller capacity into a fresh inventory tree.
func (o *Orchestrator) snapshot(ctx context.Context) (*topology.Topology, *inventory.Inventory, error) {
	tps, links, hosts, err := o.sdnClient.FetchTopology(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: fetching topology: %w", err)
	}
	topo, err := topology.Build(tps, links, hosts)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: building topology: %w", err)
	}

	pods, err := podHostnames(topo.PodEdgeHosts())
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: resolving pod hostnames: %w", err)
	}

	hypervisors, err := o.compute.ListHypervisors(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: listing hypervisors: %w", err)
	}
	hostResources := make(map[string]inventory.HostResources, len(hypervisors))
	for _, h := range hypervisors {
		hostResources[h.Name] = inventory.HostResources{
			Name: h.Name, VCPUs: h.VCPUs, VCPUsUsed: h.VCPUsUsed,
			MemorySize: h.MemorySize, MemoryUsed: h.MemoryUsed,
			MemoryFree: h.MemoryFree(), RunningVMs: h.RunningVMs,
		}
	}

	inv, err := inventory.Build(pods, hostResources)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: building inventory: %w", err)
	}

	hostNames := make([]string, 0, len(hostResources))
	for name := range hostResources {
		hostNames = append(hostNames, name)
	}
	sort.Strings(hostNames)
	if util := o.hypervisorUtilization(ctx, hostNames); len(util) > 0 {
		delta := make([]string, 0, len(util))
		for _, name := range hostNames {
			if v, ok := util[name]; ok {
				delta = append(delta, fmt.Sprintf("%s: %.1f%%", name, v))
			}
		}
		o.log(audit.NewEvent(o.cfg.ComputeController.Username, "", audit.PhaseTelemetry).
			WithDelta(delta).WithSuccess())
	}

	return topo, inv, nil
}

// podHostnames converts PodEdgeHosts' host-IP grouping into the
// hostnames pkg/inventory.Build expects, since the compute collaborator
// reports hypervisors by hostname while the topology tracks them by
// management IP.
func podHostnames(podEdgeIPs [][][]string) ([][][]string, error) {
	pods := make([][][]string, len(podEdgeIPs))
	for i, pod := range podEdgeIPs {
		pods[i] = make([][]string, len(pod))
		for j, edge := range pod {
			names := make([]string, len(edge))
			for k, ip := range edge {
				name, err := idconv.IPToHostname(ip)
				if err != nil {
					return nil, err
				}
				names[k] = name
			}
			pods[i][j] = names
		}
	}
	return pods, nil
}

// DeployResult carries one document's resolved state forward into the
// network-programming stage of the pipeline.
type DeployResult struct {
	Document        string
	Topology        *topology.Topology
	VirtualTopology *vtopo.VirtualTopology
	HostMap         map[string]string
	Unplaced        []string
}

// DeployDocument runs the per-document portion of the pipeline: load,
// partition placed/new VMs, sort new VMs by descending cores, plan, log
// the mapping and, unless policy.Simulate, create the new VMs.
func (o *Orchestrator) DeployDocument(ctx context.Context, path string, policy Policy) (*DeployResult, error) {
	start := auditStart()
	event := audit.NewEvent(o.cfg.ComputeController.Username, path, audit.PhasePlan).WithDryRun(policy.Simulate)

	vt, err := vtopo.Load(path, o.compute)
	if err != nil {
		o.log(event.WithError(err))
		return nil, err
	}

	topo, inv, err := o.snapshot(ctx)
	if err != nil {
		o.log(event.WithError(err))
		return nil, err
	}

	var newVMs []*vtopo.VmSpec
	for _, vm := range vt.VMs() {
		if _, ok := o.runState.PlacedVMHosts[vm.Name]; !ok {
			newVMs = append(newVMs, vm)
		}
	}
	sort.Slice(newVMs, func(i, j int) bool {
		if newVMs[i].Cores != newVMs[j].Cores {
			return newVMs[i].Cores > newVMs[j].Cores
		}
		return newVMs[i].Name < newVMs[j].Name
	})

	bwCfg := placement.BandwidthConfig{TotalBandwidth: o.cfg.TotalBandwidth}
	var hostmap map[string]string
	var placeErr error
	switch policy.VM {
	case placement.PolicyMostFull:
		hostmap, placeErr = placement.PlaceMostFull(inv, newVMs, bwCfg)
	case placement.PolicyTopologyAware:
		hostmap, placeErr = placement.PlaceTopologyAware(inv, newVMs, o.runState.PlacedVMHosts, bwCfg)
	default:
		err := fmt.Errorf("orchestrator: unknown vm placement policy %q", policy.VM)
		o.log(event.WithError(err))
		return nil, err
	}

	var unplaced []string
	if placeErr != nil {
		var up *sdcerr.UnplaceableError
		if ok := asUnplaceable(placeErr, &up); !ok {
			o.log(event.WithError(placeErr))
			return nil, placeErr
		}
		unplaced = up.Unplaced
	}

	event.WithDelta(mappingDelta(hostmap))
	o.log(event.WithDuration(auditSince(start)).WithSuccess())

	if !policy.Simulate {
		if err := o.createVMs(ctx, path, vt, hostmap); err != nil {
			return nil, err
		}
		for vmName, hostName := range hostmap {
			o.runState.PlacedVMHosts[vmName] = hostName
		}
		o.runState.UnplacedVMs = mergeUnplaced(o.runState.UnplacedVMs, unplaced)
	}

	return &DeployResult{
		Document:        path,
		Topology:        topo,
		VirtualTopology: vt,
		HostMap:         hostmap,
		Unplaced:        unplaced,
	}, nil
}

// createVMs invokes the compute collaborator for every newly placed VM,
// pinning each to its target host via availability-zone placement and
// waiting for it to report ACTIVE.
func (o *Orchestrator) createVMs(ctx context.Context, document string, vt *vtopo.VirtualTopology, hostmap map[string]string) error {
	for vmName, hostName := range hostmap {
		start := auditStart()
		event := audit.NewEvent(o.cfg.ComputeController.Username, document, audit.PhaseVMCreate)

		vm, ok := vt.VMSpec(vmName)
		if !ok {
			err := fmt.Errorf("orchestrator: vm %q missing from virtual topology after placement", vmName)
			o.log(event.WithError(err))
			return err
		}

		server, err := o.compute.CreateServer(ctx, vm.Name, vm.ImageName, vm.FlavorName, vm.NetworkName, hostName)
		if err != nil {
			o.log(event.WithError(err).WithDuration(auditSince(start)))
			return fmt.Errorf("orchestrator: creating vm %s on %s: %w", vmName, hostName, err)
		}
		if _, err := o.compute.AwaitActive(ctx, server.ID, o.cfg.ServerActiveTimeout); err != nil {
			o.log(event.WithError(err).WithDuration(auditSince(start)))
			return fmt.Errorf("orchestrator: waiting for vm %s to become active: %w", vmName, err)
		}

		o.log(event.WithDelta([]string{fmt.Sprintf("%s -> %s", vmName, hostName)}).
			WithDuration(auditSince(start)).WithSuccess())
	}
	return nil
}

func mappingDelta(hostmap map[string]string) []string {
	names := make([]string, 0, len(hostmap))
	for name := range hostmap {
		names = append(names, name)
	}
	sort.Strings(names)
	delta := make([]string, 0, len(names))
	for _, name := range names {
		delta = append(delta, fmt.Sprintf("%s -> %s", name, hostmap[name]))
	}
	return delta
}

func mergeUnplaced(existing, fresh []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, name := range existing {
		seen[name] = true
	}
	out := append([]string(nil), existing...)
	for _, name := range fresh {
		if !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	sort.Strings(out)
	return out
}

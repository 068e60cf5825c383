package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Cloudslab/sdcon/pkg/cli"
	"github.com/Cloudslab/sdcon/pkg/orchestrator"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <vm-policy> <net-policy> <file.json>...",
	Short: "Place VMs, create them, and program the network",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmPolicy, err := parseVMPolicy(args[0])
		if err != nil {
			return err
		}
		netPolicy, err := parseNetPolicy(args[1])
		if err != nil {
			return err
		}
		return runDeploy(args[2:], orchestrator.Policy{VM: vmPolicy, Network: netPolicy, Simulate: false})
	},
}

var deploySimCmd = &cobra.Command{
	Use:   "deploy-sim <vm-policy> <file.json>...",
	Short: "Plan VM placement only; no VMs are created and no network is programmed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmPolicy, err := parseVMPolicy(args[0])
		if err != nil {
			return err
		}
		return runDeploy(args[1:], orchestrator.Policy{VM: vmPolicy, Network: orchestrator.NetworkNone, Simulate: true, PlanOnly: true})
	},
}

var deployNetCmd = &cobra.Command{
	Use:   "deploy-net <net-policy> <file.json>...",
	Short: "Program the network for already-placed VMs without creating new ones",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		netPolicy, err := parseNetPolicy(args[0])
		if err != nil {
			return err
		}
		return runDeploy(args[1:], orchestrator.Policy{VM: defaultVMPolicyForNetOnly, Network: netPolicy, Simulate: true})
	},
}

// defaultVMPolicyForNetOnly is the placement policy deploy-net plans under
// for any VM a document names but run state has not placed yet; since
// deploy-net never creates VMs, this only affects what gets reported as
// unplaced, not what actually lands anywhere.
const defaultVMPolicyForNetOnly = "mff"

func runDeploy(documents []string, policy orchestrator.Policy) error {
	o, closeFn, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := cancelOnSignal()
	defer cancel()

	results, err := o.Deploy(ctx, documents, policy)
	printResults(results)
	if err != nil {
		return err
	}

	if !policy.Simulate {
		app.runState.LastDocument = documents[len(documents)-1]
		app.runState.LastPolicy = string(policy.VM) + "/" + string(policy.Network)
		saveRunState()
	}

	var allUnplaced []string
	for _, r := range results {
		allUnplaced = append(allUnplaced, r.Unplaced...)
	}
	if len(allUnplaced) > 0 {
		sort.Strings(allUnplaced)
		return fmt.Errorf("%d vm(s) could not be placed: %v", len(allUnplaced), allUnplaced)
	}
	return nil
}

func printResults(results []*orchestrator.DeployResult) {
	table := cli.NewTable("DOCUMENT", "VM", "HOST")
	for _, r := range results {
		names := make([]string, 0, len(r.HostMap))
		for name := range r.HostMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			table.Row(r.Document, name, r.HostMap[name])
		}
		for _, name := range r.Unplaced {
			table.Row(r.Document, name, cli.Red("unplaceable"))
		}
	}
	table.Flush()
}

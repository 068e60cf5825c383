// sdcon provisions virtual topologies onto a fat-tree software-defined
// cloud: it plans VM placement, creates or deletes VMs through the
// compute collaborator, and programs baseline and reserved-bandwidth
// forwarding through the SDN collaborator.
//
// Single entry-point, document-driven subcommands:
//
//	sdcon deploy <vm-policy> <net-policy> <file.json>...
//	sdcon deploy-sim <vm-policy> <file.json>...
//	sdcon deploy-net <net-policy> <file.json>...
//	sdcon delete <file.json>
//
// VM policies: mff, topo. Net policies: none, df, bw.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/pkg/audit"
	"github.com/Cloudslab/sdcon/pkg/config"
	"github.com/Cloudslab/sdcon/pkg/orchestrator"
	"github.com/Cloudslab/sdcon/pkg/placement"
	"github.com/Cloudslab/sdcon/pkg/version"
)

// App holds CLI state shared across all commands.
type App struct {
	configPath string
	verbose    bool
	jsonOutput bool

	cfg      *config.Config
	runState *config.RunState
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sdcon",
	Short:         "Software-defined cloud provisioning orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `sdcon plans VM placement across a fat-tree software-defined cloud,
creates or deletes VMs through the compute collaborator, and programs
baseline and reserved-bandwidth forwarding through the SDN collaborator.

  sdcon deploy <vm-policy> <net-policy> <file.json>...
  sdcon deploy-sim <vm-policy> <file.json>...
  sdcon deploy-net <net-policy> <file.json>...
  sdcon delete <file.json>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}

		if app.verbose {
			obs.SetLogLevel("debug")
		} else {
			obs.SetLogLevel("info")
		}
		if app.jsonOutput {
			obs.SetJSONFormat()
		}

		var err error
		app.cfg, err = config.Load(app.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		app.runState, err = config.LoadRunState(app.cfg.RunStatePath)
		if err != nil {
			return fmt.Errorf("loading run state: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "JSON log output")

	rootCmd.AddCommand(deployCmd, deploySimCmd, deployNetCmd, deleteCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

// newOrchestrator wires an orchestrator.Orchestrator to the loaded config
// and run state, with an audit logger backed by the configured log file.
func newOrchestrator() (*orchestrator.Orchestrator, func(), error) {
	logger, err := audit.NewFileLogger(app.cfg.AuditLogPath, audit.RotationConfig{
		MaxSize:    50 * 1024 * 1024,
		MaxBackups: 5,
	})
	if err != nil {
		obs.WithComponent("cli").Warnf("could not open audit log: %v", err)
	}
	o := orchestrator.New(app.cfg, app.runState, logger)
	closeFn := func() {
		if logger != nil {
			logger.Close()
		}
		if err := o.Close(); err != nil {
			obs.WithComponent("cli").Warnf("closing orchestrator: %v", err)
		}
	}
	return o, closeFn, nil
}

// saveRunState persists run state after a successful run. It always
// writes; runDeploy does not call it for Simulate-mode runs.
func saveRunState() {
	if err := app.runState.Save(app.cfg.RunStatePath); err != nil {
		obs.WithComponent("cli").Warnf("could not save run state: %v", err)
	}
}

// cancelOnSignal returns a context cancelled on SIGINT/SIGTERM, used so a
// blocking dynamic-flow deployment can be stopped cleanly.
func cancelOnSignal() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func parseVMPolicy(s string) (placement.Policy, error) {
	switch placement.Policy(s) {
	case placement.PolicyMostFull, placement.PolicyTopologyAware:
		return placement.Policy(s), nil
	default:
		return "", fmt.Errorf("unknown vm placement policy %q (want mff or topo)", s)
	}
}

func parseNetPolicy(s string) (orchestrator.NetworkPolicy, error) {
	switch orchestrator.NetworkPolicy(s) {
	case orchestrator.NetworkNone, orchestrator.NetworkBW, orchestrator.NetworkDF:
		return orchestrator.NetworkPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown network policy %q (want none, df or bw)", s)
	}
}

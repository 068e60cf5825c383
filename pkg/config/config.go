// Package config manages sdcon's orchestrator configuration: collaborator
// endpoints and credentials, loaded from YAML, plus a small JSON-persisted
// run-state file recording what the last deployment did.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no override is given on the command line.
const DefaultConfigPath = "/etc/sdcon/sdcon.yaml"

// Defaults applied when a Config field is left unset.
const (
	DefaultTotalBandwidth     = int64(1_000_000_000) // 1 Gbit/s per port
	DefaultQueueBase          = 10
	DefaultDynamicFlowPeriod  = 60 * time.Second
	DefaultVerifyAttempts     = 5
	DefaultMutationPaceMillis = 300
	DefaultServerActiveWait   = 5 * time.Minute
)

// Config is the orchestrator's static configuration: where to reach each
// collaborator and the defaults that govern planning and installation.
type Config struct {
	SDNController       CollaboratorEndpoint `yaml:"sdn_controller"`
	ComputeController   ComputeEndpoint      `yaml:"compute_controller"`
	TelemetryController CollaboratorEndpoint `yaml:"telemetry_controller"`
	Redis               RedisConfig          `yaml:"redis"`

	TotalBandwidth      int64         `yaml:"total_bandwidth,omitempty"`
	DynamicFlowPeriod   time.Duration `yaml:"dynamic_flow_period,omitempty"`
	ServerActiveTimeout time.Duration `yaml:"server_active_timeout,omitempty"`
	AuditLogPath        string        `yaml:"audit_log_path,omitempty"`
	RunStatePath        string        `yaml:"run_state_path,omitempty"`
}

// CollaboratorEndpoint is a generic HTTP Basic-authenticated collaborator
// address, used for the SDN and telemetry controllers.
type CollaboratorEndpoint struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ComputeEndpoint addresses the compute and networking APIs separately,
// since OpenStack splits them across services, plus the availability
// zone new servers are pinned under.
type ComputeEndpoint struct {
	ComputeURL string `yaml:"compute_url"`
	NetworkURL string `yaml:"network_url"`
	AuthURL    string `yaml:"auth_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Token      string `yaml:"token,omitempty"`
	Zone       string `yaml:"zone,omitempty"`
}

// RedisConfig addresses the telemetry read-through cache.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl,omitempty"`
}

// Load reads and parses a YAML configuration file, filling in defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TotalBandwidth <= 0 {
		c.TotalBandwidth = DefaultTotalBandwidth
	}
	if c.DynamicFlowPeriod <= 0 {
		c.DynamicFlowPeriod = DefaultDynamicFlowPeriod
	}
	if c.ServerActiveTimeout <= 0 {
		c.ServerActiveTimeout = DefaultServerActiveWait
	}
	if c.ComputeController.Zone == "" {
		c.ComputeController.Zone = "nova"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = time.Minute
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = "/var/log/sdcon/audit.log"
	}
	if c.RunStatePath == "" {
		c.RunStatePath = DefaultRunStatePath()
	}
}

// RunState records the outcome of the most recent deployment so
// subsequent invocations (status queries, incremental deploys) can see
// what is already placed without re-querying every collaborator.
type RunState struct {
	LastDocument   string            `json:"last_document,omitempty"`
	LastPolicy     string            `json:"last_policy,omitempty"`
	LastRunAt      time.Time         `json:"last_run_at,omitempty"`
	PlacedVMHosts  map[string]string `json:"placed_vm_hosts,omitempty"`
	UnplacedVMs    []string          `json:"unplaced_vms,omitempty"`
	DefaultPathsOK bool              `json:"default_paths_ok"`
}

// DefaultRunStatePath returns the fallback location for the run-state
// file when none is configured.
func DefaultRunStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sdcon_runstate.json"
	}
	return filepath.Join(home, ".sdcon", "runstate.json")
}

// LoadRunState reads run state from path, returning an empty RunState if
// the file does not yet exist.
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunState{PlacedVMHosts: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("config: reading run state %s: %w", path, err)
	}
	state := &RunState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("config: parsing run state %s: %w", path, err)
	}
	if state.PlacedVMHosts == nil {
		state.PlacedVMHosts = map[string]string{}
	}
	return state, nil
}

// Save writes run state to path, creating its parent directory if needed.
func (s *RunState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: creating run state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding run state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing run state %s: %w", path, err)
	}
	return nil
}

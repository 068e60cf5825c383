// Package compute implements the compute-controller collaborator client:
// an OpenStack Compute API v2.1 (plus Networking v2.0 for network lookup)
// HTTP client used to list hypervisors, resolve flavors/images/networks,
// and create, find, delete, and migrate servers.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/Cloudslab/sdcon/internal/sdcerr"
)

// Config describes how to reach the compute and networking APIs and which
// project token authenticates requests.
type Config struct {
	ComputeURL string
	NetworkURL string
	Token      string
	Zone       string
	Timeout    time.Duration
}

// Client is a thin client bound to one OpenStack deployment.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client with a sane default timeout and availability zone
// if cfg leaves them unset.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Zone == "" {
		cfg.Zone = "nova"
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) request(ctx context.Context, method, base, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("compute: encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("compute: building request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sdcerr.NewUnreachable("compute-controller", base+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return sdcerr.NewNotFound("compute resource", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("compute: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("compute: decoding response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) computeRequest(ctx context.Context, method, path string, body, out interface{}) error {
	return c.request(ctx, method, c.cfg.ComputeURL, path, body, out)
}

func (c *Client) networkRequest(ctx context.Context, method, path string, body, out interface{}) error {
	return c.request(ctx, method, c.cfg.NetworkURL, path, body, out)
}

// Hypervisor is one compute node's reported capacity.
type Hypervisor struct {
	Name       string
	Status     string
	State      string
	VCPUs      int
	VCPUsUsed  int
	MemorySize int64 // MiB
	MemoryUsed int64 // MiB
	RunningVMs int
}

// MemoryFree reports the hypervisor's unused memory in MiB.
func (h Hypervisor) MemoryFree() int64 {
	return h.MemorySize - h.MemoryUsed
}

type hypervisorsResponse struct {
	Hypervisors []struct {
		HypervisorHostname string `json:"hypervisor_hostname"`
		Status             string `json:"status"`
		State              string `json:"state"`
		VCPUs              int    `json:"vcpus"`
		VCPUsUsed          int    `json:"vcpus_used"`
		MemoryMB           int64  `json:"memory_mb"`
		MemoryMBUsed       int64  `json:"memory_mb_used"`
		RunningVMs         int    `json:"running_vms"`
	} `json:"hypervisors"`
}

// ListHypervisors returns every enabled, up hypervisor sorted by name.
func (c *Client) ListHypervisors(ctx context.Context) ([]Hypervisor, error) {
	var resp hypervisorsResponse
	if err := c.computeRequest(ctx, http.MethodGet, "/os-hypervisors/detail", nil, &resp); err != nil {
		return nil, fmt.Errorf("compute: listing hypervisors: %w", err)
	}

	var hosts []Hypervisor
	for _, h := range resp.Hypervisors {
		if h.Status != "enabled" || h.State != "up" {
			continue
		}
		hosts = append(hosts, Hypervisor{
			Name: h.HypervisorHostname, Status: h.Status, State: h.State,
			VCPUs: h.VCPUs, VCPUsUsed: h.VCPUsUsed,
			MemorySize: h.MemoryMB, MemoryUsed: h.MemoryMBUsed,
			RunningVMs: h.RunningVMs,
		})
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}

// Flavor is an instance size: cores and memory in MiB.
type Flavor struct {
	ID    string
	Name  string
	VCPUs int
	RAM   int64 // MiB
}

type flavorsResponse struct {
	Flavors []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		VCPUs int    `json:"vcpus"`
		RAM   int64  `json:"ram"`
	} `json:"flavors"`
}

// ListFlavors returns every flavor known to the compute controller.
func (c *Client) ListFlavors(ctx context.Context) ([]Flavor, error) {
	var resp flavorsResponse
	if err := c.computeRequest(ctx, http.MethodGet, "/flavors/detail", nil, &resp); err != nil {
		return nil, fmt.Errorf("compute: listing flavors: %w", err)
	}
	flavors := make([]Flavor, 0, len(resp.Flavors))
	for _, f := range resp.Flavors {
		flavors = append(flavors, Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAM: f.RAM})
	}
	return flavors, nil
}

// FindFlavor resolves a flavor by exact name.
func (c *Client) FindFlavor(ctx context.Context, name string) (*Flavor, error) {
	flavors, err := c.ListFlavors(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range flavors {
		if f.Name == name {
			return &f, nil
		}
	}
	return nil, sdcerr.NewNotFound("flavor", name)
}

// ResolveFlavor implements vtopo.FlavorResolver: it picks the smallest
// flavor (fewest vcpus, then least ram) that satisfies the request.
func (c *Client) ResolveFlavor(cores int, memoryMiB int64) (string, error) {
	flavors, err := c.ListFlavors(context.Background())
	if err != nil {
		return "", err
	}
	candidates := make([]Flavor, 0, len(flavors))
	for _, f := range flavors {
		if f.VCPUs >= cores && f.RAM >= memoryMiB {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return "", sdcerr.NewNotFound("flavor satisfying", fmt.Sprintf("%d vcpus / %d MiB", cores, memoryMiB))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].VCPUs != candidates[j].VCPUs {
			return candidates[i].VCPUs < candidates[j].VCPUs
		}
		return candidates[i].RAM < candidates[j].RAM
	})
	return candidates[0].Name, nil
}

// FlavorResources implements vtopo.FlavorResolver: the authoritative
// cores/memory of a named flavor.
func (c *Client) FlavorResources(flavorName string) (int, int64, error) {
	f, err := c.FindFlavor(context.Background(), flavorName)
	if err != nil {
		return 0, 0, err
	}
	return f.VCPUs, f.RAM, nil
}

// Image is a bootable image reference.
type Image struct {
	ID   string
	Name string
}

type imagesResponse struct {
	Images []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"images"`
}

// FindImage resolves an image by exact name.
func (c *Client) FindImage(ctx context.Context, name string) (*Image, error) {
	var resp imagesResponse
	path := "/images/detail?name=" + url.QueryEscape(name)
	if err := c.computeRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("compute: finding image %s: %w", name, err)
	}
	for _, img := range resp.Images {
		if img.Name == name {
			return &Image{ID: img.ID, Name: img.Name}, nil
		}
	}
	return nil, sdcerr.NewNotFound("image", name)
}

// Network is a tenant network reference.
type Network struct {
	ID   string
	Name string
}

type networksResponse struct {
	Networks []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"networks"`
}

// FindNetwork resolves a network by exact name via the networking API.
func (c *Client) FindNetwork(ctx context.Context, name string) (*Network, error) {
	var resp networksResponse
	path := "/v2.0/networks?name=" + url.QueryEscape(name)
	if err := c.networkRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("compute: finding network %s: %w", name, err)
	}
	for _, n := range resp.Networks {
		if n.Name == name {
			return &Network{ID: n.ID, Name: n.Name}, nil
		}
	}
	return nil, sdcerr.NewNotFound("network", name)
}

// Address is one IP bound to a server.
type Address struct {
	Addr string
	Type string // "fixed" or "floating"
}

// Server is a compute instance.
type Server struct {
	ID                 string
	Name               string
	Status             string
	HypervisorHostname string
	Addresses          map[string][]Address
}

type serverResponse struct {
	Server struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		Status             string `json:"status"`
		HypervisorHostname string `json:"OS-EXT-SRV-ATTR:hypervisor_hostname"`
		Addresses          map[string][]struct {
			Addr string `json:"addr"`
			Type string `json:"OS-EXT-IPS:type"`
		} `json:"addresses"`
	} `json:"server"`
}

func toServer(raw serverResponse) Server {
	s := Server{
		ID: raw.Server.ID, Name: raw.Server.Name, Status: raw.Server.Status,
		HypervisorHostname: raw.Server.HypervisorHostname,
		Addresses:          make(map[string][]Address),
	}
	for network, addrs := range raw.Server.Addresses {
		for _, a := range addrs {
			s.Addresses[network] = append(s.Addresses[network], Address{Addr: a.Addr, Type: a.Type})
		}
	}
	return s
}

type serversResponse struct {
	Servers []struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		Status             string `json:"status"`
		HypervisorHostname string `json:"OS-EXT-SRV-ATTR:hypervisor_hostname"`
		Addresses          map[string][]struct {
			Addr string `json:"addr"`
			Type string `json:"OS-EXT-IPS:type"`
		} `json:"addresses"`
	} `json:"servers"`
}

// ListServers returns every server with its bound addresses, so callers
// can look up which host owns a given VM IP.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var resp serversResponse
	if err := c.computeRequest(ctx, http.MethodGet, "/servers/detail", nil, &resp); err != nil {
		return nil, fmt.Errorf("compute: listing servers: %w", err)
	}
	servers := make([]Server, 0, len(resp.Servers))
	for _, s := range resp.Servers {
		server := Server{ID: s.ID, Name: s.Name, Status: s.Status, HypervisorHostname: s.HypervisorHostname, Addresses: make(map[string][]Address)}
		for network, addrs := range s.Addresses {
			for _, a := range addrs {
				server.Addresses[network] = append(server.Addresses[network], Address{Addr: a.Addr, Type: a.Type})
			}
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// FindServer resolves a server by exact name.
func (c *Client) FindServer(ctx context.Context, name string) (*Server, error) {
	servers, err := c.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range servers {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, sdcerr.NewNotFound("server", name)
}

// CreateServer creates a server pinned to hostName via availability-zone
// placement, resolving image, flavor, and network by name first.
func (c *Client) CreateServer(ctx context.Context, name, imageName, flavorName, networkName, hostName string) (*Server, error) {
	image, err := c.FindImage(ctx, imageName)
	if err != nil {
		return nil, err
	}
	flavor, err := c.FindFlavor(ctx, flavorName)
	if err != nil {
		return nil, err
	}
	network, err := c.FindNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"server": map[string]interface{}{
			"name":              name,
			"imageRef":          image.ID,
			"flavorRef":         flavor.ID,
			"networks":          []map[string]string{{"uuid": network.ID}},
			"availability_zone": c.cfg.Zone + ":" + hostName,
		},
	}
	var resp serverResponse
	if err := c.computeRequest(ctx, http.MethodPost, "/servers", body, &resp); err != nil {
		return nil, fmt.Errorf("compute: creating server %s on %s: %w", name, hostName, err)
	}
	server := toServer(resp)
	return &server, nil
}

// AwaitActive polls a server by id until it reports ACTIVE or the timeout
// elapses, returning a VerificationFailed error in the latter case.
func (c *Client) AwaitActive(ctx context.Context, serverID string, timeout time.Duration) (*Server, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = time.Second

	for {
		var resp serverResponse
		if err := c.computeRequest(ctx, http.MethodGet, "/servers/"+serverID, nil, &resp); err != nil {
			return nil, fmt.Errorf("compute: polling server %s: %w", serverID, err)
		}
		server := toServer(resp)
		if server.Status == "ACTIVE" {
			return &server, nil
		}
		if server.Status == "ERROR" {
			return nil, fmt.Errorf("compute: server %s entered ERROR state", serverID)
		}
		if time.Now().After(deadline) {
			return nil, sdcerr.NewVerificationFailed("server "+serverID+" active", 0)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// DeleteServer deletes a server by id.
func (c *Client) DeleteServer(ctx context.Context, serverID string) error {
	if err := c.computeRequest(ctx, http.MethodDelete, "/servers/"+serverID, nil, nil); err != nil {
		return fmt.Errorf("compute: deleting server %s: %w", serverID, err)
	}
	return nil
}

// LiveMigrate live-migrates a server to hostName.
func (c *Client) LiveMigrate(ctx context.Context, serverID, hostName string) error {
	body := map[string]interface{}{
		"os-migrateLive": map[string]interface{}{
			"host":             hostName,
			"block_migration":  "auto",
			"disk_over_commit": false,
		},
	}
	if err := c.computeRequest(ctx, http.MethodPost, "/servers/"+serverID+"/action", body, nil); err != nil {
		return fmt.Errorf("compute: live-migrating server %s to %s: %w", serverID, hostName, err)
	}
	return nil
}

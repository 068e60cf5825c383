package inventory

import "testing"

type fakeWorkload struct {
	cores  int
	memory int64
}

func (w fakeWorkload) CoresNeeded() int     { return w.cores }
func (w fakeWorkload) MemoryNeeded() int64  { return w.memory }

func buildFixture(t *testing.T) *Inventory {
	t.Helper()
	podEdgeHosts := [][][]string{
		{ // pod0
			{"compute1", "compute2"}, // edge0
			{"compute3"},             // edge1
		},
		{ // pod1
			{"compute4"}, // edge0
		},
	}
	hosts := map[string]HostResources{
		"compute1": {Name: "compute1", VCPUs: 8, VCPUsUsed: 2, MemorySize: 16384, MemoryUsed: 4096, MemoryFree: 12288},
		"compute2": {Name: "compute2", VCPUs: 8, VCPUsUsed: 0, MemorySize: 16384, MemoryUsed: 0, MemoryFree: 16384},
		"compute3": {Name: "compute3", VCPUs: 4, VCPUsUsed: 4, MemorySize: 8192, MemoryUsed: 8192, MemoryFree: 0},
		"compute4": {Name: "compute4", VCPUs: 16, VCPUsUsed: 0, MemorySize: 32768, MemoryUsed: 0, MemoryFree: 32768},
	}
	inv, err := Build(podEdgeHosts, hosts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return inv
}

func TestBuild_Aggregation(t *testing.T) {
	inv := buildFixture(t)
	pods := inv.Pods()
	if len(pods) != 2 {
		t.Fatalf("Pods() returned %d, want 2", len(pods))
	}
	pod0 := pods[0]
	if pod0.VCPUs != 20 || pod0.VCPUsUsed != 6 {
		t.Errorf("pod0 aggregate vcpus=%d/%d, want 6/20", pod0.VCPUsUsed, pod0.VCPUs)
	}
	if pod0.RunningVMs != 0 {
		t.Errorf("pod0 running_vms = %d, want 0", pod0.RunningVMs)
	}
}

func TestBuild_UnknownHost(t *testing.T) {
	podEdgeHosts := [][][]string{{{"computeX"}}}
	if _, err := Build(podEdgeHosts, map[string]HostResources{}); err == nil {
		t.Error("expected error for host missing from compute resource map")
	}
}

func TestAllEdgesAndHosts(t *testing.T) {
	inv := buildFixture(t)
	if got := len(inv.AllEdges()); got != 3 {
		t.Errorf("AllEdges() returned %d, want 3", got)
	}
	if got := len(inv.AllHosts()); got != 4 {
		t.Errorf("AllHosts() returned %d, want 4", got)
	}
}

func TestFindHostNode(t *testing.T) {
	inv := buildFixture(t)
	host, err := inv.FindHostNode("compute3")
	if err != nil {
		t.Fatalf("FindHostNode: %v", err)
	}
	if host.VCPUs != 4 {
		t.Errorf("compute3 vcpus = %d, want 4", host.VCPUs)
	}

	if _, err := inv.FindHostNode("nope"); err == nil {
		t.Error("expected error for unknown host")
	}
}

func TestNearbyHosts(t *testing.T) {
	inv := buildFixture(t)

	edge, err := inv.NearbyHosts("compute1", false)
	if err != nil {
		t.Fatalf("NearbyHosts(edge): %v", err)
	}
	if len(edge.Children) != 2 {
		t.Errorf("edge for compute1 has %d hosts, want 2 (compute1, compute2)", len(edge.Children))
	}

	pod, err := inv.NearbyHosts("compute1", true)
	if err != nil {
		t.Fatalf("NearbyHosts(pod): %v", err)
	}
	if len(pod.SubHosts()) != 3 {
		t.Errorf("pod for compute1 has %d hosts, want 3", len(pod.SubHosts()))
	}
}

func TestAssignVM_PropagatesToAncestors(t *testing.T) {
	inv := buildFixture(t)
	host, err := inv.FindHostNode("compute2")
	if err != nil {
		t.Fatalf("FindHostNode: %v", err)
	}
	edge := host.Parent
	pod := edge.Parent

	host.AssignVM(fakeWorkload{cores: 2, memory: 1024})

	if host.VCPUsUsed != 2 || host.MemoryUsed != 1024 || host.MemoryFree != 15360 || host.RunningVMs != 1 {
		t.Errorf("host after assign: vcpus_used=%d memory_used=%d memory_free=%d running=%d",
			host.VCPUsUsed, host.MemoryUsed, host.MemoryFree, host.RunningVMs)
	}
	// edge0 starts with compute1's 2 used vcpus and pod0 with 6; each gains 2.
	if edge.VCPUsUsed != 4 || edge.RunningVMs != 1 {
		t.Errorf("edge after assign did not propagate: vcpus_used=%d running=%d", edge.VCPUsUsed, edge.RunningVMs)
	}
	if pod.VCPUsUsed != 8 || pod.RunningVMs != 1 {
		t.Errorf("pod after assign did not propagate: vcpus_used=%d running=%d", pod.VCPUsUsed, pod.RunningVMs)
	}
}

func TestFreeCores(t *testing.T) {
	inv := buildFixture(t)
	host, _ := inv.FindHostNode("compute1")
	if got := host.FreeCores(); got != 6 {
		t.Errorf("FreeCores() = %d, want 6", got)
	}
}

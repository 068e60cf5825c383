package topology

import (
	"reflect"
	"sort"
	"testing"
)

// fat-tree-like test fixture: two edge switches, one aggregation switch,
// two hosts each hanging off an edge switch.
//
//	h1(mac1) --p1-- edge1(40960021) --p2-- agg1(40960011) --p1-- edge2(40960022) --p1-- h2(mac2)
func buildFixture(t *testing.T) *Topology {
	t.Helper()
	tps := []TerminationPoint{
		{NodeID: "40960021", Port: 1},
		{NodeID: "40960021", Port: 2},
		{NodeID: "40960011", Port: 1},
		{NodeID: "40960011", Port: 2},
		{NodeID: "40960022", Port: 1},
		{NodeID: "40960022", Port: 2},
		{NodeID: "40960022", Port: 3, Down: true},
		{NodeID: "40960022", Port: 4, Name: "LOCAL"},
	}
	links := []LinkDesc{
		{SourceNode: "40960021", SourcePort: 2, DestNode: "40960011", DestPort: 1},
		{SourceNode: "40960011", SourcePort: 2, DestNode: "40960022", DestPort: 1},
	}
	hosts := []HostDesc{
		{MAC: "aa:aa:aa:aa:aa:01", IP: "192.168.0.1", AttachmentNode: "40960021", AttachmentPort: 1},
		{MAC: "aa:aa:aa:aa:aa:02", IP: "192.168.0.2", AttachmentNode: "40960022", AttachmentPort: 2},
	}

	topo, err := Build(tps, links, hosts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return topo
}

func TestBuild_PeerAndPort(t *testing.T) {
	topo := buildFixture(t)

	peer, ok := topo.Peer("40960021", 2)
	if !ok || peer != "40960011" {
		t.Errorf("Peer(edge1, 2) = (%q, %v), want (40960011, true)", peer, ok)
	}

	port, ok := topo.Port("40960011", "40960021")
	if !ok || port != 1 {
		t.Errorf("Port(agg1, edge1) = (%d, %v), want (1, true)", port, ok)
	}
}

func TestBuild_SkipsDownAndLocalPorts(t *testing.T) {
	topo := buildFixture(t)
	if _, ok := topo.Peer("40960022", 3); ok {
		t.Error("expected link-down port 3 to be excluded")
	}
	if _, ok := topo.Peer("40960022", 4); ok {
		t.Error("expected LOCAL port 4 to be excluded")
	}
}

func TestBuild_HostAttachment(t *testing.T) {
	topo := buildFixture(t)
	peer, ok := topo.Peer("40960021", 1)
	if !ok || peer != "aa:aa:aa:aa:aa:01" {
		t.Errorf("Peer(edge1, 1) = (%q, %v), want (host mac, true)", peer, ok)
	}
}

func TestMACForIP_And_IPForMAC(t *testing.T) {
	topo := buildFixture(t)
	mac, ok := topo.MACForIP("192.168.0.1")
	if !ok || mac != "aa:aa:aa:aa:aa:01" {
		t.Errorf("MACForIP = (%q, %v)", mac, ok)
	}
	ip, ok := topo.IPForMAC("aa:aa:aa:aa:aa:02")
	if !ok || ip != "192.168.0.2" {
		t.Errorf("IPForMAC = (%q, %v)", ip, ok)
	}
}

func TestAllShortestPaths(t *testing.T) {
	topo := buildFixture(t)
	paths, err := topo.AllShortestPaths("192.168.0.1", "192.168.0.2")
	if err != nil {
		t.Fatalf("AllShortestPaths: %v", err)
	}
	want := []string{"aa:aa:aa:aa:aa:01", "40960021", "40960011", "40960022", "aa:aa:aa:aa:aa:02"}
	if len(paths) != 1 || !reflect.DeepEqual(paths[0], want) {
		t.Errorf("AllShortestPaths = %v, want single path %v", paths, want)
	}
}

func TestAllShortestPaths_SameHost(t *testing.T) {
	topo := buildFixture(t)
	paths, err := topo.AllShortestPaths("192.168.0.1", "192.168.0.1")
	if err != nil {
		t.Fatalf("AllShortestPaths: %v", err)
	}
	if len(paths) != 1 || len(paths[0]) != 1 {
		t.Errorf("AllShortestPaths(same host) = %v, want single-node path", paths)
	}
}

func TestAllShortestPaths_Unreachable(t *testing.T) {
	topo := buildFixture(t)
	if _, err := topo.AllShortestPaths("192.168.0.1", "192.168.0.99"); err == nil {
		t.Error("expected error for unknown destination host")
	}
}

func TestAllShortestPaths_MultiplePaths(t *testing.T) {
	// Two core switches give two equal-cost paths between pods.
	tps := []TerminationPoint{
		{NodeID: "40960021", Port: 1}, {NodeID: "40960021", Port: 2}, {NodeID: "40960021", Port: 3},
		{NodeID: "40960022", Port: 1}, {NodeID: "40960022", Port: 2}, {NodeID: "40960022", Port: 3},
		{NodeID: "40960001", Port: 1}, {NodeID: "40960001", Port: 2},
		{NodeID: "40960002", Port: 1}, {NodeID: "40960002", Port: 2},
	}
	links := []LinkDesc{
		{SourceNode: "40960021", SourcePort: 2, DestNode: "40960001", DestPort: 1},
		{SourceNode: "40960001", SourcePort: 2, DestNode: "40960022", DestPort: 1},
		{SourceNode: "40960021", SourcePort: 3, DestNode: "40960002", DestPort: 1},
		{SourceNode: "40960002", SourcePort: 2, DestNode: "40960022", DestPort: 2},
	}
	hosts := []HostDesc{
		{MAC: "aa:aa:aa:aa:aa:01", IP: "192.168.0.1", AttachmentNode: "40960021", AttachmentPort: 1},
		{MAC: "aa:aa:aa:aa:aa:02", IP: "192.168.0.2", AttachmentNode: "40960022", AttachmentPort: 3},
	}
	topo, err := Build(tps, links, hosts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	paths, err := topo.AllShortestPaths("192.168.0.1", "192.168.0.2")
	if err != nil {
		t.Fatalf("AllShortestPaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("AllShortestPaths returned %d paths, want 2", len(paths))
	}
	var cores []string
	for _, p := range paths {
		cores = append(cores, p[2])
	}
	sort.Strings(cores)
	want := []string{"40960001", "40960002"}
	if !reflect.DeepEqual(cores, want) {
		t.Errorf("core switches used = %v, want %v", cores, want)
	}
}

func TestSwitchPortMap(t *testing.T) {
	topo := buildFixture(t)
	path := []string{"aa:aa:aa:aa:aa:01", "40960021", "40960011", "40960022", "aa:aa:aa:aa:aa:02"}
	hops, err := topo.SwitchPortMap(path)
	if err != nil {
		t.Fatalf("SwitchPortMap: %v", err)
	}
	want := []PortHop{
		{InPort: 1, Switch: "40960021", OutPort: 2},
		{InPort: 1, Switch: "40960011", OutPort: 2},
		{InPort: 1, Switch: "40960022", OutPort: 2},
	}
	if !reflect.DeepEqual(hops, want) {
		t.Errorf("SwitchPortMap = %+v, want %+v", hops, want)
	}
}

func TestSwitchPortMap_BrokenPath(t *testing.T) {
	topo := buildFixture(t)
	path := []string{"aa:aa:aa:aa:aa:01", "40960021", "40960022"}
	if _, err := topo.SwitchPortMap(path); err == nil {
		t.Error("expected error for a path with no direct edge1<->edge2 link")
	}
}

func TestPodEdgeHosts_GroupsEdgesByAggregationNeighbor(t *testing.T) {
	topo := buildFixture(t)
	pods := topo.PodEdgeHosts()
	if len(pods) != 1 {
		t.Fatalf("pods = %d, want 1 (both edges share aggregation switch 40960011)", len(pods))
	}
	pod := pods[0]
	if len(pod) != 2 {
		t.Fatalf("edges in pod = %d, want 2", len(pod))
	}
	var allHosts []string
	for _, edge := range pod {
		allHosts = append(allHosts, edge...)
	}
	sort.Strings(allHosts)
	want := []string{"192.168.0.1", "192.168.0.2"}
	if !reflect.DeepEqual(allHosts, want) {
		t.Errorf("hosts = %v, want %v", allHosts, want)
	}
}

func TestSwitchIDs_ExcludesHosts(t *testing.T) {
	topo := buildFixture(t)
	ids := topo.SwitchIDs()
	want := []string{"40960011", "40960021", "40960022"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("SwitchIDs() = %v, want %v", ids, want)
	}
}

func TestNode_Ports(t *testing.T) {
	topo := buildFixture(t)
	n, ok := topo.Node("40960021")
	if !ok {
		t.Fatal("expected edge1 node to exist")
	}
	got := n.Ports()
	want := []int{1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Ports() = %v, want %v", got, want)
	}
}

func TestBuild_SkipsHostsWithMalformedAddresses(t *testing.T) {
	tps := []TerminationPoint{
		{NodeID: "40960021", Port: 1},
	}
	hosts := []HostDesc{
		{MAC: "not-a-mac", IP: "192.168.0.1", AttachmentNode: "40960021", AttachmentPort: 1},
		{MAC: "aa:aa:aa:aa:aa:03", IP: "not-an-ip", AttachmentNode: "40960021", AttachmentPort: 1},
	}

	topo, err := Build(tps, nil, hosts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := topo.Node("not-a-mac"); ok {
		t.Error("expected malformed mac to be rejected")
	}
	if _, ok := topo.MACForIP("not-an-ip"); ok {
		t.Error("expected malformed ip to be rejected")
	}
	if len(topo.SwitchIDs()) != 1 {
		t.Errorf("SwitchIDs() = %v, want just the one switch", topo.SwitchIDs())
	}
}

func TestBuild_NormalizesHostMACCase(t *testing.T) {
	tps := []TerminationPoint{{NodeID: "40960021", Port: 1}}
	hosts := []HostDesc{
		{MAC: "AA:AA:AA:AA:AA:09", IP: "192.168.0.9", AttachmentNode: "40960021", AttachmentPort: 1},
	}

	topo, err := Build(tps, nil, hosts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	mac, ok := topo.MACForIP("192.168.0.9")
	if !ok || mac != "aa:aa:aa:aa:aa:09" {
		t.Errorf("MACForIP = (%q, %v), want normalized lowercase mac", mac, ok)
	}
}

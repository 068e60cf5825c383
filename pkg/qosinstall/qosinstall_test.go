package qosinstall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Cloudslab/sdcon/pkg/qos"
	"github.com/Cloudslab/sdcon/pkg/sdn"
)

func testInstaller(t *testing.T, handler http.HandlerFunc) *Installer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := sdn.New(sdn.Config{BaseURL: server.URL, Username: "admin", Password: "admin", Timeout: 2 * time.Second})
	return New(client, 1_000_000_000)
}

func TestBuildNodeDoc_IncludesDefaultAndNamedQueues(t *testing.T) {
	ins := &Installer{totalRate: 1_000_000_000}
	portConfigs := map[int][]qos.PortQueueConfig{
		3: {{QueueNo: 10, MinRate: 1000, MaxRate: 5000}},
	}
	doc, err := ins.buildNodeDoc("40960021", portConfigs)
	if err != nil {
		t.Fatalf("buildNodeDoc: %v", err)
	}
	if len(doc.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(doc.Nodes))
	}
	node := doc.Nodes[0]
	if node.NodeID != "ovsdb:40960021" {
		t.Errorf("node-id = %q", node.NodeID)
	}
	if node.ConnectionInfo.RemoteIP != "192.168.99.121" {
		t.Errorf("remote-ip = %q, want 192.168.99.121", node.ConnectionInfo.RemoteIP)
	}
	if len(node.QosEntries) != 1 {
		t.Fatalf("qos-entries = %d, want 1", len(node.QosEntries))
	}
	if node.QosEntries[0].QosID != "qos_port_3" {
		t.Errorf("qos-id = %q", node.QosEntries[0].QosID)
	}
	// One named queue + one default queue.
	if len(node.Queues) != 2 {
		t.Fatalf("queues = %d, want 2", len(node.Queues))
	}
	foundNamed, foundDefault := false, false
	for _, q := range node.Queues {
		switch q.QueueID {
		case "QUEUE-10":
			foundNamed = true
		case "QUEUE-DEF-3":
			foundDefault = true
		}
	}
	if !foundNamed || !foundDefault {
		t.Errorf("queues = %+v, want QUEUE-10 and QUEUE-DEF-3", node.Queues)
	}
}

func TestInstall_PushesVerifiesAndBindsPorts(t *testing.T) {
	var mu sync.Mutex
	putPaths := map[string]int{}
	verifyCalls := 0

	ins := testInstaller(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			putPaths[r.URL.Path]++
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			verifyCalls++
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"node-connector": []map[string]interface{}{{"flow-node-inventory:name": "s1-eth3"}},
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	portConfigs := map[int][]qos.PortQueueConfig{
		3: {{QueueNo: 10, MinRate: 1000, MaxRate: 5000}},
	}
	if err := ins.Install(context.Background(), "40960021", portConfigs); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(putPaths) != 2 {
		t.Errorf("distinct PUT paths = %d, want 2 (node doc + termination-point bind)", len(putPaths))
	}
	if verifyCalls == 0 {
		t.Error("expected at least one verification GET")
	}
}

func TestTeardown_DeletesBindingEntryAndQueues(t *testing.T) {
	var mu sync.Mutex
	deletes := 0

	ins := testInstaller(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodDelete:
			deletes++
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"node-connector": []map[string]interface{}{{"flow-node-inventory:name": "s1-eth3"}},
			})
		}
	})

	portConfigs := map[int][]qos.PortQueueConfig{
		3: {{QueueNo: 10, MinRate: 1000, MaxRate: 5000}},
	}
	ins.Teardown(context.Background(), "40960021", portConfigs)
	// unbind + qos-entry + named queue + default queue = 4 deletes.
	if deletes != 4 {
		t.Errorf("deletes = %d, want 4", deletes)
	}
}

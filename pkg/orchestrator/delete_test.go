package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Cloudslab/sdcon/pkg/config"
)

func deleteMux(t *testing.T, knownServers map[string]string, failDelete map[string]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/flavors/detail", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"flavors": []map[string]interface{}{{"id": "1", "name": "m1.small", "vcpus": 2, "ram": 2048}},
		})
	})
	mux.HandleFunc("/servers/detail", func(w http.ResponseWriter, r *http.Request) {
		servers := make([]map[string]interface{}, 0, len(knownServers))
		for name, id := range knownServers {
			servers = append(servers, map[string]interface{}{"id": id, "name": name, "status": "ACTIVE"})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"servers": servers})
	})
	mux.HandleFunc("/servers/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/servers/")
		if failDelete[id] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDelete_RemovesEveryVMAndForgetsItInRunState(t *testing.T) {
	srv := deleteMux(t, map[string]string{"web": "srv-1", "db": "srv-2"}, nil)
	o := newTestOrchestrator(t, srv.URL, &collectingLogger{})
	o.runState = &config.RunState{PlacedVMHosts: map[string]string{"web": "compute1", "db": "compute2"}}

	doc := writeVMDoc(t, `{"nodes": [
		{"name": "web", "flavor": "m1.small", "image": "ubuntu-20.04", "network": "flat"},
		{"name": "db", "flavor": "m1.small", "image": "ubuntu-20.04", "network": "flat"}
	], "links": []}`)

	if err := o.Delete(context.Background(), doc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(o.runState.PlacedVMHosts) != 0 {
		t.Errorf("PlacedVMHosts = %v, want empty after deleting every vm", o.runState.PlacedVMHosts)
	}
}

func TestDelete_ReportsPartialFailureButContinues(t *testing.T) {
	srv := deleteMux(t, map[string]string{"web": "srv-1", "db": "srv-2"}, map[string]bool{"srv-1": true})
	o := newTestOrchestrator(t, srv.URL, &collectingLogger{})
	o.runState = &config.RunState{PlacedVMHosts: map[string]string{"web": "compute1", "db": "compute2"}}

	doc := writeVMDoc(t, `{"nodes": [
		{"name": "web", "flavor": "m1.small", "image": "ubuntu-20.04", "network": "flat"},
		{"name": "db", "flavor": "m1.small", "image": "ubuntu-20.04", "network": "flat"}
	], "links": []}`)

	err := o.Delete(context.Background(), doc)
	if err == nil || !strings.Contains(err.Error(), "web") {
		t.Fatalf("err = %v, want a failure naming web", err)
	}
	if _, stillThere := o.runState.PlacedVMHosts["web"]; !stillThere {
		t.Error("web should remain in run state after a failed delete")
	}
	if _, stillThere := o.runState.PlacedVMHosts["db"]; stillThere {
		t.Error("db should have been removed from run state after a successful delete")
	}
}

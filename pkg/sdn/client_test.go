package sdn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, Username: "admin", Password: "admin", Timeout: 2 * time.Second})
}

func TestPutJSON_Success(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.PutJSON(context.Background(), "/some/path", []byte(`{}`)); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
}

func TestPutJSON_UnexpectedStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := c.PutJSON(context.Background(), "/some/path", []byte(`{}`)); err == nil {
		t.Error("expected an error for a 500 response")
	}
}

func TestGetJSON_DecodesBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	})
	var out map[string]string
	if err := c.GetJSON(context.Background(), "/x", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out["hello"] != "world" {
		t.Errorf("GetJSON decoded = %v", out)
	}
}

func TestVerifyPresence_EventuallySucceeds(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.VerifyPresence(ctx, "/x"); err != nil {
		t.Fatalf("VerifyPresence: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestVerifyPresence_NeverSucceeds(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.VerifyPresence(ctx, "/x"); err == nil {
		t.Error("expected VerifyPresence to fail after exhausting retries")
	}
}

func TestFetchTopology_ParsesNodesLinksAndHosts(t *testing.T) {
	body := `{
		"topology": [{
			"node": [
				{
					"termination-point": [{"tp-id": "openflow:40960021:1"}, {"tp-id": "openflow:40960021:2"}],
					"host-tracker-service:addresses": [{"ip": "192.168.0.1", "mac": "aa:aa:aa:aa:aa:01"}]
				},
				{
					"termination-point": [{"tp-id": "openflow:40960011:1"}]
				}
			],
			"link": [
				{"source": {"source-tp": "openflow:40960021:2"}, "destination": {"dest-tp": "openflow:40960011:1"}},
				{"source": {"source-tp": "openflow:40960021:1"}, "destination": {"dest-tp": "host:aa:aa:aa:aa:aa:01"}}
			]
		}]
	}`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/restconf/operational/network-topology:network-topology/topology/flow:1/" {
			w.Write([]byte(body))
			return
		}
		// port state queries: report all ports up.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"node-connector": []map[string]interface{}{{"flow-node-inventory:state": map[string]bool{"link-down": false}}},
		})
	})

	tps, links, hosts, err := c.FetchTopology(context.Background())
	if err != nil {
		t.Fatalf("FetchTopology: %v", err)
	}
	if len(tps) != 3 {
		t.Errorf("termination points = %d, want 3", len(tps))
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1 (switch-to-switch only)", len(links))
	}
	if links[0].SourceNode != "40960021" || links[0].DestNode != "40960011" {
		t.Errorf("link = %+v", links[0])
	}
	if len(hosts) != 1 || hosts[0].AttachmentNode != "40960021" || hosts[0].AttachmentPort != 1 {
		t.Errorf("hosts = %+v, want attachment to 40960021 port 1", hosts)
	}
}

func TestFetchTopology_DiscardsMalformedHostAddresses(t *testing.T) {
	body := `{
		"topology": [{
			"node": [
				{
					"termination-point": [{"tp-id": "openflow:40960021:1"}],
					"host-tracker-service:addresses": [
						{"ip": "192.168.0.1", "mac": "aa:aa:aa:aa:aa:01"},
						{"ip": "not-an-ip", "mac": "aa:aa:aa:aa:aa:02"},
						{"ip": "192.168.0.3", "mac": "garbage"}
					]
				}
			],
			"link": [
				{"source": {"source-tp": "openflow:40960021:1"}, "destination": {"dest-tp": "host:aa:aa:aa:aa:aa:01"}}
			]
		}]
	}`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/restconf/operational/network-topology:network-topology/topology/flow:1/" {
			w.Write([]byte(body))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"node-connector": []map[string]interface{}{{"flow-node-inventory:state": map[string]bool{"link-down": false}}},
		})
	})

	_, _, hosts, err := c.FetchTopology(context.Background())
	if err != nil {
		t.Fatalf("FetchTopology: %v", err)
	}
	if len(hosts) != 1 || hosts[0].MAC != "aa:aa:aa:aa:aa:01" {
		t.Errorf("hosts = %+v, want only the well-formed address", hosts)
	}
}

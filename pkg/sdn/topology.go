package sdn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/pkg/topology"
	"github.com/Cloudslab/sdcon/pkg/util"
)

type topologyResponse struct {
	Topology []struct {
		Node []struct {
			TerminationPoint []struct {
				TPID string `json:"tp-id"`
			} `json:"termination-point"`
			Addresses []struct {
				IP  string `json:"ip"`
				MAC string `json:"mac"`
			} `json:"host-tracker-service:addresses"`
		} `json:"node"`
		Link []struct {
			Source struct {
				SourceTP string `json:"source-tp"`
			} `json:"source"`
			Destination struct {
				DestTP string `json:"dest-tp"`
			} `json:"destination"`
		} `json:"link"`
	} `json:"topology"`
}

type portStateResponse struct {
	NodeConnector []struct {
		State struct {
			LinkDown bool `json:"link-down"`
		} `json:"flow-node-inventory:state"`
		Name string `json:"flow-node-inventory:name"`
	} `json:"node-connector"`
}

func isSwitchTP(tp string) bool {
	return strings.HasPrefix(tp, "openflow:")
}

// tpID extracts the switch or host id from a termination-point string:
// "openflow:40960020:2" -> "40960020", "host:ab:cd:ef:00:11:22" -> the MAC.
func tpID(tp string) string {
	if isSwitchTP(tp) {
		parts := strings.SplitN(tp, ":", 3)
		if len(parts) >= 2 {
			return parts[1]
		}
		return tp
	}
	_, rest, found := strings.Cut(tp, ":")
	if !found {
		return tp
	}
	return rest
}

// tpPort extracts the numeric port from a switch termination-point
// string. Host termination points carry no port.
func tpPort(tp string) (int, bool) {
	if !isSwitchTP(tp) {
		return 0, false
	}
	parts := strings.Split(tp, ":")
	if len(parts) < 3 {
		return 0, false
	}
	if parts[2] == "LOCAL" {
		return 0, false
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	return port, true
}

// FetchTopology retrieves the SDN controller's operational topology and
// assembles the termination points, links and host addresses needed by
// pkg/topology.Build. Port link-down state is fetched per termination
// point via a follow-up inventory query.
func (c *Client) FetchTopology(ctx context.Context) ([]topology.TerminationPoint, []topology.LinkDesc, []topology.HostDesc, error) {
	var resp topologyResponse
	if err := c.GetJSON(ctx, "/restconf/operational/network-topology:network-topology/topology/flow:1/", &resp); err != nil {
		return nil, nil, nil, fmt.Errorf("sdn: fetching topology: %w", err)
	}

	var terminationPoints []topology.TerminationPoint
	var links []topology.LinkDesc
	hostByMAC := make(map[string]topology.HostDesc)

	for _, topo := range resp.Topology {
		for _, node := range topo.Node {
			for _, addr := range node.Addresses {
				if !util.IsValidMACAddress(addr.MAC) || !util.IsValidIPv4(addr.IP) {
					obs.WithComponent("sdn").Warnf("discarding host-tracker address mac=%q ip=%q", addr.MAC, addr.IP)
					continue
				}
				hostByMAC[addr.MAC] = topology.HostDesc{MAC: addr.MAC, IP: addr.IP}
			}
			for _, tp := range node.TerminationPoint {
				if !isSwitchTP(tp.TPID) {
					continue
				}
				port, ok := tpPort(tp.TPID)
				if !ok {
					continue
				}
				nodeID := tpID(tp.TPID)
				down, err := c.isPortDown(ctx, nodeID, port)
				if err != nil {
					return nil, nil, nil, err
				}
				terminationPoints = append(terminationPoints, topology.TerminationPoint{NodeID: nodeID, Port: port, Down: down})
			}
		}

		for _, link := range topo.Link {
			srcTP, dstTP := link.Source.SourceTP, link.Destination.DestTP
			switch {
			case isSwitchTP(srcTP) && isSwitchTP(dstTP):
				srcPort, srcOK := tpPort(srcTP)
				dstPort, dstOK := tpPort(dstTP)
				if !srcOK || !dstOK {
					continue
				}
				links = append(links, topology.LinkDesc{
					SourceNode: tpID(srcTP), SourcePort: srcPort,
					DestNode: tpID(dstTP), DestPort: dstPort,
				})
			case isSwitchTP(srcTP) && !isSwitchTP(dstTP):
				if port, ok := tpPort(srcTP); ok {
					attachHost(hostByMAC, tpID(dstTP), tpID(srcTP), port)
				}
			case !isSwitchTP(srcTP) && isSwitchTP(dstTP):
				if port, ok := tpPort(dstTP); ok {
					attachHost(hostByMAC, tpID(srcTP), tpID(dstTP), port)
				}
			}
		}
	}

	hosts := make([]topology.HostDesc, 0, len(hostByMAC))
	for _, h := range hostByMAC {
		hosts = append(hosts, h)
	}

	return terminationPoints, links, hosts, nil
}

func attachHost(hostByMAC map[string]topology.HostDesc, mac, switchID string, port int) {
	h, ok := hostByMAC[mac]
	if !ok {
		return
	}
	h.AttachmentNode = switchID
	h.AttachmentPort = port
	hostByMAC[mac] = h
}

func (c *Client) isPortDown(ctx context.Context, dpid string, port int) (bool, error) {
	path := fmt.Sprintf("/restconf/operational/opendaylight-inventory:nodes/node/openflow:%s/node-connector/openflow:%s:%d", dpid, dpid, port)
	var resp portStateResponse
	if err := c.GetJSON(ctx, path, &resp); err != nil {
		return false, fmt.Errorf("sdn: reading port state for %s:%d: %w", dpid, port, err)
	}
	if len(resp.NodeConnector) == 0 {
		return false, nil
	}
	return resp.NodeConnector[0].State.LinkDown, nil
}

// PortInterfaceName returns a switch port's OVS interface name, used to
// address QoS bindings.
func (c *Client) PortInterfaceName(ctx context.Context, dpid string, port int) (string, error) {
	path := fmt.Sprintf("/restconf/operational/opendaylight-inventory:nodes/node/openflow:%s/node-connector/openflow:%s:%d", dpid, dpid, port)
	var resp portStateResponse
	if err := c.GetJSON(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("sdn: reading port name for %s:%d: %w", dpid, port, err)
	}
	if len(resp.NodeConnector) == 0 {
		return "", fmt.Errorf("sdn: no port data for %s:%d", dpid, port)
	}
	return resp.NodeConnector[0].Name, nil
}

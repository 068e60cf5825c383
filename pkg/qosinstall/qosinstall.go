// Package qosinstall implements the QoS/queue installer (C7): it pushes a
// qos.Plan's per-switch queue configuration to the SDN collaborator's
// OVSDB northbound as a four-step transaction (QoS+queues, verify,
// port binding, verify), and tears it down in reverse order.
package qosinstall

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/pkg/idconv"
	"github.com/Cloudslab/sdcon/pkg/qos"
	"github.com/Cloudslab/sdcon/pkg/sdn"
)

func marshalJSON(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("qosinstall: encoding request body: %w", err)
	}
	return body, nil
}

const defaultMinBWRatio = 0.1

// Installer pushes and tears down QoS/queue configuration for one SDN
// controller, at a configured total port rate.
type Installer struct {
	client    *sdn.Client
	totalRate int64
}

// New returns an Installer bound to client, enforcing totalRate (bits/s)
// as each port's maximum queue rate.
func New(client *sdn.Client, totalRate int64) *Installer {
	return &Installer{client: client, totalRate: totalRate}
}

func portToQosID(port int) string {
	return fmt.Sprintf("qos_port_%d", port)
}

func queueRefPath(switchID, queueID string) string {
	return "/network-topology:network-topology/network-topology:topology[network-topology:topology-id='ovsdb:1']" +
		"/network-topology:node[network-topology:node-id='ovsdb:" + switchID + "']" +
		"/ovsdb:queues[ovsdb:queue-id='" + queueID + "']"
}

// --- config-store JSON document shapes ---

type otherConfigKV struct {
	Key   string `json:"other-config-key"`
	Value string `json:"other-config-value"`
}

type queueRef struct {
	QueueNumber string `json:"queue-number"`
	QueueRef    string `json:"queue-ref"`
}

type qosEntryDoc struct {
	QosID       string          `json:"qos-id"`
	OtherConfig []otherConfigKV `json:"qos-other-config"`
	QosType     string          `json:"qos-type"`
	QueueList   []queueRef      `json:"queue-list"`
}

type queueOtherConfigKV struct {
	Key   string `json:"queue-other-config-key"`
	Value string `json:"queue-other-config-value"`
}

type queueDoc struct {
	QueueID     string               `json:"queue-id"`
	OtherConfig []queueOtherConfigKV `json:"queues-other-config"`
}

type connectionInfo struct {
	RemotePort string `json:"ovsdb:remote-port"`
	RemoteIP   string `json:"ovsdb:remote-ip"`
}

type ovsdbNode struct {
	NodeID         string         `json:"node-id"`
	ConnectionInfo connectionInfo `json:"connection-info"`
	QosEntries     []qosEntryDoc  `json:"ovsdb:qos-entries"`
	Queues         []queueDoc     `json:"ovsdb:queues"`
}

type ovsdbNodeDoc struct {
	Nodes []ovsdbNode `json:"network-topology:node"`
}

type qosRef struct {
	QosKey int    `json:"qos-key"`
	QosRef string `json:"qos-ref"`
}

type terminationPointBind struct {
	Name     string   `json:"ovsdb:name"`
	TPID     string   `json:"tp-id"`
	QosEntry []qosRef `json:"ovsdb:qos-entry"`
}

type terminationPointDoc struct {
	Points []terminationPointBind `json:"network-topology:termination-point"`
}

func (ins *Installer) buildNodeDoc(switchID string, portConfigs map[int][]qos.PortQueueConfig) (ovsdbNodeDoc, error) {
	switchIP, err := idconv.SwitchDPIDToIP(switchID)
	if err != nil {
		return ovsdbNodeDoc{}, fmt.Errorf("qosinstall: resolving management ip for switch %s: %w", switchID, err)
	}

	defaultMax := ins.totalRate
	defaultMin := int64(float64(ins.totalRate) * defaultMinBWRatio)

	node := ovsdbNode{
		NodeID: "ovsdb:" + switchID,
		ConnectionInfo: connectionInfo{
			RemotePort: "6640",
			RemoteIP:   switchIP,
		},
	}

	for port, cfgs := range portConfigs {
		qosID := portToQosID(port)
		entry := qosEntryDoc{
			QosID:       qosID,
			OtherConfig: []otherConfigKV{{Key: "max-rate", Value: strconv.FormatInt(ins.totalRate, 10)}},
			QosType:     "ovsdb:qos-type-linux-htb",
			QueueList: []queueRef{{
				QueueNumber: "0",
				QueueRef:    queueRefPath(switchID, fmt.Sprintf("QUEUE-DEF-%d", port)),
			}},
		}
		node.Queues = append(node.Queues, queueDoc{
			QueueID: fmt.Sprintf("QUEUE-DEF-%d", port),
			OtherConfig: []queueOtherConfigKV{
				{Key: "max-rate", Value: strconv.FormatInt(defaultMax, 10)},
				{Key: "min-rate", Value: strconv.FormatInt(defaultMin, 10)},
			},
		})

		for _, cfg := range cfgs {
			entry.QueueList = append(entry.QueueList, queueRef{
				QueueNumber: strconv.Itoa(cfg.QueueNo),
				QueueRef:    queueRefPath(switchID, fmt.Sprintf("QUEUE-%d", cfg.QueueNo)),
			})
			node.Queues = append(node.Queues, queueDoc{
				QueueID: fmt.Sprintf("QUEUE-%d", cfg.QueueNo),
				OtherConfig: []queueOtherConfigKV{
					{Key: "max-rate", Value: strconv.FormatInt(cfg.MaxRate, 10)},
					{Key: "min-rate", Value: strconv.FormatInt(cfg.MinRate, 10)},
				},
			})
		}
		node.QosEntries = append(node.QosEntries, entry)
	}

	return ovsdbNodeDoc{Nodes: []ovsdbNode{node}}, nil
}

func qosEntryOperPath(switchID, qosID string) string {
	return "/restconf/operational/network-topology:network-topology/topology/ovsdb:1/node/ovsdb:" + switchID + "/ovsdb:qos-entries/" + qosID
}

func qosEntryConfigPath(switchID string) string {
	return "/restconf/config/network-topology:network-topology/topology/ovsdb:1/node/ovsdb:" + switchID
}

func terminationPointConfigPath(switchID, ifname string) string {
	return "/restconf/config/network-topology:network-topology/topology/ovsdb:1/node/ovsdb:" + switchID + "%2Fbridge%2Fovsbr0/termination-point/" + ifname
}

func terminationPointOperPath(switchID, ifname string) string {
	return "/restconf/operational/network-topology:network-topology/topology/ovsdb:1/node/ovsdb:" + switchID + "%2Fbridge%2Fovsbr0/termination-point/" + ifname
}

// Install runs the four-step QoS transaction for one switch: push the
// qos-entries/queues document, verify each qos-id is visible
// operationally, bind each port's interface to its qos-id, then verify
// the binding.
func (ins *Installer) Install(ctx context.Context, switchID string, portConfigs map[int][]qos.PortQueueConfig) error {
	nodeDoc, err := ins.buildNodeDoc(switchID, portConfigs)
	if err != nil {
		return err
	}
	body, err := marshalJSON(nodeDoc)
	if err != nil {
		return err
	}

	if err := ins.client.PutJSON(ctx, qosEntryConfigPath(switchID), body); err != nil {
		return fmt.Errorf("qosinstall: pushing qos/queue config for switch %s: %w", switchID, err)
	}

	for port := range portConfigs {
		qosID := portToQosID(port)
		if err := ins.client.VerifyPresence(ctx, qosEntryOperPath(switchID, qosID)); err != nil {
			return fmt.Errorf("qosinstall: verifying qos entry %s on switch %s: %w", qosID, switchID, err)
		}

		ifname, err := ins.client.PortInterfaceName(ctx, switchID, port)
		if err != nil {
			return fmt.Errorf("qosinstall: resolving interface name for switch %s port %d: %w", switchID, port, err)
		}

		bindDoc := terminationPointDoc{Points: []terminationPointBind{{
			Name: ifname,
			TPID: ifname,
			QosEntry: []qosRef{{
				QosKey: 1,
				QosRef: "/network-topology:network-topology/network-topology:topology[network-topology:topology-id='ovsdb:1']" +
					"/network-topology:node[network-topology:node-id='ovsdb:" + switchID + "']" +
					"/ovsdb:qos-entries[ovsdb:qos-id='" + qosID + "']",
			}},
		}}}
		bindBody, err := marshalJSON(bindDoc)
		if err != nil {
			return err
		}
		if err := ins.client.PutJSON(ctx, terminationPointConfigPath(switchID, ifname), bindBody); err != nil {
			return fmt.Errorf("qosinstall: binding port %s to qos %s on switch %s: %w", ifname, qosID, switchID, err)
		}
		if err := ins.client.VerifyPresence(ctx, terminationPointOperPath(switchID, ifname)); err != nil {
			return fmt.Errorf("qosinstall: verifying port binding %s on switch %s: %w", ifname, switchID, err)
		}
	}

	return nil
}

// Teardown reverses Install for one switch: unbind each port, delete its
// QoS entry, then delete every queue including the per-port default.
// Failures are logged, not returned: teardown must be safe to retry.
func (ins *Installer) Teardown(ctx context.Context, switchID string, portConfigs map[int][]qos.PortQueueConfig) {
	for port, cfgs := range portConfigs {
		qosID := portToQosID(port)

		ifname, err := ins.client.PortInterfaceName(ctx, switchID, port)
		if err != nil {
			obs.WithComponent("qosinstall").Warnf("teardown: resolving interface for switch %s port %d: %v", switchID, port, err)
		} else {
			ins.client.Delete(ctx, terminationPointConfigPath(switchID, ifname)+"/qos-entry/1")
		}

		ins.client.Delete(ctx, qosEntryConfigPath(switchID)+"/ovsdb:qos-entries/"+qosID)

		for _, cfg := range cfgs {
			ins.client.Delete(ctx, qosEntryConfigPath(switchID)+"/ovsdb:queues/QUEUE-"+strconv.Itoa(cfg.QueueNo))
		}
		ins.client.Delete(ctx, qosEntryConfigPath(switchID)+fmt.Sprintf("/ovsdb:queues/QUEUE-DEF-%d", port))
	}
}

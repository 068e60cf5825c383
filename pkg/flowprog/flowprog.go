// Package flowprog implements the flow programmer (C8): it installs and
// removes OpenFlow enqueue rules on the SDN collaborator, namespaced by a
// flow-name marker so related rules can be mass-cleared without touching
// unrelated traffic.
package flowprog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Cloudslab/sdcon/pkg/sdn"
)

// SpecialQueueFlowName marks flows installed by the QoS path (C6/C7/C8)
// so dynamic-flow rotation and teardown can find and clear them in bulk
// without disturbing unrelated rules.
const SpecialQueueFlowName = "SPECIAL_QUEUE"

// PrioritySpecialPathQueue is the OpenFlow priority used for enqueue
// rules installed along a reserved-bandwidth or dynamic path.
const PrioritySpecialPathQueue = 500

// Programmer installs and removes flow-table entries through one SDN
// collaborator.
type Programmer struct {
	client *sdn.Client
}

// New returns a Programmer bound to client.
func New(client *sdn.Client) *Programmer {
	return &Programmer{client: client}
}

type flowMatch struct {
	IPv4Source      string `json:"ipv4-source,omitempty"`
	IPv4Destination string `json:"ipv4-destination,omitempty"`
	EthernetMatch   struct {
		EthernetType struct {
			Type int64 `json:"type"`
		} `json:"ethernet-type"`
	} `json:"ethernet-match"`
}

type enqueueAction struct {
	Order int `json:"order"`
	Queue struct {
		Queue string `json:"queue"`
		Port  string `json:"port"`
	} `json:"enqueue-action"`
}

type instruction struct {
	Order       int             `json:"order"`
	ApplyActions struct {
		Action []enqueueAction `json:"action"`
	} `json:"apply-actions"`
}

type flowDoc struct {
	ID           string        `json:"id"`
	FlowName     string        `json:"flow-name"`
	TableID      int           `json:"table_id"`
	Priority     int           `json:"priority"`
	Match        flowMatch     `json:"match"`
	Instructions struct {
		Instruction []instruction `json:"instruction"`
	} `json:"instructions"`
}

type flowConfigDoc struct {
	Flows []flowDoc `json:"flow-node-inventory:flow"`
}

type flowTableResponse struct {
	Table []struct {
		Flow []flowDoc `json:"flow"`
	} `json:"flow-node-inventory:table"`
}

const ipv4EtherType = 2048

func flowID(flowName, srcIP, dstIP string, outport int) string {
	sanitize := func(s string) string { return strings.ReplaceAll(s, ".", "-") }
	return fmt.Sprintf("%s-%s-%s-%d", flowName, sanitize(srcIP), sanitize(dstIP), outport)
}

func flowConfigPath(switchID string, table int, id string) string {
	return fmt.Sprintf("/restconf/config/opendaylight-inventory:nodes/node/openflow:%s/table/%d/flow/%s", switchID, table, id)
}

func flowTablePath(switchID string, table int) string {
	return fmt.Sprintf("/restconf/config/opendaylight-inventory:nodes/node/openflow:%s/table/%d", switchID, table)
}

// AddEnqueue installs a flow on switch matching (srcIP, dstIP) that
// enqueues matching traffic on outport at queueNo, tagged with flowName
// for later bulk removal.
func (p *Programmer) AddEnqueue(ctx context.Context, switchID string, outport, queueNo int, srcIP, dstIP string, table int, flowName string, priority int) error {
	id := flowID(flowName, srcIP, dstIP, outport)

	var doc flowDoc
	doc.ID = id
	doc.FlowName = flowName
	doc.TableID = table
	doc.Priority = priority
	doc.Match.IPv4Source = srcIP + "/32"
	doc.Match.IPv4Destination = dstIP + "/32"
	doc.Match.EthernetMatch.EthernetType.Type = ipv4EtherType

	var action enqueueAction
	action.Order = 0
	action.Queue.Queue = strconv.Itoa(queueNo)
	action.Queue.Port = strconv.Itoa(outport)

	var instr instruction
	instr.Order = 0
	instr.ApplyActions.Action = []enqueueAction{action}
	doc.Instructions.Instruction = []instruction{instr}

	body, err := json.Marshal(flowConfigDoc{Flows: []flowDoc{doc}})
	if err != nil {
		return fmt.Errorf("flowprog: encoding flow %s: %w", id, err)
	}

	if err := p.client.PutJSON(ctx, flowConfigPath(switchID, table, id), body); err != nil {
		return fmt.Errorf("flowprog: installing flow %s on switch %s: %w", id, switchID, err)
	}
	return nil
}

// DelByNameAndMatch removes every flow in table on switch whose flow-name
// equals flowName and whose match includes both srcIP and dstIP.
func (p *Programmer) DelByNameAndMatch(ctx context.Context, switchID string, flowName, srcIP, dstIP string, table int) error {
	var resp flowTableResponse
	if err := p.client.GetJSON(ctx, flowTablePath(switchID, table), &resp); err != nil {
		return fmt.Errorf("flowprog: listing flows on switch %s table %d: %w", switchID, table, err)
	}

	for _, t := range resp.Table {
		for _, fl := range t.Flow {
			if fl.FlowName != flowName {
				continue
			}
			if !strings.Contains(fl.Match.IPv4Source, srcIP) || !strings.Contains(fl.Match.IPv4Destination, dstIP) {
				continue
			}
			p.client.Delete(ctx, flowConfigPath(switchID, table, fl.ID))
		}
	}
	return nil
}

// DelAllByName removes every flow tagged flowName across every switch in
// switches, scanning table 0. Individual switch failures are collected
// and returned together so callers can report a complete picture.
func (p *Programmer) DelAllByName(ctx context.Context, switches []string, flowName string) error {
	var errs []string
	for _, switchID := range switches {
		if err := p.DelByNameAndMatch(ctx, switchID, flowName, "", "", 0); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flowprog: clearing %q on %d switch(es): %s", flowName, len(errs), strings.Join(errs, "; "))
	}
	return nil
}

package defaultpath

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Cloudslab/sdcon/pkg/sdn"
)

// DefaultPathFlowName marks baseline forwarding rules so dynamic-flow
// rotation and QoS teardown never mistake them for reserved-bandwidth
// flows sharing the same table.
const DefaultPathFlowName = "DEFAULT_PATH"

// PriorityDefaultPath is the OpenFlow priority baseline forwarding rules
// are installed at, lower than any reserved-bandwidth or special-path
// rule so those always take precedence on a shared table.
const PriorityDefaultPath = 100

// defaultPathTable is the flow table baseline forwarding occupies.
const defaultPathTable = 0

// Installer pushes a Table's inport->outport entries to the SDN
// collaborator as plain OpenFlow output-action rules, one per switch
// port pairing.
type Installer struct {
	client *sdn.Client
}

// NewInstaller returns an Installer bound to client.
func NewInstaller(client *sdn.Client) *Installer {
	return &Installer{client: client}
}

type inPortMatch struct {
	InPort string `json:"in-port"`
}

type outputAction struct {
	Order  int `json:"order"`
	Output struct {
		OutputNodeConnector string `json:"output-node-connector"`
	} `json:"output-action"`
}

type outputInstruction struct {
	Order        int `json:"order"`
	ApplyActions struct {
		Action []outputAction `json:"action"`
	} `json:"apply-actions"`
}

type defaultFlowDoc struct {
	ID           string      `json:"id"`
	FlowName     string      `json:"flow-name"`
	TableID      int         `json:"table_id"`
	Priority     int         `json:"priority"`
	Match        inPortMatch `json:"match"`
	Instructions struct {
		Instruction []outputInstruction `json:"instruction"`
	} `json:"instructions"`
}

type defaultFlowConfigDoc struct {
	Flows []defaultFlowDoc `json:"flow-node-inventory:flow"`
}

func defaultFlowID(inPort int) string {
	return fmt.Sprintf("%s-%d", DefaultPathFlowName, inPort)
}

func flowConfigPath(switchID string, table int, id string) string {
	return fmt.Sprintf("/restconf/config/opendaylight-inventory:nodes/node/openflow:%s/table/%d/flow/%s", switchID, table, id)
}

func buildFlowDoc(inPort, outPort int) defaultFlowDoc {
	doc := defaultFlowDoc{
		ID:       defaultFlowID(inPort),
		FlowName: DefaultPathFlowName,
		TableID:  defaultPathTable,
		Priority: PriorityDefaultPath,
		Match:    inPortMatch{InPort: fmt.Sprintf("%d", inPort)},
	}
	action := outputAction{Order: 0}
	action.Output.OutputNodeConnector = fmt.Sprintf("%d", outPort)
	instr := outputInstruction{Order: 0}
	instr.ApplyActions.Action = []outputAction{action}
	doc.Instructions.Instruction = []outputInstruction{instr}
	return doc
}

// Install pushes every inport->outport entry for switchID from t as an
// individual OpenFlow rule, at the lowest priority in the shared table so
// reserved-bandwidth and special-path rules always win a tie.
func (ins *Installer) Install(ctx context.Context, switchID string, t *Table) error {
	match := t.PortMatchFor(switchID)
	for inPort, outPort := range match {
		doc := buildFlowDoc(inPort, outPort)
		body, err := marshalFlowConfig(doc)
		if err != nil {
			return fmt.Errorf("defaultpath: encoding flow for %s port %d: %w", switchID, inPort, err)
		}
		path := flowConfigPath(switchID, defaultPathTable, doc.ID)
		if err := ins.client.PutJSON(ctx, path, body); err != nil {
			return fmt.Errorf("defaultpath: installing default path on %s port %d: %w", switchID, inPort, err)
		}
	}
	return nil
}

// InstallAll installs every switch's default-path table in t, stopping at
// the first failure.
func (ins *Installer) InstallAll(ctx context.Context, t *Table) error {
	for _, switchID := range t.Switches() {
		if err := ins.Install(ctx, switchID, t); err != nil {
			return err
		}
	}
	return nil
}

// Teardown removes every default-path flow installed for switchID.
func (ins *Installer) Teardown(ctx context.Context, switchID string, t *Table) {
	match := t.PortMatchFor(switchID)
	for inPort := range match {
		path := flowConfigPath(switchID, defaultPathTable, defaultFlowID(inPort))
		ins.client.Delete(ctx, path)
	}
}

func marshalFlowConfig(doc defaultFlowDoc) ([]byte, error) {
	body, err := json.Marshal(defaultFlowConfigDoc{Flows: []defaultFlowDoc{doc}})
	if err != nil {
		return nil, err
	}
	return body, nil
}

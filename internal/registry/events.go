package registry

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// DefaultEventsABI describes the five events spec §6 enumerates:
// MemoryCreated, MemoryIndexUpdated(new_version), MemoryMetadataUpdated,
// AccessGranted, AccessRevoked.
const DefaultEventsABI = `[
	{"type":"event","name":"MemoryCreated","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"memory_id","type":"string"},
		{"name":"vector_id","type":"uint64"},
		{"name":"blob_id","type":"string"}
	]},
	{"type":"event","name":"MemoryIndexUpdated","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"new_version","type":"uint64"}
	]},
	{"type":"event","name":"MemoryMetadataUpdated","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"memory_id","type":"string"},
		{"name":"new_topic","type":"string"},
		{"name":"new_importance","type":"uint8"}
	]},
	{"type":"event","name":"AccessGranted","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"grant_id","type":"string"},
		{"name":"grantee","type":"string"},
		{"name":"scope","type":"string"}
	]},
	{"type":"event","name":"AccessRevoked","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"grant_id","type":"string"}
	]}
]`

// Event is a decoded on-chain event.
type Event struct {
	Name   string
	Fields map[string]interface{}
}

// rawLog is the minimal log shape a ChainReader.Submit response carries:
// one entry per emitted event, each already split into name + ABI-encoded
// data, since this engine does not itself run a chain indexer.
type rawLog struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// DecodeEvents unpacks raw into typed Events using the ABI parsed at
// construction, mirroring the teacher's habit of keeping a parsed abi.ABI
// on hand for exactly this purpose (core/common_structs.go).
func (c *Client) DecodeEvents(raw []byte) ([]Event, error) {
	var logs []rawLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, pdwerr.Wrap("registry.Client.DecodeEvents", pdwerr.Tampered, err)
	}

	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		ev, ok := c.eventsABI.Events[l.Name]
		if !ok {
			continue
		}
		// Data carries every input, indexed ones included, so decode them
		// all in declaration order.
		args := make(abi.Arguments, len(ev.Inputs))
		for i, in := range ev.Inputs {
			in.Indexed = false
			args[i] = in
		}
		values, err := args.Unpack(l.Data)
		if err != nil {
			return nil, pdwerr.Wrap("registry.Client.DecodeEvents", pdwerr.Tampered, err)
		}
		events = append(events, Event{Name: l.Name, Fields: fieldsFromOrdered(args, values)})
	}
	return events, nil
}

func fieldsFromOrdered(args abi.Arguments, values []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for i, arg := range args {
		if i < len(values) {
			out[arg.Name] = values[i]
		}
	}
	return out
}

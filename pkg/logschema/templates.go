// Package logschema derives the schema of a Delta log checkpoint for a
// specific table from the protocol's action templates.
// REF: https://github.com/delta-io/delta/blob/master/PROTOCOL.md#checkpoint-schema
package logschema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arkilian/deltaschema/pkg/types"
)

// Action record names, in envelope order.
const (
	ActionMetaData = "metaData"
	ActionProtocol = "protocol"
	ActionTxn      = "txn"
	ActionAdd      = "add"
	ActionRemove   = "remove"
)

//go:embed templates.json
var templateSource []byte

// Action is a named action record and its template fields.
type Action struct {
	Name   string        `json:"name"`
	Fields []types.Field `json:"fields"`
}

// Library is an immutable, ordered set of action templates. It is safe for
// concurrent use.
type Library struct {
	actions []Action
}

var (
	defaultOnce    sync.Once
	defaultLibrary *Library
	mapOnce        sync.Once
	mapLibrary     *Library
)

// DefaultLibrary returns the templates restricted to types every supported
// columnar downstream accepts: map-typed fields (metaData.configuration,
// metaData.format.options, add.partitionValues, remove.partitionValues) are
// left out.
func DefaultLibrary() *Library {
	defaultOnce.Do(func() {
		defaultLibrary = mustLoad(templateSource, false)
	})
	return defaultLibrary
}

// MapLibrary returns the full templates including map-typed fields.
func MapLibrary() *Library {
	mapOnce.Do(func() {
		mapLibrary = mustLoad(templateSource, true)
	})
	return mapLibrary
}

// LoadLibrary parses a JSON array of {"name", "fields"} action templates.
// When includeMaps is false every map-typed field is pruned, recursing into
// struct fields.
func LoadLibrary(data []byte, includeMaps bool) (*Library, error) {
	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("logschema: failed to parse templates: %w", err)
	}

	seen := make(map[string]bool, len(actions))
	for i := range actions {
		if actions[i].Name == "" {
			return nil, fmt.Errorf("logschema: template %d has no name", i)
		}
		if seen[actions[i].Name] {
			return nil, fmt.Errorf("logschema: duplicate template %q", actions[i].Name)
		}
		seen[actions[i].Name] = true

		if !includeMaps {
			actions[i].Fields = pruneMaps(actions[i].Fields)
		}
	}

	return &Library{actions: actions}, nil
}

func mustLoad(data []byte, includeMaps bool) *Library {
	lib, err := LoadLibrary(data, includeMaps)
	if err != nil {
		// the template source is embedded; failing here is a build defect
		panic(err)
	}
	return lib
}

// Names returns the action names in library order.
func (l *Library) Names() []string {
	names := make([]string, len(l.actions))
	for i, a := range l.actions {
		names[i] = a.Name
	}
	return names
}

// Fields returns a copy of the template fields of the named action.
func (l *Library) Fields(name string) ([]types.Field, bool) {
	for _, a := range l.actions {
		if a.Name == name {
			return cloneFields(a.Fields), true
		}
	}
	return nil, false
}

// Actions returns a copy of every action template in library order.
func (l *Library) Actions() []Action {
	out := make([]Action, len(l.actions))
	for i, a := range l.actions {
		out[i] = Action{Name: a.Name, Fields: cloneFields(a.Fields)}
	}
	return out
}

// Len returns the number of action templates.
func (l *Library) Len() int {
	return len(l.actions)
}

func pruneMaps(fields []types.Field) []types.Field {
	out := make([]types.Field, 0, len(fields))
	for _, f := range fields {
		switch t := f.Type.(type) {
		case types.StructType:
			f.Type = types.StructType{Fields: pruneMaps(t.Fields)}
		default:
			if types.ContainsMap(t) {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

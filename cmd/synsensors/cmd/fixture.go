package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	rootconfig "synsensors/config"
	"synsensors/core/values"
	"synsensors/host"
)

// sensorsDoc is the JSON shape of a compiled sensor-config file: a
// host-side stand-in for whatever real YAML loader a production embedder
// would run (spec §1 scope note — the core itself never parses files).
type sensorsDoc struct {
	Domains     []string        `json:"domains"`
	TruthStates []truthStateDoc `json:"truth_states"`
	Sensors     []sensorDoc     `json:"sensors"`
}

type truthStateDoc struct {
	TrueState  string `json:"true_state"`
	FalseState string `json:"false_state"`
}

type sensorDoc struct {
	UniqueID              string                 `json:"unique_id"`
	EntityID              string                 `json:"entity_id"`
	Enabled               *bool                  `json:"enabled"`
	Formula               string                 `json:"formula"`
	Attributes            map[string]string      `json:"attributes"`
	Variables             map[string]variableDoc `json:"variables"`
	AlternateStateHandler *handlerDoc            `json:"alternate_state_handler"`
}

type variableDoc struct {
	Number   *float64 `json:"number"`
	Text     *string  `json:"text"`
	EntityID *string  `json:"entity_id"`
}

type handlerDoc struct {
	None        *handlerValueDoc `json:"none"`
	Unknown     *handlerValueDoc `json:"unknown"`
	Unavailable *handlerValueDoc `json:"unavailable"`
	Fallback    *handlerValueDoc `json:"fallback"`
}

type handlerValueDoc struct {
	Number  *float64 `json:"number"`
	Text    *string  `json:"text"`
	Bool    *bool    `json:"bool"`
	Null    bool     `json:"null"`
	Formula string   `json:"formula"`
}

func loadSensorsDoc(path string) (*sensorsDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc sensorsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &doc, nil
}

func (d *sensorsDoc) toConfig() (*rootconfig.Config, error) {
	domains := make(map[string]struct{}, len(d.Domains))
	for _, name := range d.Domains {
		domains[name] = struct{}{}
	}

	truthStates := make([]rootconfig.TruthStatePair, len(d.TruthStates))
	for i, p := range d.TruthStates {
		truthStates[i] = rootconfig.TruthStatePair{TrueState: p.TrueState, FalseState: p.FalseState}
	}

	sensors := make([]*rootconfig.SensorConfig, len(d.Sensors))
	for i, s := range d.Sensors {
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		if s.UniqueID == "" {
			return nil, fmt.Errorf("sensors[%d]: unique_id is required", i)
		}

		variables, err := convertVariables(s.Variables)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", s.UniqueID, err)
		}

		formulas := []*rootconfig.FormulaConfig{{
			ID:                    s.UniqueID,
			Formula:               s.Formula,
			Variables:             variables,
			AlternateStateHandler: convertHandler(s.AlternateStateHandler),
		}}
		for name, formula := range s.Attributes {
			formulas = append(formulas, &rootconfig.FormulaConfig{
				ID:      s.UniqueID + "_" + name,
				Formula: formula,
			})
		}

		sensors[i] = &rootconfig.SensorConfig{
			UniqueID: s.UniqueID,
			EntityID: s.EntityID,
			Enabled:  enabled,
			Formulas: formulas,
		}
	}

	return &rootconfig.Config{
		Sensors: sensors,
		Global: rootconfig.GlobalSettings{
			Domains:     domains,
			TruthStates: truthStates,
		},
	}, nil
}

func convertVariables(docs map[string]variableDoc) (map[string]rootconfig.VariableValue, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make(map[string]rootconfig.VariableValue, len(docs))
	for name, v := range docs {
		switch {
		case v.Number != nil:
			out[name] = rootconfig.VariableValue{Kind: rootconfig.VarNumber, Number: *v.Number}
		case v.EntityID != nil:
			out[name] = rootconfig.VariableValue{Kind: rootconfig.VarEntityID, EntityID: *v.EntityID}
		case v.Text != nil:
			out[name] = rootconfig.VariableValue{Kind: rootconfig.VarString, Text: *v.Text}
		default:
			return nil, fmt.Errorf("variable %q: exactly one of number/text/entity_id must be set", name)
		}
	}
	return out, nil
}

func convertHandler(d *handlerDoc) *rootconfig.AlternateStateHandler {
	if d == nil {
		return nil
	}
	return &rootconfig.AlternateStateHandler{
		None:        convertHandlerValue(d.None),
		Unknown:     convertHandlerValue(d.Unknown),
		Unavailable: convertHandlerValue(d.Unavailable),
		Fallback:    convertHandlerValue(d.Fallback),
	}
}

func convertHandlerValue(d *handlerValueDoc) *rootconfig.HandlerValue {
	if d == nil {
		return nil
	}
	switch {
	case d.Formula != "":
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerFormula, Formula: d.Formula}
	case d.Number != nil:
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerLiteralNumber, Number: *d.Number}
	case d.Bool != nil:
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerLiteralBool, Bool: *d.Bool}
	case d.Null:
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerLiteralNull}
	case d.Text != nil:
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerLiteralString, Text: *d.Text}
	default:
		return &rootconfig.HandlerValue{Kind: rootconfig.HandlerLiteralNull}
	}
}

// fixtureDoc is the JSON shape of the host-side data a demo run seeds the
// engine's collaborators with: which entities are "backing" (owned by the
// data provider) versus ordinary host state, plus their current values.
type fixtureDoc struct {
	BackingEntities []string                   `json:"backing_entities"`
	SensorBacking   map[string]string          `json:"sensor_backing"`
	Data            map[string]json.RawMessage `json:"data"`
	HostState       map[string]json.RawMessage `json:"host_state"`
}

func loadFixtureDoc(path string) (*fixtureDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fixtureDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &doc, nil
}

// fixture wraps the decoded JSON values as engine host collaborators.
type fixture struct {
	data      map[string]values.Value
	hostState map[string]values.Value
}

func (d *fixtureDoc) build() (*fixture, error) {
	data, err := decodeValueMap(d.Data)
	if err != nil {
		return nil, fmt.Errorf("fixture data: %w", err)
	}
	hostState, err := decodeValueMap(d.HostState)
	if err != nil {
		return nil, fmt.Errorf("fixture host_state: %w", err)
	}
	return &fixture{data: data, hostState: hostState}, nil
}

func decodeValueMap(raw map[string]json.RawMessage) (map[string]values.Value, error) {
	out := make(map[string]values.Value, len(raw))
	for entityID, msg := range raw {
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, fmt.Errorf("%s: %w", entityID, err)
		}
		out[entityID] = toValue(v)
	}
	return out, nil
}

func toValue(v any) values.Value {
	switch t := v.(type) {
	case nil:
		return values.Null()
	case bool:
		return values.Bool(t)
	case float64:
		return values.Number(t)
	case string:
		return values.String(t)
	default:
		return values.Null()
	}
}

func (f *fixture) dataProvider() host.DataProvider {
	return host.DataProviderFunc(func(entityID string) (host.DataProviderResult, error) {
		v, ok := f.data[entityID]
		if !ok {
			return host.DataProviderResult{Exists: false}, nil
		}
		return host.DataProviderResult{Exists: true, Value: v}, nil
	})
}

func (f *fixture) hostStateProvider() host.HostStateProvider {
	return host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		v, ok := f.hostState[entityID]
		if !ok {
			return host.HostStateResult{Present: false}
		}
		return host.HostStateResult{Present: true, State: v}
	})
}

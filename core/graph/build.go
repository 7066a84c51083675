package graph

import (
	"strings"

	rootconfig "synsensors/config"
	"synsensors/core/classify"
	"synsensors/core/deps"
)

// Build constructs a sealed Graph from a compiled Config: one node per
// formula (main + each attribute, per sensor), with edges for every
// cross-sensor dependency and every attribute-to-attribute reference
// extracted by core/deps. Entity, collection, and variable dependencies
// are resolved by C5 at evaluation time and never become graph edges —
// the graph only orders the formulas the scheduler walks (spec §4.4).
func Build(cfg *rootconfig.Config) (*Graph, error) {
	g := NewGraph()

	mainNodeOf := make(map[string]NodeID)            // sensor unique_id -> its main formula's node id
	attrNodeOf := make(map[string]map[string]NodeID) // sensor unique_id -> attribute name -> node id

	sensorIDs := make(map[string]struct{}, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		sensorIDs[s.UniqueID] = struct{}{}
	}

	for _, s := range cfg.Sensors {
		main := s.MainFormula()
		if main == nil {
			continue
		}
		mainID := NodeID(main.ID)
		g.AddNode(mainID, NodeMain, s.UniqueID, 0)
		mainNodeOf[s.UniqueID] = mainID

		attrNodeOf[s.UniqueID] = make(map[string]NodeID)
		for i, f := range s.AttributeFormulas() {
			id := NodeID(f.ID)
			g.AddNode(id, NodeAttribute, s.UniqueID, i+1)
			attrNodeOf[s.UniqueID][attributeName(s.UniqueID, f.ID)] = id
		}
	}

	for _, s := range cfg.Sensors {
		domains := cfg.Global.Domains
		variables := variableScope(s.MainFormula())
		scope := classify.Scope{Domains: domains, Variables: variables, SensorIDs: sensorIDs}

		formulas := append([]*rootconfig.FormulaConfig{}, s.Formulas...)
		for _, f := range formulas {
			nodeID := NodeID(f.ID)
			fscope := scope
			fscope.Variables = variableScope(f)
			if !f.IsMain(s.UniqueID) {
				fscope.SelfSensorID = s.UniqueID
			}

			extracted, err := deps.Extract(f.Formula, deps.Registry{Scope: fscope, Variables: toVariableMap(f)})
			if err != nil {
				return nil, err
			}

			for _, d := range extracted {
				switch d.Kind {
				case deps.KindCrossSensor:
					if target, ok := mainNodeOf[d.Identifier]; ok {
						if err := g.AddEdge(nodeID, target); err != nil {
							return nil, err
						}
					}
				case deps.KindAttribute:
					// d.Identifier is "var.chain...": the referenced
					// attribute's bare name is its first segment.
					attrName := firstSegment(d.Identifier)
					if target, ok := attrNodeOf[s.UniqueID][attrName]; ok && target != nodeID {
						if err := g.AddEdge(nodeID, target); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}

	g.Seal()
	return g, nil
}

func attributeName(sensorUniqueID, formulaID string) string {
	prefix := sensorUniqueID + "_"
	if strings.HasPrefix(formulaID, prefix) {
		return strings.TrimPrefix(formulaID, prefix)
	}
	return formulaID
}

func firstSegment(dotted string) string {
	if idx := strings.Index(dotted, "."); idx >= 0 {
		return dotted[:idx]
	}
	return dotted
}

func variableScope(f *rootconfig.FormulaConfig) map[string]struct{} {
	out := make(map[string]struct{})
	if f == nil {
		return out
	}
	for name := range f.Variables {
		out[name] = struct{}{}
	}
	return out
}

func toVariableMap(f *rootconfig.FormulaConfig) map[string]rootconfig.VariableValue {
	if f == nil {
		return nil
	}
	return f.Variables
}

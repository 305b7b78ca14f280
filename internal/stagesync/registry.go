package stagesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StateTypeRegistry is the closed catalogue of document kinds. It is the
// only place that knows the per-kind payload shapes; the store and the
// HTTP layer stay kind-agnostic. Adding a kind is one more entry in
// stateTypeDefinitions.
type StateTypeRegistry struct {
	types map[Kind]stateType
}

type stateType struct {
	schema       *jsonschema.Schema
	emptyDefault json.RawMessage
}

type stateTypeDefinition struct {
	kind         Kind
	schema       string
	emptyDefault string
}

var stateTypeDefinitions = []stateTypeDefinition{
	{
		kind: KindMemo,
		schema: `{
			"type": "object",
			"required": ["sections", "reviewChecklist", "attachments", "commentThreads"],
			"additionalProperties": false,
			"properties": {
				"sections": {"type": "object", "additionalProperties": {"type": "string"}},
				"reviewChecklist": {"type": "object", "additionalProperties": {"type": "boolean"}},
				"attachments": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"required": ["include"],
						"additionalProperties": false,
						"properties": {
							"include": {"type": "boolean"},
							"caption": {"type": "string"}
						}
					}
				},
				"commentThreads": {
					"type": "object",
					"additionalProperties": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "author", "message", "status", "createdAt"],
							"additionalProperties": false,
							"properties": {
								"id": {"type": "string"},
								"author": {"type": "string"},
								"message": {"type": "string"},
								"status": {"enum": ["open", "resolved"]},
								"createdAt": {"type": "string"}
							}
						}
					}
				}
			}
		}`,
		emptyDefault: `{"sections":{},"reviewChecklist":{},"attachments":{},"commentThreads":{}}`,
	},
	{
		kind: KindValuation,
		schema: `{
			"type": "object",
			"required": ["selectedScenario", "assumptionOverrides"],
			"additionalProperties": false,
			"properties": {
				"selectedScenario": {"enum": ["bear", "base", "bull"]},
				"assumptionOverrides": {"type": "object", "additionalProperties": {"type": "number"}}
			}
		}`,
		emptyDefault: `{"selectedScenario":"base","assumptionOverrides":{}}`,
	},
	{
		kind: KindMonitoring,
		schema: `{
			"type": "object",
			"required": ["acknowledgedAlerts", "deltaOverrides"],
			"additionalProperties": false,
			"properties": {
				"acknowledgedAlerts": {"type": "object", "additionalProperties": {"type": "boolean"}},
				"deltaOverrides": {"type": "object", "additionalProperties": {"type": "string"}}
			}
		}`,
		emptyDefault: `{"acknowledgedAlerts":{},"deltaOverrides":{}}`,
	},
	{
		kind: KindNormalization,
		schema: `{
			"type": "object",
			"required": ["reconciledSources", "appliedAdjustments"],
			"additionalProperties": false,
			"properties": {
				"reconciledSources": {"type": "object", "additionalProperties": {"type": "boolean"}},
				"appliedAdjustments": {"type": "object", "additionalProperties": {"type": "boolean"}}
			}
		}`,
		emptyDefault: `{"reconciledSources":{},"appliedAdjustments":{}}`,
	},
	{
		kind: KindScenarioLab,
		schema: `{
			"type": "object",
			"required": ["driverValues", "iterations"],
			"additionalProperties": false,
			"properties": {
				"driverValues": {"type": "object", "additionalProperties": {"type": "number"}},
				"iterations": {"type": "integer", "minimum": 0}
			}
		}`,
		emptyDefault: `{"driverValues":{},"iterations":1000}`,
	},
	{
		kind: KindExecutionPlanner,
		schema: `{
			"type": "object",
			"required": ["rows", "portfolioNotional", "maxPart", "algo", "limitBps", "tif", "daysHorizon"],
			"additionalProperties": false,
			"properties": {
				"rows": {"type": "array", "items": {"type": "object"}},
				"portfolioNotional": {"type": "number"},
				"maxPart": {"type": "number"},
				"algo": {"type": "string"},
				"limitBps": {"type": "number"},
				"tif": {"type": "string"},
				"daysHorizon": {"type": "integer", "minimum": 0}
			}
		}`,
		emptyDefault: `{"rows":[],"portfolioNotional":0,"maxPart":0.1,"algo":"vwap","limitBps":0,"tif":"day","daysHorizon":1}`,
	},
	{
		kind: KindRedTeam,
		schema: `{
			"type": "object",
			"required": ["artifact", "scope", "activePlaybooks", "critiques", "scanQuery", "scanHits", "vulnerabilityChecklist"],
			"additionalProperties": false,
			"properties": {
				"artifact": {"type": "string"},
				"scope": {"type": "array", "items": {"type": "string"}},
				"activePlaybooks": {"type": "array", "items": {"type": "string"}},
				"critiques": {"type": "array"},
				"scanQuery": {"type": "string"},
				"scanHits": {"type": "array"},
				"vulnerabilityChecklist": {"type": "array"}
			}
		}`,
		emptyDefault: `{"artifact":"","scope":[],"activePlaybooks":[],"critiques":[],"scanQuery":"","scanHits":[],"vulnerabilityChecklist":[]}`,
	},
}

// NewStateTypeRegistry compiles every registered schema. The definitions
// are package constants, so a compile failure is a programmer error and
// panics at construction rather than surfacing per-request.
func NewStateTypeRegistry() *StateTypeRegistry {
	registry := &StateTypeRegistry{types: make(map[Kind]stateType, len(stateTypeDefinitions))}
	for _, def := range stateTypeDefinitions {
		compiler := jsonschema.NewCompiler()
		resource := string(def.kind) + ".json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(def.schema))
		if err != nil {
			panic(fmt.Sprintf("stagesync: schema for %s is not valid json: %v", def.kind, err))
		}
		if err := compiler.AddResource(resource, doc); err != nil {
			panic(fmt.Sprintf("stagesync: add schema resource for %s: %v", def.kind, err))
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			panic(fmt.Sprintf("stagesync: compile schema for %s: %v", def.kind, err))
		}
		if !json.Valid([]byte(def.emptyDefault)) {
			panic(fmt.Sprintf("stagesync: empty default for %s is not valid json", def.kind))
		}
		registry.types[def.kind] = stateType{
			schema:       schema,
			emptyDefault: json.RawMessage(def.emptyDefault),
		}
	}
	return registry
}

func (r *StateTypeRegistry) Known(kind Kind) bool {
	_, ok := r.types[kind]
	return ok
}

// Validate checks payload against the registered shape for kind. It never
// touches storage; callers run it before any store access.
func (r *StateTypeRegistry) Validate(kind Kind, payload json.RawMessage) error {
	st, ok := r.types[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: payload is not valid json", ErrValidation)
	}
	if err := st.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// EmptyDefault returns a copy of the kind's empty document.
func (r *StateTypeRegistry) EmptyDefault(kind Kind) (json.RawMessage, bool) {
	st, ok := r.types[kind]
	if !ok {
		return nil, false
	}
	return cloneRawMessage(st.emptyDefault), true
}

// Kinds lists the registered kinds in stable order.
func (r *StateTypeRegistry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.types))
	for kind := range r.types {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

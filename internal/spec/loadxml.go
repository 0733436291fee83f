package spec

import (
	"encoding/xml"
	"fmt"
)

// The XML-tagged types below mirror the wire shape of a YAWL specification
// document (spec.md §6's "body is a YAWL XML specification"), the way the
// teacher's WorkflowSchema/WorkflowNode/WorkflowEdge mirror its JSON wire
// schema (cmd/workflow-runner/compiler/ir.go) before being compiled into
// the in-memory IR. LoadXML plays the same two-step role
// CompileWorkflowSchema does there: unmarshal the wire document into
// plain structs, then walk it once to build the engine's own model types.
//
// Every processControlElement — condition or task alike — carries its own
// flowsInto list in the wire format; buildNet walks conditions and tasks
// uniformly so a condition feeding directly into a task (no intervening
// task) still produces a Flow.

type xmlSpecification struct {
	XMLName    xml.Name `xml:"specificationSet"`
	URI        string   `xml:"uri,attr"`
	Identifier string   `xml:"specification>metaData>identifier"`
	Version    string   `xml:"specification>metaData>version"`
	RootNetID  string   `xml:"specification>rootNet"`
	Nets       []xmlNet `xml:"specification>decomposition"`
}

type xmlNet struct {
	ID         string         `xml:"id,attr"`
	Kind       string         `xml:"type,attr"` // xsi:type: "NetFactsType" (a net) or "WebServiceGatewayFactsType" (atomic)
	Conditions []xmlCondition `xml:"processControlElements>condition"`
	InputCond  *xmlCondition  `xml:"processControlElements>inputCondition"`
	OutputCond *xmlCondition  `xml:"processControlElements>outputCondition"`
	Tasks      []xmlTask      `xml:"processControlElements>task"`

	Skippable  bool   `xml:"skippable,attr"`
	SLA        string `xml:"sla,attr"`
	RetryLimit int    `xml:"retryLimit,attr"`
	HandlerURL string `xml:"handlerUrl,attr"`
}

type xmlNamedRef struct {
	ID string `xml:"id,attr"`
}

type xmlCondition struct {
	ID        string    `xml:"id,attr"`
	FlowsInto []xmlFlow `xml:"flowsInto"`
}

type xmlTask struct {
	ID             string        `xml:"id,attr"`
	Join           string        `xml:"join>code"`
	Split          string        `xml:"split>code"`
	Decomposes     string        `xml:"decomposesTo,attr"`
	FlowsInto      []xmlFlow     `xml:"flowsInto"`
	RemovesTokens  []xmlNamedRef `xml:"removesTokensFrom"`
	MI             *xmlMIBlock   `xml:"multiInstance"`
	InputBindings  []xmlBinding  `xml:"startingMappings>mapping"`
	OutputBindings []xmlBinding  `xml:"completedMappings>mapping"`
}

type xmlFlow struct {
	NextElementRef xmlNamedRef `xml:"nextElementRef"`
	Predicate  string `xml:"predicate"`
	Order      int    `xml:"evalOrdering,attr"`
}

type xmlMIBlock struct {
	MinInstances int    `xml:"minInstances"`
	MaxInstances int    `xml:"maxInstances"`
	Threshold    int    `xml:"threshold"`
	CreationMode string `xml:"creationMode"`
	CreationExpr string `xml:"creationModeExpr"`
}

type xmlBinding struct {
	Name  string `xml:"mapsTo,attr"`
	Query string `xml:",chardata"`
}

// LoadXML parses a YAWL specification document into the in-memory model
// and runs Validate over it, mirroring the teacher's compile-then-validate
// pipeline (CompileWorkflowSchema followed by a structural pass). The
// caller (internal/api's Interface A handler) is responsible for rejecting
// a load on any fatal diagnostic, per spec.md §6's "returns... a
// structured validation-failure list".
func LoadXML(doc []byte) (*Specification, []Diagnostic, error) {
	var raw xmlSpecification
	if err := xml.Unmarshal(doc, &raw); err != nil {
		return nil, nil, fmt.Errorf("spec: malformed XML: %w", err)
	}
	if raw.Identifier == "" {
		return nil, nil, fmt.Errorf("spec: missing specification identifier")
	}
	if raw.RootNetID == "" {
		for _, xn := range raw.Nets {
			if xn.Kind != "WebServiceGatewayFactsType" {
				raw.RootNetID = xn.ID
				break
			}
		}
	}

	s := &Specification{
		ID: SpecID{
			Identifier: raw.Identifier,
			Version:    raw.Version,
			URI:        raw.URI,
		},
		RootNet:        raw.RootNetID,
		Nets:           map[string]*Net{},
		Decompositions: map[string]*Decomposition{},
	}

	for i := range raw.Nets {
		xn := &raw.Nets[i]
		if xn.Kind == "WebServiceGatewayFactsType" {
			s.Decompositions[xn.ID] = &Decomposition{
				ID:         xn.ID,
				Kind:       DecompositionAtomic,
				Skippable:  xn.Skippable,
				SLA:        xn.SLA,
				RetryLimit: xn.RetryLimit,
				HandlerURL: xn.HandlerURL,
			}
			continue
		}
		s.Nets[xn.ID] = buildNet(xn)
		s.Decompositions[xn.ID] = &Decomposition{
			ID:       xn.ID,
			Kind:     DecompositionSubNet,
			SubNetID: xn.ID,
		}
	}

	// A task may reference a decomposition id the document never declared
	// as its own top-level <decomposition> (a malformed or partial spec);
	// register a bare atomic stand-in so Validate reports the real problem
	// (an unreachable/undefined binding) instead of a nil-pointer lookup.
	for _, xn := range raw.Nets {
		for _, xt := range xn.Tasks {
			if xt.Decomposes == "" {
				continue
			}
			if _, ok := s.Decompositions[xt.Decomposes]; !ok {
				s.Decompositions[xt.Decomposes] = &Decomposition{ID: xt.Decomposes, Kind: DecompositionAtomic}
			}
		}
	}

	for _, net := range s.Nets {
		net.BuildIndex()
	}

	return s, Validate(s), nil
}

func buildNet(xn *xmlNet) *Net {
	net := &Net{
		ID:         xn.ID,
		Conditions: map[string]*Condition{},
		Tasks:      map[string]*Task{},
	}

	addCondition := func(c *xmlCondition, kind ConditionKind) {
		net.Conditions[c.ID] = &Condition{ID: c.ID, Kind: kind}
		appendFlows(net, c.ID, c.FlowsInto)
	}
	if xn.InputCond != nil {
		addCondition(xn.InputCond, ConditionInput)
	}
	if xn.OutputCond != nil {
		addCondition(xn.OutputCond, ConditionOutput)
	}
	for i := range xn.Conditions {
		addCondition(&xn.Conditions[i], ConditionIntermediate)
	}

	for _, xt := range xn.Tasks {
		t := &Task{
			ID:              xt.ID,
			JoinType:        parseJoin(xt.Join),
			SplitType:       parseSplit(xt.Split),
			DecompositionID: xt.Decomposes,
			InputBindings:   convertBindings(xt.InputBindings),
			OutputBindings:  convertBindings(xt.OutputBindings),
		}
		for _, r := range xt.RemovesTokens {
			t.RemoveSet = append(t.RemoveSet, r.ID)
		}
		if xt.MI != nil && (xt.MI.MaxInstances > 0 || xt.MI.MinInstances > 0) {
			t.MI = &MIBounds{
				Min:          xt.MI.MinInstances,
				Max:          xt.MI.MaxInstances,
				Threshold:    xt.MI.Threshold,
				CreationMode: parseCreationMode(xt.MI.CreationMode),
				CreationExpr: xt.MI.CreationExpr,
			}
		}
		net.Tasks[xt.ID] = t
		appendFlows(net, xt.ID, xt.FlowsInto)
	}

	return net
}

func appendFlows(net *Net, sourceID string, flows []xmlFlow) {
	for i, fl := range flows {
		order := fl.Order
		if order == 0 {
			order = i
		}
		net.Flows = append(net.Flows, &Flow{
			Source:    sourceID,
			Target:    fl.NextElementRef.ID,
			Predicate: fl.Predicate,
			Order:     order,
		})
	}
}

func convertBindings(xs []xmlBinding) []DataBinding {
	out := make([]DataBinding, 0, len(xs))
	for _, b := range xs {
		out = append(out, DataBinding{Name: b.Name, Query: b.Query})
	}
	return out
}

func parseJoin(code string) JoinType {
	switch code {
	case "xor":
		return JoinXOR
	case "or":
		return JoinOR
	default:
		return JoinAND
	}
}

func parseSplit(code string) SplitType {
	switch code {
	case "xor":
		return SplitXOR
	case "or":
		return SplitOR
	default:
		return SplitAND
	}
}

func parseCreationMode(s string) CreationMode {
	if s == "dynamic" {
		return CreationDynamic
	}
	return CreationStatic
}

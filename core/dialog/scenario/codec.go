package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Branch is one `{if, then}` guard of a conditional next step.
type Branch struct {
	If   string `json:"if"`
	Then string `json:"then"`

	cond Condition
	err  error
}

// Condition returns the parsed guard.
func (b *Branch) Condition() Condition { return b.cond }

// NextStep is either a literal step id or a conditional with ordered branches.
// A JSON null decodes to a nil *NextStep on the owning Step.
type NextStep struct {
	Step        string
	Conditional bool
	Branches    []Branch
	Else        string
}

// Literal builds a plain next-step reference.
func Literal(id string) *NextStep { return &NextStep{Step: id} }

const nextStepConditional = "conditional"

type conditionalJSON struct {
	Type       string   `json:"type"`
	Conditions []Branch `json:"conditions"`
	Else       *string  `json:"else,omitempty"`
}

// UnmarshalJSON accepts a string or a `{"type":"conditional"}` object.
func (n *NextStep) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("scenario: empty next_step")
	}
	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*n = NextStep{Step: id}
		return nil
	case '{':
		var obj conditionalJSON
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Type != nextStepConditional {
			return fmt.Errorf("scenario: unsupported next_step type %q", obj.Type)
		}
		*n = NextStep{Conditional: true, Branches: obj.Conditions}
		if obj.Else != nil {
			n.Else = *obj.Else
		}
		return nil
	default:
		return fmt.Errorf("scenario: next_step must be a string, null or object, got %s", string(data))
	}
}

// MarshalJSON writes the same shape that was read.
func (n NextStep) MarshalJSON() ([]byte, error) {
	if !n.Conditional {
		return json.Marshal(n.Step)
	}
	obj := conditionalJSON{Type: nextStepConditional, Conditions: n.Branches}
	if obj.Conditions == nil {
		obj.Conditions = []Branch{}
	}
	if n.Else != "" {
		e := n.Else
		obj.Else = &e
	}
	return json.Marshal(obj)
}

// Parse decodes a scenario document and prepares it for evaluation.
// Graph problems such as dangling step references do not fail parsing;
// they are reported by Validate and surface at runtime as ErrStepNotFound.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario: no steps defined")
	}
	sc.compile()
	return &sc, nil
}

// Marshal encodes the scenario back to JSON.
func Marshal(sc *Scenario) ([]byte, error) {
	return json.MarshalIndent(sc, "", "  ")
}

func (s *Scenario) compile() {
	for id, step := range s.Steps {
		if step == nil {
			continue
		}
		step.ID = id
		if step.NextStep != nil {
			for i := range step.NextStep.Branches {
				b := &step.NextStep.Branches[i]
				b.cond, b.err = ParseCondition(b.If)
			}
		}
		for i := range step.Conditions {
			c := &step.Conditions[i]
			c.cond, c.err = ParseCondition(c.If)
		}
		if step.ExpectedInput != nil && step.ExpectedInput.Validation != nil {
			v := step.ExpectedInput.Validation
			if v.Pattern != "" {
				v.pattern, _ = regexp.Compile(v.Pattern)
			}
		}
	}
}

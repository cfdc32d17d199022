// Package processor evaluates scenario steps against collected data.
// Everything here is a pure function of its inputs and performs no I/O.
package processor

import (
	"regexp"
	"strings"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

// Result is the evaluated form of one step.
type Result struct {
	StepID        string
	Step          *scenario.Step
	Message       scenario.Message
	Buttons       []scenario.Button
	ExpectedInput *scenario.ExpectedInput
	// NextStepID is the resolved successor, empty when the flow ends here.
	NextStepID string
	// Updates holds variables produced by the step's actions.
	Updates map[string]any
}

// HasMessage reports whether the step produced anything to send.
func (r Result) HasMessage() bool {
	return !r.Message.IsEmpty()
}

// AutoNext reports whether the step advances on its own after its delay.
func (r Result) AutoNext() bool {
	return r.Step != nil && r.Step.AutoNext && r.NextStepID != ""
}

// ProcessStep renders the step identified by stepID. Unknown ids return an
// error wrapping scenario.ErrStepNotFound and a zero Result.
func ProcessStep(sc *scenario.Scenario, stepID string, data map[string]any) (Result, error) {
	step, err := sc.Step(stepID)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		StepID:        stepID,
		Step:          step,
		ExpectedInput: step.ExpectedInput,
	}

	vars := data
	if len(step.Actions) > 0 {
		res.Updates = applyActions(sc, step.Actions, data)
		vars = merge(data, res.Updates)
	}

	switch step.Kind() {
	case scenario.StepConditionalMessage:
		if variant := selectVariant(step, vars); variant != nil {
			res.Message = renderMessage(sc, variant.Message, vars)
			buttons := variant.Buttons
			if len(buttons) == 0 {
				buttons = step.Buttons
			}
			res.Buttons = renderButtons(sc, buttons, vars)
		}
	default:
		res.Message = renderMessage(sc, step.Message, vars)
		res.Buttons = renderButtons(sc, step.Buttons, vars)
	}

	res.NextStepID = ResolveNextStep(step, vars)
	return res, nil
}

func selectVariant(step *scenario.Step, data map[string]any) *scenario.ConditionalMessage {
	for i := range step.Conditions {
		c := &step.Conditions[i]
		if c.Condition().Eval(data) {
			return c
		}
	}
	return nil
}

// ResolveNextStep returns the successor of step: the literal id, the first
// branch whose guard holds, the else target, or "" when none applies.
func ResolveNextStep(step *scenario.Step, data map[string]any) string {
	if step == nil || step.NextStep == nil {
		return ""
	}
	n := step.NextStep
	if !n.Conditional {
		return n.Step
	}
	for i := range n.Branches {
		b := &n.Branches[i]
		if b.Condition().Eval(data) {
			return b.Then
		}
	}
	return n.Else
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// RenderText substitutes {{var}} placeholders. Values found in the
// scenario's variables_mapping are replaced by their label; placeholders
// for absent variables stay verbatim.
func RenderText(sc *scenario.Scenario, text string, data map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := data[name]
		if !ok || v == nil {
			return match
		}
		raw := scenario.Stringify(v)
		if sc != nil {
			if labels, ok := sc.VariablesMapping[name]; ok {
				if label, ok := labels[raw]; ok {
					return label
				}
			}
		}
		return raw
	})
}

func renderMessage(sc *scenario.Scenario, m scenario.Message, data map[string]any) scenario.Message {
	out := m.Clone()
	out.Text = RenderText(sc, out.Text, data)
	for i := range out.Media {
		out.Media[i].Description = RenderText(sc, out.Media[i].Description, data)
	}
	return out
}

func renderButtons(sc *scenario.Scenario, buttons []scenario.Button, data map[string]any) []scenario.Button {
	if len(buttons) == 0 {
		return nil
	}
	out := make([]scenario.Button, len(buttons))
	for i, b := range buttons {
		out[i] = scenario.Button{Text: RenderText(sc, b.Text, data), Value: b.Value}
	}
	return out
}

func applyActions(sc *scenario.Scenario, actions []scenario.Action, data map[string]any) map[string]any {
	updates := make(map[string]any)
	for _, a := range actions {
		if a.Type != scenario.ActionSetVariable {
			continue
		}
		for k, v := range a.Params {
			if s, ok := v.(string); ok {
				updates[k] = RenderText(sc, s, merge(data, updates))
				continue
			}
			updates[k] = v
		}
	}
	return updates
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// VariableName is the collected_data key an answer to step is stored under.
func VariableName(step *scenario.Step) string {
	if step == nil {
		return ""
	}
	if step.ExpectedInput != nil && step.ExpectedInput.Variable != "" {
		return step.ExpectedInput.Variable
	}
	return step.ID
}

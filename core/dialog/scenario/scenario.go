// Package scenario holds the declarative step graph that drives a dialog.
//
// A Scenario is loaded once from JSON and treated as immutable afterwards.
// Conditions found in the document are parsed at load time into a small AST
// so evaluation never re-parses expression strings.
package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrStepNotFound reports a lookup of a step id the scenario does not define.
var ErrStepNotFound = errors.New("scenario: step not found")

// StepType enumerates the kinds of steps a scenario may contain.
type StepType string

const (
	StepMessage            StepType = "message"
	StepConditionalMessage StepType = "conditional_message"
	StepAction             StepType = "action"
)

// InputType enumerates the input kinds a step may expect.
type InputType string

const (
	InputText   InputType = "text"
	InputNumber InputType = "number"
	InputDate   InputType = "date"
	InputButton InputType = "button"
	InputMedia  InputType = "media"
	InputAny    InputType = "any"
)

// MediaItem references a platform file attached to a message.
type MediaItem struct {
	Type        string `json:"type"`
	FileID      string `json:"file_id"`
	Description string `json:"description,omitempty"`
}

// Message is the outbound composition unit: text plus ordered media.
type Message struct {
	Text  string      `json:"text"`
	Media []MediaItem `json:"media,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := Message{Text: m.Text}
	if len(m.Media) > 0 {
		out.Media = append([]MediaItem(nil), m.Media...)
	}
	return out
}

// IsEmpty reports whether the message has neither text nor media.
func (m Message) IsEmpty() bool {
	return m.Text == "" && len(m.Media) == 0
}

// Button is an inline option. Value is what gets matched and stored; Text is display only.
type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Validation carries type-specific input rules.
type Validation struct {
	MinLength     *int     `json:"min_length,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`

	pattern *regexp.Regexp
}

// Regexp returns the compiled pattern, or nil when absent or invalid.
func (v *Validation) Regexp() *regexp.Regexp {
	if v == nil {
		return nil
	}
	return v.pattern
}

// ExpectedInput describes what a step waits for from the user.
type ExpectedInput struct {
	Type         InputType   `json:"type"`
	Variable     string      `json:"variable,omitempty"`
	Validation   *Validation `json:"validation,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// ConditionalMessage is one guarded variant of a conditional_message step.
type ConditionalMessage struct {
	If      string   `json:"if"`
	Message Message  `json:"message"`
	Buttons []Button `json:"buttons,omitempty"`

	cond Condition
	err  error
}

// Condition returns the parsed guard.
func (c *ConditionalMessage) Condition() Condition { return c.cond }

// Action is a side effect performed when an action step is entered.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionSetVariable stores rendered params into collected data.
const ActionSetVariable = "set_variable"

// Step is one node of the scenario graph.
type Step struct {
	ID string `json:"-"`

	Type          StepType             `json:"type"`
	Message       Message              `json:"message"`
	Buttons       []Button             `json:"buttons,omitempty"`
	ExpectedInput *ExpectedInput       `json:"expected_input,omitempty"`
	NextStep      *NextStep            `json:"next_step"`
	AutoNext      bool                 `json:"auto_next,omitempty"`
	AutoNextDelay float64              `json:"auto_next_delay,omitempty"`
	Conditions    []ConditionalMessage `json:"conditions,omitempty"`
	Actions       []Action             `json:"actions,omitempty"`
}

// Delay converts AutoNextDelay seconds into a duration.
func (s *Step) Delay() time.Duration {
	if s == nil || s.AutoNextDelay <= 0 {
		return 0
	}
	return time.Duration(s.AutoNextDelay * float64(time.Second))
}

// Kind returns the step type, defaulting to message.
func (s *Step) Kind() StepType {
	if s.Type == "" {
		return StepMessage
	}
	return s.Type
}

// Scenario is the immutable dialog definition.
type Scenario struct {
	Version          string                       `json:"version,omitempty"`
	Name             string                       `json:"name,omitempty"`
	StartStep        string                       `json:"start_step"`
	Steps            map[string]*Step             `json:"steps"`
	VariablesMapping map[string]map[string]string `json:"variables_mapping,omitempty"`
}

// Step looks up a step by id.
func (s *Scenario) Step(id string) (*Step, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %q (no scenario)", ErrStepNotFound, id)
	}
	step, ok := s.Steps[id]
	if !ok || step == nil {
		return nil, fmt.Errorf("%w: %q", ErrStepNotFound, id)
	}
	return step, nil
}

// Start returns the start step.
func (s *Scenario) Start() (*Step, error) {
	return s.Step(s.StartStep)
}

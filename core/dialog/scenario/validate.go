package scenario

import (
	"fmt"
	"regexp"
	"sort"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a scenario graph.
type Issue struct {
	Severity Severity
	StepID   string
	Message  string
}

func (i Issue) String() string {
	if i.StepID == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: step %q: %s", i.Severity, i.StepID, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate inspects the graph without mutating it. Errors describe references
// that will stall a conversation; warnings describe guards that always fail
// or auto chains that loop.
func (s *Scenario) Validate() []Issue {
	var issues []Issue
	add := func(sev Severity, step, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, StepID: step, Message: fmt.Sprintf(format, args...)})
	}

	if s.StartStep == "" {
		add(SeverityError, "", "start_step is empty")
	} else if _, ok := s.Steps[s.StartStep]; !ok {
		add(SeverityError, "", "start_step %q is not defined", s.StartStep)
	}

	ids := make([]string, 0, len(s.Steps))
	for id := range s.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ref := func(from, to, what string) {
		if to == "" {
			return
		}
		if _, ok := s.Steps[to]; !ok {
			add(SeverityError, from, "%s references unknown step %q", what, to)
		}
	}

	for _, id := range ids {
		step := s.Steps[id]
		if step == nil {
			add(SeverityError, id, "step body is null")
			continue
		}
		switch step.Kind() {
		case StepMessage, StepConditionalMessage, StepAction:
		default:
			add(SeverityError, id, "unknown step type %q", step.Type)
		}

		if n := step.NextStep; n != nil {
			if n.Conditional {
				for i := range n.Branches {
					b := &n.Branches[i]
					if b.err != nil {
						add(SeverityWarning, id, "branch %d guard never matches: %v", i, b.err)
					}
					ref(id, b.Then, fmt.Sprintf("branch %d", i))
				}
				ref(id, n.Else, "else")
			} else {
				ref(id, n.Step, "next_step")
				if step.AutoNext && n.Step == id {
					add(SeverityWarning, id, "auto_next points at itself; the chain will be aborted")
				}
			}
		}

		for i := range step.Conditions {
			if c := &step.Conditions[i]; c.err != nil {
				add(SeverityWarning, id, "condition %d never matches: %v", i, c.err)
			}
		}
		if step.Kind() == StepConditionalMessage && len(step.Conditions) == 0 {
			add(SeverityWarning, id, "conditional_message without conditions sends nothing")
		}

		if in := step.ExpectedInput; in != nil {
			switch in.Type {
			case InputText, InputNumber, InputDate, InputButton, InputMedia, InputAny, "":
			default:
				add(SeverityError, id, "unknown expected_input type %q", in.Type)
			}
			if in.Type == InputButton && len(step.Buttons) == 0 && len(step.Conditions) == 0 {
				add(SeverityWarning, id, "expects a button but defines none")
			}
			if v := in.Validation; v != nil && v.Pattern != "" {
				if _, err := regexp.Compile(v.Pattern); err != nil {
					add(SeverityError, id, "invalid pattern: %v", err)
				}
			}
		}

		for i, a := range step.Actions {
			if a.Type != ActionSetVariable {
				add(SeverityWarning, id, "action %d has unsupported type %q", i, a.Type)
			}
		}
	}
	return issues
}

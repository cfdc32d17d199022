package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

// InputResult is the outcome of checking a user answer against a step.
type InputResult struct {
	Valid bool
	Error string
	// Value is the normalized answer: float64 for numbers, YYYY-MM-DD for dates, string otherwise.
	Value any
}

// DateLayout is the canonical form dates are stored in.
const DateLayout = "2006-01-02"

var flexibleDateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"2/1/2006",
	"2006-01-02 15:04",
	"02.01.2006 15:04",
}

// ParseFlexibleDate tries the date formats users commonly type.
func ParseFlexibleDate(input string) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidateUserInput checks value against the expected input rules.
// Parse failures are reported as invalid results, never as errors.
func ValidateUserInput(value string, exp *scenario.ExpectedInput) InputResult {
	if exp == nil {
		return InputResult{Valid: true, Value: value}
	}
	rules := exp.Validation
	fail := func(msg string) InputResult {
		if exp.ErrorMessage != "" {
			msg = exp.ErrorMessage
		}
		return InputResult{Error: msg}
	}

	switch exp.Type {
	case scenario.InputNumber:
		n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", "."), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return fail("Please enter a number.")
		}
		if rules != nil && rules.Min != nil && n < *rules.Min {
			return fail(fmt.Sprintf("The number must be at least %s.", scenario.Stringify(*rules.Min)))
		}
		if rules != nil && rules.Max != nil && n > *rules.Max {
			return fail(fmt.Sprintf("The number must be at most %s.", scenario.Stringify(*rules.Max)))
		}
		return InputResult{Valid: true, Value: n}

	case scenario.InputDate:
		t, ok := ParseFlexibleDate(value)
		if !ok {
			return fail("Please enter a date, for example 2024-01-31 or 31.01.2024.")
		}
		return InputResult{Valid: true, Value: t.Format(DateLayout)}

	case scenario.InputButton:
		if rules != nil && len(rules.AllowedValues) > 0 && !contains(rules.AllowedValues, value) {
			return fail("Please choose one of the offered options.")
		}
		return InputResult{Valid: true, Value: value}

	case scenario.InputMedia:
		if strings.TrimSpace(value) == "" {
			return fail("Please send a file.")
		}
		return InputResult{Valid: true, Value: value}

	case scenario.InputAny:
		return InputResult{Valid: true, Value: value}

	default:
		text := strings.TrimSpace(value)
		if rules == nil {
			return InputResult{Valid: true, Value: text}
		}
		n := utf8.RuneCountInString(text)
		if rules.MinLength != nil && n < *rules.MinLength {
			return fail(fmt.Sprintf("The answer is too short, at least %d characters please.", *rules.MinLength))
		}
		if rules.MaxLength != nil && n > *rules.MaxLength {
			return fail(fmt.Sprintf("The answer is too long, at most %d characters please.", *rules.MaxLength))
		}
		if re := rules.Regexp(); re != nil && !re.MatchString(text) {
			return fail("The answer has an unexpected format.")
		}
		if len(rules.AllowedValues) > 0 && !contains(rules.AllowedValues, text) {
			return fail("Please answer with one of: " + strings.Join(rules.AllowedValues, ", ") + ".")
		}
		return InputResult{Valid: true, Value: text}
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Package validator gates user input before it reaches scenario processing.
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "dialog.validator"

// Result classifies a validation decision.
type Result string

const (
	Valid          Result = "VALID"
	Duplicate      Result = "DUPLICATE"
	RateLimited    Result = "RATE_LIMITED"
	InvalidButton  Result = "INVALID_BUTTON"
	WrongInputType Result = "WRONG_INPUT_TYPE"
	StateMismatch  Result = "STATE_MISMATCH"
)

// InputType is the modality of an inbound input.
type InputType string

const (
	InputText    InputType = "text"
	InputButton  InputType = "button"
	InputCommand InputType = "command"
	InputMedia   InputType = "media"
)

// Context carries everything one validation decision needs.
type Context struct {
	BotID           string
	Platform        string
	UserID          string
	ChatID          string
	InputType       InputType
	Value           string
	ExpectedButtons []scenario.Button
	State           *state.DialogState
}

// Response is the validation verdict. Rejections are values, never errors.
type Response struct {
	Result                 Result
	IsValid                bool
	CorrectionMessage      string
	ShouldRetryCurrentStep bool
	SuggestedButtons       []scenario.Button
}

const (
	msgRateLimited = "You are sending messages too fast. Please wait a moment."
	msgNoState     = "Your conversation has expired. Send /start to begin again."
	msgNoStep      = "Let's pick up where we left off."
	msgPickButton  = "Please choose one of the options below."
	msgTypeText    = "Please type your answer as a message."
	msgBadButton   = "That option is not available here. Please choose one of the options below."
	msgInternal    = "Something went wrong, try /start."
)

// Options tune a Validator.
type Options struct {
	Duplicates *DuplicateStore
	Rate       RateLimiter
}

// Validator runs the duplicate, rate, state and shape checks in order.
type Validator struct {
	dups *DuplicateStore
	rate RateLimiter
}

// New builds a Validator. Nil collaborators disable their check.
func New(opts Options) *Validator {
	return &Validator{dups: opts.Duplicates, rate: opts.Rate}
}

// Validate returns the first failing check, or Valid after recording the
// input fingerprint. It never panics.
func (v *Validator) Validate(ctx context.Context, vc Context) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, component, "validate.panic",
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(r)),
			)
			resp = Response{Result: StateMismatch, CorrectionMessage: msgInternal}
		}
		level := logger.Debug
		status := "ok"
		if !resp.IsValid {
			level = logger.Info
			status = "rejected"
		}
		level(ctx, component, "validate",
			slog.String("status", status),
			slog.String("result", string(resp.Result)),
			slog.String("input_type", string(vc.InputType)),
			slog.Duration("duration", logger.Took(start)),
		)
	}()

	if isCommand(vc) {
		return Response{Result: Valid, IsValid: true}
	}

	step := ""
	if vc.State != nil {
		step = vc.State.CurrentStep
	}
	dupKey := duplicateKey(vc.BotID, vc.UserID, Fingerprint(vc.InputType, vc.Value, step))
	if r, rejected := v.throttle(ctx, vc, dupKey); rejected {
		return r
	}

	if vc.State == nil {
		return Response{Result: StateMismatch, CorrectionMessage: msgNoState}
	}
	if step == "" {
		return Response{Result: StateMismatch, CorrectionMessage: msgNoStep, ShouldRetryCurrentStep: true}
	}

	if r, rejected := checkShape(vc); rejected {
		return r
	}

	if v.dups != nil {
		v.dups.Record(ctx, dupKey)
	}
	return Response{Result: Valid, IsValid: true}
}

// Admit runs only the duplicate and rate checks, for input that arrives
// before any conversation exists. Accepted input is recorded against step.
// It never panics.
func (v *Validator) Admit(ctx context.Context, vc Context, step string) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, component, "validate.panic",
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(r)),
			)
			resp = Response{Result: StateMismatch, CorrectionMessage: msgInternal}
		}
	}()
	if isCommand(vc) {
		return Response{Result: Valid, IsValid: true}
	}
	dupKey := duplicateKey(vc.BotID, vc.UserID, Fingerprint(vc.InputType, vc.Value, step))
	if r, rejected := v.throttle(ctx, vc, dupKey); rejected {
		logger.Info(ctx, component, "validate",
			slog.String("status", "rejected"),
			slog.String("result", string(r.Result)),
			slog.String("input_type", string(vc.InputType)),
		)
		return r
	}
	if v.dups != nil {
		v.dups.Record(ctx, dupKey)
	}
	return Response{Result: Valid, IsValid: true}
}

func isCommand(vc Context) bool {
	return vc.InputType == InputCommand || (vc.InputType == InputText && strings.HasPrefix(vc.Value, "/"))
}

func (v *Validator) throttle(ctx context.Context, vc Context, dupKey string) (Response, bool) {
	if v.dups != nil && v.dups.Seen(ctx, dupKey) {
		return Response{Result: Duplicate}, true
	}
	if v.rate == nil {
		return Response{}, false
	}
	ok, err := v.rate.Allow(ctx, vc.BotID+":"+vc.UserID)
	switch {
	case err != nil:
		logger.Warn(ctx, component, "rate.check",
			slog.String("status", "skip"),
			slog.String("err", err.Error()),
		)
	case !ok:
		return Response{Result: RateLimited, CorrectionMessage: msgRateLimited, ShouldRetryCurrentStep: true}, true
	}
	return Response{}, false
}

// Forget drops the fingerprint of vc recorded against step, so the same
// input is accepted again when the turn it started could not complete.
func (v *Validator) Forget(ctx context.Context, vc Context, step string) {
	if v.dups == nil {
		return
	}
	v.dups.Forget(ctx, duplicateKey(vc.BotID, vc.UserID, Fingerprint(vc.InputType, vc.Value, step)))
}

func checkShape(vc Context) (Response, bool) {
	expectsButtons := len(vc.ExpectedButtons) > 0
	suggested := append([]scenario.Button(nil), vc.ExpectedButtons...)

	switch vc.InputType {
	case InputButton:
		if !expectsButtons {
			return Response{Result: WrongInputType, CorrectionMessage: msgTypeText, ShouldRetryCurrentStep: true}, true
		}
		for _, b := range vc.ExpectedButtons {
			if b.Value == vc.Value {
				return Response{}, false
			}
		}
		return Response{
			Result:                 InvalidButton,
			CorrectionMessage:      msgBadButton + " " + listOptions(vc.ExpectedButtons),
			ShouldRetryCurrentStep: true,
			SuggestedButtons:       suggested,
		}, true
	default:
		if expectsButtons {
			return Response{
				Result:                 WrongInputType,
				CorrectionMessage:      msgPickButton + " " + listOptions(vc.ExpectedButtons),
				ShouldRetryCurrentStep: true,
				SuggestedButtons:       suggested,
			}, true
		}
	}
	return Response{}, false
}

func listOptions(buttons []scenario.Button) string {
	labels := make([]string, 0, len(buttons))
	for _, b := range buttons {
		labels = append(labels, b.Text)
	}
	return "Options: " + strings.Join(labels, ", ") + "."
}

// Fingerprint is the stable hash of one input at one step.
func Fingerprint(kind InputType, value, step string) string {
	sum := sha256.Sum256([]byte(string(kind) + "|" + value + "|" + step))
	return hex.EncodeToString(sum[:16])
}

func duplicateKey(botID, userID, fingerprint string) string {
	return botID + ":" + userID + ":" + fingerprint
}

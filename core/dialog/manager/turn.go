package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/processor"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/dialog/validator"
	"github.com/m3rciful/dialogbot/core/logger"
)

func (m *Manager) handleInput(ctx context.Context, in platform.Inbound, kind validator.InputType, value string) (Outcome, error) {
	if m.isClosed() {
		return Outcome{}, ErrClosed
	}
	start := time.Now()
	key := m.key(in)
	ctx = m.withMeta(ctx, in)

	unlock := m.lock(key)
	out, auto, err := m.turn(ctx, in, key, kind, value)
	unlock()

	level := logger.Info
	status := "ok"
	if err != nil {
		level, status = logger.Error, "fail"
	} else if out.Result != validator.Valid || out.InputError != "" {
		status = "rejected"
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("input_type", string(kind)),
		slog.String("result", string(out.Result)),
		slog.String("step", out.Step),
		slog.Int("count", out.Sent),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	level(ctx, component, "dialog.turn", attrs...)

	if err == nil && auto {
		m.startChain(ctx, key, out.Step)
	}
	return out, err
}

// turn runs one user input under the chat lock. The bool reports whether
// the resulting step starts an auto-transition chain.
func (m *Manager) turn(ctx context.Context, in platform.Inbound, key state.Key, kind validator.InputType, value string) (Outcome, bool, error) {
	sc := m.scenarios.Scenario()

	st, err := m.states.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		// first contact: open the conversation at the start step
		vc := validator.Context{
			BotID:     m.botID,
			Platform:  in.Platform,
			UserID:    in.UserID,
			ChatID:    in.ChatID,
			InputType: kind,
			Value:     value,
		}
		if resp := m.validator.Admit(ctx, vc, ""); !resp.IsValid {
			out := Outcome{Result: resp.Result}
			if resp.Result != validator.Duplicate && resp.CorrectionMessage != "" {
				out.Sent = m.sendText(ctx, in.ChatID, resp.CorrectionMessage)
			}
			return out, false, nil
		}
		logger.Info(ctx, component, "dialog.open", slog.String("input_type", string(kind)))
		return m.restart(ctx, key)
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("manager: load state: %w", err)
	}
	ctx = logger.WithMeta(ctx, logger.Meta{DialogID: st.ID})

	current, procErr := processor.ProcessStep(sc, st.CurrentStep, st.CollectedData)

	vc := validator.Context{
		BotID:           m.botID,
		Platform:        in.Platform,
		UserID:          in.UserID,
		ChatID:          in.ChatID,
		InputType:       kind,
		Value:           value,
		ExpectedButtons: current.Buttons,
		State:           st,
	}
	resp := m.validator.Validate(ctx, vc)
	if !resp.IsValid {
		return m.reject(ctx, sc, in, st, resp)
	}

	if procErr != nil {
		m.integrity(ctx, st.CurrentStep, procErr)
		return Outcome{Result: validator.Valid, Step: st.CurrentStep, Stalled: true}, false, nil
	}

	exp := current.ExpectedInput
	if exp != nil && exp.Type == scenario.InputMedia && kind != validator.InputMedia {
		value = ""
	}
	check := processor.ValidateUserInput(value, exp)
	if !check.Valid {
		sent := m.sendText(ctx, in.ChatID, check.Error)
		return Outcome{Result: validator.Valid, Step: st.CurrentStep, Sent: sent, InputError: check.Error}, false, nil
	}

	name := processor.VariableName(current.Step)
	st.CollectedData[name] = check.Value
	m.recordInput(ctx, st, value)

	next := processor.ResolveNextStep(current.Step, st.CollectedData)
	if next == "" {
		if err := m.states.Update(ctx, st); err != nil {
			m.validator.Forget(ctx, vc, st.CurrentStep)
			return m.saveFailed(ctx, in.ChatID, Outcome{Result: validator.Valid, Step: st.CurrentStep}, err)
		}
		logger.Info(ctx, component, "dialog.end", slog.String("step", st.CurrentStep))
		return Outcome{Result: validator.Valid, Step: st.CurrentStep}, false, nil
	}

	from := st.CurrentStep
	res, sent, err := m.present(ctx, sc, st, next)
	if errors.Is(err, ErrSaveState) {
		m.validator.Forget(ctx, vc, from)
		return m.saveFailed(ctx, in.ChatID, Outcome{Result: validator.Valid, Step: from}, err)
	}
	if err != nil {
		return Outcome{Result: validator.Valid, Step: from, Stalled: true}, false, nil
	}
	m.validator.Remember(ctx, vc, next)
	return Outcome{Result: validator.Valid, Step: next, Sent: sent}, res.AutoNext(), nil
}

// reject answers a failed validation. Duplicates are dropped silently.
func (m *Manager) reject(ctx context.Context, sc *scenario.Scenario, in platform.Inbound, st *state.DialogState, resp validator.Response) (Outcome, bool, error) {
	out := Outcome{Result: resp.Result, Step: st.CurrentStep}
	if resp.Result == validator.Duplicate {
		return out, false, nil
	}

	if len(resp.SuggestedButtons) > 0 {
		out.Sent = m.send(ctx, in.ChatID, scenario.Message{Text: resp.CorrectionMessage}, resp.SuggestedButtons)
	} else if resp.CorrectionMessage != "" {
		out.Sent = m.sendText(ctx, in.ChatID, resp.CorrectionMessage)
	}

	if resp.Result == validator.StateMismatch && resp.ShouldRetryCurrentStep && st.CurrentStep == "" {
		// the cursor was lost; put it back on the start step
		if _, err := sc.Start(); err != nil {
			m.integrity(ctx, "", err)
			out.Stalled = true
			return out, false, nil
		}
		res, sent, err := m.present(ctx, sc, st, sc.StartStep)
		out.Sent += sent
		if errors.Is(err, ErrSaveState) {
			return m.saveFailed(ctx, in.ChatID, out, err)
		}
		if err != nil {
			out.Stalled = true
			return out, false, nil
		}
		out.Step = sc.StartStep
		return out, res.AutoNext(), nil
	}
	return out, false, nil
}

// saveFailed tells the user the turn was lost and returns err wrapped in
// ErrSaveState.
func (m *Manager) saveFailed(ctx context.Context, chatID string, out Outcome, err error) (Outcome, bool, error) {
	out.Sent += m.sendText(ctx, chatID, saveFailedText)
	if !errors.Is(err, ErrSaveState) {
		err = fmt.Errorf("%w: %w", ErrSaveState, err)
	}
	return out, false, err
}

// present moves st onto stepID, persists it and sends the step's message.
// A missing step is logged and returned as an error with st untouched in
// the store. Persistence failures wrap ErrSaveState.
func (m *Manager) present(ctx context.Context, sc *scenario.Scenario, st *state.DialogState, stepID string) (processor.Result, int, error) {
	res, err := processor.ProcessStep(sc, stepID, st.CollectedData)
	if err != nil {
		m.integrity(ctx, stepID, err)
		return res, 0, err
	}

	from := st.CurrentStep
	for k, v := range res.Updates {
		st.CollectedData[k] = v
	}
	st.CurrentStep = stepID
	if err := m.states.Update(ctx, st); err != nil {
		logger.Error(ctx, component, "dialog.transition",
			slog.String("status", "fail"),
			slog.String("from_step", from),
			slog.String("to_step", stepID),
			slog.String("err", err.Error()),
		)
		return res, 0, fmt.Errorf("%w: %w", ErrSaveState, err)
	}
	if from != stepID {
		logger.Info(ctx, component, "dialog.transition",
			slog.String("status", "ok"),
			slog.String("from_step", from),
			slog.String("to_step", stepID),
		)
	}

	if !res.HasMessage() && len(res.Buttons) == 0 {
		return res, 0, nil
	}
	sent := m.send(ctx, st.ChatID, res.Message, res.Buttons)
	if sent > 0 {
		if err := m.states.AddHistory(ctx, st.ID, stepID, state.MessageBot, res.Message.Text); err != nil {
			logger.Warn(ctx, component, "dialog.history",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}
	return res, sent, nil
}

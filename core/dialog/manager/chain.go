package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/m3rciful/dialogbot/core/dialog/processor"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/logger"
)

// chain is one running auto-transition sequence for a conversation.
type chain struct {
	id     uint64
	cancel context.CancelFunc
}

// startChain follows auto_next steps from the step the conversation rests
// on. A running chain for the same key is cancelled first.
func (m *Manager) startChain(ctx context.Context, key state.Key, from string) {
	m.chainMu.Lock()
	if m.closed {
		m.chainMu.Unlock()
		return
	}
	if old, ok := m.chains[key]; ok {
		old.cancel()
	}
	m.chainSeq++
	meta := logger.MetaFrom(ctx)
	meta.TransitionID = xid.New().String()
	cctx, cancel := context.WithCancel(logger.WithMeta(m.base, meta))
	c := &chain{id: m.chainSeq, cancel: cancel}
	m.chains[key] = c
	m.wg.Add(1)
	m.chainMu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.dropChain(key, c)
		m.runChain(cctx, key, from)
	}()
}

// cancelChain stops the chain of key, if any. It does not wait for the
// goroutine; a cancelled chain re-checks its context under the chat lock.
func (m *Manager) cancelChain(key state.Key) {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	if c, ok := m.chains[key]; ok {
		c.cancel()
		delete(m.chains, key)
	}
}

func (m *Manager) dropChain(key state.Key, c *chain) {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	c.cancel()
	if cur, ok := m.chains[key]; ok && cur.id == c.id {
		delete(m.chains, key)
	}
}

func (m *Manager) runChain(ctx context.Context, key state.Key, from string) {
	start := time.Now()
	stepID := from
	hops := 0
	var dialogID string
	status, cause := "ok", ""

	for {
		step, err := m.scenarios.Scenario().Step(stepID)
		if err != nil {
			m.integrity(ctx, stepID, err)
			status, cause = "fail", "missing step"
			break
		}
		if err := sleepCtx(ctx, step.Delay()); err != nil {
			status, cause = "cancelled", "context done"
			break
		}
		next, more, why := m.advance(ctx, key, stepID, &dialogID, hops)
		if next != "" {
			hops++
			stepID = next
		}
		if !more {
			if why != "" {
				status, cause = "skip", why
			}
			break
		}
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("step", stepID),
		slog.Int("count", hops),
		slog.Duration("duration", logger.Took(start)),
	}
	if cause != "" {
		attrs = append(attrs, slog.String("cause", cause))
	}
	logger.Info(ctx, component, "dialog.chain", attrs...)
}

// advance performs one hop under the chat lock. It returns the step entered
// (empty when none), whether the chain goes on, and why it stopped early.
func (m *Manager) advance(ctx context.Context, key state.Key, stepID string, dialogID *string, hops int) (string, bool, string) {
	unlock := m.lock(key)
	defer unlock()

	if ctx.Err() != nil {
		return "", false, "cancelled"
	}
	st, err := m.states.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logger.Error(ctx, component, "dialog.chain",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		return "", false, "state gone"
	}
	if *dialogID == "" {
		*dialogID = st.ID
	}
	if st.ID != *dialogID || st.CurrentStep != stepID {
		return "", false, "state moved"
	}
	ctx = logger.WithMeta(ctx, logger.Meta{DialogID: st.ID})

	sc := m.scenarios.Scenario()
	cur, err := processor.ProcessStep(sc, stepID, st.CollectedData)
	if err != nil {
		m.integrity(ctx, stepID, err)
		return "", false, "missing step"
	}
	if !cur.AutoNext() {
		return "", false, ""
	}
	next := cur.NextStepID
	if next == stepID {
		logger.Warn(ctx, component, "dialog.chain",
			slog.String("status", "rejected"),
			slog.String("step", stepID),
			slog.String("cause", "auto_next points at itself"),
		)
		return "", false, "self loop"
	}
	if hops >= m.maxChain {
		logger.Warn(ctx, component, "dialog.chain",
			slog.String("status", "rejected"),
			slog.String("step", stepID),
			slog.Int("limit", m.maxChain),
			slog.String("cause", "chain limit reached"),
		)
		return "", false, "chain limit"
	}

	m.recordInput(ctx, st, AutoInput)
	res, _, err := m.present(ctx, sc, st, next)
	if errors.Is(err, ErrSaveState) {
		return "", false, "save failed"
	}
	if err != nil {
		return "", false, "missing step"
	}
	return next, res.AutoNext(), ""
}

// recordInput appends a user history entry. The synthetic chain input
// leaves no trace.
func (m *Manager) recordInput(ctx context.Context, st *state.DialogState, input string) {
	if input == AutoInput {
		return
	}
	if err := m.states.AddHistory(ctx, st.ID, st.CurrentStep, state.MessageUser, input); err != nil {
		logger.Warn(ctx, component, "dialog.history",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

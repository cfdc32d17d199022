// Package manager orchestrates dialog turns: it validates input, evaluates
// scenario steps, persists state, sends replies and drives auto-transition
// chains.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/dialogbot/core/dialog/media"
	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/dialog/validator"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "dialog.manager"

// AutoInput is the synthetic input that re-enters processing for a chain
// step. It cannot be produced by a user: it carries NUL bytes, which
// platforms strip from text.
const AutoInput = "\x00auto_next\x00"

// DefaultMaxAutoChain bounds the steps one chain may visit.
const DefaultMaxAutoChain = 25

// Built-in command names.
const (
	CommandStart = "start"
	CommandHelp  = "help"
	CommandReset = "reset"
)

const (
	defaultHelpText = "Send /start to begin the conversation, /reset to forget it."
	resetText       = "Conversation reset. Send /start to begin again."
	saveFailedText  = "Sorry, your answer could not be saved. Please try again, or send /start to begin anew."
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("manager: closed")

// ErrSaveState marks a turn whose state change could not be persisted.
var ErrSaveState = errors.New("manager: save state")

// Options wires a Manager.
type Options struct {
	BotID     string
	Scenarios scenario.Source
	States    *state.Repository
	Validator *validator.Validator
	Media     *media.Manager
	Adapter   platform.Adapter

	HelpText     string
	MaxAutoChain int
	// Serialize processes turns of one chat one at a time.
	Serialize bool
}

// Outcome summarizes one handled input.
type Outcome struct {
	Result validator.Result
	// Step is the conversation's current step after the turn.
	Step string
	// Sent counts outbound messages delivered during the turn.
	Sent int
	// InputError is the step-level validation error sent to the user, if any.
	InputError string
	// Stalled is set when a scenario integrity error left the dialog in place.
	Stalled bool
}

// Manager is safe for concurrent use.
type Manager struct {
	botID     string
	scenarios scenario.Source
	states    *state.Repository
	validator *validator.Validator
	media     *media.Manager
	adapter   platform.Adapter
	helpText  string
	maxChain  int
	serialize bool

	locks *keyedMutex

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	chainMu  sync.Mutex
	chains   map[state.Key]*chain
	chainSeq uint64
	closed   bool
}

// New validates opts and returns a Manager.
func New(opts Options) (*Manager, error) {
	switch {
	case opts.Scenarios == nil:
		return nil, errors.New("manager: scenario source is required")
	case opts.States == nil:
		return nil, errors.New("manager: state repository is required")
	case opts.Adapter == nil:
		return nil, errors.New("manager: platform adapter is required")
	}
	if opts.Validator == nil {
		opts.Validator = validator.New(validator.Options{})
	}
	if opts.Media == nil {
		opts.Media = media.New()
	}
	if opts.BotID == "" {
		opts.BotID = "default"
	}
	if opts.HelpText == "" {
		opts.HelpText = defaultHelpText
	}
	if opts.MaxAutoChain <= 0 {
		opts.MaxAutoChain = DefaultMaxAutoChain
	}

	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		botID:     opts.BotID,
		scenarios: opts.Scenarios,
		states:    opts.States,
		validator: opts.Validator,
		media:     opts.Media,
		adapter:   opts.Adapter,
		helpText:  opts.HelpText,
		maxChain:  opts.MaxAutoChain,
		serialize: opts.Serialize,
		locks:     newKeyedMutex(),
		base:      base,
		cancel:    cancel,
		chains:    make(map[state.Key]*chain),
	}, nil
}

// ProcessIncomingMessage routes a normalized update to the matching handler.
// Rejections are answered to the user and are not errors.
func (m *Manager) ProcessIncomingMessage(ctx context.Context, in platform.Inbound) error {
	_, err := m.Dispatch(ctx, in)
	return err
}

// Dispatch routes in by content type and reports the turn outcome.
func (m *Manager) Dispatch(ctx context.Context, in platform.Inbound) (Outcome, error) {
	switch {
	case in.Content.Command() != "":
		return m.HandleCommand(ctx, in)
	case in.Kind == platform.KindCallback || in.Content.Type == platform.ContentButton:
		return m.HandleButtonClick(ctx, in)
	default:
		return m.HandleTextMessage(ctx, in)
	}
}

// HandleTextMessage processes a text or media answer.
func (m *Manager) HandleTextMessage(ctx context.Context, in platform.Inbound) (Outcome, error) {
	kind := validator.InputText
	if in.Content.Type == platform.ContentMedia {
		kind = validator.InputMedia
	}
	return m.handleInput(ctx, in, kind, in.Content.Answer())
}

// HandleButtonClick processes a pressed inline button by its value.
func (m *Manager) HandleButtonClick(ctx context.Context, in platform.Inbound) (Outcome, error) {
	return m.handleInput(ctx, in, validator.InputButton, in.Content.Value)
}

// HandleCommand runs a built-in command. Commands bypass validation and
// scenario processing.
func (m *Manager) HandleCommand(ctx context.Context, in platform.Inbound) (Outcome, error) {
	if m.isClosed() {
		return Outcome{}, ErrClosed
	}
	key := m.key(in)
	ctx = m.withMeta(ctx, in)
	cmd := in.Content.Command()
	logger.Info(ctx, component, "dialog.command", slog.String("cmd", cmd))

	switch cmd {
	case CommandStart:
		m.cancelChain(key)
		unlock := m.lock(key)
		out, auto, err := m.restart(ctx, key)
		unlock()
		if err != nil {
			return out, err
		}
		if auto {
			m.startChain(ctx, key, out.Step)
		}
		return out, nil

	case CommandReset:
		m.cancelChain(key)
		unlock := m.lock(key)
		defer unlock()
		if err := m.states.Delete(ctx, key); err != nil {
			logger.Error(ctx, component, "dialog.reset",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return Outcome{Result: validator.Valid}, err
		}
		sent := m.sendText(ctx, in.ChatID, resetText)
		return Outcome{Result: validator.Valid, Sent: sent}, nil

	default:
		sent := m.sendText(ctx, in.ChatID, m.helpText)
		return Outcome{Result: validator.Valid, Sent: sent}, nil
	}
}

// restart drops any existing state and presents the start step.
func (m *Manager) restart(ctx context.Context, key state.Key) (Outcome, bool, error) {
	sc := m.scenarios.Scenario()
	if _, err := sc.Start(); err != nil {
		m.integrity(ctx, "", err)
		return Outcome{Result: validator.Valid, Stalled: true}, false, nil
	}
	if err := m.states.Delete(ctx, key); err != nil {
		return m.saveFailed(ctx, key.ChatID, Outcome{Result: validator.Valid}, err)
	}
	st, err := m.states.Create(ctx, key, sc.StartStep)
	if err != nil {
		return m.saveFailed(ctx, key.ChatID, Outcome{Result: validator.Valid}, err)
	}
	ctx = logger.WithMeta(ctx, logger.Meta{DialogID: st.ID})

	res, sent, err := m.present(ctx, sc, st, sc.StartStep)
	if errors.Is(err, ErrSaveState) {
		return m.saveFailed(ctx, key.ChatID, Outcome{Result: validator.Valid, Sent: sent}, err)
	}
	if err != nil {
		return Outcome{Result: validator.Valid, Step: st.CurrentStep, Stalled: true}, false, nil
	}
	return Outcome{Result: validator.Valid, Step: sc.StartStep, Sent: sent}, res.AutoNext(), nil
}

// Wait blocks until running auto-transition chains finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight chains and waits for them to stop.
func (m *Manager) Close() {
	m.chainMu.Lock()
	m.closed = true
	m.chainMu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) isClosed() bool {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	return m.closed
}

func (m *Manager) key(in platform.Inbound) state.Key {
	return state.Key{BotID: m.botID, Platform: in.Platform, ChatID: in.ChatID}
}

func (m *Manager) lock(key state.Key) func() {
	if !m.serialize {
		return func() {}
	}
	return m.locks.Lock(key.String())
}

func (m *Manager) withMeta(ctx context.Context, in platform.Inbound) context.Context {
	return logger.WithMeta(ctx, logger.Meta{
		BotID:    m.botID,
		Platform: in.Platform,
		ChatID:   in.ChatID,
		UserID:   in.UserID,
	})
}

func (m *Manager) integrity(ctx context.Context, step string, err error) {
	logger.Error(ctx, component, "dialog.integrity",
		slog.String("status", "fail"),
		slog.String("step", step),
		slog.String("err", err.Error()),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

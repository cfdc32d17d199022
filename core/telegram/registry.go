package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/commands"
)

const wireComponent = "tg.wire"

// ErrDuplicate reports a second registration under the same name.
var ErrDuplicate = errors.New("telegram: already registered")

const staleButtonText = "This button is no longer active."

// Registry maps slash commands and callback keys to handlers. It is safe
// for concurrent use; registration normally happens once before the bot
// starts.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	callbacks map[string]tele.HandlerFunc
	notFound  tele.HandlerFunc
}

// NewRegistry returns an empty Registry whose unknown-callback handler
// tells the user the button expired.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		notFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: staleButtonText})
		},
	}
}

func rejectRegistration(kind, name string, err error) error {
	logger.Warn(logger.Background(), wireComponent, "register."+kind,
		slog.String("status", "rejected"),
		slog.String("name", name),
		slog.String("cause", err.Error()),
	)
	return fmt.Errorf("register %s %q: %w", kind, name, err)
}

// RegisterCommand adds cmd under name, e.g. "/start".
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	if err := cmd.Validate(name); err != nil {
		return rejectRegistration("command", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup {
		return rejectRegistration("command", name, ErrDuplicate)
	}
	r.commands[name] = cmd
	return nil
}

// Command returns the command registered under name.
func (r *Registry) Command(name string) (commands.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// CommandNames lists registered commands in sorted order.
func (r *Registry) CommandNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.commands)
}

// MenuCommands lists the commands shown in the Telegram command menu.
func (r *Registry) MenuCommands() []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var menu []tele.Command
	for _, name := range sortedKeys(r.commands) {
		if cmd := r.commands[name]; cmd.InMenu() {
			menu = append(menu, tele.Command{Text: name, Description: cmd.Description})
		}
	}
	return menu
}

// RegisterCallback routes callback data with the given unique key to h.
func (r *Registry) RegisterCallback(key string, h tele.HandlerFunc) error {
	if key == "" || h == nil {
		return rejectRegistration("callback", key, errors.New("empty key or nil handler"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[key]; dup {
		return rejectRegistration("callback", key, ErrDuplicate)
	}
	r.callbacks[key] = h
	return nil
}

// Callback returns the handler for key, or the unknown-callback handler
// and false.
func (r *Registry) Callback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.callbacks[key]; ok {
		return h, true
	}
	return r.notFound, false
}

// CallbackKeys lists registered callback keys in sorted order.
func (r *Registry) CallbackKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.callbacks)
}

// SetCallbackNotFound replaces the handler for unknown callback keys.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.notFound = h
	r.mu.Unlock()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// menuPublisher is the part of *tele.Bot that sets the command menu.
type menuPublisher interface {
	SetCommands(opts ...interface{}) error
}

// PublishMenu uploads the registry's menu commands. Failures are logged
// and returned; the bot keeps working without a menu.
func PublishMenu(bot menuPublisher, reg *Registry) error {
	menu := reg.MenuCommands()
	if err := bot.SetCommands(menu); err != nil {
		logger.Error(logger.Background(), wireComponent, "register.menu",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return err
	}
	logger.Info(logger.Background(), wireComponent, "register.menu",
		slog.String("status", "ok"),
		slog.Int("count", len(menu)),
	)
	return nil
}

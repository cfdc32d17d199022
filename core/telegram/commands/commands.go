// Package commands describes slash commands a bot exposes.
package commands

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ErrInvalid reports a command that cannot be registered.
var ErrInvalid = errors.New("commands: invalid command")

// Command is one slash command. Hidden and admin-only commands still
// route but stay out of the Telegram command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
}

// Validate checks that name is a slash command and c is usable.
func (c Command) Validate(name string) error {
	switch {
	case !strings.HasPrefix(name, "/") || len(name) < 2:
		return errors.Join(ErrInvalid, errors.New("name must start with '/'"))
	case strings.ContainsAny(name, " \t\n@"):
		return errors.Join(ErrInvalid, errors.New("name must be a single word"))
	case c.Handler == nil:
		return errors.Join(ErrInvalid, errors.New("handler is nil"))
	case strings.TrimSpace(c.Description) == "":
		return errors.Join(ErrInvalid, errors.New("description is empty"))
	}
	return nil
}

// InMenu reports whether the command is listed in the command menu.
func (c Command) InMenu() bool {
	return !c.Hidden && !c.AdminOnly
}

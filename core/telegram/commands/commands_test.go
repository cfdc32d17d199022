package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestValidate(t *testing.T) {
	ok := Command{Handler: func(tele.Context) error { return nil }, Description: "Start"}
	require.NoError(t, ok.Validate("/start"))

	for name, cmd := range map[string]Command{
		"start":    ok,
		"/":        ok,
		"/two one": ok,
		"/nohand":  {Description: "x"},
		"/nodesc":  {Handler: ok.Handler, Description: " "},
	} {
		require.ErrorIs(t, cmd.Validate(name), ErrInvalid, name)
	}
}

func TestInMenu(t *testing.T) {
	require.True(t, Command{}.InMenu())
	require.False(t, Command{Hidden: true}.InMenu())
	require.False(t, Command{AdminOnly: true}.InMenu())
}

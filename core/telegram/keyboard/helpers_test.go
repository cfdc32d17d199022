package keyboard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

func TestChoicesEncodesValues(t *testing.T) {
	markup, err := Choices([]scenario.Button{
		{Text: "Russia", Value: "rf"},
		{Text: "CIS", Value: "cis"},
		{Text: "Other", Value: "other"},
	}, 2)
	require.NoError(t, err)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Len(t, markup.InlineKeyboard[0], 2)
	require.Len(t, markup.InlineKeyboard[1], 1)

	first := markup.InlineKeyboard[0][0]
	require.Equal(t, "Russia", first.Text)
	require.Equal(t, "dlg", first.Unique)
	require.Equal(t, "rf", first.Data)
}

func TestChoicesRejectsLongValues(t *testing.T) {
	_, err := Choices([]scenario.Button{{Text: "x", Value: strings.Repeat("v", 80)}}, 1)
	require.Error(t, err)
}

func TestGridOnePerRow(t *testing.T) {
	markup := Grid([]Button{{Text: "a", Unique: "u", Data: "1"}, {Text: "b", Unique: "u", Data: "2"}}, 0)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Equal(t, "u", markup.InlineKeyboard[1][0].Unique)
	require.Equal(t, "2", markup.InlineKeyboard[1][0].Data)
}

func TestGridEmpty(t *testing.T) {
	require.Empty(t, Grid(nil, 3).InlineKeyboard)
}

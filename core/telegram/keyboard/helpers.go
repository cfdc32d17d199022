// Package keyboard builds inline keyboards for dialog replies.
package keyboard

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
)

// Button is one inline button before layout.
type Button struct {
	Text   string
	Unique string
	Data   string
}

// Grid lays buttons out left to right, perRow to a row. perRow below one
// puts every button on its own row.
func Grid(buttons []Button, perRow int) *tele.ReplyMarkup {
	perRow = max(perRow, 1)
	markup := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, (len(buttons)+perRow-1)/perRow)
	for len(buttons) > 0 {
		n := min(perRow, len(buttons))
		row := make([]tele.InlineButton, n)
		for i, b := range buttons[:n] {
			row[i] = *markup.Data(b.Text, b.Unique, b.Data).Inline()
		}
		rows = append(rows, row)
		buttons = buttons[n:]
	}
	markup.InlineKeyboard = rows
	return markup
}

// Choices renders scenario buttons as an inline keyboard. Each value travels
// as callback payload and must fit callbacks.MaxDataLen.
func Choices(buttons []scenario.Button, perRow int) (*tele.ReplyMarkup, error) {
	out := make([]Button, len(buttons))
	for i, b := range buttons {
		if !callbacks.FitsData(callbacks.ChoiceUnique, b.Value) {
			return nil, fmt.Errorf("keyboard: button %q value exceeds %d bytes of callback data", b.Text, callbacks.MaxDataLen)
		}
		out[i] = Button{Text: b.Text, Unique: callbacks.ChoiceUnique, Data: b.Value}
	}
	return Grid(out, perRow), nil
}

// Package callbacks encodes and decodes the callback_data of inline buttons.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ChoiceUnique tags inline buttons produced from scenario buttons.
const ChoiceUnique = "dlg"

// MaxDataLen is the Bot API limit on callback_data, in bytes.
const MaxDataLen = 64

// ParseCallbackData decodes telebot's "\f<unique>|<payload>" form of raw
// callback data. Data without the leading \f is a bare payload.
func ParseCallbackData(cb *tele.Callback) (unique, payload string) {
	if cb == nil {
		return "", ""
	}
	rest, tagged := strings.CutPrefix(cb.Data, "\f")
	if !tagged {
		return "", cb.Data
	}
	unique, payload, _ = strings.Cut(rest, "|")
	return strings.TrimSpace(unique), payload
}

// Split returns the unique and payload of cb, using the fields telebot has
// already parsed when present.
func Split(cb *tele.Callback) (unique, payload string) {
	if cb != nil && cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	return ParseCallbackData(cb)
}

// CallbackKey returns the unique of the callback behind c.
func CallbackKey(c tele.Context) string {
	unique, _ := Split(c.Callback())
	return unique
}

// Payload returns the payload of cb.
func Payload(cb *tele.Callback) string {
	_, payload := Split(cb)
	return payload
}

// FitsData reports whether unique and payload encode within MaxDataLen.
func FitsData(unique, payload string) bool {
	return len(unique)+len(payload)+2 <= MaxDataLen
}

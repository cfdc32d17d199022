package callbacks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Data: "\fdlg|rf"})
	require.Equal(t, "dlg", key)
	require.Equal(t, "rf", payload)

	key, payload = ParseCallbackData(&tele.Callback{Data: "\fdlg|a|b"})
	require.Equal(t, "dlg", key)
	require.Equal(t, "a|b", payload)

	key, payload = ParseCallbackData(&tele.Callback{Data: "\fdlg"})
	require.Equal(t, "dlg", key)
	require.Empty(t, payload)

	key, payload = ParseCallbackData(&tele.Callback{Data: "plain"})
	require.Empty(t, key)
	require.Equal(t, "plain", payload)

	key, payload = ParseCallbackData(nil)
	require.Empty(t, key)
	require.Empty(t, payload)
}

func TestPayloadPrefersParsedFields(t *testing.T) {
	require.Equal(t, "cis", Payload(&tele.Callback{Unique: "dlg", Data: "cis"}))
	require.Equal(t, "cis", Payload(&tele.Callback{Data: "\fdlg|cis"}))
}

func TestFitsData(t *testing.T) {
	require.True(t, FitsData(ChoiceUnique, "rf"))
	require.False(t, FitsData(ChoiceUnique, strings.Repeat("x", 60)))
}

func TestSplit(t *testing.T) {
	key, payload := Split(&tele.Callback{Unique: "dlg", Data: "rf"})
	require.Equal(t, "dlg", key)
	require.Equal(t, "rf", payload)

	key, payload = Split(&tele.Callback{Data: "\f dlg |x"})
	require.Equal(t, "dlg", key)
	require.Equal(t, "x", payload)
}

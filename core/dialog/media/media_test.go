package media

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/core/dialog/platform/platformtest"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

var (
	okButtons = []scenario.Button{{Text: "OK", Value: "ok"}}
	photo     = scenario.MediaItem{Type: "photo", FileID: "P1", Description: "first"}
	video     = scenario.MediaItem{Type: "video", FileID: "V1", Description: "second"}
)

func TestSendTextOnly(t *testing.T) {
	rec := platformtest.New()
	res, err := New().Send(context.Background(), rec, "1", scenario.Message{Text: "hi"}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "1", res.MessageID)
	require.Equal(t, []string{"SendText"}, rec.Methods())
}

func TestSendTextWithButtons(t *testing.T) {
	rec := platformtest.New()
	_, err := New().Send(context.Background(), rec, "1", scenario.Message{Text: "pick"}, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendButtons"}, rec.Methods())
	require.Equal(t, okButtons, rec.Calls()[0].Buttons)
}

func TestSendSingleMediaCarriesButtons(t *testing.T) {
	rec := platformtest.New()
	msg := scenario.Message{Text: "look", Media: []scenario.MediaItem{photo}}
	_, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaWithButtons"}, rec.Methods())
	require.Equal(t, "look", rec.Calls()[0].Caption)
}

func TestSendSingleMediaWithoutCapabilitySplitsButtons(t *testing.T) {
	rec := platformtest.New()
	rec.Caps.MediaWithButtons = false
	msg := scenario.Message{Text: "look", Media: []scenario.MediaItem{photo}}
	_, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMedia", "SendButtons"}, rec.Methods())
}

func TestSendGroupOrder(t *testing.T) {
	rec := platformtest.New()
	msg := scenario.Message{Text: "album", Media: []scenario.MediaItem{photo, video}}
	res, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendText", "SendMediaGroup", "SendButtons"}, rec.Methods())

	group := rec.Calls()[1]
	require.Len(t, group.Items, 2)
	require.Empty(t, group.Buttons, "buttons never ride on a group")
	require.Len(t, res.MessageIDs, 4)
}

func TestSendGroupWithoutTextOrButtons(t *testing.T) {
	rec := platformtest.New()
	msg := scenario.Message{Media: []scenario.MediaItem{photo, video}}
	_, err := New().Send(context.Background(), rec, "1", msg, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaGroup"}, rec.Methods())
}

func TestSendGroupHonoursMaxGroupSize(t *testing.T) {
	rec := platformtest.New()
	rec.Caps.MaxGroupSize = 2
	msg := scenario.Message{Media: []scenario.MediaItem{photo, video, photo}}
	_, err := New().Send(context.Background(), rec, "1", msg, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaGroup", "SendMediaGroup"}, rec.Methods())
}

func TestInvalidMediaRejectedBeforeNetwork(t *testing.T) {
	rec := platformtest.New()
	msg := scenario.Message{Text: "x", Media: []scenario.MediaItem{{Type: "photo"}, {Type: "video"}}}
	_, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.ErrorIs(t, err, ErrNoValidMedia)
	require.Empty(t, rec.Calls())
}

func TestItemsWithoutFileIDAreDropped(t *testing.T) {
	rec := platformtest.New()
	msg := scenario.Message{Text: "x", Media: []scenario.MediaItem{{Type: "photo"}, photo}}
	_, err := New().Send(context.Background(), rec, "1", msg, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMedia"}, rec.Methods())
}

func TestEmptyMessage(t *testing.T) {
	_, err := New().Send(context.Background(), platformtest.New(), "1", scenario.Message{}, nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestGroupFailureFallsBackToFirstItem(t *testing.T) {
	rec := platformtest.New()
	rec.Fail("SendMediaGroup", 1)
	msg := scenario.Message{Media: []scenario.MediaItem{photo, video}}
	_, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaGroup", "SendMedia", "SendButtons"}, rec.Methods())
	require.Equal(t, "P1", rec.Calls()[1].Items[0].FileID)
}

func TestSingleMediaFallbackChain(t *testing.T) {
	rec := platformtest.New()
	rec.Fail("SendMediaWithButtons", -1)
	msg := scenario.Message{Text: "look", Media: []scenario.MediaItem{photo}}

	_, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaWithButtons", "SendButtons"}, rec.Methods())
	require.True(t, strings.HasPrefix(rec.Calls()[1].Text, MediaUnavailable))
	require.Contains(t, rec.Calls()[1].Text, "look")

	rec.Reset()
	rec.Fail("SendButtons", -1)
	_, err = New().Send(context.Background(), rec, "1", msg, okButtons)
	require.NoError(t, err)
	require.Equal(t, []string{"SendMediaWithButtons", "SendButtons", "SendText"}, rec.Methods())

	rec.Reset()
	rec.Fail("SendText", -1)
	res, err := New().Send(context.Background(), rec, "1", msg, okButtons)
	require.Error(t, err)
	require.False(t, res.Success)
	require.Len(t, rec.Calls(), 3, "each fallback is tried once")
}

func TestOverlongCaptionSentAsText(t *testing.T) {
	rec := platformtest.New()
	rec.Caps.MaxCaptionLength = 5
	msg := scenario.Message{Text: "a long caption", Media: []scenario.MediaItem{photo}}
	_, err := New().Send(context.Background(), rec, "1", msg, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"SendText", "SendMedia"}, rec.Methods())
	require.Empty(t, rec.Calls()[1].Caption)
}

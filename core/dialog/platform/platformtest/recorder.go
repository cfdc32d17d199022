// Package platformtest provides a recording platform.Adapter for tests.
package platformtest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

// ErrInjected is returned by calls configured to fail.
var ErrInjected = errors.New("platformtest: injected failure")

// Call is one recorded adapter invocation.
type Call struct {
	Method  string
	ChatID  string
	Text    string
	Caption string
	Buttons []scenario.Button
	Items   []scenario.MediaItem
}

// Recorder records every send and can fail chosen methods.
type Recorder struct {
	Caps platform.Capabilities

	mu    sync.Mutex
	calls []Call
	fail  map[string]int
	seq   int
}

// New returns a Recorder with Telegram-like capabilities.
func New() *Recorder {
	return &Recorder{
		Caps: platform.Capabilities{MediaWithButtons: true, MediaGroup: true, MaxCaptionLength: 1024, MaxGroupSize: 10},
		fail: map[string]int{},
	}
}

// Fail makes the next n calls of method return ErrInjected; n < 0 fails forever.
func (r *Recorder) Fail(method string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = n
}

// Calls returns a snapshot of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Methods returns the recorded method names in order.
func (r *Recorder) Methods() []string {
	calls := r.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}

// Texts returns the text or caption of each recorded call.
func (r *Recorder) Texts() []string {
	calls := r.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.Text != "" {
			out = append(out, c.Text)
		} else {
			out = append(out, c.Caption)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call, n int) (platform.SendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if left, ok := r.fail[c.Method]; ok && left != 0 {
		if left > 0 {
			r.fail[c.Method] = left - 1
		}
		return platform.SendResult{}, ErrInjected
	}
	res := platform.SendResult{Success: true}
	for i := 0; i < n; i++ {
		r.seq++
		id := strconv.Itoa(r.seq)
		if i == 0 {
			res.MessageID = id
			continue
		}
		res.MessageIDs = append(res.MessageIDs, id)
	}
	return res, nil
}

func (r *Recorder) Name() string { return "test" }

func (r *Recorder) Capabilities() platform.Capabilities { return r.Caps }

func (r *Recorder) SendText(_ context.Context, chatID, text string) (platform.SendResult, error) {
	return r.record(Call{Method: "SendText", ChatID: chatID, Text: text}, 1)
}

func (r *Recorder) SendButtons(_ context.Context, chatID, text string, buttons []scenario.Button) (platform.SendResult, error) {
	return r.record(Call{Method: "SendButtons", ChatID: chatID, Text: text, Buttons: buttons}, 1)
}

func (r *Recorder) SendMedia(_ context.Context, chatID string, item scenario.MediaItem, caption string) (platform.SendResult, error) {
	return r.record(Call{Method: "SendMedia", ChatID: chatID, Caption: caption, Items: []scenario.MediaItem{item}}, 1)
}

func (r *Recorder) SendMediaWithButtons(_ context.Context, chatID string, item scenario.MediaItem, caption string, buttons []scenario.Button) (platform.SendResult, error) {
	return r.record(Call{Method: "SendMediaWithButtons", ChatID: chatID, Caption: caption, Buttons: buttons, Items: []scenario.MediaItem{item}}, 1)
}

func (r *Recorder) SendMediaGroup(_ context.Context, chatID string, items []scenario.MediaItem, caption string) (platform.SendResult, error) {
	return r.record(Call{Method: "SendMediaGroup", ChatID: chatID, Caption: caption, Items: items}, len(items))
}

var _ platform.Adapter = (*Recorder)(nil)

package bot

import (
	telebot "gopkg.in/telebot.v3"
)

// fakeContext implements the parts of telebot.Context the router and middlewares touch.
type fakeContext struct {
	telebot.Context

	sender   *telebot.User
	message  *telebot.Message
	callback *telebot.Callback
	store    map[string]any

	sent      []any
	responded int
}

func newTextContext(senderID int64, text string) *fakeContext {
	return &fakeContext{
		sender:  &telebot.User{ID: senderID, FirstName: "Ann", LanguageCode: "ru"},
		message: &telebot.Message{ID: 1, Text: text, Chat: &telebot.Chat{ID: senderID}},
		store:   map[string]any{},
	}
}

func newCallbackContext(senderID int64, data string) *fakeContext {
	return &fakeContext{
		sender:   &telebot.User{ID: senderID},
		callback: &telebot.Callback{ID: "cb-1", Data: data},
		store:    map[string]any{},
	}
}

func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Message() *telebot.Message   { return f.message }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Get(key string) any          { return f.store[key] }
func (f *fakeContext) Set(key string, v any)       { f.store[key] = v }

func (f *fakeContext) Text() string {
	if f.message == nil {
		return ""
	}
	return f.message.Text
}

func (f *fakeContext) Send(what any, _ ...any) error {
	f.sent = append(f.sent, what)
	return nil
}

func (f *fakeContext) Respond(_ ...*telebot.CallbackResponse) error {
	f.responded++
	return nil
}

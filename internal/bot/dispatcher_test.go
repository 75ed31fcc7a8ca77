package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/state"
)

func TestDispatcherStoresResolvedState(t *testing.T) {
	current := &state.UserState{UserID: 7, CurrentState: state.StateAvatarUploading}
	fsm := &fsmMock{}
	fsm.On("Current", mock.Anything, int64(7)).Return(current, nil).Once()

	d := NewDispatcher(fsm, discardLogger())
	d.RegisterStateHandler(state.StateAvatarUploading, func(telebot.Context) error { return nil })

	c := newTextContext(7, "")
	c.message.Photo = &telebot.Photo{}

	h, err := d.Resolve(c)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Same(t, current, c.Get("fsm_state"))
	fsm.AssertExpectations(t)
}

func TestDispatcherIgnoresStatesWithoutInput(t *testing.T) {
	fsm := &fsmMock{}
	fsm.On("Current", mock.Anything, int64(7)).Return(&state.UserState{CurrentState: state.StateIdle}, nil)

	d := NewDispatcher(fsm, discardLogger())
	c := newTextContext(7, "hello")

	h, err := d.Resolve(c)
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Nil(t, c.Get("fsm_state"))
}

func TestDispatcherPropagatesStorageErrors(t *testing.T) {
	fsm := &fsmMock{}
	fsm.On("Current", mock.Anything, int64(7)).Return(nil, errors.New("redis down"))

	_, err := NewDispatcher(fsm, discardLogger()).Resolve(newTextContext(7, "hello"))
	assert.EqualError(t, err, "redis down")
}

func TestInputKind(t *testing.T) {
	assert.Equal(t, "none", inputKind(nil))
	assert.Equal(t, "photo", inputKind(&telebot.Message{Photo: &telebot.Photo{}}))
	assert.Equal(t, "document", inputKind(&telebot.Message{Document: &telebot.Document{}}))
	assert.Equal(t, "text", inputKind(&telebot.Message{Text: "hi"}))
	assert.Equal(t, "other", inputKind(&telebot.Message{}))
}

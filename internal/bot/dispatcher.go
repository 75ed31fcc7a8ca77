package bot

import (
	"context"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/handlers"
	"github.com/Proton-105/photostudio/internal/state"
)

// Dispatcher sends free-form input (text, photos, documents) to the step the
// user is currently in. Commands and callbacks never reach it.
type Dispatcher struct {
	fsm state.StateMachine
	log *slog.Logger

	mu    sync.RWMutex
	steps map[state.State]handlers.Handler
}

func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		fsm:   fsm,
		log:   log,
		steps: make(map[state.State]handlers.Handler),
	}
}

// RegisterStateHandler binds h to the input step s. A later call for the same
// state replaces the earlier handler.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.mu.Lock()
	d.steps[s] = h
	d.mu.Unlock()
}

// Resolve loads the sender's state, stores it on c for the step handler and
// returns that handler. It returns nil when the state takes no input.
func (d *Dispatcher) Resolve(c telebot.Context) (handlers.Handler, error) {
	if c == nil || c.Sender() == nil {
		d.log.Warn("dispatch skipped: update has no sender")
		return nil, nil
	}
	telegramID := c.Sender().ID

	current, err := d.fsm.Current(context.Background(), telegramID)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	step := d.steps[current.CurrentState]
	d.mu.RUnlock()

	if step == nil {
		d.log.Debug("input outside of any step",
			slog.Int64("telegram_id", telegramID),
			slog.String("state", string(current.CurrentState)),
			slog.String("kind", inputKind(c.Message())),
		)
		return nil, nil
	}

	handlers.SetCurrentState(c, current)
	return step, nil
}

func inputKind(m *telebot.Message) string {
	switch {
	case m == nil:
		return "none"
	case m.Photo != nil:
		return "photo"
	case m.Document != nil:
		return "document"
	case m.Text != "":
		return "text"
	default:
		return "other"
	}
}

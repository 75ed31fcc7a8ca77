package handlers

import (
	telebot "gopkg.in/telebot.v3"
)

// Handler processes a routed update.
type Handler func(c telebot.Context) error

// CallbackHandler processes an inline button press. The router has already
// matched its unique name, so the handler only reads the payload.
type CallbackHandler func(c telebot.Context) error

type Middleware func(Handler) Handler

// Chain wraps h so that the first middleware runs outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	if h == nil {
		return nil
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}

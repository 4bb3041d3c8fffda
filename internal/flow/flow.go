// Package flow defines the contract between the router and the
// conversation handlers. Handlers receive a Context carrying the
// inbound text, the resolved user and session, and the outbound
// sender; they mutate the session state and reply through the sender.
package flow

import (
	"context"

	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
)

// Sender delivers outbound messages to a chat identity. Implementations
// report delivery acceptance, not end-to-end receipt.
type Sender interface {
	SendText(ctx context.Context, identity, text string) bool
	SendImage(ctx context.Context, identity, path, caption string) bool
	SendDocument(ctx context.Context, identity, path, fileName, caption string) bool
	SendLocation(ctx context.Context, identity string, lat, long float64) bool
}

// Context is the per-message envelope handed to handlers.
type Context struct {
	Ctx  context.Context
	Text string // trimmed inbound text

	User    *store.User
	Session *session.Session

	Stores *store.Stores
	Menus  *menu.Registry
	Sender Sender
}

// Reply sends a text to the current conversation.
func (fc *Context) Reply(text string) bool {
	return fc.Sender.SendText(fc.Ctx, fc.Session.Identity, text)
}

// CustomText resolves a text template with a built-in fallback.
func (fc *Context) CustomText(key, fallback string) string {
	return store.CustomText(fc.Ctx, fc.Stores.Settings, key, fallback)
}

// ShowMenu renders a menu, sends it, and moves the session into the
// matching menu state.
func (fc *Context) ShowMenu(key string) {
	fc.Reply(fc.Menus.Render(key))
	fc.Session.State = "menu_" + key
}

// Handler processes one inbound message for a session state.
type Handler interface {
	Handle(fc *Context) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(fc *Context) error

func (f HandlerFunc) Handle(fc *Context) error { return f(fc) }

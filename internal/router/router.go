// Package router dispatches inbound chat events to the conversation
// flows. One logical consumer feeds it in arrival order; a per-identity
// latch keeps sweep-initiated sends from interleaving with a message in
// flight for the same contact.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/bus"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/handlers"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
)

// Router routes one inbound message at a time per contact.
type Router struct {
	Stores   *store.Stores
	Sessions *session.Registry
	Menus    *menu.Registry
	Sender   flow.Sender
	Handoff  *agenthandoff.Service

	States  map[string]flow.Handler
	Actions map[string]handlers.Action

	mu      sync.Mutex
	latches map[string]*sync.Mutex
}

// New wires a Router from its collaborators.
func New(stores *store.Stores, sessions *session.Registry, menus *menu.Registry,
	sender flow.Sender, handoff *agenthandoff.Service, h *handlers.Handlers) *Router {
	return &Router{
		Stores:   stores,
		Sessions: sessions,
		Menus:    menus,
		Sender:   sender,
		Handoff:  handoff,
		States:   h.States(),
		Actions:  h.Actions(),
		latches:  map[string]*sync.Mutex{},
	}
}

// Run consumes the inbound side of the bus until the context ends.
func (r *Router) Run(ctx context.Context, b *bus.MessageBus) {
	for {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			return
		}
		r.Dispatch(ctx, msg)
	}
}

func (r *Router) latch(identity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.latches[identity]
	if !ok {
		l = &sync.Mutex{}
		r.latches[identity] = l
	}
	return l
}

// Dispatch processes one inbound message to completion.
func (r *Router) Dispatch(ctx context.Context, msg bus.InboundMessage) {
	l := r.latch(msg.Identity)
	l.Lock()
	defer l.Unlock()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// Operator commands never create customer sessions.
	if strings.HasPrefix(text, "/") && r.Handoff.IsOperator(msg.Identity) {
		handled, err := r.Handoff.HandleOperatorCommand(ctx, msg.Identity, text)
		if err != nil {
			slog.Error("operator command failed", "operator", msg.Identity, "error", err)
		}
		if handled {
			return
		}
	}

	user, err := r.Stores.Users.GetOrCreate(ctx, msg.Identity)
	if err != nil {
		slog.Error("user resolve failed", "identity", msg.Identity, "error", err)
		r.Sender.SendText(ctx, msg.Identity,
			"Desculpe, estamos com uma instabilidade no momento. Por favor, tente novamente em alguns instantes.")
		return
	}

	if err := r.Stores.Messages.Save(ctx, user.ID, store.DirIncoming, text); err != nil {
		slog.Warn("inbound history save failed", "identity", msg.Identity, "error", err)
	}

	sess, err := r.Sessions.Resolve(ctx, msg.Identity, user.ID)
	if err != nil {
		slog.Error("session resolve failed", "identity", msg.Identity, "error", err)
		r.Sender.SendText(ctx, msg.Identity,
			"Desculpe, estamos com uma instabilidade no momento. Por favor, tente novamente em alguns instantes.")
		return
	}

	fc := &flow.Context{
		Ctx:     ctx,
		Text:    text,
		User:    user,
		Session: sess,
		Stores:  r.Stores,
		Menus:   r.Menus,
		Sender:  r.Sender,
	}

	r.route(fc)

	if err := r.Sessions.Persist(ctx, sess); err != nil {
		slog.Warn("session persist after dispatch failed", "identity", msg.Identity, "error", err)
	}
}

// route runs the handler chain. Any panic or handler error forces the
// session back to the root menu; the conversation is never left
// without a valid next state.
func (r *Router) route(fc *flow.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "identity", fc.Session.Identity,
				"state", fc.Session.State, "panic", rec)
			r.recoverToMain(fc)
		}
	}()
	if err := r.dispatchState(fc); err != nil {
		slog.Error("handler failed", "identity", fc.Session.Identity,
			"state", fc.Session.State, "error", err)
		r.recoverToMain(fc)
	}
}

func (r *Router) recoverToMain(fc *flow.Context) {
	fc.Reply("Desculpe, tivemos um problema ao processar sua mensagem.")
	fc.ShowMenu("main")
}

func (r *Router) dispatchState(fc *flow.Context) error {
	// Global command: works in every state.
	if strings.EqualFold(fc.Text, "/menu") {
		fc.ShowMenu("main")
		return nil
	}

	// Bridged conversations bypass all menu logic.
	if fc.Session.State == "chat" || fc.Session.WithAgent {
		handled, err := r.Handoff.RelayToAgent(fc)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	if h, ok := r.States[fc.Session.State]; ok {
		return h.Handle(fc)
	}

	if key, ok := strings.CutPrefix(fc.Session.State, "menu_"); ok {
		return r.handleMenuSelection(fc, key)
	}

	// Corrupted or unknown state: the single fallback of last resort.
	slog.Warn("unknown session state, resetting", "identity", fc.Session.Identity,
		"state", fc.Session.State)
	fc.ShowMenu("main")
	return nil
}

func (r *Router) handleMenuSelection(fc *flow.Context, key string) error {
	if strings.EqualFold(fc.Text, "menu") {
		fc.Reply(fc.Menus.Render(key))
		return nil
	}

	selection, err := strconv.Atoi(fc.Text)
	if err != nil {
		fc.Reply(fc.CustomText("invalid_option",
			"Opção inválida. Por favor, digite o número da opção desejada:"))
		return nil
	}

	m, ok := r.Menus.Get(key)
	if !ok {
		slog.Warn("menu not found, resetting to main", "menu", key)
		fc.ShowMenu("main")
		return nil
	}

	opt := m.Option(selection)
	if opt == nil {
		fc.Reply(fc.CustomText("invalid_option",
			"Opção inválida. Por favor, selecione uma opção válida:"))
		return nil
	}

	if err := r.Stores.Users.SaveLastChoice(fc.Ctx, fc.User.ID, key, selection); err != nil {
		slog.Warn("last choice save failed", "identity", fc.Session.Identity, "error", err)
	}

	if opt.Handler != "" {
		if action, ok := r.Actions[opt.Handler]; ok {
			return action(fc, opt)
		}
		slog.Warn("unknown option handler", "handler", opt.Handler, "menu", key)
	}
	if opt.NextMenu != "" {
		fc.ShowMenu(opt.NextMenu)
		return nil
	}

	fc.Reply("Você selecionou: " + opt.Title)
	return nil
}

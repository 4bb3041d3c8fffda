// Package menu holds the assembled conversation menus. Menus live in
// the durable store but are served from an in-memory snapshot that is
// swapped atomically on reload, so the hot path never touches the
// database.
package menu

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/suporttech/zapdesk/internal/store"
)

// Essential menu keys. A registry always serves these, falling back to
// the built-in defaults when the store is missing one.
var essential = []string{"main", "support", "financial", "schedule"}

// Option is one selectable entry of a menu. Exactly one of NextMenu or
// Handler is meaningful; AgentPhone and ConfigKey parameterize handlers
// that route to an operator.
type Option struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	NextMenu   string `json:"next_menu,omitempty"`
	Handler    string `json:"handler,omitempty"`
	AgentPhone string `json:"agent_phone,omitempty"`
	ConfigKey  string `json:"config_key,omitempty"`
}

// Menu is an assembled menu with its options sorted by ID.
type Menu struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Options []Option `json:"options"`
}

// Option returns the option with the given ID, or nil.
func (m *Menu) Option(id int) *Option {
	for i := range m.Options {
		if m.Options[i].ID == id {
			return &m.Options[i]
		}
	}
	return nil
}

// Registry serves the menu snapshot.
type Registry struct {
	store store.MenuStore

	mu    sync.RWMutex
	menus map[string]*Menu
}

func NewRegistry(st store.MenuStore) *Registry {
	return &Registry{store: st, menus: map[string]*Menu{}}
}

// Load rebuilds the snapshot from the store and swaps it in. On store
// failure or an empty store the built-in defaults are served; a failed
// reload never leaves the registry without the essential menus.
func (r *Registry) Load(ctx context.Context) error {
	rows, optRows, err := r.store.LoadAll(ctx)
	if err != nil || len(rows) == 0 {
		if err != nil {
			slog.Error("menu load failed, serving defaults", "error", err)
		} else {
			slog.Warn("no menus in store, serving defaults")
		}
		r.swap(Defaults())
		return err
	}

	byID := map[int64]*Menu{}
	next := make(map[string]*Menu, len(rows))
	for _, row := range rows {
		m := &Menu{Key: row.Key, Title: row.Title, Message: row.Message}
		byID[row.ID] = m
		next[row.Key] = m
	}
	for _, o := range optRows {
		m, ok := byID[o.MenuID]
		if !ok {
			continue
		}
		m.Options = append(m.Options, Option{
			ID:         o.OptionID,
			Title:      o.Title,
			NextMenu:   o.NextMenu,
			Handler:    o.Handler,
			AgentPhone: o.AgentPhone,
			ConfigKey:  o.ConfigKey,
		})
	}
	for _, m := range next {
		sort.Slice(m.Options, func(i, j int) bool { return m.Options[i].ID < m.Options[j].ID })
	}

	// Fill in any missing essential menu from the defaults.
	defaults := Defaults()
	for _, key := range essential {
		if _, ok := next[key]; !ok {
			next[key] = defaults[key]
			slog.Warn("essential menu missing from store, using default", "menu", key)
		}
	}

	r.swap(next)
	slog.Info("menus loaded", "count", len(next))
	return nil
}

func (r *Registry) swap(menus map[string]*Menu) {
	r.mu.Lock()
	r.menus = menus
	r.mu.Unlock()
}

// Get returns a menu by key.
func (r *Registry) Get(key string) (*Menu, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.menus[key]
	return m, ok
}

// All returns the current snapshot keyed by menu key.
func (r *Registry) All() map[string]*Menu {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Menu, len(r.menus))
	for k, v := range r.menus {
		out[k] = v
	}
	return out
}

// Save persists a menu and refreshes the snapshot.
func (r *Registry) Save(ctx context.Context, m *Menu) error {
	row := store.MenuRow{Key: m.Key, Title: m.Title, Message: m.Message}
	opts := make([]store.MenuOptionRow, 0, len(m.Options))
	for _, o := range m.Options {
		opts = append(opts, store.MenuOptionRow{
			OptionID:   o.ID,
			Title:      o.Title,
			NextMenu:   o.NextMenu,
			Handler:    o.Handler,
			AgentPhone: o.AgentPhone,
			ConfigKey:  o.ConfigKey,
		})
	}
	if err := r.store.Save(ctx, row, opts); err != nil {
		return err
	}
	return r.Load(ctx)
}

// Render formats a menu for the chat surface.
func (r *Registry) Render(key string) string {
	m, ok := r.Get(key)
	if !ok {
		m = Defaults()["main"]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s\n\n", m.Title, m.Message)
	for _, o := range m.Options {
		fmt.Fprintf(&b, "*%d.* %s\n", o.ID, o.Title)
	}
	b.WriteString("\nDigite o número da opção:")
	return b.String()
}

// Defaults returns the built-in fallback menu set.
func Defaults() map[string]*Menu {
	return map[string]*Menu{
		"main": {
			Key:     "main",
			Title:   "Menu Principal",
			Message: "Em que podemos lhe ajudar hoje?",
			Options: []Option{
				{ID: 1, Title: "Suporte Técnico", NextMenu: "support"},
				{ID: 2, Title: "Comercial", Handler: "forward", ConfigKey: "commercial_agent"},
				{ID: 3, Title: "Financeiro", NextMenu: "financial"},
				{ID: 4, Title: "Agendar visita técnica", Handler: "startScheduling"},
			},
		},
		"support": {
			Key:     "support",
			Title:   "Suporte Técnico",
			Message: "Selecione o tipo de suporte:",
			Options: []Option{
				{ID: 0, Title: "Voltar", NextMenu: "main"},
				{ID: 1, Title: "Problema com internet", Handler: "forward", ConfigKey: "support_agent"},
				{ID: 2, Title: "Problema com equipamento", Handler: "forward", ConfigKey: "support_agent"},
				{ID: 3, Title: "Outros problemas", Handler: "forward", ConfigKey: "support_agent"},
			},
		},
		"financial": {
			Key:     "financial",
			Title:   "Financeiro",
			Message: "Selecione uma opção:",
			Options: []Option{
				{ID: 0, Title: "Voltar", NextMenu: "main"},
				{ID: 1, Title: "2ª via de boleto", Handler: "listInvoices"},
				{ID: 2, Title: "Chave PIX", Handler: "sendPixKey"},
				{ID: 3, Title: "Falar com financeiro", Handler: "forward", ConfigKey: "financial_agent"},
			},
		},
		"schedule": {
			Key:     "schedule",
			Title:   "Agendamento",
			Message: "Selecione o tipo de serviço:",
			Options: []Option{
				{ID: 0, Title: "Voltar", NextMenu: "main"},
				{ID: 1, Title: "Instalação", Handler: "scheduleService"},
				{ID: 2, Title: "Manutenção", Handler: "scheduleService"},
				{ID: 3, Title: "Mudança de endereço", Handler: "scheduleService"},
			},
		},
	}
}

package menu

import (
	"context"
	"strings"
	"testing"

	"github.com/suporttech/zapdesk/internal/store"
	"github.com/suporttech/zapdesk/internal/store/storetest"
)

func TestLoadEmptyStoreServesDefaults(t *testing.T) {
	stores, _ := storetest.New()
	r := NewRegistry(stores.Menus)

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, key := range []string{"main", "support", "financial", "schedule"} {
		if _, ok := r.Get(key); !ok {
			t.Errorf("default menu %q missing", key)
		}
	}
}

func TestLoadStoreFailureServesDefaults(t *testing.T) {
	stores, f := storetest.New()
	f.Fail = true
	r := NewRegistry(stores.Menus)

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if _, ok := r.Get("main"); !ok {
		t.Error("main menu should fall back to defaults on store failure")
	}
}

func TestLoadFillsMissingEssentialMenus(t *testing.T) {
	stores, f := storetest.New()
	f.MenuRows = []store.MenuRow{{ID: 1, Key: "main", Title: "Custom", Message: "custom body"}}
	f.OptionRows = []store.MenuOptionRow{
		{ID: 1, MenuID: 1, OptionID: 1, Title: "Opção A", NextMenu: "support"},
	}

	r := NewRegistry(stores.Menus)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m, ok := r.Get("main")
	if !ok {
		t.Fatal("main menu missing")
	}
	if m.Title != "Custom" {
		t.Errorf("stored main menu should win, got title %q", m.Title)
	}
	// support/financial/schedule were absent from the store.
	for _, key := range []string{"support", "financial", "schedule"} {
		if _, ok := r.Get(key); !ok {
			t.Errorf("essential menu %q not backfilled", key)
		}
	}
}

func TestRenderFormat(t *testing.T) {
	r := NewRegistry(nil)
	r.swap(map[string]*Menu{
		"main": {
			Key:     "main",
			Title:   "Menu Principal",
			Message: "Como podemos ajudar?",
			Options: []Option{
				{ID: 1, Title: "Suporte"},
				{ID: 2, Title: "Financeiro"},
			},
		},
	})

	got := r.Render("main")
	want := "*Menu Principal*\nComo podemos ajudar?\n\n*1.* Suporte\n*2.* Financeiro\n\nDigite o número da opção:"
	if got != want {
		t.Errorf("Render mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestRenderUnknownMenuFallsBackToMain(t *testing.T) {
	r := NewRegistry(nil)
	r.swap(map[string]*Menu{})
	got := r.Render("nope")
	if !strings.Contains(got, "*Menu Principal*") {
		t.Errorf("Render(unknown) should fall back to default main, got %q", got)
	}
}

func TestSavePersistsAndReloads(t *testing.T) {
	stores, f := storetest.New()
	r := NewRegistry(stores.Menus)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := &Menu{
		Key:     "promo",
		Title:   "Promoções",
		Message: "Ofertas do mês",
		Options: []Option{{ID: 1, Title: "Ver ofertas", NextMenu: "main"}},
	}
	if err := r.Save(context.Background(), m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := r.Get("promo")
	if !ok {
		t.Fatal("saved menu not visible after reload")
	}
	if got.Title != "Promoções" || len(got.Options) != 1 {
		t.Errorf("unexpected reloaded menu: %+v", got)
	}

	found := false
	for _, row := range f.MenuRows {
		if row.Key == "promo" {
			found = true
		}
	}
	if !found {
		t.Error("menu row not persisted")
	}
}

func TestDefaultsOptionsSorted(t *testing.T) {
	for key, m := range Defaults() {
		for i := 1; i < len(m.Options); i++ {
			if m.Options[i-1].ID >= m.Options[i].ID {
				t.Errorf("menu %q options not sorted by id", key)
			}
		}
	}
}

func TestDefaultMainMenuOptions(t *testing.T) {
	m := Defaults()["main"]
	if m == nil {
		t.Fatal("no default main menu")
	}
	if !strings.Contains(m.Title, "Menu") {
		t.Errorf("unexpected main title %q", m.Title)
	}
	var handlers []string
	for _, o := range m.Options {
		if o.Handler != "" {
			handlers = append(handlers, o.Handler)
		}
	}
	if len(handlers) == 0 {
		t.Error("main menu should carry at least one handler option")
	}
}

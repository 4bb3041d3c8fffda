package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
	"github.com/suporttech/zapdesk/internal/store/storetest"
)

type fakeSender struct {
	texts  map[string][]string
	docs   map[string][]string
	images map[string][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		texts:  map[string][]string{},
		docs:   map[string][]string{},
		images: map[string][]string{},
	}
}

func (f *fakeSender) SendText(ctx context.Context, identity, text string) bool {
	f.texts[identity] = append(f.texts[identity], text)
	return true
}

func (f *fakeSender) SendImage(ctx context.Context, identity, path, caption string) bool {
	f.images[identity] = append(f.images[identity], path)
	return true
}

func (f *fakeSender) SendDocument(ctx context.Context, identity, path, fileName, caption string) bool {
	f.docs[identity] = append(f.docs[identity], fileName)
	return true
}

func (f *fakeSender) SendLocation(ctx context.Context, identity string, lat, long float64) bool {
	return true
}

func (f *fakeSender) last(identity string) string {
	msgs := f.texts[identity]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// workday pins the clock inside business hours (Wed 10:00) so forwards
// in detour paths do not trip the off-hours branch.
func workday() time.Time {
	return time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
}

type env struct {
	h       *Handlers
	stores  *store.Stores
	fixture *storetest.Fixture
	sender  *fakeSender
	menus   *menu.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	stores, f := storetest.New()
	menus := menu.NewRegistry(stores.Menus)
	if err := menus.Load(context.Background()); err != nil {
		t.Fatalf("menus: %v", err)
	}
	sender := newFakeSender()
	sessions := session.NewRegistry(stores.Sessions)
	handoff := &agenthandoff.Service{
		Queues:   agenthandoff.NewQueues(),
		Sessions: sessions,
		Stores:   stores,
		Menus:    menus,
		Sender:   sender,
		Agents:   config.AgentsConfig{},
		Now:      workday,
	}
	h := &Handlers{
		Sessions: sessions,
		Handoff:  handoff,
		Planner: &StorePlanner{
			Schedulings: stores.Schedulings,
			Settings:    stores.Settings,
			Now:         workday,
		},
		Files: config.FilesConfig{TermsPath: "/nonexistent/termos.pdf", InvoicesDir: "/nonexistent"},
	}
	handoff.StartRating = h.StartRating
	return &env{h: h, stores: stores, fixture: f, sender: sender, menus: menus}
}

func (e *env) flowFor(t *testing.T, phone, name string) *flow.Context {
	t.Helper()
	u := e.fixture.SeedUser(phone, name)
	s, err := e.h.Sessions.Resolve(context.Background(), phone, u.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return &flow.Context{
		Ctx:     context.Background(),
		User:    u,
		Session: s,
		Stores:  e.stores,
		Menus:   e.menus,
		Sender:  e.sender,
	}
}

func (e *env) step(t *testing.T, fc *flow.Context, text string) {
	t.Helper()
	fc.Text = text
	h, ok := e.h.States()[fc.Session.State]
	if !ok {
		t.Fatalf("no handler for state %q", fc.Session.State)
	}
	if err := h.Handle(fc); err != nil {
		t.Fatalf("state %q with %q: %v", fc.Session.State, text, err)
	}
}

// --- Registration ---

func TestRegistrationFullFlow(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "")

	if err := e.h.StartRegistration(fc); err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	if fc.Session.State != "await_name" {
		t.Fatalf("state = %q", fc.Session.State)
	}

	e.step(t, fc, "Ana Souza")
	if fc.User.Name != "Ana Souza" || fc.Session.State != "await_address" {
		t.Fatalf("after name: user=%q state=%q", fc.User.Name, fc.Session.State)
	}

	e.step(t, fc, "Rua das Flores, 123")
	if fc.Session.State != "await_complement" {
		t.Fatalf("after address: state=%q", fc.Session.State)
	}

	e.step(t, fc, "Apto 42")
	if fc.Session.State != "await_email" {
		t.Fatalf("after complement: state=%q", fc.Session.State)
	}

	e.step(t, fc, "Ana.Souza@Example.COM")
	if fc.User.Email != "ana.souza@example.com" {
		t.Errorf("email not lowercased: %q", fc.User.Email)
	}
	// No terms file on disk: the simplified terms go out as text.
	if fc.Session.State != "await_terms_acceptance" {
		t.Fatalf("after email: state=%q", fc.Session.State)
	}
	if !strings.Contains(e.sender.last(fc.Session.Identity), "Eu aceito") {
		t.Errorf("terms prompt = %q", e.sender.last(fc.Session.Identity))
	}

	e.step(t, fc, "1")
	if fc.Session.State != "menu_main" {
		t.Fatalf("after acceptance: state=%q", fc.Session.State)
	}
	// The acceptance is recorded in the history.
	found := false
	for _, m := range e.fixture.MessageRows {
		if strings.Contains(m.Body, "[LGPD] Cliente aceitou") {
			found = true
		}
	}
	if !found {
		t.Error("LGPD acceptance not saved to history")
	}
}

func TestRegistrationRejectsShortName(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "")
	fc.Session.State = "await_name"

	e.step(t, fc, "Jo")
	if fc.Session.State != "await_name" {
		t.Errorf("short name must re-prompt, state=%q", fc.Session.State)
	}
	if fc.User.Name != "" {
		t.Errorf("short name saved: %q", fc.User.Name)
	}
}

func TestRegistrationRejectsInvalidEmail(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_email"

	for _, bad := range []string{"not-an-email", "a@b", "a b@c.com", "@x.com"} {
		e.step(t, fc, bad)
		if fc.Session.State != "await_email" {
			t.Errorf("%q accepted, state=%q", bad, fc.Session.State)
		}
	}
}

func TestTermsRefusalWithoutAgentFinishes(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_terms_acceptance"

	e.step(t, fc, "2")
	if fc.Session.State != session.StateFinished {
		t.Errorf("state = %q, want finished", fc.Session.State)
	}
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "não podemos prosseguir") {
		t.Errorf("refusal text = %q", got)
	}
}

func TestTermsRefusalForwardsToConfiguredAgent(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedSetting("lgpd_agent", "5511999990001")
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_terms_acceptance"

	e.step(t, fc, "2")
	if !fc.Session.WithAgent {
		t.Error("refusal with configured agent should hand off")
	}
	notif := e.sender.last("5511999990001")
	if !strings.Contains(notif, "recusou termos LGPD") {
		t.Errorf("operator notification = %q", notif)
	}
}

func TestTermsInvalidChoiceReprompts(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_terms_acceptance"

	e.step(t, fc, "sim")
	if fc.Session.State != "await_terms_acceptance" {
		t.Errorf("state = %q, want unchanged", fc.Session.State)
	}
}

// --- Scheduling ---

func TestStartSchedulingDetoursOnIncompleteProfile(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana") // no address, no email

	if err := e.h.StartScheduling(fc); err != nil {
		t.Fatalf("StartScheduling: %v", err)
	}
	if fc.Session.State != "await_address" {
		t.Fatalf("state = %q, want await_address", fc.Session.State)
	}
	if fc.Session.Data.ReturnState != "scheduling" {
		t.Fatal("detour must record the return flow")
	}

	// Address then email, then the scheduling resumes: the complement
	// step is skipped on the detour.
	e.step(t, fc, "Rua das Flores, 123")
	if fc.Session.State != "await_email" {
		t.Fatalf("detour should skip complement, state=%q", fc.Session.State)
	}
	e.step(t, fc, "ana@example.com")
	if fc.Session.State != "schedule_service" {
		t.Fatalf("scheduling not resumed, state=%q", fc.Session.State)
	}
	if fc.Session.Data.ReturnState != "" {
		t.Error("return flag not cleared")
	}
}

func TestSchedulingFullFlow(t *testing.T) {
	e := newEnv(t)
	u := e.fixture.SeedUser("5511888880001", "Ana")
	u.Address = "Rua das Flores, 123"
	u.Email = "ana@example.com"
	s, err := e.h.Sessions.Resolve(context.Background(), u.Phone, u.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fc := &flow.Context{Ctx: context.Background(), User: u, Session: s,
		Stores: e.stores, Menus: e.menus, Sender: e.sender}

	if err := e.h.StartScheduling(fc); err != nil {
		t.Fatalf("StartScheduling: %v", err)
	}
	if fc.Session.State != "schedule_service" {
		t.Fatalf("state = %q", fc.Session.State)
	}

	e.step(t, fc, "2") // Manutenção
	if fc.Session.Data.ServiceType != "Manutenção" || fc.Session.State != "schedule_desc" {
		t.Fatalf("after service: type=%q state=%q", fc.Session.Data.ServiceType, fc.Session.State)
	}

	e.step(t, fc, "Roteador reiniciando sozinho")
	if fc.Session.State != "schedule_date" {
		t.Fatalf("after description: state=%q", fc.Session.State)
	}
	if len(fc.Session.Data.Slots) == 0 {
		t.Fatal("no slots offered")
	}

	e.step(t, fc, "1")
	if fc.Session.State != "schedule_confirm" {
		t.Fatalf("after date: state=%q", fc.Session.State)
	}
	confirm := e.sender.last(fc.Session.Identity)
	if !strings.Contains(confirm, "Manutenção") || !strings.Contains(confirm, "R$ 150,00") {
		t.Errorf("confirmation = %q", confirm)
	}

	e.step(t, fc, "1")
	if fc.Session.State != "menu_main" {
		t.Fatalf("after confirm: state=%q", fc.Session.State)
	}
	if len(e.fixture.Schedulings) != 1 {
		t.Fatalf("got %d schedulings, want 1", len(e.fixture.Schedulings))
	}
	sch := e.fixture.Schedulings[0]
	if sch.Status != store.SchedulingConfirmed || sch.EventID == "" {
		t.Errorf("scheduling = %+v", sch)
	}
	if fc.Session.Data.AppointmentID != sch.ID {
		t.Error("appointment id not kept in flow data")
	}
}

func TestScheduleServiceBackOption(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "schedule_service"

	e.step(t, fc, "0")
	if fc.Session.State != "menu_main" {
		t.Errorf("Voltar should return to main, state=%q", fc.Session.State)
	}
}

func TestScheduleConfirmationReschedule(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "schedule_confirm"
	fc.Session.Data.Selected = workday().AddDate(0, 0, 1)

	e.step(t, fc, "2")
	if fc.Session.State != "schedule_desc" {
		t.Errorf("state = %q, want schedule_desc", fc.Session.State)
	}
	if len(e.fixture.Schedulings) != 0 {
		t.Error("reschedule must not persist an appointment")
	}
}

func TestNoSlotsForwardsToSchedulingAgent(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedSetting("scheduling_agent", "5511999990002")
	e.h.Planner = &StorePlanner{
		Schedulings: e.stores.Schedulings,
		Settings:    e.stores.Settings,
		Now:         workday,
		Days:        0,
		MaxSlots:    1,
	}
	// Saturate the horizon so no slot survives.
	now := workday()
	for d := 1; d <= 14; d++ {
		day := now.AddDate(0, 0, d)
		for _, h := range defaultVisitHours {
			e.stores.Schedulings.Save(context.Background(), store.Scheduling{
				UserID:      1,
				ServiceType: "Instalação",
				Date:        time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location()),
				Status:      store.SchedulingConfirmed,
			})
		}
	}

	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "schedule_desc"
	e.step(t, fc, "Sem sinal")

	if !fc.Session.WithAgent {
		t.Error("no-slot path should hand off to the scheduling agent")
	}
}

// --- Planner ---

func TestPlannerSkipsWeekendsAndTakenSlots(t *testing.T) {
	stores, _ := storetest.New()
	// Friday 16:00: the next working day is Monday.
	friday := time.Date(2026, 3, 6, 16, 0, 0, 0, time.Local)
	p := &StorePlanner{
		Schedulings: stores.Schedulings,
		Settings:    stores.Settings,
		Now:         func() time.Time { return friday },
	}

	monday9 := time.Date(2026, 3, 9, 9, 0, 0, 0, time.Local)
	stores.Schedulings.Save(context.Background(), store.Scheduling{
		UserID: 1, ServiceType: "Instalação", Date: monday9, Status: store.SchedulingConfirmed,
	})

	slots, err := p.AvailableSlots(context.Background(), "Manutenção")
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("no slots")
	}
	for _, s := range slots {
		if wd := s.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("weekend slot offered: %s", s)
		}
		if s.Equal(monday9) {
			t.Errorf("taken slot offered: %s", s)
		}
	}
	if !slots[0].Equal(time.Date(2026, 3, 9, 10, 0, 0, 0, time.Local)) {
		t.Errorf("first slot = %s, want Monday 10:00", slots[0])
	}
}

func TestPlannerCustomHours(t *testing.T) {
	stores, f := storetest.New()
	f.SeedSetting("visit_slot_hours", "8, 18")
	p := &StorePlanner{
		Schedulings: stores.Schedulings,
		Settings:    stores.Settings,
		Now:         workday,
		Days:        1,
		MaxSlots:    2,
	}

	slots, err := p.AvailableSlots(context.Background(), "Instalação")
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 2 || slots[0].Hour() != 8 || slots[1].Hour() != 18 {
		t.Errorf("slots = %v, want 8h and 18h", slots)
	}
}

// --- Rating ---

func TestRatingFullFlow(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")

	if err := e.h.StartRating(fc); err != nil {
		t.Fatalf("StartRating: %v", err)
	}
	if fc.Session.State != "await_rating" {
		t.Fatalf("state = %q", fc.Session.State)
	}

	e.step(t, fc, "9")
	if fc.Session.State != "await_rating" {
		t.Error("out-of-range score must re-prompt")
	}

	e.step(t, fc, "5")
	if fc.Session.State != "await_rating_comment" {
		t.Fatalf("state = %q", fc.Session.State)
	}

	e.step(t, fc, "Atendimento excelente")
	if fc.Session.State != "await_recommendation" {
		t.Fatalf("state = %q", fc.Session.State)
	}
	if len(e.fixture.Ratings) != 1 {
		t.Fatalf("got %d ratings", len(e.fixture.Ratings))
	}
	r := e.fixture.Ratings[0]
	if r.Score != 5 || r.Comment != "Atendimento excelente" || r.MenuPath != "atendimento" {
		t.Errorf("rating = %+v", r)
	}

	e.step(t, fc, "1")
	if fc.Session.State != session.StateFinished {
		t.Fatalf("state = %q, want finished", fc.Session.State)
	}
	found := false
	for _, m := range e.fixture.MessageRows {
		if strings.Contains(m.Body, "[Recomendação] Vou sempre indicar") {
			found = true
		}
	}
	if !found {
		t.Error("recommendation not recorded")
	}
}

func TestRatingCommentSkip(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_rating_comment"
	fc.Session.Data.Rating = 3

	e.step(t, fc, "Pular")
	if len(e.fixture.Ratings) != 1 || e.fixture.Ratings[0].Comment != "" {
		t.Errorf("ratings = %+v, want empty comment", e.fixture.Ratings)
	}
}

func TestRatingMenuPathForScheduling(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "await_rating_comment"
	fc.Session.Data.Rating = 4
	fc.Session.Data.ServiceType = "Instalação"

	e.step(t, fc, "pular")
	if e.fixture.Ratings[0].MenuPath != "agendamento" {
		t.Errorf("menu path = %q, want agendamento", e.fixture.Ratings[0].MenuPath)
	}
}

// --- Financial ---

func TestSendPixKeyMissing(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")

	if err := e.h.SendPixKey(fc); err != nil {
		t.Fatalf("SendPixKey: %v", err)
	}
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "não foi possível recuperar") {
		t.Errorf("got %q", got)
	}
}

func TestSendPixKey(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedSetting("pix_key", "12.345.678/0001-90")
	e.fixture.SeedSetting("pix_key_name", "Provedor Net")
	fc := e.flowFor(t, "5511888880001", "Ana")

	if err := e.h.SendPixKey(fc); err != nil {
		t.Fatalf("SendPixKey: %v", err)
	}
	msgs := e.sender.texts[fc.Session.Identity]
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want key + anything-else", len(msgs))
	}
	if !strings.Contains(msgs[0], "12.345.678/0001-90") || !strings.Contains(msgs[0], "Provedor Net") {
		t.Errorf("pix message = %q", msgs[0])
	}
	found := false
	for _, m := range e.fixture.MessageRows {
		if strings.Contains(m.Body, "[PIX]") {
			found = true
		}
	}
	if !found {
		t.Error("pix delivery not recorded in history")
	}
}

func TestSendPixKeyQRCodeAsImage(t *testing.T) {
	e := newEnv(t)
	qrPath := filepath.Join(t.TempDir(), "qr_pix.png")
	if err := os.WriteFile(qrPath, []byte("png"), 0o644); err != nil {
		t.Fatalf("write qr: %v", err)
	}
	e.fixture.SeedSetting("pix_key", "12.345.678/0001-90")
	e.fixture.SeedSetting("pix_qrcode_path", qrPath)
	fc := e.flowFor(t, "5511888880001", "Ana")

	if err := e.h.SendPixKey(fc); err != nil {
		t.Fatalf("SendPixKey: %v", err)
	}
	imgs := e.sender.images[fc.Session.Identity]
	if len(imgs) != 1 || imgs[0] != qrPath {
		t.Errorf("images = %v, want the QR code sent as an image", imgs)
	}
	if len(e.sender.docs[fc.Session.Identity]) != 0 {
		t.Errorf("docs = %v, QR code must not go out as a document", e.sender.docs[fc.Session.Identity])
	}
}

func TestListInvoicesEmpty(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")

	if err := e.h.ListInvoices(fc); err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "Não encontramos boletos") {
		t.Errorf("got %q", got)
	}
	if fc.Session.State == "invoice_selection" {
		t.Error("no invoices must not enter selection state")
	}
}

func TestListInvoicesAndSelection(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.Local)
	e.fixture.InvoiceRows = []store.Invoice{
		{ID: 7, UserID: fc.User.ID, Reference: "2026-09", Amount: 99.9, DueDate: due},
	}

	if err := e.h.ListInvoices(fc); err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if fc.Session.State != "invoice_selection" {
		t.Fatalf("state = %q", fc.Session.State)
	}
	list := e.sender.last(fc.Session.Identity)
	if !strings.Contains(list, "10/09/2026") || !strings.Contains(list, "R$ 99.90") {
		t.Errorf("list = %q", list)
	}

	e.step(t, fc, "9")
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "número válido") {
		t.Errorf("out-of-range pick: %q", got)
	}

	// The invoice PDF does not exist on disk.
	e.step(t, fc, "1")
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "Não foi possível localizar o arquivo") {
		t.Errorf("missing file: %q", got)
	}
}

func TestInvoiceSelectionPaid(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.State = "invoice_selection"
	fc.Session.Data.Invoices = []store.Invoice{
		{ID: 3, UserID: fc.User.ID, Amount: 50, DueDate: workday(), Paid: true},
	}

	e.step(t, fc, "1")
	if got := e.sender.last(fc.Session.Identity); !strings.Contains(got, "já consta como PAGO") {
		t.Errorf("got %q", got)
	}
}

// --- Post-sale ---

func TestPostSaleSurveyStarts(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedUser("5511888880001", "Ana")

	started, err := e.h.StartPostSaleSurvey(context.Background(), "+55 (11) 88888-0001", "instalação")
	if err != nil {
		t.Fatalf("StartPostSaleSurvey: %v", err)
	}
	if !started {
		t.Fatal("survey should start")
	}

	sess, ok := e.h.Sessions.Peek("5511888880001")
	if !ok || sess.State != "postsale_rating" {
		t.Fatalf("session = %+v", sess)
	}
	msgs := e.sender.texts["5511888880001"]
	if len(msgs) != 2 || !strings.Contains(msgs[0], "instalação") {
		t.Errorf("messages = %v", msgs)
	}
}

func TestPostSaleSurveySkipsRecent(t *testing.T) {
	e := newEnv(t)
	u := e.fixture.SeedUser("5511888880001", "Ana")
	e.stores.Surveys.Create(context.Background(), u.ID, "instalação")

	started, err := e.h.StartPostSaleSurvey(context.Background(), u.Phone, "manutenção")
	if err != nil {
		t.Fatalf("StartPostSaleSurvey: %v", err)
	}
	if started {
		t.Error("survey within 7 days must be skipped")
	}
}

func TestPostSaleSurveySkipsActiveConversation(t *testing.T) {
	e := newEnv(t)
	u := e.fixture.SeedUser("5511888880001", "Ana")
	if _, err := e.h.Sessions.Resolve(context.Background(), u.Phone, u.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	started, err := e.h.StartPostSaleSurvey(context.Background(), u.Phone, "instalação")
	if err != nil {
		t.Fatalf("StartPostSaleSurvey: %v", err)
	}
	if started {
		t.Error("live conversation must not be interrupted")
	}
}

func TestPostSaleSurveyRejectsShortPhone(t *testing.T) {
	e := newEnv(t)
	started, err := e.h.StartPostSaleSurvey(context.Background(), "123", "instalação")
	if err != nil || started {
		t.Errorf("StartPostSaleSurvey = (%v, %v), want (false, nil)", started, err)
	}
}

func TestPostSaleFullFlow(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedUser("5511888880001", "Ana")
	if _, err := e.h.StartPostSaleSurvey(context.Background(), "5511888880001", "manutenção"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, _ := e.h.Sessions.Peek("5511888880001")
	u, _ := e.stores.Users.GetOrCreate(context.Background(), "5511888880001")
	fc := &flow.Context{Ctx: context.Background(), User: u, Session: sess,
		Stores: e.stores, Menus: e.menus, Sender: e.sender}

	e.step(t, fc, "4")
	if fc.Session.State != "postsale_comment" {
		t.Fatalf("state = %q", fc.Session.State)
	}
	if len(e.fixture.Ratings) != 1 || e.fixture.Ratings[0].MenuPath != "postsale" {
		t.Errorf("ratings = %+v", e.fixture.Ratings)
	}

	e.step(t, fc, "Técnico muito atencioso")
	if fc.Session.State != "postsale_recommendation" {
		t.Fatalf("state = %q", fc.Session.State)
	}

	e.step(t, fc, "2")
	if fc.Session.State != session.StateFinished {
		t.Fatalf("state = %q, want finished", fc.Session.State)
	}
	if _, live := e.h.Sessions.Peek("5511888880001"); live {
		t.Error("finished survey left a live session")
	}
}

// --- Reminder confirmation ---

func TestAppointmentConfirmation(t *testing.T) {
	e := newEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	id, err := e.stores.Schedulings.Save(context.Background(), store.Scheduling{
		UserID:      fc.User.ID,
		ServiceType: "Manutenção",
		Date:        workday().Add(4 * time.Hour),
		Status:      store.SchedulingConfirmed,
	})
	if err != nil {
		t.Fatalf("seed scheduling: %v", err)
	}
	fc.Session.State = "confirm_appointment"
	fc.Session.Data.AppointmentID = id

	e.step(t, fc, "sim")
	if fc.Session.State != "confirm_appointment" {
		t.Error("non-numeric reply must re-prompt")
	}

	e.step(t, fc, "1")
	if fc.Session.State != "menu_main" {
		t.Fatalf("state = %q", fc.Session.State)
	}
	sch, err := e.stores.Schedulings.ByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if sch.Status != store.SchedulingConfirmed {
		t.Errorf("status = %q", sch.Status)
	}
}

func TestAppointmentCancellationNotifiesAgent(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedSetting("scheduling_agent", "5511999990002")
	fc := e.flowFor(t, "5511888880001", "Ana")
	id, _ := e.stores.Schedulings.Save(context.Background(), store.Scheduling{
		UserID:      fc.User.ID,
		ServiceType: "Instalação",
		Date:        workday().Add(4 * time.Hour),
		Status:      store.SchedulingConfirmed,
	})
	fc.Session.State = "confirm_appointment"
	fc.Session.Data.AppointmentID = id

	e.step(t, fc, "2")
	sch, _ := e.stores.Schedulings.ByID(context.Background(), id)
	if sch.Status != store.SchedulingCancelled {
		t.Errorf("status = %q, want cancelled", sch.Status)
	}
	if got := e.sender.last("5511999990002"); !strings.Contains(got, "cancelado pelo cliente") {
		t.Errorf("agent notice = %q", got)
	}
}

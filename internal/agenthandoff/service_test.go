package agenthandoff

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
	"github.com/suporttech/zapdesk/internal/store/storetest"
)

// fakeSender records every outbound text per identity.
type fakeSender struct {
	texts map[string][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{texts: map[string][]string{}}
}

func (f *fakeSender) SendText(ctx context.Context, identity, text string) bool {
	f.texts[identity] = append(f.texts[identity], text)
	return true
}

func (f *fakeSender) SendImage(ctx context.Context, identity, path, caption string) bool {
	f.texts[identity] = append(f.texts[identity], "[img] "+path)
	return true
}

func (f *fakeSender) SendDocument(ctx context.Context, identity, path, fileName, caption string) bool {
	f.texts[identity] = append(f.texts[identity], "[doc] "+fileName)
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

// workday returns a clock pinned inside business hours (Wed 10:00).
func workday() time.Time {
	return time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
}

// weekend returns a Saturday morning clock.
func weekend() time.Time {
	return time.Date(2026, 3, 7, 10, 0, 0, 0, time.Local)
}

type handoffEnv struct {
	svc     *Service
	stores  *store.Stores
	fixture *storetest.Fixture
	sender  *fakeSender
	menus   *menu.Registry
}

func newHandoffEnv(t *testing.T) *handoffEnv {
	t.Helper()
	stores, f := storetest.New()
	menus := menu.NewRegistry(stores.Menus)
	if err := menus.Load(context.Background()); err != nil {
		t.Fatalf("menus: %v", err)
	}
	sender := newFakeSender()
	svc := &Service{
		Queues:   NewQueues(),
		Sessions: session.NewRegistry(stores.Sessions),
		Stores:   stores,
		Menus:    menus,
		Sender:   sender,
		Agents:   config.AgentsConfig{Known: []string{"5511999990001"}},
		Now:      workday,
	}
	return &handoffEnv{svc: svc, stores: stores, fixture: f, sender: sender, menus: menus}
}

func (e *handoffEnv) flowFor(t *testing.T, phone, name string) *flow.Context {
	t.Helper()
	u := e.fixture.SeedUser(phone, name)
	s, err := e.svc.Sessions.Resolve(context.Background(), phone, u.ID)
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

func TestForwardNoTargetShowsMainMenu(t *testing.T) {
	e := newHandoffEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")

	opt := &menu.Option{ID: 2, Title: "Comercial", Handler: "forward", ConfigKey: "commercial_agent"}
	if err := e.svc.Forward(fc, opt, ""); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	msgs := e.sender.texts[fc.Session.Identity]
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want apology + menu", len(msgs))
	}
	if !strings.Contains(msgs[0], "não foi possível localizar") {
		t.Errorf("first message = %q", msgs[0])
	}
	if fc.Session.State != "menu_main" {
		t.Errorf("state = %q, want menu_main", fc.Session.State)
	}
	if e.svc.Queues.Len() != 0 {
		t.Error("contact must not be enqueued without a target")
	}
}

func TestForwardOffHoursRecordsCallback(t *testing.T) {
	e := newHandoffEnv(t)
	e.svc.Now = weekend
	e.fixture.SeedSetting("support_agent", "5511999990001")
	fc := e.flowFor(t, "5511888880001", "Ana")

	opt := &menu.Option{ID: 1, Title: "Problema com internet", Handler: "forward", ConfigKey: "support_agent"}
	if err := e.svc.Forward(fc, opt, "Problema com internet"); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if !strings.Contains(e.sender.last(fc.Session.Identity), "horário de atendimento") {
		t.Errorf("expected off-hours text, got %q", e.sender.last(fc.Session.Identity))
	}
	if e.svc.Queues.Len() != 0 {
		t.Error("off-hours contact must not be enqueued")
	}
	if len(e.fixture.Schedulings) != 1 {
		t.Fatalf("got %d schedulings, want 1 callback record", len(e.fixture.Schedulings))
	}
	cb := e.fixture.Schedulings[0]
	if cb.ServiceType != "retorno" || cb.ServiceOption != "fora_horario" {
		t.Errorf("callback record = %+v", cb)
	}
	if fc.Session.State != "menu_main" {
		t.Errorf("state = %q, want menu_main", fc.Session.State)
	}
}

func TestForwardFirstInLineStartsServing(t *testing.T) {
	e := newHandoffEnv(t)
	e.fixture.SeedSetting("commercial_agent", "5511999990001")
	fc := e.flowFor(t, "5511888880001", "Ana")

	opt := &menu.Option{ID: 2, Title: "Comercial", Handler: "forward", ConfigKey: "commercial_agent"}
	if err := e.svc.Forward(fc, opt, "Interesse em novo plano"); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if !fc.Session.WithAgent || fc.Session.Agent != "5511999990001" {
		t.Errorf("session not serving: WithAgent=%v Agent=%q", fc.Session.WithAgent, fc.Session.Agent)
	}
	if fc.Session.State != "chat" {
		t.Errorf("state = %q, want chat", fc.Session.State)
	}
	notif := e.sender.last("5511999990001")
	if !strings.Contains(notif, "Novo atendimento") || !strings.Contains(notif, "Interesse em novo plano") {
		t.Errorf("operator notification = %q", notif)
	}
	if !strings.Contains(notif, "Nome: Ana") {
		t.Errorf("notification missing client data: %q", notif)
	}
}

func TestForwardSecondInLineGetsPosition(t *testing.T) {
	e := newHandoffEnv(t)
	e.fixture.SeedSetting("commercial_agent", "5511999990001")

	first := e.flowFor(t, "5511888880001", "Ana")
	second := e.flowFor(t, "5511888880002", "Bia")
	opt := &menu.Option{ID: 2, Title: "Comercial", Handler: "forward", ConfigKey: "commercial_agent"}

	if err := e.svc.Forward(first, opt, ""); err != nil {
		t.Fatalf("first Forward: %v", err)
	}
	if err := e.svc.Forward(second, opt, ""); err != nil {
		t.Fatalf("second Forward: %v", err)
	}

	if second.Session.WithAgent {
		t.Error("second contact must wait, not serve")
	}
	if got := e.sender.last(second.Session.Identity); !strings.Contains(got, "posição 2") {
		t.Errorf("queue message = %q, want position 2", got)
	}
}

func TestRelayToAgentVerbatim(t *testing.T) {
	e := newHandoffEnv(t)
	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.WithAgent = true
	fc.Session.Agent = "5511999990001"
	fc.Text = "minha internet caiu de novo"

	handled, err := e.svc.RelayToAgent(fc)
	if err != nil || !handled {
		t.Fatalf("RelayToAgent = (%v, %v)", handled, err)
	}
	want := "5511888880001: minha internet caiu de novo"
	if got := e.sender.last("5511999990001"); got != want {
		t.Errorf("relay = %q, want %q", got, want)
	}
}

func TestRelayRefusesOperatorCommands(t *testing.T) {
	e := newHandoffEnv(t)
	for _, text := range []string{"/finalizar", "/FINALIZAR agora", "/falarcom_5511000000000"} {
		fc := e.flowFor(t, "5511888880001", "Ana")
		fc.Session.WithAgent = true
		fc.Session.Agent = "5511999990001"
		fc.Text = text

		handled, err := e.svc.RelayToAgent(fc)
		if err != nil || !handled {
			t.Fatalf("RelayToAgent(%q) = (%v, %v)", text, handled, err)
		}
		if !strings.Contains(e.sender.last("5511888880001"), "Apenas o atendente") {
			t.Errorf("reply to %q = %q, want permission denial", text, e.sender.last("5511888880001"))
		}
		if msgs := e.sender.texts["5511999990001"]; len(msgs) != 0 {
			t.Errorf("agent received %v for %q, command must not be relayed", msgs, text)
		}
		if fc.Session.State != session.StateInit || !fc.Session.WithAgent {
			t.Errorf("session changed by %q: state %q withAgent %v", text, fc.Session.State, fc.Session.WithAgent)
		}
		e.svc.Sessions.Drop(fc.Session.Identity)
	}
}

func TestIsOperator(t *testing.T) {
	e := newHandoffEnv(t)
	if !e.svc.IsOperator("5511999990001") {
		t.Error("registry member must pass")
	}
	if e.svc.IsOperator("5511777770009") {
		t.Error("stranger must not pass")
	}

	fc := e.flowFor(t, "5511888880001", "Ana")
	fc.Session.WithAgent = true
	fc.Session.Agent = "5511777770009"
	if !e.svc.IsOperator("5511777770009") {
		t.Error("an operator recorded on a bridged session must pass without a registry entry")
	}
}

func TestFinishEngagementPromotesNext(t *testing.T) {
	e := newHandoffEnv(t)
	e.fixture.SeedSetting("commercial_agent", "5511999990001")
	ratingStarted := false
	e.svc.StartRating = func(fc *flow.Context) error {
		ratingStarted = true
		fc.Session.State = "await_rating"
		return nil
	}

	first := e.flowFor(t, "5511888880001", "Ana")
	second := e.flowFor(t, "5511888880002", "Bia")
	opt := &menu.Option{ID: 2, Title: "Comercial", Handler: "forward", ConfigKey: "commercial_agent"}
	if err := e.svc.Forward(first, opt, ""); err != nil {
		t.Fatalf("first Forward: %v", err)
	}
	if err := e.svc.Forward(second, opt, ""); err != nil {
		t.Fatalf("second Forward: %v", err)
	}

	handled, err := e.svc.HandleOperatorCommand(context.Background(), "5511999990001", "/finalizar")
	if err != nil || !handled {
		t.Fatalf("HandleOperatorCommand = (%v, %v)", handled, err)
	}

	if !ratingStarted {
		t.Error("rating flow not started for the finished contact")
	}
	if first.Session.WithAgent {
		t.Error("finished session still marked with agent")
	}
	if !second.Session.WithAgent || second.Session.State != "chat" {
		t.Errorf("next in line not promoted: %+v", second.Session)
	}
	if got := e.sender.last("5511999990001"); got != "✅ Atendimento finalizado com sucesso." {
		t.Errorf("operator confirmation = %q", got)
	}
}

func TestFinishEngagementWithoutConversation(t *testing.T) {
	e := newHandoffEnv(t)
	handled, err := e.svc.HandleOperatorCommand(context.Background(), "5511999990001", "/finalizar")
	if err != nil || !handled {
		t.Fatalf("HandleOperatorCommand = (%v, %v)", handled, err)
	}
	if got := e.sender.last("5511999990001"); !strings.Contains(got, "Não há cliente") {
		t.Errorf("got %q", got)
	}
}

func TestDirectEngage(t *testing.T) {
	e := newHandoffEnv(t)
	e.fixture.SeedUser("5511888880001", "Ana Souza")

	handled, err := e.svc.HandleOperatorCommand(context.Background(), "5511999990001", "/falarcom_Ana Souza")
	if err != nil || !handled {
		t.Fatalf("HandleOperatorCommand = (%v, %v)", handled, err)
	}

	sess, ok := e.svc.Sessions.FindByAgent("5511999990001")
	if !ok {
		t.Fatal("no session attached to the operator")
	}
	if sess.Identity != "5511888880001" || sess.State != "chat" {
		t.Errorf("engaged session = %+v", sess)
	}
	if got := e.sender.last(sess.Identity); !strings.Contains(got, "atendente iniciou um contato") {
		t.Errorf("client notice = %q", got)
	}
}

func TestDirectEngageUnknownTarget(t *testing.T) {
	e := newHandoffEnv(t)
	handled, err := e.svc.HandleOperatorCommand(context.Background(), "5511999990001", "/falarcom_ninguem")
	if err != nil || !handled {
		t.Fatalf("HandleOperatorCommand = (%v, %v)", handled, err)
	}
	if got := e.sender.last("5511999990001"); got != "❌ Cliente não encontrado." {
		t.Errorf("got %q", got)
	}
}

func TestHandleOperatorCommandUnknown(t *testing.T) {
	e := newHandoffEnv(t)
	handled, err := e.svc.HandleOperatorCommand(context.Background(), "5511999990001", "bom dia")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if handled {
		t.Error("plain text is not an operator command")
	}
}

func TestBroadcastPositionsSkipsServing(t *testing.T) {
	e := newHandoffEnv(t)
	e.svc.Queues.Enqueue("agent", "serving")
	e.svc.Queues.Enqueue("agent", "5511888880002")
	e.svc.Queues.Enqueue("agent", "5511888880003")

	e.svc.BroadcastPositions(context.Background())

	if len(e.sender.texts["serving"]) != 0 {
		t.Error("contact being served must not receive position updates")
	}
	if got := e.sender.last("5511888880002"); !strings.Contains(got, "posição 2") {
		t.Errorf("second = %q", got)
	}
	if got := e.sender.last("5511888880003"); !strings.Contains(got, "posição 3") {
		t.Errorf("third = %q", got)
	}
}

func TestBusinessHours(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday morning", time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local), true},
		{"weekday lunch", time.Date(2026, 3, 4, 12, 30, 0, 0, time.Local), false},
		{"weekday afternoon", time.Date(2026, 3, 4, 15, 0, 0, 0, time.Local), true},
		{"weekday evening", time.Date(2026, 3, 4, 18, 0, 0, 0, time.Local), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, time.Local), false},
		{"sunday", time.Date(2026, 3, 8, 15, 0, 0, 0, time.Local), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newHandoffEnv(t)
			e.svc.Now = func() time.Time { return tt.at }
			got, err := e.svc.BusinessHours(context.Background())
			if err != nil {
				t.Fatalf("BusinessHours: %v", err)
			}
			if got != tt.want {
				t.Errorf("BusinessHours at %s = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestBusinessHoursCustomWindow(t *testing.T) {
	e := newHandoffEnv(t)
	e.fixture.SeedSetting("business_hours_start_morning", "8")
	e.fixture.SeedSetting("business_hours_end_morning", "11")
	e.svc.Now = func() time.Time { return time.Date(2026, 3, 4, 8, 30, 0, 0, time.Local) }

	got, err := e.svc.BusinessHours(context.Background())
	if err != nil {
		t.Fatalf("BusinessHours: %v", err)
	}
	if !got {
		t.Error("8:30 should be inside the customized morning window")
	}
}

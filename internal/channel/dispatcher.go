package channel

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/suporttech/zapdesk/internal/bus"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/store"
)

// BridgeSender is the outbound side of the bridge connection.
type BridgeSender interface {
	Send(msg bus.OutboundMessage) error
}

// Dispatcher drains the outbound bus queue into the bridge, pacing
// deliveries per contact so a flow that emits several messages in a
// row does not trip the chat network's flood limits.
type Dispatcher struct {
	bridge BridgeSender
	stores *store.Stores
	cfg    config.OutboundConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(bridge BridgeSender, stores *store.Stores, cfg config.OutboundConfig) *Dispatcher {
	return &Dispatcher{
		bridge:   bridge,
		stores:   stores,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (d *Dispatcher) limiter(identity string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[identity]
	if !ok {
		rps := d.cfg.RatePerSecond
		if rps <= 0 {
			rps = 1
		}
		burst := d.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		d.limiters[identity] = lim
	}
	return lim
}

// Run consumes outbound messages until the context is cancelled or the
// bus closes.
func (d *Dispatcher) Run(ctx context.Context, b *bus.MessageBus) {
	for {
		msg, ok := b.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		d.deliver(ctx, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg bus.OutboundMessage) {
	if err := d.limiter(msg.Identity).Wait(ctx); err != nil {
		return
	}
	if err := d.bridge.Send(msg); err != nil {
		slog.Error("outbound delivery failed", "identity", msg.Identity, "kind", msg.Kind, "error", err)
		return
	}
	d.saveHistory(ctx, msg)
}

// saveHistory records the delivered message in the conversation log.
// History is best effort; delivery already happened.
func (d *Dispatcher) saveHistory(ctx context.Context, msg bus.OutboundMessage) {
	body := msg.Text
	if body == "" && msg.FileName != "" {
		body = "[arquivo] " + msg.FileName
	}
	if body == "" {
		return
	}
	u, err := d.stores.Users.GetOrCreate(ctx, msg.Identity)
	if err != nil {
		slog.Warn("history user lookup failed", "identity", msg.Identity, "error", err)
		return
	}
	if err := d.stores.Messages.Save(ctx, u.ID, store.DirOutgoing, body); err != nil {
		slog.Warn("outgoing history save failed", "identity", msg.Identity, "error", err)
	}
}

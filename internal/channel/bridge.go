// Package channel connects the engine to the external chat-network
// bridge process over WebSocket and moves messages between the bridge
// and the bus.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suporttech/zapdesk/internal/bus"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/store"
)

// frame is the JSON envelope exchanged with the bridge.
type frame struct {
	Type      string  `json:"type"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Content   string  `json:"content,omitempty"`
	Path      string  `json:"path,omitempty"`
	FileName  string  `json:"file_name,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Long      float64 `json:"long,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix seconds
}

// Bridge is the WebSocket client talking to the bridge process. The
// bridge owns the chat-network protocol; this side only exchanges JSON
// frames with it.
type Bridge struct {
	cfg   config.BridgeConfig
	bus   *bus.MessageBus
	users store.UserStore

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	ctx    context.Context
	cancel context.CancelFunc

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func NewBridge(cfg config.BridgeConfig, b *bus.MessageBus, users store.UserStore) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	return &Bridge{cfg: cfg, bus: b, users: users}, nil
}

// Start connects to the bridge and begins listening. The initial dial
// may fail; the listen loop keeps retrying with backoff.
func (br *Bridge) Start(ctx context.Context) error {
	slog.Info("starting bridge channel", "url", br.cfg.URL)
	br.ctx, br.cancel = context.WithCancel(ctx)

	if err := br.connect(); err != nil {
		slog.Warn("initial bridge connection failed, will retry", "error", err)
	}
	go br.listenLoop()
	return nil
}

// Stop closes the connection and halts the listen loop.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
	}
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.conn != nil {
		_ = br.conn.Close()
		br.conn = nil
	}
	br.connected = false
}

// Send delivers one outbound message to the bridge.
func (br *Bridge) Send(msg bus.OutboundMessage) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	f := frame{
		Type:     "message",
		To:       msg.Identity,
		Content:  msg.Text,
		Path:     msg.Path,
		FileName: msg.FileName,
		Caption:  msg.Caption,
		Lat:      msg.Lat,
		Long:     msg.Long,
	}
	if msg.Kind != "" && msg.Kind != bus.KindText {
		f.Type = msg.Kind
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}
	if err := br.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send bridge frame: %w", err)
	}
	return nil
}

func (br *Bridge) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(br.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", br.cfg.URL, err)
	}

	br.mu.Lock()
	br.conn = conn
	br.connected = true
	br.mu.Unlock()

	slog.Info("bridge connected", "url", br.cfg.URL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (br *Bridge) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-br.ctx.Done():
			return
		default:
		}

		br.mu.Lock()
		conn := br.conn
		br.mu.Unlock()

		if conn == nil {
			slog.Info("attempting bridge reconnect", "backoff", backoff)
			select {
			case <-br.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := br.connect(); err != nil {
				slog.Warn("bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read error, will reconnect", "error", err)
			br.mu.Lock()
			if br.conn != nil {
				_ = br.conn.Close()
				br.conn = nil
			}
			br.connected = false
			br.mu.Unlock()
			continue
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Warn("invalid bridge frame", "error", err)
			continue
		}
		if f.Type == "message" {
			br.handleInbound(f)
		}
	}
}

// NormalizeIdentity strips the network suffix from a chat address,
// leaving the bare phone.
func NormalizeIdentity(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func (br *Bridge) now() time.Time {
	if br.Now != nil {
		return br.Now()
	}
	return time.Now()
}

// handleInbound filters and publishes one incoming frame. Group and
// broadcast traffic is ignored, as are stale events replayed after an
// outage and messages from blocked numbers.
func (br *Bridge) handleInbound(f frame) {
	if f.From == "" {
		return
	}
	if strings.HasSuffix(f.From, "@g.us") || strings.HasPrefix(f.From, "status@") {
		return
	}

	ts := time.Unix(f.Timestamp, 0)
	staleAfter := time.Duration(br.cfg.StaleAfterSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	if f.Timestamp > 0 && br.now().Sub(ts) > staleAfter {
		slog.Debug("stale bridge message dropped", "from", f.From, "age", br.now().Sub(ts))
		return
	}

	identity := NormalizeIdentity(f.From)

	blocked, err := br.users.IsBlocked(br.ctx, identity)
	if err != nil {
		slog.Warn("blocked check failed", "identity", identity, "error", err)
	} else if blocked {
		slog.Debug("message from blocked number dropped", "identity", identity)
		return
	}

	msg := bus.InboundMessage{
		Identity:  identity,
		Text:      f.Content,
		Timestamp: ts,
	}
	if err := br.bus.PublishInbound(br.ctx, msg); err != nil {
		slog.Warn("inbound publish failed", "identity", identity, "error", err)
	}
}

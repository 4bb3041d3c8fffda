package channel

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/suporttech/zapdesk/internal/bus"
)

// BusSender adapts the outbound bus queue to the flow.Sender contract.
// Handlers report delivery as the publish succeeding; actual bridge
// delivery happens asynchronously in the Dispatcher.
type BusSender struct {
	Bus *bus.MessageBus
}

func NewBusSender(b *bus.MessageBus) *BusSender {
	return &BusSender{Bus: b}
}

func (s *BusSender) SendText(ctx context.Context, identity, text string) bool {
	err := s.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Identity: identity,
		Kind:     bus.KindText,
		Text:     text,
	})
	if err != nil {
		slog.Warn("text publish failed", "identity", identity, "error", err)
		return false
	}
	return true
}

func (s *BusSender) SendImage(ctx context.Context, identity, path, caption string) bool {
	err := s.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Identity: identity,
		Kind:     bus.KindImage,
		Path:     path,
		Caption:  caption,
	})
	if err != nil {
		slog.Warn("image publish failed", "identity", identity, "error", err)
		return false
	}
	return true
}

func (s *BusSender) SendLocation(ctx context.Context, identity string, lat, long float64) bool {
	err := s.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Identity: identity,
		Kind:     bus.KindLocation,
		Lat:      lat,
		Long:     long,
	})
	if err != nil {
		slog.Warn("location publish failed", "identity", identity, "error", err)
		return false
	}
	return true
}

func (s *BusSender) SendDocument(ctx context.Context, identity, path, fileName, caption string) bool {
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	err := s.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Identity: identity,
		Kind:     bus.KindDocument,
		Path:     path,
		FileName: fileName,
		Caption:  caption,
	})
	if err != nil {
		slog.Warn("document publish failed", "identity", identity, "error", err)
		return false
	}
	return true
}

package messaging

import (
	"context"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the logger. It is the default when no bus is
// configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event *domain.Event) error {
	ev := p.log.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("client_ref", event.ClientRef).
		Str("decision", string(event.Decision)).
		Int("score", event.Score)
	if event.GroupID != nil {
		ev = ev.Str("group_id", event.GroupID.String())
	}
	if event.ErrorKind != "" {
		ev = ev.Str("error_kind", event.ErrorKind)
	}
	ev.Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Package notify publishes wallet connection transitions to downstream sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	loggerpkg "AuditFi/pkg/logger"

	"github.com/google/uuid"
)

// Type identifies a connection transition.
type Type string

const (
	TypeConnected           Type = "connected"
	TypeDisconnected        Type = "disconnected"
	TypeAccountChanged      Type = "account_changed"
	TypeChainChanged        Type = "chain_changed"
	TypeChainSwitchRejected Type = "chain_switch_rejected"
)

// Event is a single transition record.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Address   string    `json:"address,omitempty"`
	ChainID   *uint64   `json:"chain_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a transition with a fresh id and the current time.
func NewEvent(typ Type, address string, chainID *uint64) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Address:   address,
		Timestamp: time.Now().UTC(),
	}
	if chainID != nil {
		id := *chainID
		ev.ChainID = &id
	}
	return ev
}

// Publisher delivers transition events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes transitions to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher uses logger, or the audit logger when nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = loggerpkg.Audit()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	attrs := []any{"event_id", ev.ID, "type", string(ev.Type), "timestamp", ev.Timestamp}
	if ev.Address != "" {
		attrs = append(attrs, "address", ev.Address)
	}
	if ev.ChainID != nil {
		attrs = append(attrs, "chain_id", *ev.ChainID)
	}
	p.logger.InfoContext(ctx, "wallet transition", attrs...)
	return nil
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher in order and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var err error
	for _, p := range f {
		if p != nil {
			err = errors.Join(err, p.Publish(ctx, ev))
		}
	}
	return err
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = Discard{}
	_ Publisher = Fanout(nil)
)

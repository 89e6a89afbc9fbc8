// Package events publishes repository status transitions to NATS.
//
// Every transition of a repository record is published to:
//
//	{prefix}.{repository_id}.{state}
//
// where state is indexing, indexed or failed. The payload is a JSON
// StatusEvent. Subscribers can follow a single repository with
// "{prefix}.{id}.>" or every failure with "{prefix}.*.failed".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/repository"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "repolens.repositories"

// StatusEvent describes one transition.
type StatusEvent struct {
	RepositoryID  string    `json:"repositoryId"`
	URL           string    `json:"url"`
	Status        string    `json:"status"`
	ChunksIndexed int       `json:"chunksIndexed"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// FromRepository builds the event for the record's current status.
func FromRepository(r *repository.Repository, at time.Time) StatusEvent {
	return StatusEvent{
		RepositoryID:  r.ID,
		URL:           r.URL,
		Status:        string(r.Status),
		ChunksIndexed: r.ChunksIndexed,
		Error:         r.Status.Reason(),
		At:            at.UTC(),
	}
}

// State is the subject suffix for the event.
func (e StatusEvent) State() string {
	if repository.Status(e.Status).IsFailed() {
		return string(repository.StatusFailed)
	}
	return e.Status
}

// Sink receives status events. Publishing is best effort: a failed publish
// never fails the indexing run.
type Sink interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// Publisher publishes events on a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

var _ Sink = (*Publisher)(nil)

// NewPublisher wraps an existing connection. The caller owns nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("repolens"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewPublisher(nc, prefix, logger), nil
}

// Subject returns the subject an event is published to.
func (p *Publisher) Subject(e StatusEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, e.RepositoryID, e.State())
}

// Publish sends the event. Errors are returned and logged.
func (p *Publisher) Publish(ctx context.Context, e StatusEvent) error {
	if e.RepositoryID == "" {
		return fmt.Errorf("event has no repository id")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	subject := p.Subject(e)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "status event publish failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug(ctx, "status event published", zap.String("subject", subject))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) Publish(context.Context, StatusEvent) error { return nil }

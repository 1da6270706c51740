package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
)

// GradingEvent announces that a grading job reached a terminal state.
type GradingEvent struct {
	JobID         string       `json:"job_id"`
	UserID        uint         `json:"user_id"`
	Status        dto.JobState `json:"status"`
	Verdict       string       `json:"verdict,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Source        string       `json:"source"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// EventPublisher broadcasts grading events to other nodes.
type EventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, GradingEvent) error { return nil }

// NATSPublisher publishes grading events on `<channel>.grading`.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSPublisher builds a publisher. A nil connection yields a publisher that drops events.
func NewNATSPublisher(conn *nats.Conn, channelBase, nodeID string, logger zerolog.Logger) EventPublisher {
	if conn == nil {
		return noopPublisher{}
	}
	subject := "grading"
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grading"
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "grading_events").Logger(),
	}
}

// Subject returns the NATS subject events are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

func (p *NATSPublisher) Publish(_ context.Context, event GradingEvent) error {
	event.Source = p.nodeID
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("job_id", event.JobID).Msg("failed to publish grading event")
		return err
	}
	return nil
}

package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// EventPublisher publishes persisted records to <topic>/events.
type EventPublisher struct {
	client    Client
	topic     string
	sessionID string
	metrics   *metrics.MQTTMetrics
}

// NewEventPublisher creates a publisher on client for the configured topic.
func NewEventPublisher(client Client, settings *conf.MQTTSettings, sessionID string) *EventPublisher {
	topic := settings.Topic
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &EventPublisher{
		client:    client,
		topic:     strings.TrimSuffix(topic, "/") + "/events",
		sessionID: sessionID,
	}
}

// SetMetrics attaches optional metrics.
func (p *EventPublisher) SetMetrics(m *metrics.MQTTMetrics) {
	p.metrics = m
}

// Topic returns the topic events are published to.
func (p *EventPublisher) Topic() string {
	return p.topic
}

// Publish sends record to the broker, connecting first when needed.
func (p *EventPublisher) Publish(ctx context.Context, record *datastore.EventRecord) error {
	if !p.client.IsConnected() {
		GetLogger().Debug("mqtt client not connected, connecting before publish")
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(NewEventDTO(record, p.sessionID))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("record_id", record.ID).
			Build()
	}

	if err := p.client.Publish(ctx, p.topic, string(payload)); err != nil {
		return err
	}
	p.metrics.RecordEventPublished(strings.ToLower(string(record.EventType)))
	GetLogger().Info("detection event published",
		logger.String("topic", p.topic),
		logger.Int64("id", int64(record.ID)))
	return nil
}

package output

import (
	"context"
	"log/slog"
	"time"

	"github.com/VenketeszRR/fraudlens/internal/record"
	"github.com/VenketeszRR/fraudlens/pkg/kafka"
)

// DetectionEvent is the Kafka payload for one detection, published after the
// detection's unit is durably written. The durable truth lives in the output
// units; the event stream only feeds live dashboards.
type DetectionEvent struct {
	BatchID        string    `json:"batch_id"`
	PatternID      string    `json:"pattern_id"`
	ActionType     string    `json:"action_type"`
	CustomerName   string    `json:"customer_name,omitempty"`
	MerchantID     string    `json:"merchant_id"`
	BatchStartTime time.Time `json:"batch_start_time"`
	DetectionTime  time.Time `json:"detection_time"`
}

// Publisher publishes detection events to Kafka. Publish failures are logged
// and swallowed: the batch commits on durable unit writes alone.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher creates a Publisher over the given producer. A nil producer
// disables publishing.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "detection-publisher"),
	}
}

// PublishBatch sends all detections of a batch in one Kafka write, keyed by
// merchant for partition affinity.
func (p *Publisher) PublishBatch(ctx context.Context, batchID string, detections []record.Detection) {
	if p.producer == nil || len(detections) == 0 {
		return
	}
	events := make([]kafka.Event, 0, len(detections))
	for _, d := range detections {
		events = append(events, kafka.Event{
			Key: d.Merchant,
			Value: DetectionEvent{
				BatchID:        batchID,
				PatternID:      string(d.Pattern),
				ActionType:     string(d.Action),
				CustomerName:   d.Customer,
				MerchantID:     d.Merchant,
				BatchStartTime: d.BatchStartTime.UTC(),
				DetectionTime:  d.DetectionTime.UTC(),
			},
		})
	}
	if err := p.producer.PublishBatch(ctx, events); err != nil {
		p.logger.Error("detection events not published",
			"batch", batchID,
			"count", len(events),
			"error", err,
		)
	}
}

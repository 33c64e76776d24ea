package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/config"
	"ledger-svc/middleware"
	"ledger-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReportHandler applies report pipeline outcomes to the usage ledger.
type ReportHandler interface {
	MarkReportSuccess(ctx context.Context, reportID string) error
	RefundFailedReport(ctx context.Context, reportID string) error
	RecordImageResult(ctx context.Context, reportID string, success bool) error
}

// InitConsumerGroup joins the report consumer group. Offsets are committed
// per group, so events published while the service is down are still
// delivered on the next start.
func InitConsumerGroup(cfg config.KafkaConfig, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group", cfg.ConsumerGroup))
	return group, nil
}

type ReportConsumer struct {
	group      sarama.ConsumerGroup
	topic      string
	handler    ReportHandler
	logger     *zap.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration
}

func NewReportConsumer(group sarama.ConsumerGroup, topic string, handler ReportHandler, logger *zap.Logger) *ReportConsumer {
	return &ReportConsumer{
		group:      group,
		topic:      topic,
		handler:    handler,
		logger:     logger,
		maxRetries: 3,
		backoff:    func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
	}
}

// Start consumes the report topic until ctx is done, rejoining the group
// after every rebalance.
func (c *ReportConsumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	c.logger.Info("Kafka consumer started", zap.String("topic", c.topic))
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("failed to consume %s: %w", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *ReportConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *ReportConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim applies each message and marks it consumed. A message cut
// short by shutdown is left unmarked and redelivered.
func (c *ReportConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handleMessageWithRetry(ctx, message); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to handle message after retries",
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(message, "")
		}
	}
}

func (c *ReportConsumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.handleMessage(ctx, message)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperr.IsRetryable(err) {
			return err
		}
		if attempt < c.maxRetries {
			backoff := c.backoff(attempt)
			c.logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *ReportConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	// Extract trace context from Kafka message headers
	ctx = otel.GetTextMapPropagator().Extract(ctx, consumerHeaderCarrier(message.Headers))
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "ProcessReportEvent")
	defer span.End()

	var event models.ReportEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		// A payload that does not parse never will.
		return fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}
	if event.ReportID == "" {
		return fmt.Errorf("%w: missing report_id", apperr.ErrMalformedPayload)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("report.id", event.ReportID),
	)

	var err error
	switch event.EventType {
	case models.EventReportSucceeded:
		err = c.handler.MarkReportSuccess(ctx, event.ReportID)
	case models.EventReportFailed:
		err = c.handler.RefundFailedReport(ctx, event.ReportID)
		if errors.Is(err, apperr.ErrAlreadyRefunded) || errors.Is(err, apperr.ErrReportCompleted) {
			err = nil
		}
	case models.EventImageSucceeded:
		err = c.handler.RecordImageResult(ctx, event.ReportID, true)
	case models.EventImageFailed:
		err = c.handler.RecordImageResult(ctx, event.ReportID, false)
	default:
		c.logger.Debug("Unknown event type", zap.String("event_type", event.EventType))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	c.logger.Info("Report event applied",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_type", event.EventType),
		zap.String("report_id", event.ReportID),
	)
	return nil
}

// Package reconciliation stores failed compensations on a Redis list so an
// operator or a repair job can pick them up later.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	redisclient "github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/therapybooking/pkg/compensation"
)

// RedisSink pushes compensation failures onto a Redis list, newest first.
type RedisSink struct {
	client *redisclient.Client
	queue  string
	logger zerolog.Logger
}

// NewRedisSink creates a sink writing to queue
func NewRedisSink(client *redisclient.Client, queue string, logger zerolog.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		queue:  queue,
		logger: logger.With().Str("component", "reconciliation_sink").Str("queue", queue).Logger(),
	}
}

var _ compensation.Reporter = (*RedisSink)(nil)

// Report queues a failure
func (s *RedisSink) Report(ctx context.Context, failure compensation.Failure) error {
	data, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("failed to marshal compensation failure: %w", err)
	}

	if err := s.client.Client().LPush(ctx, s.queue, data).Err(); err != nil {
		s.logger.Error().Err(err).
			Str("operation_id", failure.OperationID).
			Str("step", string(failure.Step.Kind)).
			Str("entity_id", failure.Step.EntityID).
			Msg("failed to queue compensation failure")
		return fmt.Errorf("failed to queue compensation failure: %w", err)
	}

	s.logger.Info().
		Str("operation_id", failure.OperationID).
		Str("step", string(failure.Step.Kind)).
		Msg("compensation failure queued for reconciliation")
	return nil
}

// Pending returns up to n queued failures, newest first.
func (s *RedisSink) Pending(ctx context.Context, n int64) ([]compensation.Failure, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.Client().LRange(ctx, s.queue, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reconciliation queue: %w", err)
	}

	failures := make([]compensation.Failure, 0, len(raw))
	for _, item := range raw {
		var failure compensation.Failure
		if err := json.Unmarshal([]byte(item), &failure); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed reconciliation entry")
			continue
		}
		failures = append(failures, failure)
	}
	return failures, nil
}

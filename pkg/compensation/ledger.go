// Package compensation records reversible steps of a multi-step operation and
// unwinds them in reverse order when a later step fails.
//
// Steps are plain descriptors (kind + entity id). The code that reverses a kind
// of step is registered once as a Handler, so a ledger can be logged, inspected
// and replayed without holding opaque closures.
package compensation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies the type of compensating action for a recorded step.
type Kind string

// Step describes one applied mutation that can be reversed.
type Step struct {
	Kind       Kind              `json:"kind"`
	EntityID   string            `json:"entity_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Handler reverses a recorded step.
type Handler func(ctx context.Context, step Step) error

// Failure describes a compensation that could not be applied and needs
// out-of-band reconciliation.
type Failure struct {
	OperationID string    `json:"operation_id"`
	Operation   string    `json:"operation"`
	Step        Step      `json:"step"`
	Cause       string    `json:"cause"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

// Reporter receives failed compensations for later reconciliation.
type Reporter interface {
	Report(ctx context.Context, failure Failure) error
}

// Result summarises an unwind.
type Result struct {
	Undone   int
	Failures []Failure
}

// Compensated reports whether every recorded step was reversed.
func (r Result) Compensated() bool {
	return len(r.Failures) == 0
}

// Ledger is scoped to a single orchestrated operation and must not be shared
// across requests.
type Ledger struct {
	operationID string
	operation   string
	handlers    map[Kind]Handler
	reporter    Reporter
	logger      zerolog.Logger

	mu    sync.Mutex
	steps []Step
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReporter forwards failed compensations to r.
func WithReporter(r Reporter) Option {
	return func(l *Ledger) {
		l.reporter = r
	}
}

// WithOperationID overrides the generated operation id.
func WithOperationID(id string) Option {
	return func(l *Ledger) {
		if id != "" {
			l.operationID = id
		}
	}
}

// NewLedger creates an empty ledger for one run of operation.
func NewLedger(operation string, handlers map[Kind]Handler, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		operationID: uuid.New().String(),
		operation:   operation,
		handlers:    handlers,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().
		Str("operation", operation).
		Str("operation_id", l.operationID).
		Logger()
	return l
}

// OperationID returns the id correlating every log line of this operation.
func (l *Ledger) OperationID() string {
	return l.operationID
}

// Record pushes a step that has just been applied.
func (l *Ledger) Record(kind Kind, entityID string, attributes map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.steps = append(l.steps, Step{
		Kind:       kind,
		EntityID:   entityID,
		Attributes: attributes,
		RecordedAt: time.Now(),
	})
	l.logger.Debug().
		Str("step", string(kind)).
		Str("entity_id", entityID).
		Msg("compensation recorded")
}

// Steps returns a copy of the recorded steps in recording order.
func (l *Ledger) Steps() []Step {
	l.mu.Lock()
	defer l.mu.Unlock()

	steps := make([]Step, len(l.steps))
	copy(steps, l.steps)
	return steps
}

// Len returns the number of pending steps.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}

// Discard drops all recorded steps after the operation succeeded.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = nil
}

// UnwindAll runs the compensation of every recorded step in LIFO order.
// A failing compensation is logged and reported, and the remaining steps
// still run. The ledger is empty afterwards.
func (l *Ledger) UnwindAll(ctx context.Context, cause error) Result {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	var result Result
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := l.undo(ctx, step); err != nil {
			failure := Failure{
				OperationID: l.operationID,
				Operation:   l.operation,
				Step:        step,
				Cause:       causeText,
				Error:       err.Error(),
				FailedAt:    time.Now(),
			}
			result.Failures = append(result.Failures, failure)

			l.logger.Error().
				Err(err).
				Str("step", string(step.Kind)).
				Str("entity_id", step.EntityID).
				Str("cause", causeText).
				Bool("reconciliation_required", true).
				Msg("compensation failed")

			if l.reporter != nil {
				if reportErr := l.reporter.Report(ctx, failure); reportErr != nil {
					l.logger.Error().
						Err(reportErr).
						Str("step", string(step.Kind)).
						Str("entity_id", step.EntityID).
						Msg("failed to report compensation failure")
				}
			}
			continue
		}

		result.Undone++
		l.logger.Info().
			Str("step", string(step.Kind)).
			Str("entity_id", step.EntityID).
			Msg("compensation applied")
	}

	return result
}

func (l *Ledger) undo(ctx context.Context, step Step) (err error) {
	handler, ok := l.handlers[step.Kind]
	if !ok {
		return fmt.Errorf("no compensation handler registered for %q", step.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()

	return handler(ctx, step)
}

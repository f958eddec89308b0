package compensation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, failure Failure) error {
	args := m.Called(ctx, failure)
	return args.Error(0)
}

const (
	kindA Kind = "undo_a"
	kindB Kind = "undo_b"
	kindC Kind = "undo_c"
)

func TestLedger_UnwindAll_LIFO(t *testing.T) {
	var order []string
	record := func(ctx context.Context, step Step) error {
		order = append(order, step.EntityID)
		return nil
	}

	ledger := NewLedger("reserve", map[Kind]Handler{
		kindA: record,
		kindB: record,
		kindC: record,
	}, zerolog.Nop())

	ledger.Record(kindA, "A", nil)
	ledger.Record(kindB, "B", nil)
	ledger.Record(kindC, "C", nil)

	result := ledger.UnwindAll(context.Background(), errors.New("boom"))

	assert.Equal(t, []string{"C", "B", "A"}, order)
	assert.Equal(t, 3, result.Undone)
	assert.True(t, result.Compensated())
	assert.Equal(t, 0, ledger.Len())
}

func TestLedger_UnwindAll_ContinuesPastFailure(t *testing.T) {
	var order []string
	ok := func(ctx context.Context, step Step) error {
		order = append(order, step.EntityID)
		return nil
	}
	failing := func(ctx context.Context, step Step) error {
		order = append(order, step.EntityID)
		return errors.New("store unavailable")
	}

	reporter := new(MockReporter)
	reporter.On("Report", mock.Anything, mock.MatchedBy(func(f Failure) bool {
		return f.Step.EntityID == "B" && f.Cause == "booking insert failed" && f.OperationID == "op-1"
	})).Return(nil).Once()

	ledger := NewLedger("reserve", map[Kind]Handler{
		kindA: ok,
		kindB: failing,
		kindC: ok,
	}, zerolog.Nop(), WithReporter(reporter), WithOperationID("op-1"))

	ledger.Record(kindA, "A", nil)
	ledger.Record(kindB, "B", nil)
	ledger.Record(kindC, "C", nil)

	result := ledger.UnwindAll(context.Background(), errors.New("booking insert failed"))

	assert.Equal(t, []string{"C", "B", "A"}, order)
	assert.Equal(t, 2, result.Undone)
	require.Len(t, result.Failures, 1)
	assert.False(t, result.Compensated())
	assert.Equal(t, "store unavailable", result.Failures[0].Error)
	reporter.AssertExpectations(t)
}

func TestLedger_UnwindAll_RecoversPanics(t *testing.T) {
	ledger := NewLedger("reserve", map[Kind]Handler{
		kindA: func(ctx context.Context, step Step) error {
			panic("nil slot")
		},
	}, zerolog.Nop())

	ledger.Record(kindA, "A", nil)

	var result Result
	assert.NotPanics(t, func() {
		result = ledger.UnwindAll(context.Background(), nil)
	})
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error, "panicked")
}

func TestLedger_UnwindAll_UnknownKind(t *testing.T) {
	ledger := NewLedger("reserve", map[Kind]Handler{}, zerolog.Nop())
	ledger.Record(kindA, "A", map[string]string{"slot_id": "A"})

	result := ledger.UnwindAll(context.Background(), errors.New("boom"))

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "A", result.Failures[0].Step.Attributes["slot_id"])
}

func TestLedger_ReporterErrorIsSwallowed(t *testing.T) {
	reporter := new(MockReporter)
	reporter.On("Report", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	ledger := NewLedger("cancel", map[Kind]Handler{
		kindA: func(ctx context.Context, step Step) error { return errors.New("nope") },
	}, zerolog.Nop(), WithReporter(reporter))
	ledger.Record(kindA, "A", nil)

	result := ledger.UnwindAll(context.Background(), errors.New("boom"))

	assert.False(t, result.Compensated())
	reporter.AssertNumberOfCalls(t, "Report", 1)
}

func TestLedger_DiscardAndSteps(t *testing.T) {
	ledger := NewLedger("reserve", nil, zerolog.Nop())
	ledger.Record(kindA, "A", nil)
	ledger.Record(kindB, "B", nil)

	steps := ledger.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, kindA, steps[0].Kind)
	assert.NotEmpty(t, ledger.OperationID())

	ledger.Discard()
	assert.Equal(t, 0, ledger.Len())

	result := ledger.UnwindAll(context.Background(), nil)
	assert.Equal(t, 0, result.Undone)
	assert.True(t, result.Compensated())
}

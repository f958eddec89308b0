package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
)

var slotRowColumns = []string{"id", "provider_id", "start_at", "end_at", "status", "created_at", "updated_at"}

func setupMock(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewClientFromDB(db, zerolog.Nop()), mock
}

func TestSlotAdapter_GetByID(t *testing.T) {
	client, mock := setupMock(t)
	adapter := NewSlotAdapter(client)
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "slots" WHERE \("id" = \$1\)`).
		WithArgs("slot-1").
		WillReturnRows(sqlmock.NewRows(slotRowColumns).
			AddRow("slot-1", "provider-1", start, start.Add(time.Hour), "available", start, start))

	slot, err := adapter.GetByID(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "provider-1", slot.ProviderID)
	assert.Equal(t, entities.SlotStatusAvailable, slot.Status)
	assert.Equal(t, 60, slot.DurationMinutes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotAdapter_GetByID_NotFound(t *testing.T) {
	client, mock := setupMock(t)
	adapter := NewSlotAdapter(client)

	mock.ExpectQuery(`SELECT .* FROM "slots"`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(slotRowColumns))

	_, err := adapter.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSlotAdapter_Create_MapsConstraintViolations(t *testing.T) {
	tests := []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{name: "exclusion constraint", code: "23P01", want: repositories.ErrOverlap},
		{name: "primary key", code: "23505", want: repositories.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := setupMock(t)
			adapter := NewSlotAdapter(client)
			now := time.Now().UTC()

			mock.ExpectExec(`INSERT INTO "slots"`).
				WillReturnError(&pq.Error{Code: tt.code})

			err := adapter.Create(context.Background(), &entities.Slot{
				ID: "slot-1", ProviderID: "provider-1", Start: now, End: now.Add(time.Hour),
				Status: entities.SlotStatusAvailable, CreatedAt: now, UpdatedAt: now,
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSlotAdapter_CompareAndSwapStatus(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("condition met", func(t *testing.T) {
		client, mock := setupMock(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots" SET .* WHERE \(\("id" = \$3\) AND \("status" = \$4\)\) RETURNING`).
			WithArgs("claimed", sqlmock.AnyArg(), "slot-1", "available").
			WillReturnRows(sqlmock.NewRows(slotRowColumns).
				AddRow("slot-1", "provider-1", start, start.Add(time.Hour), "claimed", start, start))

		slot, err := adapter.CompareAndSwapStatus(context.Background(), "slot-1", entities.SlotStatusAvailable, entities.SlotStatusClaimed)
		require.NoError(t, err)
		assert.Equal(t, entities.SlotStatusClaimed, slot.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("condition not met", func(t *testing.T) {
		client, mock := setupMock(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).
			WillReturnRows(sqlmock.NewRows(slotRowColumns))

		_, err := adapter.CompareAndSwapStatus(context.Background(), "slot-1", entities.SlotStatusAvailable, entities.SlotStatusClaimed)
		assert.ErrorIs(t, err, repositories.ErrConditionNotMet)
	})

	t.Run("driver error", func(t *testing.T) {
		client, mock := setupMock(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).
			WillReturnError(errors.New("connection reset"))

		_, err := adapter.CompareAndSwapStatus(context.Background(), "slot-1", entities.SlotStatusAvailable, entities.SlotStatusClaimed)
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrConditionNotMet)
	})
}

func TestSlotAdapter_Claim(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	now := start.Add(-2 * time.Hour)

	t.Run("upcoming slot", func(t *testing.T) {
		client, mock := setupMock(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots" SET .* WHERE \(\("id" = \$3\) AND \("start_at" > \$4\) AND \("status" = \$5\)\) RETURNING`).
			WithArgs("claimed", sqlmock.AnyArg(), "slot-1", now, "available").
			WillReturnRows(sqlmock.NewRows(slotRowColumns).
				AddRow("slot-1", "provider-1", start, start.Add(time.Hour), "claimed", start, start))

		slot, err := adapter.Claim(context.Background(), "slot-1", now)
		require.NoError(t, err)
		assert.Equal(t, entities.SlotStatusClaimed, slot.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("elapsed or taken slot", func(t *testing.T) {
		client, mock := setupMock(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).
			WillReturnRows(sqlmock.NewRows(slotRowColumns))

		_, err := adapter.Claim(context.Background(), "slot-1", start.Add(time.Hour))
		assert.ErrorIs(t, err, repositories.ErrConditionNotMet)
	})
}

func TestSlotAdapter_FindOverlapping(t *testing.T) {
	client, mock := setupMock(t)
	adapter := NewSlotAdapter(client)
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "slots" WHERE .*"start_at" < .*"end_at" > .* ORDER BY "start_at" ASC`).
		WithArgs("provider-1", "cancelled", start.Add(time.Hour), start).
		WillReturnRows(sqlmock.NewRows(slotRowColumns).
			AddRow("slot-0", "provider-1", start.Add(-30*time.Minute), start.Add(30*time.Minute), "claimed", start, start))

	slots, err := adapter.FindOverlapping(context.Background(), "provider-1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "slot-0", slots[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotAdapter_ListByProvider(t *testing.T) {
	client, mock := setupMock(t)
	adapter := NewSlotAdapter(client)
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "slots" WHERE .* ORDER BY "start_at" ASC, "id" ASC LIMIT \$\d+`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns).
			AddRow("slot-1", "provider-1", start, start.Add(time.Hour), "available", start, start).
			AddRow("slot-2", "provider-1", start.Add(time.Hour), start.Add(2*time.Hour), "available", start, start))

	slots, err := adapter.ListByProvider(context.Background(), "provider-1", repositories.SlotFilter{
		Status: entities.SlotStatusAvailable,
		From:   &start,
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Len(t, slots, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

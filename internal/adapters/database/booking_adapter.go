package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
)

var bookingColumns = []interface{}{
	"id", "slot_id", "patient_id", "provider_id", "status",
	"payment_method", "payment_status", "amount_cents", "currency",
	"transaction_id", "cancellation_reason", "notes", "reminders",
	"cancelled_at", "created_at", "updated_at",
}

var activeBookingStatuses = []entities.BookingStatus{entities.BookingStatusPending, entities.BookingStatusConfirmed}

// bookingRow adds the JSONB reminders column to the entity
type bookingRow struct {
	entities.Booking
	RemindersJSON []byte `db:"reminders"`
}

func (r *bookingRow) toEntity() (*entities.Booking, error) {
	booking := r.Booking
	booking.Reminders = []entities.Reminder{}
	if len(r.RemindersJSON) > 0 {
		if err := json.Unmarshal(r.RemindersJSON, &booking.Reminders); err != nil {
			return nil, err
		}
	}
	return &booking, nil
}

// BookingAdapter implements the BookingRepository interface. A partial unique
// index keeps at most one pending or confirmed booking per slot.
type BookingAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewBookingAdapter creates a new booking adapter
func NewBookingAdapter(client *postgres.Client) repositories.BookingRepository {
	return &BookingAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new booking
func (a *BookingAdapter) Create(ctx context.Context, booking *entities.Booking) error {
	reminders := booking.Reminders
	if reminders == nil {
		reminders = []entities.Reminder{}
	}
	remindersJSON, err := json.Marshal(reminders)
	if err != nil {
		return translate("encode reminders", err)
	}

	record := goqu.Record{
		"id":                  booking.ID,
		"slot_id":             booking.SlotID,
		"patient_id":          booking.PatientID,
		"provider_id":         booking.ProviderID,
		"status":              booking.Status,
		"payment_method":      booking.PaymentMethod,
		"payment_status":      booking.PaymentStatus,
		"amount_cents":        booking.AmountCents,
		"currency":            booking.Currency,
		"transaction_id":      booking.TransactionID,
		"cancellation_reason": booking.CancellationReason,
		"notes":               booking.Notes,
		"reminders":           string(remindersJSON),
		"cancelled_at":        booking.CancelledAt,
		"created_at":          booking.CreatedAt,
		"updated_at":          booking.UpdatedAt,
	}

	query, args, err := a.db.Insert("bookings").Prepared(true).Rows(record).ToSQL()
	if err != nil {
		return translate("build booking insert", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return translate("create booking", err)
	}
	return nil
}

// GetByID retrieves a booking by ID
func (a *BookingAdapter) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	return a.getOne(ctx, "get booking", goqu.Ex{"id": id})
}

// FindActiveBySlot returns the pending or confirmed booking of a slot
func (a *BookingAdapter) FindActiveBySlot(ctx context.Context, slotID string) (*entities.Booking, error) {
	return a.getOne(ctx, "find active booking", goqu.Ex{
		"slot_id": slotID,
		"status":  activeBookingStatuses,
	})
}

func (a *BookingAdapter) getOne(ctx context.Context, op string, where goqu.Ex) (*entities.Booking, error) {
	query, args, err := a.db.Select(bookingColumns...).
		From("bookings").
		Prepared(true).
		Where(where).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, translate("build booking query", err)
	}

	row := &bookingRow{}
	if err := a.client.DBX().GetContext(ctx, row, query, args...); err != nil {
		return nil, translate(op, err)
	}
	booking, err := row.toEntity()
	if err != nil {
		return nil, translate("decode reminders", err)
	}
	return booking, nil
}

// CompareAndSwap writes the mutable fields of booking if its stored status
// still equals expected. Reminders are left untouched.
func (a *BookingAdapter) CompareAndSwap(ctx context.Context, booking *entities.Booking, expected entities.BookingStatus) error {
	query, args, err := a.db.Update("bookings").
		Prepared(true).
		Set(goqu.Record{
			"status":              booking.Status,
			"payment_status":      booking.PaymentStatus,
			"transaction_id":      booking.TransactionID,
			"cancellation_reason": booking.CancellationReason,
			"notes":               booking.Notes,
			"cancelled_at":        booking.CancelledAt,
			"updated_at":          booking.UpdatedAt,
		}).
		Where(goqu.Ex{"id": booking.ID, "status": expected}).
		ToSQL()
	if err != nil {
		return translate("build booking update", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return translate("update booking", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translate("get rows affected", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	exists, err := a.exists(ctx, booking.ID)
	if err != nil {
		return err
	}
	if !exists {
		return repositories.ErrNotFound
	}
	return repositories.ErrConditionNotMet
}

// AppendReminder appends to the reminders array in place
func (a *BookingAdapter) AppendReminder(ctx context.Context, bookingID string, reminder entities.Reminder) error {
	payload, err := json.Marshal([]entities.Reminder{reminder})
	if err != nil {
		return translate("encode reminder", err)
	}

	query, args, err := a.db.Update("bookings").
		Prepared(true).
		Set(goqu.Record{
			"reminders":  goqu.L("reminders || ?::jsonb", string(payload)),
			"updated_at": reminder.CreatedAt,
		}).
		Where(goqu.Ex{"id": bookingID}).
		ToSQL()
	if err != nil {
		return translate("build reminder update", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return translate("append reminder", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translate("get rows affected", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// ListByPatient retrieves bookings for a patient
func (a *BookingAdapter) ListByPatient(ctx context.Context, patientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return a.list(ctx, goqu.Ex{"patient_id": patientID}, filter)
}

// ListByProvider retrieves bookings for a provider
func (a *BookingAdapter) ListByProvider(ctx context.Context, providerID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return a.list(ctx, goqu.Ex{"provider_id": providerID}, filter)
}

func (a *BookingAdapter) list(ctx context.Context, owner goqu.Ex, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	ds := a.db.Select(bookingColumns...).
		From("bookings").
		Prepared(true).
		Where(owner)

	if len(filter.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(filter.Statuses))
	}

	if filter.From != nil {
		ds = ds.Where(goqu.C("created_at").Gte(*filter.From))
	}

	if filter.To != nil {
		ds = ds.Where(goqu.C("created_at").Lt(*filter.To))
	}

	ds = ds.Order(goqu.I("created_at").Asc(), goqu.I("id").Asc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, translate("build booking list query", err)
	}

	var rows []bookingRow
	if err := a.client.DBX().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translate("list bookings", err)
	}

	bookings := make([]*entities.Booking, 0, len(rows))
	for i := range rows {
		booking, err := rows[i].toEntity()
		if err != nil {
			return nil, translate("decode reminders", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func (a *BookingAdapter) exists(ctx context.Context, id string) (bool, error) {
	query, args, err := a.db.Select(goqu.L("1")).
		From("bookings").
		Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return false, translate("build exists query", err)
	}

	var one int
	err = a.client.DBX().GetContext(ctx, &one, query, args...)
	if err == nil {
		return true, nil
	}
	if errors.Is(translate("check booking", err), repositories.ErrNotFound) {
		return false, nil
	}
	return false, translate("check booking", err)
}

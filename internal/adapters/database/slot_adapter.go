package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
)

var slotColumns = []interface{}{"id", "provider_id", "start_at", "end_at", "status", "created_at", "updated_at"}

// SlotAdapter implements the SlotRepository interface. Overlap between live
// slots of a provider is also enforced by an exclusion constraint.
type SlotAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSlotAdapter creates a new slot adapter
func NewSlotAdapter(client *postgres.Client) repositories.SlotRepository {
	return &SlotAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new slot
func (a *SlotAdapter) Create(ctx context.Context, slot *entities.Slot) error {
	record := goqu.Record{
		"id":          slot.ID,
		"provider_id": slot.ProviderID,
		"start_at":    slot.Start.UTC(),
		"end_at":      slot.End.UTC(),
		"status":      slot.Status,
		"created_at":  slot.CreatedAt,
		"updated_at":  slot.UpdatedAt,
	}

	query, args, err := a.db.Insert("slots").Prepared(true).Rows(record).ToSQL()
	if err != nil {
		return translate("build slot insert", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return translate("create slot", err)
	}
	return nil
}

// GetByID retrieves a slot by ID
func (a *SlotAdapter) GetByID(ctx context.Context, id string) (*entities.Slot, error) {
	query, args, err := a.db.Select(slotColumns...).
		From("slots").
		Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, translate("build slot query", err)
	}

	slot := &entities.Slot{}
	if err := a.client.DBX().GetContext(ctx, slot, query, args...); err != nil {
		return nil, translate("get slot", err)
	}
	return slot, nil
}

// FindOverlapping returns live slots of a provider intersecting [start, end)
func (a *SlotAdapter) FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]*entities.Slot, error) {
	query, args, err := a.db.Select(slotColumns...).
		From("slots").
		Prepared(true).
		Where(
			goqu.C("provider_id").Eq(providerID),
			goqu.C("status").Neq(entities.SlotStatusCancelled),
			goqu.C("start_at").Lt(end.UTC()),
			goqu.C("end_at").Gt(start.UTC()),
		).
		Order(goqu.I("start_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, translate("build overlap query", err)
	}

	var slots []*entities.Slot
	if err := a.client.DBX().SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, translate("find overlapping slots", err)
	}
	return slots, nil
}

// CompareAndSwapStatus moves a slot from expected to next in one statement
func (a *SlotAdapter) CompareAndSwapStatus(ctx context.Context, id string, expected, next entities.SlotStatus) (*entities.Slot, error) {
	return a.swapStatus(ctx, goqu.Ex{"id": id, "status": expected}, next)
}

// Claim moves an available slot to claimed only while its start is after now
func (a *SlotAdapter) Claim(ctx context.Context, id string, now time.Time) (*entities.Slot, error) {
	return a.swapStatus(ctx, goqu.Ex{
		"id":       id,
		"status":   entities.SlotStatusAvailable,
		"start_at": goqu.Op{"gt": now.UTC()},
	}, entities.SlotStatusClaimed)
}

func (a *SlotAdapter) swapStatus(ctx context.Context, where goqu.Ex, next entities.SlotStatus) (*entities.Slot, error) {
	query, args, err := a.db.Update("slots").
		Prepared(true).
		Set(goqu.Record{
			"status":     next,
			"updated_at": time.Now().UTC(),
		}).
		Where(where).
		Returning(slotColumns...).
		ToSQL()
	if err != nil {
		return nil, translate("build slot update", err)
	}

	slot := &entities.Slot{}
	if err := a.client.DBX().GetContext(ctx, slot, query, args...); err != nil {
		// No row means the slot is missing or no longer matches the condition.
		if err = translate("update slot status", err); err == repositories.ErrNotFound {
			return nil, repositories.ErrConditionNotMet
		}
		return nil, err
	}
	return slot, nil
}

// ListByProvider retrieves slots for a provider ordered by start
func (a *SlotAdapter) ListByProvider(ctx context.Context, providerID string, filter repositories.SlotFilter) ([]*entities.Slot, error) {
	ds := a.db.Select(slotColumns...).
		From("slots").
		Prepared(true).
		Where(goqu.Ex{"provider_id": providerID})

	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}

	if filter.From != nil {
		ds = ds.Where(goqu.C("start_at").Gte(filter.From.UTC()))
	}

	if filter.To != nil {
		ds = ds.Where(goqu.C("start_at").Lt(filter.To.UTC()))
	}

	ds = ds.Order(goqu.I("start_at").Asc(), goqu.I("id").Asc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, translate("build slot list query", err)
	}

	var slots []*entities.Slot
	if err := a.client.DBX().SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, translate("list slots", err)
	}
	return slots, nil
}

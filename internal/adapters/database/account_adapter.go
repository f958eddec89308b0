package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
)

// accountRow stores the role specific profile as JSONB next to the base record
type accountRow struct {
	entities.Account
	Profile []byte `db:"profile"`
}

// AccountAdapter implements the AccountRepository interface
type AccountAdapter struct {
	client *postgres.Client
}

// NewAccountAdapter creates a new account adapter
func NewAccountAdapter(client *postgres.Client) repositories.AccountRepository {
	return &AccountAdapter{client: client}
}

// GetByID retrieves an account with its profile
func (a *AccountAdapter) GetByID(ctx context.Context, id string) (*entities.Account, error) {
	query := `
		SELECT id, role, name, email, phone, profile, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var row accountRow
	if err := a.client.DBX().GetContext(ctx, &row, query, id); err != nil {
		return nil, translate("get account", err)
	}

	account := row.Account
	if err := decodeProfile(&account, row.Profile); err != nil {
		return nil, translate("decode account profile", err)
	}
	return &account, nil
}

// Create persists a new account
func (a *AccountAdapter) Create(ctx context.Context, account *entities.Account) error {
	profile, err := encodeProfile(account)
	if err != nil {
		return translate("encode account profile", err)
	}

	query := `
		INSERT INTO accounts (id, role, name, email, phone, profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = a.client.DBX().ExecContext(ctx, query,
		account.ID, account.Role, account.Name, account.Email, account.Phone,
		string(profile), account.CreatedAt, account.UpdatedAt,
	)
	return translate("create account", err)
}

func encodeProfile(account *entities.Account) ([]byte, error) {
	switch account.Role {
	case entities.RolePatient:
		if account.Patient != nil {
			return json.Marshal(account.Patient)
		}
	case entities.RoleTherapist:
		if account.Therapist != nil {
			return json.Marshal(account.Therapist)
		}
	case entities.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", account.Role)
	}
	return []byte("{}"), nil
}

func decodeProfile(account *entities.Account, profile []byte) error {
	if len(profile) == 0 {
		return nil
	}
	switch account.Role {
	case entities.RolePatient:
		account.Patient = &entities.PatientProfile{}
		return json.Unmarshal(profile, account.Patient)
	case entities.RoleTherapist:
		account.Therapist = &entities.TherapistProfile{}
		return json.Unmarshal(profile, account.Therapist)
	}
	return nil
}

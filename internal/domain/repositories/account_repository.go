package repositories

import (
	"context"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// AccountRepository defines read access to patient and therapist accounts
type AccountRepository interface {
	// GetByID retrieves an account with its role-specific profile
	GetByID(ctx context.Context, id string) (*entities.Account, error)

	// Create persists a new account
	Create(ctx context.Context, account *entities.Account) error
}

package entities

import "time"

// Role discriminates the account variant
type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleTherapist, RoleAdmin:
		return true
	}
	return false
}

// Account is the shared base record. Exactly one of Patient or Therapist is
// set, selected by Role; admins carry neither.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Role      Role      `json:"role" db:"role"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Phone     *string   `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Patient   *PatientProfile   `json:"patient,omitempty" db:"-"`
	Therapist *TherapistProfile `json:"therapist,omitempty" db:"-"`
}

// PatientProfile holds patient specific data
type PatientProfile struct {
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
	PreferredChannel string     `json:"preferred_channel,omitempty"`
}

// TherapistProfile holds provider specific data
type TherapistProfile struct {
	Specializations  []string `json:"specializations,omitempty"`
	LicenseNumber    string   `json:"license_number,omitempty"`
	SessionRateCents int64    `json:"session_rate_cents,omitempty"`
	Bio              string   `json:"bio,omitempty"`
}

// Requester is the already-authenticated caller of an operation
type Requester struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the requester may run administrative operations
func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}

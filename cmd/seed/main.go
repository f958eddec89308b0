package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/therapybooking/internal/adapters/database"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/pkg/config"
)

// seedDays is how many business days of slots are created per therapist
const seedDays = 5

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := observability.InitLogger("seed", cfg.Environment)

	pgClient, err := postgres.NewClient(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pgClient.Close()

	if err := pgClient.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()

	if os.Getenv("RESET_DB") == "true" {
		logger.Warn().Msg("RESET_DB=true detected, truncating tables before seeding")
		if _, err := pgClient.DB().ExecContext(ctx, `TRUNCATE TABLE bookings, slots, accounts`); err != nil {
			logger.Fatal().Err(err).Msg("failed to reset tables")
		}
	}

	accounts := database.NewAccountAdapter(pgClient)
	slotService := services.NewSlotService(database.NewSlotAdapter(pgClient), cfg.Reservation, logger)

	now := time.Now().UTC()
	therapists := []entities.Account{
		{
			ID: "therapist-rivera", Role: entities.RoleTherapist, Name: "Dr. Ana Rivera", Email: "rivera@example.com",
			Therapist: &entities.TherapistProfile{Specializations: []string{"cbt", "anxiety"}, LicenseNumber: "LIC-1001", SessionRateCents: cfg.Reservation.SessionPriceCents},
		},
		{
			ID: "therapist-okafor", Role: entities.RoleTherapist, Name: "Dr. Chidi Okafor", Email: "okafor@example.com",
			Therapist: &entities.TherapistProfile{Specializations: []string{"emdr", "trauma"}, LicenseNumber: "LIC-1002", SessionRateCents: cfg.Reservation.SessionPriceCents},
		},
	}
	patients := []entities.Account{
		{ID: "patient-ada", Role: entities.RolePatient, Name: "Ada Lovelace", Email: "ada@example.com", Patient: &entities.PatientProfile{PreferredChannel: "email"}},
		{ID: "patient-grace", Role: entities.RolePatient, Name: "Grace Hopper", Email: "grace@example.com", Patient: &entities.PatientProfile{PreferredChannel: "sms"}},
	}
	admin := entities.Account{ID: "admin", Role: entities.RoleAdmin, Name: "Clinic Admin", Email: "admin@example.com"}

	all := append(append(therapists, patients...), admin)
	for i := range all {
		account := all[i]
		account.CreatedAt, account.UpdatedAt = now, now
		if err := accounts.Create(ctx, &account); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				logger.Info().Str("account_id", account.ID).Msg("account already exists")
				continue
			}
			logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to create account")
		}
	}

	created := 0
	loc := cfg.Reservation.Location()
	for _, therapist := range therapists {
		for _, day := range nextBusinessDays(time.Now().In(loc), seedDays) {
			open := day.Add(cfg.Reservation.BusinessHoursOpen)
			for start := open; !start.Add(time.Hour).After(day.Add(cfg.Reservation.BusinessHoursClose)); start = start.Add(2 * time.Hour) {
				if _, err := slotService.CreateSlot(ctx, therapist.ID, start, start.Add(time.Hour)); err != nil {
					logger.Warn().Err(err).Str("provider_id", therapist.ID).Time("start", start).Msg("skipped slot")
					continue
				}
				created++
			}
		}
	}

	logger.Info().Int("accounts", len(all)).Int("slots", created).Msg("seeding complete")
}

// nextBusinessDays returns local midnights of the n weekdays after from
func nextBusinessDays(from time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for len(days) < n {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, day)
	}
	return days
}

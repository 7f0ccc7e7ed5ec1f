package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	doctors       int
	days          int
	inactiveRatio float64
	migrate       bool
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate doctors and availability windows with fake data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 50, "number of doctors to create")
	cmd.Flags().IntVar(&opts.days, "days", 14, "number of upcoming days to open availability for")
	cmd.Flags().Float64Var(&opts.inactiveRatio, "inactive-ratio", 0.1, "share of doctors created Inactive")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "apply pending migrations first")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Int("doctors", opts.doctors).Int("days", opts.days).Msg("seed starting")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if opts.migrate {
		if _, err := db.NewMigrator(pool, logger).Up(ctx); err != nil {
			return err
		}
	}

	doctors, err := seedDoctors(ctx, pool, opts, logger)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), redisclient.NopLocker{}, cfg, zerolog.Nop(), nil)
	today := time.Now().In(cfg.Location)
	if err := seedWindows(ctx, svc, doctors, today, opts.days, logger); err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

// seedDoctors inserts doctors in one transaction and returns the IDs of the
// active ones.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, opts seedOptions, logger zerolog.Logger) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	active := make([]uuid.UUID, 0, opts.doctors)
	for i := 0; i < opts.doctors; i++ {
		id := uuid.New()
		status := appointment.DoctorActive
		if gofakeit.Float64Range(0, 1) < opts.inactiveRatio {
			status = appointment.DoctorInactive
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, email, specialization, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, "Dr. "+gofakeit.Name(), gofakeit.Email(), gofakeit.RandomString(specializations), string(status))
		if err != nil {
			return nil, err
		}
		if status == appointment.DoctorActive {
			active = append(active, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Int("created", opts.doctors).Int("active", len(active)).Msg("doctors seeded")
	return active, nil
}

// seedWindows opens a working day with a lunch break for every active doctor
// on each upcoming weekday.
func seedWindows(ctx context.Context, svc *appointment.Service, doctors []uuid.UUID, from time.Time, days int, logger zerolog.Logger) error {
	created := 0
	for d := 0; d < days; d++ {
		day := from.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		for _, doctorID := range doctors {
			in := randomWindow(doctorID, day)
			_, err := svc.CreateWindow(ctx, in)
			if errors.Is(err, appointment.ErrWindowExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("doctor %s on %s: %w", doctorID, in.Date, err)
			}
			created++
		}
	}

	logger.Info().Int("windows", created).Msg("availability seeded")
	return nil
}

func randomWindow(doctorID uuid.UUID, day time.Time) appointment.WindowInput {
	start := gofakeit.Number(7, 10)
	end := gofakeit.Number(15, 19)
	breakStart := fmt.Sprintf("%02d:00", gofakeit.Number(12, 13))
	breakEnd := breakStart[:3] + "45"

	in := appointment.WindowInput{
		DoctorID:  doctorID.String(),
		Date:      day.Format(appointment.DateLayout),
		StartTime: fmt.Sprintf("%02d:00", start),
		EndTime:   fmt.Sprintf("%02d:00", end),
	}
	// Roughly a third of the days run straight through without a break.
	if gofakeit.Number(0, 2) > 0 {
		in.BreakStart = &breakStart
		in.BreakEnd = &breakEnd
	}
	return in
}

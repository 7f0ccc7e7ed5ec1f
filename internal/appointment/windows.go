package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

func parseClockField(raw, field string) (ClockTime, error) {
	t, err := ParseClockTime(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrValidation, field, err)
	}
	return t, nil
}

func parseOptionalClock(raw *string, field string) (*ClockTime, error) {
	raw = trimOptional(raw)
	if raw == nil {
		return nil, nil
	}
	t, err := parseClockField(*raw, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateWindow records a doctor's availability for one date. A doctor has
// at most one window per date.
func (s *Service) CreateWindow(ctx context.Context, in WindowInput) (*Window, error) {
	doctorID, err := parseID(in.DoctorID, "doctor_id")
	if err != nil {
		return nil, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	w := Window{DoctorID: doctorID, Date: date}
	if w.StartTime, err = parseClockField(in.StartTime, "start_time"); err != nil {
		return nil, err
	}
	if w.EndTime, err = parseClockField(in.EndTime, "end_time"); err != nil {
		return nil, err
	}
	if w.BreakStart, err = parseOptionalClock(in.BreakStart, "break_start"); err != nil {
		return nil, err
	}
	if w.BreakEnd, err = parseOptionalClock(in.BreakEnd, "break_end"); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.activeDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateWindow(ctx, &w)
	if err != nil {
		if errors.Is(err, ErrWindowExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create availability window: %w", err)
	}

	s.log.Info().
		Str("window_id", created.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", date.Format(DateLayout)).
		Msg("availability window created")

	return created, nil
}

func (s *Service) GetWindow(ctx context.Context, doctorID uuid.UUID, date string) (*Window, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	w, err := s.repo.GetWindow(ctx, doctorID, day)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get availability window: %w", err)
	}
	return w, nil
}

func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]Window, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	windows, err := s.repo.ListWindowsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return windows, nil
}

// UpdateWindow applies patch and re-validates the resulting window.
// Existing appointments are left as they are.
func (s *Service) UpdateWindow(ctx context.Context, id uuid.UUID, patch WindowPatch) (*Window, error) {
	w, err := s.repo.GetWindowByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability window: %w", err)
	}

	if patch.StartTime != nil {
		if w.StartTime, err = parseClockField(*patch.StartTime, "start_time"); err != nil {
			return nil, err
		}
	}
	if patch.EndTime != nil {
		if w.EndTime, err = parseClockField(*patch.EndTime, "end_time"); err != nil {
			return nil, err
		}
	}

	switch {
	case patch.ClearBreak:
		w.BreakStart, w.BreakEnd = nil, nil
	default:
		if patch.BreakStart != nil {
			if w.BreakStart, err = parseOptionalClock(patch.BreakStart, "break_start"); err != nil {
				return nil, err
			}
		}
		if patch.BreakEnd != nil {
			if w.BreakEnd, err = parseOptionalClock(patch.BreakEnd, "break_end"); err != nil {
				return nil, err
			}
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateWindow(ctx, w)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update availability window: %w", err)
	}
	return updated, nil
}

func (s *Service) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteWindow(ctx, id); err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return err
		}
		return fmt.Errorf("delete availability window: %w", err)
	}

	s.log.Info().Str("window_id", id.String()).Msg("availability window deleted")
	return nil
}

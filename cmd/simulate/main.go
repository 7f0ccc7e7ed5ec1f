package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	WindowLimit  int
	HourlyCap    int
	Granularity  time.Duration
}

// bookable is one open availability window a worker can target.
type bookable struct {
	DoctorID uuid.UUID
	Date     string
	Start    appointment.ClockTime
	End      appointment.ClockTime
}

type DataPool struct {
	Windows      []bookable
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	StatusChange OperationMetrics
	ReadByID     OperationMetrics
	Slots        OperationMetrics
	ListByDoctor OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("windows", len(dataPool.Windows)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := verifyInvariants(verifyCtx, pgPool, cfg.HourlyCap); err != nil {
		logger.Error().Err(err).Msg("invariant check failed")
		os.Exit(1)
	}
	logger.Info().Msg("invariants hold: no duplicate active slots and no hour over capacity")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		WindowLimit:  getInt("SIM_WINDOW_LIMIT", 200),
		HourlyCap:    base.HourlyCap,
		Granularity:  base.SlotGranularity,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of upcoming windows so workers contend on
// the same doctors and hours.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT w.doctor_id, w.available_date, w.start_time, w.end_time
		FROM availability_windows w
		JOIN doctors d ON d.id = w.doctor_id
		WHERE d.status = 'Active' AND w.available_date >= CURRENT_DATE
		ORDER BY w.available_date, w.doctor_id
		LIMIT $1
	`, cfg.WindowLimit)
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var (
			b          bookable
			date       time.Time
			start, end pgtype.Time
		)
		if err := rows.Scan(&b.DoctorID, &date, &start, &end); err != nil {
			return nil, err
		}
		b.Date = date.Format(appointment.DateLayout)
		b.Start = appointment.ClockTime(start.Microseconds / 1_000_000)
		b.End = appointment.ClockTime(end.Microseconds / 1_000_000)
		dataPool.Windows = append(dataPool.Windows, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Windows) == 0 {
		return nil, fmt.Errorf("no upcoming availability windows; run the seed command first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng, faker)
			} else if r < s.config.BookingRatio+s.config.StatusRatio {
				s.doStatusChange(ctx, rng)
			} else {
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doSlots(ctx, rng)
				case 2:
					s.doListByDoctor(ctx, rng)
				}
			}
		}
	}
}

// randomSlot picks a grid-aligned start inside the window. Break times are
// left in on purpose so the server's rejection path gets traffic too.
func (s *Simulator) randomSlot(rng *rand.Rand, w bookable) appointment.ClockTime {
	step := appointment.ClockTime(s.config.Granularity / time.Second)
	if step <= 0 {
		step = appointment.NewClockTime(0, 15, 0)
	}
	n := int((w.End - w.Start) / step)
	if n <= 0 {
		return w.Start
	}
	return w.Start + appointment.ClockTime(rng.Intn(n))*step
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	w := s.pool.Windows[rng.Intn(len(s.pool.Windows))]
	email := faker.Email()
	age := faker.Number(1, 95)

	body, _ := json.Marshal(map[string]any{
		"doctor_id":        w.DoctorID.String(),
		"appointment_date": w.Date,
		"appointment_time": s.randomSlot(rng, w).Short(),
		"patient_name":     faker.Name(),
		"patient_email":    email,
		"patient_age":      age,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var envelope struct {
				Data struct {
					ID uuid.UUID `json:"id"`
				} `json:"data"`
			}
			if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Data.ID != uuid.Nil {
				s.pool.AddAppointment(envelope.Data.ID)
			}
		case http.StatusConflict, http.StatusUnprocessableEntity:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

var statusTargets = []appointment.AppointmentStatus{
	appointment.StatusAccepted,
	appointment.StatusConfirmed,
	appointment.StatusCancelled,
	appointment.StatusRejected,
}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{
		"status": string(statusTargets[rng.Intn(len(statusTargets))]),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, apptID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.StatusChange.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.get(ctx, &s.metrics.ReadByID, fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID))
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	w := s.pool.Windows[rng.Intn(len(s.pool.Windows))]
	s.get(ctx, &s.metrics.Slots, fmt.Sprintf("%s/doctors/%s/slots/%s", s.config.APIBaseURL, w.DoctorID, w.Date))
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	w := s.pool.Windows[rng.Intn(len(s.pool.Windows))]
	s.get(ctx, &s.metrics.ListByDoctor,
		fmt.Sprintf("%s/appointments?doctor_id=%s&date=%s&limit=20", s.config.APIBaseURL, w.DoctorID, w.Date))
}

func (s *Simulator) get(ctx context.Context, om *OperationMetrics, url string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	om.Record(latency, success, false)
}

// verifyInvariants re-reads the committed state and fails if any doctor has
// two active appointments at one time or more than hourlyCap in one hour.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool, hourlyCap int) error {
	var duplicates int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status IN ('Pending', 'Accepted', 'Confirmed')
			GROUP BY doctor_id, appointment_date, appointment_time
			HAVING count(*) > 1
		) d
	`).Scan(&duplicates)
	if err != nil {
		return fmt.Errorf("count duplicate slots: %w", err)
	}

	var overCap int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status IN ('Pending', 'Accepted', 'Confirmed')
			GROUP BY doctor_id, appointment_date, date_part('hour', appointment_time)
			HAVING count(*) > $1
		) h
	`, hourlyCap).Scan(&overCap)
	if err != nil {
		return fmt.Errorf("count hours over capacity: %w", err)
	}

	if duplicates > 0 || overCap > 0 {
		return fmt.Errorf("%d duplicate active slots, %d hours over capacity %d", duplicates, overCap, hourlyCap)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hourly cap: %d\n", s.config.HourlyCap)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Available slots", &s.metrics.Slots)
	printOperationReport("List by doctor", &s.metrics.ListByDoctor)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

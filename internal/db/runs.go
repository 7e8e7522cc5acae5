package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one persisted disparity computation.
type RunRecord struct {
	RunID   string `json:"run_id"`
	SweepID string `json:"sweep_id,omitempty"`
	Backend string `json:"backend"`

	DeviceIndex int `json:"device_index"`

	Width        int `json:"width"`
	Height       int `json:"height"`
	ResizeFactor int `json:"resize_factor"`
	MaxDisp      int `json:"max_disp"`
	WinSize      int `json:"win_size"`
	CCThresh     int `json:"cc_thresh"`
	OccThresh    int `json:"occ_thresh"`

	WithCrossChecking    bool `json:"with_cross_checking"`
	WithOcclusionFilling bool `json:"with_occlusion_filling"`
	WithNormalization    bool `json:"with_normalization"`

	MatchingMs       float64 `json:"matching_ms"`
	PostProcessingMs float64 `json:"post_processing_ms"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	OccludedFraction float64 `json:"occluded_fraction"`
	MeanDisparity    float64 `json:"mean_disparity"`
	OutputPath       string  `json:"output_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SweepRecord describes a parameter sweep over one stereo pair.
type SweepRecord struct {
	SweepID     string          `json:"sweep_id"`
	LeftPath    string          `json:"left_path"`
	RightPath   string          `json:"right_path"`
	Status      string          `json:"status"`
	Request     json.RawMessage `json:"request"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Sweep statuses.
const (
	SweepRunning  = "running"
	SweepComplete = "complete"
	SweepFailed   = "failed"
)

// RunStore provides persistence for runs and sweeps.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore over an open database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// InsertSweep stores a new sweep. An empty SweepID is filled with a UUID and
// a zero StartedAt with the current time.
func (s *RunStore) InsertSweep(rec *SweepRecord) error {
	if rec.SweepID == "" {
		rec.SweepID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = SweepRunning
	}
	if len(rec.Request) == 0 {
		rec.Request = json.RawMessage("{}")
	}
	query := `
		INSERT INTO zncc_sweeps (sweep_id, left_path, right_path, status, request, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.SweepID, rec.LeftPath, rec.RightPath, rec.Status, string(rec.Request),
			nullStr(rec.Error), rec.StartedAt.UTC().Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting sweep %s: %w", rec.SweepID, err)
	}
	return nil
}

// CompleteSweep marks a sweep finished. A non-empty errMsg marks it failed.
func (s *RunStore) CompleteSweep(sweepID string, completedAt time.Time, errMsg string) error {
	status := SweepComplete
	if errMsg != "" {
		status = SweepFailed
	}
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.Exec(`UPDATE zncc_sweeps SET status = ?, error = ?, completed_at = ? WHERE sweep_id = ?`,
			status, nullStr(errMsg), completedAt.UTC().Format(timeLayout), sweepID)
		return err
	})
	if err != nil {
		return fmt.Errorf("completing sweep %s: %w", sweepID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sweep %s: %w", sweepID, ErrNotFound)
	}
	return nil
}

// GetSweep returns one sweep by ID, or ErrNotFound.
func (s *RunStore) GetSweep(sweepID string) (*SweepRecord, error) {
	var rec SweepRecord
	var request string
	var errMsg, startedAt, completedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT sweep_id, left_path, right_path, status, request, error, started_at, completed_at
		FROM zncc_sweeps WHERE sweep_id = ?`, sweepID).Scan(
		&rec.SweepID, &rec.LeftPath, &rec.RightPath, &rec.Status, &request, &errMsg, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", sweepID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying sweep %s: %w", sweepID, err)
	}
	rec.Request = json.RawMessage(request)
	rec.Error = errMsg.String
	st, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at for sweep %s: %w", sweepID, err)
	}
	if st != nil {
		rec.StartedAt = *st
	}
	if rec.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at for sweep %s: %w", sweepID, err)
	}
	return &rec, nil
}

// InsertRun stores a run. An empty RunID is filled with a UUID and a zero
// CreatedAt with the current time.
func (s *RunStore) InsertRun(rec *RunRecord) error {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO zncc_runs (
			run_id, sweep_id, backend, device_index, width, height, resize_factor,
			max_disp, win_size, cc_thresh, occ_thresh,
			with_cross_checking, with_occlusion_filling, with_normalization,
			matching_ms, post_processing_ms, degraded, degraded_reason,
			occluded_fraction, mean_disparity, output_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID, nullStr(rec.SweepID), rec.Backend, rec.DeviceIndex, rec.Width, rec.Height, rec.ResizeFactor,
			rec.MaxDisp, rec.WinSize, rec.CCThresh, rec.OccThresh,
			boolInt(rec.WithCrossChecking), boolInt(rec.WithOcclusionFilling), boolInt(rec.WithNormalization),
			rec.MatchingMs, rec.PostProcessingMs, boolInt(rec.Degraded), nullStr(rec.DegradedReason),
			rec.OccludedFraction, rec.MeanDisparity, nullStr(rec.OutputPath),
			rec.CreatedAt.UTC().Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

const runColumns = `
	run_id, sweep_id, backend, device_index, width, height, resize_factor,
	max_disp, win_size, cc_thresh, occ_thresh,
	with_cross_checking, with_occlusion_filling, with_normalization,
	matching_ms, post_processing_ms, degraded, degraded_reason,
	occluded_fraction, mean_disparity, output_path, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var rec RunRecord
	var sweepID, reason, output, createdAt sql.NullString
	var cross, fill, norm, degraded int
	if err := sc.Scan(
		&rec.RunID, &sweepID, &rec.Backend, &rec.DeviceIndex, &rec.Width, &rec.Height, &rec.ResizeFactor,
		&rec.MaxDisp, &rec.WinSize, &rec.CCThresh, &rec.OccThresh,
		&cross, &fill, &norm,
		&rec.MatchingMs, &rec.PostProcessingMs, &degraded, &reason,
		&rec.OccludedFraction, &rec.MeanDisparity, &output, &createdAt,
	); err != nil {
		return nil, err
	}
	rec.SweepID = sweepID.String
	rec.DegradedReason = reason.String
	rec.OutputPath = output.String
	rec.WithCrossChecking = cross != 0
	rec.WithOcclusionFilling = fill != 0
	rec.WithNormalization = norm != 0
	rec.Degraded = degraded != 0
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for run %s: %w", rec.RunID, err)
	}
	if t != nil {
		rec.CreatedAt = *t
	}
	return &rec, nil
}

// GetRun returns one run by ID, or ErrNotFound.
func (s *RunStore) GetRun(runID string) (*RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM zncc_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first. limit is clamped to 1..1000.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, 1000)
	return s.queryRuns(`SELECT `+runColumns+` FROM zncc_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
}

// ListSweepRuns returns every run of a sweep in insertion order.
func (s *RunStore) ListSweepRuns(sweepID string) ([]RunRecord, error) {
	return s.queryRuns(`SELECT `+runColumns+` FROM zncc_runs WHERE sweep_id = ? ORDER BY rowid`, sweepID)
}

func (s *RunStore) queryRuns(query string, args ...any) ([]RunRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStorage struct {
	pool *pgxpool.Pool
}

// New PostgreSQL storage instance. Pending migrations under migrationsDir are applied.
func NewPostgresStorage(ctx context.Context, databaseURL, migrationsDir string) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")

	if err := runMigrations(databaseURL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func newMigrator(databaseURL, migrationsDir string) (*migrate.Migrate, func(), error) {
	migrationsURL, err := migrationsSourceURL(migrationsDir)
	if err != nil {
		return nil, nil, err
	}

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	logger.Info("Running migrations", zap.String("path", migrationsURL))

	db := stdlib.OpenDB(*connConfig)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsURL, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	closeFn := func() {
		m.Close()
		db.Close()
	}

	return m, closeFn, nil
}

// migrationsSourceURL builds a file:// URL that works on both Windows and Unix.
func migrationsSourceURL(dir string) (string, error) {
	migrationsPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}

	if runtime.GOOS == "windows" {
		u := &url.URL{
			Scheme: "file",
			Path:   filepath.ToSlash(migrationsPath),
		}
		return u.String(), nil
	}

	return fmt.Sprintf("file://%s", migrationsPath), nil
}

func runMigrations(databaseURL, migrationsDir string) error {
	m, closeFn, err := newMigrator(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations applied successfully")
	return nil
}

// Drops all tables and re-runs migrations (for development)
func ResetMigrations(databaseURL, migrationsDir string) error {
	logger.Warn("Resetting database - this will drop all data!")

	m, closeFn, err := newMigrator(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to run migrations after reset: %w", err)
	}

	logger.Info("Database reset and migrations applied successfully")
	return nil
}

// Closes the database connection pool
func (s *PostgresStorage) Close() {
	s.pool.Close()
}

// CreateTask inserts a new transcription task
func (s *PostgresStorage) CreateTask(ctx context.Context, task *model.Task) error {
	query := `
		INSERT INTO tasks (
			id, telegram_message_id, chat_id, file_id, content_type, status,
			job_name, attempts, error_text, meta, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		task.ID,
		task.TelegramMessageID,
		task.ChatID,
		task.FileID,
		task.ContentType,
		task.Status,
		task.JobName,
		task.Attempts,
		task.ErrorText,
		task.Meta,
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTaskByID retrieves a task by its ID
func (s *PostgresStorage) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	query := `
		SELECT id, telegram_message_id, chat_id, file_id, content_type, status,
		       job_name, attempts, error_text, meta, created_at, updated_at
		FROM tasks
		WHERE id = $1`

	var task model.Task
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&task.ID,
		&task.TelegramMessageID,
		&task.ChatID,
		&task.FileID,
		&task.ContentType,
		&task.Status,
		&task.JobName,
		&task.Attempts,
		&task.ErrorText,
		&task.Meta,
		&task.CreatedAt,
		&task.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

// UpdateTask updates a full task
func (s *PostgresStorage) UpdateTask(ctx context.Context, task *model.Task) error {
	query := `
		UPDATE tasks
		SET status = $2, job_name = $3, attempts = $4, error_text = $5, meta = $6, updated_at = $7
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query,
		task.ID,
		task.Status,
		task.JobName,
		task.Attempts,
		task.ErrorText,
		task.Meta,
		task.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}

	return nil
}

// SaveTranscript stores the transcript of a finished task
func (s *PostgresStorage) SaveTranscript(ctx context.Context, transcript *model.Transcript) error {
	query := `
		INSERT INTO transcripts (id, task_id, text, confidence, language_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE
		SET text = EXCLUDED.text, confidence = EXCLUDED.confidence, language_code = EXCLUDED.language_code`

	_, err := s.pool.Exec(ctx, query,
		transcript.ID,
		transcript.TaskID,
		transcript.Text,
		transcript.Confidence,
		transcript.LanguageCode,
		transcript.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	logger.Debug("Transcript saved",
		zap.String("task_id", transcript.TaskID),
		zap.Int("length", len(transcript.Text)))

	return nil
}

// CreateConsultation opens a new clinical encounter
func (s *PostgresStorage) CreateConsultation(ctx context.Context, c *model.Consultation) error {
	query := `
		INSERT INTO consultations (
			id, chat_id, status, chief_complaint, patient_age, patient_gender,
			allergies, vitals, notes, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		c.ID,
		c.ChatID,
		c.Status,
		c.ChiefComplaint,
		c.PatientAge,
		c.PatientGender,
		c.Allergies,
		c.Vitals,
		c.Notes,
		c.OpenedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create consultation: %w", err)
	}

	return nil
}

// GetConsultation retrieves a consultation by its ID
func (s *PostgresStorage) GetConsultation(ctx context.Context, id string) (*model.Consultation, error) {
	query := `
		SELECT id, chat_id, status, chief_complaint, patient_age, patient_gender,
		       allergies, vitals, notes, opened_at, closed_at
		FROM consultations
		WHERE id = $1`

	var c model.Consultation
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ChatID,
		&c.Status,
		&c.ChiefComplaint,
		&c.PatientAge,
		&c.PatientGender,
		&c.Allergies,
		&c.Vitals,
		&c.Notes,
		&c.OpenedAt,
		&c.ClosedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}

	return &c, nil
}

// UpdateConsultationStatus moves a consultation to a new status
func (s *PostgresStorage) UpdateConsultationStatus(ctx context.Context, id string, status model.ConsultationStatus) error {
	query := `
		UPDATE consultations
		SET status = $2,
		    closed_at = CASE WHEN $2 = 'closed' THEN NOW() ELSE closed_at END
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update consultation status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}

	return nil
}

// txStarter is satisfied by *pgxpool.Pool.
type txStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RecordDiagnoses stores the differentials that passed the persistence filter
// and moves the consultation to in progress. Either all of it is written or
// none of it.
func (s *PostgresStorage) RecordDiagnoses(ctx context.Context, consultationID string, diagnoses []model.Diagnosis) error {
	return recordDiagnoses(ctx, s.pool, consultationID, diagnoses)
}

func recordDiagnoses(ctx context.Context, db txStarter, consultationID string, diagnoses []model.Diagnosis) error {
	insert := `
		INSERT INTO diagnoses (
			id, consultation_id, condition_name, confidence_score, reasoning, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	update := `
		UPDATE consultations
		SET status = $2
		WHERE id = $1`

	err := pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, d := range diagnoses {
			_, err := tx.Exec(ctx, insert,
				d.ID,
				d.ConsultationID,
				d.ConditionName,
				d.Confidence,
				d.Reasoning,
				d.Source,
				d.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save diagnosis %q: %w", d.ConditionName, err)
			}
		}

		result, err := tx.Exec(ctx, update, consultationID, model.ConsultationStatusInProgress)
		if err != nil {
			return fmt.Errorf("failed to update consultation status: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("consultation %s: %w", consultationID, ErrNotFound)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record diagnoses: %w", err)
	}

	logger.Debug("Diagnoses recorded",
		zap.String("consultation_id", consultationID),
		zap.Int("count", len(diagnoses)))

	return nil
}

// ListDiagnoses returns the stored differentials of a consultation, most confident first
func (s *PostgresStorage) ListDiagnoses(ctx context.Context, consultationID string) ([]model.Diagnosis, error) {
	query := `
		SELECT id, consultation_id, condition_name, confidence_score, reasoning, source, created_at
		FROM diagnoses
		WHERE consultation_id = $1
		ORDER BY confidence_score DESC, created_at`

	rows, err := s.pool.Query(ctx, query, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnoses: %w", err)
	}

	diagnoses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Diagnosis, error) {
		var d model.Diagnosis
		err := row.Scan(&d.ID, &d.ConsultationID, &d.ConditionName, &d.Confidence, &d.Reasoning, &d.Source, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan diagnoses: %w", err)
	}

	return diagnoses, nil
}

// SaveImageAnalysis stores the reading of a clinical image
func (s *PostgresStorage) SaveImageAnalysis(ctx context.Context, a *model.ImageAnalysis) error {
	query := `
		INSERT INTO image_analyses (id, consultation_id, media_type, description, findings, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.ConsultationID,
		a.MediaType,
		a.Description,
		a.Findings,
		a.AnalyzedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save image analysis: %w", err)
	}

	return nil
}

// ListImageAnalyses returns the image readings of a consultation, oldest first
func (s *PostgresStorage) ListImageAnalyses(ctx context.Context, consultationID string) ([]model.ImageAnalysis, error) {
	query := `
		SELECT id, consultation_id, media_type, description, findings, analyzed_at
		FROM image_analyses
		WHERE consultation_id = $1
		ORDER BY analyzed_at`

	rows, err := s.pool.Query(ctx, query, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list image analyses: %w", err)
	}

	analyses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ImageAnalysis, error) {
		var a model.ImageAnalysis
		err := row.Scan(&a.ID, &a.ConsultationID, &a.MediaType, &a.Description, &a.Findings, &a.AnalyzedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan image analyses: %w", err)
	}

	return analyses, nil
}

// SaveLabResult stores one laboratory measurement
func (s *PostgresStorage) SaveLabResult(ctx context.Context, r *model.LabResult) error {
	query := `
		INSERT INTO lab_results (
			id, consultation_id, test_name, numeric_value, unit, is_abnormal, reference_range, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.ConsultationID,
		r.TestName,
		r.NumericValue,
		r.Unit,
		r.IsAbnormal,
		r.ReferenceRange,
		r.RecordedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save lab result: %w", err)
	}

	return nil
}

// ListLabResults returns the lab results of a consultation, oldest first
func (s *PostgresStorage) ListLabResults(ctx context.Context, consultationID string) ([]model.LabResult, error) {
	query := `
		SELECT id, consultation_id, test_name, numeric_value, unit, is_abnormal, reference_range, recorded_at
		FROM lab_results
		WHERE consultation_id = $1
		ORDER BY recorded_at`

	rows, err := s.pool.Query(ctx, query, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lab results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LabResult, error) {
		var r model.LabResult
		err := row.Scan(&r.ID, &r.ConsultationID, &r.TestName, &r.NumericValue, &r.Unit, &r.IsAbnormal, &r.ReferenceRange, &r.RecordedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan lab results: %w", err)
	}

	return results, nil
}

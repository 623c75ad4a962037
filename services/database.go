package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docconvert/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id                  UUID PRIMARY KEY,
    original_file_name  TEXT NOT NULL,
    converted_file_name TEXT,
    original_format     TEXT NOT NULL,
    target_format       TEXT NOT NULL,
    original_file_path  TEXT NOT NULL,
    converted_file_path TEXT,
    status              TEXT NOT NULL,
    error_message       TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (status);
`

const documentColumns = `id, original_file_name, converted_file_name, original_format, target_format,
       original_file_path, converted_file_path, status, error_message, created_at, updated_at`

// OpenPostgres connects and pings the database.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// PostgresJobStore persists jobs in the documents table. Update is a full
// replace; the consumer is the only writer after creation.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	query := `
        INSERT INTO documents (
            id,
            original_file_name,
            original_format,
            target_format,
            original_file_path,
            status,
            created_at,
            updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.OriginalFileName,
		job.OriginalFormat,
		job.TargetFormat,
		job.OriginalFilePath,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, &models.StorageError{Op: "insert document", Err: err}
	}
	return id, nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var (
		job               models.Job
		status            string
		convertedFileName sql.NullString
		convertedFilePath sql.NullString
		errorMessage      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.OriginalFileName,
		&convertedFileName,
		&job.OriginalFormat,
		&job.TargetFormat,
		&job.OriginalFilePath,
		&convertedFilePath,
		&status,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "select document", Err: err}
	}

	job.Status = models.JobStatus(status)
	if !job.Status.IsValid() {
		return nil, &models.StorageError{Op: "select document", Err: fmt.Errorf("unknown status %q", status)}
	}
	job.ConvertedFileName = convertedFileName.String
	job.ConvertedFilePath = convertedFilePath.String
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

func (s *PostgresJobStore) Update(ctx context.Context, job *models.Job) error {
	query := `
        UPDATE documents
        SET converted_file_name = $1,
            converted_file_path = $2,
            status = $3,
            error_message = $4,
            updated_at = $5
        WHERE id = $6
    `

	res, err := s.db.ExecContext(ctx, query,
		nullString(job.ConvertedFileName),
		nullString(job.ConvertedFilePath),
		string(job.Status),
		nullString(job.ErrorMessage),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return &models.StorageError{Op: "update document", Err: err}
	}
	return expectOneRow(res, "update document")
}

// Delete is only used to roll back a submission whose task was never published.
func (s *PostgresJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return &models.StorageError{Op: "delete document", Err: err}
	}
	return expectOneRow(res, "delete document")
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &models.StorageError{Op: op, Err: err}
	}
	if n == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

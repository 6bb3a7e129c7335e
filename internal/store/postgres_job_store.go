package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/storage"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS transformation_jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	pipeline TEXT NOT NULL,
	status TEXT NOT NULL,
	breed TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	batch_key TEXT NOT NULL DEFAULT '',
	original_key TEXT NOT NULL,
	stage1_key TEXT,
	stage2_key TEXT,
	final_key TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transformation_jobs_owner_created_idx
	ON transformation_jobs (owner_id, created_at DESC);
`

const jobColumns = `id, owner_id, pipeline, status, breed, error_detail, batch_key,
	original_key, stage1_key, stage2_key, final_key, created_at, updated_at`

// slotColumns is the fixed set of columns interpolated into queries.
var slotColumns = map[domain.Slot]string{
	domain.SlotOriginal: "original_key",
	domain.SlotStage1:   "stage1_key",
	domain.SlotStage2:   "stage2_key",
	domain.SlotFinal:    "final_key",
}

// BlobStore holds image bytes outside the database.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// PostgresJobStore keeps job rows in Postgres and image bytes in a BlobStore.
// Every mutation is a conditional update on the expected current status.
type PostgresJobStore struct {
	db    *sql.DB
	blobs BlobStore
}

var _ JobStore = (*PostgresJobStore)(nil)

func NewPostgresJobStore(ctx context.Context, dsn string, blobs BlobStore) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db, blobs: blobs}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure transformation_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) CreateJobs(ctx context.Context, jobs []domain.Job, original []byte) error {
	if len(jobs) == 0 {
		return nil
	}
	if len(original) == 0 {
		return fmt.Errorf("original image is empty")
	}

	originalKey := storage.ImageKey(jobs[0].ID, domain.SlotOriginal)
	if err := s.blobs.Put(ctx, originalKey, original); err != nil {
		return fmt.Errorf("store original image: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create jobs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, job := range jobs {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO transformation_jobs
			 (id, owner_id, pipeline, status, batch_key, original_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			job.ID,
			job.OwnerID,
			string(job.Pipeline),
			string(job.Status),
			job.BatchKey,
			originalKey,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create jobs: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	job, _, err := s.load(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM transformation_jobs
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, _, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) Image(ctx context.Context, id string, slot domain.Slot) ([]byte, error) {
	_, keys, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	key, ok := keys[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, id, slot)
	}
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, id, slot)
	}
	return data, err
}

func (s *PostgresJobStore) Advance(ctx context.Context, id string, to domain.Status, breed string) (domain.Job, error) {
	job, _, err := s.load(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	from := job.Status
	if err := job.Advance(to, time.Now().UTC()); err != nil {
		return domain.Job{}, err
	}
	if breed != "" {
		job.Breed = breed
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE transformation_jobs
		 SET status = $1, breed = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(job.Status),
		job.Breed,
		job.UpdatedAt,
		id,
		string(from),
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("advance job: %w", err)
	}
	if err := expectOneRow(res, from, to); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (s *PostgresJobStore) RecordStage(ctx context.Context, id string, slot domain.Slot, data []byte) (domain.Job, error) {
	job, _, err := s.load(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	from := job.Status
	if err := job.RecordStage(slot, time.Now().UTC()); err != nil {
		return domain.Job{}, err
	}

	key := storage.ImageKey(id, slot)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return domain.Job{}, fmt.Errorf("store %s image: %w", slot, err)
	}

	column := slotColumns[slot]
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE transformation_jobs
		 SET `+column+` = $1, status = $2, updated_at = $3
		 WHERE id = $4 AND status = $5 AND `+column+` IS NULL`,
		key,
		string(job.Status),
		job.UpdatedAt,
		id,
		string(from),
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("record %s: %w", slot, err)
	}
	if err := expectOneRow(res, from, job.Status); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, detail string) (domain.Job, error) {
	job, _, err := s.load(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	from := job.Status
	if err := job.Fail(detail, time.Now().UTC()); err != nil {
		return domain.Job{}, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE transformation_jobs
		 SET status = $1, error_detail = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(job.Status),
		detail,
		job.UpdatedAt,
		id,
		string(from),
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("fail job: %w", err)
	}
	if err := expectOneRow(res, from, domain.StatusFailed); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (s *PostgresJobStore) load(ctx context.Context, id string) (domain.Job, map[domain.Slot]string, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM transformation_jobs WHERE id = $1`,
		id,
	)
	job, keys, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, nil, ErrJobNotFound
	}
	return job, keys, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, map[domain.Slot]string, error) {
	var (
		job                   domain.Job
		pipeline, status      string
		originalKey           string
		stage1, stage2, final sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&pipeline,
		&status,
		&job.Breed,
		&job.ErrorDetail,
		&job.BatchKey,
		&originalKey,
		&stage1,
		&stage2,
		&final,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, nil, err
		}
		return domain.Job{}, nil, fmt.Errorf("scan job: %w", err)
	}

	job.Pipeline = domain.PipelineKind(pipeline)
	job.Status = domain.Status(status)

	keys := map[domain.Slot]string{domain.SlotOriginal: originalKey}
	for slot, col := range map[domain.Slot]sql.NullString{
		domain.SlotStage1: stage1,
		domain.SlotStage2: stage2,
		domain.SlotFinal:  final,
	} {
		if col.Valid {
			keys[slot] = col.String
		}
	}
	job.Slots = make(map[domain.Slot]bool, len(keys))
	for slot := range keys {
		job.Slots[slot] = true
	}
	return job, keys, nil
}

func expectOneRow(res sql.Result, from, to domain.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s -> %s lost a concurrent update", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

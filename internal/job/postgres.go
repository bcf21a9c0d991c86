package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stylemotion/catwalk-api/internal/provider"
)

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

// schema is applied at startup. Deployments with managed migrations can
// pre-create the table; CREATE IF NOT EXISTS makes this a no-op then.
const schema = `
create table if not exists generation_jobs (
	id              text primary key,
	product_id      text not null default '',
	provider        text not null,
	prompt          text not null default '',
	negative_prompt text not null default '',
	aspect_ratio    text not null default '9:16',
	duration        int  not null default 6,
	template        text not null default '',
	input_assets    jsonb not null default '[]',
	status          text not null,
	progress        int  not null default 0,
	provider_job_id text not null default '',
	metadata        jsonb,
	error           text not null default '',
	output_asset    jsonb,
	created_at      timestamptz not null,
	started_at      timestamptz,
	completed_at    timestamptz,
	updated_at      timestamptz not null
);
create index if not exists generation_jobs_status_idx on generation_jobs (status);
`

const jobColumns = `id, product_id, provider, prompt, negative_prompt, aspect_ratio,
	duration, template, input_assets, status, progress, provider_job_id,
	metadata, error, output_asset, created_at, started_at, completed_at, updated_at`

// PostgresRepository is the durable Repository implementation backed by
// a pgx connection pool. Transitions are single conditional UPDATEs so
// concurrent workers and cancellation requests linearize through the
// database row.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates the repository and ensures the schema
// exists.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresRepository, error) {
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("job: ensure schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// Create persists a new job record.
func (r *PostgresRepository) Create(ctx context.Context, j *Job) error {
	inputAssets, err := json.Marshal(j.InputAssets)
	if err != nil {
		return fmt.Errorf("job: marshal input assets: %w", err)
	}
	metadata, err := marshalNullable(j.Metadata)
	if err != nil {
		return fmt.Errorf("job: marshal metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, `insert into generation_jobs (
		id, product_id, provider, prompt, negative_prompt, aspect_ratio,
		duration, template, input_assets, status, progress, provider_job_id,
		metadata, error, created_at, updated_at
	) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		j.ID, j.ProductID, string(j.Provider), j.Prompt, j.NegativePrompt, j.AspectRatio,
		j.Duration, j.Template, inputAssets, string(j.Status), j.Progress, j.ProviderJobID,
		metadata, j.Error, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("job: insert: %w", err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *PostgresRepository) FindByID(ctx context.Context, jobID string) (*Job, error) {
	row := r.db.QueryRow(ctx,
		`select `+jobColumns+` from generation_jobs where id = $1`, jobID)
	return scanJob(row)
}

// List returns all jobs, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.Query(ctx,
		`select `+jobColumns+` from generation_jobs order by created_at desc`)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: list rows: %w", err)
	}
	return jobs, nil
}

// Transition performs the compare-and-swap as one conditional UPDATE.
func (r *PostgresRepository) Transition(ctx context.Context, jobID string, from []Status, to Status, upd Update) (*Job, error) {
	fromSet := make([]string, len(from))
	for i, s := range from {
		fromSet[i] = string(s)
	}

	var (
		errText     string
		outputAsset []byte
		progress    any
	)
	switch to {
	case StatusFailed:
		errText = upd.Error
	case StatusCompleted:
		raw, err := json.Marshal(upd.OutputAsset)
		if err != nil {
			return nil, fmt.Errorf("job: marshal output asset: %w", err)
		}
		outputAsset = raw
		progress = 100
	}
	metadata, err := marshalNullable(upd.Metadata)
	if err != nil {
		return nil, fmt.Errorf("job: marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	row := r.db.QueryRow(ctx, `update generation_jobs set
		status = $2,
		error = case when $2 = 'FAILED' then $3 else error end,
		output_asset = case when $2 = 'COMPLETED' then $4 else output_asset end,
		progress = greatest(progress, coalesce($5::int, progress)),
		metadata = coalesce(metadata, '{}'::jsonb) || coalesce($6::jsonb, '{}'::jsonb),
		started_at = case when $2 = 'RUNNING' and started_at is null then $7 else started_at end,
		completed_at = case when $2 in ('COMPLETED','FAILED','CANCELLED') then $7 else completed_at end,
		updated_at = $7
	where id = $1 and status = any($8)
	returning `+jobColumns,
		jobID, string(to), errText, outputAsset, progress, metadata, now, fromSet,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	// No row matched: distinguish a missing job from a lost status race.
	var exists bool
	if qErr := r.db.QueryRow(ctx,
		`select exists (select 1 from generation_jobs where id = $1)`, jobID,
	).Scan(&exists); qErr != nil {
		return nil, fmt.Errorf("job: transition probe: %w", qErr)
	}
	if !exists {
		return nil, ErrJobNotFound
	}
	return nil, ErrConflict
}

// UpdateProgress raises the job's progress; lower values are ignored by
// GREATEST so progress never regresses even under concurrent writers.
func (r *PostgresRepository) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if progress > 100 {
		progress = 100
	}
	tag, err := r.db.Exec(ctx, `update generation_jobs
		set progress = greatest(progress, $2), updated_at = $3
		where id = $1`,
		jobID, progress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("job: update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SetProviderRef records the vendor tracking ID and metadata.
func (r *PostgresRepository) SetProviderRef(ctx context.Context, jobID, providerJobID string, metadata map[string]any) error {
	meta, err := marshalNullable(metadata)
	if err != nil {
		return fmt.Errorf("job: marshal metadata: %w", err)
	}
	tag, err := r.db.Exec(ctx, `update generation_jobs set
		provider_job_id = $2,
		metadata = coalesce(metadata, '{}'::jsonb) || coalesce($3::jsonb, '{}'::jsonb),
		updated_at = $4
	where id = $1`,
		jobID, providerJobID, meta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("job: set provider ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// scanJob maps one row onto a Job.
func scanJob(row pgx.Row) (*Job, error) {
	var (
		j           Job
		providerStr string
		statusStr   string
		inputAssets []byte
		metadata    []byte
		outputAsset []byte
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := row.Scan(
		&j.ID, &j.ProductID, &providerStr, &j.Prompt, &j.NegativePrompt, &j.AspectRatio,
		&j.Duration, &j.Template, &inputAssets, &statusStr, &j.Progress, &j.ProviderJobID,
		&metadata, &j.Error, &outputAsset, &j.CreatedAt, &startedAt, &completedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("job: scan: %w", err)
	}

	j.Provider = provider.Type(providerStr)
	j.Status = Status(statusStr)
	if startedAt != nil {
		j.StartedAt = *startedAt
	}
	if completedAt != nil {
		j.CompletedAt = *completedAt
	}
	if len(inputAssets) > 0 {
		if err := json.Unmarshal(inputAssets, &j.InputAssets); err != nil {
			return nil, fmt.Errorf("job: unmarshal input assets: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("job: unmarshal metadata: %w", err)
		}
	}
	if len(outputAsset) > 0 && string(outputAsset) != "null" {
		j.OutputAsset = &AssetRef{}
		if err := json.Unmarshal(outputAsset, j.OutputAsset); err != nil {
			return nil, fmt.Errorf("job: unmarshal output asset: %w", err)
		}
	}
	return &j, nil
}

// marshalNullable encodes a map as JSON, returning nil for empty maps so
// the column stays NULL.
func marshalNullable(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

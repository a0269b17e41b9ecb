// Package postgres stores runs, candidates, links and jobs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
}

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	db.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	progress, cost, err := marshalRunDocs(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sourcing_runs (id, job_id, intent, status, refs, progress, candidate_ids, cost, errors, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.JobID, run.Intent, run.Status, pq.Array(nonNil(run.References)), progress,
		pq.Array(nonNil(run.CandidateIDs)), cost, pq.Array(nonNil(run.Errors)), run.CreatedAt, run.UpdatedAt, run.FinishedAt)
	return translate(err, "run "+run.ID)
}

func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	progress, cost, err := marshalRunDocs(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sourcing_runs (id, job_id, intent, status, refs, progress, candidate_ids, cost, errors, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			intent = EXCLUDED.intent,
			status = EXCLUDED.status,
			refs = EXCLUDED.refs,
			progress = EXCLUDED.progress,
			candidate_ids = EXCLUDED.candidate_ids,
			cost = EXCLUDED.cost,
			errors = EXCLUDED.errors,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.JobID, run.Intent, run.Status, pq.Array(nonNil(run.References)), progress,
		pq.Array(nonNil(run.CandidateIDs)), cost, pq.Array(nonNil(run.Errors)), run.CreatedAt, run.UpdatedAt, run.FinishedAt)
	return translate(err, "run "+run.ID)
}

func (s *Store) SaveProgress(ctx context.Context, runID string, snapshot models.Snapshot) error {
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE sourcing_runs SET progress = $2, updated_at = $3 WHERE id = $1`,
		runID, doc, s.now().UTC())
	if err != nil {
		return err
	}
	return expectRow(res, "run "+runID)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var (
		run            models.Run
		progress, cost []byte
		finishedAt     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, intent, status, refs, progress, candidate_ids, cost, errors, created_at, updated_at, finished_at
		FROM sourcing_runs WHERE id = $1`, runID).Scan(
		&run.ID, &run.JobID, &run.Intent, &run.Status, pq.Array(&run.References), &progress,
		pq.Array(&run.CandidateIDs), &cost, pq.Array(&run.Errors), &run.CreatedAt, &run.UpdatedAt, &finishedAt)
	if err != nil {
		return nil, translate(err, "run "+runID)
	}

	if err := json.Unmarshal(progress, &run.Progress); err != nil {
		return nil, fmt.Errorf("decode progress of run %s: %w", runID, err)
	}
	if err := json.Unmarshal(cost, &run.Cost); err != nil {
		return nil, fmt.Errorf("decode cost of run %s: %w", runID, err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var (
		job         models.Job
		skills, nap []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, industry, location, skills, experience_years, nap FROM jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.Title, &job.Industry, &job.Location, &skills, &job.ExperienceYears, &nap)
	if err != nil {
		return nil, translate(err, "job "+id)
	}
	if err := json.Unmarshal(skills, &job.Skills); err != nil {
		return nil, fmt.Errorf("decode skills of job %s: %w", id, err)
	}
	if err := json.Unmarshal(nap, &job.NAP); err != nil {
		return nil, fmt.Errorf("decode nap of job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *models.Job) error {
	skills, err := json.Marshal(nonNilSkills(job.Skills))
	if err != nil {
		return err
	}
	nap, err := json.Marshal(job.NAP)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, title, industry, location, skills, experience_years, nap)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			industry = EXCLUDED.industry,
			location = EXCLUDED.location,
			skills = EXCLUDED.skills,
			experience_years = EXCLUDED.experience_years,
			nap = EXCLUDED.nap`,
		job.ID, job.Title, job.Industry, job.Location, skills, job.ExperienceYears, nap)
	return translate(err, "job "+job.ID)
}

const candidateColumns = `id, full_name, first_name, last_name, headline, title, company, location, email, phone,
	source_url, skills, experience_years, summary, source, sourcing_run_id, created_at`

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.Candidate, error) {
	return s.findCandidate(ctx, "email_key", email)
}

func (s *Store) FindByPhone(ctx context.Context, phone string) (*models.Candidate, error) {
	return s.findCandidate(ctx, "phone_key", phone)
}

func (s *Store) FindByNameCompany(ctx context.Context, key string) (*models.Candidate, error) {
	return s.findCandidate(ctx, "name_company_key", key)
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*models.Candidate, error) {
	return s.findCandidate(ctx, "id", id)
}

// column is always one of the constants above.
func (s *Store) findCandidate(ctx context.Context, column, value string) (*models.Candidate, error) {
	if value == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM candidates WHERE %s = $1", candidateColumns, column), value)

	var c models.Candidate
	err := row.Scan(&c.ID, &c.FullName, &c.FirstName, &c.LastName, &c.Headline, &c.Title, &c.Company, &c.Location,
		&c.Email, &c.Phone, &c.SourceURL, pq.Array(&c.Skills), &c.ExperienceYears, &c.Summary, &c.Source,
		&c.SourcingRunID, &c.CreatedAt)
	if err != nil {
		return nil, translate(err, "candidate "+column)
	}
	return &c, nil
}

// CreateCandidate relies on the partial unique indexes to reject a concurrent duplicate.
func (s *Store) CreateCandidate(ctx context.Context, c *models.Candidate, q store.CandidateQuery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`, email_key, phone_key, name_company_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID, c.FullName, c.FirstName, c.LastName, c.Headline, c.Title, c.Company, c.Location, c.Email, c.Phone,
		c.SourceURL, pq.Array(nonNil(c.Skills)), c.ExperienceYears, c.Summary, c.Source, c.SourcingRunID, c.CreatedAt,
		nullable(q.Email), nullable(q.Phone), nullable(q.NameCompanyKey))
	return translate(err, "candidate "+c.ID)
}

func (s *Store) EnsureLink(ctx context.Context, jobID, candidateID string) (*models.Link, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_candidates (job_id, candidate_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (job_id, candidate_id) DO NOTHING`,
		jobID, candidateID, models.LinkStatusSourced, now)
	if err != nil {
		return nil, translate(err, "link "+jobID+"/"+candidateID)
	}
	return s.GetLink(ctx, jobID, candidateID)
}

func (s *Store) SaveLink(ctx context.Context, l *models.Link) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_candidates SET status = $3, score = $4, match_indicator = $5, score_strategy = $6,
			reasoning = $7, strengths = $8, concerns = $9, updated_at = $10
		WHERE job_id = $1 AND candidate_id = $2`,
		l.JobID, l.CandidateID, l.Status, l.Score, l.MatchIndicator, l.ScoreStrategy, l.Reasoning,
		pq.Array(nonNil(l.Strengths)), pq.Array(nonNil(l.Concerns)), l.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res, "link "+l.JobID+"/"+l.CandidateID)
}

const linkColumns = `job_id, candidate_id, status, score, match_indicator, score_strategy, reasoning, strengths, concerns, created_at, updated_at`

func (s *Store) GetLink(ctx context.Context, jobID, candidateID string) (*models.Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM job_candidates WHERE job_id = $1 AND candidate_id = $2`,
		jobID, candidateID)
	l, err := scanLink(row)
	if err != nil {
		return nil, translate(err, "link "+jobID+"/"+candidateID)
	}
	return l, nil
}

func (s *Store) ListLinks(ctx context.Context, jobID string) ([]*models.Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM job_candidates WHERE job_id = $1 ORDER BY created_at, candidate_id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*models.Link, error) {
	var (
		l         models.Link
		score     sql.NullInt64
		indicator sql.NullFloat64
	)
	err := row.Scan(&l.JobID, &l.CandidateID, &l.Status, &score, &indicator, &l.ScoreStrategy, &l.Reasoning,
		pq.Array(&l.Strengths), pq.Array(&l.Concerns), &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		l.Score = &v
	}
	if indicator.Valid {
		v := indicator.Float64
		l.MatchIndicator = &v
	}
	return &l, nil
}

func marshalRunDocs(run *models.Run) ([]byte, []byte, error) {
	progress, err := json.Marshal(run.Progress)
	if err != nil {
		return nil, nil, err
	}
	cost, err := json.Marshal(run.Cost)
	if err != nil {
		return nil, nil, err
	}
	return progress, cost, nil
}

func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilSkills(v []models.WeightedSkill) []models.WeightedSkill {
	if v == nil {
		return []models.WeightedSkill{}
	}
	return v
}

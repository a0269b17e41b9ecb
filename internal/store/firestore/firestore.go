// Package firestore keeps sourcing runs and their progress in Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

const DefaultCollection = "sourcing_runs"

type Config struct {
	ProjectID       string `mapstructure:"project-id"`
	Collection      string `mapstructure:"collection"`
	CredentialsFile string `mapstructure:"credentials-file"`
}

// RunStore implements store.RunStore. One document per run, keyed by run id.
type RunStore struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
	now        func() time.Time
}

var _ store.RunStore = (*RunStore)(nil)

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*RunStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	return &RunStore{client: client, collection: collection, logger: logger, now: time.Now}, nil
}

func (s *RunStore) Close() error {
	return s.client.Close()
}

func (s *RunStore) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.client.Collection(s.collection).Doc(run.ID).Create(ctx, toDoc(run))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

func (s *RunStore) SaveRun(ctx context.Context, run *models.Run) error {
	if _, err := s.client.Collection(s.collection).Doc(run.ID).Set(ctx, toDoc(run)); err != nil {
		return fmt.Errorf("failed to store run document: %w", err)
	}
	return nil
}

func (s *RunStore) SaveProgress(ctx context.Context, runID string, snapshot models.Snapshot) error {
	_, err := s.client.Collection(s.collection).Doc(runID).Update(ctx, []firestore.Update{
		{Path: "progress", Value: toProgressDoc(snapshot)},
		{Path: "updated_at", Value: s.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	snap, err := s.client.Collection(s.collection).Doc(runID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run document: %w", err)
	}

	var doc runDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run document: %w", err)
	}
	return doc.toRun(), nil
}

type progressDoc struct {
	Phase        string    `firestore:"phase"`
	Found        int       `firestore:"found"`
	Fetched      int       `firestore:"fetched"`
	Failed       int       `firestore:"failed"`
	Processed    int       `firestore:"processed"`
	Created      int       `firestore:"candidates_created"`
	Duplicates   int       `firestore:"duplicates"`
	Scored       int       `firestore:"scored"`
	Recommended  int       `firestore:"recommended"`
	CurrentBatch int       `firestore:"current_batch"`
	TotalBatches int       `firestore:"total_batches"`
	Message      string    `firestore:"message"`
	Errors       []string  `firestore:"errors"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

type costDoc struct {
	ProfilesRequested int     `firestore:"profiles_requested"`
	ProfilesFetched   int     `firestore:"profiles_fetched"`
	Spent             float64 `firestore:"spent"`
	Budget            float64 `firestore:"budget"`
}

type runDoc struct {
	ID           string      `firestore:"id"`
	JobID        string      `firestore:"job_id"`
	Intent       string      `firestore:"intent"`
	Status       string      `firestore:"status"`
	References   []string    `firestore:"references"`
	Progress     progressDoc `firestore:"progress"`
	CandidateIDs []string    `firestore:"candidate_ids"`
	Cost         costDoc     `firestore:"cost"`
	Errors       []string    `firestore:"errors"`
	CreatedAt    time.Time   `firestore:"created_at"`
	UpdatedAt    time.Time   `firestore:"updated_at"`
	FinishedAt   *time.Time  `firestore:"finished_at"`
}

func toProgressDoc(s models.Snapshot) progressDoc {
	return progressDoc{
		Phase:        string(s.Phase),
		Found:        s.Found,
		Fetched:      s.Fetched,
		Failed:       s.Failed,
		Processed:    s.Processed,
		Created:      s.Created,
		Duplicates:   s.Duplicates,
		Scored:       s.Scored,
		Recommended:  s.Recommended,
		CurrentBatch: s.CurrentBatch,
		TotalBatches: s.TotalBatches,
		Message:      s.Message,
		Errors:       append([]string(nil), s.Errors...),
		UpdatedAt:    s.UpdatedAt,
	}
}

func (p progressDoc) toSnapshot() models.Snapshot {
	return models.Snapshot{
		Phase:        models.Phase(p.Phase),
		Found:        p.Found,
		Fetched:      p.Fetched,
		Failed:       p.Failed,
		Processed:    p.Processed,
		Created:      p.Created,
		Duplicates:   p.Duplicates,
		Scored:       p.Scored,
		Recommended:  p.Recommended,
		CurrentBatch: p.CurrentBatch,
		TotalBatches: p.TotalBatches,
		Message:      p.Message,
		Errors:       p.Errors,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toDoc(r *models.Run) runDoc {
	return runDoc{
		ID:           r.ID,
		JobID:        r.JobID,
		Intent:       r.Intent,
		Status:       string(r.Status),
		References:   r.References,
		Progress:     toProgressDoc(r.Progress),
		CandidateIDs: r.CandidateIDs,
		Cost: costDoc{
			ProfilesRequested: r.Cost.ProfilesRequested,
			ProfilesFetched:   r.Cost.ProfilesFetched,
			Spent:             r.Cost.Spent,
			Budget:            r.Cost.Budget,
		},
		Errors:     r.Errors,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		FinishedAt: r.FinishedAt,
	}
}

func (d runDoc) toRun() *models.Run {
	return &models.Run{
		ID:           d.ID,
		JobID:        d.JobID,
		Intent:       d.Intent,
		Status:       models.RunStatus(d.Status),
		References:   d.References,
		Progress:     d.Progress.toSnapshot(),
		CandidateIDs: d.CandidateIDs,
		Cost: models.Cost{
			ProfilesRequested: d.Cost.ProfilesRequested,
			ProfilesFetched:   d.Cost.ProfilesFetched,
			Spent:             d.Cost.Spent,
			Budget:            d.Cost.Budget,
		},
		Errors:     d.Errors,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		FinishedAt: d.FinishedAt,
	}
}

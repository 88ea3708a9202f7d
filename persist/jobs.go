package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"governanceagg/store"
)

// Enqueue inserts a pending job of the given type, used by the Discourse
// crawler to hand a first-seen topic off as a "discussion" job.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload store.JSONMap) (uuid.UUID, error) {
	job := store.JobQueue{
		ID:      uuid.New(),
		Type:    jobType,
		Payload: payload,
		Status:  store.JobPending,
	}
	if err := s.DB.WithContext(ctx).Create(&job).Error; err != nil {
		return uuid.Nil, fmt.Errorf("persist: enqueue job: %w", err)
	}
	return job.ID, nil
}

// DefaultClaimBatch is how many pending jobs one claim pulls.
const DefaultClaimBatch = 5

// ClaimBatch locks and returns up to limit pending jobs of the given type,
// oldest first, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// job-queue workers never double-process the same rows. Claimed jobs are
// marked processed inside the claiming transaction; the caller downgrades
// any that fail to failed.
func (s *Store) ClaimBatch(ctx context.Context, jobType string, limit int) ([]store.JobQueue, error) {
	if limit <= 0 {
		limit = DefaultClaimBatch
	}
	var jobs []store.JobQueue
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("type = ? AND status = ?", jobType, store.JobPending).
			Order("created_at ASC").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return fmt.Errorf("persist: claim jobs: %w", err)
		}
		if len(jobs) == 0 {
			return ErrNoJobAvailable
		}
		ids := make([]uuid.UUID, len(jobs))
		for i, job := range jobs {
			ids[i] = job.ID
		}
		return tx.Model(&store.JobQueue{}).Where("id IN ?", ids).Update("status", store.JobProcessed).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkFailed transitions a claimed job to failed, for the caller to retry or
// surface to an operator.
func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID) error {
	return s.DB.WithContext(ctx).Model(&store.JobQueue{}).Where("id = ?", jobID).Update("status", store.JobFailed).Error
}

// PendingDepth returns how many jobs of the given type are still pending,
// for the job queue depth gauge.
func (s *Store) PendingDepth(ctx context.Context, jobType string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&store.JobQueue{}).
		Where("type = ? AND status = ?", jobType, store.JobPending).
		Count(&count).Error
	return count, err
}

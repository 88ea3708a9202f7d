package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"governanceagg/adapters"
	"governanceagg/store"
)

// Store wraps the database handle every persist operation runs against.
type Store struct {
	DB *gorm.DB
}

// NewStore builds a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// StoreProposals upserts a window's worth of decoded proposals for the given
// governor, keyed on (governor_id, external_id). The batch is partitioned
// against the rows already stored: records flagged PartialUpdate only touch
// the state column, updates overwrite the refreshed columns, and inserts of
// Snapshot proposals carrying a discussion_url enqueue a follow-up job in
// the same transaction so the discussion thread gets crawled.
func (s *Store) StoreProposals(ctx context.Context, governor *store.Governor, records []adapters.ProposalRecord) error {
	if len(records) == 0 {
		return nil
	}

	externalIDs := make([]string, 0, len(records))
	for _, rec := range records {
		externalIDs = append(externalIDs, rec.ExternalID)
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []store.Proposal
		if err := tx.Where("governor_id = ? AND external_id IN ?", governor.ID, externalIDs).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("persist: load existing proposals: %w", err)
		}
		existingByExternalID := make(map[string]uuid.UUID, len(existing))
		for _, p := range existing {
			existingByExternalID[p.ExternalID] = p.ID
		}

		for _, rec := range records {
			if rec.PartialUpdate {
				res := tx.Model(&store.Proposal{}).
					Where("governor_id = ? AND external_id = ?", governor.ID, rec.ExternalID).
					Update("state", rec.State)
				if res.Error != nil {
					return fmt.Errorf("persist: update proposal state: %w", res.Error)
				}
				continue
			}

			_, isUpdate := existingByExternalID[rec.ExternalID]

			row := store.Proposal{
				ID:             uuid.New(),
				GovernorID:     governor.ID,
				DAOID:          governor.DAOID,
				ExternalID:     rec.ExternalID,
				AuthorAddress:  rec.AuthorAddress,
				Name:           rec.Name,
				Body:           rec.Body,
				URL:            rec.URL,
				DiscussionURL:  rec.DiscussionURL,
				Choices:        store.JSONStrings(rec.Choices),
				Scores:         store.JSONFloats(rec.Scores),
				ScoresTotal:    rec.ScoresTotal,
				Quorum:         rec.Quorum,
				ScoresQuorum:   rec.ScoresQuorum,
				State:          rec.State,
				CreatedAt:      rec.CreatedAt,
				StartAt:        rec.StartAt,
				EndAt:          rec.EndAt,
				BlockCreatedAt: rec.BlockCreatedAt,
				TxID:           rec.TxID,
				Metadata:       store.JSONMap(rec.Metadata),
				MarkedSpam:     rec.MarkedSpam,
			}
			if id, ok := existingByExternalID[rec.ExternalID]; ok {
				row.ID = id
			}

			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "governor_id"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"author_address", "name", "body", "url", "discussion_url",
					"choices", "scores", "scores_total", "quorum", "scores_quorum",
					"state", "start_at", "end_at", "block_created_at", "tx_id",
					"metadata", "updated_at",
				}),
			}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("persist: upsert proposal %s: %w", rec.ExternalID, res.Error)
			}

			if !isUpdate && governor.Variant == store.VariantSnapshot && rec.DiscussionURL != nil {
				job := store.JobQueue{
					ID:     uuid.New(),
					Type:   store.JobTypeProposalFollowup,
					Status: store.JobPending,
					Payload: store.JSONMap{
						"proposal_id": row.ID.String(),
					},
				}
				if err := tx.Create(&job).Error; err != nil {
					return fmt.Errorf("persist: enqueue proposal follow-up: %w", err)
				}
			}
		}
		return nil
	})
}

package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"governanceagg/adapters"
	"governanceagg/store"
)

const voteUpsertChunkSize = 1000

// StoreVotes binds and upserts a window's worth of decoded votes for the
// given vote-indexing governor. Votes bind against proposals indexed under
// adapters.ProposalIndexerVariantFor(governor.Variant) rather than the vote
// adapter's own variant, so a governor whose votes are indexed separately
// from its proposals (e.g. a cross-chain polling mirror) still resolves
// correctly. If any vote names a proposal external_id this DAO has never
// recorded for that variant, the whole batch is aborted: ErrMissingProposals
// wraps the offending external_ids so the caller can retry once the
// proposal backfill catches up.
func (s *Store) StoreVotes(ctx context.Context, governor *store.Governor, records []adapters.VoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	proposalVariant := adapters.ProposalIndexerVariantFor(governor.Variant)

	externalIDs := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.ProposalExternalID] {
			continue
		}
		seen[rec.ProposalExternalID] = true
		externalIDs = append(externalIDs, rec.ProposalExternalID)
	}

	var matches []store.Proposal
	if err := s.DB.WithContext(ctx).
		Joins("JOIN governors ON governors.id = proposals.governor_id").
		Where("governors.dao_id = ? AND governors.variant = ? AND proposals.external_id IN ?", governor.DAOID, proposalVariant, externalIDs).
		Find(&matches).Error; err != nil {
		return fmt.Errorf("persist: load bound proposals: %w", err)
	}

	proposalByExternalID := make(map[string]uuid.UUID, len(matches))
	for _, p := range matches {
		proposalByExternalID[p.ExternalID] = p.ID
	}

	if missing := missingProposalIDs(externalIDs, proposalByExternalID); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingProposals, missing)
	}

	tallyProposals := make(map[uuid.UUID]bool)
	incoming := make([]store.Vote, 0, len(records))
	for _, rec := range records {
		proposalID := proposalByExternalID[rec.ProposalExternalID]
		if rec.TallyScores {
			tallyProposals[proposalID] = true
		}
		choiceJSON, err := json.Marshal(rec.Choice)
		if err != nil {
			return fmt.Errorf("persist: marshal choice for %s: %w", rec.ProposalExternalID, err)
		}
		incoming = append(incoming, store.Vote{
			ID:                 uuid.New(),
			GovernorID:         governor.ID,
			DAOID:              governor.DAOID,
			ProposalExternalID: rec.ProposalExternalID,
			ProposalID:         &proposalID,
			VoterAddress:       rec.VoterAddress,
			Choice:             store.JSONRaw(choiceJSON),
			VotingPower:        rec.VotingPower,
			Reason:             rec.Reason,
			CreatedAt:          rec.CreatedAt,
			BlockCreatedAt:     rec.BlockCreatedAt,
			TxID:               rec.TxID,
		})
	}

	rows := dedupeNewestVotes(incoming)

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Newest created_at wins, enforced here at call time rather than in
		// the upsert SQL: the stored rows for the batch's keys are read
		// first, and any incoming vote older than what is already stored is
		// dropped before the write.
		existing, err := loadExistingVoteTimes(tx, rows)
		if err != nil {
			return err
		}
		rows = dropStaleVotes(rows, existing)

		if err := upsertVoters(tx, rows); err != nil {
			return err
		}
		for start := 0; start < len(rows); start += voteUpsertChunkSize {
			end := start + voteUpsertChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]
			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "proposal_id"}, {Name: "voter_address"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"choice", "voting_power", "reason", "created_at", "block_created_at", "tx_id",
				}),
			}).Create(&chunk)
			if res.Error != nil {
				return fmt.Errorf("persist: upsert votes chunk: %w", res.Error)
			}
		}
		for proposalID := range tallyProposals {
			if err := recomputeTalliedScores(tx, proposalID); err != nil {
				return err
			}
		}
		return nil
	})
}

// voteKey is the conflict key a vote row is unique on.
func voteKey(v store.Vote) string {
	proposalID := ""
	if v.ProposalID != nil {
		proposalID = v.ProposalID.String()
	}
	return proposalID + "|" + v.VoterAddress
}

// missingProposalIDs returns the external ids in the batch that resolved to
// no known proposal, preserving batch order.
func missingProposalIDs(externalIDs []string, known map[string]uuid.UUID) []string {
	missing := make([]string, 0)
	for _, id := range externalIDs {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// dedupeNewestVotes collapses the batch to one vote per (proposal_id,
// voter_address), keeping the newest created_at, in deterministic order so
// repeated runs produce identical statements.
func dedupeNewestVotes(incoming []store.Vote) []store.Vote {
	byKey := make(map[string]store.Vote, len(incoming))
	for _, row := range incoming {
		key := voteKey(row)
		if existing, ok := byKey[key]; !ok || row.CreatedAt.After(existing.CreatedAt) {
			byKey[key] = row
		}
	}

	rows := make([]store.Vote, 0, len(byKey))
	for _, row := range byKey {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return voteKey(rows[i]) < voteKey(rows[j])
	})
	return rows
}

// dropStaleVotes removes incoming votes older than the row already stored
// for the same key, so a replayed or late-arriving window can never clobber
// a fresher vote.
func dropStaleVotes(rows []store.Vote, existing map[string]time.Time) []store.Vote {
	kept := rows[:0]
	for _, row := range rows {
		if storedAt, ok := existing[voteKey(row)]; ok && row.CreatedAt.Before(storedAt) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// loadExistingVoteTimes reads the created_at of every stored vote sharing a
// proposal with the batch, keyed the same way the conflict target is.
func loadExistingVoteTimes(tx *gorm.DB, rows []store.Vote) (map[string]time.Time, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	proposalIDs := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		if row.ProposalID == nil || seen[*row.ProposalID] {
			continue
		}
		seen[*row.ProposalID] = true
		proposalIDs = append(proposalIDs, *row.ProposalID)
	}

	var stored []store.Vote
	if err := tx.Select("proposal_id", "voter_address", "created_at").
		Where("proposal_id IN ?", proposalIDs).
		Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("persist: load existing votes: %w", err)
	}

	times := make(map[string]time.Time, len(stored))
	for _, v := range stored {
		times[voteKey(v)] = v.CreatedAt
	}
	return times, nil
}

// recomputeTalliedScores rebuilds a tallied proposal's per-option scores
// from its vote rows: each vote's voting power counts toward every option
// index in its choice list. Recomputing from scratch, instead of
// incrementing per inserted vote, keeps the update idempotent when a
// window is replayed.
func recomputeTalliedScores(tx *gorm.DB, proposalID uuid.UUID) error {
	var proposal store.Proposal
	if err := tx.First(&proposal, "id = ?", proposalID).Error; err != nil {
		return fmt.Errorf("persist: load tallied proposal: %w", err)
	}

	var votes []store.Vote
	if err := tx.Where("proposal_id = ?", proposalID).Find(&votes).Error; err != nil {
		return fmt.Errorf("persist: load votes for tally: %w", err)
	}

	scores := make([]float64, len(proposal.Choices))
	for _, v := range votes {
		var indices []int
		if err := json.Unmarshal([]byte(v.Choice), &indices); err != nil {
			continue
		}
		for _, idx := range indices {
			if idx >= 0 && idx < len(scores) {
				scores[idx] += v.VotingPower
			}
		}
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}

	return tx.Model(&store.Proposal{}).Where("id = ?", proposalID).
		Updates(map[string]interface{}{
			"scores":       store.JSONFloats(scores),
			"scores_total": total,
		}).Error
}

// upsertVoters ensures a Voter row exists for every distinct address in the
// batch, so Vote.VoterAddress always has a parent row to reference.
func upsertVoters(tx *gorm.DB, rows []store.Vote) error {
	seen := make(map[string]bool, len(rows))
	voters := make([]store.Voter, 0, len(rows))
	for _, v := range rows {
		if seen[v.VoterAddress] {
			continue
		}
		seen[v.VoterAddress] = true
		voters = append(voters, store.Voter{ID: uuid.New(), Address: v.VoterAddress})
	}
	if len(voters) == 0 {
		return nil
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&voters)
	if res.Error != nil {
		return fmt.Errorf("persist: upsert voters: %w", res.Error)
	}
	return nil
}

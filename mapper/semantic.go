package mapper

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"governanceagg/observability"
	"governanceagg/store"
)

// Candidate is one nearest-neighbor hit from the semantic search, carrying
// enough of the matched topic for a Reranker to judge it.
type Candidate struct {
	TopicID    uuid.UUID
	ExternalID string
	Title      string
	Distance   float64
}

// Reranker optionally re-scores the top-K semantic candidates before the
// threshold check, e.g. with a cross-encoder. The default NoOpReranker
// keeps the raw cosine distance.
type Reranker interface {
	Rerank(ctx context.Context, proposalName string, candidates []Candidate) ([]Candidate, error)
}

// NoOpReranker returns its candidates unchanged, already ordered by cosine
// distance from the pgvector query.
type NoOpReranker struct{}

// Rerank implements Reranker.
func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Candidate, error) {
	return candidates, nil
}

type neighborRow struct {
	TopicID    uuid.UUID `gorm:"column:entity_ref"`
	ExternalID string    `gorm:"column:external_id"`
	Title      string    `gorm:"column:title"`
	Distance   float64   `gorm:"column:distance"`
}

// MatchBySemantics is pass 3: for every proposal still without a group,
// query the DAO's topic embeddings for the K nearest neighbors by cosine
// distance, optionally rerank, and accept the top candidate once
// (1 - distance) clears the configured similarity threshold.
func (m *Mapper) MatchBySemantics(ctx context.Context, daoID uuid.UUID) (int, error) {
	var forum store.Forum
	if err := m.db.WithContext(ctx).Where("dao_id = ?", daoID).First(&forum).Error; err != nil {
		return 0, nil
	}

	var proposals []store.Proposal
	if err := m.db.WithContext(ctx).Where("dao_id = ?", daoID).Find(&proposals).Error; err != nil {
		return 0, fmt.Errorf("mapper: load proposals: %w", err)
	}

	matched := 0
	for _, p := range proposals {
		if existing, err := m.groupContaining(ctx, daoID, store.GroupItemProposal, p.ExternalID); err == nil && existing != nil {
			continue
		}

		var proposalEmbedding store.Embedding
		if err := m.db.WithContext(ctx).Where("entity_kind = ? AND entity_ref = ?", store.EntityProposal, p.ID).First(&proposalEmbedding).Error; err != nil {
			continue
		}

		var rows []neighborRow
		err := m.db.WithContext(ctx).Raw(`
			SELECT e.entity_ref AS entity_ref, t.external_id::text AS external_id, t.title AS title,
			       e.vector <=> ? AS distance
			FROM embeddings e
			JOIN topics t ON t.id = e.entity_ref
			WHERE e.entity_kind = ? AND t.forum_id = ?
			ORDER BY distance ASC
			LIMIT ?
		`, proposalEmbedding.Vector, store.EntityTopic, forum.ID, m.k).Scan(&rows).Error
		if err != nil {
			return matched, fmt.Errorf("mapper: nearest neighbors: %w", err)
		}

		candidates := make([]Candidate, len(rows))
		for i, r := range rows {
			candidates[i] = Candidate{TopicID: r.TopicID, ExternalID: r.ExternalID, Title: r.Title, Distance: r.Distance}
		}

		reranked, err := m.reranker.Rerank(ctx, p.Name, candidates)
		if err != nil {
			return matched, fmt.Errorf("mapper: rerank: %w", err)
		}
		if len(reranked) == 0 {
			continue
		}

		best := reranked[0]
		similarity := 1 - best.Distance
		observability.Mapper().RecordSemanticMatch(outcomeLabel(similarity, m.threshold), similarity)
		if similarity < m.threshold {
			continue
		}

		if err := m.attachGroup(ctx, daoID,
			store.GroupItem{Kind: store.GroupItemProposal, ExternalID: p.ExternalID, GovernorRef: &p.GovernorID, Name: p.Name},
			store.GroupItem{Kind: store.GroupItemTopic, ExternalID: best.ExternalID, ForumRef: &forum.ID, Name: best.Title},
		); err != nil {
			return matched, err
		}
		matched++
	}
	return matched, nil
}

func outcomeLabel(similarity, threshold float64) string {
	if similarity >= threshold {
		return "accepted"
	}
	return "rejected"
}

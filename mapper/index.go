package mapper

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"governanceagg/observability"
	"governanceagg/store"
)

// IndexEmbeddings is pass 2: embed every topic and proposal in the DAO whose
// content has changed since its last embedding (or has none yet). Topics are
// embedded from their title plus their first post's raw body; proposals
// from their name+body.
// Closed, archived, and invisible topics are skipped, and embeddings whose
// entity has since disappeared are pruned.
func (m *Mapper) IndexEmbeddings(ctx context.Context, daoID uuid.UUID) error {
	var forum store.Forum
	if err := m.db.WithContext(ctx).Where("dao_id = ?", daoID).First(&forum).Error; err == nil {
		var topics []store.Topic
		if err := m.db.WithContext(ctx).
			Where("forum_id = ? AND visible = ? AND closed = ? AND archived = ?", forum.ID, true, false, false).
			Find(&topics).Error; err != nil {
			return fmt.Errorf("mapper: load topics: %w", err)
		}

		firstPosts, err := m.loadFirstPosts(ctx, topics)
		if err != nil {
			return err
		}

		for _, topic := range topics {
			firstPost, ok := firstPosts[topic.ID]
			if !ok {
				continue
			}
			content := topic.Title + "\n" + firstPost.Raw
			if err := m.embedEntity(ctx, store.EntityTopic, topic.ID, fmt.Sprintf("%d", topic.ExternalID), content); err != nil {
				return err
			}
		}
	}

	var proposals []store.Proposal
	if err := m.db.WithContext(ctx).Where("dao_id = ?", daoID).Find(&proposals).Error; err != nil {
		return fmt.Errorf("mapper: load proposals: %w", err)
	}
	for _, p := range proposals {
		content := p.Name + "\n" + p.Body
		if err := m.embedEntity(ctx, store.EntityProposal, p.ID, p.ExternalID, content); err != nil {
			return err
		}
	}

	return m.pruneStaleEmbeddings(ctx)
}

// loadFirstPosts batch-loads the first post of every topic in one query,
// keyed by topic id.
func (m *Mapper) loadFirstPosts(ctx context.Context, topics []store.Topic) (map[uuid.UUID]store.Post, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(topics))
	for i, topic := range topics {
		ids[i] = topic.ID
	}

	var posts []store.Post
	if err := m.db.WithContext(ctx).
		Where("topic_id IN ? AND post_number = ?", ids, 1).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("mapper: load first posts: %w", err)
	}

	byTopic := make(map[uuid.UUID]store.Post, len(posts))
	for _, post := range posts {
		byTopic[post.TopicID] = post
	}
	return byTopic, nil
}

// pruneStaleEmbeddings deletes embedding rows whose topic or proposal no
// longer exists, so the nearest-neighbor search never surfaces an entity
// that has been removed upstream.
func (m *Mapper) pruneStaleEmbeddings(ctx context.Context) error {
	if err := m.db.WithContext(ctx).Exec(`
		DELETE FROM embeddings
		WHERE entity_kind = ? AND entity_ref NOT IN (SELECT id FROM topics)
	`, store.EntityTopic).Error; err != nil {
		return fmt.Errorf("mapper: prune stale topic embeddings: %w", err)
	}
	if err := m.db.WithContext(ctx).Exec(`
		DELETE FROM embeddings
		WHERE entity_kind = ? AND entity_ref NOT IN (SELECT id FROM proposals)
	`, store.EntityProposal).Error; err != nil {
		return fmt.Errorf("mapper: prune stale proposal embeddings: %w", err)
	}
	return nil
}

func (m *Mapper) embedEntity(ctx context.Context, kind store.EntityKind, entityRef uuid.UUID, externalID, content string) error {
	hash := contentHash(content)

	var existing store.Embedding
	err := m.db.WithContext(ctx).Where("entity_kind = ? AND entity_ref = ?", kind, entityRef).First(&existing).Error
	if err == nil && existing.ContentHash == hash && existing.ModelVersion == m.embedder.ModelVersion() {
		return nil
	}

	vector, err := m.embedder.Embed(ctx, content)
	observability.Mapper().RecordEmbed(string(kind), err)
	if err != nil {
		return fmt.Errorf("mapper: embed %s %s: %w", kind, externalID, err)
	}

	row := store.Embedding{
		ID:           uuid.New(),
		EntityKind:   kind,
		EntityRef:    entityRef,
		ExternalID:   externalID,
		Vector:       toVector(vector),
		ContentHash:  hash,
		ModelVersion: m.embedder.ModelVersion(),
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_kind"}, {Name: "entity_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "content_hash", "model_version", "updated_at"}),
	}).Create(&row).Error
}

package mapper

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"governanceagg/store"
)

// Mapper runs the three-pass grouping pipeline over one DAO: URL matching,
// embedding indexing, and semantic matching.
type Mapper struct {
	db        *gorm.DB
	embedder  Embedder
	reranker  Reranker
	k         int
	threshold float64
}

// Option configures a Mapper at construction time.
type Option func(*Mapper)

// WithReranker overrides the default no-op reranker.
func WithReranker(r Reranker) Option {
	return func(m *Mapper) { m.reranker = r }
}

// WithK overrides the default nearest-neighbor candidate count (<=20).
func WithK(k int) Option {
	return func(m *Mapper) {
		if k > 0 && k <= 20 {
			m.k = k
		}
	}
}

// New builds a Mapper bound to the given embedder and acceptance threshold.
func New(db *gorm.DB, embedder Embedder, threshold float64, opts ...Option) *Mapper {
	m := &Mapper{db: db, embedder: embedder, threshold: threshold, k: 20, reranker: NoOpReranker{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes all three passes for one DAO, in order: URL matching first
// (cheapest, most certain), then embedding any unindexed or changed content,
// then semantic matching on what URL matching left unresolved.
func (m *Mapper) Run(ctx context.Context, daoSlug string) error {
	var dao store.DAO
	if err := m.db.WithContext(ctx).Where("slug = ?", daoSlug).First(&dao).Error; err != nil {
		return fmt.Errorf("mapper: load dao %q: %w", daoSlug, err)
	}

	if _, err := m.MatchByURL(ctx, dao.ID); err != nil {
		return fmt.Errorf("mapper: url pass: %w", err)
	}
	if err := m.IndexEmbeddings(ctx, dao.ID); err != nil {
		return fmt.Errorf("mapper: embedding pass: %w", err)
	}
	if _, err := m.MatchBySemantics(ctx, dao.ID); err != nil {
		return fmt.Errorf("mapper: semantic pass: %w", err)
	}
	return nil
}

// Package store defines the relational schema for the governance data
// aggregation platform and the GORM models that back it.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// GovernorVariant identifies the kind of source a governor is, routing
// adapter dispatch and cross-source vote/proposal binding.
type GovernorVariant string

// Recognized governor variants. New on-chain governor families are added
// here as adapters are written for them; the set is closed by design so
// persistence can route votes to the proposal-indexer variant a vote
// adapter declares.
const (
	VariantArbitrumCore  GovernorVariant = "ARBITRUM_CORE"
	VariantOptimismCore  GovernorVariant = "OPTIMISM_CORE"
	VariantCompoundBravo GovernorVariant = "COMPOUND_BRAVO"
	VariantMakerPollMain GovernorVariant = "MAKER_POLL_MAINNET"
	VariantMakerPollArb  GovernorVariant = "MAKER_POLL_ARBITRUM"
	VariantSnapshot      GovernorVariant = "SNAPSHOT"
)

// ProposalState enumerates the lifecycle states a proposal may be in.
type ProposalState string

// All recognized proposal states.
const (
	ProposalPending   ProposalState = "pending"
	ProposalActive    ProposalState = "active"
	ProposalCanceled  ProposalState = "canceled"
	ProposalDefeated  ProposalState = "defeated"
	ProposalSucceeded ProposalState = "succeeded"
	ProposalQueued    ProposalState = "queued"
	ProposalExpired   ProposalState = "expired"
	ProposalExecuted  ProposalState = "executed"
	ProposalHidden    ProposalState = "hidden"
	ProposalUnknown   ProposalState = "unknown"
)

// JobStatus enumerates the lifecycle of a queued background job.
type JobStatus string

// All recognized job statuses.
const (
	JobPending   JobStatus = "pending"
	JobProcessed JobStatus = "processed"
	JobFailed    JobStatus = "failed"
)

// EntityKind discriminates what an Embedding row is attached to.
type EntityKind string

// Recognized embedding entity kinds.
const (
	EntityTopic    EntityKind = "topic"
	EntityProposal EntityKind = "proposal"
)

// DAO is a governance community. Immutable after seed aside from its hot
// flag and picture, which an operator may refresh.
type DAO struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Slug      string    `gorm:"size:128;uniqueIndex"`
	Name      string    `gorm:"size:255"`
	Hot       bool      `gorm:"index"`
	Picture   string    `gorm:"size:512"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Governors []Governor
	Forum     *Forum
}

// Forum is the single Discourse instance, if any, a DAO's proposals are
// discussed on.
type Forum struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DAOID        uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	BaseURL      string    `gorm:"size:512"`
	Name         string    `gorm:"size:255"`
	CategorySlug string    `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Governor is a single proposal source within a DAO: an on-chain contract
// on a named chain, or a Snapshot space. The cursor and speed columns are
// mutated only by the scheduler, after a successful or failed window.
type Governor struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	DAOID     uuid.UUID       `gorm:"type:uuid;index"`
	Variant   GovernorVariant `gorm:"size:32;index"`
	Chain     string          `gorm:"size:32;index"`
	Address   string          `gorm:"size:64;index"`
	PortalURL string          `gorm:"size:512"`
	Enabled   bool            `gorm:"index"`

	Cursor   int64  `gorm:"not null;default:0"`
	Speed    uint64 `gorm:"not null;default:1"`
	MinSpeed uint64 `gorm:"not null;default:1"`
	MaxSpeed uint64 `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Proposal is a single governance proposal, normalized from whichever
// governor variant emitted it.
type Proposal struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey"`
	GovernorID     uuid.UUID     `gorm:"type:uuid;index:idx_proposal_governor_external,unique"`
	DAOID          uuid.UUID     `gorm:"type:uuid;index"`
	ExternalID     string        `gorm:"size:128;index:idx_proposal_governor_external,unique"`
	AuthorAddress  *string       `gorm:"size:64"`
	Name           string        `gorm:"size:512"`
	Body           string        `gorm:"type:text"`
	URL            string        `gorm:"size:1024"`
	DiscussionURL  *string       `gorm:"size:1024"`
	Choices        JSONStrings   `gorm:"type:jsonb"`
	Scores         JSONFloats    `gorm:"type:jsonb"`
	ScoresTotal    float64       `gorm:"not null;default:0"`
	Quorum         float64       `gorm:"not null;default:0"`
	ScoresQuorum   float64       `gorm:"not null;default:0"`
	State          ProposalState `gorm:"size:16;index"`
	CreatedAt      time.Time
	StartAt        time.Time
	EndAt          time.Time
	BlockCreatedAt *uint64 `gorm:"index"`
	TxID           *string `gorm:"size:128"`
	Metadata       JSONMap `gorm:"type:jsonb"`
	MarkedSpam     *bool
	UpdatedAt      time.Time
}

// Voter is a unique on-chain or off-chain address participating in votes.
type Voter struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Address   string    `gorm:"size:64;uniqueIndex"`
	ENSName   *string   `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vote is a single ballot cast by a voter on a proposal. ProposalID is
// filled by persistence at bind time and may reference a proposal indexed
// by a different governor than the one that emitted this vote.
type Vote struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	GovernorID         uuid.UUID  `gorm:"type:uuid;index"`
	DAOID              uuid.UUID  `gorm:"type:uuid;index"`
	ProposalExternalID string     `gorm:"size:128;index"`
	ProposalID         *uuid.UUID `gorm:"type:uuid;index:idx_vote_proposal_voter,unique"`
	VoterAddress       string     `gorm:"size:64;index:idx_vote_proposal_voter,unique"`
	Choice             JSONRaw    `gorm:"type:jsonb"`
	VotingPower        float64    `gorm:"not null;default:0"`
	Reason             *string    `gorm:"type:text"`
	CreatedAt          time.Time
	BlockCreatedAt     *uint64 `gorm:"index"`
	TxID               *string `gorm:"size:128"`
}

// VotingPower is an append-only time series sample of a voter's power.
type VotingPower struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	VoterID   uuid.UUID `gorm:"type:uuid;index"`
	Timestamp time.Time `gorm:"index"`
	Block     uint64
	Power     float64
	CreatedAt time.Time
}

// Delegation is an append-only time series sample of a delegation edge.
type Delegation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DelegatorID uuid.UUID `gorm:"type:uuid;index"`
	DelegateeID uuid.UUID `gorm:"type:uuid;index"`
	Timestamp   time.Time `gorm:"index"`
	Block       uint64
	CreatedAt   time.Time
}

// Topic is a forum discussion thread, the anchor of a ProposalGroup.
type Topic struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ForumID      uuid.UUID `gorm:"type:uuid;index:idx_topic_forum_external,unique"`
	ExternalID   int64     `gorm:"index:idx_topic_forum_external,unique"`
	Title        string    `gorm:"size:512"`
	Slug         string    `gorm:"size:512"`
	CategoryID   int64     `gorm:"index"`
	PostsCount   int
	ViewsCount   int
	LikesCount   int
	ReplyCount   int
	CreatedAt    time.Time
	LastPostedAt time.Time
	BumpedAt     time.Time
	Pinned       bool
	Visible      bool `gorm:"default:true"`
	Closed       bool
	Archived     bool
	UpdatedAt    time.Time
}

// Post is a single message within a Topic. A post that Discourse reports as
// deleted, or whose raw body is the literal author-deletion marker, is
// flagged Deleted with its cooked HTML cleared.
type Post struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ForumID     uuid.UUID `gorm:"type:uuid;index:idx_post_forum_external,unique"`
	ExternalID  int64     `gorm:"index:idx_post_forum_external,unique"`
	TopicID     uuid.UUID `gorm:"type:uuid;index"`
	PostNumber  int
	AuthorID    uuid.UUID `gorm:"type:uuid;index"`
	Cooked      *string   `gorm:"type:text"`
	Raw         string    `gorm:"type:text"`
	EditCount   int
	Deleted     bool
	CanViewEdit bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PostDeletedMarker is the literal raw-body text Discourse substitutes for
// an author-deleted post.
const PostDeletedMarker = "post deleted by author"

// Revision is a single historical version of a Post's content.
type Revision struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PostID    uuid.UUID `gorm:"type:uuid;index:idx_revision_post_version,unique"`
	Version   int       `gorm:"index:idx_revision_post_version,unique"`
	Body      string    `gorm:"type:text"`
	EditedAt  time.Time
	EditorID  *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time
}

// Like records that a Discourse user liked a Post. Discovery is idempotent;
// only new likers are inserted.
type Like struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PostID    uuid.UUID `gorm:"type:uuid;index:idx_like_post_user,unique"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_like_post_user,unique"`
	CreatedAt time.Time
}

// ProposalGroup bundles exactly one forum topic (the anchor) with zero or
// more governance proposals discussing the same subject, all within one
// DAO.
type ProposalGroup struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	DAOID     uuid.UUID     `gorm:"type:uuid;index"`
	Items     GroupItemList `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupItemKind discriminates a ProposalGroup item.
type GroupItemKind string

// Recognized group item kinds.
const (
	GroupItemTopic    GroupItemKind = "topic"
	GroupItemProposal GroupItemKind = "proposal"
)

// GroupItem is one entry of a ProposalGroup's heterogeneous item list.
type GroupItem struct {
	Kind        GroupItemKind `json:"kind"`
	ExternalID  string        `json:"external_id"`
	ForumRef    *uuid.UUID    `json:"forum_ref,omitempty"`
	GovernorRef *uuid.UUID    `json:"governor_ref,omitempty"`
	Name        string        `json:"name,omitempty"`
}

// Embedding stores a fixed-dimension vector embedding for a topic or
// proposal, keyed by (entity_kind, entity_ref), alongside the content hash
// it was computed from so unchanged entities can skip re-embedding.
type Embedding struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	EntityKind   EntityKind      `gorm:"size:16;index:idx_embedding_entity,unique"`
	EntityRef    uuid.UUID       `gorm:"type:uuid;index:idx_embedding_entity,unique"`
	ExternalID   string          `gorm:"size:128"`
	Vector       pgvector.Vector `gorm:"type:vector(1024)"`
	ContentHash  string          `gorm:"size:64"`
	ModelVersion string          `gorm:"size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmbeddingDimension is the fixed vector width every Embedding row carries.
const EmbeddingDimension = 1024

// JobQueue is a FIFO-within-type task queue for deferred work such as
// "fetch the discussion for this proposal".
type JobQueue struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type      string    `gorm:"size:64;index"`
	Payload   JSONMap   `gorm:"type:jsonb"`
	Status    JobStatus `gorm:"size:16;index"`
	CreatedAt time.Time `gorm:"index"`
}

// Recognized job types.
const (
	JobTypeDiscussionFetch  = "discussion"
	JobTypeProposalFollowup = "proposal_followup"
)

// AutoMigrate creates the pgvector extension if it is missing (the
// Embedding table's column type depends on it), then registers every model
// with GORM's migrator.
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return err
	}
	return db.AutoMigrate(
		&DAO{},
		&Forum{},
		&Governor{},
		&Proposal{},
		&Voter{},
		&Vote{},
		&VotingPower{},
		&Delegation{},
		&Topic{},
		&Post{},
		&Revision{},
		&Like{},
		&ProposalGroup{},
		&Embedding{},
		&JobQueue{},
	)
}

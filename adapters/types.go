// Package adapters defines the canonical records and capability interfaces
// every source adapter (on-chain governor, Snapshot, Discourse) implements,
// plus the variant routing table used to bind a vote to the proposal it
// refers to when the vote and the proposal were indexed by different
// governors.
package adapters

import (
	"context"
	"time"

	"governanceagg/store"
)

// ProposalRecord is the canonical, source-agnostic shape an adapter emits
// for a single proposal. Persistence maps it onto a store.Proposal.
type ProposalRecord struct {
	ExternalID     string
	AuthorAddress  *string
	Name           string
	Body           string
	URL            string
	DiscussionURL  *string
	Choices        []string
	Scores         []float64
	ScoresTotal    float64
	Quorum         float64
	ScoresQuorum   float64
	State          store.ProposalState
	CreatedAt      time.Time
	StartAt        time.Time
	EndAt          time.Time
	BlockCreatedAt *uint64
	TxID           *string
	Metadata       map[string]interface{}
	MarkedSpam     *bool

	// PartialUpdate, when true, means only the fields the adapter actually
	// populated should overwrite the stored row (a state-transition event
	// like ProposalExecuted/ProposalQueued/ProposalCanceled/ProposalExtended
	// carries just the changed columns).
	PartialUpdate bool
}

// VoteRecord is the canonical shape an adapter emits for a single vote.
// Choice carries one of the tagged encodings described by the choice
// decoder in adapters/choice.go.
type VoteRecord struct {
	ProposalExternalID string
	VoterAddress       string
	Choice             ChoiceValue
	VotingPower        float64
	Reason             *string
	CreatedAt          time.Time
	BlockCreatedAt     *uint64
	TxID               *string

	// TallyScores marks votes whose proposal keeps running per-option
	// scores derived from the votes themselves (the approval voting
	// module). Persistence recomputes the proposal's scores in the same
	// transaction as the vote upsert.
	TallyScores bool
}

// WindowResult is what a single adapter invocation returns: the records it
// decoded and the cursor persistence should advance to once they commit.
type WindowResult struct {
	Proposals       []ProposalRecord
	Votes           []VoteRecord
	SuggestedCursor int64
}

// ProposalIndexer is implemented by adapters that can discover new or
// updated proposals.
type ProposalIndexer interface {
	ProcessProposals(ctx context.Context, governor *store.Governor, dao *store.DAO) (WindowResult, error)
}

// VotesIndexer is implemented by adapters that can discover new votes. The
// optional ad-hoc refresh method is exposed via ProposalVotesRefresher.
type VotesIndexer interface {
	ProcessVotes(ctx context.Context, governor *store.Governor) (WindowResult, error)
}

// ProposalVotesRefresher is an optional capability of a VotesIndexer: an
// ad-hoc refetch of votes for a single already-known proposal (used by the
// Snapshot shutter-reveal sweeper).
type ProposalVotesRefresher interface {
	ProcessProposalVotes(ctx context.Context, governor *store.Governor, proposal *store.Proposal) ([]VoteRecord, error)
}

// ProposalsAndVotesIndexer is implemented by adapters whose source returns
// proposals and votes co-located in the same window (e.g. council
// elections).
type ProposalsAndVotesIndexer interface {
	ProposalIndexer
	VotesIndexer
}

// Descriptor is the static metadata every adapter declares about itself,
// independent of any one governor row.
type Descriptor struct {
	VariantTag      store.GovernorVariant
	MinRefreshSpeed uint64
	MaxRefreshSpeed uint64
	Timeout         time.Duration

	// ProposalIndexerVariant identifies, for a VotesIndexer, which
	// proposal-indexer variant a fetched vote's ProposalExternalID should
	// be bound against. Unset (empty string) means "same variant as this
	// adapter" — the common case.
	ProposalIndexerVariant store.GovernorVariant
}

// DefaultTimeout is the hard per-window timeout an adapter runs under
// absent a more specific Descriptor.Timeout.
const DefaultTimeout = 5 * time.Minute

// proposalIndexerVariants routes a vote adapter's variant tag to the
// governor variant whose proposals its votes bind against. Entries absent
// from this table bind to their own variant (the adapter indexes both
// proposals and votes for the same governor kind).
var proposalIndexerVariants = map[store.GovernorVariant]store.GovernorVariant{
	store.VariantMakerPollArb: store.VariantMakerPollMain,
}

// ProposalIndexerVariantFor returns the governor variant a vote adapter's
// votes should be bound against: either an explicit routing-table entry (a
// vote adapter indexing one chain's polling mirror of another chain's
// proposals) or the adapter's own variant.
func ProposalIndexerVariantFor(voteVariant store.GovernorVariant) store.GovernorVariant {
	if target, ok := proposalIndexerVariants[voteVariant]; ok {
		return target
	}
	return voteVariant
}
